package editor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	kpool "github.com/teamtally/tally/pkg/conn/db/postgres/pool"
	"github.com/teamtally/tally/pkg/domain"
	domerr "github.com/teamtally/tally/pkg/domain/errors"
	pgerrors "github.com/teamtally/tally/pkg/domain/errors/dberrors/postgres"
)

type RequestType string

const (
	RequestCreate RequestType = "create"
	RequestUpdate RequestType = "update"
	RequestDelete RequestType = "delete"
	RequestBatch  RequestType = "batch"
)

// Request is a client mutation. Exactly one of the payload fields is set,
// matching Type.
type Request struct {
	Type   RequestType
	Create *CreateRequest
	Update *UpdateRequest
	Delete *DeleteRequest
	Batch  []Request
}

type CreateRequest struct {
	StudentID string          `json:"student_id"`
	Kind      domain.HourType `json:"kind"`
	SignIn    time.Time       `json:"sign_in"`
	SignOut   *time.Time      `json:"sign_out"`
}

type UpdateRequest struct {
	ID      string        `json:"id"`
	Updates []ValueUpdate `json:"updates"`
}

// ValueUpdate is one field assignment. Value stays raw until execution;
// its shape depends on Key ("kind": hour type, "start": timestamp,
// "end": timestamp or null).
type ValueUpdate struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type DeleteRequest struct {
	ID string `json:"id"`
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var head struct {
		Type RequestType     `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	*r = Request{Type: head.Type}
	switch head.Type {
	case RequestCreate:
		r.Create = &CreateRequest{}
		return json.Unmarshal(head.Data, r.Create)
	case RequestUpdate:
		r.Update = &UpdateRequest{}
		return json.Unmarshal(head.Data, r.Update)
	case RequestDelete:
		r.Delete = &DeleteRequest{}
		return json.Unmarshal(head.Data, r.Delete)
	case RequestBatch:
		return json.Unmarshal(head.Data, &r.Batch)
	default:
		return domerr.WithCategory(
			domerr.CategoryData, fmt.Errorf("unknown mutation type: %q", head.Type),
		)
	}
}

// Flatten expands nested batches into a flat list of single mutations,
// in order.
func Flatten(req Request) []Request {
	if req.Type != RequestBatch {
		return []Request{req}
	}
	flat := []Request{}
	for _, sub := range req.Batch {
		flat = append(flat, Flatten(sub)...)
	}
	return flat
}

// mutator turns requests into SQL. It never touches the projection; the
// resulting changes come back through the change feed like everyone
// else's.
type mutator struct {
	db  kpool.Pool
	loc *time.Location

	// overridable for tests.
	newID func() string
}

func newMutator(db kpool.Pool, loc *time.Location) *mutator {
	return &mutator{
		db:  db,
		loc: loc,
		newID: func() string {
			return strings.ToLower(ulid.Make().String())
		},
	}
}

// Execute runs the request. A batch runs in one transaction: all of its
// leaves land or none do. Errors come back categorized.
func (m *mutator) Execute(ctx context.Context, req Request) error {
	if req.Type != RequestBatch {
		return m.execOne(ctx, m.db, req)
	}

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return pgerrors.Categorize(fmt.Errorf("begin batch: %w", err))
	}
	defer tx.Rollback(ctx)

	for _, sub := range Flatten(req) {
		if err := m.execOne(ctx, tx, sub); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return pgerrors.Categorize(fmt.Errorf("commit batch: %w", err))
	}
	return nil
}

func (m *mutator) execOne(ctx context.Context, q kpool.Queryer, req Request) error {
	switch req.Type {
	case RequestCreate:
		return m.execCreate(ctx, q, *req.Create)
	case RequestUpdate:
		return m.execUpdate(ctx, q, *req.Update)
	case RequestDelete:
		return m.execDelete(ctx, q, *req.Delete)
	default:
		return domerr.WithCategory(
			domerr.CategoryData, fmt.Errorf("mutation type %q is not executable", req.Type),
		)
	}
}

func (m *mutator) execCreate(ctx context.Context, q kpool.Queryer, req CreateRequest) error {
	if err := m.checkSpan(req.SignIn, req.SignOut); err != nil {
		return err
	}
	_, err := q.Exec(
		ctx,
		`
		insert into "records" ("id", "student_id", "hour_type", "sign_in", "sign_out", "in_progress")
		values ($1, $2, $3, $4, $5, $6)
		`,
		m.newID(), req.StudentID, req.Kind, req.SignIn, req.SignOut, req.SignOut == nil,
	)
	return pgerrors.Categorize(err)
}

func (m *mutator) execUpdate(ctx context.Context, q kpool.Queryer, req UpdateRequest) error {
	sets := []string{}
	args := []interface{}{req.ID}

	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf(`%q = $%d`, column, len(args)))
	}

	for _, u := range req.Updates {
		switch u.Key {
		case "kind":
			var kind domain.HourType
			if err := json.Unmarshal(u.Value, &kind); err != nil {
				return domerr.WithCategory(domerr.CategoryData, err)
			}
			set("hour_type", kind)
		case "start":
			var start time.Time
			if err := json.Unmarshal(u.Value, &start); err != nil {
				return domerr.WithCategory(domerr.CategoryData, err)
			}
			set("sign_in", start)
		case "end":
			var end *time.Time
			if err := json.Unmarshal(u.Value, &end); err != nil {
				return domerr.WithCategory(domerr.CategoryData, err)
			}
			set("sign_out", end)
			set("in_progress", end == nil)
		default:
			return domerr.WithCategory(
				domerr.CategoryData, fmt.Errorf("unknown entry field: %q", u.Key),
			)
		}
	}
	if len(sets) == 0 {
		return nil
	}

	tag, err := q.Exec(
		ctx,
		fmt.Sprintf(
			`update "records" set %s where "id" = $1`,
			strings.Join(sets, ", "),
		),
		args...,
	)
	if err != nil {
		return pgerrors.Categorize(err)
	}
	if tag.RowsAffected() == 0 {
		return domerr.WithCategory(
			domerr.CategoryConstraint,
			fmt.Errorf("record %s: %w", req.ID, domerr.ErrMissing),
		)
	}
	return nil
}

func (m *mutator) execDelete(ctx context.Context, q kpool.Queryer, req DeleteRequest) error {
	_, err := q.Exec(ctx, `delete from "records" where "id" = $1`, req.ID)
	return pgerrors.Categorize(err)
}

// checkSpan rejects sign outs before the sign in or on a different local
// day before the database ever sees them.
func (m *mutator) checkSpan(signIn time.Time, signOut *time.Time) error {
	if signOut == nil {
		return nil
	}
	if signOut.Before(signIn) {
		return domerr.WithCategory(
			domerr.CategoryTimeOrder, fmt.Errorf("sign out precedes sign in"),
		)
	}
	if domain.DateOf(signIn, m.loc) != domain.DateOf(*signOut, m.loc) {
		return domerr.WithCategory(
			domerr.CategoryTimeOrder, fmt.Errorf("sign out is not on the sign in's day"),
		)
	}
	return nil
}
