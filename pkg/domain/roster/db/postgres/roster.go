package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"

	kpool "github.com/teamtally/tally/pkg/conn/db/postgres/pool"
	"github.com/teamtally/tally/pkg/domain"
	domerr "github.com/teamtally/tally/pkg/domain/errors"
	pgerrors "github.com/teamtally/tally/pkg/domain/errors/dberrors/postgres"
	"github.com/teamtally/tally/pkg/domain/roster/db"
)

// bounceWindow: a second swipe this soon after signing in is a card
// bounce, not a two-minute visit.
const bounceWindow = 3 * time.Minute

var ErrBounce = domerr.WithCategory(
	domerr.CategoryTimeOrder,
	fmt.Errorf("swiped again within %s; pass force to sign out anyway", bounceWindow),
)

var ErrUnknownBadge = domerr.WithCategory(
	domerr.CategoryConstraint, fmt.Errorf("badge: %w", domerr.ErrMissing),
)

type rosterPG struct {
	pool kpool.Pool
	loc  *time.Location

	// overridable for tests.
	now   func() time.Time
	newID func() string
}

func New(pool kpool.Pool, loc *time.Location) db.Interface {
	if loc == nil {
		loc = time.Local
	}
	return &rosterPG{
		pool: pool,
		loc:  loc,
		now:  time.Now,
		newID: func() string {
			return strings.ToLower(ulid.Make().String())
		},
	}
}

func (r *rosterPG) Students(ctx context.Context) ([]domain.Student, error) {
	rows, err := r.pool.Query(
		ctx,
		`
		select "id", "hashed", "first_name", "last_name"
		from "students" order by "last_name", "first_name"
		`,
	)
	if err != nil {
		return nil, pgerrors.Categorize(err)
	}
	defer rows.Close()

	students := []domain.Student{}
	for rows.Next() {
		var st domain.Student
		if err := rows.Scan(&st.ID, &st.Hashed, &st.First, &st.Last); err != nil {
			return nil, pgerrors.Categorize(err)
		}
		students = append(students, st)
	}
	return students, pgerrors.Categorize(rows.Err())
}

func (r *rosterPG) UpsertStudent(ctx context.Context, student domain.Student) error {
	if student.ID == "" {
		student.ID = r.newID()
	}
	_, err := r.pool.Exec(
		ctx,
		`
		insert into "students" ("id", "hashed", "first_name", "last_name")
		values ($1, $2, $3, $4)
		on conflict ("hashed") do update
			set "first_name" = excluded."first_name",
			    "last_name" = excluded."last_name"
		`,
		student.ID, student.Hashed, student.First, student.Last,
	)
	return pgerrors.Categorize(err)
}

func (r *rosterPG) DeleteStudent(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `delete from "students" where "id" = $1`, id)
	if err != nil {
		return pgerrors.Categorize(err)
	}
	if tag.RowsAffected() == 0 {
		return domerr.WithCategory(
			domerr.CategoryConstraint, fmt.Errorf("student %s: %w", id, domerr.ErrMissing),
		)
	}
	return nil
}

func (r *rosterPG) Records(ctx context.Context, studentID string) ([]domain.Record, error) {
	rows, err := r.pool.Query(
		ctx,
		`
		select "id", "student_id", "hour_type", "sign_in", "sign_out", "in_progress"
		from "records" where "student_id" = $1 order by "sign_in" desc
		`,
		studentID,
	)
	if err != nil {
		return nil, pgerrors.Categorize(err)
	}
	defer rows.Close()

	records := []domain.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, pgerrors.Categorize(err)
		}
		records = append(records, rec)
	}
	return records, pgerrors.Categorize(rows.Err())
}

func (r *rosterPG) CreateRecord(ctx context.Context, rec db.NewRecord) (string, error) {
	if err := r.checkSpan(rec.SignIn, rec.SignOut); err != nil {
		return "", err
	}
	id := r.newID()
	_, err := r.pool.Exec(
		ctx,
		`
		insert into "records" ("id", "student_id", "hour_type", "sign_in", "sign_out", "in_progress")
		values ($1, $2, $3, $4, $5, $6)
		`,
		id, rec.StudentID, rec.Kind, rec.SignIn, rec.SignOut, rec.SignOut == nil,
	)
	if err != nil {
		return "", pgerrors.Categorize(err)
	}
	return id, nil
}

// UpdateRecord reads, merges and writes back in one transaction so the
// same-day check sees the record as it will be, not as it was.
func (r *rosterPG) UpdateRecord(ctx context.Context, id string, change db.RecordChange) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return pgerrors.Categorize(err)
	}
	defer tx.Rollback(ctx)

	rec, err := getRecord(ctx, tx, id, true)
	if err != nil {
		return err
	}

	if change.Kind != nil {
		rec.Kind = *change.Kind
	}
	if change.SignIn != nil {
		rec.SignIn = *change.SignIn
	}
	if change.ClearSignOut {
		rec.SignOut = nil
	} else if change.SignOut != nil {
		rec.SignOut = change.SignOut
	}
	rec.InProgress = rec.SignOut == nil

	if err := r.checkSpan(rec.SignIn, rec.SignOut); err != nil {
		return err
	}

	if _, err := tx.Exec(
		ctx,
		`
		update "records"
		set "hour_type" = $2, "sign_in" = $3, "sign_out" = $4, "in_progress" = $5
		where "id" = $1
		`,
		rec.ID, rec.Kind, rec.SignIn, rec.SignOut, rec.InProgress,
	); err != nil {
		return pgerrors.Categorize(err)
	}
	return pgerrors.Categorize(tx.Commit(ctx))
}

func (r *rosterPG) DeleteRecord(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `delete from "records" where "id" = $1`, id)
	if err != nil {
		return pgerrors.Categorize(err)
	}
	if tag.RowsAffected() == 0 {
		return domerr.WithCategory(
			domerr.CategoryConstraint, fmt.Errorf("record %s: %w", id, domerr.ErrMissing),
		)
	}
	return nil
}

func (r *rosterPG) Swipe(ctx context.Context, spec db.SwipeSpec) (db.SwipeResult, error) {
	now := r.now()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return db.SwipeResult{}, pgerrors.Categorize(err)
	}
	defer tx.Rollback(ctx)

	var student domain.Student
	if err := tx.QueryRow(
		ctx,
		`select "id", "hashed", "first_name", "last_name" from "students" where "hashed" = $1`,
		spec.Hashed,
	).Scan(&student.ID, &student.Hashed, &student.First, &student.Last); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.SwipeResult{}, ErrUnknownBadge
		}
		return db.SwipeResult{}, pgerrors.Categorize(err)
	}

	open, err := openRecordToday(ctx, tx, spec.Hashed, now, r.loc)
	if err != nil {
		return db.SwipeResult{}, err
	}

	if open != nil {
		if now.Sub(open.SignIn) < bounceWindow && !spec.Force {
			return db.SwipeResult{}, ErrBounce
		}
		if _, err := tx.Exec(
			ctx,
			`update "records" set "sign_out" = $2, "in_progress" = false where "id" = $1`,
			open.ID, now,
		); err != nil {
			return db.SwipeResult{}, pgerrors.Categorize(err)
		}
		if err := tx.Commit(ctx); err != nil {
			return db.SwipeResult{}, pgerrors.Categorize(err)
		}
		open.SignOut = &now
		open.InProgress = false
		return db.SwipeResult{Action: db.SwipedOut, Student: student, Record: *open}, nil
	}

	if !spec.Kind.Allowed(now.In(r.loc)) {
		return db.SwipeResult{}, domerr.WithCategory(
			domerr.CategoryData,
			fmt.Errorf("%s hours cannot be logged %s", spec.Kind, spec.Kind.InvalidWhen()),
		)
	}

	rec := domain.Record{
		ID:         r.newID(),
		StudentID:  spec.Hashed,
		Kind:       spec.Kind,
		SignIn:     now,
		InProgress: true,
	}
	if _, err := tx.Exec(
		ctx,
		`
		insert into "records" ("id", "student_id", "hour_type", "sign_in", "sign_out", "in_progress")
		values ($1, $2, $3, $4, null, true)
		`,
		rec.ID, rec.StudentID, rec.Kind, rec.SignIn,
	); err != nil {
		return db.SwipeResult{}, pgerrors.Categorize(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return db.SwipeResult{}, pgerrors.Categorize(err)
	}
	return db.SwipeResult{Action: db.SwipedIn, Student: student, Record: rec}, nil
}

func (r *rosterPG) Present(ctx context.Context) ([]db.PresentRow, error) {
	rows, err := r.pool.Query(
		ctx,
		`
		select s."first_name", s."last_name", r."student_id", r."hour_type", r."sign_in"
		from "records" as r
		join "students" as s on s."hashed" = r."student_id"
		where r."in_progress"
		order by s."last_name", s."first_name"
		`,
	)
	if err != nil {
		return nil, pgerrors.Categorize(err)
	}
	defer rows.Close()

	today := domain.DateOf(r.now(), r.loc)
	present := []db.PresentRow{}
	for rows.Next() {
		var row db.PresentRow
		if err := rows.Scan(
			&row.First, &row.Last, &row.StudentID, &row.Kind, &row.SignIn,
		); err != nil {
			return nil, pgerrors.Categorize(err)
		}
		// open but stale records are forgotten sign outs, not presence.
		if domain.DateOf(row.SignIn, r.loc) != today {
			continue
		}
		present = append(present, row)
	}
	return present, pgerrors.Categorize(rows.Err())
}

func (r *rosterPG) Export(ctx context.Context, since time.Time, until time.Time) ([]db.ExportRow, error) {
	rows, err := r.pool.Query(
		ctx,
		`
		select s."first_name", s."last_name", r."student_id", r."hour_type", r."sign_in", r."sign_out"
		from "records" as r
		left join "students" as s on s."hashed" = r."student_id"
		where not r."in_progress" and $1 <= r."sign_in" and r."sign_in" < $2
		order by s."last_name", s."first_name", r."sign_in"
		`,
		since, until,
	)
	if err != nil {
		return nil, pgerrors.Categorize(err)
	}
	defer rows.Close()

	export := []db.ExportRow{}
	for rows.Next() {
		var (
			row         db.ExportRow
			first, last pgtype.Text
			signOut     pgtype.Timestamptz
		)
		if err := rows.Scan(
			&first, &last, &row.StudentID, &row.Kind, &row.SignIn, &signOut,
		); err != nil {
			return nil, pgerrors.Categorize(err)
		}
		row.First, row.Last = first.String, last.String
		if signOut.Status == pgtype.Present {
			t := signOut.Time
			row.SignOut = &t
		}
		export = append(export, row)
	}
	return export, pgerrors.Categorize(rows.Err())
}

func (r *rosterPG) checkSpan(signIn time.Time, signOut *time.Time) error {
	if signOut == nil {
		return nil
	}
	if signOut.Before(signIn) {
		return domerr.WithCategory(
			domerr.CategoryTimeOrder, fmt.Errorf("sign out precedes sign in"),
		)
	}
	if domain.DateOf(signIn, r.loc) != domain.DateOf(*signOut, r.loc) {
		return domerr.WithCategory(
			domerr.CategoryTimeOrder, fmt.Errorf("sign out is not on the sign in's day"),
		)
	}
	return nil
}

func getRecord(ctx context.Context, q kpool.Queryer, id string, forUpdate bool) (domain.Record, error) {
	sql := `
	select "id", "student_id", "hour_type", "sign_in", "sign_out", "in_progress"
	from "records" where "id" = $1
	`
	if forUpdate {
		sql += ` for update`
	}

	rec, err := scanRecord(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Record{}, domerr.WithCategory(
				domerr.CategoryConstraint, fmt.Errorf("record %s: %w", id, domerr.ErrMissing),
			)
		}
		return domain.Record{}, pgerrors.Categorize(err)
	}
	return rec, nil
}

func openRecordToday(
	ctx context.Context, q kpool.Queryer, hashed string, now time.Time, loc *time.Location,
) (*domain.Record, error) {
	rows, err := q.Query(
		ctx,
		`
		select "id", "student_id", "hour_type", "sign_in", "sign_out", "in_progress"
		from "records"
		where "student_id" = $1 and "in_progress"
		order by "sign_in" desc
		`,
		hashed,
	)
	if err != nil {
		return nil, pgerrors.Categorize(err)
	}
	defer rows.Close()

	today := domain.DateOf(now, loc)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, pgerrors.Categorize(err)
		}
		if domain.DateOf(rec.SignIn, loc) == today {
			return &rec, nil
		}
	}
	return nil, pgerrors.Categorize(rows.Err())
}

func scanRecord(row pgx.Row) (domain.Record, error) {
	var (
		rec     domain.Record
		signOut pgtype.Timestamptz
	)
	if err := row.Scan(
		&rec.ID, &rec.StudentID, &rec.Kind, &rec.SignIn, &signOut, &rec.InProgress,
	); err != nil {
		return domain.Record{}, err
	}
	if signOut.Status == pgtype.Present {
		t := signOut.Time
		rec.SignOut = &t
	}
	return rec, nil
}
