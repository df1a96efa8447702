package postgres

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
	"github.com/teamtally/tally/pkg/domain/telemetry/db"
)

// maxPage caps one List call; readers page with Skip instead.
const maxPage = 100

var ErrPageTooLarge = domerr.WithCategory(
	domerr.CategoryData, fmt.Errorf("too much telemetry queried (>%d)", maxPage),
)

type telemetryPG struct {
	pool kpool.Pool

	// overridable for tests.
	now   func() time.Time
	newID func() string
}

func New(pool kpool.Pool) db.Interface {
	return &telemetryPG{
		pool: pool,
		now:  time.Now,
		newID: func() string {
			return strings.ToLower(ulid.Make().String())
		},
	}
}

func (t *telemetryPG) Append(ctx context.Context, event string, data any) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", domerr.WithCategory(
			domerr.CategoryData, fmt.Errorf("telemetry %s: %w", event, err),
		)
	}

	id := t.newID()
	if _, err := t.pool.Exec(
		ctx,
		`
		insert into "telemetry" ("id", "event", "data", "timestamp")
		values ($1, $2, $3, $4)
		`,
		id, event, payload, t.now(),
	); err != nil {
		return "", pgerrors.Categorize(err)
	}
	return id, nil
}

func (t *telemetryPG) List(ctx context.Context, page db.Page) ([]domain.TelemetryEvent, error) {
	if page.Count < 1 {
		return nil, domerr.WithCategory(
			domerr.CategoryData, fmt.Errorf("count must be positive"),
		)
	}
	if page.Count > maxPage {
		return nil, ErrPageTooLarge
	}
	if page.Skip < 0 {
		page.Skip = 0
	}

	sql := `
	select "id", "event", "data", "timestamp"
	from "telemetry"
	`
	args := []any{page.Count, page.Skip}
	if page.Event != "" {
		sql += `where "event" = $3
	`
		args = append(args, page.Event)
	}
	sql += `order by "timestamp" limit $1 offset $2`

	rows, err := t.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, pgerrors.Categorize(err)
	}
	defer rows.Close()

	events := []domain.TelemetryEvent{}
	for rows.Next() {
		var ev domain.TelemetryEvent
		if err := rows.Scan(&ev.ID, &ev.Event, &ev.Data, &ev.Timestamp); err != nil {
			return nil, pgerrors.Categorize(err)
		}
		events = append(events, ev)
	}
	return events, pgerrors.Categorize(rows.Err())
}
