package db

import (
	"context"

	"github.com/teamtally/tally/pkg/domain"
)

// Page selects a slice of the audit log, oldest first.
type Page struct {
	Count int
	Skip  int

	// Event, when set, narrows the page to one event type.
	Event string
}

// Interface is the audit log's storage surface.
type Interface interface {
	// Append writes one event with data serialized as JSON and returns
	// the new event's id.
	Append(ctx context.Context, event string, data any) (string, error)

	// List reads one page of events, ordered by timestamp.
	List(ctx context.Context, page Page) ([]domain.TelemetryEvent, error)
}
