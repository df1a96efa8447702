package db

import (
	"context"
	"time"

	"github.com/teamtally/tally/pkg/domain"
)

// SwipeAction tells a kiosk what a swipe did.
type SwipeAction string

const (
	SwipedIn  SwipeAction = "in"
	SwipedOut SwipeAction = "out"
)

type SwipeSpec struct {
	// Hashed student id as the kiosk sends it.
	Hashed string
	Kind   domain.HourType

	// Force overrides the anti-bounce window: a second swipe right
	// after the first is normally taken for a card bounce, not an
	// intent to leave.
	Force bool
}

type SwipeResult struct {
	Action  SwipeAction
	Student domain.Student
	Record  domain.Record
}

type NewRecord struct {
	StudentID string
	Kind      domain.HourType
	SignIn    time.Time
	SignOut   *time.Time
}

type RecordChange struct {
	Kind    *domain.HourType
	SignIn  *time.Time
	SignOut *time.Time

	// ClearSignOut reopens the record; exclusive with SignOut.
	ClearSignOut bool
}

// PresentRow is one currently signed-in student, for the kiosk's
// who-is-here query.
type PresentRow struct {
	First     string
	Last      string
	StudentID string
	Kind      domain.HourType
	SignIn    time.Time
}

type ExportRow struct {
	First     string
	Last      string
	StudentID string
	Kind      domain.HourType
	SignIn    time.Time
	SignOut   *time.Time
}

// Interface is the roster's storage surface.
type Interface interface {
	Students(ctx context.Context) ([]domain.Student, error)
	UpsertStudent(ctx context.Context, student domain.Student) error
	DeleteStudent(ctx context.Context, id string) error

	Records(ctx context.Context, studentID string) ([]domain.Record, error)
	CreateRecord(ctx context.Context, rec NewRecord) (string, error)
	UpdateRecord(ctx context.Context, id string, change RecordChange) error
	DeleteRecord(ctx context.Context, id string) error

	// Swipe signs the student in, or out of their open record of the
	// same local day.
	Swipe(ctx context.Context, spec SwipeSpec) (SwipeResult, error)

	// Present lists students with an open record today, ordered by
	// last then first name.
	Present(ctx context.Context) ([]PresentRow, error)

	// Export lists closed records overlapping [since, until), joined
	// with the roster, ordered by student then sign in.
	Export(ctx context.Context, since time.Time, until time.Time) ([]ExportRow, error)
}
