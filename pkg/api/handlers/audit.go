package handlers

import (
	"context"
	"log"

	"github.com/labstack/echo/v4"

	"github.com/teamtally/tally/pkg/auth"
	telemdb "github.com/teamtally/tally/pkg/domain/telemetry/db"
)

// Audit appends notable API actions to the telemetry log.
//
// Recording is best effort: a failed append is logged and the request
// proceeds. Losing one audit line is better than failing the action it
// describes. A nil *Audit records nothing.
type Audit struct {
	store  telemdb.Interface
	logger *log.Logger
}

func NewAudit(store telemdb.Interface, logger *log.Logger) *Audit {
	if logger == nil {
		logger = log.Default()
	}
	return &Audit{store: store, logger: logger}
}

func (a *Audit) record(ctx context.Context, event string, data map[string]any) {
	if a == nil {
		return
	}
	if _, err := a.store.Append(ctx, event, data); err != nil {
		a.logger.Printf("audit %s: %s", event, err)
	}
}

// subjectOf names the authenticated user behind the request, when the
// permission guard has run.
func subjectOf(c echo.Context) string {
	if claims, ok := c.Get("claims").(*auth.Claims); ok {
		return claims.Subject
	}
	return ""
}
