package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/teamtally/tally/pkg/domain"
	"github.com/teamtally/tally/pkg/domain/roster/db"
)

type swipeRequest struct {
	Hashed string `json:"hashed"`
	Kind   string `json:"kind"`
	Force  bool   `json:"force"`
}

type swipeResponse struct {
	Action  db.SwipeAction `json:"action"`
	First   string         `json:"first"`
	Last    string         `json:"last"`
	Record  recordMessage  `json:"record"`
	Elapsed *float64       `json:"elapsed,omitempty"`
}

type presentMessage struct {
	StudentID string          `json:"student_id"`
	First     string          `json:"first"`
	Last      string          `json:"last"`
	Kind      domain.HourType `json:"kind"`
	Since     time.Time       `json:"since"`
}

// PresentHandler answers the kiosk's who-is-here query.
func PresentHandler(roster db.Interface) echo.HandlerFunc {
	return func(c echo.Context) error {
		present, err := roster.Present(c.Request().Context())
		if err != nil {
			return toHTTP(err)
		}
		out := make([]presentMessage, 0, len(present))
		for _, row := range present {
			out = append(out, presentMessage{
				StudentID: row.StudentID,
				First:     row.First,
				Last:      row.Last,
				Kind:      row.Kind,
				Since:     row.SignIn,
			})
		}
		return c.JSON(http.StatusOK, out)
	}
}

// SwipeHandler serves the kiosk. A swipe signs the student in, or out of
// an open record from the same day; the response tells the kiosk which
// happened so it can greet accordingly.
func SwipeHandler(roster db.Interface) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req swipeRequest
		if err := c.Bind(&req); err != nil {
			return badRequest(err)
		}
		if req.Hashed == "" {
			return badRequest(fmt.Errorf("hashed id is required"))
		}
		kind, err := domain.ParseHourType(req.Kind)
		if err != nil {
			return badRequest(err)
		}

		result, err := roster.Swipe(c.Request().Context(), db.SwipeSpec{
			Hashed: req.Hashed, Kind: kind, Force: req.Force,
		})
		if err != nil {
			return toHTTP(err)
		}

		resp := swipeResponse{
			Action: result.Action,
			First:  result.Student.First,
			Last:   result.Student.Last,
			Record: bindRecord(result.Record),
		}
		if out := result.Record.SignOut; out != nil {
			hours := out.Sub(result.Record.SignIn).Round(time.Second).Hours()
			resp.Elapsed = &hours
		}
		return c.JSON(http.StatusOK, resp)
	}
}
