package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/teamtally/tally/pkg/domain/roster/db"
)

// ExportHandler streams closed records of [since, until) as CSV, one
// line per record, durations in decimal hours.
func ExportHandler(roster db.Interface, loc *time.Location) echo.HandlerFunc {
	return func(c echo.Context) error {
		since, until, err := exportRange(c, loc)
		if err != nil {
			return badRequest(err)
		}

		export, err := roster.Export(c.Request().Context(), since, until)
		if err != nil {
			return toHTTP(err)
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/csv")
		c.Response().Header().Set(
			echo.HeaderContentDisposition, `attachment; filename="hours.csv"`,
		)
		c.Response().WriteHeader(http.StatusOK)

		w := csv.NewWriter(c.Response())
		if err := w.Write([]string{
			"last", "first", "student_id", "kind", "sign_in", "sign_out", "hours",
		}); err != nil {
			return err
		}
		for _, row := range export {
			out, hours := "", ""
			if row.SignOut != nil {
				out = row.SignOut.In(loc).Format(time.RFC3339)
				hours = fmt.Sprintf("%.2f", row.SignOut.Sub(row.SignIn).Hours())
			}
			if err := w.Write([]string{
				row.Last, row.First, row.StudentID, string(row.Kind),
				row.SignIn.In(loc).Format(time.RFC3339), out, hours,
			}); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	}
}

// exportRange parses ?since=YYYY-MM-DD&until=YYYY-MM-DD, defaulting to
// the current calendar year. until is exclusive.
func exportRange(c echo.Context, loc *time.Location) (time.Time, time.Time, error) {
	now := time.Now().In(loc)
	since := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, loc)
	until := since.AddDate(1, 0, 0)

	if q := c.QueryParam("since"); q != "" {
		t, err := time.ParseInLocation("2006-01-02", q, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("since: %w", err)
		}
		since = t
	}
	if q := c.QueryParam("until"); q != "" {
		t, err := time.ParseInLocation("2006-01-02", q, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("until: %w", err)
		}
		until = t.AddDate(0, 0, 1)
	}
	if !since.Before(until) {
		return time.Time{}, time.Time{}, fmt.Errorf("empty range: since is not before until")
	}
	return since, until, nil
}
