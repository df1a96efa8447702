package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/teamtally/tally/pkg/domain"
	"github.com/teamtally/tally/pkg/domain/roster/db"
	"github.com/teamtally/tally/pkg/utils/slices"
)

type recordMessage struct {
	ID         string          `json:"id"`
	StudentID  string          `json:"student_id"`
	Kind       domain.HourType `json:"kind"`
	SignIn     time.Time       `json:"sign_in"`
	SignOut    *time.Time      `json:"sign_out"`
	InProgress bool            `json:"in_progress"`
}

func bindRecord(rec domain.Record) recordMessage {
	return recordMessage{
		ID:         rec.ID,
		StudentID:  rec.StudentID,
		Kind:       rec.Kind,
		SignIn:     rec.SignIn,
		SignOut:    rec.SignOut,
		InProgress: rec.InProgress,
	}
}

// StudentRecordsHandler lists one student's records, newest first.
func StudentRecordsHandler(roster db.Interface) echo.HandlerFunc {
	return func(c echo.Context) error {
		records, err := roster.Records(c.Request().Context(), c.Param("id"))
		if err != nil {
			return toHTTP(err)
		}
		return c.JSON(http.StatusOK, slices.Map(records, bindRecord))
	}
}

type createRecordRequest struct {
	StudentID string     `json:"student_id"`
	Kind      string     `json:"kind"`
	SignIn    time.Time  `json:"sign_in"`
	SignOut   *time.Time `json:"sign_out"`
}

func CreateRecordHandler(roster db.Interface, audit *Audit) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createRecordRequest
		if err := c.Bind(&req); err != nil {
			return badRequest(err)
		}
		kind, err := domain.ParseHourType(req.Kind)
		if err != nil {
			return badRequest(err)
		}
		if req.StudentID == "" {
			return badRequest(fmt.Errorf("student_id is required"))
		}

		id, err := roster.CreateRecord(c.Request().Context(), db.NewRecord{
			StudentID: req.StudentID,
			Kind:      kind,
			SignIn:    req.SignIn,
			SignOut:   req.SignOut,
		})
		if err != nil {
			return toHTTP(err)
		}
		audit.record(c.Request().Context(), domain.TelemetryRecordAdd, map[string]any{
			"admin": subjectOf(c), "id": id, "student_id": req.StudentID,
		})
		return c.JSON(http.StatusCreated, map[string]string{"id": id})
	}
}

type updateRecordRequest struct {
	Kind    *string    `json:"kind"`
	SignIn  *time.Time `json:"sign_in"`
	SignOut *time.Time `json:"sign_out"`

	// Reopen clears the sign out, making the record in progress again.
	Reopen bool `json:"reopen"`
}

func UpdateRecordHandler(roster db.Interface, audit *Audit) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req updateRecordRequest
		if err := c.Bind(&req); err != nil {
			return badRequest(err)
		}

		change := db.RecordChange{
			SignIn:       req.SignIn,
			SignOut:      req.SignOut,
			ClearSignOut: req.Reopen,
		}
		if req.Kind != nil {
			kind, err := domain.ParseHourType(*req.Kind)
			if err != nil {
				return badRequest(err)
			}
			change.Kind = &kind
		}
		if req.Reopen && req.SignOut != nil {
			return badRequest(fmt.Errorf("reopen and sign_out are exclusive"))
		}

		if err := roster.UpdateRecord(c.Request().Context(), c.Param("id"), change); err != nil {
			return toHTTP(err)
		}
		audit.record(c.Request().Context(), domain.TelemetryRecordEdit, map[string]any{
			"admin": subjectOf(c), "id": c.Param("id"),
		})
		return c.NoContent(http.StatusNoContent)
	}
}

func DeleteRecordHandler(roster db.Interface, audit *Audit) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := roster.DeleteRecord(c.Request().Context(), c.Param("id")); err != nil {
			return toHTTP(err)
		}
		audit.record(c.Request().Context(), domain.TelemetryRecordDelete, map[string]any{
			"admin": subjectOf(c), "id": c.Param("id"),
		})
		return c.NoContent(http.StatusNoContent)
	}
}
