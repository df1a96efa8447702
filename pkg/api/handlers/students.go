package handlers

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/teamtally/tally/pkg/domain"
	"github.com/teamtally/tally/pkg/domain/roster/db"
	"github.com/teamtally/tally/pkg/utils/slices"
)

type studentMessage struct {
	ID     string `json:"id"`
	Hashed string `json:"hashed"`
	First  string `json:"first"`
	Last   string `json:"last"`
}

func StudentsHandler(roster db.Interface) echo.HandlerFunc {
	return func(c echo.Context) error {
		students, err := roster.Students(c.Request().Context())
		if err != nil {
			return toHTTP(err)
		}
		return c.JSON(http.StatusOK, slices.Map(students, func(st domain.Student) studentMessage {
			return studentMessage{ID: st.ID, Hashed: st.Hashed, First: st.First, Last: st.Last}
		}))
	}
}

// UpsertStudentHandler registers a badge or renames its owner; the
// hashed id is the identity that matters.
func UpsertStudentHandler(roster db.Interface, audit *Audit) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req studentMessage
		if err := c.Bind(&req); err != nil {
			return badRequest(err)
		}
		if req.Hashed == "" {
			return badRequest(fmt.Errorf("hashed id is required"))
		}

		student := domain.Student{
			ID: req.ID, Hashed: req.Hashed, First: req.First, Last: req.Last,
		}
		if err := roster.UpsertStudent(c.Request().Context(), student); err != nil {
			return toHTTP(err)
		}
		audit.record(c.Request().Context(), domain.TelemetryStudentEdit, map[string]any{
			"admin": subjectOf(c), "hashed": req.Hashed,
		})
		return c.NoContent(http.StatusNoContent)
	}
}

func DeleteStudentHandler(roster db.Interface, audit *Audit) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := roster.DeleteStudent(c.Request().Context(), c.Param("id")); err != nil {
			return toHTTP(err)
		}
		audit.record(c.Request().Context(), domain.TelemetryStudentDelete, map[string]any{
			"admin": subjectOf(c), "id": c.Param("id"),
		})
		return c.NoContent(http.StatusNoContent)
	}
}
