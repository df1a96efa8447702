package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/teamtally/tally/pkg/auth"
	domerr "github.com/teamtally/tally/pkg/domain/errors"
)

// ErrorMessage is the JSON body of every non-2xx response.
type ErrorMessage struct {
	Message  string          `json:"message"`
	Category domerr.Category `json:"category"`
}

// toHTTP translates a categorized domain error into an echo error, so
// handlers can return storage errors as they are.
func toHTTP(err error) error {
	status := http.StatusInternalServerError
	switch domerr.CategoryOf(err) {
	case domerr.CategoryAuth:
		status = http.StatusUnauthorized
		if errors.Is(err, auth.ErrForbidden) {
			status = http.StatusForbidden
		}
	case domerr.CategoryData:
		status = http.StatusBadRequest
	case domerr.CategoryTimeOrder, domerr.CategoryConstraint:
		status = http.StatusConflict
		if errors.Is(err, domerr.ErrMissing) {
			status = http.StatusNotFound
		}
	}

	return echo.NewHTTPError(status, ErrorMessage{
		Message:  err.Error(),
		Category: domerr.CategoryOf(err),
	})
}

func badRequest(err error) error {
	return toHTTP(domerr.WithCategory(domerr.CategoryData, err))
}
