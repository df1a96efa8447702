package postgres

import (
	"errors"
	"strings"

	"github.com/jackc/pgconn"
	pgerrcode "github.com/jackc/pgerrcode"

	domerr "github.com/teamtally/tally/pkg/domain/errors"
)

// constraints named in the schema which express the sign_in/sign_out
// calendar rule. Violations of these get their own category so clients
// can show "end before start" instead of a generic failure.
var timeOrderConstraints = []string{
	"sign_out_after_sign_in",
	"in_progress_iff_open",
}

// Classify maps a database error into the closed user-facing category set.
func Classify(err error) domerr.Category {
	pgErr := new(pgconn.PgError)
	if !errors.As(err, &pgErr) {
		return domerr.CategoryUnknown
	}

	if pgErr.Code == pgerrcode.CheckViolation {
		for _, name := range timeOrderConstraints {
			if strings.Contains(pgErr.ConstraintName, name) {
				return domerr.CategoryTimeOrder
			}
		}
		return domerr.CategoryConstraint
	}

	if pgerrcode.IsIntegrityConstraintViolation(pgErr.Code) ||
		pgerrcode.IsDataException(pgErr.Code) {
		return domerr.CategoryConstraint
	}

	return domerr.CategoryUnknown
}

// Categorize wraps err with the category Classify assigns it.
func Categorize(err error) error {
	if err == nil {
		return nil
	}
	return domerr.WithCategory(Classify(err), err)
}
