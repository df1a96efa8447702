package postgres_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"

	domerr "github.com/teamtally/tally/pkg/domain/errors"
	"github.com/teamtally/tally/pkg/domain/errors/dberrors/postgres"
)

func TestClassify(t *testing.T) {
	for name, testcase := range map[string]struct {
		err  error
		want domerr.Category
	}{
		"check violation on the sign order constraint": {
			err: &pgconn.PgError{
				Code:           pgerrcode.CheckViolation,
				ConstraintName: "sign_out_after_sign_in",
			},
			want: domerr.CategoryTimeOrder,
		},
		"check violation on the open/in_progress constraint": {
			err: &pgconn.PgError{
				Code:           pgerrcode.CheckViolation,
				ConstraintName: "records_in_progress_iff_open_check",
			},
			want: domerr.CategoryTimeOrder,
		},
		"check violation on an unrelated constraint": {
			err: &pgconn.PgError{
				Code:           pgerrcode.CheckViolation,
				ConstraintName: "records_hour_type_check",
			},
			want: domerr.CategoryConstraint,
		},
		"foreign key violation": {
			err:  &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation},
			want: domerr.CategoryConstraint,
		},
		"unique violation": {
			err:  &pgconn.PgError{Code: pgerrcode.UniqueViolation},
			want: domerr.CategoryConstraint,
		},
		"data exception": {
			err:  &pgconn.PgError{Code: pgerrcode.InvalidDatetimeFormat},
			want: domerr.CategoryConstraint,
		},
		"connection failure": {
			err:  &pgconn.PgError{Code: pgerrcode.ConnectionFailure},
			want: domerr.CategoryUnknown,
		},
		"not a database error at all": {
			err:  errors.New("boom"),
			want: domerr.CategoryUnknown,
		},
		"wrapped database error": {
			err: fmt.Errorf("insert: %w", &pgconn.PgError{
				Code: pgerrcode.ForeignKeyViolation,
			}),
			want: domerr.CategoryConstraint,
		},
	} {
		t.Run(name, func(t *testing.T) {
			if actual := postgres.Classify(testcase.err); actual != testcase.want {
				t.Errorf("Classify = %s, want %s", actual, testcase.want)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		if err := postgres.Categorize(nil); err != nil {
			t.Errorf("Categorize(nil) = %s", err)
		}
	})

	t.Run("the original error stays reachable", func(t *testing.T) {
		cause := &pgconn.PgError{Code: pgerrcode.UniqueViolation}
		err := postgres.Categorize(cause)
		if domerr.CategoryOf(err) != domerr.CategoryConstraint {
			t.Errorf("category = %s", domerr.CategoryOf(err))
		}
		if !errors.Is(err, cause) {
			t.Error("cause is lost")
		}
	})
}
