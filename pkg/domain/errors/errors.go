package errors

import "errors"

// requested entity does not exist.
var ErrMissing = errors.New("missing")

// Category is the closed set of user-facing mutation error kinds.
//
// Mutations can fail in many ways; sessions only ever see one of these.
type Category string

const (
	// sign_out before sign_in, or on another calendar day.
	CategoryTimeOrder Category = "time_order"

	// any other data constraint (unknown student, duplicate id, ...).
	CategoryConstraint Category = "constraint"

	// request payload did not decode or failed validation.
	CategoryData Category = "data"

	// missing or invalid token, or insufficient permission.
	CategoryAuth Category = "auth"

	CategoryUnknown Category = "unknown"
)

// Categorized ties an underlying error to its user-facing category.
type Categorized struct {
	Category Category
	Err      error
}

func (c Categorized) Error() string {
	return string(c.Category) + ": " + c.Err.Error()
}

func (c Categorized) Unwrap() error {
	return c.Err
}

func WithCategory(cat Category, err error) error {
	return Categorized{Category: cat, Err: err}
}

// CategoryOf extracts the category of err, or CategoryUnknown.
func CategoryOf(err error) Category {
	cerr := Categorized{}
	if errors.As(err, &cerr) {
		return cerr.Category
	}
	return CategoryUnknown
}
