package importer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ddi-catalog/internal/category"
)

var (
	// ErrSurveyNotFound marks rows whose survey reference is not in the
	// catalog.
	ErrSurveyNotFound = eris.New("survey not found")

	// ErrInvalidRow marks rows that cannot be imported as given.
	ErrInvalidRow = eris.New("invalid row")
)

// ImportError collects every problem met during one import. Rows of other
// surveys may have been committed when it is returned.
type ImportError struct {
	Messages []string
	Errors   []error
}

func (e *ImportError) Error() string {
	return strings.Join(e.Messages, "\n")
}

// Unwrap exposes the underlying errors to errors.Is and errors.As.
func (e *ImportError) Unwrap() []error {
	return e.Errors
}

func (e *ImportError) add(err error, msg string) {
	e.Errors = append(e.Errors, err)
	e.Messages = append(e.Messages, msg)
}

func (e *ImportError) empty() bool {
	return len(e.Errors) == 0
}

// isValueError reports whether err comes from the content of a row rather
// than from the store or a bug.
func isValueError(err error) bool {
	return errors.Is(err, category.ErrMalformed) || errors.Is(err, ErrInvalidRow)
}

func groupMessage(ref string, err error) string {
	if isValueError(err) {
		return fmt.Sprintf("survey %q: invalid value: %v", ref, err)
	}
	return fmt.Sprintf("survey %q: unexpected error: %v", ref, err)
}
