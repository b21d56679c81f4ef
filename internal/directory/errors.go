package directory

import (
	"errors"
	"fmt"
)

// Errors returned by the directory. They are expected outcomes which callers translate into
// responses; match them with errors.Is. Any other error comes from the storage layer.
var (
	// ErrValidation means that an input value is malformed.
	ErrValidation = errors.New("invalid input")
	// ErrDuplicateKey means that another contact already uses the phone number.
	ErrDuplicateKey = errors.New("phone number already exists")
	// ErrNotFound means that no contact has the phone number.
	ErrNotFound = errors.New("contact not found")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func duplicate(phone string) error {
	return fmt.Errorf("%w: %s", ErrDuplicateKey, phone)
}

func notFound(phone string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, phone)
}

// outcome classifies an error for metrics and traces.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrDuplicateKey):
		return "duplicate"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
