package evalsvc

import (
	"errors"
	"fmt"
)

// NoStatus is the status code of an Error raised before any response status
// was received (dial failures, resets, timeouts).
const NoStatus = 0

// Error is returned by every client operation that fails.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode == NoStatus && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: status %d: %s: %v", e.Op, e.StatusCode, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode extracts the status of an Error anywhere in err's chain. ok is
// false when err carries no Error at all.
func StatusCode(err error) (code int, ok bool) {
	var e *Error
	if !errors.As(err, &e) {
		return 0, false
	}
	return e.StatusCode, true
}
