package mockserver

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the admin API reports a mapping id it does not
// hold. Callers match with errors.Is.
var ErrNotFound = errors.New("mapping not found")

// ErrUnavailable wraps transport failures after retries are exhausted.
var ErrUnavailable = errors.New("mock server unavailable")

// StatusError carries a non-2xx admin API response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("admin api status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("admin api status %d", e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	if target == ErrNotFound {
		return e.StatusCode == 404
	}
	return false
}
