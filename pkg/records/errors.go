package records

import (
	"fmt"

	"go.trai.ch/zerr"
)

var (
	// ErrNotFound is returned when the API answers 404.
	ErrNotFound = zerr.New("record not found")

	// ErrUnexpectedStatus is matched by every *StatusError.
	ErrUnexpectedStatus = zerr.New("unexpected response status")
)

// StatusError is returned for non-success responses other than 404.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}
