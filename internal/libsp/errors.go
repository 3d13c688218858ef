package libsp

import (
	"errors"
	"fmt"
)

var (
	// ErrRetryExhausted wraps the last transient failure once all attempts are spent.
	ErrRetryExhausted = errors.New("libsp: retries exhausted")

	// ErrInstitutionNotFound is returned when discovery does not recognize a hostname.
	ErrInstitutionNotFound = errors.New("libsp: institution not found")
)

// ApplicationError is an explicit failure reported by the endpoint
// (success=false). It is never retried.
type ApplicationError struct {
	Endpoint string
	Message  string
}

func (e *ApplicationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("libsp %s: request rejected", e.Endpoint)
	}
	return fmt.Sprintf("libsp %s: %s", e.Endpoint, e.Message)
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("libsp: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// MalformedResponseError wraps a body that could not be decoded.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("libsp: malformed response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}
