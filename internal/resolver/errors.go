package resolver

import (
	"errors"
	"fmt"
)

// ErrNoGenerator is returned when no generation endpoint is configured.
var ErrNoGenerator = errors.New("no mesh generator configured")

// RejectedError is a definitive client-error answer from the generation
// service. Retrying cannot change it.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("generation rejected: status %d", e.Status)
	}
	return fmt.Sprintf("generation rejected: status %d: %s", e.Status, e.Message)
}

// TransientError covers failures worth retrying: connection problems,
// timeouts, server errors and truncated responses.
type TransientError struct {
	Status int // 0 when no response was received
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("generation failed: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsRejected reports whether err is a deterministic rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
