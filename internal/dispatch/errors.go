package dispatch

import (
	"errors"
	"fmt"

	"github.com/hochfrequenz/boardwatch/internal/domain"
)

var (
	// ErrTransport marks a failed backend call: network error, non-2xx
	// status or a body that is not JSON
	ErrTransport = errors.New("transport failure")
	// ErrSkipped marks an event that was dropped without a backend call
	ErrSkipped = errors.New("dispatch skipped")
)

// SkipReason explains why an event did not trigger a call
type SkipReason string

const (
	SkipTested   SkipReason = "tested marker present"
	SkipInFlight SkipReason = "dispatch in flight"
	SkipDone     SkipReason = "already dispatched this session"
)

func skipped(reason SkipReason) error {
	return fmt.Errorf("%w: %s", ErrSkipped, reason)
}

// TransportError describes a failed backend call
type TransportError struct {
	Operation  domain.Operation
	IssueKey   string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: backend returned %d: %v", e.Operation, e.IssueKey, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Operation, e.IssueKey, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes every TransportError match ErrTransport
func (e *TransportError) Is(target error) bool { return target == ErrTransport }
