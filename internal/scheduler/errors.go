package scheduler

import (
	"fmt"

	"github.com/rohmanhakim/media-pipeline/pkg/failure"
)

type SchedulerErrorCause string

const (
	// ErrCauseNotRetryable: Retry was called on a handle that did not
	// terminate in failure.
	ErrCauseNotRetryable = "handle is not in a failed state"
	// ErrCauseDuplicateInFlight: another non-terminal load for the same
	// resource already exists; the caller should use that handle.
	ErrCauseDuplicateInFlight = "duplicate load already in flight"
)

type SchedulerError struct {
	Message string
	Cause   SchedulerErrorCause
}

func (e *SchedulerError) Error() string {
	return fmt.Sprintf("scheduler error: %s: %s", e.Cause, e.Message)
}

func (e *SchedulerError) Severity() failure.Severity {
	return failure.SeverityFatal
}

func (e *SchedulerError) IsRetryable() bool {
	return false
}

// Is allows errors.Is to match SchedulerError types
func (e *SchedulerError) Is(target error) bool {
	_, ok := target.(*SchedulerError)
	return ok
}
