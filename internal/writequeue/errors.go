package writequeue

import (
	"fmt"

	"github.com/rohmanhakim/media-pipeline/pkg/failure"
)

type QueueErrorCause string

const (
	ErrCauseOpenFailed   = "failed to open queue store"
	ErrCauseUnknownQueue = "unknown queue name"
	ErrCausePersist      = "failed to persist queued write"
	ErrCauseTransaction  = "transaction failed"
)

type QueueError struct {
	Message string
	Cause   QueueErrorCause
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("write queue error: %s: %s", e.Cause, e.Message)
}

func (e *QueueError) Severity() failure.Severity {
	return failure.SeverityFatal
}

func (e *QueueError) IsRetryable() bool {
	return false
}

// Is allows errors.Is to match QueueError types
func (e *QueueError) Is(target error) bool {
	_, ok := target.(*QueueError)
	return ok
}
