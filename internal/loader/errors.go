package loader

import (
	"fmt"

	"github.com/rohmanhakim/media-pipeline/internal/telemetry"
	"github.com/rohmanhakim/media-pipeline/pkg/failure"
)

type FetchErrorCause string

const (
	ErrCauseTimeout               = "timeout"
	ErrCauseNetworkFailure        = "network issues"
	ErrCauseReadResponseBodyError = "failed to read response body"
	ErrCauseRequestForbidden      = "forbidden"
	ErrCauseRequestNotFound       = "not found"
	ErrCauseRequestTooMany        = "too many requests"
	ErrCauseRequest5xx            = "5xx"
)

// FetchError classifies one failed HTTP attempt. Timeouts and transport
// failures are transient; client errors are not.
type FetchError struct {
	Message   string
	Retryable bool
	Cause     FetchErrorCause
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("loader fetch error: %s", e.Cause)
}

func (e *FetchError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// IsRetryable returns whether this error is retryable
func (e *FetchError) IsRetryable() bool {
	return e.Retryable
}

type LoadErrorCause string

const (
	// ErrCauseExhausted: every candidate including the generic
	// placeholder failed. Terminal; only a manual retry re-invokes Load.
	ErrCauseExhausted = "all candidates exhausted"
	ErrCauseAborted   = "load aborted"
)

// LoadError is the terminal failure of a whole load, after retries and
// the full fallback chain.
type LoadError struct {
	Message string
	Cause   LoadErrorCause
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loader error: %s: %s", e.Cause, e.Message)
}

func (e *LoadError) Severity() failure.Severity {
	return failure.SeverityFatal
}

func (e *LoadError) IsRetryable() bool {
	return false
}

// Is allows errors.Is to match LoadError types
func (e *LoadError) Is(target error) bool {
	_, ok := target.(*LoadError)
	return ok
}

// mapFetchErrorToTelemetryCause maps loader-local error semantics to the
// canonical telemetry.ErrorCause table.
//
// This mapping is observational only and MUST NOT be used to derive
// control-flow decisions.
func mapFetchErrorToTelemetryCause(err *FetchError) telemetry.ErrorCause {
	switch err.Cause {
	case ErrCauseTimeout:
		return telemetry.CauseTimeout
	case ErrCauseNetworkFailure, ErrCauseReadResponseBodyError, ErrCauseRequest5xx:
		return telemetry.CauseNetworkFailure
	case ErrCauseRequestTooMany, ErrCauseRequestForbidden:
		return telemetry.CausePolicyViolation
	default:
		return telemetry.CauseUnknown
	}
}
