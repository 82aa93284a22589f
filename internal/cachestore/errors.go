package cachestore

import (
	"fmt"

	"github.com/rohmanhakim/media-pipeline/pkg/failure"
)

type StoreErrorCause string

const (
	ErrCauseOpenFailed   = "failed to open cache store"
	ErrCauseUnknownCache = "unknown cache name"
	ErrCauseEncode       = "failed to encode entry"
	ErrCauseDecode       = "failed to decode entry"
	ErrCauseTransaction  = "transaction failed"
)

type StoreError struct {
	Message string
	Cause   StoreErrorCause
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("cache store error: %s: %s", e.Cause, e.Message)
}

func (e *StoreError) Severity() failure.Severity {
	return failure.SeverityFatal
}

func (e *StoreError) IsRetryable() bool {
	return false
}

// Is allows errors.Is to match StoreError types
func (e *StoreError) Is(target error) bool {
	_, ok := target.(*StoreError)
	return ok
}
