package netmon

import (
	"fmt"

	"github.com/rohmanhakim/media-pipeline/pkg/failure"
)

type MonitorErrorCause string

const (
	ErrCauseUnknownBand = "unknown classification band"
)

type MonitorError struct {
	Message string
	Cause   MonitorErrorCause
}

func (e *MonitorError) Error() string {
	return fmt.Sprintf("netmon error: %s: %s", e.Cause, e.Message)
}

func (e *MonitorError) Severity() failure.Severity {
	// A band outside the closed enumeration is a programming error.
	return failure.SeverityFatal
}
