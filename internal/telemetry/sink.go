package telemetry

import (
	"time"
)

/*
Telemetry Collected
- Load outcomes (loaded / degraded / failed) with attempt counts
- Fetch timestamps, HTTP status codes, durations
- Eviction passes per named cache
- Deferred-queue flush results

Determinism guarantees:
 - Telemetry does not affect control flow
 - Errors do not reorder the scheduler queues
 - Output is stable given identical inputs

Telemetry is write-only.
No component may read telemetry to influence load decisions.
*/

// EventSink captures structured pipeline events.
// It must not:
// - perform I/O decisions
// - affect control flow
// - impose a logging backend
// Ordering guarantees:
// - Events are recorded synchronously in the order they are received by a single goroutine.
// - No global ordering across goroutines is guaranteed.
type EventSink interface {
	RecordLoad(
		resourceRef string,
		outcome LoadOutcome,
		candidate int,
		attempts int,
		duration time.Duration,
	)

	RecordFetch(
		fetchUrl string,
		httpStatus int,
		duration time.Duration,
		contentType string,
		retryCount int,
	)

	RecordEviction(
		cacheName string,
		evicted int,
		remaining int,
	)

	RecordFlush(
		queueName string,
		delivered int,
		remaining int,
	)

	RecordError(
		observedAt time.Time,
		packageName string,
		action string,
		cause ErrorCause,
		errorString string,
		attrs []Attribute,
	)
}

// MultiSink fans every event out to each wrapped sink in order.
type MultiSink struct {
	sinks []EventSink
}

func NewMultiSink(sinks ...EventSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) RecordLoad(resourceRef string, outcome LoadOutcome, candidate int, attempts int, duration time.Duration) {
	for _, s := range m.sinks {
		s.RecordLoad(resourceRef, outcome, candidate, attempts, duration)
	}
}

func (m *MultiSink) RecordFetch(fetchUrl string, httpStatus int, duration time.Duration, contentType string, retryCount int) {
	for _, s := range m.sinks {
		s.RecordFetch(fetchUrl, httpStatus, duration, contentType, retryCount)
	}
}

func (m *MultiSink) RecordEviction(cacheName string, evicted int, remaining int) {
	for _, s := range m.sinks {
		s.RecordEviction(cacheName, evicted, remaining)
	}
}

func (m *MultiSink) RecordFlush(queueName string, delivered int, remaining int) {
	for _, s := range m.sinks {
		s.RecordFlush(queueName, delivered, remaining)
	}
}

func (m *MultiSink) RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, errorString string, attrs []Attribute) {
	for _, s := range m.sinks {
		s.RecordError(observedAt, packageName, action, cause, errorString, attrs)
	}
}
