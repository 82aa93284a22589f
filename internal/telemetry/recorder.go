package telemetry

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Recorder is the logging EventSink backed by zerolog.
// One recorder is constructed per process and shared by injection;
// components never reach for an ambient logger.
type Recorder struct {
	logger zerolog.Logger
}

// NewRecorder creates a recorder with console output on stderr.
func NewRecorder() *Recorder {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).With().Timestamp().Logger()
	return &Recorder{logger: logger}
}

// NewRecorderWithLogger wraps an existing zerolog.Logger. Tests use this
// to capture output.
func NewRecorderWithLogger(logger zerolog.Logger) *Recorder {
	return &Recorder{logger: logger}
}

func (r *Recorder) RecordLoad(resourceRef string, outcome LoadOutcome, candidate int, attempts int, duration time.Duration) {
	r.logger.Info().
		Str("event", "load").
		Str("resource_ref", resourceRef).
		Str("outcome", string(outcome)).
		Int("candidate", candidate).
		Int("attempts", attempts).
		Dur("duration", duration).
		Msg("media load finished")
}

func (r *Recorder) RecordFetch(fetchUrl string, httpStatus int, duration time.Duration, contentType string, retryCount int) {
	r.logger.Debug().
		Str("event", "fetch").
		Str("url", fetchUrl).
		Int("status", httpStatus).
		Dur("duration", duration).
		Str("content_type", contentType).
		Int("retries", retryCount).
		Msg("resource fetch")
}

func (r *Recorder) RecordEviction(cacheName string, evicted int, remaining int) {
	r.logger.Info().
		Str("event", "eviction").
		Str("cache", cacheName).
		Int("evicted", evicted).
		Int("remaining", remaining).
		Msg("cache eviction pass")
}

func (r *Recorder) RecordFlush(queueName string, delivered int, remaining int) {
	r.logger.Info().
		Str("event", "flush").
		Str("queue", queueName).
		Int("delivered", delivered).
		Int("remaining", remaining).
		Msg("deferred queue flush")
}

func (r *Recorder) RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, errorString string, attrs []Attribute) {
	event := r.logger.Warn().
		Str("event", "error").
		Time("observed_at", observedAt).
		Str("package", packageName).
		Str("action", action).
		Str("cause", cause.String()).
		Str("error", errorString)
	for _, attr := range attrs {
		event = event.Str(string(attr.Key), attr.Value)
	}
	event.Msg("pipeline error")
}
