package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the prometheus EventSink. It only counts; histograms are
// deliberately omitted to keep cardinality bounded at one series per
// outcome/cache/queue.
type Metrics struct {
	loads     *prometheus.CounterVec
	fetches   *prometheus.CounterVec
	evictions *prometheus.CounterVec
	flushes   *prometheus.CounterVec
	errors    *prometheus.CounterVec
}

// NewMetrics creates and registers the pipeline collectors on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_pipeline_loads_total",
			Help: "Terminal media load outcomes.",
		}, []string{"outcome"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_pipeline_fetches_total",
			Help: "Resource fetches by HTTP status class.",
		}, []string{"status_class"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_pipeline_cache_evictions_total",
			Help: "Entries removed by eviction passes per named cache.",
		}, []string{"cache"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_pipeline_deferred_deliveries_total",
			Help: "Queued writes delivered by flush passes per logical queue.",
		}, []string{"queue"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_pipeline_errors_total",
			Help: "Observed pipeline errors by canonical cause.",
		}, []string{"cause"}),
	}
	reg.MustRegister(m.loads, m.fetches, m.evictions, m.flushes, m.errors)
	return m
}

func (m *Metrics) RecordLoad(resourceRef string, outcome LoadOutcome, candidate int, attempts int, duration time.Duration) {
	m.loads.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) RecordFetch(fetchUrl string, httpStatus int, duration time.Duration, contentType string, retryCount int) {
	m.fetches.WithLabelValues(statusClass(httpStatus)).Inc()
}

func (m *Metrics) RecordEviction(cacheName string, evicted int, remaining int) {
	m.evictions.WithLabelValues(cacheName).Add(float64(evicted))
}

func (m *Metrics) RecordFlush(queueName string, delivered int, remaining int) {
	m.flushes.WithLabelValues(queueName).Add(float64(delivered))
}

func (m *Metrics) RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, errorString string, attrs []Attribute) {
	m.errors.WithLabelValues(cause.String()).Inc()
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "none"
	}
	return strconv.Itoa(status/100) + "xx"
}

// Test accessors. Counters are unexported so production code cannot
// bypass the EventSink interface; tests still need to assert on them.

func (m *Metrics) LoadCounterForTest(outcome string) prometheus.Counter {
	return m.loads.WithLabelValues(outcome)
}

func (m *Metrics) LoadCounterVecForTest() *prometheus.CounterVec {
	return m.loads
}

func (m *Metrics) FetchCounterForTest(statusClass string) prometheus.Counter {
	return m.fetches.WithLabelValues(statusClass)
}

func (m *Metrics) EvictionCounterForTest(cache string) prometheus.Counter {
	return m.evictions.WithLabelValues(cache)
}

func (m *Metrics) FlushCounterForTest(queue string) prometheus.Counter {
	return m.flushes.WithLabelValues(queue)
}
