package loader_test

import (
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rohmanhakim/media-pipeline/internal/netmon"
	"github.com/rohmanhakim/media-pipeline/internal/telemetry"
	"github.com/rohmanhakim/media-pipeline/pkg/retry"
	"github.com/rohmanhakim/media-pipeline/pkg/timeutil"
)

// mockEventSink is a test double for telemetry.EventSink
type mockEventSink struct {
	mu          sync.Mutex
	loadEvents  []loadEvent
	fetchEvents []fetchEvent
	errorEvents []errorEvent
}

type loadEvent struct {
	resourceRef string
	outcome     telemetry.LoadOutcome
	candidate   int
	attempts    int
	duration    time.Duration
}

type fetchEvent struct {
	fetchUrl    string
	httpStatus  int
	duration    time.Duration
	contentType string
	retryCount  int
}

type errorEvent struct {
	observedAt  time.Time
	packageName string
	action      string
	cause       telemetry.ErrorCause
	details     string
	attrs       []telemetry.Attribute
}

func (m *mockEventSink) RecordLoad(resourceRef string, outcome telemetry.LoadOutcome, candidate int, attempts int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadEvents = append(m.loadEvents, loadEvent{
		resourceRef: resourceRef,
		outcome:     outcome,
		candidate:   candidate,
		attempts:    attempts,
		duration:    duration,
	})
}

func (m *mockEventSink) RecordFetch(fetchUrl string, httpStatus int, duration time.Duration, contentType string, retryCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchEvents = append(m.fetchEvents, fetchEvent{
		fetchUrl:    fetchUrl,
		httpStatus:  httpStatus,
		duration:    duration,
		contentType: contentType,
		retryCount:  retryCount,
	})
}

func (m *mockEventSink) RecordEviction(cacheName string, evicted int, remaining int) {}

func (m *mockEventSink) RecordFlush(queueName string, delivered int, remaining int) {}

func (m *mockEventSink) RecordError(observedAt time.Time, packageName string, action string, cause telemetry.ErrorCause, details string, attrs []telemetry.Attribute) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorEvents = append(m.errorEvents, errorEvent{
		observedAt:  observedAt,
		packageName: packageName,
		action:      action,
		cause:       cause,
		details:     details,
		attrs:       attrs,
	})
}

func (m *mockEventSink) loads() []loadEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]loadEvent, len(m.loadEvents))
	copy(out, m.loadEvents)
	return out
}

// mockPolicySource is a test double for loader.PolicySource. Policies are
// drained in order; the last one sticks.
type mockPolicySource struct {
	mu       sync.Mutex
	policies []netmon.QualityPolicy
}

func newMockPolicySource(policies ...netmon.QualityPolicy) *mockPolicySource {
	return &mockPolicySource{policies: policies}
}

func (m *mockPolicySource) CurrentPolicy() netmon.QualityPolicy {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.policies) > 1 {
		policy := m.policies[0]
		m.policies = m.policies[1:]
		return policy
	}
	return m.policies[0]
}

// fakeRenderTarget records the mutations the loader performs.
type fakeRenderTarget struct {
	mu       sync.Mutex
	source   *url.URL
	loaded   bool
	degraded bool
	failed   bool
}

func (f *fakeRenderTarget) SetSource(source url.URL) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.source = &source
}

func (f *fakeRenderTarget) MarkLoaded() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = true
}

func (f *fakeRenderTarget) MarkDegraded() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.degraded = true
}

func (f *fakeRenderTarget) MarkFailed() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = true
}

// createTestRetryParam creates retry parameters with negligible backoff
// so tests stay fast.
func createTestRetryParam(t *testing.T) retry.RetryParam {
	t.Helper()
	return retry.NewRetryParam(
		1*time.Millisecond, // baseDelay
		0,                  // jitter
		42,                 // randomSeed
		3,                  // maxAttempts (primary candidate budget)
		timeutil.NewBackoffParam(
			1*time.Millisecond,
			2.0,
			5*time.Millisecond,
		),
	)
}

func unconstrainedPolicy(t *testing.T) netmon.QualityPolicy {
	t.Helper()
	policy, err := netmon.PolicyForBand(netmon.BandUnconstrained)
	if err != nil {
		t.Fatalf("failed to build policy: %v", err)
	}
	return policy
}
