package scheduler_test

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rohmanhakim/media-pipeline/internal/loader"
	"github.com/rohmanhakim/media-pipeline/internal/netmon"
	"github.com/rohmanhakim/media-pipeline/internal/scheduler"
	"github.com/rohmanhakim/media-pipeline/pkg/failure"
)

// settablePolicySource is a test double whose concurrency cap can change
// between dispatch points.
type settablePolicySource struct {
	mu     sync.Mutex
	policy netmon.QualityPolicy
}

func newSettablePolicySource(maxConcurrent int) *settablePolicySource {
	return &settablePolicySource{
		policy: netmon.NewQualityPolicyForTest(maxConcurrent, time.Second, netmon.HintAuto),
	}
}

func (p *settablePolicySource) CurrentPolicy() netmon.QualityPolicy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policy
}

func (p *settablePolicySource) setMaxConcurrent(maxConcurrent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policy = netmon.NewQualityPolicyForTest(maxConcurrent, time.Second, netmon.HintAuto)
}

// stubLoader is a test double for loader.Loader. Loads signal their start
// on the started channel, then block on the gate (when set) until it is
// closed or the request context aborts.
type stubLoader struct {
	mu      sync.Mutex
	gate    chan struct{}
	started chan string
	fail    bool
}

func newStubLoader(blocking bool) *stubLoader {
	s := &stubLoader{
		started: make(chan string, 32),
	}
	if blocking {
		s.gate = make(chan struct{})
	}
	return s
}

func (s *stubLoader) Load(ctx context.Context, req loader.LoadRequest) (loader.LoadedImage, failure.ClassifiedError) {
	ref := req.Ref()
	s.started <- ref.Path

	s.mu.Lock()
	gate := s.gate
	fail := s.fail
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return loader.LoadedImage{}, &loader.LoadError{
				Message: ctx.Err().Error(),
				Cause:   loader.ErrCauseAborted,
			}
		}
	}

	if ctx.Err() != nil {
		return loader.LoadedImage{}, &loader.LoadError{
			Message: ctx.Err().Error(),
			Cause:   loader.ErrCauseAborted,
		}
	}

	if fail {
		return loader.LoadedImage{}, &loader.LoadError{
			Message: "stubbed failure",
			Cause:   loader.ErrCauseExhausted,
		}
	}

	return loader.NewLoadedImageForTest(ref, []byte("body"), "image/jpeg", 0, false), nil
}

func (s *stubLoader) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

// nextStarted waits for the next load to begin and returns its path.
func (s *stubLoader) nextStarted(t *testing.T) string {
	t.Helper()
	select {
	case path := <-s.started:
		return path
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a load to start")
		return ""
	}
}

// noneStarted asserts that no load begins within a short window.
func (s *stubLoader) noneStarted(t *testing.T) {
	t.Helper()
	select {
	case path := <-s.started:
		t.Fatalf("unexpected load started: %s", path)
	case <-time.After(50 * time.Millisecond):
	}
}

func refFor(t *testing.T, path string) url.URL {
	t.Helper()
	parsed, err := url.Parse("https://media.example.com" + path)
	if err != nil {
		t.Fatalf("failed to parse ref: %v", err)
	}
	return *parsed
}

func waitDone(t *testing.T, handle *scheduler.LoadHandle) {
	t.Helper()
	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handle to finish")
	}
}
