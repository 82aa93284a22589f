package scheduler

import (
	"context"
	"net/url"
	"sync"

	"github.com/rohmanhakim/media-pipeline/internal/fallback"
	"github.com/rohmanhakim/media-pipeline/internal/loader"
	"github.com/rohmanhakim/media-pipeline/pkg/failure"
)

// Priority orders admission into the dispatch loop. Dispatch always
// drains the highest non-empty band first.
type Priority int

const (
	// PriorityCritical: above-the-fold media the caller pinned explicitly.
	PriorityCritical Priority = iota
	// PriorityNormal: media intersecting the viewport right now.
	PriorityNormal
	// PriorityPreload: media within the preload margin of the viewport.
	PriorityPreload
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityNormal:
		return "normal"
	case PriorityPreload:
		return "preload"
	default:
		return "invalid"
	}
}

// dispatchOrder is the strict drain order of the sub-queues.
var dispatchOrder = []Priority{PriorityCritical, PriorityNormal, PriorityPreload}

// HandleState is the lifecycle of one admitted load.
type HandleState int

const (
	StatePending HandleState = iota
	StateActive
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s HandleState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "invalid"
	}
}

// LoadHandle is the caller's view of one admitted load. The terminal
// result is published by closing Done; Result is valid afterwards.
type LoadHandle struct {
	mu        sync.Mutex
	scheduler *RequestScheduler
	key       string
	ref       url.URL
	kind      fallback.Kind
	category  string
	priority  Priority
	target    loader.RenderTarget

	ctx    context.Context
	cancel context.CancelFunc

	state HandleState
	image loader.LoadedImage
	err   failure.ClassifiedError
	done  chan struct{}
}

func (h *LoadHandle) Ref() url.URL {
	return h.ref
}

func (h *LoadHandle) Priority() Priority {
	return h.priority
}

// Done is closed when the handle reaches a terminal state. A re-armed
// handle carries a fresh channel; re-read Done after Retry.
func (h *LoadHandle) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

func (h *LoadHandle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Result returns the terminal outcome. Only meaningful after Done closed.
func (h *LoadHandle) Result() (loader.LoadedImage, failure.ClassifiedError) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.image, h.err
}

// Cancel withdraws the load. A pending handle is dropped before it ever
// reaches the loader; an active one has its context cancelled.
func (h *LoadHandle) Cancel() {
	h.scheduler.cancelHandle(h)
}

// Retry re-arms a failed handle: attempts reset, the handle goes back
// through admission at its original priority.
func (h *LoadHandle) Retry() failure.ClassifiedError {
	return h.scheduler.rearm(h)
}

func (h *LoadHandle) terminalLocked() bool {
	switch h.state {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

func (h *LoadHandle) completeLocked(state HandleState, image loader.LoadedImage, err failure.ClassifiedError) {
	h.state = state
	h.image = image
	h.err = err
	close(h.done)
}
