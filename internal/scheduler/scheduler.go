package scheduler

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/rohmanhakim/media-pipeline/internal/fallback"
	"github.com/rohmanhakim/media-pipeline/internal/loader"
	"github.com/rohmanhakim/media-pipeline/pkg/failure"
	"github.com/rohmanhakim/media-pipeline/pkg/urlutil"
)

/*
 RequestScheduler is the sole admission authority for media loads.

 Determinism and admission guarantees:
 - The scheduler is the ONLY component allowed to hand a request to the
   loader.
 - Dedup happens here: one non-terminal load per canonical resource, no
   matter how many callers ask for it.
 - Dispatch drains strictly critical > normal > preload, one item per
   freed slot.
 - The concurrency cap is re-read from the quality policy at every
   dispatch point; a band change applies to the next slot, never to
   loads already in flight.
 - Cancellation is checked immediately before dispatch: a withdrawn
   request never reaches the loader.

 The loader may detect and classify failure, but never decides retry,
 continuation, or admission.

 Scheduler Responsibilities:
 - Admit, dedup, and order load requests
 - Gate dispatch on the policy's concurrency cap
 - Free and refill slots on completion
 - Re-arm failed handles on manual retry
*/

type RequestScheduler struct {
	mu       sync.Mutex
	baseCtx  context.Context
	policies loader.PolicySource
	loads    loader.Loader
	queues   map[Priority]*FIFOQueue[*LoadHandle]
	inflight map[string]*LoadHandle
	active   int
}

func NewRequestScheduler(
	baseCtx context.Context,
	policies loader.PolicySource,
	loads loader.Loader,
) *RequestScheduler {
	return &RequestScheduler{
		baseCtx:  baseCtx,
		policies: policies,
		loads:    loads,
		queues: map[Priority]*FIFOQueue[*LoadHandle]{
			PriorityCritical: NewFIFOQueue[*LoadHandle](),
			PriorityNormal:   NewFIFOQueue[*LoadHandle](),
			PriorityPreload:  NewFIFOQueue[*LoadHandle](),
		},
		inflight: make(map[string]*LoadHandle),
	}
}

// Enqueue admits one load request. If a non-terminal load for the same
// canonical resource already exists, its handle is returned instead of
// admitting a duplicate.
func (s *RequestScheduler) Enqueue(
	ref url.URL,
	kind fallback.Kind,
	category string,
	priority Priority,
	target loader.RenderTarget,
) *LoadHandle {
	canonical := urlutil.Canonicalize(ref)
	key := canonical.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.inflight[key]; exists {
		existing.mu.Lock()
		terminal := existing.terminalLocked()
		existing.mu.Unlock()
		if !terminal {
			return existing
		}
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	handle := &LoadHandle{
		scheduler: s,
		key:       key,
		ref:       ref,
		kind:      kind,
		category:  category,
		priority:  priority,
		target:    target,
		ctx:       ctx,
		cancel:    cancel,
		state:     StatePending,
		done:      make(chan struct{}),
	}

	s.inflight[key] = handle
	s.queues[priority].Enqueue(handle)
	s.dispatchLocked()

	return handle
}

// dispatchLocked fills free slots from the highest-priority non-empty
// sub-queue. Caller must hold s.mu.
func (s *RequestScheduler) dispatchLocked() {
	for {
		// the cap follows the latest policy, not the one seen at enqueue
		policy := s.policies.CurrentPolicy()
		if s.active >= policy.MaxConcurrent() {
			return
		}

		handle := s.nextLocked()
		if handle == nil {
			return
		}

		handle.mu.Lock()
		if handle.state != StatePending {
			// withdrawn while queued; it never reaches the loader
			handle.mu.Unlock()
			continue
		}
		handle.state = StateActive
		handle.mu.Unlock()

		s.active++
		go s.run(handle)
	}
}

func (s *RequestScheduler) nextLocked() *LoadHandle {
	for _, priority := range dispatchOrder {
		if handle, exists := s.queues[priority].Dequeue(); exists {
			return handle
		}
	}
	return nil
}

// run executes one load and refills the freed slot on completion.
func (s *RequestScheduler) run(handle *LoadHandle) {
	request := loader.NewLoadRequest(handle.ref, handle.kind, handle.category, handle.target)
	image, err := s.loads.Load(handle.ctx, request)

	s.mu.Lock()
	s.active--
	if s.inflight[handle.key] == handle {
		delete(s.inflight, handle.key)
	}

	handle.mu.Lock()
	switch {
	case err == nil:
		handle.completeLocked(StateSucceeded, image, nil)
	case handle.ctx.Err() != nil:
		handle.completeLocked(StateCancelled, loader.LoadedImage{}, err)
	default:
		handle.completeLocked(StateFailed, loader.LoadedImage{}, err)
	}
	handle.mu.Unlock()

	s.dispatchLocked()
	s.mu.Unlock()
}

// cancelHandle withdraws a load on behalf of LoadHandle.Cancel.
func (s *RequestScheduler) cancelHandle(handle *LoadHandle) {
	s.mu.Lock()
	handle.mu.Lock()

	var cancel context.CancelFunc
	switch handle.state {
	case StatePending:
		handle.completeLocked(StateCancelled, loader.LoadedImage{}, nil)
		if s.inflight[handle.key] == handle {
			delete(s.inflight, handle.key)
		}
		cancel = handle.cancel
	case StateActive:
		// the context abort surfaces through the loader; run finalizes
		cancel = handle.cancel
	}

	handle.mu.Unlock()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// rearm puts a failed handle back through admission on behalf of
// LoadHandle.Retry.
func (s *RequestScheduler) rearm(handle *LoadHandle) failure.ClassifiedError {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.inflight[handle.key]; exists && existing != handle {
		existing.mu.Lock()
		terminal := existing.terminalLocked()
		existing.mu.Unlock()
		if !terminal {
			return &SchedulerError{
				Message: fmt.Sprintf("resource %q", handle.key),
				Cause:   ErrCauseDuplicateInFlight,
			}
		}
	}

	handle.mu.Lock()
	if handle.state != StateFailed {
		state := handle.state
		handle.mu.Unlock()
		return &SchedulerError{
			Message: fmt.Sprintf("handle is %q", state),
			Cause:   ErrCauseNotRetryable,
		}
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	handle.ctx = ctx
	handle.cancel = cancel
	handle.state = StatePending
	handle.image = loader.LoadedImage{}
	handle.err = nil
	handle.done = make(chan struct{})
	handle.mu.Unlock()

	s.inflight[handle.key] = handle
	s.queues[handle.priority].Enqueue(handle)
	s.dispatchLocked()

	return nil
}

// ActiveForTest reports the number of loads currently holding a slot.
func (s *RequestScheduler) ActiveForTest() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// QueuedForTest reports the queued depth of one priority band.
func (s *RequestScheduler) QueuedForTest(priority Priority) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queues[priority].Size()
}
