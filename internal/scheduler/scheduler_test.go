package scheduler_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/media-pipeline/internal/fallback"
	"github.com/rohmanhakim/media-pipeline/internal/scheduler"
)

func TestEnqueue_DedupsWhileNonTerminal(t *testing.T) {
	policies := newSettablePolicySource(0) // nothing dispatches
	loads := newStubLoader(false)
	sched := scheduler.NewRequestScheduler(context.Background(), policies, loads)

	first := sched.Enqueue(refFor(t, "/courses/1/cover.jpg"), fallback.KindCourse, "design", scheduler.PriorityNormal, nil)
	second := sched.Enqueue(refFor(t, "/courses/1/cover.jpg"), fallback.KindCourse, "design", scheduler.PriorityNormal, nil)

	assert.Same(t, first, second)
	assert.Equal(t, 1, sched.QueuedForTest(scheduler.PriorityNormal))
}

func TestEnqueue_DedupKeyIsCanonical(t *testing.T) {
	policies := newSettablePolicySource(0)
	loads := newStubLoader(false)
	sched := scheduler.NewRequestScheduler(context.Background(), policies, loads)

	first := sched.Enqueue(refFor(t, "/courses/1/cover.jpg"), fallback.KindCourse, "design", scheduler.PriorityNormal, nil)

	// same resource, differently spelled host
	mixed := refFor(t, "/courses/1/cover.jpg")
	mixed.Host = "MEDIA.example.com"
	second := sched.Enqueue(mixed, fallback.KindCourse, "design", scheduler.PriorityNormal, nil)

	assert.Same(t, first, second)
}

func TestDispatch_DrainsPrioritiesInOrder(t *testing.T) {
	policies := newSettablePolicySource(1)
	loads := newStubLoader(true)
	sched := scheduler.NewRequestScheduler(context.Background(), policies, loads)

	// the first enqueue takes the only slot and blocks
	blocker := sched.Enqueue(refFor(t, "/blocker.jpg"), fallback.KindUser, "", scheduler.PriorityNormal, nil)
	require.Equal(t, "/blocker.jpg", loads.nextStarted(t))

	// queue up one item per band, lowest priority first
	preload := sched.Enqueue(refFor(t, "/preload.jpg"), fallback.KindUser, "", scheduler.PriorityPreload, nil)
	normal := sched.Enqueue(refFor(t, "/normal.jpg"), fallback.KindUser, "", scheduler.PriorityNormal, nil)
	critical := sched.Enqueue(refFor(t, "/critical.jpg"), fallback.KindUser, "", scheduler.PriorityCritical, nil)

	loads.release()

	assert.Equal(t, "/critical.jpg", loads.nextStarted(t))
	assert.Equal(t, "/normal.jpg", loads.nextStarted(t))
	assert.Equal(t, "/preload.jpg", loads.nextStarted(t))

	for _, handle := range []*scheduler.LoadHandle{blocker, preload, normal, critical} {
		waitDone(t, handle)
		assert.Equal(t, scheduler.StateSucceeded, handle.State())
	}
}

func TestDispatch_ConcurrencyCapGatesSlots(t *testing.T) {
	policies := newSettablePolicySource(2)
	loads := newStubLoader(true)
	sched := scheduler.NewRequestScheduler(context.Background(), policies, loads)

	sched.Enqueue(refFor(t, "/a.jpg"), fallback.KindUser, "", scheduler.PriorityNormal, nil)
	sched.Enqueue(refFor(t, "/b.jpg"), fallback.KindUser, "", scheduler.PriorityNormal, nil)
	third := sched.Enqueue(refFor(t, "/c.jpg"), fallback.KindUser, "", scheduler.PriorityNormal, nil)

	loads.nextStarted(t)
	loads.nextStarted(t)
	loads.noneStarted(t)

	assert.Equal(t, 2, sched.ActiveForTest())
	assert.Equal(t, scheduler.StatePending, third.State())

	loads.release()
	assert.Equal(t, "/c.jpg", loads.nextStarted(t))
	waitDone(t, third)
}

func TestDispatch_CapIsReReadAtEachDispatchPoint(t *testing.T) {
	policies := newSettablePolicySource(1)
	loads := newStubLoader(true)
	sched := scheduler.NewRequestScheduler(context.Background(), policies, loads)

	sched.Enqueue(refFor(t, "/a.jpg"), fallback.KindUser, "", scheduler.PriorityNormal, nil)
	require.Equal(t, "/a.jpg", loads.nextStarted(t))

	sched.Enqueue(refFor(t, "/b.jpg"), fallback.KindUser, "", scheduler.PriorityNormal, nil)
	loads.noneStarted(t)

	// the band improved; the next enqueue dispatches under the new cap
	policies.setMaxConcurrent(3)
	sched.Enqueue(refFor(t, "/c.jpg"), fallback.KindUser, "", scheduler.PriorityNormal, nil)

	started := map[string]bool{
		loads.nextStarted(t): true,
		loads.nextStarted(t): true,
	}
	assert.True(t, started["/b.jpg"])
	assert.True(t, started["/c.jpg"])
	assert.Equal(t, 3, sched.ActiveForTest())

	loads.release()
}

func TestCancel_PendingHandleNeverReachesTheLoader(t *testing.T) {
	policies := newSettablePolicySource(1)
	loads := newStubLoader(true)
	sched := scheduler.NewRequestScheduler(context.Background(), policies, loads)

	sched.Enqueue(refFor(t, "/blocker.jpg"), fallback.KindUser, "", scheduler.PriorityNormal, nil)
	require.Equal(t, "/blocker.jpg", loads.nextStarted(t))

	withdrawn := sched.Enqueue(refFor(t, "/withdrawn.jpg"), fallback.KindUser, "", scheduler.PriorityNormal, nil)
	survivor := sched.Enqueue(refFor(t, "/survivor.jpg"), fallback.KindUser, "", scheduler.PriorityNormal, nil)

	withdrawn.Cancel()
	waitDone(t, withdrawn)
	assert.Equal(t, scheduler.StateCancelled, withdrawn.State())

	loads.release()

	// the freed slot skips the withdrawn handle entirely
	assert.Equal(t, "/survivor.jpg", loads.nextStarted(t))
	waitDone(t, survivor)
}

func TestCancel_ActiveHandleAbortsThroughContext(t *testing.T) {
	policies := newSettablePolicySource(1)
	loads := newStubLoader(true)
	sched := scheduler.NewRequestScheduler(context.Background(), policies, loads)

	handle := sched.Enqueue(refFor(t, "/a.jpg"), fallback.KindUser, "", scheduler.PriorityNormal, nil)
	require.Equal(t, "/a.jpg", loads.nextStarted(t))

	handle.Cancel()
	waitDone(t, handle)

	assert.Equal(t, scheduler.StateCancelled, handle.State())
	_, err := handle.Result()
	require.Error(t, err)
}

func TestCancel_FreedSlotRefillsImmediately(t *testing.T) {
	policies := newSettablePolicySource(1)
	loads := newStubLoader(true)
	sched := scheduler.NewRequestScheduler(context.Background(), policies, loads)

	active := sched.Enqueue(refFor(t, "/a.jpg"), fallback.KindUser, "", scheduler.PriorityNormal, nil)
	require.Equal(t, "/a.jpg", loads.nextStarted(t))
	sched.Enqueue(refFor(t, "/b.jpg"), fallback.KindUser, "", scheduler.PriorityNormal, nil)

	active.Cancel()
	waitDone(t, active)

	assert.Equal(t, "/b.jpg", loads.nextStarted(t))

	loads.release()
}

func TestRetry_ReArmsFailedHandle(t *testing.T) {
	policies := newSettablePolicySource(1)
	loads := newStubLoader(false)
	loads.fail = true
	sched := scheduler.NewRequestScheduler(context.Background(), policies, loads)

	handle := sched.Enqueue(refFor(t, "/a.jpg"), fallback.KindUser, "", scheduler.PriorityNormal, nil)
	loads.nextStarted(t)
	waitDone(t, handle)
	require.Equal(t, scheduler.StateFailed, handle.State())

	loads.mu.Lock()
	loads.fail = false
	loads.mu.Unlock()

	require.NoError(t, handle.Retry())

	loads.nextStarted(t)
	waitDone(t, handle)
	assert.Equal(t, scheduler.StateSucceeded, handle.State())

	image, err := handle.Result()
	require.NoError(t, err)
	assert.Equal(t, []byte("body"), image.Body())
}

func TestRetry_RejectsNonFailedHandle(t *testing.T) {
	policies := newSettablePolicySource(1)
	loads := newStubLoader(false)
	sched := scheduler.NewRequestScheduler(context.Background(), policies, loads)

	handle := sched.Enqueue(refFor(t, "/a.jpg"), fallback.KindUser, "", scheduler.PriorityNormal, nil)
	loads.nextStarted(t)
	waitDone(t, handle)
	require.Equal(t, scheduler.StateSucceeded, handle.State())

	err := handle.Retry()

	var schedErr *scheduler.SchedulerError
	require.Error(t, err)
	require.True(t, errors.As(err, &schedErr))
	assert.Equal(t, scheduler.SchedulerErrorCause(scheduler.ErrCauseNotRetryable), schedErr.Cause)
}

func TestCompletion_FreesSlotAndRefills(t *testing.T) {
	policies := newSettablePolicySource(1)
	loads := newStubLoader(false)
	sched := scheduler.NewRequestScheduler(context.Background(), policies, loads)

	first := sched.Enqueue(refFor(t, "/a.jpg"), fallback.KindUser, "", scheduler.PriorityNormal, nil)
	second := sched.Enqueue(refFor(t, "/b.jpg"), fallback.KindUser, "", scheduler.PriorityNormal, nil)

	waitDone(t, first)
	waitDone(t, second)

	assert.Equal(t, scheduler.StateSucceeded, first.State())
	assert.Equal(t, scheduler.StateSucceeded, second.State())
	assert.Equal(t, 0, sched.ActiveForTest())

	// a finished resource may be admitted again
	again := sched.Enqueue(refFor(t, "/a.jpg"), fallback.KindUser, "", scheduler.PriorityNormal, nil)
	assert.NotSame(t, first, again)
	waitDone(t, again)
}
