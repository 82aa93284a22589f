package writequeue_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/media-pipeline/internal/telemetry"
	"github.com/rohmanhakim/media-pipeline/internal/writequeue"
)

// ackServer is a write endpoint whose availability can be toggled. It
// records every payload it acknowledged.
type ackServer struct {
	mu       sync.Mutex
	down     bool
	accepted []string
	server   *httptest.Server
}

func newAckServer(t *testing.T) *ackServer {
	t.Helper()
	a := &ackServer{}
	a.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		a.mu.Lock()
		defer a.mu.Unlock()
		if a.down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		a.accepted = append(a.accepted, string(body))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(a.server.Close)
	return a
}

func (a *ackServer) setDown(down bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.down = down
}

func (a *ackServer) deliveries() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.accepted))
	copy(out, a.accepted)
	return out
}

func (a *ackServer) endpoint() string {
	return a.server.URL + "/api/progress"
}

func openQueueForTest(t *testing.T) *writequeue.Queue {
	t.Helper()
	queue, err := writequeue.Open(t.TempDir(), telemetry.NewMultiSink(), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })
	return queue
}

func pendingCount(t *testing.T, queue *writequeue.Queue, name writequeue.QueueName) int {
	t.Helper()
	count, err := queue.Pending(name)
	require.NoError(t, err)
	return count
}

func TestSubmit_DeliveredImmediatelyIsNotPersisted(t *testing.T) {
	server := newAckServer(t)
	queue := openQueueForTest(t)

	err := queue.Submit(context.Background(), writequeue.QueueCourseProgress, server.endpoint(), json.RawMessage(`{"progress":50}`))

	require.NoError(t, err)
	assert.Equal(t, []string{`{"progress":50}`}, server.deliveries())
	assert.Equal(t, 0, pendingCount(t, queue, writequeue.QueueCourseProgress))
}

func TestSubmit_FailedDeliveryPersistsAndReportsSuccess(t *testing.T) {
	server := newAckServer(t)
	server.setDown(true)
	queue := openQueueForTest(t)

	err := queue.Submit(context.Background(), writequeue.QueueCourseProgress, server.endpoint(), json.RawMessage(`{"progress":50}`))

	require.NoError(t, err) // accepted for eventual delivery
	assert.Empty(t, server.deliveries())
	assert.Equal(t, 1, pendingCount(t, queue, writequeue.QueueCourseProgress))
}

func TestSubmit_UnknownQueueIsRejected(t *testing.T) {
	queue := openQueueForTest(t)

	err := queue.Submit(context.Background(), writequeue.QueueName("bogus"), "http://example.invalid", json.RawMessage(`{}`))

	var queueErr *writequeue.QueueError
	require.Error(t, err)
	require.True(t, errors.As(err, &queueErr))
	assert.Equal(t, writequeue.QueueErrorCause(writequeue.ErrCauseUnknownQueue), queueErr.Cause)
}

func TestFlush_AtLeastOnceDelivery(t *testing.T) {
	server := newAckServer(t)
	server.setDown(true)
	queue := openQueueForTest(t)

	require.NoError(t, queue.Submit(context.Background(), writequeue.QueueCourseProgress, server.endpoint(), json.RawMessage(`{"progress":80}`)))
	require.Equal(t, 1, pendingCount(t, queue, writequeue.QueueCourseProgress))

	// network restored, flush triggered
	server.setDown(false)
	require.NoError(t, queue.Flush(context.Background()))

	assert.Equal(t, []string{`{"progress":80}`}, server.deliveries())
	assert.Equal(t, 0, pendingCount(t, queue, writequeue.QueueCourseProgress))

	// a second trigger has nothing to replay
	require.NoError(t, queue.Flush(context.Background()))
	assert.Len(t, server.deliveries(), 1)
}

func TestFlush_ReplaysInEnqueueOrder(t *testing.T) {
	server := newAckServer(t)
	server.setDown(true)
	queue := openQueueForTest(t)

	for i := 1; i <= 3; i++ {
		payload := json.RawMessage(fmt.Sprintf(`{"step":%d}`, i))
		require.NoError(t, queue.Submit(context.Background(), writequeue.QueueAnalytics, server.endpoint(), payload))
	}

	server.setDown(false)
	require.NoError(t, queue.Flush(context.Background()))

	assert.Equal(t, []string{`{"step":1}`, `{"step":2}`, `{"step":3}`}, server.deliveries())
	assert.Equal(t, 0, pendingCount(t, queue, writequeue.QueueAnalytics))
}

func TestFlush_FailedEntryStaysForNextTrigger(t *testing.T) {
	queue := openQueueForTest(t)

	// down while the writes arrive; once back up, one specific payload
	// keeps failing while the rest are acknowledged
	var mu sync.Mutex
	var accepted []string
	up := false
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mu.Lock()
		defer mu.Unlock()
		if !up || string(body) == `{"step":2}` {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		accepted = append(accepted, string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer endpoint.Close()

	for i := 1; i <= 3; i++ {
		payload := json.RawMessage(fmt.Sprintf(`{"step":%d}`, i))
		require.NoError(t, queue.Submit(context.Background(), writequeue.QueueAnalytics, endpoint.URL, payload))
	}
	require.Equal(t, 3, pendingCount(t, queue, writequeue.QueueAnalytics))

	mu.Lock()
	up = true
	mu.Unlock()

	require.NoError(t, queue.Flush(context.Background()))

	// the iteration moved past the failure
	mu.Lock()
	assert.Equal(t, []string{`{"step":1}`, `{"step":3}`}, accepted)
	mu.Unlock()
	assert.Equal(t, 1, pendingCount(t, queue, writequeue.QueueAnalytics))
}

func TestPurge_DropsAllPendingWrites(t *testing.T) {
	server := newAckServer(t)
	server.setDown(true)
	queue := openQueueForTest(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, queue.Submit(context.Background(), writequeue.QueueAnalytics, server.endpoint(), json.RawMessage(`{}`)))
	}
	require.Equal(t, 4, pendingCount(t, queue, writequeue.QueueAnalytics))

	require.NoError(t, queue.Purge(writequeue.QueueAnalytics))
	assert.Equal(t, 0, pendingCount(t, queue, writequeue.QueueAnalytics))

	// purging one queue leaves the other alone
	require.NoError(t, queue.Submit(context.Background(), writequeue.QueueCourseProgress, server.endpoint(), json.RawMessage(`{}`)))
	require.NoError(t, queue.Purge(writequeue.QueueAnalytics))
	assert.Equal(t, 1, pendingCount(t, queue, writequeue.QueueCourseProgress))
}

func TestRun_ReconnectSignalTriggersFlush(t *testing.T) {
	server := newAckServer(t)
	server.setDown(true)
	queue := openQueueForTest(t)

	require.NoError(t, queue.Submit(context.Background(), writequeue.QueueCourseProgress, server.endpoint(), json.RawMessage(`{"progress":100}`)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Run(ctx)

	server.setDown(false)
	queue.NotifyOnline()

	assert.Eventually(t, func() bool {
		return pendingCount(t, queue, writequeue.QueueCourseProgress) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{`{"progress":100}`}, server.deliveries())
}

func TestQueuedWrites_SurviveReopen(t *testing.T) {
	dir := t.TempDir()
	server := newAckServer(t)
	server.setDown(true)

	queue, err := writequeue.Open(dir, telemetry.NewMultiSink(), time.Hour)
	require.NoError(t, err)
	require.NoError(t, queue.Submit(context.Background(), writequeue.QueueCourseProgress, server.endpoint(), json.RawMessage(`{"progress":10}`)))
	require.NoError(t, queue.Close())

	reopened, err := writequeue.Open(dir, telemetry.NewMultiSink(), time.Hour)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 1, pendingCount(t, reopened, writequeue.QueueCourseProgress))

	server.setDown(false)
	require.NoError(t, reopened.Flush(context.Background()))
	assert.Equal(t, []string{`{"progress":10}`}, server.deliveries())
}
