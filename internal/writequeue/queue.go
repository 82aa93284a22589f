package writequeue

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rohmanhakim/media-pipeline/internal/telemetry"
	"github.com/rohmanhakim/media-pipeline/pkg/failure"
	"github.com/rohmanhakim/media-pipeline/pkg/hashutil"
)

/*
Queue Responsibilities

- Attempt every write immediately; on any failure, persist it and report
  success to the caller (accepted for eventual delivery)
- Replay persisted writes in enqueue order on each flush trigger
- Delete an entry only after the endpoint acknowledged with a 2xx
- Keep entries forever until delivered or purged; there is no retry cap

Delivery is at-least-once. A flush that dies between the POST and the
delete replays the same write on the next trigger, which is why payloads
must be idempotent.
*/

type Queue struct {
	db            *bolt.DB
	httpClient    *http.Client
	sink          telemetry.EventSink
	flushInterval time.Duration
	online        chan struct{}
}

// Open creates or opens the durable queue database under dir.
func Open(dir string, sink telemetry.EventSink, flushInterval time.Duration) (*Queue, failure.ClassifiedError) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &QueueError{
			Message: fmt.Sprintf("failed to create queue dir: %v", err),
			Cause:   ErrCauseOpenFailed,
		}
	}

	dbPath := filepath.Join(dir, "writequeue.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, &QueueError{
			Message: fmt.Sprintf("failed to open bolt db: %v", err),
			Cause:   ErrCauseOpenFailed,
		}
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, queue := range AllQueues {
			if _, cErr := tx.CreateBucketIfNotExists([]byte(queue)); cErr != nil {
				return cErr
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, &QueueError{
			Message: fmt.Sprintf("failed to prepare buckets: %v", err),
			Cause:   ErrCauseOpenFailed,
		}
	}

	return &Queue{
		db:            db,
		httpClient:    &http.Client{},
		sink:          sink,
		flushInterval: flushInterval,
		online:        make(chan struct{}, 1),
	}, nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}

// Submit attempts immediate delivery and falls back to persistence.
// A nil return means the write was delivered OR accepted for eventual
// delivery; the caller cannot tell which, by design.
func (q *Queue) Submit(ctx context.Context, queue QueueName, endpoint string, payload json.RawMessage) failure.ClassifiedError {
	if !knownQueue(queue) {
		return &QueueError{
			Message: string(queue),
			Cause:   ErrCauseUnknownQueue,
		}
	}

	if q.deliver(ctx, endpoint, payload) {
		return nil
	}

	write := QueuedWrite{
		ID:         writeID(endpoint, payload),
		Endpoint:   endpoint,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}
	if err := q.persist(queue, write); err != nil {
		return err
	}

	// observational: the write is safe, but operators want to see deferrals
	q.sink.RecordError(
		time.Now(),
		"writequeue",
		"Queue.Submit",
		telemetry.CauseDeliveryDeferred,
		"delivery failed, write persisted for replay",
		[]telemetry.Attribute{
			telemetry.NewAttr(telemetry.AttrQueue, string(queue)),
			telemetry.NewAttr(telemetry.AttrEndpoint, endpoint),
		},
	)
	return nil
}

// Flush replays every persisted write in enqueue order. An entry is
// deleted only on a 2xx acknowledgment; failures leave it for the next
// trigger and the iteration moves on.
func (q *Queue) Flush(ctx context.Context) failure.ClassifiedError {
	for _, queue := range AllQueues {
		if err := q.flushQueue(ctx, queue); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) flushQueue(ctx context.Context, queue QueueName) failure.ClassifiedError {
	type pending struct {
		key   []byte
		write QueuedWrite
	}

	var entries []pending
	err := q.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(queue))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var write QueuedWrite
			if uErr := json.Unmarshal(v, &write); uErr != nil {
				return uErr
			}
			entries = append(entries, pending{
				key:   append([]byte(nil), k...),
				write: write,
			})
			return nil
		})
	})
	if err != nil {
		return &QueueError{
			Message: err.Error(),
			Cause:   ErrCauseTransaction,
		}
	}

	delivered := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !q.deliver(ctx, entry.write.Endpoint, entry.write.Payload) {
			continue
		}

		dErr := q.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket([]byte(queue)).Delete(entry.key)
		})
		if dErr != nil {
			return &QueueError{
				Message: dErr.Error(),
				Cause:   ErrCauseTransaction,
			}
		}
		delivered++
	}

	if len(entries) > 0 {
		q.sink.RecordFlush(string(queue), delivered, len(entries)-delivered)
	}
	return nil
}

// Run flushes on a periodic ticker and on reconnect signals until the
// context ends.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-q.online:
		}
		q.Flush(ctx)
	}
}

// NotifyOnline signals that connectivity came back; Run flushes soon
// after. Duplicate signals collapse into one.
func (q *Queue) NotifyOnline() {
	select {
	case q.online <- struct{}{}:
	default:
	}
}

// Pending reports how many writes await delivery in the queue.
func (q *Queue) Pending(queue QueueName) (int, failure.ClassifiedError) {
	if !knownQueue(queue) {
		return 0, &QueueError{
			Message: string(queue),
			Cause:   ErrCauseUnknownQueue,
		}
	}

	var count int
	err := q.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(queue)); b != nil {
			count = b.Stats().KeyN
		}
		return nil
	})
	if err != nil {
		return 0, &QueueError{
			Message: err.Error(),
			Cause:   ErrCauseTransaction,
		}
	}
	return count, nil
}

// Purge drops every pending write in the queue. Operator cleanup only;
// the data is gone.
func (q *Queue) Purge(queue QueueName) failure.ClassifiedError {
	if !knownQueue(queue) {
		return &QueueError{
			Message: string(queue),
			Cause:   ErrCauseUnknownQueue,
		}
	}

	err := q.db.Update(func(tx *bolt.Tx) error {
		if dErr := tx.DeleteBucket([]byte(queue)); dErr != nil {
			return dErr
		}
		_, cErr := tx.CreateBucket([]byte(queue))
		return cErr
	})
	if err != nil {
		return &QueueError{
			Message: err.Error(),
			Cause:   ErrCauseTransaction,
		}
	}
	return nil
}

// deliver performs one POST; true means the endpoint acknowledged.
func (q *Queue) deliver(ctx context.Context, endpoint string, payload json.RawMessage) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := q.httpClient.Do(req)
	if err != nil {
		q.sink.RecordFetch(endpoint, 0, time.Since(startTime), "", 0)
		return false
	}
	defer resp.Body.Close()

	q.sink.RecordFetch(endpoint, resp.StatusCode, time.Since(startTime), resp.Header.Get("Content-Type"), 0)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// persist appends the write under the next sequence number, so bucket
// order is enqueue order.
func (q *Queue) persist(queue QueueName, write QueuedWrite) failure.ClassifiedError {
	data, err := json.Marshal(write)
	if err != nil {
		return &QueueError{
			Message: err.Error(),
			Cause:   ErrCausePersist,
		}
	}

	err = q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(queue))
		seq, sErr := b.NextSequence()
		if sErr != nil {
			return sErr
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, data)
	})
	if err != nil {
		return &QueueError{
			Message: err.Error(),
			Cause:   ErrCausePersist,
		}
	}
	return nil
}

// writeID derives a stable identifier for one queued write.
func writeID(endpoint string, payload json.RawMessage) string {
	material := append([]byte(endpoint), payload...)
	id, err := hashutil.HashBytes(material, hashutil.HashAlgoBLAKE3)
	if err != nil {
		return ""
	}
	return id[:16]
}
