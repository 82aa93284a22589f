package writequeue

import (
	"encoding/json"
	"time"
)

// QueueName identifies one logical queue. The set is closed.
type QueueName string

const (
	// QueueCourseProgress: lesson/course progress writes.
	QueueCourseProgress QueueName = "course-progress"
	// QueueAnalytics: behavioral event writes.
	QueueAnalytics QueueName = "analytics"
)

// AllQueues is the full queue set, in bucket creation order.
var AllQueues = []QueueName{QueueCourseProgress, QueueAnalytics}

func knownQueue(queue QueueName) bool {
	for _, known := range AllQueues {
		if queue == known {
			return true
		}
	}
	return false
}

// QueuedWrite is one deferred delivery. Payloads must be idempotent at
// the receiving endpoint ("set progress to X", never "increment by 1"):
// replay is at-least-once.
type QueuedWrite struct {
	ID         string          `json:"id"`
	Endpoint   string          `json:"endpoint"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}
