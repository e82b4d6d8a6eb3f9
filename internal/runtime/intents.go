package runtime

import (
	"sync"

	"github.com/google/uuid"

	"spellforge/server/internal/telemetry"
)

const (
	intentQueueOccupancyMetricKey = "runtime_intent_queue_occupancy"
	intentQueueOverflowMetricKey  = "runtime_intent_queue_overflow_total"
)

// Intent is a cast request staged by a transport goroutine for the next
// tick.
type Intent struct {
	Actor      uuid.UUID
	Ability    string
	Scope      string
	Attributes map[string]float64
}

// IntentQueue stores staged intents in a fixed-size ring. It is safe for
// concurrent producers and a single consumer.
type IntentQueue struct {
	mu      sync.Mutex
	data    []Intent
	head    int
	tail    int
	count   int
	metrics telemetry.Metrics
}

func NewIntentQueue(capacity int, metrics telemetry.Metrics) *IntentQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &IntentQueue{
		data:    make([]Intent, capacity),
		metrics: metrics,
	}
}

func (q *IntentQueue) Capacity() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

// Push stages an intent, returning false if the queue is full.
func (q *IntentQueue) Push(intent Intent) bool {
	if q == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == len(q.data) {
		if q.metrics != nil {
			q.metrics.Add(intentQueueOverflowMetricKey, 1)
		}
		return false
	}
	q.data[q.tail] = intent
	q.tail = (q.tail + 1) % len(q.data)
	q.count++
	q.storeOccupancyLocked()
	return true
}

// Drain returns staged intents in FIFO order and empties the queue.
func (q *IntentQueue) Drain() []Intent {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return nil
	}
	intents := make([]Intent, q.count)
	for i := 0; i < q.count; i++ {
		intents[i] = q.data[(q.head+i)%len(q.data)]
	}
	q.resetLocked()
	return intents
}

// DropActor removes every staged intent belonging to actor, keeping the
// order of the rest, and returns how many were removed.
func (q *IntentQueue) DropActor(actor uuid.UUID) int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return 0
	}
	kept := make([]Intent, 0, q.count)
	for i := 0; i < q.count; i++ {
		intent := q.data[(q.head+i)%len(q.data)]
		if intent.Actor != actor {
			kept = append(kept, intent)
		}
	}
	removed := q.count - len(kept)
	if removed == 0 {
		return 0
	}
	q.resetLocked()
	for _, intent := range kept {
		q.data[q.tail] = intent
		q.tail = (q.tail + 1) % len(q.data)
		q.count++
	}
	q.storeOccupancyLocked()
	return removed
}

func (q *IntentQueue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *IntentQueue) resetLocked() {
	for i := range q.data {
		q.data[i] = Intent{}
	}
	q.head = 0
	q.tail = 0
	q.count = 0
	q.storeOccupancyLocked()
}

func (q *IntentQueue) storeOccupancyLocked() {
	if q.metrics == nil {
		return
	}
	q.metrics.Store(intentQueueOccupancyMetricKey, uint64(q.count))
}
