package scheduler

import (
	"sync"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/telemetry"
)

// deferredQueue parks token ids that did not fit into a refresh batch.
// It is a bounded FIFO with dedup: an id already queued is not added
// twice, and pushes beyond capacity are dropped.
type deferredQueue struct {
	mu   sync.Mutex
	ids  []int64
	seen map[int64]struct{}
	cap  int
}

func newDeferredQueue(capacity int) *deferredQueue {
	if capacity <= 0 {
		capacity = 2000
	}
	return &deferredQueue{
		seen: make(map[int64]struct{}, capacity),
		cap:  capacity,
	}
}

// Push queues id. Returns false only when the queue is full; an id that
// is already queued counts as accepted.
func (q *deferredQueue) Push(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.seen[id]; dup {
		return true
	}
	if len(q.ids) >= q.cap {
		telemetry.DeferredDropped.Inc()
		return false
	}
	q.ids = append(q.ids, id)
	q.seen[id] = struct{}{}
	telemetry.DeferredQueueDepth.Set(float64(len(q.ids)))
	return true
}

// Drain removes and returns up to max ids in FIFO order.
func (q *deferredQueue) Drain(max int) []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max <= 0 || len(q.ids) == 0 {
		return nil
	}
	if max > len(q.ids) {
		max = len(q.ids)
	}
	out := make([]int64, max)
	copy(out, q.ids[:max])
	q.ids = append(q.ids[:0], q.ids[max:]...)
	for _, id := range out {
		delete(q.seen, id)
	}
	telemetry.DeferredQueueDepth.Set(float64(len(q.ids)))
	return out
}

// Len reports the queued id count.
func (q *deferredQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}
