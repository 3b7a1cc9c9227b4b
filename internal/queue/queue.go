// Package queue implements the two-lane speech queue: VIP utterances are
// always served before normal ones, and a full lane drops its oldest item.
package queue

import (
	"sync"

	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/metrics"
)

// Lane names, also used as metric labels.
const (
	LaneVIP    = "vip"
	LaneNormal = "normal"
)

// Queue is safe for concurrent use by one producer and one consumer (and
// any number of control callers).
type Queue struct {
	mu       sync.Mutex
	capacity int
	vip      []domain.Utterance
	normal   []domain.Utterance
	ready    chan struct{}
}

// New creates a queue holding at most capacity items per lane.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Ready is signalled after every Enqueue. Consumers select on it instead
// of sleeping for the full poll interval.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// SetCapacity changes the per-lane limit. Lanes already over the new
// limit are trimmed from the oldest end.
func (q *Queue) SetCapacity(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.capacity = capacity
	q.vip = q.trim(q.vip, LaneVIP)
	q.normal = q.trim(q.normal, LaneNormal)
	q.report()
}

// Enqueue appends u to its lane, evicting the lane's oldest item when
// full. It reports whether an item was evicted.
func (q *Queue) Enqueue(u domain.Utterance, vip bool) (evicted bool) {
	q.mu.Lock()
	u.VIP = vip
	if vip {
		evicted = len(q.vip) >= q.capacity
		q.vip = q.trim(append(q.vip, u), LaneVIP)
	} else {
		evicted = len(q.normal) >= q.capacity
		q.normal = q.trim(append(q.normal, u), LaneNormal)
	}
	q.report()
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return evicted
}

// Dequeue pops the next utterance: VIP lane first, then normal. It never
// blocks.
func (q *Queue) Dequeue() (domain.Utterance, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var u domain.Utterance
	switch {
	case len(q.vip) > 0:
		u, q.vip = q.vip[0], q.vip[1:]
	case len(q.normal) > 0:
		u, q.normal = q.normal[0], q.normal[1:]
	default:
		return domain.Utterance{}, false
	}
	q.report()
	return u, true
}

// Clear drops everything and returns how many items were removed.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.vip) + len(q.normal)
	q.vip, q.normal = nil, nil
	q.report()
	return n
}

// Len returns the number of waiting items per lane.
func (q *Queue) Len() (vip, normal int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.vip), len(q.normal)
}

// trim must be called with mu held.
func (q *Queue) trim(lane []domain.Utterance, name string) []domain.Utterance {
	over := len(lane) - q.capacity
	if over <= 0 {
		return lane
	}
	metrics.QueueEvictions.WithLabelValues(name).Add(float64(over))
	// Copy so the dropped prefix can be collected.
	out := make([]domain.Utterance, q.capacity)
	copy(out, lane[over:])
	return out
}

func (q *Queue) report() {
	metrics.QueueDepth.WithLabelValues(LaneVIP).Set(float64(len(q.vip)))
	metrics.QueueDepth.WithLabelValues(LaneNormal).Set(float64(len(q.normal)))
}
