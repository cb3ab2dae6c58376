// Package attention provides the priority-ordered buffer of pending
// observations awaiting processing.
package attention

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"

	"github.com/vigil-agent/vigil/internal/observe"
)

// Item wraps an observation with its mutable queue priority and enqueue time.
// Ordered by (priority desc, enqueuedAt asc).
type Item struct {
	Observation observe.Observation
	Priority    float64
	EnqueuedAt  time.Time

	index int // heap bookkeeping; -1 once removed
}

// Queue is the attention queue. Enqueue never blocks; memory is bounded by
// capacity-triggered shedding of the oldest lowest-priority items.
type Queue struct {
	mu       sync.Mutex
	heap     itemHeap
	byKey    map[string]*Item // correlation key -> live item, for dedup
	capacity int
	debounce time.Duration

	urgentFloor float64
	shedCount   int64
}

// New creates a queue with the given hard capacity and dedup debounce window.
// Items at or above urgentFloor are considered urgent.
func New(capacity int, debounce time.Duration, urgentFloor float64) *Queue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Queue{
		byKey:       make(map[string]*Item),
		capacity:    capacity,
		debounce:    debounce,
		urgentFloor: urgentFloor,
	}
}

// Offer implements observe.Sink.
func (q *Queue) Offer(obs observe.Observation) {
	q.Enqueue(obs)
}

// Enqueue adds an observation and returns its queue item. Two observations
// sharing a correlation key within the debounce window collapse into one
// item carrying the later payload and the max of the two priorities.
func (q *Queue) Enqueue(obs observe.Observation) *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()

	if obs.CorrelationKey != "" {
		if existing, ok := q.byKey[obs.CorrelationKey]; ok && now.Sub(existing.EnqueuedAt) <= q.debounce {
			existing.Observation = obs
			if obs.PriorityScore > existing.Priority {
				existing.Priority = obs.PriorityScore
				heap.Fix(&q.heap, existing.index)
			}
			return existing
		}
	}

	item := &Item{
		Observation: obs,
		Priority:    obs.PriorityScore,
		EnqueuedAt:  now,
	}
	heap.Push(&q.heap, item)
	if obs.CorrelationKey != "" {
		q.byKey[obs.CorrelationKey] = item
	}

	q.shedOverflowLocked()
	return item
}

// DequeueBatch removes and returns up to maxItems items in priority order,
// skipping items below priorityFloor. Floored-out items stay queued.
func (q *Queue) DequeueBatch(maxItems int, priorityFloor float64) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*Item
	var skipped []*Item
	for len(out) < maxItems && q.heap.Len() > 0 {
		item := heap.Pop(&q.heap).(*Item)
		if item.Priority < priorityFloor {
			skipped = append(skipped, item)
			break // heap order: everything below the top is no higher
		}
		q.forgetLocked(item)
		out = append(out, item)
	}
	for _, item := range skipped {
		heap.Push(&q.heap, item)
	}
	return out
}

// HasUrgent reports whether any queued item is at or above the urgent floor.
func (q *Queue) HasUrgent() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len() > 0 && q.heap[0].Priority >= q.urgentFloor
}

// DropStale removes items enqueued before the cutoff and returns the count.
func (q *Queue) DropStale(olderThan time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := 0
	for i := 0; i < q.heap.Len(); {
		if q.heap[i].EnqueuedAt.Before(olderThan) {
			item := q.heap[i]
			heap.Remove(&q.heap, i)
			q.forgetLocked(item)
			dropped++
			continue
		}
		i++
	}
	if dropped > 0 {
		slog.Debug("Attention queue dropped stale items", "count", dropped)
	}
	return dropped
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// ShedCount returns the number of items dropped by capacity shedding since
// the queue was created.
func (q *Queue) ShedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shedCount
}

// Snapshot returns the queued observations, highest priority first. Used for
// session checkpoints.
func (q *Queue) Snapshot() []observe.Observation {
	q.mu.Lock()
	defer q.mu.Unlock()

	sorted := make(itemHeap, len(q.heap))
	copy(sorted, q.heap)
	out := make([]observe.Observation, 0, len(sorted))
	for sorted.Len() > 0 {
		out = append(out, heap.Pop(&sorted).(*Item).Observation)
	}
	return out
}

// shedOverflowLocked enforces the hard capacity by dropping the oldest of
// the lowest-priority items first.
func (q *Queue) shedOverflowLocked() {
	for q.heap.Len() > q.capacity {
		worst := 0
		for i := 1; i < q.heap.Len(); i++ {
			w, c := q.heap[worst], q.heap[i]
			if c.Priority < w.Priority || (c.Priority == w.Priority && c.EnqueuedAt.Before(w.EnqueuedAt)) {
				worst = i
			}
		}
		item := q.heap[worst]
		heap.Remove(&q.heap, worst)
		q.forgetLocked(item)
		q.shedCount++
		slog.Debug("Attention queue shed item",
			"id", item.Observation.ID, "priority", item.Priority, "shed_total", q.shedCount)
	}
}

func (q *Queue) forgetLocked(item *Item) {
	key := item.Observation.CorrelationKey
	if key != "" && q.byKey[key] == item {
		delete(q.byKey, key)
	}
}

// itemHeap orders items by priority desc, enqueue time asc.
type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	item := x.(*Item)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}
