package attention

import (
	"fmt"
	"testing"
	"time"

	"github.com/vigil-agent/vigil/internal/observe"
)

func obs(id int64, priority float64, key string) observe.Observation {
	return observe.Observation{
		ID:             id,
		Timestamp:      time.Now(),
		Source:         observe.SourceFilesystem,
		EventType:      "write",
		PriorityScore:  priority,
		CorrelationKey: key,
	}
}

func TestDequeueOrder(t *testing.T) {
	q := New(100, time.Second, 80)
	q.Enqueue(obs(1, 10, "a"))
	q.Enqueue(obs(2, 90, "b"))
	q.Enqueue(obs(3, 50, "c"))

	batch := q.DequeueBatch(3, 0)
	if len(batch) != 3 {
		t.Fatalf("expected 3 items, got %d", len(batch))
	}
	want := []int64{2, 3, 1}
	for i, item := range batch {
		if item.Observation.ID != want[i] {
			t.Errorf("position %d: got id %d, want %d", i, item.Observation.ID, want[i])
		}
	}
}

func TestFIFOWithinPriority(t *testing.T) {
	q := New(100, 0, 80)
	for i := int64(1); i <= 5; i++ {
		q.Enqueue(obs(i, 40, fmt.Sprintf("k%d", i)))
		time.Sleep(time.Millisecond)
	}

	batch := q.DequeueBatch(5, 0)
	for i, item := range batch {
		if item.Observation.ID != int64(i+1) {
			t.Errorf("position %d: got id %d, want %d", i, item.Observation.ID, i+1)
		}
	}
}

func TestDedupWithinDebounce(t *testing.T) {
	q := New(100, time.Second, 80)
	q.Enqueue(obs(1, 30, "same"))
	second := obs(2, 70, "same")
	second.Payload = map[string]any{"path": "b.go"}
	q.Enqueue(second)

	if q.Len() != 1 {
		t.Fatalf("expected collapse to 1 item, got %d", q.Len())
	}
	item := q.DequeueBatch(1, 0)[0]
	if item.Observation.ID != 2 {
		t.Errorf("expected later payload to win, got id %d", item.Observation.ID)
	}
	if item.Priority != 70 {
		t.Errorf("expected max priority 70, got %v", item.Priority)
	}
}

func TestNoDedupPastDebounce(t *testing.T) {
	q := New(100, 10*time.Millisecond, 80)
	q.Enqueue(obs(1, 30, "same"))
	time.Sleep(20 * time.Millisecond)
	q.Enqueue(obs(2, 30, "same"))

	if q.Len() != 2 {
		t.Fatalf("expected 2 distinct items past the window, got %d", q.Len())
	}
}

func TestCapacityShedsLowestPriority(t *testing.T) {
	q := New(3, 0, 80)
	q.Enqueue(obs(1, 10, "a"))
	q.Enqueue(obs(2, 90, "b"))
	q.Enqueue(obs(3, 50, "c"))
	q.Enqueue(obs(4, 60, "d"))

	if q.Len() != 3 {
		t.Fatalf("expected capacity 3, got %d", q.Len())
	}
	if q.ShedCount() != 1 {
		t.Fatalf("expected 1 shed, got %d", q.ShedCount())
	}
	for _, item := range q.DequeueBatch(3, 0) {
		if item.Observation.ID == 1 {
			t.Error("lowest-priority item survived shedding")
		}
	}
}

func TestDequeueBatchFloor(t *testing.T) {
	q := New(100, 0, 80)
	q.Enqueue(obs(1, 90, "a"))
	q.Enqueue(obs(2, 30, "b"))

	batch := q.DequeueBatch(10, 60)
	if len(batch) != 1 || batch[0].Observation.ID != 1 {
		t.Fatalf("expected only the above-floor item, got %d items", len(batch))
	}
	if q.Len() != 1 {
		t.Errorf("floored-out item should stay queued, len=%d", q.Len())
	}
}

func TestHasUrgent(t *testing.T) {
	q := New(100, 0, 80)
	if q.HasUrgent() {
		t.Error("empty queue reported urgent")
	}
	q.Enqueue(obs(1, 50, "a"))
	if q.HasUrgent() {
		t.Error("50 is below the urgent floor")
	}
	q.Enqueue(obs(2, 85, "b"))
	if !q.HasUrgent() {
		t.Error("85 should be urgent")
	}
}

func TestDropStale(t *testing.T) {
	q := New(100, 0, 80)
	q.Enqueue(obs(1, 50, "a"))
	time.Sleep(5 * time.Millisecond)
	cutoff := time.Now()
	q.Enqueue(obs(2, 50, "b"))

	if dropped := q.DropStale(cutoff); dropped != 1 {
		t.Fatalf("expected 1 dropped, got %d", dropped)
	}
	if q.Len() != 1 {
		t.Errorf("expected 1 remaining, got %d", q.Len())
	}
}

func TestDedupKeyReleasedAfterDequeue(t *testing.T) {
	q := New(100, time.Minute, 80)
	q.Enqueue(obs(1, 50, "same"))
	q.DequeueBatch(1, 0)
	q.Enqueue(obs(2, 50, "same"))
	if q.Len() != 1 {
		t.Fatalf("expected re-enqueue after dequeue, len=%d", q.Len())
	}
}

func TestSnapshotOrdered(t *testing.T) {
	q := New(100, 0, 80)
	q.Enqueue(obs(1, 10, "a"))
	q.Enqueue(obs(2, 90, "b"))

	snap := q.Snapshot()
	if len(snap) != 2 || snap[0].ID != 2 {
		t.Fatalf("snapshot not priority-ordered: %+v", snap)
	}
	if q.Len() != 2 {
		t.Error("snapshot must not drain the queue")
	}
}
