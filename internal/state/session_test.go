package state

import "testing"

func TestWorkingMemoryRing(t *testing.T) {
	wm := WorkingMemory{Limit: 3}
	for i := int64(1); i <= 5; i++ {
		wm.Add(MemoryItem{Note: "n", Iteration: i})
	}
	if len(wm.Items) != 3 {
		t.Fatalf("got %d items, want 3", len(wm.Items))
	}
	if wm.Items[0].Iteration != 3 || wm.Items[2].Iteration != 5 {
		t.Errorf("oldest entries should fall off: %+v", wm.Items)
	}
}

func TestWorkingMemoryUnbounded(t *testing.T) {
	wm := WorkingMemory{}
	for i := int64(1); i <= 10; i++ {
		wm.Add(MemoryItem{Iteration: i})
	}
	if len(wm.Items) != 10 {
		t.Fatalf("zero limit means unbounded, got %d", len(wm.Items))
	}
}
