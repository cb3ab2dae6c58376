package observe

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu   sync.Mutex
	seen []Observation
}

func (c *captureSink) Offer(obs Observation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, obs)
}

func (c *captureSink) last(t *testing.T) Observation {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.seen) == 0 {
		t.Fatal("no observation captured")
	}
	return c.seen[len(c.seen)-1]
}

var testWeights = map[string]float64{
	"filesystem": 30,
	"git":        50,
	"system":     70,
}

func TestEmitAssignsIdentity(t *testing.T) {
	sink := &captureSink{}
	bus := NewBus(sink, testWeights, time.Minute)

	bus.Emit(Observation{Source: SourceFilesystem, EventType: "write"})
	bus.Emit(Observation{Source: SourceFilesystem, EventType: "write"})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.seen[0].ID == 0 || sink.seen[1].ID == 0 {
		t.Fatal("ids not assigned")
	}
	if sink.seen[1].ID <= sink.seen[0].ID {
		t.Errorf("ids not monotonic: %d then %d", sink.seen[0].ID, sink.seen[1].ID)
	}
	if sink.seen[0].Timestamp.IsZero() {
		t.Error("timestamp not assigned")
	}
}

func TestSourceWeightDrivesScore(t *testing.T) {
	sink := &captureSink{}
	bus := NewBus(sink, testWeights, time.Minute)

	bus.Emit(Observation{Source: SourceFilesystem, EventType: "write"})
	fs := sink.last(t)
	bus.Emit(Observation{Source: SourceGit, EventType: "commit"})
	git := sink.last(t)

	if git.PriorityScore <= fs.PriorityScore {
		t.Errorf("git %v should outscore filesystem %v", git.PriorityScore, fs.PriorityScore)
	}
}

func TestDeltaRaisesScore(t *testing.T) {
	sink := &captureSink{}
	bus := NewBus(sink, testWeights, time.Minute)

	bus.Emit(Observation{Source: SourceFilesystem, EventType: "write", CorrelationKey: "a"})
	plain := sink.last(t)
	bus.Emit(Observation{
		Source: SourceFilesystem, EventType: "write", CorrelationKey: "b",
		Payload: map[string]any{"delta": 1.0},
	})
	big := sink.last(t)

	if big.PriorityScore <= plain.PriorityScore {
		t.Errorf("delta should raise score: %v vs %v", big.PriorityScore, plain.PriorityScore)
	}
}

func TestRepeatPenaltyLowersScore(t *testing.T) {
	sink := &captureSink{}
	bus := NewBus(sink, testWeights, time.Minute)

	bus.Emit(Observation{Source: SourceFilesystem, EventType: "write", CorrelationKey: "noisy"})
	first := sink.last(t)
	for i := 0; i < 3; i++ {
		bus.Emit(Observation{Source: SourceFilesystem, EventType: "write", CorrelationKey: "noisy"})
	}
	repeated := sink.last(t)

	if repeated.PriorityScore >= first.PriorityScore {
		t.Errorf("repeats should score lower: first %v, repeated %v",
			first.PriorityScore, repeated.PriorityScore)
	}
}

func TestInterruptBoost(t *testing.T) {
	sink := &captureSink{}
	bus := NewBus(sink, testWeights, time.Minute)

	bus.Emit(Observation{Source: SourceSystem, EventType: "shutdown_requested", Interrupt: true})
	obs := sink.last(t)
	if obs.PriorityScore != 70+InterruptBoost {
		t.Errorf("got score %v, want %v", obs.PriorityScore, 70+InterruptBoost)
	}
}

func TestScoreClampedToRange(t *testing.T) {
	sink := &captureSink{}
	bus := NewBus(sink, map[string]float64{"system": 95}, time.Minute)

	bus.Emit(Observation{
		Source: SourceSystem, EventType: "alert", Interrupt: true,
		Payload: map[string]any{"delta": 1.0},
	})
	if obs := sink.last(t); obs.PriorityScore > 100 {
		t.Errorf("score %v above ceiling", obs.PriorityScore)
	}
}

func TestPresetScoreKept(t *testing.T) {
	sink := &captureSink{}
	bus := NewBus(sink, testWeights, time.Minute)

	bus.Emit(Observation{Source: SourceTask, EventType: "task_completed", PriorityScore: 42})
	if obs := sink.last(t); obs.PriorityScore != 42 {
		t.Errorf("preset score overwritten: %v", obs.PriorityScore)
	}
}

func TestUnknownSourceDefaultWeight(t *testing.T) {
	sink := &captureSink{}
	bus := NewBus(sink, testWeights, time.Minute)

	bus.Emit(Observation{Source: SourceProcess, EventType: "exit"})
	if obs := sink.last(t); obs.PriorityScore != 20 {
		t.Errorf("got %v, want default 20", obs.PriorityScore)
	}
}

func TestRecentKeyTrackingIsBounded(t *testing.T) {
	sink := &captureSink{}
	bus := NewBus(sink, testWeights, 10*time.Millisecond)

	base := time.Now()
	for i := 0; i < 500; i++ {
		bus.Emit(Observation{
			Source:         SourceFilesystem,
			EventType:      "write",
			CorrelationKey: fmt.Sprintf("fs:file-%d", i),
			Timestamp:      base,
		})
	}

	// One emission well past the window sweeps out every aged key.
	bus.Emit(Observation{
		Source:         SourceFilesystem,
		EventType:      "write",
		CorrelationKey: "fs:later",
		Timestamp:      base.Add(time.Second),
	})

	bus.mu.Lock()
	tracked := len(bus.recent)
	bus.mu.Unlock()
	if tracked != 1 {
		t.Fatalf("aged-out keys not dropped: %d still tracked", tracked)
	}
}
