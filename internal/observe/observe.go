// Package observe defines observations and the bus that ingests them.
package observe

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Source identifies the kind of collaborator an observation came from.
type Source string

const (
	SourceFilesystem Source = "filesystem"
	SourceProcess    Source = "process"
	SourceGit        Source = "git"
	SourceTask       Source = "task"
	SourceSystem     Source = "system"
)

// InterruptBoost is added to the priority score of interrupt-flagged
// observations so they outrank ordinary traffic.
const InterruptBoost = 10

// Observation is a typed, timestamped fact ingested from an external monitor.
// Immutable once created.
type Observation struct {
	ID             int64          `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	Source         Source         `json:"source"`
	EventType      string         `json:"event_type"`
	Payload        map[string]any `json:"payload,omitempty"`
	PriorityScore  float64        `json:"priority_score"`
	CorrelationKey string         `json:"correlation_key"`
	Interrupt      bool           `json:"interrupt,omitempty"`
}

// Emitter is the single capability observers hold. Observers never get a
// reference back into the core.
type Emitter interface {
	Emit(obs Observation)
}

// Sink receives scored observations from the bus. Offer must not block.
type Sink interface {
	Offer(obs Observation)
}

// Bus assigns monotonic ids, scores significance, suppresses noisy repeats,
// and forwards observations into the attention queue.
type Bus struct {
	sink          Sink
	sourceWeights map[string]float64

	nextID atomic.Int64

	mu        sync.Mutex
	recent    map[string][]time.Time // correlation key -> recent emit times
	lastSweep time.Time

	freqWindow time.Duration
}

// NewBus creates a Bus feeding the given sink.
func NewBus(sink Sink, sourceWeights map[string]float64, freqWindow time.Duration) *Bus {
	if freqWindow <= 0 {
		freqWindow = 30 * time.Second
	}
	return &Bus{
		sink:          sink,
		sourceWeights: sourceWeights,
		recent:        make(map[string][]time.Time),
		freqWindow:    freqWindow,
	}
}

// Emit ingests one observation. Missing ids and timestamps are filled in,
// a zero priority score is computed from the scoring rules, and the result
// is offered to the sink. Never blocks.
func (b *Bus) Emit(obs Observation) {
	if obs.ID == 0 {
		obs.ID = b.nextID.Add(1)
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now()
	}
	if obs.PriorityScore == 0 {
		obs.PriorityScore = b.score(obs)
	}
	if obs.Interrupt {
		obs.PriorityScore += InterruptBoost
	}
	if obs.PriorityScore > 100 {
		obs.PriorityScore = 100
	}
	if obs.PriorityScore < 0 {
		obs.PriorityScore = 0
	}

	slog.Debug("Observation emitted",
		"id", obs.ID, "source", obs.Source, "event", obs.EventType,
		"priority", obs.PriorityScore, "key", obs.CorrelationKey)

	b.sink.Offer(obs)
}

// score combines the event-type weight, content-delta magnitude, and inverse
// recent-frequency. Recently-repeated correlation keys score lower.
func (b *Bus) score(obs Observation) float64 {
	weight := 20.0
	if w, ok := b.sourceWeights[string(obs.Source)]; ok {
		weight = w
	}

	// Content-delta magnitude: producers may report how much changed via a
	// "delta" payload entry in [0,1].
	delta := 0.0
	if obs.Payload != nil {
		if v, ok := obs.Payload["delta"].(float64); ok && v > 0 {
			if v > 1 {
				v = 1
			}
			delta = v * 20
		}
	}

	return weight + delta - b.repeatPenalty(obs.CorrelationKey, obs.Timestamp)
}

// repeatPenalty grows with the number of sightings of the same correlation
// key inside the frequency window.
func (b *Bus) repeatPenalty(key string, now time.Time) float64 {
	if key == "" {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Add(-b.freqWindow)
	b.sweepLocked(cutoff, now)

	kept := b.recent[key][:0]
	for _, t := range b.recent[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	penalty := float64(len(kept)) * 5
	if penalty > 25 {
		penalty = 25
	}
	b.recent[key] = append(kept, now)
	return penalty
}

// sweepLocked drops keys whose sightings have all aged out of the window, at
// most once per window, so keys seen a single time cannot accumulate forever.
// Caller holds the lock.
func (b *Bus) sweepLocked(cutoff, now time.Time) {
	if now.Sub(b.lastSweep) < b.freqWindow {
		return
	}
	b.lastSweep = now
	for key, times := range b.recent {
		// Times are appended in order; the last one is the newest sighting.
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(b.recent, key)
		}
	}
}
