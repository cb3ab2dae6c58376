// Package state persists the controller's working state across four tiers:
// in-memory session state, checkpoint snapshots, a durable sqlite log, and
// an archive of rolled-up history.
package state

import (
	"time"

	"github.com/vigil-agent/vigil/internal/decision"
)

// Outcome classifies how an iteration ended.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeDegraded Outcome = "degraded"
	OutcomeFailure  Outcome = "failure"
)

// IterationRecord is the durable trace of one loop cycle. Exactly one record
// exists per completed iteration.
type IterationRecord struct {
	IterationID           int64             `json:"iteration_id"`
	Timestamp             time.Time         `json:"timestamp"`
	ObservationsProcessed int               `json:"observations_processed"`
	Decision              decision.Decision `json:"decision"`
	Outcome               Outcome           `json:"outcome"`
	Duration              time.Duration     `json:"duration"`
}

// MemoryItem is one entry of working memory: a short note the controller
// carries between iterations.
type MemoryItem struct {
	Note      string    `json:"note"`
	Iteration int64     `json:"iteration"`
	AddedAt   time.Time `json:"added_at"`
}

// WorkingMemory is a bounded ring of recent notes. Oldest entries fall off
// when the limit is reached.
type WorkingMemory struct {
	Items []MemoryItem `json:"items"`
	Limit int          `json:"limit"`
}

// Add appends a note, evicting the oldest entry past the limit.
func (w *WorkingMemory) Add(item MemoryItem) {
	w.Items = append(w.Items, item)
	if w.Limit > 0 && len(w.Items) > w.Limit {
		w.Items = w.Items[len(w.Items)-w.Limit:]
	}
}

// SessionState is the hot tier: everything the loop needs to resume where it
// left off. It is serialized whole into checkpoints.
type SessionState struct {
	SessionID          string        `json:"session_id"`
	IterationCount     int64         `json:"iteration_count"`
	Mode               string        `json:"mode"`
	CurrentFocus       string        `json:"current_focus,omitempty"`
	WorkingMemory      WorkingMemory `json:"working_memory"`
	QueueSnapshot      []QueuedItem  `json:"queue_snapshot,omitempty"`
	PendingDelegations []string      `json:"pending_delegations,omitempty"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// QueuedItem is the checkpoint form of a queued observation: enough to
// re-enqueue it after a restart without carrying the full queue machinery.
type QueuedItem struct {
	Source         string         `json:"source"`
	EventType      string         `json:"event_type"`
	Payload        map[string]any `json:"payload,omitempty"`
	Priority       int            `json:"priority"`
	CorrelationKey string         `json:"correlation_key,omitempty"`
}
