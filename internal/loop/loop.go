// Package loop runs the controller's observe-think-decide-act cycle.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vigil-agent/vigil/internal/assemble"
	"github.com/vigil-agent/vigil/internal/attention"
	"github.com/vigil-agent/vigil/internal/config"
	"github.com/vigil-agent/vigil/internal/decision"
	"github.com/vigil-agent/vigil/internal/dispatch"
	"github.com/vigil-agent/vigil/internal/notify"
	"github.com/vigil-agent/vigil/internal/observe"
	"github.com/vigil-agent/vigil/internal/reasoning"
	"github.com/vigil-agent/vigil/internal/schedule"
	"github.com/vigil-agent/vigil/internal/state"
)

// maxBatch bounds how many observations one iteration consumes.
const maxBatch = 16

// Options wires the loop's collaborators together.
type Options struct {
	Config      *config.Config
	Bus         *observe.Bus
	Queue       *attention.Queue
	Assembler   *assemble.Assembler
	Gateway     *reasoning.Gateway
	Evaluator   *decision.Evaluator
	Dispatcher  *dispatch.Dispatcher
	Store       *state.Store
	Checkpoints *state.CheckpointManager
	Scheduler   *schedule.Scheduler
	Notifier    notify.Notifier
	Session     state.SessionState
}

// Status is a read-only snapshot of the loop for the status surface.
type Status struct {
	SessionID   string        `json:"session_id"`
	Iteration   int64         `json:"iteration"`
	Mode        schedule.Mode `json:"mode"`
	QueueDepth  int           `json:"queue_depth"`
	InFlight    int           `json:"in_flight"`
	ShedCount   int64         `json:"shed_count"`
	LastOutcome state.Outcome `json:"last_outcome,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Loop is the single-goroutine controller cycle. All session mutation
// happens on that goroutine; Status reads go through the mutex.
type Loop struct {
	opts Options

	interruptCh chan struct{}

	mu          sync.Mutex
	session     state.SessionState
	lastOutcome state.Outcome
	lastCkpt    time.Time
}

// New creates a Loop from recovered session state.
func New(opts Options) *Loop {
	return &Loop{
		opts:        opts,
		interruptCh: make(chan struct{}, 1),
		session:     opts.Session,
	}
}

// Interrupt wakes the loop immediately, skipping the remaining wait. Safe to
// call from any goroutine; coalesces when one is already pending.
func (l *Loop) Interrupt() {
	select {
	case l.interruptCh <- struct{}{}:
	default:
	}
}

// Status returns a point-in-time snapshot.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		SessionID:   l.session.SessionID,
		Iteration:   l.session.IterationCount,
		Mode:        l.opts.Scheduler.Mode(),
		QueueDepth:  l.opts.Queue.Len(),
		InFlight:    l.opts.Dispatcher.InFlight(),
		ShedCount:   l.opts.Queue.ShedCount(),
		LastOutcome: l.lastOutcome,
		UpdatedAt:   l.session.UpdatedAt,
	}
}

// Run executes iterations until ctx is cancelled, then writes a final
// checkpoint and clears the crash marker.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("Loop starting",
		"session", l.session.SessionID, "iteration", l.session.IterationCount,
		"mode", l.opts.Scheduler.Mode())

	for {
		l.iterate(ctx)

		if err := l.wait(ctx); err != nil {
			break
		}
	}

	l.opts.Dispatcher.Wait()
	if err := l.checkpoint(); err != nil {
		slog.Error("Final checkpoint failed", "error", err)
	}
	if err := l.opts.Checkpoints.MarkStopped(); err != nil {
		slog.Error("Clearing crash marker failed", "error", err)
	}
	slog.Info("Loop stopped cleanly", "iteration", l.session.IterationCount)
	return nil
}

// wait sleeps for the scheduler's interval, waking early on interrupt or an
// urgent item arriving. Polls for urgency at the minimum interval so an
// urgent observation never waits out a long sleep.
func (l *Loop) wait(ctx context.Context) error {
	interval := l.opts.Scheduler.NextInterval()
	deadline := time.NewTimer(interval)
	defer deadline.Stop()

	poll := l.opts.Config.Scheduler.MinInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return nil
		case <-l.interruptCh:
			slog.Debug("Wait interrupted")
			return nil
		case <-ticker.C:
			if l.opts.Queue.HasUrgent() {
				slog.Debug("Urgent observation, waking early")
				return nil
			}
		}
	}
}

// iterate runs one full cycle and records exactly one iteration record,
// whatever happens inside.
func (l *Loop) iterate(ctx context.Context) {
	start := time.Now()
	iterID := l.session.IterationCount + 1

	l.collectTasks(ctx)
	l.opts.Queue.DropStale(start.Add(-l.opts.Config.Attention.StaleAfter))

	floor := 0.0
	if l.opts.Scheduler.Mode() == schedule.ModeOverload {
		floor = l.opts.Config.Attention.OverloadFloor
	}
	batch := l.opts.Queue.DequeueBatch(maxBatch, floor)

	dec, outcome := l.think(ctx, iterID, batch)
	l.act(ctx, dec, &outcome)

	duration := time.Since(start)
	rec := state.IterationRecord{
		IterationID:           iterID,
		Timestamp:             start,
		ObservationsProcessed: len(batch),
		Decision:              dec,
		Outcome:               outcome,
		Duration:              duration,
	}
	if err := l.opts.Store.RecordIteration(rec); err != nil {
		slog.Error("Iteration record write failed", "iteration", iterID, "error", err)
	}

	l.mu.Lock()
	l.session.IterationCount = iterID
	l.session.Mode = string(l.opts.Scheduler.Mode())
	l.session.UpdatedAt = time.Now()
	if dec.Action != decision.ActionObserve || len(batch) > 0 {
		l.session.WorkingMemory.Add(state.MemoryItem{
			Note:      fmt.Sprintf("[%s] %s", dec.Action, snippet(dec.Reasoning)),
			Iteration: iterID,
			AddedAt:   time.Now(),
		})
	}
	l.lastOutcome = outcome
	l.mu.Unlock()

	l.opts.Scheduler.Observe(schedule.Sample{
		QueueDepth: l.opts.Queue.Len(),
		Processed:  len(batch),
		Duration:   duration,
		Urgent:     l.opts.Queue.HasUrgent(),
	})

	l.maybeCheckpoint(iterID)

	slog.Info("Iteration complete",
		"iteration", iterID, "observations", len(batch), "action", dec.Action,
		"outcome", outcome, "duration", duration.Round(time.Millisecond))
}

// think assembles context and asks the reasoning backend for a decision.
// An empty batch short-circuits to observe without spending a request.
func (l *Loop) think(ctx context.Context, iterID int64, batch []*attention.Item) (decision.Decision, state.Outcome) {
	if len(batch) == 0 {
		return decision.Observe("no pending observations"), state.OutcomeSuccess
	}

	assembled := l.opts.Assembler.Assemble(l.opts.Config.Context.BudgetTokens, l.blocks(iterID, batch))

	reqCtx, cancel := context.WithTimeout(ctx, l.opts.Config.Reasoning.Timeout)
	defer cancel()

	raw, err := l.opts.Gateway.Request(reqCtx, assembled.Text())
	if err != nil {
		if errors.Is(err, reasoning.ErrUnavailable) {
			slog.Error("Reasoning backend unavailable, degrading to observe", "error", err)
			return decision.Observe("reasoning backend unavailable"), state.OutcomeDegraded
		}
		if ctx.Err() != nil {
			return decision.Observe("shutdown during reasoning"), state.OutcomeDegraded
		}
		slog.Error("Reasoning request failed", "error", err)
		return decision.Observe("reasoning request failed"), state.OutcomeDegraded
	}

	ev := l.opts.Evaluator.EvaluateRaw(raw)
	outcome := state.OutcomeSuccess
	if ev.Verdict == decision.VerdictParseFailed {
		outcome = state.OutcomeDegraded
	}
	return ev.Decision, outcome
}

// blocks builds the candidate context sections, highest priority first:
// directives and the observation batch are mandatory, memory and history are
// trimmed to whatever budget remains.
func (l *Loop) blocks(iterID int64, batch []*attention.Item) []assemble.ContentBlock {
	l.mu.Lock()
	memory := make([]state.MemoryItem, len(l.session.WorkingMemory.Items))
	copy(memory, l.session.WorkingMemory.Items)
	pending := append([]string(nil), l.session.PendingDelegations...)
	focus := l.session.CurrentFocus
	l.mu.Unlock()

	mandatory := l.opts.Config.Context.MandatoryPriority

	return []assemble.ContentBlock{
		{
			Section:  "Directives",
			Priority: mandatory + 10,
			Render: func() string {
				return directives(iterID, l.opts.Scheduler.Mode(), focus)
			},
			MinTokens: 128,
		},
		{
			Section:  "Observations",
			Priority: mandatory + 5,
			Render: func() string {
				return renderBatch(batch)
			},
			MinTokens: 256,
		},
		{
			Section:  "Working Memory",
			Priority: 60,
			Render: func() string {
				return renderMemory(memory)
			},
			MaxTokens: 1024,
		},
		{
			Section:  "Pending Delegations",
			Priority: 50,
			Render: func() string {
				if len(pending) == 0 {
					return "none"
				}
				return strings.Join(pending, "\n")
			},
			MaxTokens: 256,
		},
		{
			Section:  "Recent History",
			Priority: 30,
			Render:   l.renderHistory,
			MaxTokens: 1024,
		},
	}
}

// act applies the evaluated decision.
func (l *Loop) act(ctx context.Context, dec decision.Decision, outcome *state.Outcome) {
	switch dec.Action {
	case decision.ActionDelegate:
		if dec.Target == "" {
			dec.Target = "subprocess"
		}
		task, err := l.opts.Dispatcher.Dispatch(ctx, dec)
		if err != nil {
			slog.Error("Dispatch failed", "error", err)
			*outcome = state.OutcomeFailure
			return
		}
		l.mu.Lock()
		l.session.PendingDelegations = append(l.session.PendingDelegations, task.TaskID)
		l.mu.Unlock()
		l.opts.Scheduler.ClearRequest()

	case decision.ActionReflect:
		// Reflection deepens the next cycle rather than acting now.
		l.opts.Scheduler.Request(schedule.ModeDeepFocus)
		l.mu.Lock()
		l.session.CurrentFocus = snippet(dec.Reasoning)
		l.mu.Unlock()

	case decision.ActionObserve:
		l.opts.Scheduler.ClearRequest()
	}
}

// collectTasks drains finished delegations, feeds their outcomes back into
// the observation stream, and alerts on lost tasks.
func (l *Loop) collectTasks(ctx context.Context) {
	finished := l.opts.Dispatcher.Drain()
	if len(finished) == 0 {
		return
	}

	l.mu.Lock()
	pending := l.session.PendingDelegations[:0]
	finishedIDs := make(map[string]bool, len(finished))
	for _, t := range finished {
		finishedIDs[t.TaskID] = true
	}
	for _, id := range l.session.PendingDelegations {
		if !finishedIDs[id] {
			pending = append(pending, id)
		}
	}
	l.session.PendingDelegations = pending
	l.mu.Unlock()

	for _, task := range finished {
		l.opts.Bus.Emit(observe.Observation{
			Source:    observe.SourceTask,
			EventType: "task_" + string(task.Status),
			Payload: map[string]any{
				"task_id": task.TaskID,
				"backend": task.Backend,
				"error":   task.Error,
			},
			CorrelationKey: "task:" + task.TaskID,
			Interrupt:      task.Status == dispatch.StatusLost,
		})

		if task.Status == dispatch.StatusLost && l.opts.Notifier != nil {
			_ = l.opts.Notifier.Notify(ctx, "Delegated task lost",
				fmt.Sprintf("task %s on backend %s: %s", task.TaskID, task.Backend, task.Error))
		}
	}
}

// maybeCheckpoint writes a snapshot every N iterations or when the last one
// is older than the configured age.
func (l *Loop) maybeCheckpoint(iterID int64) {
	every := int64(l.opts.Config.State.CheckpointEveryN)
	maxAge := l.opts.Config.State.CheckpointMaxAge

	due := every > 0 && iterID%every == 0
	if !due && maxAge > 0 && !l.lastCkpt.IsZero() && time.Since(l.lastCkpt) > maxAge {
		due = true
	}
	if !due {
		return
	}
	if err := l.checkpoint(); err != nil {
		slog.Error("Checkpoint failed", "iteration", iterID, "error", err)
	}
}

func (l *Loop) checkpoint() error {
	snapshot := l.opts.Queue.Snapshot()

	l.mu.Lock()
	session := l.session
	session.QueueSnapshot = make([]state.QueuedItem, 0, len(snapshot))
	for _, obs := range snapshot {
		session.QueueSnapshot = append(session.QueueSnapshot, state.QueuedItem{
			Source:         string(obs.Source),
			EventType:      obs.EventType,
			Payload:        obs.Payload,
			Priority:       int(obs.PriorityScore),
			CorrelationKey: obs.CorrelationKey,
		})
	}
	iterID := session.IterationCount
	l.mu.Unlock()

	err := l.opts.Checkpoints.Save(state.Checkpoint{
		CreatedAt:   time.Now(),
		IterationID: iterID,
		Session:     session,
	})
	if err == nil {
		l.lastCkpt = time.Now()
	}
	return err
}

func (l *Loop) renderHistory() string {
	l.mu.Lock()
	afterID := l.session.IterationCount - 10
	l.mu.Unlock()
	if afterID < 0 {
		afterID = 0
	}

	records, err := l.opts.Store.IterationsSince(afterID)
	if err != nil || len(records) == 0 {
		return "none"
	}
	var sb strings.Builder
	for _, rec := range records {
		fmt.Fprintf(&sb, "#%d %s %s (%s): %s\n",
			rec.IterationID, rec.Timestamp.Format(time.TimeOnly),
			rec.Decision.Action, rec.Outcome, snippet(rec.Decision.Reasoning))
	}
	return sb.String()
}

func directives(iterID int64, mode schedule.Mode, focus string) string {
	var sb strings.Builder
	sb.WriteString("You are an autonomous development monitor. Review the observations below and respond ")
	sb.WriteString("with a single JSON object: {\"action_type\": \"delegate\"|\"observe\"|\"reflect\", ")
	sb.WriteString("\"reasoning\": string, \"target\": string, \"command\": string, ")
	sb.WriteString("\"priority\": \"low\"|\"medium\"|\"high\"|\"critical\", \"confidence\": number in [0,1]}.\n")
	sb.WriteString("Delegate only work that clearly needs doing; observe when nothing does; reflect when uncertain.\n")
	fmt.Fprintf(&sb, "Iteration %d, mode %s.", iterID, mode)
	if focus != "" {
		fmt.Fprintf(&sb, " Current focus: %s", focus)
	}
	return sb.String()
}

func renderBatch(batch []*attention.Item) string {
	var sb strings.Builder
	for _, item := range batch {
		obs := item.Observation
		fmt.Fprintf(&sb, "- [%.0f] %s/%s at %s",
			item.Priority, obs.Source, obs.EventType, obs.Timestamp.Format(time.TimeOnly))
		if len(obs.Payload) > 0 {
			fmt.Fprintf(&sb, " %v", obs.Payload)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func renderMemory(items []state.MemoryItem) string {
	if len(items) == 0 {
		return "empty"
	}
	var sb strings.Builder
	for _, item := range items {
		fmt.Fprintf(&sb, "- (iter %d) %s\n", item.Iteration, item.Note)
	}
	return sb.String()
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 160 {
		return s[:160] + "..."
	}
	return s
}
