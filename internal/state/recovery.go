package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vigil-agent/vigil/internal/dispatch"
)

// RecoveryOptions bounds how much trust recovery places in old state.
type RecoveryOptions struct {
	// StaleAfterIterations marks a checkpoint stale when the durable log is
	// this many iterations ahead of it.
	StaleAfterIterations int64
	// MaxAge marks a checkpoint stale by wall clock.
	MaxAge time.Duration
	// MaxTaskRetries abandons an interrupted task after this many resumes.
	MaxTaskRetries int
	// Backends lets recovery ask each interrupted task's backend for its
	// current status before classifying it. Keyed by backend name; a task
	// whose backend is absent or unreachable falls back to its recovery
	// strategy.
	Backends map[string]dispatch.Backend
}

// RecoveryResult is what startup hands to the loop and dispatcher.
type RecoveryResult struct {
	Session   SessionState
	Recovered bool // the previous run crashed
	// Finalized tasks turned out to have finished on their backend; their
	// terminal status is already persisted.
	Finalized []*dispatch.DelegatedTask
	// Running tasks are still executing on their backend and should be handed
	// to the dispatcher's Adopt.
	Running []*dispatch.DelegatedTask
	// Resumable tasks should be handed to the dispatcher's Resume.
	Resumable []*dispatch.DelegatedTask
	// Abandoned tasks exhausted their retries and were marked failed.
	Abandoned []*dispatch.DelegatedTask
}

// Recover reconstructs session state at startup. On a clean previous
// shutdown the checkpoint is loaded as-is; after a crash the checkpoint is
// validated against the durable log, replayed forward when stale, and
// interrupted tasks are reconciled by their recovery strategy.
func Recover(ctx context.Context, store *Store, mgr *CheckpointManager, opts RecoveryOptions) (RecoveryResult, error) {
	crashed, err := mgr.MarkRunning()
	if err != nil {
		return RecoveryResult{}, err
	}

	if crashed {
		slog.Warn("Previous run did not shut down cleanly, entering recovery")
		if err := store.VerifyIntegrity(); err != nil {
			return RecoveryResult{}, fmt.Errorf("durable log unusable: %w", err)
		}
	}

	session, err := loadSession(store, mgr, opts, crashed)
	if err != nil {
		return RecoveryResult{}, err
	}

	result := RecoveryResult{Session: session, Recovered: crashed}
	if crashed {
		if err := reconcileTasks(ctx, store, opts, &result); err != nil {
			return RecoveryResult{}, err
		}
	}
	return result, nil
}

func loadSession(store *Store, mgr *CheckpointManager, opts RecoveryOptions, crashed bool) (SessionState, error) {
	lastLogged, err := store.LastIterationID()
	if err != nil {
		return SessionState{}, err
	}

	ck, err := mgr.Load()
	switch {
	case errors.Is(err, ErrNoCheckpoint):
		slog.Info("No checkpoint found, starting fresh session")
		return freshSession(lastLogged), nil
	case err != nil:
		// A corrupt checkpoint is not fatal: the durable log is the source
		// of truth for progress.
		slog.Error("Checkpoint unreadable, reconstructing from log", "error", err)
		return freshSession(lastLogged), nil
	}

	session := ck.Session

	stale := false
	if opts.StaleAfterIterations > 0 && lastLogged-ck.IterationID > opts.StaleAfterIterations {
		stale = true
		slog.Warn("Checkpoint stale by iteration distance",
			"checkpoint", ck.IterationID, "logged", lastLogged)
	}
	if opts.MaxAge > 0 && time.Since(ck.CreatedAt) > opts.MaxAge {
		stale = true
		slog.Warn("Checkpoint stale by age", "created_at", ck.CreatedAt)
	}

	if crashed || stale {
		// Replay the durable log past the snapshot so the iteration counter
		// never moves backwards.
		records, err := store.IterationsSince(ck.IterationID)
		if err != nil {
			return SessionState{}, err
		}
		for _, rec := range records {
			if rec.IterationID > session.IterationCount {
				session.IterationCount = rec.IterationID
			}
		}
		if len(records) > 0 {
			slog.Info("Replayed iterations past checkpoint", "count", len(records))
		}
		// Queue contents from before a crash may describe a world that no
		// longer exists; observers will re-emit what still matters.
		if stale {
			session.QueueSnapshot = nil
		}
	}

	if session.IterationCount < lastLogged {
		session.IterationCount = lastLogged
	}
	return session, nil
}

func freshSession(lastLogged int64) SessionState {
	return SessionState{
		SessionID:      uuid.NewString(),
		IterationCount: lastLogged,
		UpdatedAt:      time.Now(),
	}
}

// reconcileTasks classifies interrupted tasks by querying their backend:
// work that finished while the controller was down is finalized, work still
// running keeps going under a fresh monitor, and unreachable work falls back
// to its recovery strategy bounded by the retry budget.
func reconcileTasks(ctx context.Context, store *Store, opts RecoveryOptions, result *RecoveryResult) error {
	open, err := store.OpenTasks()
	if err != nil {
		return err
	}
	for _, task := range open {
		if backend, ok := opts.Backends[task.Backend]; ok {
			if res, err := backend.Poll(ctx, task.TaskID); err == nil {
				switch res.Status {
				case dispatch.StatusCompleted, dispatch.StatusFailed:
					task.Status = res.Status
					task.Output = res.Output
					task.Error = res.Err
					if res.CheckpointData != nil {
						task.CheckpointData = res.CheckpointData
					}
					if err := store.SaveTask(task); err != nil {
						return err
					}
					result.Finalized = append(result.Finalized, task)
					slog.Info("Interrupted task finished while controller was down",
						"task", task.TaskID, "status", task.Status)
					continue
				case dispatch.StatusRunning:
					result.Running = append(result.Running, task)
					slog.Info("Interrupted task still running on backend", "task", task.TaskID)
					continue
				}
			}
		}

		task.Status = dispatch.StatusLost
		if opts.MaxTaskRetries > 0 && task.RetryCount >= opts.MaxTaskRetries {
			task.Status = dispatch.StatusFailed
			task.Error = fmt.Sprintf("abandoned after %d recovery attempts", task.RetryCount)
			if err := store.SaveTask(task); err != nil {
				return err
			}
			result.Abandoned = append(result.Abandoned, task)
			slog.Error("Interrupted task abandoned", "task", task.TaskID, "retries", task.RetryCount)
			continue
		}
		if err := store.SaveTask(task); err != nil {
			return err
		}
		result.Resumable = append(result.Resumable, task)
		slog.Info("Interrupted task scheduled for recovery",
			"task", task.TaskID, "strategy", task.Recovery)
	}
	return nil
}
