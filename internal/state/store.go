package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vigil-agent/vigil/internal/decision"
	"github.com/vigil-agent/vigil/internal/dispatch"
)

// Store is the durable tier: an append-only iteration log plus task records,
// all keyed so that replaying a write after a crash is a no-op.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at dbPath and applies the schema.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open state db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// VerifyIntegrity runs sqlite's integrity check. Used during recovery before
// trusting the durable log.
func (s *Store) VerifyIntegrity() error {
	var result string
	if err := s.db.QueryRow(`PRAGMA integrity_check`).Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// RecordIteration appends one iteration record. Writes are keyed by
// iteration id, so replaying the same record after a crash changes nothing.
func (s *Store) RecordIteration(rec IterationRecord) error {
	decJSON, err := json.Marshal(rec.Decision)
	if err != nil {
		return fmt.Errorf("encoding decision: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO iterations (iteration_id, timestamp, observations_processed, decision_json, outcome, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(iteration_id) DO UPDATE SET
			timestamp = excluded.timestamp,
			observations_processed = excluded.observations_processed,
			decision_json = excluded.decision_json,
			outcome = excluded.outcome,
			duration_ms = excluded.duration_ms`,
		rec.IterationID, rec.Timestamp.UTC(), rec.ObservationsProcessed,
		string(decJSON), string(rec.Outcome), rec.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("recording iteration %d: %w", rec.IterationID, err)
	}
	return nil
}

// LastIterationID returns the highest recorded iteration id, or 0.
func (s *Store) LastIterationID() (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(iteration_id) FROM iterations`).Scan(&id); err != nil {
		return 0, fmt.Errorf("reading last iteration id: %w", err)
	}
	return id.Int64, nil
}

// IterationsSince returns records with iteration id greater than afterID, in
// order. Recovery uses this to replay the log past a stale checkpoint.
func (s *Store) IterationsSince(afterID int64) ([]IterationRecord, error) {
	rows, err := s.db.Query(`
		SELECT iteration_id, timestamp, observations_processed, decision_json, outcome, duration_ms
		FROM iterations WHERE iteration_id > ? ORDER BY iteration_id`, afterID)
	if err != nil {
		return nil, fmt.Errorf("querying iterations: %w", err)
	}
	defer rows.Close()

	var out []IterationRecord
	for rows.Next() {
		var rec IterationRecord
		var decJSON string
		var outcome string
		var durationMS int64
		if err := rows.Scan(&rec.IterationID, &rec.Timestamp, &rec.ObservationsProcessed, &decJSON, &outcome, &durationMS); err != nil {
			return nil, fmt.Errorf("scanning iteration: %w", err)
		}
		if err := json.Unmarshal([]byte(decJSON), &rec.Decision); err != nil {
			rec.Decision = decision.Observe("unreadable logged decision")
		}
		rec.Outcome = Outcome(outcome)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveTask upserts a task record by task id. Satisfies dispatch.Recorder.
func (s *Store) SaveTask(task *dispatch.DelegatedTask) error {
	var ckJSON sql.NullString
	if len(task.CheckpointData) > 0 {
		b, err := json.Marshal(task.CheckpointData)
		if err != nil {
			return fmt.Errorf("encoding task checkpoint: %w", err)
		}
		ckJSON = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO tasks (task_id, idempotency_key, backend, command, status, checkpoint_json,
			retry_count, recovery, created_at, deadline, output, error_text, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			checkpoint_json = excluded.checkpoint_json,
			retry_count = excluded.retry_count,
			recovery = excluded.recovery,
			deadline = excluded.deadline,
			output = excluded.output,
			error_text = excluded.error_text,
			updated_at = CURRENT_TIMESTAMP`,
		task.TaskID, task.IdempotencyKey, task.Backend, task.Command,
		string(task.Status), ckJSON, task.RetryCount, string(task.Recovery),
		task.CreatedAt.UTC(), task.Deadline.UTC(), task.Output, task.Error)
	if err != nil {
		return fmt.Errorf("saving task %s: %w", task.TaskID, err)
	}
	return nil
}

// OpenTasks returns tasks that were pending or running at the time of the
// last write. After a crash these are the tasks to reconcile.
func (s *Store) OpenTasks() ([]*dispatch.DelegatedTask, error) {
	rows, err := s.db.Query(`
		SELECT task_id, idempotency_key, backend, command, status, checkpoint_json,
			retry_count, recovery, created_at, deadline, output, error_text
		FROM tasks WHERE status IN ('pending', 'running') ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying open tasks: %w", err)
	}
	defer rows.Close()

	var out []*dispatch.DelegatedTask
	for rows.Next() {
		task := &dispatch.DelegatedTask{}
		var status, recovery string
		var ckJSON, output, errText sql.NullString
		var deadline sql.NullTime
		if err := rows.Scan(&task.TaskID, &task.IdempotencyKey, &task.Backend, &task.Command,
			&status, &ckJSON, &task.RetryCount, &recovery, &task.CreatedAt, &deadline,
			&output, &errText); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		task.Status = dispatch.TaskStatus(status)
		task.Recovery = dispatch.RecoveryStrategy(recovery)
		if ckJSON.Valid {
			_ = json.Unmarshal([]byte(ckJSON.String), &task.CheckpointData)
		}
		if deadline.Valid {
			task.Deadline = deadline.Time
		}
		task.Output = output.String
		task.Error = errText.String
		out = append(out, task)
	}
	return out, rows.Err()
}

// AtomicUpdate runs fn inside a transaction, so a batch of writes commits
// entirely or not at all.
func (s *Store) AtomicUpdate(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ArchiveBefore rolls iteration records older than cutoff into per-day
// aggregates and deletes the originals. The archive tier keeps history
// queryable without the log growing unbounded.
func (s *Store) ArchiveBefore(ctx context.Context, cutoff time.Time) error {
	return s.AtomicUpdate(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO iteration_archive (day, iterations, successes, degraded, failures, total_duration_ms)
			SELECT date(timestamp),
				COUNT(*),
				SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END),
				SUM(CASE WHEN outcome = 'degraded' THEN 1 ELSE 0 END),
				SUM(CASE WHEN outcome = 'failure' THEN 1 ELSE 0 END),
				SUM(duration_ms)
			FROM iterations WHERE timestamp < ?
			GROUP BY date(timestamp)
			ON CONFLICT(day) DO UPDATE SET
				iterations = iterations + excluded.iterations,
				successes = successes + excluded.successes,
				degraded = degraded + excluded.degraded,
				failures = failures + excluded.failures,
				total_duration_ms = total_duration_ms + excluded.total_duration_ms`,
			cutoff.UTC())
		if err != nil {
			return fmt.Errorf("rolling up archive: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM iterations WHERE timestamp < ?`, cutoff.UTC()); err != nil {
			return fmt.Errorf("pruning archived iterations: %w", err)
		}
		return nil
	})
}

// SetSetting stores a key/value pair.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("saving setting %s: %w", key, err)
	}
	return nil
}

// GetSetting reads a key, returning "" when unset.
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, nil
}
