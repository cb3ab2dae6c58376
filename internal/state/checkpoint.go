package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	checkpointFile = "checkpoint.json"
	crashMarker    = "vigil.running"

	// CheckpointVersion guards against loading snapshots written by an
	// incompatible build.
	CheckpointVersion = 1
)

// Checkpoint is the warm tier: a full snapshot of session state written
// atomically so that a partial write can never be observed.
type Checkpoint struct {
	Version     int          `json:"version"`
	CreatedAt   time.Time    `json:"created_at"`
	IterationID int64        `json:"iteration_id"`
	Session     SessionState `json:"session"`
}

// ErrNoCheckpoint is returned when no snapshot exists yet.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// CheckpointManager writes and reads checkpoint snapshots in a state
// directory, and owns the crash marker that distinguishes a clean shutdown
// from a crash.
type CheckpointManager struct {
	dir string
}

// NewCheckpointManager ensures dir exists and returns a manager over it.
func NewCheckpointManager(dir string) (*CheckpointManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	return &CheckpointManager{dir: dir}, nil
}

// Save writes a snapshot atomically: marshal to a temp file, fsync, rename.
// A crash mid-write leaves the previous snapshot intact.
func (m *CheckpointManager) Save(ck Checkpoint) error {
	ck.Version = CheckpointVersion
	if ck.CreatedAt.IsZero() {
		ck.CreatedAt = time.Now()
	}

	data, err := json.MarshalIndent(ck, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(m.dir, checkpointFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(m.dir, checkpointFile)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publishing checkpoint: %w", err)
	}

	slog.Debug("Checkpoint written", "iteration", ck.IterationID)
	return nil
}

// Load reads the current snapshot. Leftover temp files from interrupted
// writes are ignored and cleaned up.
func (m *CheckpointManager) Load() (Checkpoint, error) {
	m.cleanTempFiles()

	data, err := os.ReadFile(filepath.Join(m.dir, checkpointFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Checkpoint{}, ErrNoCheckpoint
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("reading checkpoint: %w", err)
	}

	var ck Checkpoint
	if err := json.Unmarshal(data, &ck); err != nil {
		return Checkpoint{}, fmt.Errorf("decoding checkpoint: %w", err)
	}
	if ck.Version != CheckpointVersion {
		return Checkpoint{}, fmt.Errorf("unsupported checkpoint version %d", ck.Version)
	}
	return ck, nil
}

func (m *CheckpointManager) cleanTempFiles() {
	matches, _ := filepath.Glob(filepath.Join(m.dir, checkpointFile+".tmp-*"))
	for _, f := range matches {
		if err := os.Remove(f); err == nil {
			slog.Warn("Removed interrupted checkpoint write", "file", filepath.Base(f))
		}
	}
}

// MarkRunning creates the crash marker. It reports whether a marker was
// already present, which means the previous run did not shut down cleanly.
func (m *CheckpointManager) MarkRunning() (crashed bool, err error) {
	path := filepath.Join(m.dir, crashMarker)
	if _, statErr := os.Stat(path); statErr == nil {
		return true, nil
	}
	if err := os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0o644); err != nil {
		return false, fmt.Errorf("writing crash marker: %w", err)
	}
	return false, nil
}

// Running reports whether the crash marker exists, meaning a controller is
// running or the last run crashed.
func (m *CheckpointManager) Running() bool {
	_, err := os.Stat(filepath.Join(m.dir, crashMarker))
	return err == nil
}

// MarkStopped removes the crash marker after a clean shutdown.
func (m *CheckpointManager) MarkStopped() error {
	err := os.Remove(filepath.Join(m.dir, crashMarker))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
