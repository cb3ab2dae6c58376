package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	mgr, err := NewCheckpointManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	session := SessionState{
		SessionID:      "s1",
		IterationCount: 42,
		Mode:           "normal",
		CurrentFocus:   "flaky tests",
	}
	session.WorkingMemory.Add(MemoryItem{Note: "n1", Iteration: 41})

	if err := mgr.Save(Checkpoint{IterationID: 42, Session: session}); err != nil {
		t.Fatal(err)
	}

	ck, err := mgr.Load()
	if err != nil {
		t.Fatal(err)
	}
	if ck.IterationID != 42 || ck.Session.SessionID != "s1" {
		t.Fatalf("round trip mismatch: %+v", ck)
	}
	if len(ck.Session.WorkingMemory.Items) != 1 {
		t.Errorf("working memory lost: %+v", ck.Session.WorkingMemory)
	}
}

func TestLoadWithoutCheckpoint(t *testing.T) {
	mgr, err := NewCheckpointManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Load(); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint, got %v", err)
	}
}

func TestInterruptedWriteLeavesPreviousSnapshot(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewCheckpointManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := mgr.Save(Checkpoint{IterationID: 10, Session: SessionState{SessionID: "s1"}}); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash mid-write: a temp file exists but was never renamed.
	stray := filepath.Join(dir, checkpointFile+".tmp-123")
	if err := os.WriteFile(stray, []byte("{partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	ck, err := mgr.Load()
	if err != nil {
		t.Fatal(err)
	}
	if ck.IterationID != 10 {
		t.Fatalf("expected previous snapshot, got iteration %d", ck.IterationID)
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Error("interrupted temp file should be cleaned up")
	}
}

func TestSaveReplacesAtomically(t *testing.T) {
	mgr, err := NewCheckpointManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for i := int64(1); i <= 3; i++ {
		if err := mgr.Save(Checkpoint{IterationID: i, Session: SessionState{SessionID: "s1"}}); err != nil {
			t.Fatal(err)
		}
	}
	ck, err := mgr.Load()
	if err != nil {
		t.Fatal(err)
	}
	if ck.IterationID != 3 {
		t.Fatalf("expected latest snapshot, got %d", ck.IterationID)
	}
}

func TestVersionMismatchRejected(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewCheckpointManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	body := `{"version": 99, "created_at": "` + time.Now().Format(time.RFC3339) + `", "iteration_id": 5, "session": {}}`
	if err := os.WriteFile(filepath.Join(dir, checkpointFile), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Load(); err == nil {
		t.Fatal("expected version error")
	}
}

func TestCrashMarker(t *testing.T) {
	mgr, err := NewCheckpointManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	crashed, err := mgr.MarkRunning()
	if err != nil {
		t.Fatal(err)
	}
	if crashed {
		t.Fatal("fresh dir should not report a crash")
	}
	if !mgr.Running() {
		t.Error("marker should exist while running")
	}

	// Marker still present: next start sees a crash.
	crashed, err = mgr.MarkRunning()
	if err != nil {
		t.Fatal(err)
	}
	if !crashed {
		t.Fatal("existing marker should report a crash")
	}

	if err := mgr.MarkStopped(); err != nil {
		t.Fatal(err)
	}
	if mgr.Running() {
		t.Error("marker should be gone after clean stop")
	}
	// Removing twice is fine.
	if err := mgr.MarkStopped(); err != nil {
		t.Fatal(err)
	}
}
