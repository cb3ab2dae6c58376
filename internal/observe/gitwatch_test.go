package observe

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeGitFixture(t *testing.T, dir, ref, hash string) {
	t.Helper()
	gitDir := filepath.Join(dir, ".git")
	if err := os.MkdirAll(filepath.Join(gitDir, filepath.Dir(filepath.FromSlash(ref))), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: "+ref+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(gitDir, filepath.FromSlash(ref)), []byte(hash+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReadHeadLooseRef(t *testing.T) {
	dir := t.TempDir()
	writeGitFixture(t, dir, "refs/heads/main", "abc123")

	o := NewGitObserver(dir, time.Second, nil)
	ref, head := o.readHead()
	if ref != "refs/heads/main" || head != "abc123" {
		t.Fatalf("got ref=%q head=%q", ref, head)
	}
}

func TestReadHeadDetached(t *testing.T) {
	dir := t.TempDir()
	gitDir := filepath.Join(dir, ".git")
	if err := os.MkdirAll(gitDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("deadbeef\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	o := NewGitObserver(dir, time.Second, nil)
	ref, head := o.readHead()
	if ref != "" || head != "deadbeef" {
		t.Fatalf("got ref=%q head=%q", ref, head)
	}
}

func TestReadHeadPackedRefs(t *testing.T) {
	dir := t.TempDir()
	gitDir := filepath.Join(dir, ".git")
	if err := os.MkdirAll(gitDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	packed := "# pack-refs with: peeled fully-peeled sorted\nfeed01 refs/heads/main\n"
	if err := os.WriteFile(filepath.Join(gitDir, "packed-refs"), []byte(packed), 0o644); err != nil {
		t.Fatal(err)
	}

	o := NewGitObserver(dir, time.Second, nil)
	ref, head := o.readHead()
	if ref != "refs/heads/main" || head != "feed01" {
		t.Fatalf("got ref=%q head=%q", ref, head)
	}
}

func TestPollEmitsOnCommit(t *testing.T) {
	dir := t.TempDir()
	writeGitFixture(t, dir, "refs/heads/main", "abc123")

	sink := &captureSink{}
	bus := NewBus(sink, testWeights, time.Minute)
	o := NewGitObserver(dir, time.Second, bus)

	o.lastRef, o.lastHead = o.readHead()
	o.poll()
	sink.mu.Lock()
	n := len(sink.seen)
	sink.mu.Unlock()
	if n != 0 {
		t.Fatal("unchanged HEAD must not emit")
	}

	writeGitFixture(t, dir, "refs/heads/main", "def456")
	o.poll()
	obs := sink.last(t)
	if obs.EventType != "commit" || obs.Payload["head"] != "def456" {
		t.Fatalf("unexpected observation: %+v", obs)
	}

	writeGitFixture(t, dir, "refs/heads/feature", "def456")
	o.poll()
	if obs := sink.last(t); obs.EventType != "branch_switch" {
		t.Fatalf("got %q, want branch_switch", obs.EventType)
	}
}

func TestNoRepoIsQuiet(t *testing.T) {
	sink := &captureSink{}
	bus := NewBus(sink, testWeights, time.Minute)
	o := NewGitObserver(t.TempDir(), time.Second, bus)
	o.poll()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.seen) != 0 {
		t.Fatal("missing repo must not emit")
	}
}
