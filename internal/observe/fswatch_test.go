package observe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestIgnoredPaths(t *testing.T) {
	o := NewFilesystemObserver("/repo", []string{".git", "node_modules"}, nil)
	cases := []struct {
		path string
		want bool
	}{
		{"/repo/.git/HEAD", true},
		{"/repo/node_modules/left-pad/index.js", true},
		{"/repo/src/main.go", false},
		{"/repo/gitignore", false},
	}
	for _, tc := range cases {
		if got := o.ignored(tc.path); got != tc.want {
			t.Errorf("ignored(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestHandleMapsEventTypes(t *testing.T) {
	sink := &captureSink{}
	bus := NewBus(sink, testWeights, time.Minute)
	o := NewFilesystemObserver("/repo", nil, bus)

	cases := []struct {
		op   fsnotify.Op
		want string
	}{
		{fsnotify.Write, "write"},
		{fsnotify.Remove, "remove"},
		{fsnotify.Rename, "rename"},
	}
	for _, tc := range cases {
		o.handle(fsnotify.Event{Name: "/repo/a.go", Op: tc.op})
		if obs := sink.last(t); obs.EventType != tc.want {
			t.Errorf("op %v: got %q, want %q", tc.op, obs.EventType, tc.want)
		}
	}
}

func TestHandleDropsChmod(t *testing.T) {
	sink := &captureSink{}
	bus := NewBus(sink, testWeights, time.Minute)
	o := NewFilesystemObserver("/repo", nil, bus)

	o.handle(fsnotify.Event{Name: "/repo/a.go", Op: fsnotify.Chmod})
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.seen) != 0 {
		t.Fatal("chmod events must be dropped")
	}
}

func TestWatcherEmitsOnWrite(t *testing.T) {
	dir := t.TempDir()
	sink := &captureSink{}
	bus := NewBus(sink, testWeights, time.Minute)
	o := NewFilesystemObserver(dir, []string{".git"}, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = o.Start(ctx) }()
	time.Sleep(50 * time.Millisecond) // let the watcher register

	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		n := len(sink.seen)
		sink.mu.Unlock()
		if n > 0 {
			obs := sink.last(t)
			if obs.Source != SourceFilesystem || obs.Payload["path"] != "main.go" {
				t.Fatalf("unexpected observation: %+v", obs)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no observation within deadline")
}
