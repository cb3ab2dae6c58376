package observe

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// FilesystemObserver watches a repository tree and emits filesystem
// observations for writes, creates, removes, and renames.
type FilesystemObserver struct {
	root    string
	ignore  []string
	emitter Emitter
	watcher *fsnotify.Watcher
}

// NewFilesystemObserver creates a watcher rooted at root. Directories whose
// name matches an ignore entry are skipped.
func NewFilesystemObserver(root string, ignore []string, emitter Emitter) *FilesystemObserver {
	return &FilesystemObserver{root: root, ignore: ignore, emitter: emitter}
}

// Start registers watches for the tree and runs the event pump until the
// context is cancelled. Blocks; run in a goroutine.
func (o *FilesystemObserver) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	o.watcher = watcher
	defer watcher.Close()

	if err := o.addRecursive(o.root); err != nil {
		return err
	}
	slog.Info("Filesystem observer started", "root", o.root)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			o.handle(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Filesystem observer error", "error", err)
		}
	}
}

func (o *FilesystemObserver) handle(ev fsnotify.Event) {
	if o.ignored(ev.Name) {
		return
	}

	// New directories must be watched so the tree stays covered.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = o.addRecursive(ev.Name)
		}
	}

	eventType := "change"
	switch {
	case ev.Op.Has(fsnotify.Create):
		eventType = "create"
	case ev.Op.Has(fsnotify.Remove):
		eventType = "remove"
	case ev.Op.Has(fsnotify.Rename):
		eventType = "rename"
	case ev.Op.Has(fsnotify.Write):
		eventType = "write"
	case ev.Op.Has(fsnotify.Chmod):
		return // permission churn is noise
	}

	rel, err := filepath.Rel(o.root, ev.Name)
	if err != nil {
		rel = ev.Name
	}

	o.emitter.Emit(Observation{
		Source:         SourceFilesystem,
		EventType:      eventType,
		Payload:        map[string]any{"path": rel},
		CorrelationKey: "fs:" + rel,
	})
}

func (o *FilesystemObserver) ignored(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		for _, ig := range o.ignore {
			if part == ig {
				return true
			}
		}
	}
	return false
}

func (o *FilesystemObserver) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtrees are skipped, not fatal
		}
		if !d.IsDir() {
			return nil
		}
		if o.ignored(path) && path != root {
			return filepath.SkipDir
		}
		return o.watcher.Add(path)
	})
}
