package observe

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// GitObserver polls the repository's HEAD and emits a git observation when
// the checked-out commit or branch changes.
type GitObserver struct {
	repoPath string
	interval time.Duration
	emitter  Emitter

	lastHead string
	lastRef  string
}

// NewGitObserver creates a HEAD poller for the repository at repoPath.
func NewGitObserver(repoPath string, interval time.Duration, emitter Emitter) *GitObserver {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &GitObserver{repoPath: repoPath, interval: interval, emitter: emitter}
}

// Start runs the polling loop until the context is cancelled.
func (o *GitObserver) Start(ctx context.Context) error {
	// Seed state so the first tick does not report the existing HEAD as new.
	o.lastRef, o.lastHead = o.readHead()
	slog.Info("Git observer started", "repo", o.repoPath, "interval", o.interval)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.poll()
		}
	}
}

func (o *GitObserver) poll() {
	ref, head := o.readHead()
	if head == "" || (ref == o.lastRef && head == o.lastHead) {
		return
	}

	eventType := "commit"
	if ref != o.lastRef {
		eventType = "branch_switch"
	}
	o.lastRef, o.lastHead = ref, head

	o.emitter.Emit(Observation{
		Source:         SourceGit,
		EventType:      eventType,
		Payload:        map[string]any{"ref": ref, "head": head},
		CorrelationKey: "git:head",
	})
}

// readHead resolves .git/HEAD without shelling out. Returns the symbolic ref
// (empty for detached HEAD) and the commit hash.
func (o *GitObserver) readHead() (ref, head string) {
	gitDir := filepath.Join(o.repoPath, ".git")
	data, err := os.ReadFile(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return "", ""
	}
	line := strings.TrimSpace(string(data))

	if !strings.HasPrefix(line, "ref: ") {
		return "", line // detached HEAD
	}
	ref = strings.TrimPrefix(line, "ref: ")

	if data, err := os.ReadFile(filepath.Join(gitDir, filepath.FromSlash(ref))); err == nil {
		return ref, strings.TrimSpace(string(data))
	}

	// Fall back to packed-refs for refs not materialized as loose files.
	if data, err := os.ReadFile(filepath.Join(gitDir, "packed-refs")); err == nil {
		for _, l := range strings.Split(string(data), "\n") {
			fields := strings.Fields(l)
			if len(fields) == 2 && fields[1] == ref {
				return ref, fields[0]
			}
		}
	}
	return ref, ""
}
