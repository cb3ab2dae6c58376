package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// SubprocessBackend runs delegated tasks as child processes of a configured
// worker command. The command receives the instruction as its final argument
// and checkpoint data, if any, on stdin as JSON.
type SubprocessBackend struct {
	command string
	args    []string
	workDir string

	mu   sync.Mutex
	runs map[string]*subprocessRun
}

type subprocessRun struct {
	cmd    *exec.Cmd
	stdout *bytes.Buffer
	stderr *bytes.Buffer

	mu       sync.Mutex
	finished bool
	exitErr  error
}

// NewSubprocessBackend creates a backend that invokes command with args for
// each task. workDir may be empty to inherit the current directory.
func NewSubprocessBackend(command string, args []string, workDir string) *SubprocessBackend {
	return &SubprocessBackend{
		command: command,
		args:    args,
		workDir: workDir,
		runs:    make(map[string]*subprocessRun),
	}
}

func (b *SubprocessBackend) Name() string { return "subprocess" }

// Start launches the worker process. It does not wait for completion; Poll
// reports progress.
func (b *SubprocessBackend) Start(ctx context.Context, spec TaskSpec) error {
	args := append(append([]string{}, b.args...), spec.Command)
	cmd := exec.Command(b.command, args...)
	cmd.Dir = b.workDir
	cmd.Env = append(cmd.Environ(), "VIGIL_TASK_ID="+spec.TaskID)

	run := &subprocessRun{
		cmd:    cmd,
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
	}
	cmd.Stdout = run.stdout
	cmd.Stderr = run.stderr

	if len(spec.CheckpointData) > 0 {
		seed, err := json.Marshal(spec.CheckpointData)
		if err != nil {
			return fmt.Errorf("encoding checkpoint seed: %w", err)
		}
		cmd.Stdin = bytes.NewReader(seed)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting worker process: %w", err)
	}

	b.mu.Lock()
	b.runs[spec.TaskID] = run
	b.mu.Unlock()

	go func() {
		err := cmd.Wait()
		run.mu.Lock()
		run.finished = true
		run.exitErr = err
		run.mu.Unlock()
	}()
	return nil
}

// Poll reports the process state for a task.
func (b *SubprocessBackend) Poll(ctx context.Context, taskID string) (PollResult, error) {
	b.mu.Lock()
	run, ok := b.runs[taskID]
	b.mu.Unlock()
	if !ok {
		return PollResult{}, fmt.Errorf("unknown task %q", taskID)
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	if !run.finished {
		return PollResult{Status: StatusRunning}, nil
	}

	b.mu.Lock()
	delete(b.runs, taskID)
	b.mu.Unlock()

	if run.exitErr != nil {
		return PollResult{
			Status: StatusFailed,
			Output: run.stdout.String(),
			Err:    fmt.Sprintf("%v: %s", run.exitErr, run.stderr.String()),
		}, nil
	}
	return PollResult{Status: StatusCompleted, Output: run.stdout.String()}, nil
}

// Cancel sends SIGTERM to the worker process so it can flush a checkpoint
// before exiting.
func (b *SubprocessBackend) Cancel(ctx context.Context, taskID string) error {
	b.mu.Lock()
	run, ok := b.runs[taskID]
	b.mu.Unlock()
	if !ok {
		return nil
	}

	run.mu.Lock()
	finished := run.finished
	run.mu.Unlock()
	if finished || run.cmd.Process == nil {
		return nil
	}
	if err := run.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signalling worker process: %w", err)
	}

	// Hard kill if the process ignores the signal. The dispatcher's grace
	// period is longer than this, so a stuck process still resolves.
	go func() {
		time.Sleep(10 * time.Second)
		run.mu.Lock()
		finished := run.finished
		run.mu.Unlock()
		if !finished && run.cmd.Process != nil {
			_ = run.cmd.Process.Kill()
		}
	}()
	return nil
}
