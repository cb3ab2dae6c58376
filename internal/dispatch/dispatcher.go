package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vigil-agent/vigil/internal/decision"
)

// ErrNoBackend is returned when a decision targets an unregistered backend.
var ErrNoBackend = errors.New("no such execution backend")

// Options configures the dispatcher.
type Options struct {
	MaxInFlight  int
	TaskTimeout  time.Duration
	CancelGrace  time.Duration
	PollInterval time.Duration
}

// Recorder persists task state transitions. Implemented by the state store.
type Recorder interface {
	SaveTask(task *DelegatedTask) error
}

// Dispatcher routes delegate decisions to registered backends, gates
// concurrency with a semaphore, and watches deadlines. Tasks beyond the
// in-flight limit queue locally rather than being dropped.
type Dispatcher struct {
	opts     Options
	backends map[string]Backend
	recorder Recorder
	sem      *Semaphore

	mu       sync.Mutex
	inflight map[string]*DelegatedTask
	waiting  []*DelegatedTask
	done     []*DelegatedTask

	wg sync.WaitGroup
}

// New creates a Dispatcher. recorder may be nil in tests.
func New(opts Options, recorder Recorder) *Dispatcher {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 3
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 10 * time.Minute
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &Dispatcher{
		opts:     opts,
		backends: make(map[string]Backend),
		recorder: recorder,
		sem:      NewSemaphore(opts.MaxInFlight),
		inflight: make(map[string]*DelegatedTask),
	}
}

// Register adds an execution backend.
func (d *Dispatcher) Register(b Backend) {
	d.backends[b.Name()] = b
	slog.Info("Execution backend registered", "backend", b.Name())
}

// Dispatch creates a DelegatedTask for a delegate decision and starts it if
// a concurrency slot is free, queueing it locally otherwise.
func (d *Dispatcher) Dispatch(ctx context.Context, dec decision.Decision) (*DelegatedTask, error) {
	backend, ok := d.backends[dec.Target]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoBackend, dec.Target)
	}

	task := &DelegatedTask{
		TaskID:         uuid.NewString(),
		Backend:        backend.Name(),
		Command:        dec.Command,
		Status:         StatusPending,
		IdempotencyKey: uuid.NewString(),
		Recovery:       RecoverRestart,
		CreatedAt:      time.Now(),
		Deadline:       time.Now().Add(d.opts.TaskTimeout),
	}
	// The decision's metadata may declare the recovery strategy and seed the
	// task with checkpoint data to resume from.
	if strat, ok := dec.Metadata["recovery"].(string); ok && RecoveryStrategy(strat) == RecoverResume {
		task.Recovery = RecoverResume
	}
	if seed, ok := dec.Metadata["checkpoint"].(map[string]any); ok {
		task.CheckpointData = seed
	}
	d.record(task)

	d.mu.Lock()
	if d.sem.TryAcquire() {
		d.inflight[task.TaskID] = task
		d.mu.Unlock()
		d.start(ctx, backend, task)
	} else {
		d.waiting = append(d.waiting, task)
		d.mu.Unlock()
		slog.Info("Task queued locally, in-flight limit reached", "task", task.TaskID)
	}
	return task, nil
}

// Resume restarts a recovered task, honouring its recovery strategy. Resume
// increments the retry count; callers bound retries before calling.
func (d *Dispatcher) Resume(ctx context.Context, task *DelegatedTask) error {
	backend, ok := d.backends[task.Backend]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoBackend, task.Backend)
	}

	task.RetryCount++
	task.Status = StatusPending
	task.Deadline = time.Now().Add(d.opts.TaskTimeout)
	if task.Recovery != RecoverResume {
		task.CheckpointData = nil
	}
	d.record(task)

	d.mu.Lock()
	if d.sem.TryAcquire() {
		d.inflight[task.TaskID] = task
		d.mu.Unlock()
		d.start(ctx, backend, task)
	} else {
		d.waiting = append(d.waiting, task)
		d.mu.Unlock()
	}
	return nil
}

// Poll returns the current status of a task.
func (d *Dispatcher) Poll(taskID string) (TaskStatus, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.inflight[taskID]; ok {
		return t.Status, true
	}
	for _, t := range d.waiting {
		if t.TaskID == taskID {
			return t.Status, true
		}
	}
	for _, t := range d.done {
		if t.TaskID == taskID {
			return t.Status, true
		}
	}
	return "", false
}

// Adopt re-attaches a monitor to a task that is already running on its
// backend, claiming a concurrency slot. Used after recovery when the backend
// reports the task still in progress.
func (d *Dispatcher) Adopt(ctx context.Context, task *DelegatedTask) error {
	backend, ok := d.backends[task.Backend]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoBackend, task.Backend)
	}
	if !d.sem.TryAcquire() {
		return errors.New("in-flight limit reached")
	}

	d.mu.Lock()
	task.Status = StatusRunning
	task.Deadline = time.Now().Add(d.opts.TaskTimeout)
	d.inflight[task.TaskID] = task
	d.mu.Unlock()
	d.record(task)
	slog.Info("Task adopted, still running on backend", "task", task.TaskID)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.monitor(ctx, backend, task)
	}()
	return nil
}

// Cancel asks the backend to stop a task.
func (d *Dispatcher) Cancel(ctx context.Context, taskID string) error {
	d.mu.Lock()
	task, ok := d.inflight[taskID]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	backend := d.backends[task.Backend]
	if backend == nil {
		return fmt.Errorf("%w: %q", ErrNoBackend, task.Backend)
	}
	return backend.Cancel(ctx, taskID)
}

// Drain returns finished tasks accumulated since the last call.
func (d *Dispatcher) Drain() []*DelegatedTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.done
	d.done = nil
	return out
}

// InFlight returns the number of tasks currently executing.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Wait blocks until all monitor goroutines finish. For shutdown and tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// start launches the backend and its monitor goroutine. Caller holds a
// semaphore slot, released by the monitor.
func (d *Dispatcher) start(ctx context.Context, backend Backend, task *DelegatedTask) {
	spec := TaskSpec{
		TaskID:         task.TaskID,
		Command:        task.Command,
		Timeout:        time.Until(task.Deadline),
		CheckpointData: task.CheckpointData,
	}

	if err := backend.Start(ctx, spec); err != nil {
		d.setState(task, StatusFailed, "", err.Error())
		d.finish(ctx, task)
		return
	}

	d.setState(task, StatusRunning, "", "")
	d.record(task)
	slog.Info("Task dispatched", "task", task.TaskID, "backend", backend.Name())

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.monitor(ctx, backend, task)
	}()
}

// monitor polls the backend until the task resolves or its deadline passes.
// On deadline expiry the backend is asked to cancel; if it does not resolve
// within the grace period the task is marked lost.
func (d *Dispatcher) monitor(ctx context.Context, backend Backend, task *DelegatedTask) {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	cancelRequested := false
	graceEnd := time.Time{}

	for {
		select {
		case <-ctx.Done():
			_ = backend.Cancel(context.Background(), task.TaskID)
			d.setState(task, StatusLost, "", "dispatcher shut down")
			d.finish(ctx, task)
			return
		case now := <-ticker.C:
			res, err := backend.Poll(ctx, task.TaskID)
			if err == nil {
				// Progress checkpoints reported by the backend are persisted
				// as they arrive so a crash resumes from the latest one.
				if res.CheckpointData != nil {
					d.mu.Lock()
					task.CheckpointData = res.CheckpointData
					d.mu.Unlock()
					d.record(task)
				}
				switch res.Status {
				case StatusCompleted, StatusFailed:
					d.setState(task, res.Status, res.Output, res.Err)
					d.finish(ctx, task)
					return
				}
			}

			if !cancelRequested && now.After(task.Deadline) {
				slog.Warn("Task deadline expired, cancelling", "task", task.TaskID)
				_ = backend.Cancel(ctx, task.TaskID)
				cancelRequested = true
				graceEnd = now.Add(d.opts.CancelGrace)
				continue
			}
			if cancelRequested && now.After(graceEnd) {
				slog.Error("Task unresponsive past grace period, marking lost", "task", task.TaskID)
				d.setState(task, StatusLost, "", "no cancellation acknowledgement within grace period")
				d.finish(ctx, task)
				return
			}
		}
	}
}

// setState mutates a published task under the dispatcher lock so Poll readers
// never observe a torn write.
func (d *Dispatcher) setState(task *DelegatedTask, status TaskStatus, output, errMsg string) {
	d.mu.Lock()
	task.Status = status
	task.Output = output
	task.Error = errMsg
	d.mu.Unlock()
}

// finish records a terminal status, releases the slot, and promotes the next
// waiting task.
func (d *Dispatcher) finish(ctx context.Context, task *DelegatedTask) {
	d.record(task)

	d.mu.Lock()
	if _, ok := d.inflight[task.TaskID]; ok {
		delete(d.inflight, task.TaskID)
		d.sem.Release()
	}
	d.done = append(d.done, task)

	var next *DelegatedTask
	if len(d.waiting) > 0 && d.sem.TryAcquire() {
		next = d.waiting[0]
		d.waiting = d.waiting[1:]
		d.inflight[next.TaskID] = next
	}
	d.mu.Unlock()

	slog.Info("Task finished", "task", task.TaskID, "status", task.Status)

	if next != nil {
		if backend, ok := d.backends[next.Backend]; ok {
			d.start(ctx, backend, next)
		}
	}
}

func (d *Dispatcher) record(task *DelegatedTask) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.SaveTask(task); err != nil {
		slog.Error("Task state persist failed", "task", task.TaskID, "error", err)
	}
}
