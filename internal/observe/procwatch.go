package observe

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// spikeFactor is how much a sampled value must grow over the last sample
// before it counts as a spike.
const spikeFactor = 2.0

// ProcessObserver samples the controller's own runtime health and emits a
// process observation when goroutine count or heap usage spikes. Steady state
// stays quiet so the queue can drain and the scheduler can sleep.
type ProcessObserver struct {
	interval time.Duration
	emitter  Emitter

	lastGoroutines int
	lastHeap       uint64
}

// NewProcessObserver creates a runtime-health poller.
func NewProcessObserver(interval time.Duration, emitter Emitter) *ProcessObserver {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ProcessObserver{interval: interval, emitter: emitter}
}

// Start runs the polling loop until the context is cancelled. Blocks; run in
// a goroutine.
func (o *ProcessObserver) Start(ctx context.Context) error {
	// Seed the baseline so startup allocation is not reported as a spike.
	o.lastGoroutines, o.lastHeap = sampleRuntime()
	slog.Info("Process observer started", "interval", o.interval)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			goroutines, heap := sampleRuntime()
			o.check(goroutines, heap)
		}
	}
}

// check compares a sample against the previous one and emits on spikes. The
// sample becomes the new baseline either way, so a sustained plateau is
// reported once, not every tick.
func (o *ProcessObserver) check(goroutines int, heap uint64) {
	if o.lastGoroutines > 0 && float64(goroutines) >= float64(o.lastGoroutines)*spikeFactor {
		o.emitter.Emit(Observation{
			Source:    SourceProcess,
			EventType: "goroutine_spike",
			Payload: map[string]any{
				"goroutines": goroutines,
				"previous":   o.lastGoroutines,
			},
			CorrelationKey: "proc:goroutines",
		})
	}
	if o.lastHeap > 0 && float64(heap) >= float64(o.lastHeap)*spikeFactor {
		o.emitter.Emit(Observation{
			Source:    SourceProcess,
			EventType: "memory_spike",
			Payload: map[string]any{
				"heap_bytes": heap,
				"previous":   o.lastHeap,
			},
			CorrelationKey: "proc:heap",
		})
	}
	o.lastGoroutines, o.lastHeap = goroutines, heap
}

func sampleRuntime() (goroutines int, heap uint64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return runtime.NumGoroutine(), ms.HeapAlloc
}
