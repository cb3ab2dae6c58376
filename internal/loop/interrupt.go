package loop

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vigil-agent/vigil/internal/observe"
)

// HandleSignals turns SIGINT/SIGTERM into a graceful stop: the first signal
// emits an urgent shutdown observation, wakes the loop, and cancels ctx so
// Run writes its final checkpoint. A second signal exits immediately.
func HandleSignals(ctx context.Context, cancel context.CancelFunc, l *Loop, bus *observe.Bus) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			slog.Info("Shutdown signal received", "signal", sig)
			bus.Emit(observe.Observation{
				Source:         observe.SourceSystem,
				EventType:      "shutdown_requested",
				Payload:        map[string]any{"signal": sig.String()},
				CorrelationKey: "system:shutdown",
				Interrupt:      true,
			})
			l.Interrupt()
			cancel()
		}

		sig := <-sigCh
		slog.Error("Second signal, exiting immediately", "signal", sig)
		os.Exit(1)
	}()
}
