package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigil-agent/vigil/internal/assemble"
	"github.com/vigil-agent/vigil/internal/attention"
	"github.com/vigil-agent/vigil/internal/config"
	"github.com/vigil-agent/vigil/internal/decision"
	"github.com/vigil-agent/vigil/internal/dispatch"
	"github.com/vigil-agent/vigil/internal/loop"
	"github.com/vigil-agent/vigil/internal/notify"
	"github.com/vigil-agent/vigil/internal/observe"
	"github.com/vigil-agent/vigil/internal/reasoning"
	"github.com/vigil-agent/vigil/internal/schedule"
	"github.com/vigil-agent/vigil/internal/state"
)

var runDebug bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the monitoring loop",
	RunE:  runLoop,
}

func init() {
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Enable debug logging")
}

func runLoop(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if runDebug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load()
	if err != nil {
		slog.Warn("Config load failed, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	stateDir, err := config.ExpandHome(cfg.Paths.StateDir)
	if err != nil {
		return fmt.Errorf("resolving state dir: %w", err)
	}
	repoPath, err := filepath.Abs(cfg.Paths.RepoPath)
	if err != nil {
		return fmt.Errorf("resolving repo path: %w", err)
	}

	store, err := state.NewStore(filepath.Join(stateDir, "vigil.db"))
	if err != nil {
		// The state dir may not exist yet on first run.
		if mkErr := os.MkdirAll(stateDir, 0o755); mkErr != nil {
			return fmt.Errorf("creating state dir: %w", mkErr)
		}
		store, err = state.NewStore(filepath.Join(stateDir, "vigil.db"))
		if err != nil {
			return err
		}
	}
	defer store.Close()

	ckpts, err := state.NewCheckpointManager(stateDir)
	if err != nil {
		return err
	}

	dispatcher := dispatch.New(dispatch.Options{
		MaxInFlight:  cfg.Dispatch.MaxInFlight,
		TaskTimeout:  cfg.Dispatch.TaskTimeout,
		CancelGrace:  cfg.Dispatch.CancelGrace,
		PollInterval: cfg.Dispatch.PollInterval,
	}, store)
	backends := make(map[string]dispatch.Backend)
	if cfg.Dispatch.Command != "" {
		parts := strings.Fields(cfg.Dispatch.Command)
		sub := dispatch.NewSubprocessBackend(parts[0], parts[1:], repoPath)
		dispatcher.Register(sub)
		backends[sub.Name()] = sub
	}

	recovered, err := state.Recover(cmd.Context(), store, ckpts, state.RecoveryOptions{
		StaleAfterIterations: cfg.State.StaleCheckpointN,
		MaxAge:               cfg.State.StaleCheckpointAge,
		MaxTaskRetries:       cfg.State.MaxTaskRetries,
		Backends:             backends,
	})
	if err != nil {
		return fmt.Errorf("recovering state: %w", err)
	}
	session := recovered.Session
	session.WorkingMemory.Limit = cfg.Context.WorkingMemoryItems

	// Roll old iteration records into the archive so the log stays small.
	if err := store.ArchiveBefore(cmd.Context(), time.Now().AddDate(0, 0, -7)); err != nil {
		slog.Warn("Iteration archive rollup failed", "error", err)
	}

	queue := attention.New(cfg.Attention.QueueCapacity, cfg.Attention.DebounceWindow, cfg.Attention.UrgentFloor)
	bus := observe.NewBus(queue, cfg.Attention.SourceWeights, 0)

	// Re-enqueue whatever was pending at the last checkpoint.
	for _, item := range session.QueueSnapshot {
		bus.Emit(observe.Observation{
			Source:         observe.Source(item.Source),
			EventType:      item.EventType,
			Payload:        item.Payload,
			PriorityScore:  float64(item.Priority),
			CorrelationKey: item.CorrelationKey,
		})
	}
	session.QueueSnapshot = nil

	provider := reasoning.NewOpenAIProvider(
		cfg.Reasoning.APIKey, cfg.Reasoning.APIBase, cfg.Reasoning.Model, cfg.Reasoning.Timeout)
	gateway := reasoning.NewGateway(provider, reasoning.Options{
		Model:       cfg.Reasoning.Model,
		MaxTokens:   cfg.Reasoning.MaxTokens,
		Temperature: cfg.Reasoning.Temperature,
		MaxRetries:  cfg.Reasoning.MaxRetries,
		BackoffBase: cfg.Reasoning.BackoffBase,
	})

	evaluator := decision.NewEvaluator(cfg.Decision.DelegationThreshold, cfg.Decision.ReflectionThreshold)
	assembler := assemble.New(cfg.Context.ScratchTokens, cfg.Context.MandatoryPriority)
	notifier := notify.NewSlackNotifier(cfg.Notify.SlackWebhookURL)

	scheduler := schedule.New(schedule.Options{
		MinInterval:    cfg.Scheduler.MinInterval,
		MaxInterval:    cfg.Scheduler.MaxInterval,
		HighRatePerSec: cfg.Scheduler.HighRatePerSec,
		OverloadDepth:  cfg.Scheduler.OverloadDepth,
		OverloadStreak: cfg.Scheduler.OverloadStreak,
		SleepAfterIdle: cfg.Scheduler.SleepAfterIdle,
		BaseIntervals:  cfg.Scheduler.BaseIntervals,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if recovered.Recovered {
		scheduler.StartRecovery()
		_ = notifier.Notify(ctx, "Recovery started",
			fmt.Sprintf("session %s resumed after unclean shutdown at iteration %d",
				session.SessionID, session.IterationCount))
		for _, task := range recovered.Finalized {
			slog.Info("Delegated task finished while controller was down",
				"task", task.TaskID, "status", task.Status)
		}
		for _, task := range recovered.Running {
			if err := dispatcher.Adopt(ctx, task); err != nil {
				slog.Error("Task adoption failed", "task", task.TaskID, "error", err)
			}
		}
		for _, task := range recovered.Resumable {
			if err := dispatcher.Resume(ctx, task); err != nil {
				slog.Error("Task resume failed", "task", task.TaskID, "error", err)
			}
		}
		for _, task := range recovered.Abandoned {
			_ = notifier.Notify(ctx, "Delegated task abandoned",
				fmt.Sprintf("task %s exceeded its retry budget: %s", task.TaskID, task.Error))
		}
	}

	startObservers(ctx, cfg, repoPath, bus)

	l := loop.New(loop.Options{
		Config:      cfg,
		Bus:         bus,
		Queue:       queue,
		Assembler:   assembler,
		Gateway:     gateway,
		Evaluator:   evaluator,
		Dispatcher:  dispatcher,
		Store:       store,
		Checkpoints: ckpts,
		Scheduler:   scheduler,
		Notifier:    notifier,
		Session:     session,
	})
	loop.HandleSignals(ctx, cancel, l, bus)

	printHeader("👁  vigil running")
	fmt.Printf("Repo:  %s\nState: %s\n\n", repoPath, stateDir)

	return l.Run(ctx)
}

// startObservers launches the enabled observers. Each Start blocks until ctx
// is cancelled, so they run on their own goroutines.
func startObservers(ctx context.Context, cfg *config.Config, repoPath string, bus *observe.Bus) {
	run := func(name string, start func(context.Context) error) {
		go func() {
			if err := start(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Observer stopped", "observer", name, "error", err)
			}
		}()
	}

	if cfg.Observers.Filesystem.Enabled {
		fs := observe.NewFilesystemObserver(repoPath, cfg.Observers.Filesystem.Ignore, bus)
		run("filesystem", fs.Start)
	}
	if cfg.Observers.Git.Enabled {
		interval := cfg.Observers.Git.PollInterval
		if interval <= 0 {
			interval = 15 * time.Second
		}
		git := observe.NewGitObserver(repoPath, interval, bus)
		run("git", git.Start)
	}
	if cfg.Observers.Process.Enabled {
		proc := observe.NewProcessObserver(cfg.Observers.Process.PollInterval, bus)
		run("process", proc.Start)
	}
	if cfg.Observers.Kafka.Enabled {
		kafka := observe.NewKafkaObserver(
			cfg.Observers.Kafka.Brokers, cfg.Observers.Kafka.Topic,
			cfg.Observers.Kafka.ConsumerGroup, bus)
		run("kafka", kafka.Start)
	}
}
