// Package config provides configuration types and loading for vigil.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Attention, Context, Reasoning, Decision, Dispatch,
// Scheduler, State, Observers, Notify.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Attention AttentionConfig `json:"attention"`
	Context   ContextConfig   `json:"context"`
	Reasoning ReasoningConfig `json:"reasoning"`
	Decision  DecisionConfig  `json:"decision"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Scheduler SchedulerConfig `json:"scheduler"`
	State     StateConfig     `json:"state"`
	Observers ObserversConfig `json:"observers"`
	Notify    NotifyConfig    `json:"notify"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	RepoPath string `json:"repoPath" envconfig:"REPO_PATH"`
	StateDir string `json:"stateDir" envconfig:"STATE_DIR"`
}

// ---------------------------------------------------------------------------
// Attention – queue sizing and noise suppression
// ---------------------------------------------------------------------------

// AttentionConfig controls the attention queue and observation scoring.
type AttentionConfig struct {
	QueueCapacity  int                `json:"queueCapacity" envconfig:"QUEUE_CAPACITY"`
	DebounceWindow time.Duration      `json:"debounceWindow" envconfig:"DEBOUNCE_WINDOW"`
	StaleAfter     time.Duration      `json:"staleAfter" envconfig:"STALE_AFTER"`
	UrgentFloor    float64            `json:"urgentFloor" envconfig:"URGENT_FLOOR"`
	OverloadFloor  float64            `json:"overloadFloor" envconfig:"OVERLOAD_FLOOR"`
	SourceWeights  map[string]float64 `json:"sourceWeights"`
}

// ---------------------------------------------------------------------------
// Context – token budget for assembled reasoning input
// ---------------------------------------------------------------------------

// ContextConfig controls context assembly.
type ContextConfig struct {
	BudgetTokens       int     `json:"budgetTokens" envconfig:"BUDGET_TOKENS"`
	ScratchTokens      int     `json:"scratchTokens" envconfig:"SCRATCH_TOKENS"`
	MandatoryPriority  float64 `json:"mandatoryPriority" envconfig:"MANDATORY_PRIORITY"`
	WorkingMemoryItems int     `json:"workingMemoryItems" envconfig:"WORKING_MEMORY_ITEMS"`
}

// ---------------------------------------------------------------------------
// Reasoning – LLM backend
// ---------------------------------------------------------------------------

// ReasoningConfig groups LLM provider and retry settings.
type ReasoningConfig struct {
	APIKey      string        `json:"apiKey" envconfig:"API_KEY"`
	APIBase     string        `json:"apiBase" envconfig:"API_BASE"`
	Model       string        `json:"model" envconfig:"MODEL"`
	MaxTokens   int           `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature float64       `json:"temperature" envconfig:"TEMPERATURE"`
	Timeout     time.Duration `json:"timeout" envconfig:"TIMEOUT"`
	MaxRetries  int           `json:"maxRetries" envconfig:"MAX_RETRIES"`
	BackoffBase time.Duration `json:"backoffBase" envconfig:"BACKOFF_BASE"`
}

// ---------------------------------------------------------------------------
// Decision – safety thresholds
// ---------------------------------------------------------------------------

// DecisionConfig holds the evaluator thresholds.
type DecisionConfig struct {
	DelegationThreshold float64 `json:"delegationThreshold" envconfig:"DELEGATION_THRESHOLD"`
	ReflectionThreshold float64 `json:"reflectionThreshold" envconfig:"REFLECTION_THRESHOLD"`
}

// ---------------------------------------------------------------------------
// Dispatch – delegated execution
// ---------------------------------------------------------------------------

// DispatchConfig controls delegated task execution.
type DispatchConfig struct {
	MaxInFlight  int           `json:"maxInFlight" envconfig:"MAX_IN_FLIGHT"`
	TaskTimeout  time.Duration `json:"taskTimeout" envconfig:"TASK_TIMEOUT"`
	CancelGrace  time.Duration `json:"cancelGrace" envconfig:"CANCEL_GRACE"`
	PollInterval time.Duration `json:"pollInterval" envconfig:"POLL_INTERVAL"`
	Command      string        `json:"command" envconfig:"COMMAND"`
}

// ---------------------------------------------------------------------------
// Scheduler – iteration pacing
// ---------------------------------------------------------------------------

// SchedulerConfig controls adaptive iteration pacing.
type SchedulerConfig struct {
	MinInterval    time.Duration            `json:"minInterval" envconfig:"MIN_INTERVAL"`
	MaxInterval    time.Duration            `json:"maxInterval" envconfig:"MAX_INTERVAL"`
	HighRatePerSec float64                  `json:"highRatePerSec" envconfig:"HIGH_RATE_PER_SEC"`
	OverloadDepth  int                      `json:"overloadDepth" envconfig:"OVERLOAD_DEPTH"`
	OverloadStreak int                      `json:"overloadStreak" envconfig:"OVERLOAD_STREAK"`
	SleepAfterIdle time.Duration            `json:"sleepAfterIdle" envconfig:"SLEEP_AFTER_IDLE"`
	BaseIntervals  map[string]time.Duration `json:"baseIntervals"`
}

// ---------------------------------------------------------------------------
// State – checkpointing and recovery
// ---------------------------------------------------------------------------

// StateConfig controls the state manager.
type StateConfig struct {
	CheckpointEveryN int `json:"checkpointEveryN" envconfig:"CHECKPOINT_EVERY_N"`
	// CheckpointMaxAge bounds how long the loop runs without writing a
	// checkpoint.
	CheckpointMaxAge time.Duration `json:"checkpointMaxAge" envconfig:"CHECKPOINT_MAX_AGE"`
	// StaleCheckpointN and StaleCheckpointAge mark a checkpoint untrustworthy
	// at recovery: by iteration distance from the durable log, and by wall
	// clock.
	StaleCheckpointN   int64         `json:"staleCheckpointN" envconfig:"STALE_CHECKPOINT_N"`
	StaleCheckpointAge time.Duration `json:"staleCheckpointAge" envconfig:"STALE_CHECKPOINT_AGE"`
	MaxTaskRetries     int           `json:"maxTaskRetries" envconfig:"MAX_TASK_RETRIES"`
}

// ---------------------------------------------------------------------------
// Observers – event sources
// ---------------------------------------------------------------------------

// ObserversConfig enables the bundled observer collaborators.
type ObserversConfig struct {
	Filesystem FilesystemObserverConfig `json:"filesystem"`
	Git        GitObserverConfig        `json:"git"`
	Process    ProcessObserverConfig    `json:"process"`
	Kafka      KafkaObserverConfig      `json:"kafka"`
}

// FilesystemObserverConfig configures the fsnotify repository watcher.
type FilesystemObserverConfig struct {
	Enabled bool     `json:"enabled" envconfig:"FS_ENABLED"`
	Ignore  []string `json:"ignore"`
}

// GitObserverConfig configures the git HEAD poller.
type GitObserverConfig struct {
	Enabled      bool          `json:"enabled" envconfig:"GIT_ENABLED"`
	PollInterval time.Duration `json:"pollInterval" envconfig:"GIT_POLL_INTERVAL"`
}

// ProcessObserverConfig configures the runtime-health heartbeat poller.
type ProcessObserverConfig struct {
	Enabled      bool          `json:"enabled" envconfig:"PROC_ENABLED"`
	PollInterval time.Duration `json:"pollInterval" envconfig:"PROC_POLL_INTERVAL"`
}

// KafkaObserverConfig configures the Kafka task-status source.
type KafkaObserverConfig struct {
	Enabled       bool   `json:"enabled" envconfig:"KAFKA_ENABLED"`
	Brokers       string `json:"brokers" envconfig:"KAFKA_BROKERS"`
	Topic         string `json:"topic" envconfig:"KAFKA_TOPIC"`
	ConsumerGroup string `json:"consumerGroup" envconfig:"KAFKA_CONSUMER_GROUP"`
}

// ---------------------------------------------------------------------------
// Notify – outbound alerts for critical events
// ---------------------------------------------------------------------------

// NotifyConfig configures the Slack critical-event notifier.
type NotifyConfig struct {
	SlackWebhookURL string `json:"slackWebhookUrl" envconfig:"SLACK_WEBHOOK_URL"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			RepoPath: ".",
			StateDir: "~/.vigil",
		},
		Attention: AttentionConfig{
			QueueCapacity:  1000,
			DebounceWindow: 2 * time.Second,
			StaleAfter:     10 * time.Minute,
			UrgentFloor:    80,
			OverloadFloor:  60,
			SourceWeights: map[string]float64{
				"filesystem": 30,
				"process":    40,
				"git":        50,
				"task":       60,
				"system":     70,
			},
		},
		Context: ContextConfig{
			BudgetTokens:       8192,
			ScratchTokens:      1024,
			MandatoryPriority:  90,
			WorkingMemoryItems: 20,
		},
		Reasoning: ReasoningConfig{
			APIBase:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   1024,
			Temperature: 0.2,
			Timeout:     120 * time.Second,
			MaxRetries:  3,
			BackoffBase: 500 * time.Millisecond,
		},
		Decision: DecisionConfig{
			DelegationThreshold: 0.7,
			ReflectionThreshold: 0.3,
		},
		Dispatch: DispatchConfig{
			MaxInFlight:  3,
			TaskTimeout:  10 * time.Minute,
			CancelGrace:  30 * time.Second,
			PollInterval: 2 * time.Second,
		},
		Scheduler: SchedulerConfig{
			MinInterval:    500 * time.Millisecond,
			MaxInterval:    5 * time.Minute,
			HighRatePerSec: 5,
			OverloadDepth:  200,
			OverloadStreak: 3,
			SleepAfterIdle: 10 * time.Minute,
			BaseIntervals: map[string]time.Duration{
				"normal":      5 * time.Second,
				"deep_focus":  15 * time.Second,
				"exploration": 8 * time.Second,
				"overload":    1 * time.Second,
				"sleep":       60 * time.Second,
				"recovery":    2 * time.Second,
			},
		},
		State: StateConfig{
			CheckpointEveryN:   5,
			CheckpointMaxAge:   2 * time.Minute,
			StaleCheckpointN:   50,
			StaleCheckpointAge: time.Hour,
			MaxTaskRetries:     3,
		},
		Observers: ObserversConfig{
			Filesystem: FilesystemObserverConfig{
				Enabled: true,
				Ignore:  []string{".git", "node_modules", ".vigil"},
			},
			Git: GitObserverConfig{
				Enabled:      true,
				PollInterval: 15 * time.Second,
			},
			Process: ProcessObserverConfig{
				Enabled:      true,
				PollInterval: 30 * time.Second,
			},
			Kafka: KafkaObserverConfig{
				Enabled: false,
				Topic:   "vigil.observations",
			},
		},
	}
}
