// Package schedule decides how long the loop sleeps between iterations and
// which operating mode it runs in.
package schedule

import (
	"log/slog"
	"sync"
	"time"
)

// Mode is the loop's operating posture. Each mode has its own base interval.
type Mode string

const (
	ModeNormal      Mode = "normal"
	ModeDeepFocus   Mode = "deep_focus"
	ModeExploration Mode = "exploration"
	ModeOverload    Mode = "overload"
	ModeSleep       Mode = "sleep"
	ModeRecovery    Mode = "recovery"
)

// emaAlpha weights new samples against history. Higher reacts faster.
const emaAlpha = 0.3

// Options tunes the scheduler.
type Options struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	// HighRatePerSec is the event rate at which the interval factor bottoms
	// out.
	HighRatePerSec float64
	// OverloadDepth is the queue depth that counts an iteration toward the
	// overload streak.
	OverloadDepth int
	// OverloadStreak is how many consecutive deep iterations trigger
	// overload mode.
	OverloadStreak int
	// SleepAfterIdle is how long the queue must stay empty before sleep mode.
	SleepAfterIdle time.Duration
	// RecoveryIterations is how many clean iterations recovery mode lasts.
	RecoveryIterations int
	// BaseIntervals maps mode name to its base interval.
	BaseIntervals map[string]time.Duration
}

// Sample is one iteration's worth of scheduling signal.
type Sample struct {
	QueueDepth int
	Processed  int
	Duration   time.Duration
	Urgent     bool
}

// Scheduler adapts the inter-iteration interval to observed load. All state
// is smoothed with exponential moving averages so a single spike does not
// whip the interval around.
type Scheduler struct {
	opts Options

	mu             sync.Mutex
	mode           Mode
	requested      Mode // externally requested mode, empty when none
	emaRate        float64
	emaDepth       float64
	emaDurationMS  float64
	overloadStreak int
	idleSince      time.Time
	recoveryLeft   int
	lastSample     time.Time
}

// New creates a Scheduler in normal mode.
func New(opts Options) *Scheduler {
	if opts.MinInterval <= 0 {
		opts.MinInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 5 * time.Minute
	}
	if opts.HighRatePerSec <= 0 {
		opts.HighRatePerSec = 5
	}
	if opts.OverloadDepth <= 0 {
		opts.OverloadDepth = 50
	}
	if opts.OverloadStreak <= 0 {
		opts.OverloadStreak = 3
	}
	if opts.SleepAfterIdle <= 0 {
		opts.SleepAfterIdle = 10 * time.Minute
	}
	if opts.RecoveryIterations <= 0 {
		opts.RecoveryIterations = 5
	}
	return &Scheduler{opts: opts, mode: ModeNormal}
}

// StartRecovery puts the scheduler into recovery mode. Only meaningful at
// startup after a crash.
func (s *Scheduler) StartRecovery() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = ModeRecovery
	s.recoveryLeft = s.opts.RecoveryIterations
	slog.Info("Scheduler entering recovery mode", "iterations", s.recoveryLeft)
}

// Request asks for deep_focus or exploration mode. The request holds until
// cleared or overridden by overload. Other modes are ignored.
func (s *Scheduler) Request(mode Mode) {
	if mode != ModeDeepFocus && mode != ModeExploration {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requested = mode
}

// ClearRequest drops any externally requested mode.
func (s *Scheduler) ClearRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requested = ""
}

// Mode returns the current operating mode.
func (s *Scheduler) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Observe feeds one iteration's signal into the moving averages and applies
// mode transitions.
func (s *Scheduler) Observe(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if !s.lastSample.IsZero() {
		elapsed := now.Sub(s.lastSample).Seconds()
		if elapsed > 0 {
			rate := float64(sample.Processed) / elapsed
			s.emaRate = ema(s.emaRate, rate)
		}
	}
	s.lastSample = now
	s.emaDepth = ema(s.emaDepth, float64(sample.QueueDepth))
	s.emaDurationMS = ema(s.emaDurationMS, float64(sample.Duration.Milliseconds()))

	if sample.QueueDepth >= s.opts.OverloadDepth {
		s.overloadStreak++
	} else {
		s.overloadStreak = 0
	}
	if sample.Processed == 0 && sample.QueueDepth == 0 {
		if s.idleSince.IsZero() {
			s.idleSince = now
		}
	} else {
		s.idleSince = time.Time{}
	}

	s.transition(sample)
}

// transition applies mode rules. Caller holds the lock.
func (s *Scheduler) transition(sample Sample) {
	prev := s.mode

	switch {
	case s.mode == ModeRecovery:
		s.recoveryLeft--
		if s.recoveryLeft <= 0 {
			s.mode = ModeNormal
		}
	case s.overloadStreak >= s.opts.OverloadStreak:
		s.mode = ModeOverload
	case s.mode == ModeOverload && s.overloadStreak == 0:
		s.mode = ModeNormal
	case s.requested != "" && s.mode != ModeOverload:
		s.mode = s.requested
	case !s.idleSince.IsZero() && time.Since(s.idleSince) >= s.opts.SleepAfterIdle:
		s.mode = ModeSleep
	case s.mode == ModeSleep && (sample.Processed > 0 || sample.Urgent):
		s.mode = ModeNormal
	case s.mode == ModeDeepFocus || s.mode == ModeExploration:
		if s.requested == "" {
			s.mode = ModeNormal
		}
	}

	if s.mode != prev {
		slog.Info("Scheduler mode change", "from", prev, "to", s.mode)
	}
}

// NextInterval computes the sleep before the next iteration: the mode's base
// interval scaled by event rate, queue pressure, and iteration cost, clamped
// to the configured bounds.
func (s *Scheduler) NextInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.baseInterval(s.mode)
	interval := time.Duration(float64(base) * s.rateFactor() * s.queueFactor() * s.loadFactor())

	if interval < s.opts.MinInterval {
		interval = s.opts.MinInterval
	}
	if interval > s.opts.MaxInterval {
		interval = s.opts.MaxInterval
	}
	return interval
}

func (s *Scheduler) baseInterval(mode Mode) time.Duration {
	if d, ok := s.opts.BaseIntervals[string(mode)]; ok && d > 0 {
		return d
	}
	// Sensible fallbacks when configuration omits a mode.
	switch mode {
	case ModeDeepFocus:
		return 15 * time.Second
	case ModeExploration:
		return 8 * time.Second
	case ModeOverload:
		return time.Second
	case ModeSleep:
		return time.Minute
	case ModeRecovery:
		return 2 * time.Second
	default:
		return 5 * time.Second
	}
}

// rateFactor scales the interval by the smoothed event rate: up to 1.5x when
// the stream has gone quiet, shrinking toward 0.25x as the rate approaches
// the configured high-water mark.
func (s *Scheduler) rateFactor() float64 {
	frac := s.emaRate / s.opts.HighRatePerSec
	if frac > 1 {
		frac = 1
	}
	return 1.5 - 1.25*frac
}

// queueFactor shrinks the interval toward 0.5x as the smoothed queue depth
// approaches the overload depth.
func (s *Scheduler) queueFactor() float64 {
	frac := s.emaDepth / float64(s.opts.OverloadDepth)
	if frac > 1 {
		frac = 1
	}
	return 1 - 0.5*frac
}

// loadFactor stretches the interval up to 2x when iterations themselves are
// slow, giving expensive reasoning room to breathe.
func (s *Scheduler) loadFactor() float64 {
	const slowMS = 10_000
	frac := s.emaDurationMS / slowMS
	if frac > 1 {
		frac = 1
	}
	return 1 + frac
}

func ema(prev, sample float64) float64 {
	if prev == 0 {
		return sample
	}
	return emaAlpha*sample + (1-emaAlpha)*prev
}
