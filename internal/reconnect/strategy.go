package reconnect

import (
	"math"
	"math/rand/v2"
	"time"
)

// CloseNormal is the websocket close code for an intentional shutdown.
const CloseNormal = 1000

const (
	// Sessions that die sooner than this get their retry delay doubled.
	shortSession = 5 * time.Second

	// A session this short after this many attempts looks like another
	// login displacing us.
	duplicateWindow   = 3 * time.Second
	duplicateAttempts = 5

	jitterRatio = 0.15
)

// Config tunes the backoff policy.
type Config struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   10,
		BaseDelay:     time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2,
		Jitter:        true,
	}
}

// Context carries the facts a retry decision depends on.
type Context struct {
	IsKicked           bool
	IsPageHidden       bool
	IsOffline          bool
	CloseCode          int
	ConnectionDuration time.Duration

	// OnKicked is invoked when the duplicate-login heuristic trips.
	OnKicked func()
}

// StopReason explains why a retry was not scheduled.
type StopReason string

const (
	StopNone        StopReason = ""
	StopMaxAttempts StopReason = "max attempts reached"
	StopKicked      StopReason = "kicked"
	StopPageHidden  StopReason = "page hidden"
	StopOffline     StopReason = "offline"
	StopCleanClose  StopReason = "clean close"
)

// Strategy is a stateless retry policy.
type Strategy struct {
	cfg    Config
	random func() float64
}

// StrategyOption configures a Strategy.
type StrategyOption func(*Strategy)

// WithRandom replaces the [0,1) random source used for jitter.
func WithRandom(fn func() float64) StrategyOption {
	return func(s *Strategy) {
		s.random = fn
	}
}

// NewStrategy creates a Strategy.
func NewStrategy(cfg Config, opts ...StrategyOption) *Strategy {
	s := &Strategy{
		cfg:    cfg,
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the policy settings.
func (s *Strategy) Config() Config {
	return s.cfg
}

// Delay returns the wait before retry number attempt.
//
//	delay = base * factor^(attempt-1), doubled when 0 < connDuration < 5s,
//	±15% jitter when enabled, clamped to [0, MaxDelay], rounded to 1ms.
func (s *Strategy) Delay(attempt int, connDuration time.Duration) time.Duration {
	ms := float64(s.cfg.BaseDelay.Milliseconds()) * math.Pow(s.cfg.BackoffFactor, float64(attempt-1))

	if connDuration > 0 && connDuration < shortSession {
		ms *= 2
	}

	if s.cfg.Jitter {
		spread := ms * jitterRatio
		ms += s.random()*2*spread - spread
	}

	maxMs := float64(s.cfg.MaxDelay.Milliseconds())
	if ms > maxMs {
		ms = maxMs
	}
	if ms < 0 || math.IsNaN(ms) {
		ms = 0
	}

	return time.Duration(math.Round(ms)) * time.Millisecond
}

// StopReason returns why attempt must not be retried, or StopNone.
func (s *Strategy) StopReason(attempt int, c Context) StopReason {
	switch {
	case attempt >= s.cfg.MaxAttempts:
		return StopMaxAttempts
	case c.IsKicked:
		return StopKicked
	case c.IsPageHidden:
		return StopPageHidden
	case c.IsOffline:
		return StopOffline
	case c.CloseCode == CloseNormal:
		return StopCleanClose
	}
	return StopNone
}

// ShouldReconnect reports whether attempt may be retried.
func (s *Strategy) ShouldReconnect(attempt int, c Context) bool {
	return s.StopReason(attempt, c) == StopNone
}

// DetectDuplicateConnection reports whether a short-lived session after many
// attempts suggests another login has replaced this one. It is a hint, not a
// protocol signal.
func (s *Strategy) DetectDuplicateConnection(attempt int, connDuration time.Duration) bool {
	return connDuration < duplicateWindow && attempt >= duplicateAttempts
}
