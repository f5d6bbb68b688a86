// Package resilience provides the circuit breaker protecting the interview
// backend client.
//
// The breaker is a classic three-state machine (closed → open → half-open).
// It exists so that a dead backend fails candidate turns fast — the engine
// surfaces the error and stays recoverable — instead of stacking up
// slow-timeout requests while a candidate waits mid-interview.
//
// All methods are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] when the breaker is open and the
// cooldown has not yet elapsed.
var ErrOpen = errors.New("circuit breaker is open")

// state is the breaker's operating mode.
type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the breaker's tuning knobs. Zero values get defaults.
type Config struct {
	// Name is a label used in log messages.
	Name string

	// Threshold is the number of consecutive failures before the breaker
	// opens. Default: 5.
	Threshold int

	// Cooldown is how long the breaker stays open before allowing a probe
	// call. Default: 30s.
	Cooldown time.Duration
}

// Breaker implements the three-state circuit breaker pattern.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu          sync.Mutex
	state       state
	failures    int
	lastFailure time.Time
	probing     bool
}

// New creates a Breaker with the supplied configuration.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		state:     stateClosed,
	}
}

// Do runs fn if the breaker allows it. In the open state it returns [ErrOpen]
// without calling fn. After the cooldown a single probe call is admitted; its
// outcome decides whether the breaker closes or re-opens.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case stateOpen:
		if time.Since(b.lastFailure) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = stateHalfOpen
		b.probing = true
		slog.Info("circuit breaker half-open", "name", b.name)
	case stateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probing = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// State returns the breaker state name, for health reporting.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.lastFailure = time.Now()
	switch b.state {
	case stateHalfOpen:
		b.state = stateOpen
		b.probing = false
		slog.Warn("circuit breaker re-opened", "name", b.name)
	case stateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = stateOpen
			slog.Warn("circuit breaker opened",
				"name", b.name,
				"consecutive_failures", b.failures,
			)
		}
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	if b.state == stateHalfOpen {
		slog.Info("circuit breaker closed", "name", b.name)
	}
	b.state = stateClosed
	b.failures = 0
	b.probing = false
}
