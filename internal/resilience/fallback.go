package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// entry pairs a provider value with its dedicated circuit breaker.
type entry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the
// same provider type. When the primary fails (or its circuit breaker is open),
// the next healthy fallback is tried in registration order.
//
// Entries are registered before first use; Execute is then safe for
// concurrent use.
type FallbackGroup[T any] struct {
	entries []entry[T]
	cfg     Config
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
// cfg.Name is overridden per entry; the remaining fields tune every entry's
// breaker. Additional fallbacks are registered via [FallbackGroup.Add].
func NewFallbackGroup[T any](primaryName string, primary T, cfg Config) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback provider. Fallbacks are tried in the order they are
// added, after the primary.
func (g *FallbackGroup[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.entries = append(g.entries, entry[T]{
		name:    name,
		value:   value,
		breaker: New(cfg),
	})
}

// Execute tries fn against each entry in order until one succeeds. Entries
// with an open breaker are skipped. Returns [ErrAllFailed] wrapping the last
// error if every entry fails.
func (g *FallbackGroup[T]) Execute(fn func(T) error) error {
	var lastErr error
	for i := range g.entries {
		e := &g.entries[i]
		err := e.breaker.Do(func() error {
			return fn(e.value)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping provider, circuit open", "provider", e.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", e.name, "err", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
