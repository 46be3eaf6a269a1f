// Package poll turns point-in-time state queries into waitable conditions.
//
// A poll attempt first runs a failure check and then a predicate. When
// neither resolves, the caller sleeps until the next attempt. The sleep ends
// early when the state owner signals a change through a Notifier, so
// observable changes are picked up without waiting for the timer. Timers back
// off exponentially up to a cap, and the context bounds the whole wait.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrTimeout is returned when the context ends before the condition resolves.
var ErrTimeout = errors.New("poll: condition not met before deadline")

// Default backoff parameters.
const (
	DefaultInitialInterval = time.Millisecond
	DefaultMaxInterval     = 50 * time.Millisecond
	DefaultMultiplier      = 2.0
)

// Config controls the wait between attempts.
type Config struct {
	// InitialInterval is the wait after the first unresolved attempt.
	InitialInterval time.Duration

	// MaxInterval caps the wait between attempts.
	MaxInterval time.Duration

	// Multiplier grows the wait after every unresolved attempt.
	Multiplier float64

	// Clock is used for timers (default: wall clock).
	Clock clock.Clock
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.InitialInterval <= 0 {
		c.InitialInterval = DefaultInitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultMaxInterval
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = c.InitialInterval
	}
	if c.Multiplier < 1 {
		c.Multiplier = DefaultMultiplier
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}

// Backoff yields the capped exponential wait sequence of a Config.
type Backoff struct {
	cfg  Config
	next time.Duration
}

// NewBackoff creates a Backoff starting at cfg.InitialInterval.
func NewBackoff(cfg Config) *Backoff {
	cfg = cfg.withDefaults()
	return &Backoff{cfg: cfg, next: cfg.InitialInterval}
}

// Next returns the current wait and advances the sequence.
func (b *Backoff) Next() time.Duration {
	d := b.next
	grown := time.Duration(float64(b.next) * b.cfg.Multiplier)
	b.next = min(grown, b.cfg.MaxInterval)
	return d
}

// Reset restarts the sequence at the initial interval.
func (b *Backoff) Reset() {
	b.next = b.cfg.InitialInterval
}

// Stats describes a finished wait.
type Stats struct {
	// Attempts is the number of failure/predicate evaluations.
	Attempts int

	// Wakeups counts waits that ended through the Notifier.
	Wakeups int

	// Elapsed is the time spent inside Until.
	Elapsed time.Duration
}

// Until evaluates failure and then predicate until one of them resolves.
//
// failure runs first on every attempt: a non-nil error is returned
// immediately. Otherwise, when predicate reports ok, its value is returned.
// Between attempts Until waits for a wake-up from wake (may be nil), the
// backoff timer, or the end of ctx, whichever comes first. A wake-up resets
// the backoff, since the state owner has just reported progress.
func Until[T any](ctx context.Context, cfg Config, wake *Notifier, predicate func() (T, bool), failure func() error) (T, Stats, error) {
	cfg = cfg.withDefaults()
	backoff := NewBackoff(cfg)
	start := cfg.Clock.Now()

	var stats Stats
	var zero T
	for {
		// Grab the wake channel before checking state so a change that
		// happens during the checks is not lost.
		var woken <-chan struct{}
		if wake != nil {
			woken = wake.C()
		}

		stats.Attempts++
		if failure != nil {
			if err := failure(); err != nil {
				stats.Elapsed = cfg.Clock.Since(start)
				return zero, stats, err
			}
		}
		if v, ok := predicate(); ok {
			stats.Elapsed = cfg.Clock.Since(start)
			return v, stats, nil
		}

		timer := cfg.Clock.Timer(backoff.Next())
		select {
		case <-woken:
			timer.Stop()
			stats.Wakeups++
			backoff.Reset()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			stats.Elapsed = cfg.Clock.Since(start)
			return zero, stats, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
	}
}
