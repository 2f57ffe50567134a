// Package governor paces and retries vendor network calls. It enforces a
// per-vendor minimum inter-request interval shared across all goroutines and
// retries retryable failures on an exponential schedule.
package governor

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	defaultMinInterval = 1 * time.Second
	defaultMaxRetries  = 3
	defaultBackoffBase = 1 * time.Second
)

// Clock abstracts time so retry schedules can be tested without waiting.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Limits is the per-vendor pacing and retry budget.
type Limits struct {
	MinInterval time.Duration
	MaxRetries  int
	BackoffBase time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.MinInterval <= 0 {
		l.MinInterval = defaultMinInterval
	}
	if l.MaxRetries <= 0 {
		l.MaxRetries = defaultMaxRetries
	}
	if l.BackoffBase <= 0 {
		l.BackoffBase = defaultBackoffBase
	}
	return l
}

// retryable errors opt in via this interface; scraper.FetchError implements
// it, scraper.ParseError deliberately does not.
type retryable interface {
	Retryable() bool
}

// retryAfterHint lets an error carry a server-specified delay that overrides
// the backoff schedule for that one retry.
type retryAfterHint interface {
	RetryAfterHint() (time.Duration, bool)
}

type Governor struct {
	mu     sync.Mutex
	limits map[string]Limits
	next   map[string]time.Time

	clock   Clock
	onRetry func(vendor string, attempt int, delay time.Duration)
}

func New(limits map[string]Limits) *Governor {
	return &Governor{
		limits: limits,
		next:   make(map[string]time.Time),
		clock:  realClock{},
	}
}

// SetClock swaps the wall clock for a fake one. Test hook.
func (g *Governor) SetClock(c Clock) {
	g.clock = c
}

// SetRetryHook registers an observer called before each retry sleep.
func (g *Governor) SetRetryHook(fn func(vendor string, attempt int, delay time.Duration)) {
	g.onRetry = fn
}

func (g *Governor) vendorLimits(vendor string) Limits {
	return g.limits[vendor].withDefaults()
}

// pace reserves the vendor's next request slot and sleeps until it opens.
// The slot is claimed under the lock so concurrent callers queue up instead
// of firing together.
func (g *Governor) pace(ctx context.Context, vendor string, interval time.Duration) error {
	g.mu.Lock()
	now := g.clock.Now()
	slot := g.next[vendor]
	if slot.Before(now) {
		slot = now
	}
	g.next[vendor] = slot.Add(interval)
	g.mu.Unlock()

	if wait := slot.Sub(now); wait > 0 {
		return g.clock.Sleep(ctx, wait)
	}
	return ctx.Err()
}

// Do runs fn under the vendor's pacing and retry policy. Only errors that
// report Retryable() are retried; the delay doubles from the vendor's base
// each attempt unless the error carries a server retry-after hint, which
// wins for that one retry. The exhausted attempt's error is returned as-is.
func (g *Governor) Do(ctx context.Context, vendor string, fn func(context.Context) error) error {
	lim := g.vendorLimits(vendor)
	bo := backoff{base: lim.BackoffBase}

	for attempt := 0; ; attempt++ {
		if err := g.pace(ctx, vendor, lim.MinInterval); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		var r retryable
		if !errors.As(err, &r) || !r.Retryable() {
			return err
		}
		if attempt >= lim.MaxRetries {
			return err
		}

		delay := bo.Next()
		var hint retryAfterHint
		if errors.As(err, &hint) {
			if d, ok := hint.RetryAfterHint(); ok {
				delay = d
			}
		}

		if g.onRetry != nil {
			g.onRetry(vendor, attempt+1, delay)
		}
		if err := g.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// backoff is the attempt-count/next-delay state machine: base, 2*base,
// 4*base, ...
type backoff struct {
	base    time.Duration
	attempt int
}

func (b *backoff) Next() time.Duration {
	d := b.base << b.attempt
	b.attempt++
	return d
}
