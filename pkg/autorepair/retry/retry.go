// Package retry implements the WaitStrategy/Retry primitive from spec §6:
// bounded linear backoff (base*attempts, capped) with a deadline, built atop
// cenkalti/backoff/v4 the way cortex's own retry-adjacent code (ring watches,
// store clients) leans on established backoff libraries rather than
// hand-rolling jitter math.
package retry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WaitStrategy computes the delay before the next attempt. A negative
// return means "stop retrying."
type WaitStrategy interface {
	ComputeWait(attempt int, unit time.Duration) time.Duration
}

// linearStrategy implements spec §6's default: 50ms*attempts, capped.
type linearStrategy struct {
	base time.Duration
	cap  time.Duration
}

func (s linearStrategy) ComputeWait(attempt int, unit time.Duration) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	d := s.base * time.Duration(attempt)
	if d > s.cap {
		d = s.cap
	}
	return d
}

// DefaultWaitStrategy is 50ms*attempts, capped at 10s, spec §6's default.
func DefaultWaitStrategy() WaitStrategy {
	return linearStrategy{base: 50 * time.Millisecond, cap: 10 * time.Second}
}

// ParseWaitStrategy parses a spec string of the form
// "50ms*attempts<=10s,retries=N" (spec §6). Returns the strategy and the
// retry count; retries is 0 if unspecified (caller should apply a default).
func ParseWaitStrategy(spec string) (WaitStrategy, int, error) {
	if spec == "" {
		return DefaultWaitStrategy(), 0, nil
	}

	parts := strings.Split(spec, ",")
	strategyPart := parts[0]
	retries := 0

	for _, p := range parts[1:] {
		if strings.HasPrefix(p, "retries=") {
			n, err := strconv.Atoi(strings.TrimPrefix(p, "retries="))
			if err != nil {
				return nil, 0, fmt.Errorf("invalid retries in wait strategy %q: %w", spec, err)
			}
			retries = n
		}
	}

	// "50ms*attempts<=10s"
	if !strings.Contains(strategyPart, "*attempts") {
		return nil, 0, fmt.Errorf("invalid wait strategy %q: expected form base*attempts<=cap", spec)
	}
	baseCapSplit := strings.SplitN(strategyPart, "*attempts", 2)
	base, err := time.ParseDuration(baseCapSplit[0])
	if err != nil {
		return nil, 0, fmt.Errorf("invalid base duration in wait strategy %q: %w", spec, err)
	}

	cap := 10 * time.Second
	rest := strings.TrimPrefix(baseCapSplit[1], "<=")
	if rest != "" {
		cap, err = time.ParseDuration(rest)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid cap duration in wait strategy %q: %w", spec, err)
		}
	}

	return linearStrategy{base: base, cap: cap}, retries, nil
}

// Retry wraps a WaitStrategy with a deadline and an attempt counter, per
// spec §6's Retry contract (hasExpired, maybeSleep, attempts).
type Retry struct {
	strategy WaitStrategy
	deadline time.Time
	noLimit  bool
	maxTries int

	tries int
}

// UntilElapsed retries until timeout has elapsed since now.
func UntilElapsed(strategy WaitStrategy, timeout time.Duration, maxTries int) *Retry {
	return &Retry{strategy: strategy, deadline: time.Now().Add(timeout), maxTries: maxTries}
}

// Until retries until the given deadline.
func Until(strategy WaitStrategy, deadline time.Time, maxTries int) *Retry {
	return &Retry{strategy: strategy, deadline: deadline, maxTries: maxTries}
}

// WithNoTimeLimit retries until maxTries is exhausted, with no deadline.
func WithNoTimeLimit(strategy WaitStrategy, maxTries int) *Retry {
	return &Retry{strategy: strategy, noLimit: true, maxTries: maxTries}
}

// HasExpired reports whether no further attempts should be made.
func (r *Retry) HasExpired() bool {
	if r.maxTries > 0 && r.tries >= r.maxTries {
		return true
	}
	if !r.noLimit && !time.Now().Before(r.deadline) {
		return true
	}
	return false
}

// Attempts returns the number of attempts made so far.
func (r *Retry) Attempts() int {
	return r.tries
}

// MaybeSleep sleeps for the strategy's computed wait, unless doing so would
// fall outside the deadline, honoring ctx cancellation.
func (r *Retry) MaybeSleep(ctx context.Context) error {
	r.tries++
	wait := r.strategy.ComputeWait(r.tries, time.Millisecond)
	if wait < 0 {
		return nil
	}
	if !r.noLimit && time.Now().Add(wait).After(r.deadline) {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BackoffFor adapts a Retry into a cenkalti/backoff/v4 BackOff, for callers
// that want to drive it through backoff.Retry / backoff.RetryNotify instead
// of the MaybeSleep loop above. It carries over r's deadline and maxTries
// only: every interval is a fixed 50ms, and r's WaitStrategy is not
// consulted.
func (r *Retry) BackoffFor() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          1, // constant: every interval stays at InitialInterval
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:       time.Until(r.deadline),
		Clock:               backoff.SystemClock,
	}
	if r.noLimit {
		b.MaxElapsedTime = 0 // no elapsed-time limit
	}
	b.Reset()
	if r.maxTries > 0 {
		return backoff.WithMaxRetries(b, uint64(r.maxTries))
	}
	return b
}
