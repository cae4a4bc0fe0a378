// Package retry implements exponential backoff with jitter for startup
// calls that must eventually succeed, such as resolving the bot identity.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// ErrAborted is returned when the context is cancelled during a backoff
// sleep. It is distinct from the operation's own errors so callers can
// tell shutdown apart from exhaustion.
var ErrAborted = errors.New("retry: aborted")

// Policy describes the backoff curve.
type Policy struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration

	// Max caps the delay. Zero means no cap.
	Max time.Duration

	// Factor multiplies the delay after each attempt. Values <= 1
	// default to 2.
	Factor float64

	// Jitter perturbs each delay by ±(Jitter × delay), re-randomized
	// per attempt so retries across accounts do not thunder in lockstep.
	Jitter float64
}

// Delay computes the backoff before attempt n+1, where n counts from 1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.Factor
	if factor <= 1 {
		factor = 2
	}

	d := float64(p.Initial) * math.Pow(factor, float64(attempt-1))
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * p.Jitter * d
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Do runs op up to maxAttempts times, sleeping per the policy between
// attempts. recoverable decides whether an error is worth retrying; a nil
// recoverable retries everything. A non-recoverable error and attempt
// exhaustion both return the last error; cancellation during the sleep
// returns ErrAborted.
func Do(ctx context.Context, maxAttempts int, p Policy, op func(context.Context) error, recoverable func(error) bool) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if recoverable != nil && !recoverable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			return fmt.Errorf("retry: %d attempts exhausted: %w", maxAttempts, lastErr)
		}
		if err := sleep(ctx, p.Delay(attempt)); err != nil {
			return fmt.Errorf("%w after attempt %d: %w", ErrAborted, attempt, lastErr)
		}
	}
	return lastErr
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
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
