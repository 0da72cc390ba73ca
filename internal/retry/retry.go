// Package retry implements the exponential-backoff policy used for every
// call to the classification/generation service.
//
// Only failures classified as rate-limited (models.ErrRateLimited) are
// retried; anything else is a terminal failure of the operation and
// propagates immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/analystiq/analystiq/internal/models"
)

// Policy bounds retries for one class of upstream call.
type Policy struct {
	// MaxAttempts is the hard ceiling on total attempts, including the first.
	MaxAttempts int
	// BaseDelay is the backoff base: delay = BaseDelay * 2^attempt + jitter.
	BaseDelay time.Duration

	// Sleep waits out a backoff delay. Overridable for deterministic tests;
	// nil means a context-aware timer wait.
	Sleep func(ctx context.Context, d time.Duration) error
	// Jitter produces the random component added to each delay. Overridable
	// for deterministic tests; nil means uniform in [0, 1s).
	Jitter func() time.Duration
}

// NewPolicy creates a retry policy with the given attempt ceiling and
// backoff base.
func NewPolicy(maxAttempts int, baseDelay time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
	}
}

// Classification is the policy for classification-class calls.
func Classification() Policy { return NewPolicy(5, time.Second) }

// BestEffort is the policy for best-effort calls such as commentary.
func BestEffort() Policy { return NewPolicy(2, time.Second) }

// Do invokes op under the policy, retrying rate-limited failures with
// exponential backoff plus jitter. Exhausting the attempt ceiling yields
// an error wrapping models.ErrRetriesExhausted, distinguishable from a
// successful-but-empty result.
func Do[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		return zero, fmt.Errorf("retry policy for %s has no attempts", name)
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.Jitter == nil {
		// uniform jitter in [0, 1s)
		p.Jitter = func() time.Duration { return time.Duration(rand.Float64() * float64(time.Second)) }
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, models.ErrRateLimited) {
			// Permanent failure: do not retry.
			return zero, err
		}
		lastErr = err

		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.BaseDelay<<uint(attempt) + p.Jitter()
		slog.Warn("retry.Do: rate limited, backing off",
			"operation", name,
			"attempt", attempt+1,
			"maxAttempts", p.MaxAttempts,
			"delay_ms", delay.Milliseconds())
		if err := p.Sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("retry for %s interrupted: %w", name, err)
		}
	}

	slog.Error("retry.Do: retries exhausted", "operation", name, "attempts", p.MaxAttempts, "error", lastErr)
	return zero, fmt.Errorf("%s: %w after %d attempts: %w", name, models.ErrRetriesExhausted, p.MaxAttempts, lastErr)
}

// sleepContext waits for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
