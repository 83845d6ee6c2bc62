package crawler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ternarybob/arbor"
)

// BackoffKind selects how the delay grows between attempts
type BackoffKind string

const (
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy defines bounded retry with backoff.
// Step-level and entity-level scopes each carry their own policy.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Backoff     BackoffKind
	Multiplier  float64       // exponential only; defaults to 2
	MaxDelay    time.Duration // 0 = uncapped
}

// NewRetryPolicy creates the default policy: 3 attempts, 5s * attempt
func NewRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
		Backoff:     BackoffLinear,
		Multiplier:  2.0,
	}
}

// Attempts returns the effective attempt budget (never below 1)
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait after the given failed attempt (1-based).
// Delays never decrease as attempt grows.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BaseDelay
	if base < 0 {
		base = 0
	}

	var delay float64
	switch p.Backoff {
	case BackoffExponential:
		mult := p.Multiplier
		if mult < 1 {
			mult = 2.0
		}
		delay = float64(base) * math.Pow(mult, float64(attempt-1))
	default:
		delay = float64(base) * float64(attempt)
	}

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// RecoveryProbe tries to put the session back into a known state between attempts.
// Probe errors are logged and never stop the retry loop.
type RecoveryProbe func(ctx context.Context) error

// ExhaustedError is returned once every attempt of a scope has failed
type ExhaustedError struct {
	Scope    string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: all %d attempts failed: %v", e.Scope, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// RetryExecutor runs fallible operations under a RetryPolicy
type RetryExecutor struct {
	clock  Clock
	logger arbor.ILogger
}

// NewRetryExecutor creates an executor that sleeps on clock between attempts
func NewRetryExecutor(clock Clock, logger arbor.ILogger) *RetryExecutor {
	if clock == nil {
		clock = NewRealClock()
	}
	return &RetryExecutor{clock: clock, logger: logger}
}

// Retry invokes op until it succeeds or the policy's attempts are spent.
// With MaxAttempts=N op runs exactly N times when every attempt fails. Between attempts
// the executor sleeps policy.Delay(attempt) and then runs probe (if any). The last
// failure is returned wrapped in *ExhaustedError; the caller decides how to escalate.
func Retry[T any](ctx context.Context, e *RetryExecutor, scope string, policy RetryPolicy, probe RecoveryProbe, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := policy.Attempts()

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				e.logger.Debug().
					Str("scope", scope).
					Int("attempt", attempt).
					Msg("Operation succeeded after retry")
			}
			return result, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, fmt.Errorf("%s: cancelled after attempt %d: %w", scope, attempt, errors.Join(ctxErr, err))
		}

		delay := policy.Delay(attempt)
		e.logger.Warn().
			Str("scope", scope).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("backoff", delay).
			Err(err).
			Msg("Attempt failed, retrying after backoff")

		if err := e.clock.Sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s: cancelled during backoff: %w", scope, errors.Join(err, lastErr))
		}

		if probe != nil {
			if perr := probe(ctx); perr != nil {
				e.logger.Warn().
					Str("scope", scope).
					Int("attempt", attempt).
					Err(perr).
					Msg("Session recovery probe failed")
			}
		}
	}

	e.logger.Error().
		Str("scope", scope).
		Int("max_attempts", attempts).
		Err(lastErr).
		Msg("All retry attempts exhausted")

	return zero, &ExhaustedError{Scope: scope, Attempts: attempts, Err: lastErr}
}
