// Package retry provides explicit retry policies for sandbox API calls.
//
// Each network-facing phase of an analysis job declares its own Policy:
// how many attempts, how the delay between attempts grows, and two
// separate predicates deciding what to retry on. The predicates are kept
// apart on purpose: RetryOnError reacts to error kinds (connectivity),
// RetryOnValue reacts to result values (still-pending status).
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy defines how to calculate the next retry delay.
type BackoffStrategy int

const (
	// BackoffConstant uses constant backoff: base (no increase)
	BackoffConstant BackoffStrategy = iota

	// BackoffExponential uses exponential backoff: base * 2^(attempt-1)
	BackoffExponential

	// BackoffLinear uses linear backoff: base * attempt
	BackoffLinear
)

// Policy configures a bounded retry loop around one operation.
type Policy struct {
	// MaxAttempts is the total number of attempts (first try included).
	// Zero means a single attempt. Negative means unbounded; the loop is
	// then terminated only by the context.
	MaxAttempts int

	// Delay is the base interval between attempts.
	Delay time.Duration

	// Strategy is the backoff strategy. Default is BackoffConstant, which
	// matches the fixed-delay polling the sandbox API expects.
	Strategy BackoffStrategy

	// MaxDelay caps the computed interval. Zero means no cap.
	MaxDelay time.Duration

	// Jitter adds randomness to prevent thundering herd.
	// Value between 0.0 (no jitter) and 1.0 (full jitter).
	Jitter float64

	// RetryOnError decides whether an error from the operation is worth
	// another attempt. Nil retries every error.
	RetryOnError func(error) bool

	// RetryOnValue decides whether a successful result still means
	// "not done yet". Nil never retries on values.
	RetryOnValue func(interface{}) bool
}

// Interval returns the delay before the given attempt (1-based).
func (p *Policy) Interval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var interval time.Duration
	switch p.Strategy {
	case BackoffExponential:
		multiplier := math.Pow(2, float64(attempt-1))
		interval = time.Duration(float64(p.Delay) * multiplier)
	case BackoffLinear:
		interval = p.Delay * time.Duration(attempt)
	default:
		interval = p.Delay
	}

	if p.MaxDelay > 0 && interval > p.MaxDelay {
		interval = p.MaxDelay
	}
	if p.Jitter > 0 {
		interval = applyJitter(interval, p.Jitter)
	}
	return interval
}

func applyJitter(interval time.Duration, jitter float64) time.Duration {
	if jitter > 1 {
		jitter = 1
	}
	jitterRange := float64(interval) * jitter
	jitterValue := (rand.Float64()*2 - 1) * jitterRange
	return time.Duration(float64(interval) + jitterValue)
}

// Exhausted is returned by Do when every attempt was consumed without the
// operation producing an acceptable result.
type Exhausted struct {
	Op       string
	Attempts int
	LastErr  error
}

func (e *Exhausted) Error() string {
	if e.LastErr != nil {
		return e.Op + ": retries exhausted: " + e.LastErr.Error()
	}
	return e.Op + ": retries exhausted"
}

// Unwrap returns the error from the final attempt, if any.
func (e *Exhausted) Unwrap() error {
	return e.LastErr
}

// IsExhausted reports whether err marks a consumed retry budget.
func IsExhausted(err error) bool {
	_, ok := err.(*Exhausted)
	if ok {
		return true
	}
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if _, ok := err.(*Exhausted); ok {
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Do runs fn under the policy until it produces an acceptable result.
//
// fn's result is acceptable when it returns a nil error and RetryOnValue
// (if set) reports false for the value. A non-retryable error aborts the
// loop immediately and is returned as-is. Context cancellation always wins.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	var lastErr error
	attempt := 0

	for {
		attempt++

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		value, err := fn(ctx)
		if err == nil {
			if p.RetryOnValue == nil || !p.RetryOnValue(value) {
				return value, nil
			}
			lastErr = nil
		} else {
			if p.RetryOnError != nil && !p.RetryOnError(err) {
				return nil, err
			}
			lastErr = err
		}

		if p.MaxAttempts >= 0 && attempt >= p.attempts() {
			return nil, &Exhausted{Op: op, Attempts: attempt, LastErr: lastErr}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.Interval(attempt)):
		}
	}
}

func (p *Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}
