package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// RetryableFunc decides whether an error is worth another attempt.
type RetryableFunc func(error) bool

// RetryPolicy retries a call with capped exponential backoff.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the wait after the first failure.
	InitialDelay time.Duration
	// BackoffMultiplier grows the delay per attempt. Must exceed 1.0.
	BackoffMultiplier float64
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// Retryable classifies errors. Nil means DefaultRetryable.
	Retryable RetryableFunc
}

// DefaultRetryPolicy retries transient failures three times with 1s → 2s
// backoff capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          10 * time.Second,
		Retryable:         DefaultRetryable,
	}
}

// Validate checks the policy parameters.
func (p *RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay <= 0 {
		return fmt.Errorf("initial delay must be positive, got %v", p.InitialDelay)
	}
	if p.BackoffMultiplier <= 1.0 {
		return fmt.Errorf("backoff multiplier must exceed 1.0, got %v", p.BackoffMultiplier)
	}
	if p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("max delay %v must be at least the initial delay %v", p.MaxDelay, p.InitialDelay)
	}
	return nil
}

// Delay returns the backoff before the given attempt (1-based):
// min(maxDelay, initialDelay · multiplier^(attempt-1)).
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1)))
	if delay > p.MaxDelay || delay <= 0 {
		return p.MaxDelay
	}
	return delay
}

// ShouldRetry reports whether another attempt is warranted after the given
// error on the given attempt (1-based).
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}
	return retryable(err)
}

// Do runs fn until it succeeds, exhausts the attempts, or hits a
// non-retryable error. Cancellation is honored between attempts.
func (p *RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !p.ShouldRetry(lastErr, attempt) {
			return lastErr
		}

		delay := p.Delay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// transient fragments matched case-insensitively against the error chain.
var (
	retryableClassFragments = []string{"timeout", "connection", "io"}
	retryableMsgFragments   = []string{
		"refused", "timeout", "network",
		"busy", "overloaded", "rate limit", "service unavailable",
	}
)

// DefaultRetryable treats network-ish errors, temporary overloads, and
// subprocess execution failures as retryable. Context cancellation and
// open-circuit signals are not.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}

	typeName := strings.ToLower(fmt.Sprintf("%T", err))
	for _, fragment := range retryableClassFragments {
		if strings.Contains(typeName, fragment) {
			return true
		}
	}

	message := strings.ToLower(err.Error())
	for _, fragment := range retryableMsgFragments {
		if strings.Contains(message, fragment) {
			return true
		}
	}
	return false
}
