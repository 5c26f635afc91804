package util

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig holds configuration for retry with exponential backoff
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries, -1 = unlimited)
	MaxRetries int
	// BaseDelay is the initial delay between retries
	BaseDelay time.Duration
	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration
	// Multiplier is the factor by which delay increases (default: 2.0)
	Multiplier float64
	// Jitter adds randomness to delays to prevent thundering herd (0.0 - 1.0)
	Jitter float64
	// RetryIf is an optional function to determine if an error is retryable
	RetryIf func(error) bool
}

// DefaultRetryConfig returns sensible defaults for retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
		RetryIf:    nil, // Retry all errors by default
	}
}

// RetryResult contains the result of a retry operation
type RetryResult struct {
	Attempts  int           // Number of attempts made
	LastError error         // Last error encountered
	Duration  time.Duration // Total duration of all attempts
}

// ErrMaxRetriesExceeded is returned when max retries is exceeded
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// ErrContextCanceled is returned when context is canceled during retry
var ErrContextCanceled = errors.New("context canceled during retry")

// Retry executes a function with exponential backoff retry
func Retry(ctx context.Context, config *RetryConfig, fn func() error) *RetryResult {
	if config == nil {
		config = DefaultRetryConfig()
	}

	result := &RetryResult{}
	start := time.Now()

	for {
		result.Attempts++

		err := fn()
		if err == nil {
			result.LastError = nil
			result.Duration = time.Since(start)
			return result
		}

		result.LastError = err

		// Check if error is retryable
		if config.RetryIf != nil && !config.RetryIf(err) {
			result.Duration = time.Since(start)
			return result
		}

		// Check if we've exceeded max retries
		if config.MaxRetries >= 0 && result.Attempts > config.MaxRetries {
			result.LastError = errors.Join(ErrMaxRetriesExceeded, err)
			result.Duration = time.Since(start)
			return result
		}

		delay := calculateDelay(config, result.Attempts)

		select {
		case <-ctx.Done():
			result.LastError = errors.Join(ErrContextCanceled, ctx.Err())
			result.Duration = time.Since(start)
			return result
		case <-time.After(delay):
			// Continue to next attempt
		}
	}
}

// RetryWithValue executes a function that returns a value with exponential backoff retry
func RetryWithValue[T any](ctx context.Context, config *RetryConfig, fn func() (T, error)) (T, *RetryResult) {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var zero T
	retryResult := &RetryResult{}
	start := time.Now()

	for {
		retryResult.Attempts++

		val, err := fn()
		if err == nil {
			retryResult.LastError = nil
			retryResult.Duration = time.Since(start)
			return val, retryResult
		}

		retryResult.LastError = err

		if config.RetryIf != nil && !config.RetryIf(err) {
			retryResult.Duration = time.Since(start)
			return zero, retryResult
		}

		if config.MaxRetries >= 0 && retryResult.Attempts > config.MaxRetries {
			retryResult.LastError = errors.Join(ErrMaxRetriesExceeded, err)
			retryResult.Duration = time.Since(start)
			return zero, retryResult
		}

		delay := calculateDelay(config, retryResult.Attempts)

		select {
		case <-ctx.Done():
			retryResult.LastError = errors.Join(ErrContextCanceled, ctx.Err())
			retryResult.Duration = time.Since(start)
			return zero, retryResult
		case <-time.After(delay):
			// Continue to next attempt
		}
	}
}

// calculateDelay calculates the delay for a given attempt number
func calculateDelay(config *RetryConfig, attempt int) time.Duration {
	multiplier := config.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(config.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	// Apply jitter
	if config.Jitter > 0 {
		jitterRange := delay * config.Jitter
		delay = delay - jitterRange/2 + rand.Float64()*jitterRange
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}
