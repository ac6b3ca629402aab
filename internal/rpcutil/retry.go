// Package rpcutil provides generic retry-with-backoff helpers for outbound
// adapter calls (PMS reads, PSP calls) that may fail transiently.
package rpcutil

import (
	"context"
	"strings"
	"time"

	"github.com/stayhub/checkout/internal/logger"
)

// RetryConfig defines retry behavior for an outbound operation.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryConfig returns sensible defaults for read-path retries: 2
// retries with 1s/2s exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  1 * time.Second,
	}
}

// NoRetryConfig disables retries entirely. The PMS adapter's transactional
// writes do not go through this package at all: they call the circuit
// breaker directly and are never retried.
func NoRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 0, BaseDelay: 0}
}

// WithRetry wraps an operation with retry logic using the default config.
func WithRetry[T any](ctx context.Context, operation func() (T, error)) (T, error) {
	return WithRetryCustom(ctx, DefaultRetryConfig(), operation)
}

// WithRetryCustom retries operation under cfg, backing off exponentially and
// only for errors isRetryableError classifies as transient.
func WithRetryCustom[T any](ctx context.Context, cfg RetryConfig, operation func() (T, error)) (T, error) {
	var result T
	var err error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err = operation()
		if err == nil {
			return result, nil
		}

		if ctx.Err() != nil {
			return result, err
		}

		if !isRetryableError(err) {
			return result, err
		}

		if attempt == cfg.MaxRetries {
			break
		}

		delay := cfg.BaseDelay * time.Duration(1<<uint(attempt))
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", cfg.MaxRetries+1).
			Dur("retry_delay", delay).
			Msg("adapter.operation_retry")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}

	return result, err
}

// isRetryableError determines if an error is worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "temporary failure") ||
		strings.Contains(msg, "network") {
		return true
	}

	if strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "throttle") {
		return true
	}

	if strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") ||
		strings.Contains(msg, "internal server error") ||
		strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "service unavailable") ||
		strings.Contains(msg, "gateway timeout") {
		return true
	}

	return false
}
