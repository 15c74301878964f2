package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultRetryDelays is the backoff between attempts when none is configured.
var DefaultRetryDelays = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// RetryPolicy retries a call up to MaxAttempts times, sleeping Delays[i] after
// the i-th failure (the last delay repeats). No sleep follows the final attempt.
type RetryPolicy struct {
	MaxAttempts int
	Delays      []time.Duration
}

// StatusError is a non-2xx answer from the provider.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.Status, truncate(e.Body, 300))
}

// Retryable reports whether err is worth another attempt: transport failures,
// rate limiting and server errors. Context cancellation never is.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == http.StatusTooManyRequests || se.Status >= 500
	}
	var pe *permanentError
	return !errors.As(err, &pe)
}

// permanentError marks failures another attempt cannot fix (bad payloads).
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do gives up on it immediately.
func Permanent(err error) error { return &permanentError{err: err} }

// Do runs fn until it succeeds, fails permanently, or attempts run out.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, op string, fn func(attempt int) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delays := p.Delays
	if len(delays) == 0 {
		delays = DefaultRetryDelays
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if !Retryable(err) || attempt+1 == attempts {
			break
		}
		delay := delays[min(attempt, len(delays)-1)]
		logger.Warn("llm.retry", "op", op, "attempt", attempt+1, "max_attempts", attempts, "delay", delay, "error", err)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
