// Package retry implements the publish pipeline's two retry envelopes:
// retrySpawnProcess (fixed exponential backoff for subprocess invocations)
// and retryHttp (status-code-aware, fixed-cooldown backoff for HTTP
// requests with an optional per-retry cleanup hook). Both are built on a
// single generic Policy, mirroring the way pkg/ratelimit.TokenBucket
// exposes one Backoff/ExecuteWithRetry pair reused by every operation type.
package retry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Stats tracks attempts/successes/failures across retried calls, the way
// pkg/ratelimit.Stats backs its rate-limiter telemetry. Counting happens
// only when a caller passes a non-nil *Stats to Execute.
type Stats struct {
	mu         sync.Mutex
	Attempts   int64
	Successes  int64
	Failures   int64
	RetryCount int64
}

// Clone returns a copy of the stats, safe to read without holding the lock
// used by the live counters.
func (s *Stats) Clone() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Attempts: s.Attempts, Successes: s.Successes, Failures: s.Failures, RetryCount: s.RetryCount}
}

func (s *Stats) recordAttempt() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.Attempts++
	s.mu.Unlock()
}

func (s *Stats) recordRetry() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.RetryCount++
	s.mu.Unlock()
}

func (s *Stats) recordOutcome(ok bool) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if ok {
		s.Successes++
	} else {
		s.Failures++
	}
	s.mu.Unlock()
}

// OnRetry is consulted after a failed attempt to decide whether to continue
// retrying. Returning false aborts the retry loop immediately, surfacing
// the triggering error.
type OnRetry func(err error, attempt int) bool

// Policy is a generic retry envelope: one initial attempt plus up to
// MaxRetries retries, delay growing by Multiplier each time starting at
// InitialDelay, capped at MaxDelay.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// SpawnProcess is the standard envelope for subprocess invocations (npm,
// twine, cargo, gem, mvn, ...): up to 5 retries after the first attempt,
// 3s initial delay, ×2 backoff.
var SpawnProcess = Policy{
	MaxRetries:   5,
	InitialDelay: 3 * time.Second,
	Multiplier:   2.0,
	MaxDelay:     5 * time.Minute,
}

// Backoff returns the delay before the (0-indexed) retry n: Backoff(0) is
// InitialDelay, the sleep before the first retry.
func (p Policy) Backoff(attempt int) time.Duration {
	delay := p.InitialDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// Execute runs fn, retrying per the policy. onRetry is called after each
// failed attempt (except the last) to decide whether to continue; a nil
// onRetry always continues until MaxRetries is exhausted. Execute respects
// ctx cancellation during the inter-attempt sleep.
func (p Policy) Execute(ctx context.Context, stats *Stats, fn func() error, onRetry OnRetry) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		stats.recordAttempt()
		lastErr = fn()
		if lastErr == nil {
			stats.recordOutcome(true)
			return nil
		}

		if attempt == p.MaxRetries {
			break
		}
		if onRetry != nil && !onRetry(lastErr, attempt) {
			break
		}

		stats.recordRetry()
		select {
		case <-ctx.Done():
			stats.recordOutcome(false)
			return ctx.Err()
		case <-time.After(p.Backoff(attempt)):
		}
	}
	stats.recordOutcome(false)
	return lastErr
}

// HTTPPolicy is the retry envelope for HTTP requests: a fixed cooldown
// between attempts (not exponential), a configurable set of retryable
// status codes, and an optional cleanup hook invoked after every retry
// (e.g. closing a leaked response body or connection before re-dialing).
type HTTPPolicy struct {
	MaxRetries     int
	Cooldown       time.Duration
	RetryableCodes []int
	Cleanup        func()
}

// IsRetryableCode reports whether code is in the policy's retryable set.
func (p HTTPPolicy) IsRetryableCode(code int) bool {
	for _, c := range p.RetryableCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Execute runs fn, which should perform one HTTP attempt and return the
// response status code (0 if the request didn't get a response, e.g. a
// dial failure) alongside any error. A non-nil error or a retryable status
// code triggers a retry, up to MaxRetries; Cleanup runs before each
// cooldown sleep.
func (p HTTPPolicy) Execute(ctx context.Context, stats *Stats, fn func() (statusCode int, err error)) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		stats.recordAttempt()
		code, err := fn()
		retryable := err != nil || p.IsRetryableCode(code)
		if !retryable {
			stats.recordOutcome(true)
			return nil
		}
		lastErr = err
		if lastErr == nil {
			lastErr = &statusCodeError{code}
		}

		if attempt == p.MaxRetries {
			break
		}

		stats.recordRetry()
		if p.Cleanup != nil {
			p.Cleanup()
		}
		select {
		case <-ctx.Done():
			stats.recordOutcome(false)
			return ctx.Err()
		case <-time.After(p.Cooldown):
		}
	}
	stats.recordOutcome(false)
	return lastErr
}

type statusCodeError struct{ code int }

func (e *statusCodeError) Error() string {
	return fmt.Sprintf("retryable HTTP status code %d", e.code)
}

// StatusCode returns the HTTP status code that triggered the error, if any.
func (e *statusCodeError) StatusCode() int { return e.code }
