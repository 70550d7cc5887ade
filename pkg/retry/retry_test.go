package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{InitialDelay: time.Second, Multiplier: 2.0, MaxDelay: 10 * time.Second}
	require.Equal(t, time.Second, p.Backoff(0))
	require.Equal(t, 2*time.Second, p.Backoff(1))
	require.Equal(t, 4*time.Second, p.Backoff(2))
	require.Equal(t, 10*time.Second, p.Backoff(10), "backoff should cap at MaxDelay")
}

func TestPolicy_Execute_SucceedsFirstTry(t *testing.T) {
	p := Policy{MaxRetries: 3, InitialDelay: time.Millisecond, Multiplier: 2.0}
	calls := 0
	err := p.Execute(context.Background(), nil, func() error {
		calls++
		return nil
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestPolicy_Execute_RetriesUntilSuccess(t *testing.T) {
	p := Policy{MaxRetries: 5, InitialDelay: time.Millisecond, Multiplier: 1.0}
	calls := 0
	err := p.Execute(context.Background(), nil, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestPolicy_Execute_ExhaustsRetries(t *testing.T) {
	p := Policy{MaxRetries: 2, InitialDelay: time.Millisecond, Multiplier: 1.0}
	calls := 0
	err := p.Execute(context.Background(), nil, func() error {
		calls++
		return errors.New("always fails")
	}, nil)
	require.Error(t, err)
	require.Equal(t, 3, calls) // initial attempt + 2 retries
}

func TestPolicy_Execute_OnRetryCanAbortEarly(t *testing.T) {
	p := Policy{MaxRetries: 5, InitialDelay: time.Millisecond, Multiplier: 1.0}
	calls := 0
	err := p.Execute(context.Background(), nil, func() error {
		calls++
		return errors.New("fatal, don't retry")
	}, func(err error, attempt int) bool {
		return false
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestPolicy_Execute_RespectsContextCancellation(t *testing.T) {
	p := Policy{MaxRetries: 5, InitialDelay: time.Hour, Multiplier: 1.0}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Execute(ctx, nil, func() error {
		return errors.New("fails")
	}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPolicy_Execute_RecordsStats(t *testing.T) {
	p := Policy{MaxRetries: 3, InitialDelay: time.Millisecond, Multiplier: 1.0}
	stats := &Stats{}
	calls := 0
	_ = p.Execute(context.Background(), stats, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	}, nil)

	snap := stats.Clone()
	require.Equal(t, int64(2), snap.Attempts)
	require.Equal(t, int64(1), snap.Successes)
	require.Equal(t, int64(0), snap.Failures)
	require.Equal(t, int64(1), snap.RetryCount)
}

func TestHTTPPolicy_RetriesOnRetryableCode(t *testing.T) {
	p := HTTPPolicy{MaxRetries: 3, Cooldown: time.Millisecond, RetryableCodes: []int{429, 503}}
	attempts := 0
	cleanupCalls := 0
	p.Cleanup = func() { cleanupCalls++ }

	err := p.Execute(context.Background(), nil, func() (int, error) {
		attempts++
		if attempts < 3 {
			return 503, nil
		}
		return 200, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Equal(t, 2, cleanupCalls)
}

func TestHTTPPolicy_NonRetryableCodeSucceedsImmediately(t *testing.T) {
	p := HTTPPolicy{MaxRetries: 3, Cooldown: time.Millisecond, RetryableCodes: []int{429, 503}}
	attempts := 0
	err := p.Execute(context.Background(), nil, func() (int, error) {
		attempts++
		return 404, nil
	})
	require.NoError(t, err) // policy only decides retry-vs-not; mapping 404 to an error is the caller's job
	require.Equal(t, 1, attempts)
}

func TestHTTPPolicy_ExhaustsRetries(t *testing.T) {
	p := HTTPPolicy{MaxRetries: 2, Cooldown: time.Millisecond, RetryableCodes: []int{503}}
	attempts := 0
	err := p.Execute(context.Background(), nil, func() (int, error) {
		attempts++
		return 503, nil
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts)
}
