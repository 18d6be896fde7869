package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "wrapped deadline", err: fmt.Errorf("send: %w", context.DeadlineExceeded), want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "timeout text", err: errors.New("Client.Timeout exceeded while awaiting headers"), want: true},
		{name: "connection reset", err: errors.New("read tcp: connection reset by peer"), want: true},
		{name: "eof", err: errors.New("unexpected EOF"), want: true},
		{name: "rate limit", err: errors.New(`api: 429 "Too Many Requests: retry after 3"`), want: true},
		{name: "bad gateway", err: errors.New("api: 502 Bad Gateway"), want: true},
		{name: "bad request", err: errors.New("api: 400 \"Bad Request: chat not found\""), want: false},
		{name: "unauthorized", err: errors.New("api: 401 Unauthorized"), want: false},
		{name: "unknown", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestDo_SucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	var retried []int

	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		retried = append(retried, attempt)
	}

	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := errors.New("400 Bad Request")

	err := Do(context.Background(), fastConfig(5), func(ctx context.Context) error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	transient := errors.New("503 service unavailable")

	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		calls++
		return transient
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, transient)
	assert.Contains(t, err.Error(), "all 3 attempts failed")
	assert.Equal(t, 3, calls)
}

func TestDo_SingleAttemptReturnsErrorAsIs(t *testing.T) {
	transient := errors.New("timeout")

	err := Do(context.Background(), fastConfig(1), func(ctx context.Context) error {
		return transient
	})

	assert.Equal(t, transient, err)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	cfg := Config{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
	cfg.OnRetry = func(int, error, time.Duration) { cancel() }

	err := Do(ctx, cfg, func(ctx context.Context) error {
		calls++
		return errors.New("timeout")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{62, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, Backoff(tt.attempt, time.Second, 10*time.Second))
		})
	}
}
