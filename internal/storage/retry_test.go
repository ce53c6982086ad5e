package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacksnap/snapferry/internal/domain"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"reset", errors.New("read tcp: connection reset by peer"), true},
		{"timeout", errors.New("dial tcp 10.0.0.1:21: i/o timeout"), true},
		{"ftp 421", errors.New("421 Service not available"), true},
		{"login", errors.New("530 Login incorrect"), false},
		{"s3 denied", errors.New("AccessDenied: Access Denied"), false},
		{"configuration kind", domain.Configuration("connect", errors.New("timeout")), false},
		{"not found kind", domain.NotFound("download", errors.New("EOF")), false},
		{"permission", fmt.Errorf("x: %w: timeout", domain.ErrPermissionDenied), false},
		{"canceled", context.Canceled, false},
		{"unknown", errors.New("something odd"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}

func TestWithRetry(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		var retried []int
		cfg := fastRetry(3)
		cfg.OnRetry = func(attempt int, err error, next time.Duration) { retried = append(retried, attempt) }

		err := WithRetry(context.Background(), cfg, func() error {
			calls++
			if calls < 3 {
				return errors.New("connection reset")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []int{1, 2}, retried)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		sentinel := domain.Connection("login", errors.New("530 Login incorrect"))
		err := WithRetry(context.Background(), fastRetry(5), func() error {
			calls++
			return sentinel
		})
		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, err, domain.ErrConnection)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), fastRetry(2), func() error {
			calls++
			return domain.Transfer("upload", errors.New("broken pipe"))
		})
		assert.Equal(t, 2, calls)
		assert.ErrorIs(t, err, domain.ErrTransfer)
		assert.Contains(t, err.Error(), "failed after 2 attempts")
	})

	t.Run("single attempt never retries", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), fastRetry(1), func() error {
			calls++
			return errors.New("connection reset")
		})
		assert.Equal(t, 1, calls)
		assert.EqualError(t, err, "connection reset")
	})
}

type countingTransport struct {
	Transport
	lists, deletes int
}

func (c *countingTransport) List(ctx context.Context) ([]string, error) {
	c.lists++
	if c.lists == 1 {
		return nil, errors.New("i/o timeout")
	}
	return []string{"a"}, nil
}

func (c *countingTransport) Delete(ctx context.Context, name string) error {
	c.deletes++
	return errors.New("i/o timeout")
}

func TestRetryingTransport(t *testing.T) {
	inner := &countingTransport{}
	rt := NewRetryingTransport(inner, fastRetry(3))

	names, err := rt.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)
	assert.Equal(t, 2, inner.lists)

	require.Error(t, rt.Delete(context.Background(), "a"))
	assert.Equal(t, 1, inner.deletes)
}
