package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/stacksnap/snapferry/internal/domain"
)

type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        float64
	OnRetry       func(attempt int, err error, nextDelay time.Duration)
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        0.1,
	}
}

var transientPatterns = []string{
	"connection reset",
	"connection refused",
	"timeout",
	"temporary failure",
	"network is unreachable",
	"no such host",
	"i/o timeout",
	"eof",
	"broken pipe",
	"421 ",
	"425 ",
	"426 ",
}

var permanentPatterns = []string{
	"access denied",
	"accessdenied",
	"invalidaccesskeyid",
	"signaturedoesnotmatch",
	"nosuchbucket",
	"forbidden",
	"unauthorized",
	"unable to authenticate",
	"login incorrect",
	"530 ",
}

// IsTransientError reports whether a failed transfer is worth another try.
// Configuration problems, missing archives and permission refusals never are.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, domain.ErrConfiguration) || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrPermissionDenied) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, p := range permanentPatterns {
		if strings.Contains(msg, p) {
			return false
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransientError(err) || attempt == attempts {
			break
		}

		delay := float64(cfg.InitialDelay)
		for i := 1; i < attempt; i++ {
			delay *= cfg.BackoffFactor
		}
		if delay > float64(cfg.MaxDelay) {
			delay = float64(cfg.MaxDelay)
		}
		if cfg.Jitter > 0 {
			delay += delay * cfg.Jitter * (rand.Float64()*2 - 1)
		}
		next := time.Duration(delay)

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, next)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(next):
		}
	}

	if attempts > 1 && IsTransientError(lastErr) {
		return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
	}
	return lastErr
}

// RetryingTransport retries connect, upload, download and list on transient
// errors. Deletes go straight through so a sweep never repeats one.
type RetryingTransport struct {
	Transport
	Config RetryConfig
}

func NewRetryingTransport(t Transport, cfg RetryConfig) *RetryingTransport {
	return &RetryingTransport{Transport: t, Config: cfg}
}

func (r *RetryingTransport) Connect(ctx context.Context) error {
	return WithRetry(ctx, r.Config, func() error {
		return r.Transport.Connect(ctx)
	})
}

func (r *RetryingTransport) Upload(ctx context.Context, localPath string) (string, error) {
	var name string
	err := WithRetry(ctx, r.Config, func() error {
		var err error
		name, err = r.Transport.Upload(ctx, localPath)
		return err
	})
	return name, err
}

func (r *RetryingTransport) Download(ctx context.Context, name, destDir string) (string, error) {
	var local string
	err := WithRetry(ctx, r.Config, func() error {
		var err error
		local, err = r.Transport.Download(ctx, name, destDir)
		return err
	})
	return local, err
}

func (r *RetryingTransport) List(ctx context.Context) ([]string, error) {
	var names []string
	err := WithRetry(ctx, r.Config, func() error {
		var err error
		names, err = r.Transport.List(ctx)
		return err
	})
	return names, err
}
