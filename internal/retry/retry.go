package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"mediagate/internal/session"
)

// =============================================================================
// Config
// =============================================================================

// Config controls retry behaviour for session minting.
type Config struct {
	MaxRetries     int           `koanf:"maxretries"`     // 0 disables retries
	InitialBackoff time.Duration `koanf:"initialbackoff"` // delay before the first retry
	MaxBackoff     time.Duration `koanf:"maxbackoff"`     // upper bound on any single delay
	Multiplier     float64       `koanf:"multiplier"`     // backoff growth factor
}

// DefaultConfig returns the retry defaults used when configuration is silent.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     2,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}
}

// Validate checks that all Config fields are within acceptable ranges.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("retry: MaxRetries must be >= 0")
	}
	if c.InitialBackoff <= 0 {
		return errors.New("retry: InitialBackoff must be > 0")
	}
	if c.MaxBackoff <= 0 {
		return errors.New("retry: MaxBackoff must be > 0")
	}
	if c.Multiplier < 1.0 {
		return errors.New("retry: Multiplier must be >= 1.0")
	}
	return nil
}

// =============================================================================
// Error Classification
// =============================================================================

// retryableError is implemented by typed API errors that know their own retryability.
type retryableError interface {
	Retryable() bool
}

// IsRetryable reports whether err is a transient failure worth retrying.
// Context errors are never retryable: the caller chose to stop.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var typed retryableError
	if errors.As(err, &typed) {
		return typed.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF")
}

// =============================================================================
// RetryableMinter (Decorator)
// =============================================================================

// RetryableMinter wraps a session.Minter with retry-on-transient-error logic.
type RetryableMinter struct {
	inner     session.Minter
	config    Config
	sleepFunc func(context.Context, time.Duration) error // injectable for testing
}

// NewRetryableMinter returns a decorator that retries Mint on transient errors.
// inner must not be nil.
func NewRetryableMinter(inner session.Minter, cfg Config) *RetryableMinter {
	if inner == nil {
		panic("retry: inner minter must not be nil")
	}
	return &RetryableMinter{inner: inner, config: cfg, sleepFunc: sleepContext}
}

// Mint calls the inner minter, retrying transient failures with exponential
// backoff. Returns the first token, or the last error once retries run out.
func (m *RetryableMinter) Mint(ctx context.Context, creds session.Credentials) (string, error) {
	var lastErr error
	backoff := m.config.InitialBackoff

	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		token, err := m.inner.Mint(ctx, creds)
		if err == nil {
			return token, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return "", err
		}
		if attempt == m.config.MaxRetries {
			break
		}
		if err := m.sleepFunc(ctx, backoff); err != nil {
			return "", err
		}

		next := time.Duration(float64(backoff) * m.config.Multiplier)
		if next > m.config.MaxBackoff {
			next = m.config.MaxBackoff
		}
		backoff = next
	}

	return "", fmt.Errorf("retries exhausted after %d attempts: %w", m.config.MaxRetries+1, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ session.Minter = (*RetryableMinter)(nil)
