package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"mediagate/internal/domain"
	"mediagate/internal/session"
)

// =============================================================================
// Config Tests
// =============================================================================

func TestDefaultConfig_ShouldBeValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
	if cfg.MaxRetries != 2 || cfg.Multiplier != 2.0 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestConfig_Validate_ShouldRejectOutOfRangeFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"zero initial backoff", func(c *Config) { c.InitialBackoff = 0 }},
		{"zero max backoff", func(c *Config) { c.MaxBackoff = 0 }},
		{"multiplier below one", func(c *Config) { c.Multiplier = 0.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConfig_Validate_WhenMaxRetriesZero_ShouldReturnNil(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("zero retries is valid, got %v", err)
	}
}

// =============================================================================
// IsRetryable Tests
// =============================================================================

type typedErr struct{ retryable bool }

func (e typedErr) Error() string   { return "typed" }
func (e typedErr) Retryable() bool { return e.retryable }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("mint: %w", context.DeadlineExceeded), false},
		{"typed retryable", fmt.Errorf("wrap: %w", typedErr{retryable: true}), true},
		{"typed permanent", typedErr{retryable: false}, false},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"eof", errors.New("unexpected EOF"), true},
		{"generic", errors.New("bad secret"), false},
		{"session rejected", domain.ErrSessionRejected, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v): want %v, got %v", tt.err, tt.want, got)
			}
		})
	}
}

// =============================================================================
// RetryableMinter Tests
// =============================================================================

type scriptedMinter struct {
	errs  []error
	calls atomic.Int32
}

func (m *scriptedMinter) Mint(ctx context.Context, _ session.Credentials) (string, error) {
	i := int(m.calls.Add(1)) - 1
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	return "token", nil
}

func newTestMinter(inner session.Minter, cfg Config, delays *[]time.Duration) *RetryableMinter {
	m := NewRetryableMinter(inner, cfg)
	m.sleepFunc = func(ctx context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return ctx.Err()
	}
	return m
}

func TestNewRetryableMinter_WhenInnerIsNil_ShouldPanic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil inner minter")
		}
	}()
	NewRetryableMinter(nil, DefaultConfig())
}

func TestRetryableMinter_Mint_WhenTransientThenSuccess_ShouldRetry(t *testing.T) {
	inner := &scriptedMinter{errs: []error{errors.New("connection refused"), nil}}
	m := newTestMinter(inner, DefaultConfig(), nil)
	token, err := m.Mint(context.Background(), session.Credentials{})
	if err != nil || token != "token" {
		t.Fatalf("want token, got %q / %v", token, err)
	}
	if inner.calls.Load() != 2 {
		t.Errorf("want 2 calls, got %d", inner.calls.Load())
	}
}

func TestRetryableMinter_Mint_WhenPermanentError_ShouldNotRetry(t *testing.T) {
	inner := &scriptedMinter{errs: []error{errors.New("invalid secret")}}
	m := newTestMinter(inner, DefaultConfig(), nil)
	if _, err := m.Mint(context.Background(), session.Credentials{}); err == nil {
		t.Fatal("expected error")
	}
	if inner.calls.Load() != 1 {
		t.Errorf("want 1 call, got %d", inner.calls.Load())
	}
}

func TestRetryableMinter_Mint_WhenRetriesExhausted_ShouldWrapLastError(t *testing.T) {
	last := errors.New("EOF again")
	inner := &scriptedMinter{errs: []error{errors.New("EOF"), errors.New("EOF"), last}}
	m := newTestMinter(inner, DefaultConfig(), nil)
	_, err := m.Mint(context.Background(), session.Credentials{})
	if !errors.Is(err, last) {
		t.Errorf("want wrapped last error, got %v", err)
	}
	if inner.calls.Load() != 3 {
		t.Errorf("want 3 calls, got %d", inner.calls.Load())
	}
}

func TestRetryableMinter_Mint_ShouldUseCappedExponentialBackoff(t *testing.T) {
	cfg := Config{MaxRetries: 4, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, Multiplier: 2}
	eof := errors.New("EOF")
	inner := &scriptedMinter{errs: []error{eof, eof, eof, eof, eof}}
	var delays []time.Duration
	m := newTestMinter(inner, cfg, &delays)
	_, _ = m.Mint(context.Background(), session.Credentials{})

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("want %d delays, got %v", len(want), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d: want %v, got %v", i, want[i], delays[i])
		}
	}
}

func TestRetryableMinter_Mint_WhenContextCanceledDuringBackoff_ShouldReturnContextError(t *testing.T) {
	inner := &scriptedMinter{errs: []error{errors.New("EOF"), errors.New("EOF")}}
	m := NewRetryableMinter(inner, Config{MaxRetries: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour, Multiplier: 1})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := m.Mint(ctx, session.Credentials{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
}
