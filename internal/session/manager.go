package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mediagate/internal/domain"
)

const (
	// DefaultRefreshBuffer is the headroom kept before a session's nominal expiry.
	DefaultRefreshBuffer = 300 * time.Second
	// DefaultMintTimeout bounds a single mint round trip.
	DefaultMintTimeout = 10 * time.Second
)

// ErrEmptyToken is returned when the minter reports success without a token.
var ErrEmptyToken = errors.New("session: minter returned an empty token")

// Minter performs the remote session-start operation.
type Minter interface {
	Mint(ctx context.Context, creds Credentials) (string, error)
}

// MinterFunc adapts a function to Minter.
type MinterFunc func(ctx context.Context, creds Credentials) (string, error)

// Mint implements Minter.
func (f MinterFunc) Mint(ctx context.Context, creds Credentials) (string, error) {
	return f(ctx, creds)
}

// InfraError reports a failed infrastructure operation such as minting.
type InfraError struct {
	Operation string
	Err       error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Operation, e.Err)
}

func (e *InfraError) Unwrap() error { return e.Err }

// Option is a functional option for configuring Manager.
type Option func(*Manager)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRefreshBuffer sets the headroom kept before expiry. Non-positive values are ignored.
func WithRefreshBuffer(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.buffer = d
		}
	}
}

// WithMintTimeout bounds each mint. Non-positive values are ignored.
func WithMintTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.mintTimeout = d
		}
	}
}

// WithLogger sets a structured logger. If l is nil the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMintObserver registers fn to be called after every mint attempt.
func WithMintObserver(fn func(elapsed time.Duration, err error)) Option {
	return func(m *Manager) {
		m.observe = fn
	}
}

// Manager owns the single session to the media API and refreshes it before
// it goes stale. It is safe for concurrent use.
type Manager struct {
	creds       Credentials
	minter      Minter
	now         func() time.Time
	buffer      time.Duration
	mintTimeout time.Duration
	logger      *slog.Logger
	observe     func(time.Duration, error)

	mu      sync.RWMutex
	current domain.Session

	// mintSem admits one minter at a time; waiters honour their context.
	mintSem chan struct{}
}

// NewManager returns a Manager for creds. No session is minted until the first Get.
func NewManager(creds Credentials, minter Minter, opts ...Option) (*Manager, error) {
	if !creds.Valid() {
		return nil, errors.New("session: credentials were not built with NewCredentials")
	}
	if minter == nil {
		return nil, errors.New("session: minter must not be nil")
	}
	m := &Manager{
		creds:       creds,
		minter:      minter,
		now:         time.Now,
		buffer:      DefaultRefreshBuffer,
		mintTimeout: DefaultMintTimeout,
		mintSem:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.buffer >= creds.Lifetime() {
		return nil, fmt.Errorf("session: refresh buffer %s must be shorter than lifetime %s", m.buffer, creds.Lifetime())
	}
	return m, nil
}

func (m *Manager) log() *slog.Logger {
	if m.logger != nil {
		return m.logger
	}
	return slog.Default()
}

// Get returns a session usable for at least the refresh buffer, minting a new
// one when none exists or the current one is stale. Concurrent callers that
// find the session stale wait for a single mint and share its result; if that
// mint failed, the next waiter tries again.
func (m *Manager) Get(ctx context.Context) (domain.Session, error) {
	if s, ok := m.usable(); ok {
		return s, nil
	}

	select {
	case m.mintSem <- struct{}{}:
	case <-ctx.Done():
		return domain.Session{}, &InfraError{Operation: "mint_session", Err: ctx.Err()}
	}
	defer func() { <-m.mintSem }()

	if s, ok := m.usable(); ok {
		return s, nil
	}
	return m.mint(ctx)
}

// Invalidate drops the current session so the next Get mints a fresh one.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	dropped := !m.current.IsZero()
	m.current = domain.Session{}
	m.mu.Unlock()
	if dropped {
		m.log().Info("session invalidated")
	}
}

// Info reports the session state without minting or waiting on a mint.
func (m *Manager) Info() domain.SessionInfo {
	m.mu.RLock()
	s := m.current
	m.mu.RUnlock()

	if s.IsZero() {
		return domain.SessionInfo{Status: domain.SessionNone}
	}
	elapsed := m.now().Sub(s.MintedAt)
	remaining := s.Lifetime - m.buffer - elapsed
	info := domain.SessionInfo{
		Status:           domain.SessionActive,
		ElapsedSeconds:   int64(elapsed / time.Second),
		RemainingSeconds: int64(remaining / time.Second),
	}
	if remaining <= 0 {
		info.Status = domain.SessionExpired
		info.RemainingSeconds = 0
	}
	return info
}

func (m *Manager) usable() (domain.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current.Usable(m.now(), m.buffer) {
		return m.current, true
	}
	return domain.Session{}, false
}

// mint must be called with mintSem held.
func (m *Manager) mint(ctx context.Context) (domain.Session, error) {
	mintCtx, cancel := context.WithTimeout(ctx, m.mintTimeout)
	defer cancel()

	start := m.now()
	began := time.Now()
	token, err := m.callMinter(mintCtx)
	if err == nil && token == "" {
		err = ErrEmptyToken
	}
	if m.observe != nil {
		m.observe(time.Since(began), err)
	}
	if err != nil {
		m.mu.Lock()
		m.current = domain.Session{}
		m.mu.Unlock()
		m.log().Warn("session mint failed", "partner_id", m.creds.PartnerID(), "error", err)
		return domain.Session{}, &InfraError{Operation: "mint_session", Err: err}
	}

	s := domain.Session{Token: token, MintedAt: start, Lifetime: m.creds.Lifetime()}
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	m.log().Info("session minted", "partner_id", m.creds.PartnerID(), "lifetime", s.Lifetime)
	return s, nil
}

// callMinter returns when the minter does or when ctx ends, whichever is
// first. A minter that ignores ctx is abandoned and its late token dropped.
func (m *Manager) callMinter(ctx context.Context) (string, error) {
	type minted struct {
		token string
		err   error
	}
	done := make(chan minted, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- minted{err: fmt.Errorf("session: minter panicked: %v", r)}
			}
		}()
		token, err := m.minter.Mint(ctx, m.creds)
		done <- minted{token, err}
	}()

	select {
	case r := <-done:
		return r.token, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

var (
	_ domain.SessionProvider    = (*Manager)(nil)
	_ domain.SessionInvalidator = (*Manager)(nil)
)
