package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Session
// =============================================================================

// Session is an authenticated handle to the media API. Only the session
// manager creates or mutates one; everyone else receives copies.
type Session struct {
	Token    string        `json:"-"`
	MintedAt time.Time     `json:"mintedAt"`
	Lifetime time.Duration `json:"lifetime"`
}

// IsZero reports whether no session has been minted.
func (s Session) IsZero() bool {
	return s.Token == "" && s.MintedAt.IsZero()
}

// Usable reports whether the session may still be handed out at now, keeping
// buffer of headroom before the nominal lifetime runs out.
func (s Session) Usable(now time.Time, buffer time.Duration) bool {
	if s.IsZero() {
		return false
	}
	return now.Sub(s.MintedAt) < s.Lifetime-buffer
}

type SessionStatus string

const (
	SessionNone    SessionStatus = "none"
	SessionActive  SessionStatus = "active"
	SessionExpired SessionStatus = "expired"
)

// SessionInfo is a read-only diagnostic view of the current session.
type SessionInfo struct {
	Status           SessionStatus `json:"status"`
	ElapsedSeconds   int64         `json:"elapsedSeconds"`
	RemainingSeconds int64         `json:"remainingSeconds"`
}

// SessionType is the privilege level requested when minting a session.
type SessionType int

const (
	SessionTypeUser  SessionType = 0
	SessionTypeAdmin SessionType = 2
)

// ErrSessionRejected is wrapped by any error meaning the remote API refused
// the session token (expired or revoked before its nominal lifetime).
var ErrSessionRejected = errors.New("session rejected by remote API")

// =============================================================================
// Error envelope
// =============================================================================

// ErrorKind classifies every failure returned across the dispatch boundary.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation_error"
	KindExecution      ErrorKind = "execution_error"
	KindUnknownCommand ErrorKind = "unknown_command"
	KindInfrastructure ErrorKind = "infrastructure_error"
)

// Valid reports whether k is one of the four known kinds.
func (k ErrorKind) Valid() bool {
	switch k {
	case KindValidation, KindExecution, KindUnknownCommand, KindInfrastructure:
		return true
	}
	return false
}

// Violation is one field-level validation failure.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorEnvelope is the only failure shape callers ever see.
type ErrorEnvelope struct {
	Kind      ErrorKind      `json:"kind"`
	Message   string         `json:"message"`
	Command   string         `json:"command"`
	Context   map[string]any `json:"context,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Retryable bool           `json:"retryable"`
	Trace     string         `json:"trace,omitempty"`
}

// Error implements error so an envelope can travel through error-typed APIs.
func (e *ErrorEnvelope) Error() string {
	if e == nil {
		return ""
	}
	if e.Command == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Command, e.Message)
}

// JSON returns the envelope encoded as JSON. Encoding failures fall back to a
// minimal hand-built envelope so callers always get something parseable.
func (e *ErrorEnvelope) JSON() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		fallback := map[string]any{"kind": e.Kind, "message": e.Message, "command": e.Command}
		data, _ = json.Marshal(fallback)
	}
	return data
}

// =============================================================================
// Tooling
// =============================================================================

// ToolDefinition describes a registered command to protocol hosts.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Args is a validated, normalized argument set handed to a Handler.
type Args map[string]any

// Decode copies the arguments into v (a pointer to the handler's input struct).
func (a Args) Decode(v any) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("args encode: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("args decode: %w", err)
	}
	return nil
}

// String returns the string argument named key, or "" when absent or not a string.
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}
