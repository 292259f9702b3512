package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"mediagate/internal/domain"
	"mediagate/internal/schema"
)

// ContextualError is implemented by handler errors that carry structured
// context for the caller. The context is merged into the envelope.
type ContextualError interface {
	error
	ErrorContext() map[string]any
}

// ExecError is the error handlers return for domain failures such as a
// missing remote resource.
type ExecError struct {
	Message   string
	Context   map[string]any
	Retryable bool
	Err       error
}

// NewExecError returns an ExecError wrapping err.
func NewExecError(message string, err error) *ExecError {
	return &ExecError{Message: message, Err: err}
}

// With adds one context entry and returns e.
func (e *ExecError) With(key string, value any) *ExecError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e *ExecError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExecError) Unwrap() error { return e.Err }

// ErrorContext implements ContextualError.
func (e *ExecError) ErrorContext() map[string]any {
	out := make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		out[k] = v
	}
	out["retryable"] = e.Retryable
	return out
}

const maxCauseLength = 200

// sanitize reduces an internal error to a single bounded line that is safe
// to hand to callers.
func sanitize(err error) string {
	msg := err.Error()
	if i := strings.IndexAny(msg, "\r\n"); i >= 0 {
		msg = msg[:i]
	}
	if len(msg) > maxCauseLength {
		cut := maxCauseLength
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return msg
}

// errorType names the concrete Go type of err.
func errorType(err error) string {
	return fmt.Sprintf("%T", err)
}

// retryableFrom reads retryability from explicit context first, then from
// any error in the chain exposing Retryable() bool.
func retryableFrom(err error, ctx map[string]any) bool {
	if v, ok := ctx["retryable"].(bool); ok {
		return v
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// errorChain renders each wrapped error on its own line, for debug traces.
func errorChain(err error) string {
	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		fmt.Fprintf(&b, "%s%T: %v\n", strings.Repeat("  ", depth), err, err)
		switch x := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				b.WriteString(errorChain(inner))
			}
			return b.String()
		default:
			err = errors.Unwrap(err)
		}
	}
	return b.String()
}

func validationEnvelope(command string, err error) *domain.ErrorEnvelope {
	var violations []domain.Violation
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		violations = ve.Violations
	} else {
		violations = []domain.Violation{{Field: "", Message: err.Error()}}
	}
	fields := make([]string, 0, len(violations))
	for _, v := range violations {
		if v.Field != "" {
			fields = append(fields, v.Field)
		}
	}
	msg := "invalid arguments"
	if len(fields) > 0 {
		msg = "invalid arguments: " + strings.Join(fields, ", ")
	}
	return &domain.ErrorEnvelope{
		Kind:    domain.KindValidation,
		Message: msg,
		Command: command,
		Context: map[string]any{"violations": violations},
	}
}
