package media

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"mediagate/internal/domain"
)

// Failure classes. Every *APIError unwraps to exactly one of them.
var (
	ErrNotFound     = errors.New("media: resource not found")
	ErrUnauthorized = fmt.Errorf("media: session not accepted: %w", domain.ErrSessionRejected)
	ErrForbidden    = errors.New("media: operation forbidden")
	ErrRateLimited  = errors.New("media: rate limited")
	ErrTransient    = errors.New("media: transient failure")
	ErrRemote       = errors.New("media: request failed")
)

// APIError is a failed media API request.
type APIError struct {
	Service   string
	Action    string
	Code      string
	Message   string
	Status    int
	Class     error
	retryable bool
	cause     error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("media %s.%s", e.Service, e.Action)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap exposes both the failure class and, for network failures, the cause.
func (e *APIError) Unwrap() []error {
	out := []error{e.Class}
	if e.cause != nil {
		out = append(out, e.cause)
	}
	return out
}

// Retryable reports whether repeating the request may succeed.
func (e *APIError) Retryable() bool { return e.retryable }

// ErrorContext describes the failure for the caller-facing envelope.
func (e *APIError) ErrorContext() map[string]any {
	ctx := map[string]any{
		"service":   e.Service,
		"action":    e.Action,
		"retryable": e.retryable,
	}
	if e.Code != "" {
		ctx["api_code"] = e.Code
	}
	if e.Status != 0 {
		ctx["http_status"] = e.Status
	}
	return ctx
}

// classify maps an API error code and HTTP status to a failure class.
func classify(code string, status int) (class error, retryable bool) {
	switch {
	case code == "INVALID_KS" || code == "EXPIRED_KS" || status == http.StatusUnauthorized:
		return ErrUnauthorized, false
	case strings.HasSuffix(code, "_NOT_FOUND") || status == http.StatusNotFound:
		return ErrNotFound, false
	case code == "SERVICE_FORBIDDEN" || status == http.StatusForbidden:
		return ErrForbidden, false
	case status == http.StatusTooManyRequests:
		return ErrRateLimited, true
	case status >= 500:
		return ErrTransient, true
	}
	return ErrRemote, false
}
