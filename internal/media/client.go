package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mediagate/internal/session"
)

const (
	// DefaultTimeout bounds one HTTP round trip.
	DefaultTimeout = 30 * time.Second
	// DefaultRateLimit is the outbound request budget per second.
	DefaultRateLimit = 10

	maxResponseBytes = 8 << 20
)

// RequestObserver records the outcome of every API request.
type RequestObserver interface {
	ObserveAPIRequest(service, action, outcome string)
}

// Option is a functional option for configuring Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit bounds outbound requests to perSecond with the given burst.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets a structured logger. If l is nil the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver records request outcomes, typically into Prometheus.
func WithObserver(o RequestObserver) Option {
	return func(c *Client) { c.observer = o }
}

// Client talks to the media platform's JSON API. It mints sessions and runs
// arbitrary service actions with a session token.
type Client struct {
	endpoint    string
	http        *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
	observer    RequestObserver
	marshalFunc func(v any) ([]byte, error)
}

// NewClient returns a Client for the API rooted at endpoint.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("media: invalid endpoint %q", endpoint)
	}
	c := &Client{
		endpoint:    strings.TrimRight(endpoint, "/"),
		http:        &http.Client{Timeout: DefaultTimeout},
		limiter:     rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		marshalFunc: json.Marshal,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

// Endpoint returns the API root without a trailing slash.
func (c *Client) Endpoint() string { return c.endpoint }

// Mint starts a session for creds and returns its token. It implements
// session.Minter.
func (c *Client) Mint(ctx context.Context, creds session.Credentials) (string, error) {
	params := map[string]any{
		"secret":    creds.Secret(),
		"userId":    creds.UserID(),
		"type":      int(creds.SessionType()),
		"partnerId": creds.PartnerID(),
		"expiry":    int64(creds.Lifetime() / time.Second),
	}
	raw, err := c.do(ctx, "session", "start", params)
	if err != nil {
		return "", err
	}
	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		return "", &APIError{Service: "session", Action: "start", Message: "response is not a token string", Class: ErrRemote}
	}
	return token, nil
}

// Call runs service.action with params under the session token ks and
// returns the raw JSON result.
func (c *Client) Call(ctx context.Context, ks, service, action string, params map[string]any) (json.RawMessage, error) {
	body := make(map[string]any, len(params)+1)
	for k, v := range params {
		body[k] = v
	}
	body["ks"] = ks
	return c.do(ctx, service, action, body)
}

type apiException struct {
	ObjectType string `json:"objectType"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (c *Client) do(ctx context.Context, service, action string, params map[string]any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("media %s.%s: rate limiter: %w", service, action, err)
	}

	params["format"] = 1
	payload, err := c.marshalFunc(params)
	if err != nil {
		return nil, fmt.Errorf("media %s.%s: marshal: %w", service, action, err)
	}

	target := fmt.Sprintf("%s/api_v3/service/%s/action/%s", c.endpoint, url.PathEscape(service), url.PathEscape(action))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("media %s.%s: request: %w", service, action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(service, action, "network_error")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("media %s.%s: %w", service, action, ctxErr)
		}
		return nil, &APIError{
			Service:   service,
			Action:    action,
			Message:   "request did not complete",
			Class:     ErrTransient,
			retryable: true,
			cause:     err,
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.observe(service, action, "network_error")
		return nil, &APIError{Service: service, Action: action, Status: resp.StatusCode, Message: "reading response", Class: ErrTransient, retryable: true, cause: err}
	}

	exc, isException := parseException(data)
	if resp.StatusCode >= 400 || isException {
		class, retryable := classify(exc.Code, resp.StatusCode)
		apiErr := &APIError{
			Service:   service,
			Action:    action,
			Code:      exc.Code,
			Message:   exc.Message,
			Status:    resp.StatusCode,
			Class:     class,
			retryable: retryable,
		}
		if apiErr.Message == "" && resp.StatusCode >= 400 {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		c.observe(service, action, outcomeOf(class))
		c.log().Debug("media api error", "service", service, "action", action, "code", exc.Code, "status", resp.StatusCode)
		return nil, apiErr
	}

	c.observe(service, action, "ok")
	return json.RawMessage(data), nil
}

// parseException recognises the API's in-band error object, which is
// returned with HTTP 200.
func parseException(data []byte) (apiException, bool) {
	var exc apiException
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return exc, false
	}
	if err := json.Unmarshal(trimmed, &exc); err != nil {
		return apiException{}, false
	}
	return exc, strings.HasSuffix(exc.ObjectType, "Exception")
}

func outcomeOf(class error) string {
	switch {
	case errors.Is(class, ErrNotFound):
		return "not_found"
	case errors.Is(class, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(class, ErrForbidden):
		return "forbidden"
	case errors.Is(class, ErrRateLimited):
		return "rate_limited"
	case errors.Is(class, ErrTransient):
		return "transient"
	}
	return "error"
}

func (c *Client) observe(service, action, outcome string) {
	if c.observer != nil {
		c.observer.ObserveAPIRequest(service, action, outcome)
	}
}

var _ session.Minter = (*Client)(nil)
