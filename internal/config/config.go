package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"mediagate/internal/domain"
	"mediagate/internal/retry"
	"mediagate/internal/session"
)

// Config is the complete runtime configuration.
type Config struct {
	API       APIConfig       `koanf:"api"`
	Session   SessionConfig   `koanf:"session"`
	Retry     retry.Config    `koanf:"retry"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Cache     CacheConfig     `koanf:"cache"`
	Gateway   GatewayConfig   `koanf:"gateway"`
	MCP       MCPConfig       `koanf:"mcp"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// APIConfig locates and authenticates against the media API.
type APIConfig struct {
	URL         string        `koanf:"url"`
	Partner     int           `koanf:"partner"`
	Secret      string        `koanf:"secret"`
	User        string        `koanf:"user"`
	SessionType string        `koanf:"sessiontype"` // "admin" or "user"
	RateLimit   float64       `koanf:"ratelimit"`   // requests per second, 0 disables
	Timeout     time.Duration `koanf:"timeout"`
}

type SessionConfig struct {
	Lifetime    time.Duration `koanf:"lifetime"`
	Buffer      time.Duration `koanf:"buffer"`
	MintTimeout time.Duration `koanf:"minttimeout"`
	Keepalive   string        `koanf:"keepalive"` // cron spec; empty disables
}

type DispatchConfig struct {
	Timeout time.Duration `koanf:"timeout"`
	Debug   bool          `koanf:"debug"`
}

type CacheConfig struct {
	Driver string        `koanf:"driver"` // none, memory or sqlite
	DSN    string        `koanf:"dsn"`
	TTL    time.Duration `koanf:"ttl"`
}

type GatewayConfig struct {
	Addr      string `koanf:"addr"` // empty disables the HTTP gateway
	Token     string `koanf:"token"`
	CallLimit int    `koanf:"calllimit"` // concurrent calls per WebSocket; 0 keeps the default
}

type MCPConfig struct {
	Transport string `koanf:"transport"` // stdio, http or none
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `koanf:"otlpendpoint"`
}

// Cache drivers.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
)

// MCP transports.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportNone  = "none"
)

// defaults is the lowest-precedence layer; every key the loader knows about
// appears here.
func defaults() map[string]any {
	return map[string]any{
		"api": map[string]any{
			"url":         "",
			"partner":     0,
			"secret":      "",
			"user":        "",
			"sessiontype": "admin",
			"ratelimit":   10,
			"timeout":     "30s",
		},
		"session": map[string]any{
			"lifetime":    "24h",
			"buffer":      "5m",
			"minttimeout": "10s",
			"keepalive":   "",
		},
		"retry": map[string]any{
			"maxretries":     2,
			"initialbackoff": "250ms",
			"maxbackoff":     "5s",
			"multiplier":     2.0,
		},
		"dispatch": map[string]any{
			"timeout": "30s",
			"debug":   false,
		},
		"cache": map[string]any{
			"driver": CacheMemory,
			"dsn":    "",
			"ttl":    "5m",
		},
		"gateway": map[string]any{
			"addr":      "127.0.0.1:8090",
			"token":     "",
			"calllimit": 16,
		},
		"mcp": map[string]any{
			"transport": TransportStdio,
		},
		"log": map[string]any{
			"level":  "info",
			"format": "text",
		},
		"telemetry": map[string]any{
			"otlpendpoint": "",
		},
	}
}

// Validate checks everything that can be checked without the API secret,
// which may still come from the secrets store.
func (c *Config) Validate() error {
	var errs []error
	if c.API.URL == "" {
		errs = append(errs, errors.New("api.url is required"))
	}
	if c.API.Partner <= 0 {
		errs = append(errs, errors.New("api.partner must be positive"))
	}
	if _, err := ParseSessionType(c.API.SessionType); err != nil {
		errs = append(errs, err)
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, errors.New("api.ratelimit must be >= 0"))
	}
	if c.Session.Buffer < 0 {
		errs = append(errs, errors.New("session.buffer must be >= 0"))
	}
	if c.Dispatch.Timeout <= 0 {
		errs = append(errs, errors.New("dispatch.timeout must be positive"))
	}
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Cache.Driver {
	case CacheNone, CacheMemory:
	case CacheSQLite:
		if c.Cache.DSN == "" {
			errs = append(errs, errors.New("cache.dsn is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.driver %q is not one of none, memory, sqlite", c.Cache.Driver))
	}
	switch c.MCP.Transport {
	case TransportStdio, TransportHTTP, TransportNone:
	default:
		errs = append(errs, fmt.Errorf("mcp.transport %q is not one of stdio, http, none", c.MCP.Transport))
	}
	if c.Gateway.CallLimit < 0 {
		errs = append(errs, errors.New("gateway.calllimit must be >= 0"))
	}
	if c.MCP.Transport == TransportHTTP && c.Gateway.Addr == "" {
		errs = append(errs, errors.New("mcp.transport http needs gateway.addr"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ParseSessionType maps the configured privilege name to a domain.SessionType.
func ParseSessionType(name string) (domain.SessionType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "admin":
		return domain.SessionTypeAdmin, nil
	case "user":
		return domain.SessionTypeUser, nil
	}
	return 0, fmt.Errorf("api.sessiontype %q is not one of admin, user", name)
}

// Credentials builds validated session credentials. secret overrides
// api.secret when non-empty.
func (c *Config) Credentials(secret string) (session.Credentials, error) {
	if secret == "" {
		secret = c.API.Secret
	}
	st, err := ParseSessionType(c.API.SessionType)
	if err != nil {
		return session.Credentials{}, err
	}
	return session.NewCredentials(session.CredentialsInput{
		Endpoint:  c.API.URL,
		PartnerID: c.API.Partner,
		Secret:    secret,
		UserID:    c.API.User,
		Type:      st,
		Lifetime:  c.Session.Lifetime,
	})
}
