package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"mediagate/internal/app"
	"mediagate/internal/config"
	"mediagate/internal/secrets"
)

// CheckOptions holds options for the check command.
type CheckOptions struct {
	ConfigPath string // empty means defaults plus MEDIAGATE_* environment
	Fix        bool   // write a default config when the file is missing
	Probe      bool   // mint a session against the configured API
}

// RunCheck checks config, API secret, cache and surfaces; optionally writes
// a default config or probes the API. Returns the process exit code.
func RunCheck(ctx context.Context, opts CheckOptions, stdout, stderr io.Writer) int {
	note := func(section, message string) {
		fmt.Fprintf(stdout, "  [%s] %s\n", section, message)
	}
	failed := false
	fail := func(section, message string) {
		failed = true
		note(section, message)
	}

	// 1. Config file
	path := opts.ConfigPath
	if path == "" {
		note("Config", "No config file; using defaults and MEDIAGATE_* environment.")
	} else if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		note("Config", fmt.Sprintf("No config at %s.", path))
		if !opts.Fix {
			note("Config", "Run with --fix to create a default config.")
			fmt.Fprintln(stdout, "  Check complete.")
			return 0
		}
		if err := configWriteDefault(path, false); err != nil {
			fmt.Fprintf(stderr, "  failed to write default config: %v\n", err)
			return 1
		}
		note("Config", fmt.Sprintf("Wrote default config to %s. Set api.url and api.partner, then run check again.", path))
		fmt.Fprintln(stdout, "  Check complete.")
		return 0
	}

	cfg, err := configLoad(path)
	if err != nil {
		note("Config", err.Error())
		return 1
	}
	if path != "" {
		note("Config", fmt.Sprintf("Loaded %s.", path))
	}

	// 2. API
	note("API", fmt.Sprintf("url=%s partner=%d type=%s", cfg.API.URL, cfg.API.Partner, cfg.API.SessionType))
	secret, source, err := resolveSecret(cfg)
	if err != nil {
		fail("API", err.Error())
	} else {
		note("API", "Secret from "+source+".")
		if _, err := cfg.Credentials(secret); err != nil {
			fail("API", err.Error())
		}
	}

	// 3. Cache
	switch cfg.Cache.Driver {
	case config.CacheSQLite:
		if err := cacheProbe(ctx, cfg.Cache.DSN, cfg.Cache.TTL); err != nil {
			fail("Cache", fmt.Sprintf("sqlite %s: %v", cfg.Cache.DSN, err))
		} else {
			note("Cache", fmt.Sprintf("sqlite %s ok, ttl=%s.", cfg.Cache.DSN, cfg.Cache.TTL))
		}
	case config.CacheMemory:
		note("Cache", fmt.Sprintf("memory, ttl=%s.", cfg.Cache.TTL))
	default:
		note("Cache", "disabled.")
	}

	// 4. Surfaces
	note("MCP", "transport="+cfg.MCP.Transport)
	if cfg.Gateway.Addr == "" {
		note("Gateway", "disabled.")
	} else {
		auth := "token"
		if cfg.Gateway.Token == "" {
			auth = "none"
		}
		note("Gateway", fmt.Sprintf("addr=%s auth=%s", cfg.Gateway.Addr, auth))
		if auth == "none" && !isLoopback(cfg.Gateway.Addr) {
			note("Gateway", "Auth is disabled on a non-loopback address. Set gateway.token for production.")
		}
	}

	// 5. Probe
	if opts.Probe && !failed {
		if err := probe(ctx, cfg); err != nil {
			fail("Probe", err.Error())
		} else {
			note("Probe", "Session minted.")
		}
	}

	fmt.Fprintln(stdout, "  Check complete.")
	if failed {
		return 1
	}
	return 0
}

// resolveSecret mirrors the container's lookup order and reports where the
// secret came from.
func resolveSecret(cfg *config.Config) (secret, source string, err error) {
	if cfg.API.Secret != "" {
		return cfg.API.Secret, "config or environment", nil
	}
	store, err := secretsOpen()
	if err != nil {
		return "", "", fmt.Errorf("%w (secrets store: %v)", app.ErrNoSecret, err)
	}
	v, err := store.Get(secrets.KeyAPISecret)
	if errors.Is(err, secrets.ErrNotFound) {
		return "", "", app.ErrNoSecret
	}
	if err != nil {
		return "", "", err
	}
	return v, "secrets store", nil
}

func probe(ctx context.Context, cfg *config.Config) error {
	c, err := appNew(ctx, app.Params{Config: cfg, LogOutput: io.Discard})
	if err != nil {
		return err
	}
	defer c.Close(ctx)
	_, err = c.Sessions().Get(ctx)
	return err
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
