package cli

import (
	"context"
	"time"

	"mediagate/internal/app"
	"mediagate/internal/cache"
	"mediagate/internal/config"
	"mediagate/internal/secrets"
)

// Function variables for dependency injection in tests.
// Default values are the real implementations; tests may temporarily swap them.
var (
	configLoad         = config.Load
	configWriteDefault = config.WriteDefault
	secretsOpen        = func() (secrets.Store, error) { return secrets.Open("") }
	appNew             = app.New
	cacheProbe         = func(ctx context.Context, dsn string, ttl time.Duration) error {
		s, err := cache.OpenSQL(ctx, dsn, ttl)
		if err != nil {
			return err
		}
		return s.Close()
	}
)
