package scheduler

import (
	"context"
	"log/slog"
	"time"

	"mediagate/internal/domain"
)

// Job IDs.
const (
	JobSessionKeepalive = "session-keepalive"
	JobCachePurge       = "cache-purge"
)

// KeepaliveJob touches the session on every tick so it is refreshed before
// it expires even when no tool calls arrive.
func KeepaliveJob(spec string, sessions domain.SessionProvider) Job {
	return Job{
		ID:      JobSessionKeepalive,
		Spec:    spec,
		Timeout: time.Minute,
		Run: func(ctx context.Context) error {
			_, err := sessions.Get(ctx)
			return err
		},
	}
}

// Purger drops expired cache entries.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// PurgeJob removes expired cache entries on every tick.
func PurgeJob(spec string, p Purger, logger *slog.Logger) Job {
	return Job{
		ID:      JobCachePurge,
		Spec:    spec,
		Timeout: time.Minute,
		Run: func(ctx context.Context) error {
			n, err := p.Purge(ctx)
			if err == nil && n > 0 && logger != nil {
				logger.Debug("cache purged", "removed", n)
			}
			return err
		},
	}
}
