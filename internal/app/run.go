package app

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"mediagate/internal/config"
	"mediagate/internal/telemetry"
)

// stdioTransport is the MCP transport used for mcp.transport=stdio; tests
// replace it with an in-memory pipe.
var stdioTransport = func() mcp.Transport { return &mcp.StdioTransport{} }

// errHostGone stops the run group when the stdio host disconnects.
var errHostGone = errors.New("mcp host disconnected")

// Run serves every configured surface until ctx is canceled, a surface fails,
// or the stdio host goes away. It returns nil on a clean stop.
func (c *Container) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	if c.gateway != nil {
		g.Go(func() error { return c.gateway.Run(ctx) })
	}
	if c.cfg.MCP.Transport == config.TransportStdio {
		g.Go(func() error {
			err := c.mcp.Run(ctx, stdioTransport())
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				c.logger.Debug("mcp session ended", "error", err)
			}
			return errHostGone
		})
	}
	if c.scheduler != nil {
		g.Go(func() error { return c.scheduler.Run(ctx) })
	}
	if c.configPath != "" {
		w := config.NewWatcher(c.configPath, c.applyReload, config.WithWatcherLogger(c.logger))
		g.Go(func() error {
			if err := w.Run(ctx); err != nil {
				c.logger.Warn("config watcher stopped", "error", err)
			}
			return nil
		})
	}

	c.logger.Info("mediagate serving",
		"tools", c.registry.Len(),
		"mcp", c.cfg.MCP.Transport,
		"gateway", c.cfg.Gateway.Addr,
	)
	err := g.Wait()
	if errors.Is(err, errHostGone) {
		c.logger.Info("mcp host disconnected, shutting down")
		return nil
	}
	return err
}

// applyReload takes the log level from a reloaded config. Other settings
// need a restart.
func (c *Container) applyReload(cfg *config.Config) {
	c.metrics.ObserveReload()
	lvl, err := telemetry.ParseLevel(cfg.Log.Level)
	if err != nil {
		c.logger.Warn("log level unchanged", "error", err)
		return
	}
	if lvl != c.level.Level() {
		c.level.Set(lvl)
		c.logger.Info("log level changed", "level", lvl.String())
	}
}
