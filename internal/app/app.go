// Package app is the composition root: it wires configuration, telemetry,
// the session manager, the tool catalog and the host surfaces with dig.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"

	"go.uber.org/dig"

	"mediagate/internal/cache"
	"mediagate/internal/config"
	"mediagate/internal/dispatch"
	"mediagate/internal/domain"
	"mediagate/internal/gateway"
	"mediagate/internal/mcpserver"
	"mediagate/internal/media"
	"mediagate/internal/registry"
	"mediagate/internal/retry"
	"mediagate/internal/scheduler"
	"mediagate/internal/secrets"
	"mediagate/internal/session"
	"mediagate/internal/telemetry"
)

// ServiceName identifies the process in traces and MCP handshakes.
const ServiceName = "mediagate"

// ErrNoSecret is returned when neither the config nor the secrets store
// provides the API secret.
var ErrNoSecret = errors.New("api secret not configured: set api.secret, MEDIAGATE_API_SECRET or run `mediagate secrets set api_secret <value>`")

// Params are the inputs of New that do not come from the config file.
type Params struct {
	Config     *config.Config
	ConfigPath string // watched for log level changes when non-empty
	Version    string
	LogOutput  io.Writer     // defaults to stderr; stdout belongs to the stdio transport
	Secrets    secrets.Store // opened from the default location on demand when nil
}

// Named types let dig tell plain strings and writers apart.
type (
	apiSecret    string
	buildVersion string
	logOutput    struct{ io.Writer }
)

// cacheStore is the configured cache; both fields are nil when caching is off.
type cacheStore struct {
	cache  domain.Cache
	purger scheduler.Purger
	close  func() error
}

// openSecrets is used when Params.Secrets is nil; tests may replace it.
var openSecrets = func() (secrets.Store, error) { return secrets.Open("") }

// Container holds the resolved services. Callers use the typed getters and
// never import dig.
type Container struct {
	cfg        *config.Config
	configPath string
	level      *slog.LevelVar
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	sessions   *session.Manager
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	mcp        *mcpserver.Server
	gateway    *gateway.Server
	scheduler  *scheduler.Scheduler

	closers []func(context.Context) error
}

func (c *Container) Config() *config.Config           { return c.cfg }
func (c *Container) Logger() *slog.Logger             { return c.logger }
func (c *Container) Metrics() *telemetry.Metrics      { return c.metrics }
func (c *Container) Sessions() *session.Manager       { return c.sessions }
func (c *Container) Registry() *registry.Registry     { return c.registry }
func (c *Container) Dispatcher() *dispatch.Dispatcher { return c.dispatcher }
func (c *Container) MCP() *mcpserver.Server           { return c.mcp }

// Gateway is nil when gateway.addr is empty.
func (c *Container) Gateway() *gateway.Server { return c.gateway }

// Scheduler is nil when no background job is configured.
func (c *Container) Scheduler() *scheduler.Scheduler { return c.scheduler }

// New builds and wires every service from p.Config. Nothing touches the
// network until a tool runs; the SQLite cache is opened and migrated here.
func New(ctx context.Context, p Params) (*Container, error) {
	if p.Config == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if p.LogOutput == nil {
		p.LogOutput = os.Stderr
	}
	if p.Version == "" {
		p.Version = "dev"
	}

	d := dig.New()
	constructors := []any{
		func() *config.Config { return p.Config },
		func() context.Context { return ctx },
		func() buildVersion { return buildVersion(p.Version) },
		func() logOutput { return logOutput{p.LogOutput} },
		func() secrets.Store { return p.Secrets },
		newLevel,
		newLogger,
		telemetry.NewMetrics,
		newAPISecret,
		newMediaClient,
		newSessionManager,
		newCache,
		newCatalog,
		newRegistry,
		newDispatcher,
		newMCPServer,
		newGateway,
		newScheduler,
	}
	for _, constructor := range constructors {
		if err := d.Provide(constructor); err != nil {
			return nil, err
		}
	}

	c := &Container{cfg: p.Config, configPath: p.ConfigPath}
	err := d.Invoke(func(
		level *slog.LevelVar,
		logger *slog.Logger,
		metrics *telemetry.Metrics,
		sessions *session.Manager,
		reg *registry.Registry,
		disp *dispatch.Dispatcher,
		mcp *mcpserver.Server,
		gw *gateway.Server,
		sched *scheduler.Scheduler,
		store *cacheStore,
	) {
		c.level, c.logger, c.metrics = level, logger, metrics
		c.sessions, c.registry, c.dispatcher = sessions, reg, disp
		c.mcp, c.gateway, c.scheduler = mcp, gw, sched
		if store.close != nil {
			c.closers = append(c.closers, func(context.Context) error { return store.close() })
		}
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", dig.RootCause(err))
	}

	shutdownTracing, err := telemetry.SetupTracing(ctx, p.Config.Telemetry.OTLPEndpoint, ServiceName, p.Version)
	if err != nil {
		c.logger.Warn("tracing disabled", "error", err)
	} else {
		c.closers = append(c.closers, shutdownTracing)
	}
	return c, nil
}

// Close releases the cache and flushes traces.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i](ctx))
	}
	c.closers = nil
	return errors.Join(errs...)
}

// =============================================================================
// Constructors
// =============================================================================

func newLevel(cfg *config.Config) (*slog.LevelVar, error) {
	lvl, err := telemetry.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	v := new(slog.LevelVar)
	v.Set(lvl)
	return v, nil
}

func newLogger(cfg *config.Config, level *slog.LevelVar, out logOutput) *slog.Logger {
	return telemetry.NewLogger(out.Writer, cfg.Log.Format, level)
}

// newAPISecret prefers the configured secret and falls back to the store.
func newAPISecret(cfg *config.Config, store secrets.Store) (apiSecret, error) {
	if cfg.API.Secret != "" {
		return apiSecret(cfg.API.Secret), nil
	}
	if store == nil {
		var err error
		if store, err = openSecrets(); err != nil {
			return "", fmt.Errorf("%w (secrets store: %v)", ErrNoSecret, err)
		}
	}
	v, err := store.Get(secrets.KeyAPISecret)
	if errors.Is(err, secrets.ErrNotFound) {
		return "", ErrNoSecret
	}
	if err != nil {
		return "", fmt.Errorf("secrets store: %w", err)
	}
	return apiSecret(v), nil
}

func newMediaClient(cfg *config.Config, logger *slog.Logger, metrics *telemetry.Metrics) (*media.Client, error) {
	burst := int(math.Ceil(cfg.API.RateLimit))
	return media.NewClient(cfg.API.URL,
		media.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		media.WithRateLimit(cfg.API.RateLimit, burst),
		media.WithLogger(logger),
		media.WithObserver(metrics),
	)
}

// newSessionManager wraps the client's mint in the retry policy; tool calls
// themselves are never retried.
func newSessionManager(cfg *config.Config, secret apiSecret, client *media.Client, logger *slog.Logger, metrics *telemetry.Metrics) (*session.Manager, error) {
	creds, err := cfg.Credentials(string(secret))
	if err != nil {
		return nil, err
	}
	return session.NewManager(creds, retry.NewRetryableMinter(client, cfg.Retry),
		session.WithRefreshBuffer(cfg.Session.Buffer),
		session.WithMintTimeout(cfg.Session.MintTimeout),
		session.WithLogger(logger),
		session.WithMintObserver(metrics.ObserveMint),
	)
}

func newCache(ctx context.Context, cfg *config.Config) (*cacheStore, error) {
	switch cfg.Cache.Driver {
	case config.CacheMemory:
		m := cache.NewMemory(cfg.Cache.TTL)
		return &cacheStore{cache: m, purger: m}, nil
	case config.CacheSQLite:
		s, err := cache.OpenSQL(ctx, cfg.Cache.DSN, cfg.Cache.TTL)
		if err != nil {
			return nil, err
		}
		return &cacheStore{cache: s, purger: s, close: s.Close}, nil
	}
	return &cacheStore{}, nil
}

func newCatalog(cfg *config.Config, client *media.Client, store *cacheStore, logger *slog.Logger, metrics *telemetry.Metrics) *media.Catalog {
	opts := []media.CatalogOption{media.WithCatalogLogger(logger)}
	if store.cache != nil {
		opts = append(opts, media.WithCache(store.cache), media.WithCacheObserver(metrics))
	}
	return media.NewCatalog(client, client.Endpoint(), int64(cfg.API.Partner), opts...)
}

func newRegistry(catalog *media.Catalog, logger *slog.Logger) *registry.Registry {
	reg := registry.New(registry.WithLogger(logger))
	n := reg.Discover(catalog.Entries())
	logger.Debug("tools registered", "count", n, "categories", reg.Categories())
	return reg
}

func newDispatcher(cfg *config.Config, reg *registry.Registry, sessions *session.Manager, logger *slog.Logger, metrics *telemetry.Metrics) *dispatch.Dispatcher {
	return dispatch.New(reg, sessions,
		dispatch.WithTimeout(cfg.Dispatch.Timeout),
		dispatch.WithDebug(cfg.Dispatch.Debug),
		dispatch.WithLogger(logger),
		dispatch.WithObserver(metrics),
	)
}

func newMCPServer(disp *dispatch.Dispatcher, reg *registry.Registry, logger *slog.Logger, version buildVersion) *mcpserver.Server {
	return mcpserver.New(disp, reg.Definitions(),
		mcpserver.WithLogger(logger),
		mcpserver.WithVersion(string(version)),
	)
}

type gatewayParams struct {
	dig.In

	Config     *config.Config
	Dispatcher *dispatch.Dispatcher
	Registry   *registry.Registry
	MCP        *mcpserver.Server
	Sessions   *session.Manager
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger
}

// newGateway returns nil when gateway.addr is empty.
func newGateway(p gatewayParams) (*gateway.Server, error) {
	if p.Config.Gateway.Addr == "" {
		return nil, nil
	}
	opts := []gateway.Option{
		gateway.WithLogger(p.Logger),
		gateway.WithMetrics(p.Metrics.Handler()),
		gateway.WithHealth(func() any { return p.Sessions.Info() }),
		gateway.WithCallLimit(p.Config.Gateway.CallLimit),
	}
	if p.Config.MCP.Transport == config.TransportHTTP {
		opts = append(opts, gateway.WithMCP(p.MCP.HTTPHandler()))
	}
	return gateway.NewServer(p.Config.Gateway.Addr, p.Config.Gateway.Token, p.Dispatcher, p.Registry, opts...)
}

type schedulerParams struct {
	dig.In

	Config   *config.Config
	Sessions *session.Manager
	Cache    *cacheStore
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
}

// newScheduler returns nil when neither keepalive nor cache purging applies.
func newScheduler(p schedulerParams) (*scheduler.Scheduler, error) {
	var jobs []scheduler.Job
	if spec := p.Config.Session.Keepalive; spec != "" {
		jobs = append(jobs, scheduler.KeepaliveJob(spec, p.Sessions))
	}
	if p.Cache.purger != nil && p.Config.Cache.TTL > 0 {
		jobs = append(jobs, scheduler.PurgeJob(fmt.Sprintf("@every %s", p.Config.Cache.TTL), p.Cache.purger, p.Logger))
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	s := scheduler.NewScheduler(scheduler.NewRobfigCronEngine(p.Logger),
		scheduler.WithLogger(p.Logger),
		scheduler.WithObserver(p.Metrics),
	)
	for _, job := range jobs {
		if err := s.AddJob(job); err != nil {
			return nil, err
		}
	}
	return s, nil
}
