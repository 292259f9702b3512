package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"mediagate/internal/domain"
)

// Executor runs one named command. *dispatch.Dispatcher satisfies it.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any) (any, *domain.ErrorEnvelope)
}

// Catalog lists the registered tools. *registry.Registry satisfies it.
type Catalog interface {
	Definitions() []domain.ToolDefinition
}

// ErrNoAddr is returned when the gateway has no listen address.
var ErrNoAddr = errors.New("gateway: listen address must not be empty")

// Option configures Server.
type Option func(*Server)

// WithLogger sets a structured logger. If l is nil the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics mounts h at /metrics, outside bearer auth.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithMCP mounts the streamable MCP transport at /mcp.
func WithMCP(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// WithCallLimit caps concurrent calls per WebSocket connection. Values below
// one keep DefaultCallLimit.
func WithCallLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.callLimit = n
		}
	}
}

// WithHealth adds fn's result to the /healthz body.
func WithHealth(fn func() any) Option {
	return func(s *Server) { s.health = fn }
}

// Server is the HTTP gateway: /ws, /mcp and /tools behind optional bearer
// auth, plus /healthz and /metrics.
type Server struct {
	addr    string
	token   string
	exec    Executor
	catalog Catalog
	logger  *slog.Logger
	metrics http.Handler
	mcp     http.Handler
	health  func() any

	callLimit int

	server      *http.Server
	boundAddr   string
	addrMu      sync.RWMutex
	listenErr   error
	listenErrMu sync.Mutex
}

// NewServer builds a gateway listening on addr ("host:port"; port 0 picks a
// free port). An empty token disables auth.
func NewServer(addr, token string, exec Executor, catalog Catalog, opts ...Option) (*Server, error) {
	if addr == "" {
		return nil, ErrNoAddr
	}
	s := &Server{addr: addr, token: token, exec: exec, catalog: catalog, logger: slog.Default(), callLimit: DefaultCallLimit}
	for _, opt := range opts {
		opt(s)
	}

	protected := http.NewServeMux()
	protected.Handle("/ws", &wsHandler{exec: exec, catalog: catalog, logger: s.logger, limit: s.callLimit})
	protected.HandleFunc("/tools", s.handleTools)
	if s.mcp != nil {
		protected.Handle("/mcp", s.mcp)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	mux.Handle("/", BearerAuth(token)(protected))

	s.server = &http.Server{
		Handler:           AccessLog(s.logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.health != nil {
		body["session"] = s.health()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.catalog.Definitions()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Addr returns the bound address (e.g. "127.0.0.1:8090") after Run has started. Empty before Run.
func (s *Server) Addr() string {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.boundAddr
}

// ListenErr returns the error from the initial Listen in Run(), if any.
func (s *Server) ListenErr() error {
	s.listenErrMu.Lock()
	defer s.listenErrMu.Unlock()
	return s.listenErr
}

// Handler returns the full HTTP handler. For testing without binding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// netListen is the function used to listen; tests may replace it to force Listen errors.
var netListen = func(network, address string) (net.Listener, error) {
	return net.Listen(network, address)
}

// serverShutdown is the function used to shut down the server; tests may replace it.
var serverShutdown = func(srv *http.Server, ctx context.Context) error {
	return srv.Shutdown(ctx)
}

// Run listens and serves until ctx is canceled. Returns nil after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := netListen("tcp", s.addr)
	if err != nil {
		s.listenErrMu.Lock()
		s.listenErr = err
		s.listenErrMu.Unlock()
		return err
	}
	s.addrMu.Lock()
	s.boundAddr = ln.Addr().String()
	s.addrMu.Unlock()
	s.logger.Info("gateway listening", "addr", s.boundAddr)

	// Hijacked WebSocket connections are not closed by Shutdown; deriving
	// request contexts from ctx ends them.
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	done := make(chan error, 1)
	go func() {
		done <- s.server.Serve(ln)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := serverShutdown(s.server, shutdownCtx); err != nil {
		return err
	}
	if err := <-done; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
