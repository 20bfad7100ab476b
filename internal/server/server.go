// Package server is the HTTP front end. It maps each request to a handler
// through the route table, hands it to the worker under a correlation ID and
// waits for the outcome or the handler timeout.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/cryguy/hyperjs/internal/config"
	"github.com/cryguy/hyperjs/internal/core"
	"github.com/cryguy/hyperjs/internal/correlation"
	"github.com/cryguy/hyperjs/internal/logging"
	"github.com/cryguy/hyperjs/internal/metrics"
	"github.com/cryguy/hyperjs/internal/routes"
)

// TailPath is where the live log stream is mounted when enabled.
const TailPath = "/_tail"

// Executor runs one handler invocation. worker.Manager implements it.
type Executor interface {
	ExecuteRequest(ctx context.Context, req core.Request) (core.ExecutionResult, error)
}

// Server serves the routed handlers over HTTP.
type Server struct {
	cfg     config.Server
	table   *routes.Table
	exec    Executor
	reg     *correlation.Registry
	log     *zap.Logger
	metrics *metrics.Metrics
	tail    *logging.Tail
	limiter *rate.Limiter

	handler http.Handler
	srv     *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for access and error logs.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics enables the collectors and the /metrics endpoint.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTail sets the log hub streamed on /_tail. The endpoint is only
// mounted when tail_enabled is set.
func WithTail(t *logging.Tail) Option {
	return func(s *Server) { s.tail = t }
}

// WithRegistry shares a correlation registry.
func WithRegistry(r *correlation.Registry) Option {
	return func(s *Server) { s.reg = r }
}

// New builds the server and its router.
func New(cfg config.Server, table *routes.Table, exec Executor, opts ...Option) *Server {
	s := &Server{
		cfg:   cfg,
		table: table,
		exec:  exec,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.reg == nil {
		s.reg = correlation.New()
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}
	s.handler = s.routes()
	s.srv = &http.Server{
		Handler:     s.handler,
		ReadTimeout: cfg.ReadTimeout.Std(),
		IdleTimeout: cfg.IdleTimeout.Std(),
		ErrorLog:    zap.NewStdLog(s.log.Named("http")),
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.accessLog)
	if s.metrics != nil {
		r.Use(s.metrics.Collect)
		r.Method(http.MethodGet, metrics.Path, s.metrics.Handler())
	}
	if s.cfg.TailEnabled && s.tail != nil {
		r.Get(TailPath, s.serveTail)
	}

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.rateLimit)
		}
		if s.cfg.Compression {
			r.Use(compressBrotli)
		}
		for _, rt := range s.table.Routes() {
			r.Method(rt.Method, rt.Path, s.dispatch(rt.Handler))
		}
	})

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)
	return r
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNotFound)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Registry returns the correlation registry.
func (s *Server) Registry() *correlation.Registry { return s.reg }

// Listen opens the configured address, capped at max_connections.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return nil, err
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	return ln, nil
}

// Serve accepts connections on ln until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("server listening", zap.String("addr", ln.Addr().String()))
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.tail != nil {
		s.tail.Close()
	}
	return s.srv.Shutdown(ctx)
}
