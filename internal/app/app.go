// Package app wires hyperjs together with fx: configuration, logging, the
// database, the worker, the route table and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/cryguy/hyperjs/internal/config"
	"github.com/cryguy/hyperjs/internal/correlation"
	"github.com/cryguy/hyperjs/internal/dbquery"
	"github.com/cryguy/hyperjs/internal/hostops"
	"github.com/cryguy/hyperjs/internal/logging"
	"github.com/cryguy/hyperjs/internal/metrics"
	"github.com/cryguy/hyperjs/internal/routes"
	"github.com/cryguy/hyperjs/internal/server"
	"github.com/cryguy/hyperjs/internal/worker"
)

// Options selects the configuration file. An empty path uses defaults and
// the environment only.
type Options struct {
	ConfigPath string
}

// Module returns the complete application.
func Module(opts Options) fx.Option {
	return fx.Options(
		fx.Supply(opts),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(
			provideConfig,
			provideLogger,
			logging.NewTail,
			metrics.New,
			correlation.New,
			provideDB,
			provideHost,
			provideWorker,
			provideManager,
			provideSources,
			routes.Build,
			provideServer,
		),
		// Hooks start in this order: worker, handler loading, HTTP.
		fx.Invoke(registerLoad),
		fx.Invoke(registerServe),
	)
}

func provideConfig(opts Options) (config.Config, error) {
	return config.Load(opts.ConfigPath)
}

func provideLogger(lc fx.Lifecycle, cfg config.Config) (*zap.Logger, error) {
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	lc.Append(fx.StopHook(func() {
		_ = log.Sync()
	}))
	return log, nil
}

func provideDB(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*dbquery.Pool, error) {
	pool, err := dbquery.Open(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if err := pool.RunScripts(context.Background(), cfg.Database.InitScripts); err != nil {
		_ = pool.Close()
		return nil, err
	}
	lc.Append(fx.StopHook(pool.Close))
	return pool, nil
}

func provideHost(pool *dbquery.Pool, tail *logging.Tail) *hostops.Host {
	return hostops.New(hostops.WithDB(pool), hostops.WithLogSink(tail))
}

func provideWorker(lc fx.Lifecycle, cfg config.Config, host *hostops.Host, log *zap.Logger, m *metrics.Metrics) *worker.Worker {
	w := worker.New(cfg.Worker.Engine(),
		worker.WithHost(host),
		worker.WithLogger(log.Named("worker")),
		worker.WithObserver(m),
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return w.Start()
		},
		OnStop: func(ctx context.Context) error {
			w.Close()
			select {
			case <-w.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
	return w
}

func provideManager(w *worker.Worker) worker.Manager {
	return w.Manager()
}

func provideSources(cfg config.Config) ([]routes.HandlerSource, error) {
	return routes.Discover(cfg.Handlers.Dir)
}

type serverDeps struct {
	fx.In

	Config   config.Config
	Table    *routes.Table
	Manager  worker.Manager
	Registry *correlation.Registry
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Tail     *logging.Tail
}

func provideServer(d serverDeps) *server.Server {
	return server.New(d.Config.Server, d.Table, d.Manager,
		server.WithLogger(d.Logger),
		server.WithMetrics(d.Metrics),
		server.WithTail(d.Tail),
		server.WithRegistry(d.Registry),
	)
}

func registerLoad(lc fx.Lifecycle, mgr worker.Manager, sources []routes.HandlerSource, table *routes.Table, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := LoadHandlers(ctx, mgr, sources); err != nil {
				// Broken handlers answer 500; the rest keep serving.
				log.Error("some handlers failed to load", zap.Error(err))
			}
			for _, rt := range table.Routes() {
				log.Info("route", zap.String("method", rt.Method), zap.String("path", rt.Path), zap.String("handler", rt.Handler))
			}
			for _, name := range table.Unrouted() {
				log.Info("handler loaded without a route", zap.String("handler", name))
			}
			return nil
		},
	})
}

func registerServe(lc fx.Lifecycle, srv *server.Server, log *zap.Logger, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := srv.Listen()
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil {
					log.Error("server failed", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("server stopping")
			return srv.Shutdown(ctx)
		},
	})
}

// Loader defines handlers. worker.Manager implements it.
type Loader interface {
	LoadHandler(ctx context.Context, name, code string) error
}

// LoadHandlers loads every source in order. A failure does not stop the
// rest; all failures are returned together.
func LoadHandlers(ctx context.Context, l Loader, sources []routes.HandlerSource) error {
	var errs []error
	for _, src := range sources {
		if err := l.LoadHandler(ctx, src.Name, src.Code); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, fmt.Errorf("%s: %w", src.File, err))
		}
	}
	return errors.Join(errs...)
}
