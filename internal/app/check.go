package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/cryguy/hyperjs/internal/config"
	"github.com/cryguy/hyperjs/internal/routes"
	"github.com/cryguy/hyperjs/internal/worker"
)

// CheckResult is the load outcome of one handler file.
type CheckResult struct {
	Source routes.HandlerSource
	Err    error
}

// Report is what Check found in the handlers directory.
type Report struct {
	Table   *routes.Table
	Results []CheckResult
}

// Failed counts handlers that did not load.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Check discovers the configured handlers and loads each one into a
// throwaway worker with no database attached.
func Check(ctx context.Context, cfg config.Config, log *zap.Logger) (Report, error) {
	sources, err := routes.Discover(cfg.Handlers.Dir)
	if err != nil {
		return Report{}, err
	}
	table, err := routes.Build(sources, log)
	if err != nil {
		return Report{}, err
	}

	w := worker.New(cfg.Worker.Engine(), worker.WithLogger(log))
	if err := w.Start(); err != nil {
		return Report{}, err
	}
	defer func() {
		w.Close()
		<-w.Done()
	}()

	mgr := w.Manager()
	rep := Report{Table: table}
	for _, src := range sources {
		err := mgr.LoadHandler(ctx, src.Name, src.Code)
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rep.Results = append(rep.Results, CheckResult{Source: src, Err: err})
	}
	return rep, nil
}
