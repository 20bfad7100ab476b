// Package worker confines a JavaScript engine to one OS thread and feeds it
// commands from an unbounded FIFO queue. Manager is the thread-safe front
// door the rest of the process uses.
package worker

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cryguy/hyperjs/internal/core"
	"github.com/cryguy/hyperjs/internal/engine"
	"github.com/cryguy/hyperjs/internal/eventloop"
	"github.com/cryguy/hyperjs/internal/hostops"
)

// Observer is told about queue depth and handler runs. Calls happen on the
// worker goroutine and must not block.
type Observer interface {
	QueueDepth(n int)
	HandlerExecuted(handler string, took time.Duration, err error)
}

// Worker owns the engine. Only its goroutine touches the runtime, the event
// loop, or the host bindings.
type Worker struct {
	cfg     core.EngineConfig
	factory core.RuntimeFactory
	host    *hostops.Host
	log     *zap.Logger
	obs     Observer

	queue *queue
	done  chan struct{}

	startOnce sync.Once
	startErr  error

	// owned by the worker goroutine
	rt core.JSRuntime
	el *eventloop.EventLoop
}

// Option configures a Worker.
type Option func(*Worker)

// WithRuntimeFactory overrides the engine constructor.
func WithRuntimeFactory(f core.RuntimeFactory) Option {
	return func(w *Worker) { w.factory = f }
}

// WithHost sets the host operations installed into the engine.
func WithHost(h *hostops.Host) Option {
	return func(w *Worker) { w.host = h }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Worker) { w.log = l }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(w *Worker) { w.obs = o }
}

// New prepares a worker. Nothing runs until Start.
func New(cfg core.EngineConfig, opts ...Option) *Worker {
	w := &Worker{
		cfg:     cfg,
		factory: engine.New,
		queue:   newQueue(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.host == nil {
		w.host = hostops.New()
	}
	if w.log == nil {
		w.log = zap.NewNop()
	}
	return w
}

// Start launches the worker goroutine and waits until the engine is ready.
// Calling Start again returns the first result.
func (w *Worker) Start() error {
	w.startOnce.Do(func() {
		ready := make(chan error, 1)
		go w.run(ready)
		w.startErr = <-ready
	})
	return w.startErr
}

// Close stops accepting commands. Commands already queued still run, then
// the engine is released and Done is closed.
func (w *Worker) Close() {
	w.queue.close()
}

// Done is closed once the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Manager returns a handle for submitting commands.
func (w *Worker) Manager() Manager {
	return Manager{w: w}
}

func (w *Worker) submit(cmd command) error {
	if !w.queue.push(cmd) {
		return core.ErrWorkerClosed
	}
	if w.obs != nil {
		w.obs.QueueDepth(w.queue.len())
	}
	return nil
}

func (w *Worker) run(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)

	if err := w.boot(); err != nil {
		w.log.Error("worker failed to start", zap.Error(err))
		w.queue.close()
		for {
			cmd, ok := w.queue.pop()
			if !ok {
				break
			}
			cmd.fail(core.ErrWorkerClosed)
		}
		ready <- err
		return
	}
	ready <- nil
	w.log.Info("worker started", zap.String("engine", engine.Name))

	for {
		cmd, ok := w.queue.pop()
		if !ok {
			break
		}
		if w.obs != nil {
			w.obs.QueueDepth(w.queue.len())
		}
		w.handle(cmd)
	}

	w.rt.Close()
	w.log.Info("worker stopped")
}

func (w *Worker) boot() error {
	rt, err := w.factory(w.cfg)
	if err != nil {
		return fmt.Errorf("creating runtime: %w", err)
	}
	el := eventloop.New()
	for _, setup := range w.host.Setups() {
		if err := setup(rt, el); err != nil {
			rt.Close()
			return fmt.Errorf("setup: %w", err)
		}
	}
	w.rt, w.el = rt, el
	return nil
}

// handle runs one command to completion. A panic is turned into an error
// reply and the worker carries on with the next command.
func (w *Worker) handle(cmd command) {
	defer w.reset()
	defer func() {
		if p := recover(); p != nil {
			w.log.Error("worker panic", zap.Any("panic", p))
			cmd.fail(fmt.Errorf("worker panic: %v", p))
		}
	}()

	switch c := cmd.(type) {
	case *loadCommand:
		err := w.load(c.name, c.code)
		if err != nil {
			w.log.Warn("handler load failed", zap.String("handler", c.name), zap.Error(err))
		} else {
			w.log.Debug("handler loaded", zap.String("handler", c.name))
		}
		c.answer(err)
	case *executeCommand:
		start := time.Now()
		res, err := w.execute(c.req)
		if w.obs != nil {
			w.obs.HandlerExecuted(c.req.Handler, time.Since(start), err)
		}
		if err != nil && !errors.Is(err, core.ErrNoResult) {
			w.log.Debug("handler failed", zap.String("handler", c.req.Handler),
				zap.Uint32("request_id", c.req.RequestID), zap.Error(err))
		}
		c.answer(res, err)
	default:
		cmd.fail(fmt.Errorf("unknown command %T", cmd))
	}
}

// reset clears everything one command may have left behind.
func (w *Worker) reset() {
	w.host.Bind(nil)
	w.el.Reset()
	if err := w.rt.Eval(hostops.CleanupJS); err != nil {
		w.log.Warn("cleanup failed", zap.Error(err))
	}
}
