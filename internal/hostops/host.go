// Package hostops installs the host operations scripts can call: log,
// storeResult, sleep and dbQuery, plus console, timers and the Deno.core.ops
// aliases older handler sources use.
package hostops

import (
	"context"
	"math"

	"github.com/cryguy/hyperjs/internal/core"
	"github.com/cryguy/hyperjs/internal/dbquery"
	"github.com/cryguy/hyperjs/internal/eventloop"
)

// SetupFunc configures a runtime before any handler code runs.
type SetupFunc func(rt core.JSRuntime, el *eventloop.EventLoop) error

// Querier executes SQL for dbQuery. The returned string is always JSON.
type Querier interface {
	Query(ctx context.Context, query, paramsJSON string) string
}

// Host owns the Go side of the host operations for one worker. Bind and
// the registered callbacks run only on the worker goroutine.
type Host struct {
	ctx  context.Context
	db   Querier
	sink core.LogSink
	inv  *core.Invocation
}

// Option configures a Host.
type Option func(*Host)

// WithDB sets the database used by dbQuery.
func WithDB(db Querier) Option {
	return func(h *Host) { h.db = db }
}

// WithLogSink sets where log and console output goes.
func WithLogSink(sink core.LogSink) Option {
	return func(h *Host) { h.sink = sink }
}

// WithContext sets the context passed to database calls. Cancelling it
// aborts in-flight queries.
func WithContext(ctx context.Context) Option {
	return func(h *Host) { h.ctx = ctx }
}

// New creates a Host.
func New(opts ...Option) *Host {
	h := &Host{ctx: context.Background()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Setups returns the setup functions in install order.
func (h *Host) Setups() []SetupFunc {
	return []SetupFunc{
		SetupTimers,
		h.setupConsole,
		h.setupOps,
		SetupCompat,
	}
}

// Bind makes inv the target of storeResult and log. Pass nil to unbind.
func (h *Host) Bind(inv *core.Invocation) {
	h.inv = inv
}

func (h *Host) emit(level, message string) {
	entry := core.NewLogEntry("", 0, level, message)
	if h.inv != nil {
		entry = h.inv.Log(level, message)
	}
	if h.sink != nil {
		h.sink.ScriptLog(entry)
	}
}

func (h *Host) storeResult(status int, body string) {
	if h.inv == nil {
		return
	}
	if status < 0 || status > math.MaxUint16 {
		status = 0
	}
	h.inv.StoreResult(uint16(status), body)
}

func (h *Host) startQuery(el *eventloop.EventLoop, query, paramsJSON string) int {
	db, ctx := h.db, h.ctx
	return el.StartOp(func() eventloop.OpResult {
		if db == nil {
			return eventloop.OpResult{Value: dbquery.Unavailable()}
		}
		return eventloop.OpResult{Value: db.Query(ctx, query, paramsJSON)}
	})
}

const opsJS = `
(function() {
	globalThis.__opPromises = {};
	globalThis.__opResolve = function(id, value) {
		var p = globalThis.__opPromises[id];
		if (!p) return;
		delete globalThis.__opPromises[id];
		p.resolve(value);
	};
	globalThis.__opReject = function(id, message) {
		var p = globalThis.__opPromises[id];
		if (!p) return;
		delete globalThis.__opPromises[id];
		p.reject(new Error(message));
	};
	function pending(id) {
		return new Promise(function(resolve, reject) {
			globalThis.__opPromises[id] = { resolve: resolve, reject: reject };
		});
	}

	globalThis.log = function(message) {
		__hostLog(String(message));
	};
	globalThis.storeResult = function(status, body) {
		var code = Number(status);
		if (!isFinite(code)) code = -1;
		__hostStoreResult(Math.trunc(code), body === undefined || body === null ? '' : String(body));
	};
	globalThis.sleep = function(ms) {
		return new Promise(function(resolve) { setTimeout(resolve, ms); });
	};
	globalThis.dbQuery = function(sql, params) {
		var encoded = params === undefined ? '' : JSON.stringify(params);
		return pending(__hostDbQuery(String(sql), encoded === undefined ? '' : encoded));
	};
})();
`

func (h *Host) setupOps(rt core.JSRuntime, el *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__hostLog", func(message string) {
		h.emit("log", message)
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__hostStoreResult", h.storeResult); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__hostDbQuery", func(query, paramsJSON string) int {
		return h.startQuery(el, query, paramsJSON)
	}); err != nil {
		return err
	}
	return rt.Eval(opsJS)
}

const compatJS = `
(function() {
	var deno = globalThis.Deno = globalThis.Deno || {};
	deno.core = deno.core || {};
	deno.core.ops = {
		op_log: function(message) { return globalThis.log(message); },
		op_sleep: function(ms) { return globalThis.sleep(ms); },
		op_db_query: function(sql, params) { return globalThis.dbQuery(sql, params); },
		op_store_result: function(status, body) { return globalThis.storeResult(status, body); }
	};
})();
`

// SetupCompat exposes the host ops under Deno.core.ops so handler sources
// written against op_log, op_sleep and op_db_query load unchanged.
func SetupCompat(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	return rt.Eval(compatJS)
}

// CleanupJS drops per-request script state: promise tables, timer
// callbacks and the request and response objects.
const CleanupJS = `
(function() {
	var perRequest = ['__req', '__res', '__handlerName', '__execState'];
	for (var i = 0; i < perRequest.length; i++) {
		try { delete globalThis[perRequest[i]]; } catch (e) {}
	}
	globalThis.__opPromises = {};
	globalThis.__timerCallbacks = {};
})();
`
