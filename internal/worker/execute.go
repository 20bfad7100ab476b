package worker

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cryguy/hyperjs/internal/core"
)

// load binds code to globalThis[name]. The code must evaluate to a function.
func (w *Worker) load(name, code string) error {
	if name == "" {
		return fmt.Errorf("%w: empty handler name", core.ErrLoad)
	}
	ref := "globalThis[" + core.JSString(name) + "]"
	if err := w.rt.Eval(ref + " = " + code + "\n;"); err != nil {
		return fmt.Errorf("%w %q: %v", core.ErrLoad, name, err)
	}
	ok, err := w.rt.EvalBool("typeof " + ref + " === 'function'")
	if err != nil {
		return fmt.Errorf("%w %q: %v", core.ErrLoad, name, err)
	}
	if !ok {
		return fmt.Errorf("%w %q: source did not evaluate to a function", core.ErrLoad, name)
	}
	w.rt.RunMicrotasks()
	return nil
}

// executeJS invokes a handler with the request in globalThis.__req and a
// fresh response object. Once the handler settles, a response that was
// touched is stored; a rejection becomes a 500.
const executeJS = `
(function(name) {
	var res = {
		statusCode: %d,
		body: null,
		headers: {},
		_responded: false,
		status: function(code) {
			this.statusCode = code;
			this._responded = true;
			return this;
		},
		send: function(data) {
			this.body = typeof data === 'string' ? data : JSON.stringify(data);
			this._responded = true;
			return this;
		},
		json: function(data) {
			this.body = JSON.stringify(data);
			this._responded = true;
			return this;
		},
		setHeader: function(key, value) {
			this.headers[key] = String(value);
			return this;
		}
	};
	globalThis.__res = res;
	Promise.resolve()
		.then(function() { return globalThis[name](globalThis.__req, res); })
		.then(function() {
			if (res._responded) storeResult(res.statusCode, res.body || '');
		}, function(err) {
			var msg = (err && err.message !== undefined) ? err.message : String(err);
			storeResult(500, 'Internal Server Error: ' + msg);
		});
})(%s);
`

// flushResponseJS stores a response the handler already wrote but has not
// yet returned from.
const flushResponseJS = `(function(r) {
	if (!r || !r._responded) return false;
	storeResult(r.statusCode, r.body || '');
	return true;
})(globalThis.__res)`

// execute runs one handler invocation until it settles, or until the
// configured execution deadline when one is set.
func (w *Worker) execute(req core.Request) (core.ExecutionResult, error) {
	name := core.JSString(req.Handler)
	ok, err := w.rt.EvalBool("typeof globalThis[" + name + "] === 'function'")
	if err != nil || !ok {
		return core.ExecutionResult{}, fmt.Errorf("%w: %s", core.ErrHandlerNotFound, req.Handler)
	}

	inv := core.NewInvocation(req.Handler, req.RequestID)
	w.host.Bind(inv)

	if req.Params == nil {
		req.Params = map[string]string{}
	}
	if req.Query == nil {
		req.Query = map[string]string{}
	}
	if len(req.Body) == 0 {
		req.Body = []byte("null")
	}
	if err := w.rt.SetGlobal("__req", req); err != nil {
		return core.ExecutionResult{}, fmt.Errorf("installing request: %w", err)
	}

	if err := w.rt.Eval(fmt.Sprintf(executeJS, core.DefaultStatus, name)); err != nil {
		return core.ExecutionResult{}, fmt.Errorf("invoking %s: %w", req.Handler, err)
	}
	w.rt.RunMicrotasks()

	var deadline time.Time
	if w.cfg.ExecutionTimeout > 0 {
		deadline = inv.Started.Add(w.cfg.ExecutionTimeout)
	}
	drained := w.el.Drain(w.rt, deadline)
	if !drained {
		// Keep whatever the handler already sent before the deadline.
		if _, err := w.rt.EvalBool(flushResponseJS); err != nil {
			w.log.Debug("flushing response", zap.Error(err))
		}
	}

	res, stored := inv.Result()
	switch {
	case stored:
		return res, nil
	case !drained:
		return core.ExecutionResult{}, fmt.Errorf("%w after %v", core.ErrExecutionDeadline, w.cfg.ExecutionTimeout)
	}
	return core.ExecutionResult{}, core.ErrNoResult
}
