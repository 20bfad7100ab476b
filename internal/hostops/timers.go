package hostops

import (
	"time"

	"github.com/cryguy/hyperjs/internal/core"
	"github.com/cryguy/hyperjs/internal/eventloop"
)

// timersJS installs setTimeout and friends on top of __timerRegister and
// __timerClear. Callbacks live in __timerCallbacks keyed by the Go timer ID.
const timersJS = `
(function() {
	globalThis.__timerCallbacks = {};
	function schedule(fn, delay, rest, repeat) {
		if (typeof fn !== 'function') return 0;
		var ms = Number(delay);
		if (!(ms > 0)) ms = 0;
		var id = __timerRegister(Math.floor(ms), repeat);
		globalThis.__timerCallbacks[id] = { fn: fn, args: rest, interval: repeat };
		return id;
	}
	globalThis.setTimeout = function(fn, delay) {
		return schedule(fn, delay, Array.prototype.slice.call(arguments, 2), false);
	};
	globalThis.setInterval = function(fn, interval) {
		return schedule(fn, interval, Array.prototype.slice.call(arguments, 2), true);
	};
	globalThis.clearTimeout = globalThis.clearInterval = function(id) {
		if (typeof id !== 'number') return;
		__timerClear(id);
		delete globalThis.__timerCallbacks[id];
	};
	if (typeof globalThis.queueMicrotask !== 'function') {
		globalThis.queueMicrotask = function(fn) {
			Promise.resolve().then(fn);
		};
	}
})();
`

// SetupTimers registers Go-backed setTimeout/setInterval/clearTimeout/clearInterval.
func SetupTimers(rt core.JSRuntime, el *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__timerRegister", func(delayMs int, isInterval bool) int {
		return el.RegisterTimer(time.Duration(delayMs)*time.Millisecond, isInterval)
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__timerClear", func(id int) {
		el.ClearTimer(id)
	}); err != nil {
		return err
	}
	return rt.Eval(timersJS)
}
