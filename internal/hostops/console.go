package hostops

import (
	"github.com/cryguy/hyperjs/internal/core"
	"github.com/cryguy/hyperjs/internal/eventloop"
)

const consoleJS = `
(function() {
	function render(args) {
		var parts = [];
		for (var i = 0; i < args.length; i++) {
			var arg = args[i];
			if (typeof arg === 'string') {
				parts.push(arg);
			} else if (arg instanceof Error) {
				parts.push(arg.name + ': ' + arg.message);
			} else if (typeof arg === 'object' && arg !== null) {
				try { parts.push(JSON.stringify(arg)); } catch (e) { parts.push(String(arg)); }
			} else {
				parts.push(String(arg));
			}
		}
		return parts.join(' ');
	}
	var con = {};
	['log', 'info', 'warn', 'error', 'debug'].forEach(function(lvl) {
		con[lvl] = function() { __console(lvl, render(arguments)); };
	});
	con.trace = con.debug;
	globalThis.console = con;
})();
`

// setupConsole replaces globalThis.console with a version that feeds the
// host log sink.
func (h *Host) setupConsole(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__console", func(level, message string) {
		h.emit(level, message)
	}); err != nil {
		return err
	}
	return rt.Eval(consoleJS)
}
