// Package engine selects the JavaScript engine at build time. QuickJS is
// the default; building with -tags v8 swaps in V8.
package engine

import "github.com/cryguy/hyperjs/internal/core"

// New creates a runtime with the compiled-in engine. Call it on the
// goroutine that will own the runtime.
func New(cfg core.EngineConfig) (core.JSRuntime, error) {
	return newRuntime(cfg)
}

var _ core.RuntimeFactory = New
