//go:build !v8

package engine

import (
	"github.com/cryguy/hyperjs/internal/core"
	"github.com/cryguy/hyperjs/internal/quickjs"
)

// Name identifies the engine compiled into this binary.
const Name = "quickjs"

func newRuntime(cfg core.EngineConfig) (core.JSRuntime, error) {
	return quickjs.New(cfg)
}
