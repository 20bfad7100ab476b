//go:build v8

package engine

import (
	"github.com/cryguy/hyperjs/internal/core"
	"github.com/cryguy/hyperjs/internal/v8engine"
)

// Name identifies the engine compiled into this binary.
const Name = "v8"

func newRuntime(cfg core.EngineConfig) (core.JSRuntime, error) {
	return v8engine.New(cfg)
}
