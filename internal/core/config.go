package core

import "time"

// EngineConfig holds runtime configuration for the script worker.
type EngineConfig struct {
	MemoryLimitMB    int           // engine heap limit, 0 for the engine default
	ExecutionTimeout time.Duration // worker-side drain deadline per Execute, 0 for none
}
