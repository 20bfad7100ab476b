package core

// JSRuntime is one script engine instance. The worker, the event loop and
// the host ops only talk to the engine through it.
//
// Not safe for concurrent use: every call must come from the goroutine that
// created the runtime.
type JSRuntime interface {
	Eval(js string) error
	EvalString(js string) (string, error)
	EvalBool(js string) (bool, error)

	// RegisterFunc binds a Go func to a global name. Scalar arguments and
	// results convert automatically; a func returning (T, error) throws
	// into the script when the error is set.
	RegisterFunc(name string, fn any) error

	// SetGlobal assigns a global. Non-scalar values go through JSON.
	SetGlobal(name string, value any) error

	// RunMicrotasks runs queued promise reactions until none remain.
	RunMicrotasks()

	Close()
}

// RuntimeFactory builds an engine. The worker calls it from its locked OS
// thread.
type RuntimeFactory func(cfg EngineConfig) (JSRuntime, error)
