//go:build !v8

// Package quickjs is the default engine backend, built on the pure-Go
// QuickJS port.
package quickjs

import (
	"fmt"
	"reflect"

	"modernc.org/quickjs"

	"github.com/cryguy/hyperjs/internal/core"
)

type runtime struct {
	vm   *quickjs.VM
	jobs *jobPump
}

var _ core.JSRuntime = (*runtime)(nil)

// New creates a VM. Call it on the goroutine that will own the VM for its
// whole life.
func New(cfg core.EngineConfig) (core.JSRuntime, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	if cfg.MemoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(cfg.MemoryLimitMB) << 20)
	}
	jobs, err := newJobPump(vm)
	if err != nil {
		vm.Close()
		return nil, fmt.Errorf("locating QuickJS job queue: %w", err)
	}
	return &runtime{vm: vm, jobs: jobs}, nil
}

func (r *runtime) Eval(js string) error {
	v, err := r.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

// value evaluates js and converts the result to a Go value.
func (r *runtime) value(js string) (any, error) {
	return r.vm.Eval(js, quickjs.EvalGlobal)
}

func (r *runtime) EvalString(js string) (string, error) {
	v, err := r.value(js)
	if err != nil || v == nil {
		return "", err
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

func (r *runtime) EvalBool(js string) (bool, error) {
	v, err := r.value(js)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v)
	}
	return b, nil
}

// unwrapJS replaces a raw binding with a function that throws when the Go
// side returned a non-nil error. QuickJS hands back (T, error) results as
// a two-element array.
const unwrapJS = `(function(raw, name) {
	var fn = globalThis[raw];
	delete globalThis[raw];
	globalThis[name] = function() {
		var out = fn.apply(this, arguments);
		if (!Array.isArray(out)) return out;
		if (out[1] !== null && out[1] !== undefined) throw new Error("calling " + name + ": " + out[1]);
		return out[0];
	};
})(%s, %s);`

// RegisterFunc exposes fn as a global. fn returns nothing, one value, or a
// value and an error; a non-nil error is thrown into the script.
func (r *runtime) RegisterFunc(name string, fn any) error {
	ft := reflect.TypeOf(fn)
	if ft == nil || ft.Kind() != reflect.Func {
		return fmt.Errorf("RegisterFunc %s: expected a function, got %T", name, fn)
	}
	if ft.NumOut() > 2 || (ft.NumOut() == 2 && !ft.Out(1).Implements(reflect.TypeFor[error]())) {
		return fmt.Errorf("RegisterFunc %s: results must be (), (T) or (T, error)", name)
	}
	if ft.NumOut() < 2 {
		return r.vm.RegisterFunc(name, fn, false)
	}
	raw := "__raw_" + name
	if err := r.vm.RegisterFunc(raw, fn, false); err != nil {
		return err
	}
	return r.Eval(fmt.Sprintf(unwrapJS, core.JSString(raw), core.JSString(name)))
}

// SetGlobal assigns scalars directly and anything else through JSON.
func (r *runtime) SetGlobal(name string, value any) error {
	switch value.(type) {
	case nil, string, bool, int, int64, float64:
		atom, err := r.vm.NewAtom(name)
		if err != nil {
			return fmt.Errorf("creating atom %q: %w", name, err)
		}
		global := r.vm.GlobalObject()
		defer global.Free()
		return global.SetProperty(atom, value)
	}
	lit, err := core.JSONLiteral(value)
	if err != nil {
		return fmt.Errorf("converting value for %q: %w", name, err)
	}
	return r.Eval("globalThis[" + core.JSString(name) + "] = " + lit + ";")
}

func (r *runtime) RunMicrotasks() {
	r.jobs.run()
}

func (r *runtime) Close() {
	r.vm.Close()
}
