//go:build v8

// Package v8engine is the V8 backend, built with -tags v8.
package v8engine

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	v8 "github.com/tommie/v8go"

	"github.com/cryguy/hyperjs/internal/core"
)

const origin = "hyperjs.js"

type runtime struct {
	iso *v8.Isolate
	ctx *v8.Context
}

var _ core.JSRuntime = (*runtime)(nil)

// New creates an isolate with one context. When a memory limit is set, half
// of it is the initial heap.
func New(cfg core.EngineConfig) (core.JSRuntime, error) {
	var iso *v8.Isolate
	if cfg.MemoryLimitMB > 0 {
		limit := uint64(cfg.MemoryLimitMB) << 20
		iso = v8.NewIsolate(v8.WithResourceConstraints(limit/2, limit))
	} else {
		iso = v8.NewIsolate()
	}
	return &runtime{iso: iso, ctx: v8.NewContext(iso)}, nil
}

func (r *runtime) run(js string) (*v8.Value, error) {
	val, err := r.ctx.RunScript(js, origin)
	if err != nil {
		var jsErr *v8.JSError
		if errors.As(err, &jsErr) && jsErr.Location != "" {
			return nil, fmt.Errorf("%s (at %s)", jsErr.Message, jsErr.Location)
		}
		return nil, err
	}
	return val, nil
}

func (r *runtime) Eval(js string) error {
	_, err := r.run(js)
	return err
}

func (r *runtime) EvalString(js string) (string, error) {
	val, err := r.run(js)
	if err != nil || val == nil {
		return "", err
	}
	return val.String(), nil
}

func (r *runtime) EvalBool(js string) (bool, error) {
	val, err := r.run(js)
	if err != nil || val == nil {
		return false, err
	}
	return val.Boolean(), nil
}

// RegisterFunc exposes fn as a global. Arguments may be string, int, int64,
// float64 or bool. fn returns nothing, one value, or a value and an error;
// a non-nil error is thrown into the script.
func (r *runtime) RegisterFunc(name string, fn any) error {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return fmt.Errorf("RegisterFunc %s: expected a function, got %T", name, fn)
	}
	for i := 0; i < ft.NumIn(); i++ {
		switch ft.In(i).Kind() {
		case reflect.String, reflect.Int, reflect.Int64, reflect.Float64, reflect.Bool:
		default:
			return fmt.Errorf("RegisterFunc %s: unsupported argument type %s", name, ft.In(i))
		}
	}
	if ft.NumOut() > 2 || (ft.NumOut() == 2 && !ft.Out(1).Implements(reflect.TypeFor[error]())) {
		return fmt.Errorf("RegisterFunc %s: results must be (), (T) or (T, error)", name)
	}

	tmpl := v8.NewFunctionTemplate(r.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		if len(args) < ft.NumIn() {
			return r.throw(fmt.Sprintf("%s requires %d argument(s), got %d", name, ft.NumIn(), len(args)))
		}
		in := make([]reflect.Value, ft.NumIn())
		for i := range in {
			in[i] = fromJS(args[i], ft.In(i))
		}
		out := fv.Call(in)
		if len(out) == 2 && !out[1].IsNil() {
			return r.throw(fmt.Sprintf("calling %s: %v", name, out[1].Interface()))
		}
		if len(out) == 0 {
			return nil
		}
		val, err := r.toJS(out[0].Interface())
		if err != nil {
			return r.throw(fmt.Sprintf("calling %s: %v", name, err))
		}
		return val
	})
	return r.ctx.Global().Set(name, tmpl.GetFunction(r.ctx))
}

func (r *runtime) throw(msg string) *v8.Value {
	val, _ := v8.NewValue(r.iso, msg)
	return r.iso.ThrowException(val)
}

func (r *runtime) SetGlobal(name string, value any) error {
	val, err := r.toJS(value)
	if err != nil {
		return fmt.Errorf("converting value for %q: %w", name, err)
	}
	return r.ctx.Global().Set(name, val)
}

func (r *runtime) RunMicrotasks() {
	r.ctx.PerformMicrotaskCheckpoint()
}

func (r *runtime) Close() {
	r.ctx.Close()
	r.iso.Dispose()
}

func fromJS(val *v8.Value, t reflect.Type) reflect.Value {
	var v any
	switch t.Kind() {
	case reflect.String:
		v = val.String()
	case reflect.Int:
		v = int(val.Integer())
	case reflect.Int64:
		v = val.Integer()
	case reflect.Float64:
		v = val.Number()
	case reflect.Bool:
		v = val.Boolean()
	default:
		return reflect.Zero(t)
	}
	return reflect.ValueOf(v).Convert(t)
}

// toJS converts scalars directly and anything else through JSON.
func (r *runtime) toJS(value any) (*v8.Value, error) {
	switch v := value.(type) {
	case nil:
		return v8.Undefined(r.iso), nil
	case string, bool, float64:
		return v8.NewValue(r.iso, v)
	case int:
		return r.number(int64(v))
	case int64:
		return r.number(v)
	case int32:
		return v8.NewValue(r.iso, v)
	case *v8.Value:
		return v, nil
	}
	lit, err := core.JSONLiteral(value)
	if err != nil {
		return nil, err
	}
	return r.run(lit)
}

func (r *runtime) number(n int64) (*v8.Value, error) {
	if n >= math.MinInt32 && n <= math.MaxInt32 {
		return v8.NewValue(r.iso, int32(n))
	}
	return v8.NewValue(r.iso, float64(n))
}
