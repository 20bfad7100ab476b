//go:build !v8

package quickjs

import (
	"errors"
	"reflect"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

// jobPump drives the QuickJS job queue. modernc.org/quickjs never calls
// JS_ExecutePendingJob, so without this promise reactions would never run.
type jobPump struct {
	cRuntime uintptr
	tls      *libc.TLS
}

// newJobPump pulls the unexported runtime handle and TLS out of vm.
//
// Layout relied on (modernc.org/quickjs@v0.17.1):
//
//	type VM struct {
//	    cContext uintptr
//	    ...
//	    runtime  *runtime
//	}
//
//	type runtime struct {
//	    cRuntime uintptr
//	    tls      *libc.TLS
//	}
func newJobPump(vm *quickjs.VM) (*jobPump, error) {
	vmVal := reflect.ValueOf(vm).Elem()

	rtField := vmVal.FieldByName("runtime")
	if !rtField.IsValid() || rtField.IsNil() {
		return nil, errors.New("quickjs.VM has no runtime field")
	}
	rtVal := reflect.NewAt(rtField.Type().Elem(), unsafe.Pointer(rtField.Pointer())).Elem()

	cRuntimeField := rtVal.FieldByName("cRuntime")
	if !cRuntimeField.IsValid() {
		return nil, errors.New("quickjs runtime has no cRuntime field")
	}
	tlsField := rtVal.FieldByName("tls")
	if !tlsField.IsValid() || tlsField.IsNil() {
		return nil, errors.New("quickjs runtime has no tls field")
	}

	return &jobPump{
		cRuntime: uintptr(cRuntimeField.Uint()),
		tls:      (*libc.TLS)(unsafe.Pointer(tlsField.Pointer())),
	}, nil
}

// run executes queued jobs until the queue is empty and returns how many
// ran. A job that throws still counts; its rejection is observed by the
// promise chain that owns it.
func (p *jobPump) run() int {
	count := 0
	for lib.XJS_ExecutePendingJob(p.tls, p.cRuntime, 0) != 0 {
		count++
	}
	return count
}
