package eventloop

import (
	"fmt"
	"sync"
	"time"

	"github.com/cryguy/hyperjs/internal/core"
)

// OpResult is the outcome of an asynchronous host operation. Value is handed
// to JS verbatim as a string; Err rejects the promise instead.
type OpResult struct {
	Value string
	Err   error
}

// PendingOp represents host work running off the worker goroutine whose
// result must be delivered to JS on the worker goroutine.
type PendingOp struct {
	ID       int
	ResultCh <-chan OpResult
}

// timerEntry represents a pending setTimeout or setInterval callback.
// The actual callback is stored in globalThis.__timerCallbacks[id] on the
// JS side. Go only tracks scheduling metadata.
type timerEntry struct {
	deadline time.Time
	interval time.Duration // 0 for setTimeout, >0 for setInterval
	id       int
	cleared  bool
}

// EventLoop manages Go-backed timers and pending host operations for a
// single JS runtime. Timers give scripts real wall-clock delays without
// blocking the OS thread on anything but the next due event.
type EventLoop struct {
	mu      sync.Mutex
	timers  map[int]*timerEntry
	nextID  int
	nextOp  int
	pending []*PendingOp
	wake    chan struct{}
}

// New creates a new EventLoop.
func New() *EventLoop {
	return &EventLoop{
		timers: make(map[int]*timerEntry),
		wake:   make(chan struct{}, 1),
	}
}

// RegisterTimer creates a timer entry and returns its ID.
// The actual JS callback is stored in globalThis.__timerCallbacks[id].
func (el *EventLoop) RegisterTimer(delay time.Duration, isInterval bool) int {
	if delay < 0 {
		delay = 0
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	el.nextID++
	id := el.nextID
	entry := &timerEntry{
		deadline: time.Now().Add(delay),
		id:       id,
	}
	if isInterval {
		if delay < 10*time.Millisecond {
			delay = 10 * time.Millisecond // minimum interval
		}
		entry.interval = delay
	}
	el.timers[id] = entry
	return id
}

// ClearTimer cancels a timer by ID.
func (el *EventLoop) ClearTimer(id int) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if t, ok := el.timers[id]; ok {
		t.cleared = true
		delete(el.timers, id)
	}
}

// StartOp runs fn on its own goroutine and registers it as pending. The
// returned ID is the key JS uses in globalThis.__opPromises.
func (el *EventLoop) StartOp(fn func() OpResult) int {
	resultCh := make(chan OpResult, 1)

	el.mu.Lock()
	el.nextOp++
	id := el.nextOp
	el.pending = append(el.pending, &PendingOp{ID: id, ResultCh: resultCh})
	el.mu.Unlock()

	go func() {
		resultCh <- fn()
		select {
		case el.wake <- struct{}{}:
		default:
		}
	}()
	return id
}

// DrainPendingOps does non-blocking reads on all pending op channels.
// Each completed op is resolved or rejected through the JS globals and
// removed from the list. Returns true if any op was completed.
func (el *EventLoop) DrainPendingOps(rt core.JSRuntime) bool {
	el.mu.Lock()
	if len(el.pending) == 0 {
		el.mu.Unlock()
		return false
	}
	pending := el.pending
	el.pending = nil
	el.mu.Unlock()

	var remaining []*PendingOp
	didWork := false
	for _, op := range pending {
		select {
		case result := <-op.ResultCh:
			var js string
			if result.Err != nil {
				js = fmt.Sprintf(`globalThis.__opReject(%d, %s)`, op.ID, core.JSString(result.Err.Error()))
			} else {
				js = fmt.Sprintf(`globalThis.__opResolve(%d, %s)`, op.ID, core.JSString(result.Value))
			}
			_ = rt.Eval(js)
			rt.RunMicrotasks()
			didWork = true
		default:
			remaining = append(remaining, op)
		}
	}

	el.mu.Lock()
	// Callbacks may have started new ops during resolution.
	el.pending = append(remaining, el.pending...)
	el.mu.Unlock()
	return didWork
}

// fireTimer fires a timer callback by invoking the JS-side callback map.
func (el *EventLoop) fireTimer(rt core.JSRuntime, id int) {
	js := fmt.Sprintf(`(function() {
		var entry = globalThis.__timerCallbacks[%d];
		if (!entry) return;
		if (!entry.interval) delete globalThis.__timerCallbacks[%d];
		entry.fn.apply(null, entry.args || []);
	})()`, id, id)
	_ = rt.Eval(js)
}

// nextTimer returns the earliest live timer, or nil.
func (el *EventLoop) nextTimer() *timerEntry {
	var next *timerEntry
	for _, t := range el.timers {
		if t.cleared {
			continue
		}
		if next == nil || t.deadline.Before(next.deadline) {
			next = t
		}
	}
	return next
}

// Drain fires due timers and resolves finished ops until nothing is pending
// or the deadline passes. A zero deadline means no limit. It reports whether
// the loop ran dry.
// Must be called on the runtime's goroutine (JS engines are single-threaded).
func (el *EventLoop) Drain(rt core.JSRuntime, deadline time.Time) bool {
	for {
		if el.DrainPendingOps(rt) {
			continue
		}

		el.mu.Lock()
		next := el.nextTimer()
		hasOps := len(el.pending) > 0
		el.mu.Unlock()

		if next == nil && !hasOps {
			return true
		}

		now := time.Now()
		if !deadline.IsZero() && !now.Before(deadline) {
			return false
		}

		// Sleep until the next timer is due, an op finishes, or the deadline.
		var wait time.Duration = -1
		if next != nil {
			wait = max(next.deadline.Sub(now), 0)
		}
		if !deadline.IsZero() {
			if d := deadline.Sub(now); wait < 0 || d < wait {
				wait = d
			}
		}
		if wait != 0 {
			el.sleep(wait)
		}

		if next == nil || time.Now().Before(next.deadline) {
			continue
		}

		el.mu.Lock()
		if next.cleared {
			el.mu.Unlock()
			continue
		}
		timerID := next.id
		if next.interval > 0 {
			next.deadline = time.Now().Add(next.interval)
		} else {
			delete(el.timers, next.id)
		}
		el.mu.Unlock()

		el.fireTimer(rt, timerID)
		rt.RunMicrotasks()
	}
}

// sleep blocks for d or until an op signals completion. A negative d waits
// only for an op.
func (el *EventLoop) sleep(d time.Duration) {
	if d < 0 {
		<-el.wake
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-el.wake:
	}
}

// Reset clears all timers and forgets pending ops. Called by the worker
// after every command so work abandoned by one handler never fires inside
// the next.
func (el *EventLoop) Reset() {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.timers = make(map[int]*timerEntry)
	el.pending = nil
	select {
	case <-el.wake:
	default:
	}
}
