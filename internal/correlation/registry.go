// Package correlation ties an inbound request to the eventual outcome of
// its handler. Each request gets an ID and a single-use reply slot; the slot
// is removed exactly once, by completion or by timeout.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cryguy/hyperjs/internal/core"
)

// ErrNoPending is returned by Complete when the ID has no live entry,
// usually because the request already timed out.
var ErrNoPending = errors.New("no pending request")

// ErrTimeout is returned by Wait when the handler did not finish in time.
var ErrTimeout = errors.New("handler timeout")

// Outcome is what a handler run produced.
type Outcome struct {
	Result core.ExecutionResult
	Err    error
}

// Registry holds pending requests. The zero value is not usable; call New.
type Registry struct {
	mu      sync.Mutex
	next    uint32
	pending map[uint32]chan Outcome
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{pending: make(map[uint32]chan Outcome)}
}

// NextID mints an ID. IDs wrap around after 2^32-1.
func (r *Registry) NextID() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextLocked()
}

func (r *Registry) nextLocked() uint32 {
	r.next++
	return r.next
}

// Register mints an ID and creates its reply slot. An ID that is still
// pending after the counter wrapped is skipped.
func (r *Registry) Register() (uint32, <-chan Outcome) {
	ch := make(chan Outcome, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextLocked()
	for {
		if _, live := r.pending[id]; !live {
			break
		}
		id = r.nextLocked()
	}
	r.pending[id] = ch
	return id, ch
}

// Complete removes the entry for id and delivers out to its waiter. It
// fails with ErrNoPending when the entry is gone.
func (r *Registry) Complete(id uint32, out Outcome) error {
	r.mu.Lock()
	ch, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w with id %d", ErrNoPending, id)
	}
	ch <- out
	return nil
}

// Cancel removes the entry for id without delivering anything. It reports
// whether an entry was removed.
func (r *Registry) Cancel(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; !ok {
		return false
	}
	delete(r.pending, id)
	return true
}

// Len reports the number of pending requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Wait blocks until the entry for id is completed, timeout elapses, or ctx
// is done. On timeout or cancellation the entry is removed, so a later
// Complete fails with ErrNoPending. A zero timeout waits indefinitely.
func (r *Registry) Wait(ctx context.Context, id uint32, ch <-chan Outcome, timeout time.Duration) (Outcome, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	var err error
	select {
	case out := <-ch:
		return out, nil
	case <-expired:
		err = ErrTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}

	if r.Cancel(id) {
		return Outcome{}, err
	}
	// Completed between the wakeup and Cancel; the outcome is in ch.
	return <-ch, nil
}
