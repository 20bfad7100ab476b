package logging

import (
	"sync"

	"go.uber.org/zap"

	"github.com/cryguy/hyperjs/internal/core"
)

// TailBuffer is the per-subscriber backlog. A subscriber that falls further
// behind loses lines.
const TailBuffer = 256

// Tail records script log lines on a zap logger named "js" and copies them
// to every live subscriber.
type Tail struct {
	log *zap.Logger

	mu     sync.Mutex
	subs   map[chan core.LogEntry]struct{}
	closed bool
}

var _ core.LogSink = (*Tail)(nil)

// NewTail returns a hub that logs through log.
func NewTail(log *zap.Logger) *Tail {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tail{
		log:  log.Named("js"),
		subs: make(map[chan core.LogEntry]struct{}),
	}
}

// ScriptLog implements core.LogSink. It never blocks.
func (t *Tail) ScriptLog(e core.LogEntry) {
	fields := []zap.Field{zap.String("handler", e.Handler)}
	if e.RequestID != 0 {
		fields = append(fields, zap.Uint32("request_id", e.RequestID))
	}
	switch e.Level {
	case "error":
		t.log.Error(e.Message, fields...)
	case "warn":
		t.log.Warn(e.Message, fields...)
	case "debug":
		t.log.Debug(e.Message, fields...)
	default:
		t.log.Info(e.Message, fields...)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a new listener. The returned cancel func removes it
// and closes the channel; it is safe to call more than once.
func (t *Tail) Subscribe() (<-chan core.LogEntry, func()) {
	ch := make(chan core.LogEntry, TailBuffer)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	t.subs[ch] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if _, ok := t.subs[ch]; ok {
				delete(t.subs, ch)
				close(ch)
			}
		})
	}
}

// Subscribers reports how many listeners are attached.
func (t *Tail) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close disconnects every subscriber. Later lines are still logged.
func (t *Tail) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for ch := range t.subs {
		delete(t.subs, ch)
		close(ch)
	}
}
