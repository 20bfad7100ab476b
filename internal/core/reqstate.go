package core

import (
	"sync"
	"time"
)

// MaxLogMessageSize bounds a single script log line.
const MaxLogMessageSize = 4096

// Invocation holds the mutable state of the handler call the worker is
// currently running. The worker creates one per Execute and clears it
// afterwards, so nothing leaks from one request into the next.
type Invocation struct {
	Handler   string
	RequestID uint32
	Started   time.Time

	mu     sync.Mutex
	result *ExecutionResult
}

// NewInvocation starts tracking a call to handler for the given request.
func NewInvocation(handler string, requestID uint32) *Invocation {
	return &Invocation{
		Handler:   handler,
		RequestID: requestID,
		Started:   time.Now(),
	}
}

// StoreResult records the response. A second call replaces the first.
func (inv *Invocation) StoreResult(status uint16, body string) {
	inv.mu.Lock()
	inv.result = &ExecutionResult{StatusCode: status, Body: body}
	inv.mu.Unlock()
}

// Result returns the stored response, if any.
func (inv *Invocation) Result() (ExecutionResult, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.result == nil {
		return ExecutionResult{}, false
	}
	return *inv.result, true
}

// NewLogEntry builds a log line, truncating messages longer than
// MaxLogMessageSize.
func NewLogEntry(handler string, requestID uint32, level, message string) LogEntry {
	if len(message) > MaxLogMessageSize {
		message = message[:MaxLogMessageSize] + "...(truncated)"
	}
	return LogEntry{
		Handler:   handler,
		RequestID: requestID,
		Level:     level,
		Message:   message,
		Time:      time.Now(),
	}
}

// Log builds a log line tagged with this invocation.
func (inv *Invocation) Log(level, message string) LogEntry {
	return NewLogEntry(inv.Handler, inv.RequestID, level, message)
}
