package core

import (
	"encoding/json"
	"time"
)

// DefaultStatus is the status a handler response carries when the script
// never called res.status().
const DefaultStatus = 200

// ExecutionResult is what a handler invocation produced: the status code it
// chose and the response body text.
type ExecutionResult struct {
	StatusCode uint16
	Body       string
}

// Request is the data handed to a handler as its first argument.
type Request struct {
	Handler   string            `json:"-"`
	RequestID uint32            `json:"requestId"`
	Params    map[string]string `json:"params"`
	Query     map[string]string `json:"query"`
	Body      json.RawMessage   `json:"body"`
}

// LogEntry is a single log line emitted by a script through log() or console.
type LogEntry struct {
	Handler   string    `json:"handler,omitempty"`
	RequestID uint32    `json:"requestId,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Time      time.Time `json:"time"`
}

// LogSink receives script log lines. Implementations must be safe to call
// from the worker goroutine without blocking it for long.
type LogSink interface {
	ScriptLog(entry LogEntry)
}

// LogSinkFunc adapts a plain function to LogSink.
type LogSinkFunc func(entry LogEntry)

func (f LogSinkFunc) ScriptLog(entry LogEntry) { f(entry) }

// JSONLiteral renders v as a JavaScript expression. encoding/json escapes
// U+2028 and U+2029, so the output is safe to splice into script source.
func JSONLiteral(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return "(" + string(data) + ")", nil
}

// JSString quotes s as a JavaScript string literal. Invalid UTF-8 becomes
// U+FFFD.
func JSString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
