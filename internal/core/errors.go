package core

import "errors"

var (
	// ErrLoad wraps failures to evaluate or register handler code.
	ErrLoad = errors.New("loading handler")

	// ErrNoResult is returned when a handler finished without producing a
	// response.
	ErrNoResult = errors.New("No result stored")

	// ErrHandlerNotFound is returned when Execute names a handler that was
	// never loaded or is not a function.
	ErrHandlerNotFound = errors.New("handler not found")

	// ErrExecutionDeadline is returned when the handler still had pending
	// work when the configured execution timeout expired.
	ErrExecutionDeadline = errors.New("execution deadline exceeded")

	// ErrWorkerClosed is returned when a command is submitted after the
	// worker stopped accepting work.
	ErrWorkerClosed = errors.New("worker closed")

	// ErrReplyDropped is returned when the worker went away without
	// answering a command.
	ErrReplyDropped = errors.New("worker dropped reply")
)
