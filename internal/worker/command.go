package worker

import "github.com/cryguy/hyperjs/internal/core"

// command is a unit of work for the worker goroutine. Each command carries
// its own reply channel, buffered so the worker never blocks on a caller
// that stopped waiting.
type command interface {
	// fail answers the command with err if it has not been answered yet.
	fail(err error)
}

type loadCommand struct {
	name  string
	code  string
	reply chan error
}

func newLoadCommand(name, code string) *loadCommand {
	return &loadCommand{name: name, code: code, reply: make(chan error, 1)}
}

func (c *loadCommand) answer(err error) {
	select {
	case c.reply <- err:
	default:
	}
}

func (c *loadCommand) fail(err error) { c.answer(err) }

type executeReply struct {
	result core.ExecutionResult
	err    error
}

type executeCommand struct {
	req   core.Request
	reply chan executeReply
}

func newExecuteCommand(req core.Request) *executeCommand {
	return &executeCommand{req: req, reply: make(chan executeReply, 1)}
}

func (c *executeCommand) answer(res core.ExecutionResult, err error) {
	select {
	case c.reply <- executeReply{result: res, err: err}:
	default:
	}
}

func (c *executeCommand) fail(err error) { c.answer(core.ExecutionResult{}, err) }
