package worker

import (
	"context"
	"encoding/json"

	"github.com/cryguy/hyperjs/internal/core"
)

// Manager submits commands to a Worker and waits for the replies. It is a
// small value; copies share the same worker and are safe to use from any
// goroutine. Manager never retries.
type Manager struct {
	w *Worker
}

// LoadHandler defines or replaces the handler called name.
func (m Manager) LoadHandler(ctx context.Context, name, code string) error {
	cmd := newLoadCommand(name, code)
	if err := m.w.submit(cmd); err != nil {
		return err
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-m.w.done:
		select {
		case err := <-cmd.reply:
			return err
		default:
			return core.ErrReplyDropped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs the named handler and returns what it responded with.
func (m Manager) Execute(ctx context.Context, name string, params, query map[string]string, body json.RawMessage) (core.ExecutionResult, error) {
	return m.ExecuteRequest(ctx, core.Request{
		Handler: name,
		Params:  params,
		Query:   query,
		Body:    body,
	})
}

// ExecuteRequest is Execute with the full request, including the
// correlation ID the script sees as req.requestId.
func (m Manager) ExecuteRequest(ctx context.Context, req core.Request) (core.ExecutionResult, error) {
	cmd := newExecuteCommand(req)
	if err := m.w.submit(cmd); err != nil {
		return core.ExecutionResult{}, err
	}
	select {
	case r := <-cmd.reply:
		return r.result, r.err
	case <-m.w.done:
		// The worker may have answered just before exiting.
		select {
		case r := <-cmd.reply:
			return r.result, r.err
		default:
			return core.ExecutionResult{}, core.ErrReplyDropped
		}
	case <-ctx.Done():
		return core.ExecutionResult{}, ctx.Err()
	}
}
