package reports

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reportree/internal/common"
)

// Execution identifies the worker invocation a tree runs under
type Execution struct {
	Handle string        // Async handle of the queued unit
	Logger arbor.ILogger // Logger correlated with Handle
}

type executionKey struct{}

// WithExecution attaches the execution to ctx.
// When exec.Logger is nil the global logger correlated with the handle is used.
func WithExecution(ctx context.Context, exec Execution) context.Context {
	if exec.Logger == nil {
		exec.Logger = common.GetLogger().WithCorrelationId(exec.Handle)
	}
	return context.WithValue(ctx, executionKey{}, exec)
}

// ExecutionFromContext returns the attached execution, or one with no handle
// and the global logger when the tree runs outside a worker (tests, direct calls).
func ExecutionFromContext(ctx context.Context) Execution {
	if exec, ok := ctx.Value(executionKey{}).(Execution); ok {
		return exec
	}
	return Execution{Logger: common.GetLogger()}
}
