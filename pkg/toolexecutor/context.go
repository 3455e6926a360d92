package toolexecutor

import "context"

type executionKey struct{}

// withExecution hands the call's ExecutionContext to the tool handler.
func withExecution(ctx context.Context, execCtx *ExecutionContext) context.Context {
	if execCtx == nil {
		return ctx
	}
	return context.WithValue(ctx, executionKey{}, execCtx)
}

// ExecutionFromContext returns the ExecutionContext of the running tool call,
// or nil outside a handler.
func ExecutionFromContext(ctx context.Context) *ExecutionContext {
	execCtx, _ := ctx.Value(executionKey{}).(*ExecutionContext)
	return execCtx
}
