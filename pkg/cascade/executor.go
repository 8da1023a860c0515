package cascade

import (
	"context"

	"github.com/zen-systems/cascadegate/pkg/schema"
)

// Executor runs an accepted tool call. It is only invoked when automatic
// execution is enabled in the tool policy.
type Executor interface {
	Execute(ctx context.Context, call schema.ToolCall) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, call schema.ToolCall) (string, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, call schema.ToolCall) (string, error) {
	return f(ctx, call)
}
