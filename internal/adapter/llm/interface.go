// Package llm provides an abstraction over completion-service backends.
package llm

import "context"

// CompletionClient is the contract the planner and tool handlers depend on.
// Implementations must honor ctx cancellation.
type CompletionClient interface {
	// Complete sends a single-turn completion request and returns the
	// assistant text.
	Complete(ctx context.Context, system, prompt string) (string, error)
}
