// Package agent defines the contract between the workflow engine and the
// external agent executors that do the actual work of a stage.
//
// The engine never talks to an LLM provider directly. Each stage names an
// agent type; the configured Executor resolves that type, runs the agent with
// the stage parameters and the accumulated run context, and reports the
// output plus token consumption so cost accounting can price the call.
package agent

import (
	"context"
)

// TokenUsage tracks token consumption for one executor invocation.
type TokenUsage struct {
	// InputTokens is the number of tokens in the input/prompt
	InputTokens int `json:"input_tokens"`

	// OutputTokens is the number of tokens in the generated output
	OutputTokens int `json:"output_tokens"`

	// Provider is the LLM provider that handled the call (e.g., "anthropic")
	Provider string `json:"provider,omitempty"`

	// Model is the specific model used (e.g., "claude-sonnet-4-20250514")
	Model string `json:"model,omitempty"`
}

// TotalTokens returns the sum of input and output tokens.
func (u TokenUsage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// Result is what an executor returns for a successfully executed stage.
type Result struct {
	// Output holds the stage's output values. The engine merges these into
	// the run context under stage.<name>.<key>.
	Output map[string]any

	// Usage reports token consumption. A zero Usage means the stage did not
	// make any billable calls and no cost is recorded.
	Usage TokenUsage
}

// Executor runs a single agent invocation on behalf of a workflow stage.
//
// Implementations must honor ctx cancellation and return promptly when the
// run is cancelled; the engine relies on this for cooperative cancellation.
type Executor interface {
	// Execute runs the agent identified by agentType with the given stage
	// parameters. runContext is a read-only view of the accumulated run
	// context (inputs plus prior stage outputs under stage.<name>.<key>).
	Execute(ctx context.Context, agentType string, params map[string]any, runContext map[string]any) (*Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, agentType string, params map[string]any, runContext map[string]any) (*Result, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, agentType string, params map[string]any, runContext map[string]any) (*Result, error) {
	return f(ctx, agentType, params, runContext)
}
