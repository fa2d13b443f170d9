package chat

import (
	"context"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// Message is the provider-agnostic wire form of one conversation entry.
// Roles are "system", "user", "assistant", and "tool" (a tool result being
// fed back to the model).
type Message struct {
	Role    string
	Content string
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// StreamCallback receives incremental output from a provider stream: text
// chunks as they arrive, and any tool calls once the model has finished
// forming them. Either argument may be empty on a given invocation.
type StreamCallback func(chunk string, toolCalls []ToolCall) error

// Provider abstracts the LLM backend. This interface lives here rather than
// in the provider package so implementations can import chat without a cycle.
type Provider interface {
	// ChatWithTools streams one model response for the given messages and
	// tool definitions through the callback.
	ChatWithTools(ctx context.Context, messages []Message, tools []mcptypes.Tool, callback StreamCallback) error

	// Ping checks that the provider is reachable.
	Ping(ctx context.Context) error
}
