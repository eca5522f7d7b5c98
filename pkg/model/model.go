// Package model abstracts LLM backends behind a minimal completion
// interface so hook handlers can consult a model without caring which
// vendor serves the request.
package model

import "context"

// Message roles understood by the backends.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single conversation turn.
type Message struct {
	Role      string
	Content   string
	ToolCalls []ToolCall
}

// ToolCall is a model-initiated tool invocation. On a Role "tool"
// message, Result carries the corresponding tool output.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
	Result    string
}

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is a single completion request.
type Request struct {
	Model       string // overrides the backend default when set
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
	Tools       []ToolDefinition
	SessionID   string
}

// Usage reports token accounting for a completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Response is the result of a completion.
type Response struct {
	Message    Message
	Usage      Usage
	StopReason string
}

// Model issues completions against a concrete backend.
type Model interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
