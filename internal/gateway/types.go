// Package gateway orchestrates one assistant generation: prompt assembly,
// the streaming model call, tool execution rounds and persistence of the
// finished turn.
package gateway

import (
	"context"
	"encoding/json"

	"voltiq/internal/provider"
)

// Block is one content block of a model message. Exactly one of the
// Text / ToolUse / ToolResult shapes is populated, per Type.
type Block struct {
	Type string // "text", "tool_use" or "tool_result"

	Text string

	ToolID    string
	ToolName  string
	ToolInput json.RawMessage

	ToolResult string
	IsError    bool
}

// Message is one conversational message sent to or received from the model.
type Message struct {
	Role   string
	Blocks []Block
}

// StreamEvent is one event of a model generation stream. At most one
// field is set.
type StreamEvent struct {
	// TextDelta is a fragment of assistant text, in order.
	TextDelta string

	// Done carries the accumulated final message once the stream ends.
	Done *Turn

	// Err terminates the stream.
	Err error
}

// Turn is the accumulated outcome of one streaming model call.
type Turn struct {
	// Text is the concatenation of all text blocks.
	Text string

	// ToolUses holds the tool_use blocks the model emitted, in order.
	ToolUses []Block

	// StopReason is the model's stop reason, e.g. "end_turn" or "tool_use".
	StopReason string
}

// ModelClient streams one generation from the language model. The returned
// channel is closed after a Done or Err event.
type ModelClient interface {
	Stream(ctx context.Context, req *ModelRequest) (<-chan StreamEvent, error)
}

// ModelRequest is the full input of one model call.
type ModelRequest struct {
	System   string
	Messages []Message
	Tools    []provider.ToolSchema
}

// ToolProvider is a running tool process scoped to a single request.
type ToolProvider interface {
	Tools(ctx context.Context) ([]provider.ToolSchema, error)
	Invoke(ctx context.Context, name string, args map[string]any) (*provider.ToolResult, error)
	Close() error
}

// ProviderFactory starts a fresh tool provider. The orchestrator calls it
// once per attempt and closes the provider when the attempt ends.
type ProviderFactory func(ctx context.Context) (ToolProvider, error)
