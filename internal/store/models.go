package store

import "time"

// Turn roles. The gateway only ever appends user and assistant turns; system
// instructions are assembled per request, not persisted.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Tool invocation states.
const (
	InvocationRequested = "requested"
	InvocationExecuting = "executing"
	InvocationCompleted = "completed"
	InvocationFailed    = "failed"
)

// Conversation is one chat session. The gateway only appends turns; the
// store owns the rows.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Turns     []Turn    `json:"turns,omitempty"`
}

// Turn is one message in a conversation. Immutable once persisted.
type Turn struct {
	ID              string           `json:"id"`
	ChatID          string           `json:"chat_id"`
	Role            string           `json:"role"`
	Content         string           `json:"content"`
	ToolInvocations []ToolInvocation `json:"tool_invocations,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// ToolInvocation records one resolved tool call carried by an assistant
// turn. Turns are only ever written with a fully resolved list or none.
type ToolInvocation struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	State  string         `json:"state"`
	Result string         `json:"result,omitempty"`
}
