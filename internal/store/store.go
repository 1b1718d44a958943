package store

import "context"

// Store is the conversation store contract the gateway consumes.
// Append is atomic per turn; cross-request consistency is the store's
// concern, not the gateway's.
type Store interface {
	CreateChat(ctx context.Context, title string) (*Conversation, error)
	GetChat(ctx context.Context, chatID string) (*Conversation, error)
	ListChats(ctx context.Context) ([]Conversation, error)
	UpdateTitle(ctx context.Context, chatID, title string) error
	DeleteChat(ctx context.Context, chatID string) error

	AppendTurn(ctx context.Context, turn *Turn) error
	ListTurns(ctx context.Context, chatID string, limit int) ([]Turn, error)
}
