package chat

import (
	"context"

	"github.com/fyrsmithlabs/opsdesk/internal/api"
)

// HistorySource fetches what a MessageStream shows on selection.
type HistorySource interface {
	Messages(ctx context.Context, conversationID string) ([]api.Message, error)
	ConversationMeta(ctx context.Context, conversationID string) (*api.ConversationMeta, error)
}

// Backend is the subset of the REST client the desk uses. *api.Client
// implements it.
type Backend interface {
	HistorySource
	ListConversations(ctx context.Context, q api.ConversationQuery) (*api.Page[api.Conversation], error)
	SetResolved(ctx context.Context, conversationID string, resolved bool) error
	UnresolvedCount(ctx context.Context) (int, error)
}

var _ Backend = (*api.Client)(nil)
