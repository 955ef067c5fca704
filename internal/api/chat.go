package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// ListConversations returns a page of issue conversations.
func (c *Client) ListConversations(ctx context.Context, q ConversationQuery) (*Page[Conversation], error) {
	query := pageQuery(q.Page, q.Limit)
	if q.Filter != "" && q.Filter != FilterAll {
		query.Set("status", string(q.Filter))
	}
	if q.Search != "" {
		query.Set("search", q.Search)
	}

	var page Page[Conversation]
	if err := c.call(ctx, http.MethodGet, "/chat", "/chat", query, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Messages returns the full message history of a conversation.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}

	var msgs []Message
	path := "/chat/" + url.PathEscape(conversationID) + "/messages"
	if err := c.call(ctx, http.MethodGet, "/chat/{id}/messages", path, nil, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ConversationMeta returns header data for a conversation.
func (c *Client) ConversationMeta(ctx context.Context, conversationID string) (*ConversationMeta, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}

	var meta ConversationMeta
	path := "/chat/" + url.PathEscape(conversationID)
	if err := c.call(ctx, http.MethodGet, "/chat/{id}", path, nil, nil, &meta); err != nil {
		return nil, err
	}
	if meta.ConversationID == "" {
		meta.ConversationID = conversationID
	}
	return &meta, nil
}

// SetResolved sets the resolved flag of a conversation.
func (c *Client) SetResolved(ctx context.Context, conversationID string, resolved bool) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}

	body := struct {
		IsResolved bool `json:"isResolved"`
	}{resolved}
	path := "/chat/" + url.PathEscape(conversationID) + "/resolve"
	return c.call(ctx, http.MethodPatch, "/chat/{id}/resolve", path, nil, body, nil)
}

// UnresolvedCount returns the number of unresolved conversations.
func (c *Client) UnresolvedCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.call(ctx, http.MethodGet, "/chat/unresolved/count", "/chat/unresolved/count", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}
