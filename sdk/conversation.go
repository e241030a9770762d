package sdk

import (
	"context"
	"net/url"
	"strconv"
)

// ListConversations gets one page (1-based) of the current user's conversations,
// most recently updated first
func (c *Client) ListConversations(ctx context.Context, page, pageSize int) (*ConversationPageResponse, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	params := url.Values{}
	params.Set("page", strconv.Itoa(max(page, 1)))
	params.Set("page_size", strconv.Itoa(pageSize))

	var result ConversationPageResponse
	if err := c.get(ctx, "/conversation/list", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SearchConversations runs a server-side search over conversations
func (c *Client) SearchConversations(ctx context.Context, query string, limit int) ([]*ConversationInfo, error) {
	params := url.Values{}
	params.Set("q", query)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var result []*ConversationInfo
	if err := c.get(ctx, "/conversation/search", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateConversation updates conversation flags
func (c *Client) UpdateConversation(ctx context.Context, conversationId string, req *UpdateConversationRequest) error {
	params := url.Values{}
	params.Set("conversation_id", conversationId)
	return c.put(ctx, "/conversation/update", params, req, nil)
}

// SetConversationFavorite sets the favourite flag of a conversation
func (c *Client) SetConversationFavorite(ctx context.Context, conversationId string, isFavorite bool) error {
	return c.UpdateConversation(ctx, conversationId, &UpdateConversationRequest{
		IsFavorite: &isFavorite,
	})
}

// SetConversationArchived sets the archived flag of a conversation
func (c *Client) SetConversationArchived(ctx context.Context, conversationId string, isArchived bool) error {
	return c.UpdateConversation(ctx, conversationId, &UpdateConversationRequest{
		IsArchived: &isArchived,
	})
}

// MarkRead marks a conversation as read up to a seq
func (c *Client) MarkRead(ctx context.Context, conversationId string, readSeq int64) error {
	req := &MarkReadRequest{
		ConversationId: conversationId,
		ReadSeq:        readSeq,
	}
	return c.post(ctx, "/conversation/mark_read", req, nil)
}
