package sdk

import (
	"context"
	"net/url"
	"strconv"
)

// SendMessage sends a message (single or group chat based on request)
func (c *Client) SendMessage(ctx context.Context, req *SendMessageRequest) (*MessageInfo, error) {
	var result MessageInfo
	if err := c.post(ctx, "/msg/send", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PullMessages pulls messages from a conversation. Zero bounds are omitted.
func (c *Client) PullMessages(ctx context.Context, conversationId string, beginSeq, endSeq int64, limit int) (*PullMessagesResponse, error) {
	params := url.Values{}
	params.Set("conversation_id", conversationId)
	if beginSeq > 0 {
		params.Set("begin_seq", strconv.FormatInt(beginSeq, 10))
	}
	if endSeq > 0 {
		params.Set("end_seq", strconv.FormatInt(endSeq, 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var result PullMessagesResponse
	if err := c.get(ctx, "/msg/pull", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
