package remote

import (
	"context"
	"errors"

	"github.com/mbeoliero/convsync/internal/cache"
	"github.com/mbeoliero/convsync/internal/entity"
	"github.com/mbeoliero/convsync/pkg/errcode"
	"github.com/mbeoliero/convsync/sdk"
)

// Conversations serves the conversation cache from the REST API
type Conversations struct {
	client *sdk.Client
}

// NewConversations creates a Conversations adapter
func NewConversations(client *sdk.Client) *Conversations {
	return &Conversations{client: client}
}

func (a *Conversations) ListConversations(ctx context.Context, page, pageSize int) (*cache.Page, error) {
	resp, err := a.client.ListConversations(ctx, page, pageSize)
	if err != nil {
		return nil, err
	}

	out := &cache.Page{
		Items:   make([]*entity.ConversationPreview, 0, len(resp.Conversations)),
		HasMore: resp.HasMore,
	}
	for _, info := range resp.Conversations {
		if p := PreviewFromInfo(info); p != nil {
			out.Items = append(out.Items, p)
		}
	}
	return out, nil
}

func (a *Conversations) SearchConversations(ctx context.Context, query string, limit int) ([]*entity.ConversationPreview, error) {
	infos, err := a.client.SearchConversations(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	out := make([]*entity.ConversationPreview, 0, len(infos))
	for _, info := range infos {
		if p := PreviewFromInfo(info); p != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (a *Conversations) SetFlag(ctx context.Context, conversationId string, flag entity.Flag, value bool) error {
	switch flag {
	case entity.FlagFavorite:
		return a.client.SetConversationFavorite(ctx, conversationId, value)
	case entity.FlagArchived:
		return a.client.SetConversationArchived(ctx, conversationId, value)
	default:
		return errcode.ErrInvalidParam
	}
}

func (a *Conversations) MarkRead(ctx context.Context, conversationId string, readSeq int64) error {
	return a.client.MarkRead(ctx, conversationId, readSeq)
}

// Messages pulls and sends messages over REST
type Messages struct {
	client *sdk.Client
	selfId string
}

// NewMessages creates a Messages adapter for the logged in user
func NewMessages(client *sdk.Client, selfId string) *Messages {
	return &Messages{client: client, selfId: selfId}
}

// PullMessages returns up to limit of the newest confirmed messages with a
// seq below beforeSeq. A zero beforeSeq pulls the latest page.
func (a *Messages) PullMessages(ctx context.Context, conversationId string, beforeSeq int64, limit int) ([]*entity.Message, error) {
	var endSeq int64
	if beforeSeq > 0 {
		endSeq = beforeSeq - 1
	}
	resp, err := a.client.PullMessages(ctx, conversationId, 0, endSeq, limit)
	if err != nil {
		return nil, errcode.ErrPullFailed.Wrap(deliveryError(err))
	}

	out := make([]*entity.Message, 0, len(resp.Messages))
	for _, info := range resp.Messages {
		if m := MessageFromInfo(info); m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// Send posts a speculative entry and returns the confirmed message
func (a *Messages) Send(ctx context.Context, msg *entity.Message) (*entity.Message, error) {
	info, err := a.client.SendMessage(ctx, SendRequestOf(msg, a.selfId))
	if err != nil {
		return nil, errcode.ErrSendFailed.Wrap(deliveryError(err))
	}
	return MessageFromInfo(info), nil
}

// deliveryError classifies a failure that left no server answer the same
// way the channel does, so callers treat the outcome as unknown
func deliveryError(err error) error {
	switch {
	case sdk.IsTimeout(err):
		return errcode.ErrRequestTimeout.Wrap(err)
	case errors.Is(err, sdk.ErrTransport):
		return errcode.ErrConnClosed.Wrap(err)
	default:
		return err
	}
}
