package cache

import (
	"context"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/convsync/internal/entity"
	"github.com/mbeoliero/convsync/pkg/errcode"
)

type flagKey struct {
	id   string
	flag entity.Flag
}

// flagMutation tracks the toggles in flight for one conversation flag
type flagMutation struct {
	gen      uint64
	inflight int
	cancel   context.CancelFunc
	// confirmed is the last value the server acknowledged
	confirmed bool
}

type readMutation struct {
	inflight int
}

// ToggleFavorite flips the favourite flag
func (c *Cache) ToggleFavorite(ctx context.Context, conversationId string) error {
	return c.toggle(ctx, conversationId, entity.FlagFavorite, OpToggleFavorite)
}

// ToggleArchive flips the archived flag. Archived conversations stay in the
// cache and move to the Archived tab.
func (c *Cache) ToggleArchive(ctx context.Context, conversationId string) error {
	return c.toggle(ctx, conversationId, entity.FlagArchived, OpToggleArchive)
}

// toggle applies the flipped value locally, then asks the server.
//
// A newer toggle on the same flag cancels the older request and only the
// newest outcome is reported to the caller. Once every request for the flag
// settled, the flag shows the value from the last successful response, or
// the value before the first toggle when none succeeded.
func (c *Cache) toggle(ctx context.Context, conversationId string, flag entity.Flag, op string) error {
	key := flagKey{id: conversationId, flag: flag}

	var (
		m       *flagMutation
		gen     uint64
		desired bool
		reqCtx  context.Context
		cancel  context.CancelFunc
		found   bool
	)
	c.commit(func() bool {
		p, ok := c.items[conversationId]
		if !ok {
			return false
		}
		found = true

		m = c.flagMuts[key]
		if m == nil {
			m = &flagMutation{confirmed: p.Get(flag)}
			c.flagMuts[key] = m
		}
		if m.cancel != nil {
			m.cancel()
		}
		m.gen++
		m.inflight++
		gen = m.gen
		reqCtx, cancel = context.WithCancel(ctx)
		m.cancel = cancel

		desired = !p.Get(flag)
		p.Set(flag, desired)
		return true
	})
	if !found {
		return errcode.ErrConvNotFound
	}
	defer cancel()

	err := c.api.SetFlag(reqCtx, conversationId, flag, desired)

	latest := false
	c.commit(func() bool {
		m.inflight--
		latest = m.gen == gen
		if err == nil {
			m.confirmed = desired
		}
		if m.inflight > 0 {
			return false
		}

		if c.flagMuts[key] == m {
			delete(c.flagMuts, key)
		}
		p, ok := c.items[conversationId]
		if !ok {
			return false
		}
		p.Set(flag, m.confirmed)
		return true
	})

	if !latest {
		return nil
	}
	if err != nil {
		log.CtxWarn(ctx, "cache %s failed: conversation_id=%s, value=%v, err=%v", op, conversationId, desired, err)
		c.metrics.MutationFailure(op)
		mutErr := errcode.ErrMutationFailed.Wrap(err)
		c.notify(Notice{ConversationId: conversationId, Op: op, Err: mutErr})
		return mutErr
	}
	return nil
}

// MarkRead zeroes the unread counter right away and tells the server. On
// success a forced refetch of the base list is scheduled, since the server
// may aggregate unread counts differently. On failure the counter is restored.
func (c *Cache) MarkRead(ctx context.Context, conversationId string) error {
	var (
		prevUnread  int64
		prevReadSeq int64
		readSeq     int64
		found       bool
		r           *readMutation
	)
	c.commit(func() bool {
		p, ok := c.items[conversationId]
		if !ok {
			return false
		}
		found = true

		r = c.readMuts[conversationId]
		if r == nil {
			r = &readMutation{}
			c.readMuts[conversationId] = r
		}
		r.inflight++

		prevUnread = p.UnreadCount
		prevReadSeq = p.ReadSeq
		readSeq = p.MaxSeq
		p.UnreadCount = 0
		p.ReadSeq = p.MaxSeq
		return prevUnread != 0 || prevReadSeq != readSeq
	})
	if !found {
		return errcode.ErrConvNotFound
	}

	err := c.api.MarkRead(ctx, conversationId, readSeq)

	c.commit(func() bool {
		r.inflight--
		if r.inflight == 0 && c.readMuts[conversationId] == r {
			delete(c.readMuts, conversationId)
		}
		if err == nil {
			return false
		}

		p, ok := c.items[conversationId]
		if !ok {
			return false
		}
		// messages that arrived meanwhile stay counted
		p.UnreadCount += prevUnread
		if p.ReadSeq == readSeq {
			p.ReadSeq = prevReadSeq
		}
		return prevUnread != 0
	})

	if err != nil {
		log.CtxWarn(ctx, "cache mark read failed: conversation_id=%s, read_seq=%d, err=%v", conversationId, readSeq, err)
		c.metrics.MutationFailure(OpMarkRead)
		mutErr := errcode.ErrMutationFailed.Wrap(err)
		c.notify(Notice{ConversationId: conversationId, Op: OpMarkRead, Err: mutErr})
		return mutErr
	}

	c.ScheduleRefetch(ReasonMarkRead)
	return nil
}
