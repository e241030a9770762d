package cache

import (
	"context"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/convsync/internal/entity"
	"github.com/mbeoliero/convsync/pkg/errcode"
)

// Refetch reasons
const (
	ReasonMarkRead            = "mark_read"
	ReasonUnknownConversation = "unknown_conversation"
	ReasonReconnect           = "reconnect"
	ReasonManual              = "manual"
)

// Restore seeds an empty cache from the snapshot store
func (c *Cache) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	previews, err := c.store.Load(ctx, c.ownerId)
	if err != nil {
		log.CtxWarn(ctx, "cache restore snapshot failed: owner_id=%s, err=%v", c.ownerId, err)
		return err
	}

	c.commit(func() bool {
		if len(c.items) > 0 || len(previews) == 0 {
			return false
		}
		c.mergeLocked(previews, true)
		return true
	})
	log.CtxDebug(ctx, "cache restored snapshot: owner_id=%s, count=%d", c.ownerId, len(previews))
	return nil
}

// LoadFirstPage fetches page 1 if nothing was loaded yet
func (c *Cache) LoadFirstPage(ctx context.Context) error {
	c.pageMu.Lock()
	defer c.pageMu.Unlock()

	c.mu.Lock()
	loaded := c.pagesLoaded
	c.mu.Unlock()
	if loaded > 0 {
		return nil
	}
	return c.loadPageLocked(ctx, 1)
}

// LoadNextPage fetches the page after the last loaded one. It is a no-op
// once the server reported the last page.
func (c *Cache) LoadNextPage(ctx context.Context) error {
	c.pageMu.Lock()
	defer c.pageMu.Unlock()

	c.mu.Lock()
	next := c.pagesLoaded + 1
	hasMore := c.hasMore
	c.mu.Unlock()
	if !hasMore {
		return nil
	}
	return c.loadPageLocked(ctx, next)
}

func (c *Cache) loadPageLocked(ctx context.Context, page int) error {
	res, err := c.api.ListConversations(ctx, page, c.cfg.PageSize)
	if err != nil {
		log.CtxWarn(ctx, "cache load page failed: page=%d, err=%v", page, err)
		return errcode.ErrRefetchFailed.Wrap(err)
	}

	c.commit(func() bool {
		c.mergeLocked(res.Items, true)
		if page > c.pagesLoaded {
			c.pagesLoaded = page
		}
		c.hasMore = res.HasMore
		return true
	})
	c.saveSnapshot(ctx)
	return nil
}

// Refresh refetches every loaded page. It is the forced, non-debounced
// refetch used after read marks and reconnects.
func (c *Cache) Refresh(ctx context.Context) error {
	c.pageMu.Lock()
	defer c.pageMu.Unlock()

	c.mu.Lock()
	pages := max(c.pagesLoaded, 1)
	c.mu.Unlock()

	var (
		fetched []*entity.ConversationPreview
		hasMore bool
	)
	for page := 1; page <= pages; page++ {
		res, err := c.api.ListConversations(ctx, page, c.cfg.PageSize)
		if err != nil {
			log.CtxWarn(ctx, "cache refresh failed: page=%d, err=%v", page, err)
			return errcode.ErrRefetchFailed.Wrap(err)
		}
		fetched = append(fetched, res.Items...)
		hasMore = res.HasMore
		if !res.HasMore {
			break
		}
	}

	c.commit(func() bool {
		c.mergeLocked(fetched, true)
		if c.pagesLoaded < 1 {
			c.pagesLoaded = 1
		}
		c.hasMore = hasMore
		return true
	})
	c.saveSnapshot(ctx)
	return nil
}

// ScheduleRefetch runs Refresh in the background right away. Requests made
// while a refetch is running coalesce into one more run.
func (c *Cache) ScheduleRefetch(reason string) {
	c.mu.Lock()
	if c.refetching {
		c.refetchNext = true
		c.mu.Unlock()
		return
	}
	c.refetching = true
	c.mu.Unlock()

	c.metrics.Refetch(reason)
	started := c.startBackground(func(ctx context.Context) {
		for {
			if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				c.notify(Notice{Op: OpRefetch, Err: err})
			}

			c.mu.Lock()
			again := c.refetchNext && ctx.Err() == nil
			c.refetchNext = false
			if !again {
				c.refetching = false
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		}
	})
	if !started {
		c.mu.Lock()
		c.refetching = false
		c.mu.Unlock()
	}
}

// ApplyMessage folds a confirmed message into its conversation row. Messages
// from others raise the unread counter once per sequence number. A message
// for a conversation not in the cache triggers a refetch.
func (c *Cache) ApplyMessage(msg *entity.Message, selfId string) {
	if msg == nil || msg.ConversationId == "" {
		return
	}

	unknown := false
	c.commit(func() bool {
		p, ok := c.items[msg.ConversationId]
		if !ok {
			unknown = true
			return false
		}

		fresh := msg.Seq > p.MaxSeq
		if msg.Seq == 0 {
			// without a seq only the id tells a redelivery apart
			fresh = p.LatestMessage == nil || p.LatestMessage.MessageId != msg.Key()
		}
		if !fresh {
			return false
		}
		if msg.Seq > p.MaxSeq {
			p.MaxSeq = msg.Seq
		}
		p.LatestMessage = msg.Snapshot()
		if msg.CreatedAt > p.UpdatedAt {
			p.UpdatedAt = msg.CreatedAt
		}
		if msg.SenderId == selfId {
			p.ReadSeq = p.MaxSeq
		} else {
			p.UnreadCount++
		}
		c.base[p.ConversationId] = struct{}{}
		return true
	})

	if unknown {
		c.ScheduleRefetch(ReasonUnknownConversation)
	}
}

// mergeLocked upserts server previews. Flags and counters with an optimistic
// mutation in flight keep their local value.
func (c *Cache) mergeLocked(previews []*entity.ConversationPreview, intoBase bool) {
	for _, in := range previews {
		if in == nil || in.ConversationId == "" {
			continue
		}
		id := in.ConversationId
		next := in.Clone()

		if cur, ok := c.items[id]; ok {
			for _, flag := range []entity.Flag{entity.FlagFavorite, entity.FlagArchived} {
				if m, busy := c.flagMuts[flagKey{id: id, flag: flag}]; busy {
					next.Set(flag, cur.Get(flag))
					m.confirmed = in.Get(flag)
				}
			}
			if _, busy := c.readMuts[id]; busy {
				next.UnreadCount = cur.UnreadCount
				next.ReadSeq = cur.ReadSeq
			}
			if next.LatestMessage == nil {
				next.LatestMessage = cur.LatestMessage
			}
		}

		c.items[id] = next
		if intoBase {
			c.base[id] = struct{}{}
		}
	}
}

func (c *Cache) saveSnapshot(ctx context.Context) {
	if c.store == nil {
		return
	}

	c.mu.Lock()
	previews := make([]*entity.ConversationPreview, 0, len(c.base))
	for id := range c.base {
		if p, ok := c.items[id]; ok {
			previews = append(previews, p.Clone())
		}
	}
	c.mu.Unlock()

	if err := c.store.Save(ctx, c.ownerId, previews); err != nil {
		log.CtxWarn(ctx, "cache save snapshot failed: owner_id=%s, err=%v", c.ownerId, err)
	}
}
