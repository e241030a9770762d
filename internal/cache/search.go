package cache

import (
	"context"
	"strings"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/convsync/internal/clock"
	"github.com/mbeoliero/convsync/pkg/errcode"
)

type searchState struct {
	active  bool
	pending bool
	query   string
	gen     uint64
	timer   clock.Timer
	results []string
}

func (s *searchState) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Search enters search mode and schedules a remote search for query after
// the debounce delay. Each call restarts the delay; results of a superseded
// query are dropped. An empty query leaves search mode.
func (c *Cache) Search(query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		c.ClearSearch()
		return
	}

	c.commit(func() bool {
		c.search.stopTimer()
		c.search.gen++
		gen := c.search.gen
		changed := !c.search.active || c.search.query != query || !c.search.pending
		c.search.active = true
		c.search.pending = true
		c.search.query = query
		c.search.timer = c.clk.AfterFunc(c.cfg.SearchDebounce, func() {
			c.startBackground(func(ctx context.Context) {
				c.runSearch(ctx, gen, query)
			})
		})
		return changed
	})
}

// ClearSearch leaves search mode and restores the base list. The selection
// is kept as it was before searching.
func (c *Cache) ClearSearch() {
	c.commit(func() bool {
		c.search.stopTimer()
		if !c.search.active {
			return false
		}
		c.search = searchState{gen: c.search.gen + 1}
		return true
	})
}

func (c *Cache) runSearch(ctx context.Context, gen uint64, query string) {
	c.mu.Lock()
	current := c.search.active && c.search.gen == gen
	c.mu.Unlock()
	if !current {
		return
	}

	results, err := c.api.SearchConversations(ctx, query, c.cfg.SearchLimit)

	stale := false
	c.commit(func() bool {
		if !c.search.active || c.search.gen != gen {
			stale = true
			return false
		}
		c.search.pending = false
		c.search.timer = nil
		if err != nil {
			return true
		}

		c.mergeLocked(results, false)
		ids := make([]string, 0, len(results))
		seen := make(map[string]struct{}, len(results))
		for _, p := range results {
			if p == nil {
				continue
			}
			if _, dup := seen[p.ConversationId]; dup {
				continue
			}
			seen[p.ConversationId] = struct{}{}
			ids = append(ids, p.ConversationId)
		}
		c.search.results = ids
		return true
	})

	if stale {
		log.CtxDebug(ctx, "cache drop stale search result: query=%s", query)
		return
	}
	if err != nil && ctx.Err() == nil {
		log.CtxWarn(ctx, "cache search failed: query=%s, err=%v", query, err)
		c.notify(Notice{Op: OpSearch, Err: errcode.ErrSearchFailed.Wrap(err)})
	}
}
