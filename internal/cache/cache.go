package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbeoliero/convsync/internal/clock"
	"github.com/mbeoliero/convsync/internal/config"
	"github.com/mbeoliero/convsync/internal/entity"
	"github.com/mbeoliero/convsync/internal/event"
	"github.com/mbeoliero/convsync/internal/metrics"
)

// Page is one page of the conversation list
type Page struct {
	Items   []*entity.ConversationPreview
	HasMore bool
}

// ConversationAPI is the REST surface the cache reads from and mutates
type ConversationAPI interface {
	// ListConversations returns page (1-based) of the conversation list
	ListConversations(ctx context.Context, page, pageSize int) (*Page, error)
	SearchConversations(ctx context.Context, query string, limit int) ([]*entity.ConversationPreview, error)
	SetFlag(ctx context.Context, conversationId string, flag entity.Flag, value bool) error
	MarkRead(ctx context.Context, conversationId string, readSeq int64) error
}

// Snapshotter persists the base list between sessions
type Snapshotter interface {
	Load(ctx context.Context, ownerId string) ([]*entity.ConversationPreview, error)
	Save(ctx context.Context, ownerId string, previews []*entity.ConversationPreview) error
	Clear(ctx context.Context, ownerId string) error
}

// Tab selects a filtered view of the base list
type Tab int

const (
	TabAll Tab = iota
	TabUnread
	TabFavorites
	TabArchived
)

func (t Tab) String() string {
	switch t {
	case TabAll:
		return "all"
	case TabUnread:
		return "unread"
	case TabFavorites:
		return "favorites"
	case TabArchived:
		return "archived"
	default:
		return "unknown"
	}
}

// Match reports whether p belongs to the tab
func (t Tab) Match(p *entity.ConversationPreview) bool {
	switch t {
	case TabAll:
		return !p.IsArchived
	case TabUnread:
		return !p.IsArchived && p.UnreadCount > 0
	case TabFavorites:
		return p.IsFavorite && !p.IsArchived
	case TabArchived:
		return p.IsArchived
	default:
		return false
	}
}

// Selection is the user's position in the list. It survives entering and
// leaving search mode.
type Selection struct {
	ConversationId string
	Offset         int
}

// View is the rendered conversation list
type View struct {
	Tab   Tab
	Items []*entity.ConversationPreview
	// Searching is true while a search overlay replaces the base list
	Searching bool
	Query     string
	// SearchPending is true until results for Query arrive
	SearchPending   bool
	Selection       Selection
	ConnectionState entity.ConnectionState
	HasMore         bool
}

// Notice is a recoverable failure the user may act on by resubmitting
type Notice struct {
	ConversationId string
	Op             string
	Err            error
}

// Notice operations
const (
	OpToggleFavorite = "toggle_favorite"
	OpToggleArchive  = "toggle_archive"
	OpMarkRead       = "mark_read"
	OpSearch         = "search"
	OpRefetch        = "refetch"
)

// Cache holds the deduplicated conversation previews and derives the
// rendered views from them.
type Cache struct {
	api     ConversationAPI
	cfg     config.CacheConfig
	clk     clock.Clock
	metrics *metrics.Metrics
	store   Snapshotter
	ownerId string

	// pageMu serializes page loads and refetches
	pageMu sync.Mutex
	// emitMu keeps published views in state order
	emitMu sync.Mutex

	mu          sync.Mutex
	items       map[string]*entity.ConversationPreview
	base        map[string]struct{}
	pagesLoaded int
	hasMore     bool
	tab         Tab
	selection   Selection
	connState   entity.ConnectionState
	search      searchState
	flagMuts    map[flagKey]*flagMutation
	readMuts    map[string]*readMutation
	refetching  bool
	refetchNext bool
	closed      bool

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup

	views   *event.Stream[View]
	notices *event.Stream[Notice]
}

// Option configures a Cache
type Option func(*Cache)

// WithClock sets the clock driving the search debounce
func WithClock(clk clock.Clock) Option {
	return func(c *Cache) {
		c.clk = clk
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithSnapshotStore persists the base list of ownerId in store
func WithSnapshotStore(store Snapshotter, ownerId string) Option {
	return func(c *Cache) {
		c.store = store
		c.ownerId = ownerId
	}
}

// New creates an empty Cache
func New(api ConversationAPI, cfg config.CacheConfig, opts ...Option) *Cache {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.SearchDebounce <= 0 {
		cfg.SearchDebounce = 300 * time.Millisecond
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 50
	}

	c := &Cache{
		api:     api,
		cfg:     cfg,
		clk:     clock.Real(),
		views:   event.NewStream[View](),
		notices: event.NewStream[Notice](),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.resetLocked()
	return c
}

func (c *Cache) resetLocked() {
	c.items = make(map[string]*entity.ConversationPreview)
	c.base = make(map[string]struct{})
	c.pagesLoaded = 0
	c.hasMore = true
	c.tab = TabAll
	c.selection = Selection{}
	c.search = searchState{}
	c.flagMuts = make(map[flagKey]*flagMutation)
	c.readMuts = make(map[string]*readMutation)
	c.refetching = false
	c.refetchNext = false
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())
}

// Views streams every rendered view change
func (c *Cache) Views() *event.Stream[View] {
	return c.views
}

// Notices streams recoverable failures
func (c *Cache) Notices() *event.Stream[Notice] {
	return c.notices
}

// View returns the current rendered view
func (c *Cache) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Get returns a copy of one preview
func (c *Cache) Get(conversationId string) (*entity.ConversationPreview, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.items[conversationId]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Len returns the number of known conversations
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// SetTab switches the filtered view
func (c *Cache) SetTab(tab Tab) {
	c.commit(func() bool {
		if c.tab == tab {
			return false
		}
		c.tab = tab
		return true
	})
}

// SetSelection records the user's list position
func (c *Cache) SetSelection(sel Selection) {
	c.commit(func() bool {
		if c.selection == sel {
			return false
		}
		c.selection = sel
		return true
	})
}

// SetConnectionState updates the connection status shown with the list
func (c *Cache) SetConnectionState(state entity.ConnectionState) {
	c.commit(func() bool {
		if c.connState == state {
			return false
		}
		c.connState = state
		return true
	})
}

// Wait blocks until background refetches and searches finish
func (c *Cache) Wait() {
	c.wg.Wait()
}

// Reset drops all state at logout. Background work is cancelled and
// awaited; subscribers stay attached.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.bgCancel()
	c.search.stopTimer()
	c.mu.Unlock()

	c.wg.Wait()

	c.commit(func() bool {
		c.resetLocked()
		return true
	})
}

// Close resets the cache and detaches every subscriber
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.Reset()
	c.views.Close()
	c.notices.Close()
}

// commit applies fn under the state lock and publishes the resulting view
// when fn reports a change
func (c *Cache) commit(fn func() bool) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	changed := fn()
	var view View
	if changed {
		view = c.viewLocked()
	}
	c.mu.Unlock()

	if changed {
		c.views.Publish(view)
	}
}

func (c *Cache) notify(n Notice) {
	c.notices.Publish(n)
}

func (c *Cache) viewLocked() View {
	v := View{
		Tab:             c.tab,
		Selection:       c.selection,
		ConnectionState: c.connState,
		HasMore:         c.hasMore,
	}

	if c.search.active {
		v.Searching = true
		v.Query = c.search.query
		v.SearchPending = c.search.pending
		v.Items = make([]*entity.ConversationPreview, 0, len(c.search.results))
		for _, id := range c.search.results {
			if p, ok := c.items[id]; ok {
				v.Items = append(v.Items, p.Clone())
			}
		}
		return v
	}

	v.Items = make([]*entity.ConversationPreview, 0, len(c.base))
	for id := range c.base {
		p := c.items[id]
		if p != nil && c.tab.Match(p) {
			v.Items = append(v.Items, p.Clone())
		}
	}
	sortPreviews(v.Items)
	return v
}

// sortPreviews orders by last update, newest first
func sortPreviews(items []*entity.ConversationPreview) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].UpdatedAt != items[j].UpdatedAt {
			return items[i].UpdatedAt > items[j].UpdatedAt
		}
		return items[i].ConversationId < items[j].ConversationId
	})
}

// startBackground runs fn on a tracked goroutine unless the cache is closed
func (c *Cache) startBackground(fn func(ctx context.Context)) bool {
	c.mu.Lock()
	if c.closed || c.bgCtx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	ctx := c.bgCtx
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		fn(ctx)
	}()
	return true
}
