package session

import (
	"context"
	"errors"
	"sync"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/convsync/internal/cache"
	"github.com/mbeoliero/convsync/internal/clock"
	"github.com/mbeoliero/convsync/internal/config"
	"github.com/mbeoliero/convsync/internal/entity"
	"github.com/mbeoliero/convsync/internal/event"
	"github.com/mbeoliero/convsync/internal/lifecycle"
	"github.com/mbeoliero/convsync/internal/metrics"
	"github.com/mbeoliero/convsync/internal/playback"
	"github.com/mbeoliero/convsync/internal/reconcile"
	"github.com/mbeoliero/convsync/pkg/errcode"
	"github.com/mbeoliero/convsync/pkg/idgen"
)

// Transport is the bidirectional channel the session drives
type Transport interface {
	lifecycle.Connection
	Connect(ctx context.Context) error
	SendMessage(ctx context.Context, msg *entity.Message) (*entity.Message, error)
	PullMessages(ctx context.Context, conversationId string, beforeSeq int64, limit int) ([]*entity.Message, error)
	Messages() *event.Stream[*entity.Message]
	Lost() *event.Stream[error]
}

// Messenger is the REST path for messages
type Messenger interface {
	Send(ctx context.Context, msg *entity.Message) (*entity.Message, error)
	PullMessages(ctx context.Context, conversationId string, beforeSeq int64, limit int) ([]*entity.Message, error)
}

// Session owns the sync state of one logged in user. It is created at
// login with New and Start and torn down at logout with Close.
type Session struct {
	cfg       *config.Config
	selfId    string
	transport Transport
	rest      Messenger

	lifecycle  *lifecycle.Controller
	reconciler *reconcile.Reconciler
	cache      *cache.Cache
	playback   *playback.Coordinator

	subs   event.Group
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type options struct {
	clk     clock.Clock
	metrics *metrics.Metrics
	store   cache.Snapshotter
	ids     idgen.IDGenerator
	rest    Messenger
}

// Option configures a Session
type Option func(*options)

// WithClock replaces the wall clock of every component
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		o.clk = clk
	}
}

// WithMetrics records metrics for every component
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithSnapshotStore persists the conversation list between runs
func WithSnapshotStore(store cache.Snapshotter) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithIDGenerator sets the temp id generator of speculative entries
func WithIDGenerator(ids idgen.IDGenerator) Option {
	return func(o *options) {
		o.ids = ids
	}
}

// WithREST sends over REST while the channel is down and pulls history
// over REST
func WithREST(m Messenger) Option {
	return func(o *options) {
		o.rest = m
	}
}

// New wires the engine components for selfId. Nothing runs until Start.
func New(cfg *config.Config, selfId string, transport Transport, api cache.ConversationAPI, player playback.Player, opts ...Option) *Session {
	o := &options{clk: clock.Real()}
	for _, opt := range opts {
		opt(o)
	}

	reconcileOpts := []reconcile.Option{reconcile.WithClock(o.clk), reconcile.WithMetrics(o.metrics)}
	if o.ids != nil {
		reconcileOpts = append(reconcileOpts, reconcile.WithIDGenerator(o.ids))
	}
	cacheOpts := []cache.Option{cache.WithClock(o.clk), cache.WithMetrics(o.metrics)}
	if o.store != nil {
		cacheOpts = append(cacheOpts, cache.WithSnapshotStore(o.store, selfId))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:        cfg,
		selfId:     selfId,
		transport:  transport,
		rest:       o.rest,
		lifecycle:  lifecycle.New(transport, cfg.Lifecycle, lifecycle.WithClock(o.clk), lifecycle.WithMetrics(o.metrics)),
		reconciler: reconcile.New(cfg.Reconcile.MatchWindow, reconcileOpts...),
		cache:      cache.New(api, cfg.Cache, cacheOpts...),
		playback:   playback.New(player, cfg.Playback.StopTimeout, playback.WithClock(o.clk), playback.WithMetrics(o.metrics)),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SelfId returns the logged in user
func (s *Session) SelfId() string {
	return s.selfId
}

// Cache returns the conversation list
func (s *Session) Cache() *cache.Cache {
	return s.cache
}

// Reconciler returns the per-conversation merged message views
func (s *Session) Reconciler() *reconcile.Reconciler {
	return s.reconciler
}

// Playback returns the audio playback coordinator
func (s *Session) Playback() *playback.Coordinator {
	return s.playback
}

// Lifecycle returns the connection lifecycle controller
func (s *Session) Lifecycle() *lifecycle.Controller {
	return s.lifecycle
}

// Start subscribes the components to each other, restores the last
// snapshot, connects and loads the first page. A failed connect is left to
// the reconnect loop; a failed first page is returned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errcode.ErrSessionClosed
	}
	s.mu.Unlock()

	s.subs.Add(s.transport.Messages().Subscribe(s.onMessage))
	s.subs.Add(s.transport.Lost().Subscribe(s.lifecycle.ConnectionLost))
	s.subs.Add(s.lifecycle.Changes().Subscribe(s.onStateChange))

	if err := s.cache.Restore(ctx); err != nil {
		log.CtxWarn(ctx, "session restore failed: user_id=%s, error=%v", s.selfId, err)
	}

	if err := s.transport.Connect(ctx); err != nil {
		log.CtxWarn(ctx, "session connect failed: user_id=%s, error=%v", s.selfId, err)
		s.lifecycle.ConnectionLost(err)
	}

	if err := s.cache.LoadFirstPage(ctx); err != nil {
		return err
	}

	log.CtxInfo(ctx, "session started: user_id=%s, conversations=%d", s.selfId, s.cache.Len())
	return nil
}

// onMessage handles a pushed confirmed message
func (s *Session) onMessage(msg *entity.Message) {
	if msg == nil || msg.ConversationId == "" {
		return
	}
	s.cache.ApplyMessage(msg, s.selfId)
	if _, err := s.reconciler.Reconcile(s.ctx, msg.ConversationId, []*entity.Message{msg}); err != nil {
		log.CtxDebug(s.ctx, "session reconcile skipped: conversation_id=%s, error=%v", msg.ConversationId, err)
	}
}

// onStateChange runs with the lifecycle emit lock held and must not call
// back into the controller
func (s *Session) onStateChange(change entity.ConnectionStateChange) {
	s.cache.SetConnectionState(change.To)

	if change.To != entity.StateActive {
		return
	}
	if change.From == entity.StateReconnecting || change.From == entity.StateDisconnected {
		s.goCatchUp()
	}
}

func (s *Session) goCatchUp() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.catchUp(s.ctx)
	}()
}

// catchUp pulls conversations that still hold speculative entries so sends
// whose outcome was lost with the connection get reconciled, then refreshes
// the loaded pages.
func (s *Session) catchUp(ctx context.Context) {
	for _, id := range s.reconciler.PendingConversations() {
		msgs, err := s.pull(ctx, id, 0, s.cfg.Reconcile.CatchUpLimit)
		if err != nil {
			log.CtxWarn(ctx, "session catch up pull failed: conversation_id=%s, error=%v", id, err)
			continue
		}
		res, err := s.reconciler.Reconcile(ctx, id, msgs)
		if err != nil {
			return
		}
		log.CtxDebug(ctx, "session catch up: conversation_id=%s, matched=%d, pending=%d", id, len(res.Matched), res.Pending)
	}

	if err := s.cache.Refresh(ctx); err != nil && ctx.Err() == nil {
		log.CtxWarn(ctx, "session catch up refresh failed: user_id=%s, error=%v", s.selfId, err)
	}
}

func (s *Session) pull(ctx context.Context, conversationId string, beforeSeq int64, limit int) ([]*entity.Message, error) {
	if s.rest != nil {
		return s.rest.PullMessages(ctx, conversationId, beforeSeq, limit)
	}
	return s.transport.PullMessages(ctx, conversationId, beforeSeq, limit)
}

// LoadMessages fetches one page of confirmed history older than beforeSeq,
// or the latest page when beforeSeq is zero, and merges it into the
// conversation view. Pending speculative entries the page confirms are
// reconciled. The page is returned in server order; the lowest seq in it is
// the beforeSeq of the next older page.
func (s *Session) LoadMessages(ctx context.Context, conversationId string, beforeSeq int64, limit int) ([]*entity.Message, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errcode.ErrSessionClosed
	}
	if conversationId == "" {
		return nil, errcode.ErrInvalidParam
	}
	if limit <= 0 {
		limit = s.cfg.Reconcile.HistoryPageSize
	}

	msgs, err := s.pull(ctx, conversationId, beforeSeq, limit)
	if err != nil {
		log.CtxWarn(ctx, "session load messages failed: conversation_id=%s, before_seq=%d, error=%v", conversationId, beforeSeq, err)
		return nil, err
	}

	res, err := s.reconciler.Reconcile(ctx, conversationId, msgs)
	if err != nil {
		return nil, err
	}
	log.CtxDebug(ctx, "session load messages: conversation_id=%s, before_seq=%d, fetched=%d, added=%d, matched=%d",
		conversationId, beforeSeq, len(msgs), res.Added, len(res.Matched))
	return msgs, nil
}

// Send shows text immediately as a speculative entry and delivers it. The
// returned temp id identifies the entry until it is reconciled. When the
// delivery outcome is unknown because the connection failed, the entry is
// kept for the catch-up after reconnect; any other failure discards it.
func (s *Session) Send(ctx context.Context, conversationId, text string, opts ...reconcile.SpeculativeOption) (string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", errcode.ErrSessionClosed
	}

	tempId, err := s.reconciler.AddSpeculative(conversationId, s.selfId, text, opts...)
	if err != nil {
		return "", err
	}

	var msg *entity.Message
	for _, m := range s.reconciler.Pending(conversationId) {
		if m.TempId == tempId {
			msg = m
			break
		}
	}
	if msg == nil {
		return tempId, nil
	}

	send := s.transport.SendMessage
	if s.rest != nil && !s.transport.IsAlive() {
		send = s.rest.Send
	}

	confirmed, err := send(ctx, msg)
	if err != nil {
		if errors.Is(err, errcode.ErrConnClosed) || errors.Is(err, errcode.ErrRequestTimeout) {
			log.CtxWarn(ctx, "session send outcome unknown: conversation_id=%s, temp_id=%s, error=%v", conversationId, tempId, err)
			return tempId, err
		}
		s.reconciler.Discard(conversationId, tempId)
		log.CtxWarn(ctx, "session send failed: conversation_id=%s, temp_id=%s, error=%v", conversationId, tempId, err)
		return "", err
	}

	s.cache.ApplyMessage(confirmed, s.selfId)
	if _, err := s.reconciler.Reconcile(ctx, conversationId, []*entity.Message{confirmed}); err != nil {
		return tempId, err
	}
	return tempId, nil
}

// Messages returns the merged view of one conversation
func (s *Session) Messages(conversationId string) []*entity.Message {
	return s.reconciler.View(conversationId)
}

// OnForeground forwards the app returning to the foreground
func (s *Session) OnForeground(ctx context.Context) {
	s.lifecycle.OnForeground(ctx)
}

// OnBackground forwards the app moving to the background
func (s *Session) OnBackground(ctx context.Context) {
	s.lifecycle.OnBackground(ctx)
}

// ForceReconnect discards the connection and dials again
func (s *Session) ForceReconnect(ctx context.Context) {
	s.lifecycle.ForceReconnect(ctx)
}

// Play starts resource under id, stopping whatever was playing
func (s *Session) Play(ctx context.Context, id, resource string) (*entity.PlaybackToken, error) {
	return s.playback.RequestPlay(ctx, id, resource)
}

// PlayMessage plays the first audio attachment of msg
func (s *Session) PlayMessage(ctx context.Context, msg *entity.Message) (*entity.PlaybackToken, error) {
	audio := msg.AudioAttachments()
	if len(audio) == 0 {
		return nil, errcode.ErrInvalidParam
	}
	return s.playback.RequestPlay(ctx, msg.Key(), audio[0].URL)
}

// StopPlayback stops the current resource, if any
func (s *Session) StopPlayback(ctx context.Context) error {
	return s.playback.Stop(ctx)
}

// Close tears the session down. Subscriptions are removed before any
// component is closed.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.subs.UnsubscribeAll()
	s.cancel()
	s.lifecycle.Close()
	s.playback.Reset(ctx)
	s.reconciler.ClearAll()
	if err := s.transport.Disconnect(ctx); err != nil {
		log.CtxWarn(ctx, "session disconnect failed: user_id=%s, error=%v", s.selfId, err)
	}
	s.wg.Wait()
	s.cache.Close()

	log.CtxInfo(ctx, "session closed: user_id=%s", s.selfId)
}
