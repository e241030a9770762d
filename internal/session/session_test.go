package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/convsync/internal/cache"
	"github.com/mbeoliero/convsync/internal/clock"
	"github.com/mbeoliero/convsync/internal/config"
	"github.com/mbeoliero/convsync/internal/entity"
	"github.com/mbeoliero/convsync/internal/event"
	"github.com/mbeoliero/convsync/internal/store"
	"github.com/mbeoliero/convsync/pkg/errcode"
)

const (
	selfId = "u___1"
	convId = "si_u___1:u___2"
)

type fakeTransport struct {
	mu         sync.Mutex
	alive      bool
	sendErr    error
	sent       []*entity.Message
	pulls      []string
	pullResult map[string][]*entity.Message
	resumes    int
	seq        int64

	messages *event.Stream[*entity.Message]
	lost     *event.Stream[error]
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		pullResult: make(map[string][]*entity.Message),
		messages:   event.NewStream[*entity.Message](),
		lost:       event.NewStream[error](),
	}
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = true
	return nil
}

func (f *fakeTransport) Resume(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
	f.alive = true
	return nil
}

func (f *fakeTransport) IsAlive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeTransport) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
	return nil
}

func (f *fakeTransport) ForceReconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = true
	return nil
}

func (f *fakeTransport) SendMessage(_ context.Context, msg *entity.Message) (*entity.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.seq++
	c := msg.Clone()
	c.Id = fmt.Sprintf("srv_%d", f.seq)
	c.TempId = ""
	c.ClientMsgId = msg.TempId
	c.Seq = f.seq
	c.IsOptimistic = false
	return c, nil
}

func (f *fakeTransport) PullMessages(_ context.Context, conversationId string, beforeSeq int64, limit int) ([]*entity.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls = append(f.pulls, conversationId)
	return page(f.pullResult[conversationId], beforeSeq, limit), nil
}

// page returns the newest limit entries of history below beforeSeq, oldest first
func page(history []*entity.Message, beforeSeq int64, limit int) []*entity.Message {
	var out []*entity.Message
	for _, m := range history {
		if beforeSeq == 0 || m.Seq < beforeSeq {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (f *fakeTransport) Messages() *event.Stream[*entity.Message] { return f.messages }
func (f *fakeTransport) Lost() *event.Stream[error]               { return f.lost }

func (f *fakeTransport) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeTransport) pulled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pulls...)
}

type fakeAPI struct {
	mu        sync.Mutex
	convs     []*entity.ConversationPreview
	listCalls int
}

func (f *fakeAPI) ListConversations(_ context.Context, page, pageSize int) (*cache.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if page > 1 {
		return &cache.Page{}, nil
	}
	out := make([]*entity.ConversationPreview, 0, len(f.convs))
	for _, p := range f.convs {
		out = append(out, p.Clone())
	}
	return &cache.Page{Items: out}, nil
}

func (f *fakeAPI) SearchConversations(context.Context, string, int) ([]*entity.ConversationPreview, error) {
	return nil, nil
}

func (f *fakeAPI) SetFlag(context.Context, string, entity.Flag, bool) error { return nil }

func (f *fakeAPI) MarkRead(context.Context, string, int64) error { return nil }

type fakePlayer struct {
	mu    sync.Mutex
	calls []string
}

func (p *fakePlayer) record(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, s)
}

func (p *fakePlayer) Start(_ context.Context, id, _ string) error { p.record("start:" + id); return nil }
func (p *fakePlayer) Stop(_ context.Context, id string) error     { p.record("stop:" + id); return nil }
func (p *fakePlayer) Pause(_ context.Context, id string) error    { p.record("pause:" + id); return nil }

func (p *fakePlayer) history() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type harness struct {
	s      *Session
	clk    *clock.Fake
	tr     *fakeTransport
	api    *fakeAPI
	player *fakePlayer
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clk: clock.NewFake(time.Unix(1_700_000_000, 0)),
		tr:  newFakeTransport(),
		api: &fakeAPI{convs: []*entity.ConversationPreview{
			{ConversationId: convId, Participant: entity.Participant{UserId: "u___2"}, MaxSeq: 0, UpdatedAt: 1},
		}},
		player: &fakePlayer{},
	}
	opts = append([]Option{WithClock(h.clk)}, opts...)
	h.s = New(config.Default(), selfId, h.tr, h.api, h.player, opts...)
	t.Cleanup(func() { h.s.Close(context.Background()) })

	require.NoError(t, h.s.Start(context.Background()))
	return h
}

func TestSession_SendReconcilesEcho(t *testing.T) {
	h := newHarness(t)

	tempId, err := h.s.Send(context.Background(), convId, "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, tempId)

	msgs := h.s.Messages(convId)
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv_1", msgs[0].Id)
	assert.False(t, msgs[0].IsOptimistic)
	assert.Empty(t, h.s.Reconciler().Pending(convId))

	p, ok := h.s.Cache().Get(convId)
	require.True(t, ok)
	assert.Equal(t, "hi", p.LatestMessage.Text)
	assert.Equal(t, int64(1), p.ReadSeq)
	assert.Zero(t, p.UnreadCount)
}

func TestSession_SendRejectedDiscards(t *testing.T) {
	h := newHarness(t)
	h.tr.setSendErr(errcode.ErrSendFailed.Wrap(errcode.New(4010, "blocked")))

	tempId, err := h.s.Send(context.Background(), convId, "hi")
	require.Error(t, err)
	assert.Empty(t, tempId)
	assert.Empty(t, h.s.Reconciler().Pending(convId))
	assert.Empty(t, h.s.Messages(convId))
}

func TestSession_CatchUpAfterReconnect(t *testing.T) {
	h := newHarness(t)
	h.tr.setSendErr(errcode.ErrSendFailed.Wrap(errcode.ErrConnClosed))

	tempId, err := h.s.Send(context.Background(), convId, "are you there")
	require.Error(t, err)
	require.NotEmpty(t, tempId)
	require.Len(t, h.s.Reconciler().Pending(convId), 1)

	// the server did get it
	h.tr.mu.Lock()
	h.tr.pullResult[convId] = []*entity.Message{{
		Id:             "srv_9",
		ClientMsgId:    tempId,
		ConversationId: convId,
		SenderId:       selfId,
		Text:           "are you there",
		Seq:            9,
		CreatedAt:      h.clk.Now().UnixMilli(),
	}}
	h.tr.mu.Unlock()

	h.tr.lost.Publish(errcode.ErrConnClosed)
	assert.Equal(t, entity.StateReconnecting, h.s.Cache().View().ConnectionState)

	require.Eventually(t, func() bool { return h.clk.Pending() > 0 }, time.Second, 5*time.Millisecond)
	h.clk.Advance(2 * time.Second)

	require.Eventually(t, func() bool {
		return len(h.s.Reconciler().Pending(convId)) == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{convId}, h.tr.pulled())
	assert.Equal(t, entity.StateActive, h.s.Cache().View().ConnectionState)

	msgs := h.s.Messages(convId)
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv_9", msgs[0].Id)
}

func TestSession_PushUpdatesCacheAndView(t *testing.T) {
	h := newHarness(t)

	h.tr.messages.Publish(&entity.Message{
		Id:             "srv_5",
		ConversationId: convId,
		SenderId:       "u___2",
		Text:           "ping",
		Seq:            5,
		CreatedAt:      h.clk.Now().UnixMilli(),
	})

	p, ok := h.s.Cache().Get(convId)
	require.True(t, ok)
	assert.Equal(t, int64(1), p.UnreadCount)
	assert.Equal(t, "ping", p.LatestMessage.Text)

	msgs := h.s.Messages(convId)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ping", msgs[0].Text)
}

func TestSession_PushMatchesByText(t *testing.T) {
	h := newHarness(t)
	h.tr.setSendErr(errcode.ErrRequestTimeout)

	_, err := h.s.Send(context.Background(), convId, "Hello there")
	require.Error(t, err)
	require.Len(t, h.s.Reconciler().Pending(convId), 1)

	h.clk.Advance(time.Second)
	h.tr.messages.Publish(&entity.Message{
		Id:             "srv_3",
		ConversationId: convId,
		SenderId:       selfId,
		Text:           "Hello  there",
		Seq:            3,
		CreatedAt:      h.clk.Now().UnixMilli(),
	})

	assert.Empty(t, h.s.Reconciler().Pending(convId))
	require.Len(t, h.s.Messages(convId), 1)
}

func TestSession_BackgroundForeground(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.s.OnBackground(ctx)
	assert.Equal(t, entity.StateGracePeriod, h.s.Cache().View().ConnectionState)

	h.clk.Advance(8 * time.Second)
	h.s.OnForeground(ctx)
	assert.Equal(t, entity.StateActive, h.s.Cache().View().ConnectionState)
	assert.True(t, h.tr.IsAlive())

	h.tr.mu.Lock()
	assert.Zero(t, h.tr.resumes)
	h.tr.mu.Unlock()
}

func TestSession_Playback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	voice := &entity.Message{Id: "m1", Attachments: []entity.Attachment{{Kind: entity.AttachmentAudio, URL: "https://cdn/1.m4a"}}}
	tok, err := h.s.PlayMessage(ctx, voice)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/1.m4a", tok.Resource)

	_, err = h.s.Play(ctx, "m2", "https://cdn/2.m4a")
	require.NoError(t, err)
	assert.Equal(t, []string{"start:m1", "stop:m1", "start:m2"}, h.player.history())

	_, err = h.s.PlayMessage(ctx, &entity.Message{Id: "m3", Text: "no audio"})
	assert.ErrorIs(t, err, errcode.ErrInvalidParam)

	require.NoError(t, h.s.StopPlayback(ctx))
	assert.Nil(t, h.s.Playback().Current())
}

func TestSession_CloseTearsDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.tr.setSendErr(errcode.ErrConnClosed)

	_, err := h.s.Send(ctx, convId, "lost in transit")
	require.Error(t, err)
	require.Len(t, h.s.Reconciler().Pending(convId), 1)

	_, err = h.s.Play(ctx, "m1", "https://cdn/1.m4a")
	require.NoError(t, err)

	h.s.Close(ctx)
	h.s.Close(ctx)

	assert.Empty(t, h.s.Reconciler().Pending(convId))
	assert.False(t, h.tr.IsAlive())
	assert.Nil(t, h.s.Playback().Current())
	assert.Zero(t, h.tr.messages.Len())
	assert.Zero(t, h.tr.lost.Len())

	_, err = h.s.Send(ctx, convId, "after")
	assert.ErrorIs(t, err, errcode.ErrSessionClosed)
	assert.ErrorIs(t, h.s.Start(ctx), errcode.ErrSessionClosed)
}

func TestSession_SnapshotWarmStart(t *testing.T) {
	snapshots := store.NewMemory()
	first := newHarness(t, WithSnapshotStore(snapshots))
	first.s.Close(context.Background())

	saved, err := snapshots.Load(context.Background(), selfId)
	require.NoError(t, err)
	require.Len(t, saved, 1)

	// the server list is empty now; the row comes from the snapshot
	second := New(config.Default(), selfId, newFakeTransport(), &fakeAPI{}, &fakePlayer{}, WithSnapshotStore(snapshots))
	t.Cleanup(func() { second.Close(context.Background()) })
	require.NoError(t, second.Start(context.Background()))

	_, ok := second.Cache().Get(convId)
	assert.True(t, ok)
}

type fakeREST struct {
	mu      sync.Mutex
	sends   int
	pulls   []string
	history []*entity.Message
}

func (f *fakeREST) Send(_ context.Context, msg *entity.Message) (*entity.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	c := msg.Clone()
	c.Id = "rest_1"
	c.TempId = ""
	c.ClientMsgId = msg.TempId
	c.Seq = 1
	c.IsOptimistic = false
	return c, nil
}

func (f *fakeREST) PullMessages(_ context.Context, conversationId string, beforeSeq int64, limit int) ([]*entity.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls = append(f.pulls, conversationId)
	return page(f.history, beforeSeq, limit), nil
}

func TestSession_SendsOverRESTWhileDisconnected(t *testing.T) {
	rest := &fakeREST{}
	h := newHarness(t, WithREST(rest))

	// channel up: REST unused
	_, err := h.s.Send(context.Background(), convId, "over ws")
	require.NoError(t, err)

	require.NoError(t, h.tr.Disconnect(context.Background()))
	_, err = h.s.Send(context.Background(), convId, "over rest")
	require.NoError(t, err)

	rest.mu.Lock()
	assert.Equal(t, 1, rest.sends)
	rest.mu.Unlock()

	h.tr.mu.Lock()
	assert.Len(t, h.tr.sent, 1)
	h.tr.mu.Unlock()

	assert.Empty(t, h.s.Reconciler().Pending(convId))
	assert.Len(t, h.s.Messages(convId), 2)
}

func TestSession_LoadMessagesPagesHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.tr.setSendErr(errcode.ErrConnClosed)

	_, err := h.s.Send(ctx, convId, "see you")
	require.Error(t, err)
	require.Len(t, h.s.Reconciler().Pending(convId), 1)

	now := h.clk.Now().UnixMilli()
	var history []*entity.Message
	for seq := int64(1); seq <= 4; seq++ {
		history = append(history, &entity.Message{
			Id:             fmt.Sprintf("srv_%d", seq),
			ConversationId: convId,
			SenderId:       "u___2",
			Text:           fmt.Sprintf("msg %d", seq),
			Seq:            seq,
			CreatedAt:      now - (5-seq)*int64(time.Minute/time.Millisecond),
		})
	}
	// the send that lost its answer did reach the server
	history = append(history, &entity.Message{
		Id:             "srv_5",
		ConversationId: convId,
		SenderId:       selfId,
		Text:           "see you",
		Seq:            5,
		CreatedAt:      now,
	})
	h.tr.mu.Lock()
	h.tr.pullResult[convId] = history
	h.tr.mu.Unlock()

	var updates int
	sub := h.s.Reconciler().Watch(convId, func([]*entity.Message) { updates++ })
	defer sub.Unsubscribe()

	latest, err := h.s.LoadMessages(ctx, convId, 0, 3)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	assert.Equal(t, int64(3), latest[0].Seq)
	assert.Empty(t, h.s.Reconciler().Pending(convId))

	older, err := h.s.LoadMessages(ctx, convId, latest[0].Seq, 3)
	require.NoError(t, err)
	require.Len(t, older, 2)

	msgs := h.s.Messages(convId)
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("srv_%d", i+1), m.Id)
		assert.False(t, m.IsOptimistic)
	}
	assert.GreaterOrEqual(t, updates, 2)

	// history is not news: the list row keeps its counters
	p, ok := h.s.Cache().Get(convId)
	require.True(t, ok)
	assert.Zero(t, p.UnreadCount)

	_, err = h.s.LoadMessages(ctx, "", 0, 0)
	assert.ErrorIs(t, err, errcode.ErrInvalidParam)
}

func TestSession_LoadMessagesOverREST(t *testing.T) {
	rest := &fakeREST{history: []*entity.Message{
		{Id: "srv_1", ConversationId: convId, SenderId: "u___2", Text: "old", Seq: 1, CreatedAt: 1},
	}}
	h := newHarness(t, WithREST(rest))

	msgs, err := h.s.LoadMessages(context.Background(), convId, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Len(t, h.s.Messages(convId), 1)
	assert.Empty(t, h.tr.pulled())
}
