package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/convsync/internal/config"
	"github.com/mbeoliero/convsync/internal/entity"
	"github.com/mbeoliero/convsync/internal/event"
	"github.com/mbeoliero/convsync/internal/metrics"
	"github.com/mbeoliero/convsync/pkg/errcode"
)

// Channel is the client side of the gateway websocket. It correlates
// requests with responses by MsgIncr and fans pushes out to streams.
type Channel struct {
	wsURL      string
	selfId     string
	platformId int
	sdkType    string
	token      func() string
	cfg        config.WebSocketConfig
	dialer     *websocket.Dialer
	metrics    *metrics.Metrics

	// dialMu serializes connect and disconnect
	dialMu  sync.Mutex
	mu      sync.Mutex
	conn    *conn
	pending map[string]chan *WSResponse
	closed  bool
	incr    atomic.Uint64

	messages *event.Stream[*entity.Message]
	typing   *event.Stream[Typing]
	presence *event.Stream[Presence]
	lost     *event.Stream[error]
}

// Option configures a Channel
type Option func(*Channel)

// WithDialer replaces the default websocket dialer
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) {
		c.dialer = d
	}
}

// WithMetrics records pushes
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Channel) {
		c.metrics = m
	}
}

// New creates a channel for selfId. token is read on every dial so a
// refreshed login is picked up by the next reconnect.
func New(server config.ServerConfig, ws config.WebSocketConfig, selfId string, token func() string, opts ...Option) *Channel {
	c := &Channel{
		wsURL:      server.WSURL,
		selfId:     selfId,
		platformId: server.PlatformId,
		sdkType:    server.SDKType,
		token:      token,
		cfg:        ws,
		dialer:     websocket.DefaultDialer,
		messages:   event.NewStream[*entity.Message](),
		typing:     event.NewStream[Typing](),
		presence:   event.NewStream[Presence](),
		lost:       event.NewStream[error](),
	}
	if c.sdkType == "" {
		c.sdkType = SDKTypeGo
	}
	if c.cfg.WriteChannelSize <= 0 {
		c.cfg.WriteChannelSize = WriteChannelSize
	}
	if c.cfg.MaxMessageSize <= 0 {
		c.cfg.MaxMessageSize = MaxMessageSize
	}
	if c.cfg.WriteWait <= 0 {
		c.cfg.WriteWait = WriteWait
	}
	if c.cfg.PongWait <= 0 {
		c.cfg.PongWait = PongWait
	}
	// pings must go out before the peer's pong deadline
	if c.cfg.PingPeriod <= 0 || c.cfg.PingPeriod >= c.cfg.PongWait {
		c.cfg.PingPeriod = (c.cfg.PongWait * 9) / 10
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Messages carries confirmed messages pushed by the server
func (c *Channel) Messages() *event.Stream[*entity.Message] {
	return c.messages
}

// Typing carries peer typing indicators
func (c *Channel) Typing() *event.Stream[Typing] {
	return c.typing
}

// Presence carries peer online status changes
func (c *Channel) Presence() *event.Stream[Presence] {
	return c.presence
}

// Lost fires once per connection that fails without a local Disconnect
func (c *Channel) Lost() *event.Stream[error] {
	return c.lost
}

// IsAlive reports whether a connection is open
func (c *Channel) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// Connect dials the gateway unless a connection is already open
func (c *Channel) Connect(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	if c.IsAlive() {
		return nil
	}
	return c.dialLocked(ctx)
}

// Resume keeps a live connection and dials again only when it is dead
func (c *Channel) Resume(ctx context.Context) error {
	return c.Connect(ctx)
}

// ForceReconnect discards the current connection and dials a fresh one
func (c *Channel) ForceReconnect(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.detach()
	return c.dialLocked(ctx)
}

// Disconnect closes the connection without reporting it as lost
func (c *Channel) Disconnect(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	if c.detach() {
		log.CtxInfo(ctx, "channel disconnected: user_id=%s", c.selfId)
	}
	return nil
}

// Close disconnects and closes every stream. The channel cannot be reused.
func (c *Channel) Close() {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.detach()
	c.messages.Close()
	c.typing.Close()
	c.presence.Close()
	c.lost.Close()
}

func (c *Channel) dialLocked(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}

	target, err := c.dialURL()
	if err != nil {
		return errcode.ErrConnectFailed.Wrap(err)
	}

	if c.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
	}

	ws, resp, err := c.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		log.CtxWarn(ctx, "channel dial failed: user_id=%s, error=%v", c.selfId, err)
		return errcode.ErrConnectFailed.Wrap(err)
	}

	cn := newConn(ws, c.cfg.MaxMessageSize, c.cfg.WriteChannelSize, c.cfg.WriteWait, c.cfg.PongWait, c.cfg.PingPeriod)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cn.Close()
		return ErrChannelClosed
	}
	c.conn = cn
	c.pending = make(map[string]chan *WSResponse)
	c.mu.Unlock()

	log.CtxInfo(ctx, "channel connected: user_id=%s, platform_id=%d", c.selfId, c.platformId)

	go c.readLoop(cn)
	return nil
}

func (c *Channel) dialURL() (string, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set(QueryToken, c.token())
	q.Set(QuerySendId, c.selfId)
	q.Set(QueryPlatformId, strconv.Itoa(c.platformId))
	q.Set(QuerySDKType, c.sdkType)
	q.Set(QueryOperationId, uuid.NewString())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// detach drops the current connection and fails its pending requests.
// It reports whether there was a connection.
func (c *Channel) detach() bool {
	c.mu.Lock()
	cn := c.conn
	pending := c.pending
	c.conn = nil
	c.pending = nil
	c.mu.Unlock()

	if cn == nil {
		return false
	}
	cn.Close()
	failPending(pending)
	return true
}

// drop handles a failure of cn. Failures of a connection that was already
// detached are ignored.
func (c *Channel) drop(cn *conn, cause error) {
	c.mu.Lock()
	if c.conn != cn {
		c.mu.Unlock()
		return
	}
	pending := c.pending
	c.conn = nil
	c.pending = nil
	c.mu.Unlock()

	cn.Close()
	failPending(pending)

	log.Warn("channel lost: user_id=%s, error=%v", c.selfId, cause)
	c.lost.Publish(errcode.ErrConnClosed.Wrap(cause))
}

func failPending(pending map[string]chan *WSResponse) {
	for _, ch := range pending {
		close(ch)
	}
}

// readLoop continuously reads frames from cn until it fails
func (c *Channel) readLoop(cn *conn) {
	defer func() {
		if r := recover(); r != nil {
			log.CtxError(context.Background(), "channel read loop panic: user_id=%s, error=%v", c.selfId, r)
			c.drop(cn, fmt.Errorf("panic: %v", r))
		}
	}()

	for {
		message, err := cn.ReadMessage()
		if err != nil {
			if cn.IsClosed() {
				log.Debug("channel read stopped: user_id=%s", c.selfId)
			}
			c.drop(cn, err)
			return
		}
		c.dispatch(cn, message)
	}
}

func (c *Channel) dispatch(cn *conn, message []byte) {
	var resp WSResponse
	if err := json.Unmarshal(message, &resp); err != nil {
		log.Warn("channel decode error: user_id=%s, error=%v", c.selfId, err)
		return
	}

	if resp.MsgIncr != "" {
		c.mu.Lock()
		ch, ok := c.pending[resp.MsgIncr]
		if ok {
			delete(c.pending, resp.MsgIncr)
		}
		c.mu.Unlock()

		if !ok {
			log.Debug("channel response without request: msg_incr=%s", resp.MsgIncr)
			return
		}
		ch <- &resp
		return
	}

	switch resp.ReqIdentifier {
	case WSPushMsg:
		var push PushMsgData
		if err := json.Unmarshal(resp.Data, &push); err != nil {
			log.Warn("channel push decode error: kind=message, error=%v", err)
			return
		}
		for _, msg := range push.messages() {
			c.metrics.PushReceived("message")
			c.messages.Publish(msg)
		}
	case WSPushTyping:
		var typing Typing
		if err := json.Unmarshal(resp.Data, &typing); err != nil {
			log.Warn("channel push decode error: kind=typing, error=%v", err)
			return
		}
		c.metrics.PushReceived("typing")
		c.typing.Publish(typing)
	case WSPushPresence:
		var presence Presence
		if err := json.Unmarshal(resp.Data, &presence); err != nil {
			log.Warn("channel push decode error: kind=presence, error=%v", err)
			return
		}
		c.metrics.PushReceived("presence")
		c.presence.Publish(presence)
	case WSKickOnlineMsg:
		c.metrics.PushReceived("kick")
		c.drop(cn, ErrKicked)
	default:
		log.Debug("channel unknown push: req_identifier=%d, err_code=%d", resp.ReqIdentifier, resp.ErrCode)
	}
}

// request sends one request and waits for the response with the same MsgIncr.
// Transport failures are reported as errcode.ErrConnClosed; the request may
// or may not have reached the server.
func (c *Channel) request(ctx context.Context, reqIdentifier int32, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	cn := c.conn
	if cn == nil {
		c.mu.Unlock()
		return errcode.ErrConnClosed.Wrap(ErrNotConnected)
	}
	incr := strconv.FormatUint(c.incr.Add(1), 10)
	ch := make(chan *WSResponse, 1)
	c.pending[incr] = ch
	c.mu.Unlock()

	raw, err := json.Marshal(WSRequest{
		ReqIdentifier: reqIdentifier,
		MsgIncr:       incr,
		OperationId:   uuid.NewString(),
		SendId:        c.selfId,
		Data:          data,
	})
	if err != nil {
		c.forget(incr)
		return err
	}
	if err := cn.WriteMessage(raw); err != nil {
		c.forget(incr)
		return errcode.ErrConnClosed.Wrap(err)
	}

	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return errcode.ErrConnClosed
		}
		if resp.ErrCode != 0 {
			return errcode.New(resp.ErrCode, resp.ErrMsg)
		}
		if out != nil && len(resp.Data) > 0 {
			if err := json.Unmarshal(resp.Data, out); err != nil {
				return errcode.ErrInvalidProtocol.Wrap(err)
			}
		}
		return nil
	case <-ctx.Done():
		c.forget(incr)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errcode.ErrRequestTimeout.Wrap(ctx.Err())
		}
		return ctx.Err()
	}
}

func (c *Channel) forget(incr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, incr)
}

// SendMessage delivers a speculative entry and returns its confirmed form.
// The temp id travels as the client message id so the echo can be matched.
func (c *Channel) SendMessage(ctx context.Context, msg *entity.Message) (*entity.Message, error) {
	var resp SendMsgResp
	if err := c.request(ctx, WSSendMsg, sendMsgReqOf(msg, c.selfId), &resp); err != nil {
		return nil, errcode.ErrSendFailed.Wrap(err)
	}

	confirmed := msg.Clone()
	confirmed.Id = strconv.FormatInt(resp.ServerMsgId, 10)
	confirmed.TempId = ""
	confirmed.ClientMsgId = msg.TempId
	if resp.ClientMsgId != "" {
		confirmed.ClientMsgId = resp.ClientMsgId
	}
	if resp.ConversationId != "" {
		confirmed.ConversationId = resp.ConversationId
	}
	confirmed.SenderId = c.selfId
	confirmed.Seq = resp.Seq
	confirmed.CreatedAt = resp.SendAt
	confirmed.IsOptimistic = false
	return confirmed, nil
}

// PullMessages returns up to limit of the newest confirmed messages with a
// seq below beforeSeq. A zero beforeSeq pulls the latest page.
func (c *Channel) PullMessages(ctx context.Context, conversationId string, beforeSeq int64, limit int) ([]*entity.Message, error) {
	var resp PullMsgResp
	req := &PullMsgReq{ConversationId: conversationId, Limit: limit}
	if beforeSeq > 0 {
		req.EndSeq = beforeSeq - 1
	}
	if err := c.request(ctx, WSPullMsg, req, &resp); err != nil {
		return nil, errcode.ErrPullFailed.Wrap(err)
	}

	out := make([]*entity.Message, 0, len(resp.Messages))
	for _, d := range resp.Messages {
		if d != nil {
			out = append(out, d.ToMessage())
		}
	}
	return out, nil
}
