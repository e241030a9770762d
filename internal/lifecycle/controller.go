package lifecycle

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/convsync/internal/clock"
	"github.com/mbeoliero/convsync/internal/config"
	"github.com/mbeoliero/convsync/internal/entity"
	"github.com/mbeoliero/convsync/internal/event"
	"github.com/mbeoliero/convsync/internal/metrics"
)

const (
	// jitterDivisor bounds the random jitter added to each reconnect wait:
	// jitter is uniform in [0, backoff/jitterDivisor)
	jitterDivisor = 2
	// reconnectBackoffMultiplier grows the wait after each failed attempt
	reconnectBackoffMultiplier = 2
)

// Transition reasons carried by ConnectionStateChange
const (
	ReasonBackground    = "background"
	ReasonForeground    = "foreground"
	ReasonGraceExpired  = "grace_expired"
	ReasonStale         = "stale"
	ReasonResumed       = "resumed"
	ReasonReconnected   = "reconnected"
	ReasonForced        = "forced"
	ReasonConnLost      = "connection_lost"
	ReasonReconnectFail = "reconnect_failed"
	ReasonKeepAlive     = "keep_alive"
)

// Connection is the reconnect primitive the controller drives
type Connection interface {
	// Resume makes sure the existing connection is usable, dialing again
	// only when it is dead
	Resume(ctx context.Context) error
	IsAlive() bool
	Disconnect(ctx context.Context) error
	// ForceReconnect discards the current connection and dials a new one
	ForceReconnect(ctx context.Context) error
}

// Controller maps foreground and background transitions to connection actions.
//
// Going to background starts a grace period. Coming back before it ends
// keeps the connection untouched. When the grace timer fires the connection
// is torn down. Coming back after more than StaleAfter forces a full
// reconnect; earlier returns resume the existing connection.
type Controller struct {
	conn    Connection
	cfg     config.LifecycleConfig
	clk     clock.Clock
	metrics *metrics.Metrics

	// emitMu keeps published changes in transition order
	emitMu sync.Mutex

	mu           sync.Mutex
	state        entity.ConnectionState
	since        time.Time
	inBackground bool
	backgroundAt time.Time
	// episode invalidates timers and reconnect loops owned by an earlier episode
	episode      uint64
	graceTimer   clock.Timer
	loopCancel   context.CancelFunc
	pendingForce bool
	closed       bool

	wg      sync.WaitGroup
	changes *event.Stream[entity.ConnectionStateChange]
}

// Option configures a Controller
type Option func(*Controller)

// WithClock sets the clock driving grace timers and backoff waits
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) {
		c.clk = clk
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// New creates a Controller in the Active state
func New(conn Connection, cfg config.LifecycleConfig, opts ...Option) *Controller {
	c := &Controller{
		conn:    conn,
		cfg:     cfg,
		clk:     clock.Real(),
		changes: event.NewStream[entity.ConnectionStateChange](),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.GracePeriod <= 0 {
		c.cfg.GracePeriod = 10 * time.Second
	}
	if c.cfg.StaleAfter <= 0 {
		c.cfg.StaleAfter = 30 * time.Second
	}
	if c.cfg.ReconnectMin <= 0 {
		c.cfg.ReconnectMin = time.Second
	}
	if c.cfg.ReconnectMax < c.cfg.ReconnectMin {
		c.cfg.ReconnectMax = max(30*time.Second, c.cfg.ReconnectMin)
	}
	c.since = c.clk.Now()
	return c
}

// State returns the current state and when it was entered
func (c *Controller) State() (entity.ConnectionState, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.since
}

// Changes streams every state transition in order
func (c *Controller) Changes() *event.Stream[entity.ConnectionStateChange] {
	return c.changes
}

// OnBackground starts a new background episode. Any timer or reconnect loop
// of an earlier episode is invalidated.
func (c *Controller) OnBackground(ctx context.Context) {
	c.update(func() *entity.ConnectionStateChange {
		if c.closed || c.inBackground {
			return nil
		}
		c.inBackground = true
		c.backgroundAt = c.clk.Now()
		c.invalidateLocked()

		switch c.state {
		case entity.StateActive:
			episode := c.episode
			c.graceTimer = c.clk.AfterFunc(c.cfg.GracePeriod, func() { c.graceExpired(episode) })
			return c.setStateLocked(entity.StateGracePeriod, ReasonBackground, nil)
		case entity.StateReconnecting:
			return c.setStateLocked(entity.StateDisconnected, ReasonBackground, nil)
		default:
			return nil
		}
	})
	log.CtxDebug(ctx, "lifecycle background: grace_period=%s", c.cfg.GracePeriod)
}

func (c *Controller) graceExpired(episode uint64) {
	fire := false
	c.update(func() *entity.ConnectionStateChange {
		if c.closed || c.episode != episode || c.state != entity.StateGracePeriod {
			return nil
		}
		fire = true
		c.graceTimer = nil
		return c.setStateLocked(entity.StateDisconnected, ReasonGraceExpired, nil)
	})
	if !fire {
		return
	}

	log.Info("lifecycle grace period expired, disconnecting")
	if err := c.conn.Disconnect(context.Background()); err != nil {
		log.Warn("lifecycle disconnect failed: err=%v", err)
	}
}

// OnForeground ends the background episode.
//
// Within the grace period the connection is kept as is and no network call
// is made. After more than StaleAfter in background a forced reconnect runs.
// Otherwise a torn down connection is resumed. Failures hand over to the
// reconnect loop and are only visible as state changes.
func (c *Controller) OnForeground(ctx context.Context) {
	type action int
	const (
		none action = iota
		resume
		force
	)

	act := none
	var (
		elapsed time.Duration
		episode uint64
	)
	c.update(func() *entity.ConnectionStateChange {
		if c.closed || !c.inBackground {
			return nil
		}
		c.inBackground = false
		elapsed = c.clk.Now().Sub(c.backgroundAt)
		c.invalidateLocked()
		episode = c.episode

		switch {
		case elapsed > c.cfg.StaleAfter || c.pendingForce:
			c.pendingForce = false
			act = force
			return c.setStateLocked(entity.StateReconnecting, ReasonStale, nil)
		case c.state == entity.StateGracePeriod:
			return c.setStateLocked(entity.StateActive, ReasonForeground, nil)
		case c.state == entity.StateActive:
			return nil
		default:
			act = resume
			return c.setStateLocked(entity.StateReconnecting, ReasonForeground, nil)
		}
	})

	switch act {
	case force:
		log.CtxInfo(ctx, "lifecycle foreground after stale background, forcing reconnect: elapsed=%s", elapsed)
		c.connect(ctx, episode, c.conn.ForceReconnect, ReasonReconnected)
	case resume:
		log.CtxInfo(ctx, "lifecycle foreground, resuming connection: elapsed=%s", elapsed)
		c.connect(ctx, episode, c.conn.Resume, ReasonResumed)
	}
}

// ForceReconnect discards the channel and dials a new one. While the app is
// in background the reconnect is deferred to the next foreground.
func (c *Controller) ForceReconnect(ctx context.Context) {
	run := false
	var episode uint64
	c.update(func() *entity.ConnectionStateChange {
		if c.closed {
			return nil
		}
		if c.inBackground {
			c.pendingForce = true
			return nil
		}
		run = true
		c.invalidateLocked()
		episode = c.episode
		return c.setStateLocked(entity.StateReconnecting, ReasonForced, nil)
	})
	if !run {
		return
	}
	c.connect(ctx, episode, c.conn.ForceReconnect, ReasonReconnected)
}

// CancelScheduledDisconnect keeps the connection open for the rest of the
// current background episode. It reports whether a disconnect was pending.
func (c *Controller) CancelScheduledDisconnect() bool {
	cancelled := false
	c.update(func() *entity.ConnectionStateChange {
		if c.graceTimer == nil {
			return nil
		}
		cancelled = true
		c.invalidateLocked()
		return c.setStateLocked(entity.StateActive, ReasonKeepAlive, nil)
	})
	return cancelled
}

// ConnectionLost is the channel callback for an unexpected drop. In
// foreground the reconnect loop takes over; in background recovery waits
// for the next foreground.
func (c *Controller) ConnectionLost(err error) {
	loop := false
	var episode uint64
	c.update(func() *entity.ConnectionStateChange {
		if c.closed || c.state == entity.StateDisconnected || c.state == entity.StateReconnecting {
			return nil
		}
		if c.inBackground {
			c.invalidateLocked()
			return c.setStateLocked(entity.StateDisconnected, ReasonConnLost, err)
		}
		loop = true
		c.invalidateLocked()
		episode = c.episode
		return c.setStateLocked(entity.StateReconnecting, ReasonConnLost, err)
	})

	log.Warn("lifecycle connection lost: err=%v", err)
	if loop {
		c.startReconnectLoop(episode)
	}
}

// connect runs one connection attempt for the current episode. On failure
// the reconnect loop takes over.
func (c *Controller) connect(ctx context.Context, episode uint64, fn func(context.Context) error, reason string) {
	if err := fn(ctx); err != nil {
		log.CtxWarn(ctx, "lifecycle connect failed: err=%v", err)
		c.update(func() *entity.ConnectionStateChange {
			if c.closed || c.episode != episode {
				return nil
			}
			return &entity.ConnectionStateChange{From: c.state, To: c.state, At: c.clk.Now(), Reason: ReasonReconnectFail, Err: err}
		})
		c.startReconnectLoop(episode)
		return
	}

	c.update(func() *entity.ConnectionStateChange {
		if c.closed || c.episode != episode {
			return nil
		}
		return c.setStateLocked(entity.StateActive, reason, nil)
	})
}

func (c *Controller) startReconnectLoop(episode uint64) {
	c.mu.Lock()
	if c.closed || c.episode != episode || c.loopCancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.loopCancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.reconnectLoop(ctx, episode)
	}()
}

func (c *Controller) reconnectLoop(ctx context.Context, episode uint64) {
	backoff := c.cfg.ReconnectMin
	for attempt := 1; ; attempt++ {
		jitter := time.Duration(0)
		if backoff >= jitterDivisor {
			jitter = time.Duration(rand.Int64N(int64(backoff) / jitterDivisor))
		}
		if !c.sleep(ctx, backoff+jitter) {
			return
		}

		err := c.conn.Resume(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			c.update(func() *entity.ConnectionStateChange {
				if c.closed || c.episode != episode {
					return nil
				}
				c.loopCancel()
				c.loopCancel = nil
				return c.setStateLocked(entity.StateActive, ReasonReconnected, nil)
			})
			log.Info("lifecycle reconnected: attempt=%d", attempt)
			return
		}

		log.Warn("lifecycle reconnect failed: attempt=%d, backoff=%s, err=%v", attempt, backoff, err)
		backoff = min(backoff*reconnectBackoffMultiplier, c.cfg.ReconnectMax)
	}
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	fired := make(chan struct{})
	t := c.clk.AfterFunc(d, func() { close(fired) })
	select {
	case <-fired:
		return ctx.Err() == nil
	case <-ctx.Done():
		t.Stop()
		return false
	}
}

// Close stops timers and reconnect loops and closes the change stream
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.invalidateLocked()
	c.mu.Unlock()

	c.wg.Wait()
	c.changes.Close()
}

// invalidateLocked starts a new episode, stopping the grace timer and any
// reconnect loop of the previous one
func (c *Controller) invalidateLocked() {
	c.episode++
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	if c.loopCancel != nil {
		c.loopCancel()
		c.loopCancel = nil
	}
}

func (c *Controller) setStateLocked(to entity.ConnectionState, reason string, err error) *entity.ConnectionStateChange {
	if c.state == to && err == nil {
		return nil
	}
	change := &entity.ConnectionStateChange{
		From:   c.state,
		To:     to,
		At:     c.clk.Now(),
		Reason: reason,
		Err:    err,
	}
	c.state = to
	c.since = change.At
	return change
}

// update applies fn under the state lock and publishes the resulting change.
// Handlers run with emitMu held and must not call back into the controller.
func (c *Controller) update(fn func() *entity.ConnectionStateChange) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	change := fn()
	c.mu.Unlock()

	if change == nil {
		return
	}
	if change.From != change.To {
		c.metrics.ConnectionState(change.From.String(), change.To.String())
	}
	c.changes.Publish(*change)
}
