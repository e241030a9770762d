package playback

import (
	"context"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/convsync/internal/clock"
	"github.com/mbeoliero/convsync/internal/entity"
	"github.com/mbeoliero/convsync/internal/event"
	"github.com/mbeoliero/convsync/internal/metrics"
	"github.com/mbeoliero/convsync/pkg/errcode"
)

const defaultStopTimeout = 2 * time.Second

// Player drives the audio output device
type Player interface {
	Start(ctx context.Context, id, resource string) error
	Stop(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
}

// Coordinator guarantees that at most one resource is audible at a time.
//
// RequestPlay calls are serialized. Stop and Pause are not: they release the
// current owner immediately and preempt a start that is still in flight.
type Coordinator struct {
	player      Player
	stopTimeout time.Duration
	clk         clock.Clock
	metrics     *metrics.Metrics

	// opMu serializes ownership transfers
	opMu sync.Mutex

	mu         sync.Mutex
	current    *entity.PlaybackToken
	epoch      uint64
	generation uint64

	tokens *event.Stream[*entity.PlaybackToken]
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithClock sets the clock used to stamp tokens
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) {
		c.clk = clk
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// New creates a Coordinator. A zero stopTimeout uses 2s.
func New(player Player, stopTimeout time.Duration, opts ...Option) *Coordinator {
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}
	c := &Coordinator{
		player:      player,
		stopTimeout: stopTimeout,
		clk:         clock.Real(),
		tokens:      event.NewStream[*entity.PlaybackToken](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestPlay makes id the only audible resource. Requesting the resource
// that already plays is a no-op. A different resource is stopped first; if
// that fails or does not acknowledge within the stop timeout, the conflict is
// logged and the new resource is started anyway.
func (c *Coordinator) RequestPlay(ctx context.Context, id, resource string) (*entity.PlaybackToken, error) {
	if id == "" {
		return nil, errcode.ErrInvalidParam
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	prev := c.current
	if prev != nil && prev.Id == id {
		token := *prev
		c.mu.Unlock()
		return &token, nil
	}
	c.current = nil
	epoch := c.epoch
	c.mu.Unlock()

	if prev != nil {
		c.tokens.Publish(nil)
		if err := c.stopWithTimeout(ctx, prev.Id); err != nil {
			c.metrics.PlaybackConflict()
			log.CtxWarn(ctx, "playback stop previous failed: prev_id=%s, next_id=%s, err=%v", prev.Id, id, errcode.ErrPlaybackConflict.Wrap(err))
		}
	}

	if err := c.player.Start(ctx, id, resource); err != nil {
		log.CtxError(ctx, "playback start failed: id=%s, err=%v", id, err)
		return nil, errcode.ErrPlaybackStartFailed.Wrap(err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		// released by Stop or Pause while starting
		c.mu.Unlock()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.stopTimeout)
		defer cancel()
		if err := c.player.Stop(stopCtx, id); err != nil {
			log.CtxWarn(ctx, "playback stop preempted start failed: id=%s, err=%v", id, err)
		}
		return nil, errcode.ErrPlaybackPreempted
	}
	c.generation++
	token := &entity.PlaybackToken{
		Id:         id,
		Resource:   resource,
		StartedAt:  c.clk.Now(),
		Generation: c.generation,
	}
	c.current = token
	out := *token
	c.mu.Unlock()

	c.metrics.PlaybackStart()
	c.tokens.Publish(&out)
	return &out, nil
}

func (c *Coordinator) stopWithTimeout(ctx context.Context, id string) error {
	stopCtx, cancel := context.WithTimeout(ctx, c.stopTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.player.Stop(stopCtx, id)
	}()

	select {
	case err := <-done:
		return err
	case <-stopCtx.Done():
		return stopCtx.Err()
	}
}

// Stop silences whatever is playing. Any caller may stop any owner.
func (c *Coordinator) Stop(ctx context.Context) error {
	return c.release(ctx, "stop", c.player.Stop)
}

// Pause pauses whatever is playing and releases ownership
func (c *Coordinator) Pause(ctx context.Context) error {
	return c.release(ctx, "pause", c.player.Pause)
}

// Finished releases id when it reached its natural end. It reports whether
// id was the current owner.
func (c *Coordinator) Finished(id string) bool {
	c.mu.Lock()
	if c.current == nil || c.current.Id != id {
		c.mu.Unlock()
		return false
	}
	c.current = nil
	c.epoch++
	c.mu.Unlock()

	c.tokens.Publish(nil)
	return true
}

func (c *Coordinator) release(ctx context.Context, op string, fn func(context.Context, string) error) error {
	c.mu.Lock()
	prev := c.current
	c.current = nil
	c.epoch++
	c.mu.Unlock()

	if prev == nil {
		return nil
	}
	c.tokens.Publish(nil)

	if err := fn(ctx, prev.Id); err != nil {
		log.CtxWarn(ctx, "playback %s failed: id=%s, err=%v", op, prev.Id, err)
		return err
	}
	return nil
}

// Current returns the live token, or nil when nothing plays
func (c *Coordinator) Current() *entity.PlaybackToken {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return nil
	}
	token := *c.current
	return &token
}

// Tokens streams ownership changes; a nil token means silence
func (c *Coordinator) Tokens() *event.Stream[*entity.PlaybackToken] {
	return c.tokens
}

// Reset stops playback and drops all subscribers at session end
func (c *Coordinator) Reset(ctx context.Context) {
	_ = c.Stop(ctx)
	c.tokens.Close()
}
