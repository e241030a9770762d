package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/convsync/internal/entity"
	"github.com/mbeoliero/convsync/pkg/errcode"
)

type fakePlayer struct {
	mu      sync.Mutex
	calls   []string
	stopErr error
	// stopBlock makes Stop wait for ctx
	stopBlock bool
	// onStart runs inside Start
	onStart func(id string)
}

func (p *fakePlayer) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePlayer) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePlayer) Start(ctx context.Context, id, resource string) error {
	p.record("start:" + id)
	if p.onStart != nil {
		p.onStart(id)
	}
	return nil
}

func (p *fakePlayer) Stop(ctx context.Context, id string) error {
	p.record("stop:" + id)
	if p.stopBlock {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.stopErr
}

func (p *fakePlayer) Pause(ctx context.Context, id string) error {
	p.record("pause:" + id)
	return nil
}

func TestRequestPlay_SwitchStopsPreviousFirst(t *testing.T) {
	player := &fakePlayer{}
	c := New(player, time.Second)
	ctx := context.Background()

	_, err := c.RequestPlay(ctx, "A", "https://cdn/a.m4a")
	require.NoError(t, err)
	token, err := c.RequestPlay(ctx, "B", "https://cdn/b.m4a")
	require.NoError(t, err)

	assert.Equal(t, []string{"start:A", "stop:A", "start:B"}, player.Calls())
	assert.Equal(t, "B", token.Id)
	assert.Equal(t, "B", c.Current().Id)
}

func TestRequestPlay_SameIdIsNoop(t *testing.T) {
	player := &fakePlayer{}
	c := New(player, time.Second)
	ctx := context.Background()

	first, err := c.RequestPlay(ctx, "A", "https://cdn/a.m4a")
	require.NoError(t, err)
	second, err := c.RequestPlay(ctx, "A", "https://cdn/a.m4a")
	require.NoError(t, err)

	assert.Equal(t, []string{"start:A"}, player.Calls())
	assert.Equal(t, first.Generation, second.Generation)
}

func TestRequestPlay_StopFailureStillStarts(t *testing.T) {
	player := &fakePlayer{stopErr: errors.New("device busy")}
	c := New(player, time.Second)
	ctx := context.Background()

	_, err := c.RequestPlay(ctx, "A", "a")
	require.NoError(t, err)
	_, err = c.RequestPlay(ctx, "B", "b")
	require.NoError(t, err)

	assert.Equal(t, []string{"start:A", "stop:A", "start:B"}, player.Calls())
	assert.Equal(t, "B", c.Current().Id)
}

func TestRequestPlay_StopTimeoutStillStarts(t *testing.T) {
	player := &fakePlayer{}
	c := New(player, 20*time.Millisecond)
	ctx := context.Background()

	_, err := c.RequestPlay(ctx, "A", "a")
	require.NoError(t, err)

	player.stopBlock = true
	_, err = c.RequestPlay(ctx, "B", "b")
	require.NoError(t, err)
	assert.Equal(t, "B", c.Current().Id)
}

func TestStop_ReleasesAnyOwner(t *testing.T) {
	player := &fakePlayer{}
	c := New(player, time.Second)
	ctx := context.Background()

	var tokens []*entity.PlaybackToken
	sub := c.Tokens().Subscribe(func(tok *entity.PlaybackToken) { tokens = append(tokens, tok) })
	defer sub.Unsubscribe()

	_, err := c.RequestPlay(ctx, "A", "a")
	require.NoError(t, err)
	require.NoError(t, c.Stop(ctx))
	assert.Nil(t, c.Current())

	// releasing an idle coordinator is harmless
	require.NoError(t, c.Pause(ctx))

	assert.Equal(t, []string{"start:A", "stop:A"}, player.Calls())
	require.Len(t, tokens, 2)
	assert.Equal(t, "A", tokens[0].Id)
	assert.Nil(t, tokens[1])
}

func TestPause_ThenReplayStartsAgain(t *testing.T) {
	player := &fakePlayer{}
	c := New(player, time.Second)
	ctx := context.Background()

	_, _ = c.RequestPlay(ctx, "A", "a")
	require.NoError(t, c.Pause(ctx))
	_, err := c.RequestPlay(ctx, "A", "a")
	require.NoError(t, err)

	assert.Equal(t, []string{"start:A", "pause:A", "start:A"}, player.Calls())
}

func TestRequestPlay_PreemptedByStop(t *testing.T) {
	player := &fakePlayer{}
	c := New(player, time.Second)
	ctx := context.Background()

	player.onStart = func(id string) {
		// another caller silences playback while the device is starting
		_ = c.Stop(ctx)
	}

	_, err := c.RequestPlay(ctx, "A", "a")
	assert.ErrorIs(t, err, errcode.ErrPlaybackPreempted)
	assert.Nil(t, c.Current())
	assert.Equal(t, []string{"start:A", "stop:A"}, player.Calls())
}

func TestFinished(t *testing.T) {
	player := &fakePlayer{}
	c := New(player, time.Second)
	ctx := context.Background()

	_, _ = c.RequestPlay(ctx, "A", "a")
	assert.False(t, c.Finished("B"))
	assert.True(t, c.Finished("A"))
	assert.Nil(t, c.Current())

	_, err := c.RequestPlay(ctx, "B", "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"start:A", "start:B"}, player.Calls())
}

func TestRequestPlay_AtMostOneOwnerUnderContention(t *testing.T) {
	player := &fakePlayer{}
	c := New(player, time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"A", "B", "C", "D"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = c.RequestPlay(ctx, id, id)
		}(id)
	}
	wg.Wait()

	playing := 0
	for _, call := range player.Calls() {
		switch call[:4] {
		case "star":
			playing++
		case "stop":
			playing--
		}
		assert.LessOrEqual(t, playing, 1)
	}
	assert.Equal(t, 1, playing)
	assert.NotNil(t, c.Current())
}
