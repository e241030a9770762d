package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1_700_000_000, 0)

func TestFake_FiresInDeadlineOrder(t *testing.T) {
	c := NewFake(epoch)
	var fired []string

	c.AfterFunc(3*time.Second, func() { fired = append(fired, "c") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "b") })

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, epoch.Add(2*time.Second), c.Now())

	c.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Zero(t, c.Pending())
}

func TestFake_Stop(t *testing.T) {
	c := NewFake(epoch)
	fired := false

	tm := c.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())

	c.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFake_CallbackSchedulesTimer(t *testing.T) {
	c := NewFake(epoch)
	var at []time.Time

	c.AfterFunc(time.Second, func() {
		at = append(at, c.Now())
		c.AfterFunc(time.Second, func() { at = append(at, c.Now()) })
	})

	c.Advance(5 * time.Second)
	require.Len(t, at, 2)
	assert.Equal(t, epoch.Add(time.Second), at[0])
	assert.Equal(t, epoch.Add(2*time.Second), at[1])
}

func TestReal_AfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real().AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}
