package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock abstracts wall time and timers so lifecycle and debounce logic can
// be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine after d has elapsed
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable handle returned by AfterFunc
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was stopped.
	Stop() bool
}

type realClock struct{}

// Real returns a Clock backed by the time package
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Fake is a manually advanced clock.
//
// Timers fire synchronously inside Advance, in deadline order, on the
// goroutine that calls Advance. Callbacks run without the clock lock held,
// so they may schedule new timers.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    int64
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *Fake
	deadline time.Time
	seq      int64
	f        func()
	done     bool
}

// NewFake creates a fake clock positioned at start
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the current fake time
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f at now+d
func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward by d and fires every timer that becomes due
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		t := c.nextDue(target)
		if t == nil {
			break
		}
		t.f()
	}

	c.mu.Lock()
	if c.now.Before(target) {
		c.now = target
	}
	c.mu.Unlock()
}

// Pending returns the number of timers that have neither fired nor been stopped
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// nextDue pops the earliest timer due at or before target and moves the
// clock to its deadline
func (c *Fake) nextDue(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.timers) == 0 {
		return nil
	}
	sort.Slice(c.timers, func(i, j int) bool {
		if c.timers[i].deadline.Equal(c.timers[j].deadline) {
			return c.timers[i].seq < c.timers[j].seq
		}
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})
	t := c.timers[0]
	if t.deadline.After(target) {
		return nil
	}
	c.timers = c.timers[1:]
	t.done = true
	if t.deadline.After(c.now) {
		c.now = t.deadline
	}
	return t
}

func (t *fakeTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			break
		}
	}
	return true
}
