package event

import "sync"

// Handler receives published values
type Handler[T any] func(T)

// Stream is a synchronous publish/subscribe channel.
//
// Handlers run on the publishing goroutine in subscription order. A handler
// must not block; long work should be handed off to its own goroutine.
type Stream[T any] struct {
	mu     sync.RWMutex
	subs   []subscriber[T]
	nextId uint64
	closed bool
}

type subscriber[T any] struct {
	id uint64
	h  Handler[T]
}

// NewStream creates an empty stream
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{}
}

// Subscribe registers h. Subscribing to a closed stream returns an inert
// subscription.
func (s *Stream[T]) Subscribe(h Handler[T]) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &Subscription{}
	}

	s.nextId++
	id := s.nextId
	s.subs = append(s.subs, subscriber[T]{id: id, h: h})

	return &Subscription{cancel: func() { s.remove(id) }}
}

// Publish delivers v to every current subscriber
func (s *Stream[T]) Publish(v T) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	subs := make([]subscriber[T], len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.h(v)
	}
}

// Len returns the number of live subscribers
func (s *Stream[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Close drops every subscriber; later publishes are ignored
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = nil
}

func (s *Stream[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

// Subscription is the handle returned by Subscribe
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the handler. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Group collects subscriptions owned by one component so they can be
// released together on teardown.
type Group struct {
	mu   sync.Mutex
	subs []*Subscription
}

// Add tracks sub
func (g *Group) Add(sub *Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs = append(g.subs, sub)
}

// UnsubscribeAll releases every tracked subscription
func (g *Group) UnsubscribeAll() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// Len returns the number of tracked subscriptions
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}
