package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStream_PublishInSubscribeOrder(t *testing.T) {
	s := NewStream[int]()
	var got []string

	s.Subscribe(func(v int) { got = append(got, "a") })
	s.Subscribe(func(v int) { got = append(got, "b") })
	s.Publish(1)

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 2, s.Len())
}

func TestStream_UnsubscribeIsIdempotent(t *testing.T) {
	s := NewStream[string]()
	var got []string

	sub := s.Subscribe(func(v string) { got = append(got, v) })
	s.Publish("one")
	sub.Unsubscribe()
	sub.Unsubscribe()
	s.Publish("two")

	assert.Equal(t, []string{"one"}, got)
	assert.Zero(t, s.Len())
}

func TestStream_UnsubscribeDuringPublish(t *testing.T) {
	s := NewStream[int]()
	calls := 0

	var sub *Subscription
	sub = s.Subscribe(func(int) {
		calls++
		sub.Unsubscribe()
	})
	s.Subscribe(func(int) { calls++ })

	s.Publish(1)
	s.Publish(2)
	assert.Equal(t, 3, calls)
}

func TestStream_Close(t *testing.T) {
	s := NewStream[int]()
	calls := 0
	s.Subscribe(func(int) { calls++ })

	s.Close()
	s.Publish(1)
	late := s.Subscribe(func(int) { calls++ })
	s.Publish(2)
	late.Unsubscribe()

	assert.Zero(t, calls)
	assert.Zero(t, s.Len())
}

func TestGroup_UnsubscribeAll(t *testing.T) {
	a := NewStream[int]()
	b := NewStream[string]()
	var g Group

	g.Add(a.Subscribe(func(int) {}))
	g.Add(b.Subscribe(func(string) {}))
	assert.Equal(t, 2, g.Len())

	g.UnsubscribeAll()
	g.UnsubscribeAll()
	assert.Zero(t, g.Len())
	assert.Zero(t, a.Len())
	assert.Zero(t, b.Len())
}

func TestSubscription_NilSafe(t *testing.T) {
	var sub *Subscription
	assert.NotPanics(t, sub.Unsubscribe)
}
