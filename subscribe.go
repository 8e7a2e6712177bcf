package signaling

import (
	"sync"
	"sync/atomic"
)

// Subscription is the handle returned when registering a subscriber.
type Subscription struct {
	once   sync.Once
	remove func()
}

// Unsubscribe removes the subscriber. Notifications already queued for it
// are dropped. Calling Unsubscribe more than once has no effect.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.remove == nil {
		return
	}
	s.once.Do(s.remove)
}

type subscriber[T any] struct {
	id     uint64
	fn     func(T)
	active atomic.Bool
}

func (s *subscriber[T]) deliver(v T) {
	if s.active.Load() {
		s.fn(v)
	}
}

// subscribers is an ordered list of callbacks. Notifications capture the
// list at publish time and reach subscribers in registration order.
type subscribers[T any] struct {
	mu     sync.Mutex
	nextID uint64
	list   []*subscriber[T]
}

func (s *subscribers[T]) add(fn func(T)) (*subscriber[T], *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	sub := &subscriber[T]{id: s.nextID, fn: fn}
	sub.active.Store(true)
	s.list = append(s.list, sub)

	return sub, &Subscription{remove: func() { s.remove(sub.id) }}
}

func (s *subscribers[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.list {
		if sub.id == id {
			sub.active.Store(false)
			s.list = append(s.list[:i:i], s.list[i+1:]...)
			return
		}
	}
}

func (s *subscribers[T]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

// publish schedules delivery of v to every current subscriber on exec.
func (s *subscribers[T]) publish(exec Executor, v T) {
	s.mu.Lock()
	if len(s.list) == 0 {
		s.mu.Unlock()
		return
	}
	targets := make([]*subscriber[T], len(s.list))
	copy(targets, s.list)
	s.mu.Unlock()

	exec.Execute(func() {
		for _, sub := range targets {
			sub.deliver(v)
		}
	})
}
