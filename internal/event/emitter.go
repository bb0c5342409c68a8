package event

import (
	"sync"
)

// Subscription is a handle returned by every subscribe call.
type Subscription interface {
	Unsubscribe()
}

// UnsubscribeFunc adapts a plain function to Subscription.
type UnsubscribeFunc func()

// Unsubscribe calls f.
func (f UnsubscribeFunc) Unsubscribe() { f() }

// Emitter is a synchronous, typed publish/subscribe point for one event kind.
// Listeners run on the emitting goroutine in subscription order, so the
// emission order seen by a listener matches the order of Emit calls.
type Emitter[T any] struct {
	mu        sync.Mutex
	listeners []listener[T]
	nextID    uint64
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn until the returned subscription is released.
func (e *Emitter[T]) Subscribe(fn func(T)) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, listener[T]{id: id, fn: fn})

	var once sync.Once
	return UnsubscribeFunc(func() {
		once.Do(func() { e.remove(id) })
	})
}

func (e *Emitter[T]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, l := range e.listeners {
		if l.id == id {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return
		}
	}
}

// Emit delivers v to every current listener.
func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	listeners := make([]listener[T], len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	for _, l := range listeners {
		l.fn(v)
	}
}

// Len returns the number of registered listeners.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// Store collects subscriptions that are torn down together. Adding to a
// closed store releases the subscription immediately.
type Store struct {
	mu     sync.Mutex
	subs   []Subscription
	closed bool
}

// Add registers sub with the store.
func (s *Store) Add(sub Subscription) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
}

// AddFunc registers a cleanup function with the store.
func (s *Store) AddFunc(fn func()) {
	s.Add(UnsubscribeFunc(fn))
}

// Close releases every collected subscription in reverse order. It is safe
// to call more than once.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for i := len(subs) - 1; i >= 0; i-- {
		subs[i].Unsubscribe()
	}
}
