package session

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Mutex is a lock whose waiters are served in arrival order and can give up
// through their context.
type Mutex struct {
	once sync.Once
	sem  *semaphore.Weighted
}

func (m *Mutex) weighted() *semaphore.Weighted {
	m.once.Do(func() { m.sem = semaphore.NewWeighted(1) })
	return m.sem
}

// Acquire takes the lock. It returns ok=false without holding the lock when
// ctx is done before the lock is handed over. The release func must be
// called exactly once; releasing an unlocked Mutex panics.
func (m *Mutex) Acquire(ctx context.Context) (release func(), ok bool) {
	sem := m.weighted()
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, false
	}
	return m.release, true
}

// Locked reports whether the lock is held.
func (m *Mutex) Locked() bool {
	sem := m.weighted()
	if !sem.TryAcquire(1) {
		return true
	}
	sem.Release(1)
	return false
}

func (m *Mutex) release() {
	m.weighted().Release(1)
}

// keyedMutex hands out one Mutex per key and forgets keys nobody is using.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	m     Mutex
	users int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Acquire locks key. The returned release func must be called exactly once
// when ok is true.
func (k *keyedMutex) Acquire(ctx context.Context, key string) (release func(), ok bool) {
	k.mu.Lock()
	e := k.locks[key]
	if e == nil {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.users++
	k.mu.Unlock()

	unlock, ok := e.m.Acquire(ctx)
	if !ok {
		k.done(key, e)
		return nil, false
	}
	return func() {
		unlock()
		k.done(key, e)
	}, true
}

func (k *keyedMutex) done(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.users--
	if e.users == 0 && k.locks[key] == e {
		delete(k.locks, key)
	}
}

func (k *keyedMutex) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
