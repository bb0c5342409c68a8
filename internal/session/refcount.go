package session

import (
	"sync"
)

// RefCounted is a Session shared by every caller that created or got it
// from the Service. Each holder calls Release once; the session is disposed
// when the last holder releases it.
type RefCounted struct {
	*Session

	mu     sync.Mutex
	refs   int
	onZero func(*RefCounted)
	once   sync.Once
}

func newRefCounted(s *Session, onZero func(*RefCounted)) *RefCounted {
	return &RefCounted{Session: s, refs: 1, onZero: onZero}
}

// acquire adds a holder. It fails once the session is released or disposed.
func (r *RefCounted) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refs == 0 || r.Session.Disposed() {
		return false
	}
	r.refs++
	return true
}

// Release drops one holder. Extra calls after the last release are ignored.
func (r *RefCounted) Release() {
	r.mu.Lock()
	if r.refs == 0 {
		r.mu.Unlock()
		return
	}
	r.refs--
	zero := r.refs == 0
	r.mu.Unlock()

	if zero && r.onZero != nil {
		r.onZero(r)
	}
}

// Refs returns the number of holders.
func (r *RefCounted) Refs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs
}

// dispose closes the session regardless of holders.
func (r *RefCounted) dispose() error {
	var err error
	r.once.Do(func() {
		err = r.Session.Close()
	})
	return err
}
