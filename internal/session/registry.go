package session

import (
	"sync"
	"time"
)

// Registry serializes work per user. Every turn for a user runs inside
// Do, so two turns for the same user never interleave while different
// users proceed in parallel.
type Registry struct {
	mu    sync.Mutex
	slots map[string]*slot
	now   func() time.Time
}

type slot struct {
	mu       sync.Mutex
	refs     int
	lastSeen time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[string]*slot), now: time.Now}
}

// Do runs fn while holding the lock of userID.
func (r *Registry) Do(userID string, fn func()) {
	r.mu.Lock()
	s, ok := r.slots[userID]
	if !ok {
		s = &slot{}
		r.slots[userID] = s
	}
	s.refs++
	r.mu.Unlock()

	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		r.mu.Lock()
		s.refs--
		s.lastSeen = r.now()
		r.mu.Unlock()
	}()
	fn()
}

// Evict drops slots idle longer than idle and returns how many were removed.
func (r *Registry) Evict(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-idle)
	n := 0
	for id, s := range r.slots {
		if s.refs == 0 && s.lastSeen.Before(cutoff) {
			delete(r.slots, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked users.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}
