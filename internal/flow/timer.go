package flow

import (
	"log/slog"
	"sync"
	"time"
)

// timerEntry tracks the outstanding timer of one user.
type timerEntry struct {
	timer     *time.Timer
	gen       uint64
	expiresAt time.Time
}

// InactivityTimer implements Timer with one time.AfterFunc per user.
// A fired or stopped timer never runs its callback twice: every arm gets a
// new generation and the callback only runs while its generation is current.
type InactivityTimer struct {
	mu     sync.Mutex
	timers map[string]*timerEntry
	gen    uint64
}

var _ Timer = (*InactivityTimer)(nil)

// NewInactivityTimer creates an InactivityTimer with no armed timers.
func NewInactivityTimer() *InactivityTimer {
	slog.Debug("Creating InactivityTimer")
	return &InactivityTimer{timers: make(map[string]*timerEntry)}
}

// Start arms a timer for userID that calls onTimeout after d.
func (t *InactivityTimer) Start(userID string, d time.Duration, onTimeout func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.timers[userID]; ok {
		prev.timer.Stop()
	}
	t.gen++
	gen := t.gen
	entry := &timerEntry{gen: gen, expiresAt: time.Now().Add(d)}
	entry.timer = time.AfterFunc(d, func() { t.fire(userID, gen, onTimeout) })
	t.timers[userID] = entry
	slog.Debug("InactivityTimer Start", "user", userID, "delay", d)
}

// Restart cancels the outstanding timer and arms a new one.
func (t *InactivityTimer) Restart(userID string, d time.Duration, onTimeout func()) {
	t.Start(userID, d, onTimeout)
}

func (t *InactivityTimer) fire(userID string, gen uint64, onTimeout func()) {
	t.mu.Lock()
	entry, ok := t.timers[userID]
	if !ok || entry.gen != gen {
		t.mu.Unlock()
		slog.Debug("InactivityTimer stale timer ignored", "user", userID)
		return
	}
	delete(t.timers, userID)
	t.mu.Unlock()

	slog.Debug("InactivityTimer fired", "user", userID)
	onTimeout()
}

// Stop cancels the user's timer.
func (t *InactivityTimer) Stop(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.timers[userID]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(t.timers, userID)
	slog.Debug("InactivityTimer Stop", "user", userID)
	return true
}

// Active reports whether userID has an armed timer.
func (t *InactivityTimer) Active(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[userID]
	return ok
}

// Remaining returns the time left on the user's timer, zero when none is armed.
func (t *InactivityTimer) Remaining(userID string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.timers[userID]
	if !ok {
		return 0
	}
	if left := time.Until(entry.expiresAt); left > 0 {
		return left
	}
	return 0
}

// StopAll cancels every timer.
func (t *InactivityTimer) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.timers {
		entry.timer.Stop()
	}
	slog.Info("InactivityTimer stopped all timers", "count", len(t.timers))
	t.timers = make(map[string]*timerEntry)
}
