// Package session holds the per-user Conversation State.
//
// Sessions live for one logical interaction: the dialogue engine loads the
// session at the start of a turn, mutates it and saves it back, or deletes
// it on every terminal path. Sessions are never the customer record.
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/BTreeMap/CitaBot/internal/models"
)

// Store persists sessions keyed by user id.
type Store interface {
	// Load returns nil, nil when the user has no session.
	Load(ctx context.Context, userID string) (*models.Session, error)
	Save(ctx context.Context, s *models.Session) error
	Delete(ctx context.Context, userID string) error
	// List returns every stored session; used for startup recovery.
	List(ctx context.Context) ([]*models.Session, error)
}

// MemoryStore is a process-local Store. Sessions are cloned on the way in
// and out so callers never share mutable state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*models.Session)}
}

func (m *MemoryStore) Load(_ context.Context, userID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, s *models.Session) error {
	if s == nil || s.UserID == "" {
		return ErrInvalidSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.UserID] = s.Clone()
	slog.Debug("MemoryStore Save", "user", s.UserID, "flow", s.Flow, "step", s.Step)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
