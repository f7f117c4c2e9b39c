package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/session"
)

// SessionStateManager implements StateManager on a session.Store.
type SessionStateManager struct {
	store session.Store
	now   func() time.Time
}

var _ StateManager = (*SessionStateManager)(nil)

// NewSessionStateManager creates a StateManager backed by st.
func NewSessionStateManager(st session.Store) *SessionStateManager {
	slog.Debug("Creating SessionStateManager")
	return &SessionStateManager{store: st, now: time.Now}
}

// Load retrieves the user's session or starts a fresh one.
func (sm *SessionStateManager) Load(ctx context.Context, userID string) (*models.Session, error) {
	s, err := sm.store.Load(ctx, userID)
	if err != nil {
		slog.Error("StateManager Load error", "error", err, "user", userID)
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if s == nil {
		slog.Debug("StateManager Load starting fresh session", "user", userID)
		return models.NewSession(userID, sm.now()), nil
	}
	slog.Debug("StateManager Load found", "user", userID, "flow", s.Flow, "step", s.Step)
	return s, nil
}

// Save stores the session with a new UpdatedAt.
func (sm *SessionStateManager) Save(ctx context.Context, s *models.Session) error {
	s.UpdatedAt = sm.now()
	if err := sm.store.Save(ctx, s); err != nil {
		slog.Error("StateManager Save error", "error", err, "user", s.UserID, "flow", s.Flow, "step", s.Step)
		return fmt.Errorf("failed to save session: %w", err)
	}
	slog.Debug("StateManager Save succeeded", "user", s.UserID, "flow", s.Flow, "step", s.Step)
	return nil
}

// Clear deletes the user's session.
func (sm *SessionStateManager) Clear(ctx context.Context, userID string) error {
	if err := sm.store.Delete(ctx, userID); err != nil {
		slog.Error("StateManager Clear error", "error", err, "user", userID)
		return fmt.Errorf("failed to clear session: %w", err)
	}
	slog.Debug("StateManager Clear succeeded", "user", userID)
	return nil
}

// Suspended lists the sessions waiting on a capture step.
func (sm *SessionStateManager) Suspended(ctx context.Context) ([]*models.Session, error) {
	all, err := sm.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	out := make([]*models.Session, 0, len(all))
	for _, s := range all {
		if s.Awaiting() {
			out = append(out, s)
		}
	}
	return out, nil
}
