package flow

import (
	"context"
	"time"

	"github.com/BTreeMap/CitaBot/internal/genai"
	"github.com/BTreeMap/CitaBot/internal/intent"
	"github.com/BTreeMap/CitaBot/internal/models"
)

// StateManager defines the interface for managing Conversation State.
type StateManager interface {
	// Load returns the user's session, or a fresh idle one when none is stored.
	Load(ctx context.Context, userID string) (*models.Session, error)

	// Save persists a session suspended on a capture step.
	Save(ctx context.Context, s *models.Session) error

	// Clear removes all state for the user.
	Clear(ctx context.Context, userID string) error

	// Suspended returns every stored session waiting on a capture step.
	Suspended(ctx context.Context) ([]*models.Session, error)
}

// Timer defines the per-user inactivity timer.
type Timer interface {
	// Start arms a one-shot timer for userID, replacing any outstanding one.
	Start(userID string, d time.Duration, onTimeout func())

	// Restart is Start under the name used by capture steps.
	Restart(userID string, d time.Duration, onTimeout func())

	// Stop cancels the user's timer and reports whether one was armed.
	Stop(userID string) bool

	// Active reports whether the user has an armed timer.
	Active(userID string) bool

	// StopAll cancels every timer.
	StopAll()
}

// Classifier maps a turn's text to an intent.
type Classifier interface {
	Classify(ctx context.Context, text string) intent.Decision
}

// NameChecker validates a registration name.
type NameChecker interface {
	Check(ctx context.Context, name string) genai.NameVerdict
}
