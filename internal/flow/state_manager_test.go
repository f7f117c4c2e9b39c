package flow

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/session"
)

func TestSessionStateManagerLoadSaveClear(t *testing.T) {
	ctx := context.Background()
	sm := NewSessionStateManager(session.NewMemoryStore())

	s, err := sm.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.UserID != "u1" || s.Awaiting() {
		t.Fatalf("expected a fresh idle session, got %+v", s)
	}

	s.Await(models.FlowBooking, models.StepBookingEmail)
	s.Booking.Name = "Ana"
	if err := sm.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := sm.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Step != models.StepBookingEmail || got.Booking.Name != "Ana" || got.ID != s.ID {
		t.Errorf("unexpected loaded session %+v", got)
	}

	if err := sm.Clear(ctx, "u1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	got, _ = sm.Load(ctx, "u1")
	if got.Awaiting() || got.ID == s.ID {
		t.Errorf("expected a new session after Clear, got %+v", got)
	}
}

func TestSessionStateManagerSaveStampsUpdatedAt(t *testing.T) {
	sm := NewSessionStateManager(session.NewMemoryStore())
	fixed := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return fixed }

	s := models.NewSession("u1", fixed.Add(-time.Hour))
	s.Await(models.FlowHours, models.StepHoursOffer)
	if err := sm.Save(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if !s.UpdatedAt.Equal(fixed) {
		t.Errorf("UpdatedAt = %v, want %v", s.UpdatedAt, fixed)
	}
}

func TestSessionStateManagerSuspended(t *testing.T) {
	ctx := context.Background()
	sm := NewSessionStateManager(session.NewMemoryStore())

	waiting := models.NewSession("u1", time.Now())
	waiting.Await(models.FlowCancel, models.StepCancelSelect)
	idle := models.NewSession("u2", time.Now())
	for _, s := range []*models.Session{waiting, idle} {
		if err := sm.Save(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	got, err := sm.Suspended(ctx)
	if err != nil {
		t.Fatalf("Suspended: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "u1" {
		t.Errorf("expected only u1 to be suspended, got %+v", got)
	}
}
