package testutil

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/BTreeMap/CitaBot/internal/calendar"
	"github.com/BTreeMap/CitaBot/internal/genai"
	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/store"
)

func TestScriptedLLMRepliesInOrder(t *testing.T) {
	llm := NewScriptedLLM("uno", "dos")
	ctx := context.Background()

	if got, err := llm.GeneratePromptWithContext(ctx, "sys", "a"); err != nil || got != "uno" {
		t.Fatalf("first reply = %q, %v", got, err)
	}
	msgs := []genai.Message{{Role: genai.RoleUser, Content: "b"}}
	if got, err := llm.GenerateWithMessages(ctx, "sys", msgs); err != nil || got != "dos" {
		t.Fatalf("second reply = %q, %v", got, err)
	}
	if _, err := llm.GeneratePromptWithContext(ctx, "sys", "c"); !errors.Is(err, ErrScriptExhausted) {
		t.Errorf("expected ErrScriptExhausted, got %v", err)
	}
	if llm.CallCount() != 3 {
		t.Errorf("expected 3 calls, got %d", llm.CallCount())
	}
	if len(llm.Calls) != 1 || llm.Calls[0][0].Content != "b" {
		t.Errorf("unexpected recorded conversations: %+v", llm.Calls)
	}
}

func TestClockAdvance(t *testing.T) {
	start := time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC)
	c := NewClock(start)
	c.Advance(90 * time.Minute)
	if got := c.Now(); !got.Equal(start.Add(90 * time.Minute)) {
		t.Errorf("Now() = %v", got)
	}
}

func TestFailingCalendar(t *testing.T) {
	boom := errors.New("boom")
	cal := &FailingCalendar{Calendar: calendar.NewMemory(), CreateErr: boom}
	ctx := context.Background()
	start := time.Now().Add(48 * time.Hour)

	if _, err := cal.CreateEvent(ctx, calendar.Event{Title: "x", Start: start, End: start.Add(time.Hour)}); !errors.Is(err, boom) {
		t.Errorf("CreateEvent error = %v, want boom", err)
	}
	if _, err := cal.ListEvents(ctx, "70000000", time.Now()); err != nil {
		t.Errorf("ListEvents should pass through, got %v", err)
	}
}

func TestSeedCustomerAndHistoryCount(t *testing.T) {
	st := store.NewInMemoryStore()
	SeedCustomer(t, st, "59170000000", "Ana Pérez")

	c, err := st.FindByPhone(context.Background(), "59170000000")
	if err != nil || c == nil || c.Name != "Ana Pérez" {
		t.Fatalf("seeded customer = %+v, %v", c, err)
	}
	entry := models.HistoryEntry{Intent: models.IntentHours, Question: "horario", Response: "r", CreatedAt: time.Now()}
	if err := st.AppendHistory(context.Background(), "59170000000", entry); err != nil {
		t.Fatal(err)
	}
	AssertHistoryCount(t, st, "59170000000", models.IntentHours, 1)
	AssertHistoryCount(t, st, "59170000000", models.IntentBook, 0)
}

func TestCreateHTTPRequest(t *testing.T) {
	req := CreateHTTPRequest(t, http.MethodPost, "/twilio/webhook", map[string]string{"Body": "hola"})
	if req.Method != http.MethodPost || req.URL.Path != "/twilio/webhook" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	AssertHTTPStatus(t, http.StatusOK, http.StatusOK, "same status")
}
