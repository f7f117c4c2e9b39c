// Package testutil provides common test doubles and helpers for CitaBot tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/CitaBot/internal/calendar"
	"github.com/BTreeMap/CitaBot/internal/genai"
	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/store"
)

// ErrScriptExhausted is returned by ScriptedLLM once its replies run out.
var ErrScriptExhausted = errors.New("scripted llm: no replies left")

// ScriptedLLM is a genai.ClientInterface that answers from a fixed list of
// replies and records every prompt it was given.
type ScriptedLLM struct {
	mu      sync.Mutex
	Replies []string
	Err     error // returned by every call when set
	Prompts []string
	Calls   [][]genai.Message
}

var _ genai.ClientInterface = (*ScriptedLLM)(nil)

// NewScriptedLLM returns a model that answers with replies in order.
func NewScriptedLLM(replies ...string) *ScriptedLLM {
	return &ScriptedLLM{Replies: replies}
}

func (s *ScriptedLLM) next() (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	if len(s.Replies) == 0 {
		return "", ErrScriptExhausted
	}
	r := s.Replies[0]
	s.Replies = s.Replies[1:]
	return r, nil
}

func (s *ScriptedLLM) GeneratePromptWithContext(_ context.Context, _ string, userPrompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Prompts = append(s.Prompts, userPrompt)
	return s.next()
}

func (s *ScriptedLLM) GenerateWithMessages(_ context.Context, _ string, messages []genai.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, append([]genai.Message(nil), messages...))
	if len(messages) > 0 {
		s.Prompts = append(s.Prompts, messages[len(messages)-1].Content)
	}
	return s.next()
}

// CallCount returns how many requests the model received.
func (s *ScriptedLLM) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Prompts)
}

// Clock is a settable clock for code that takes a func() time.Time.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// FailingCalendar wraps a calendar.Calendar and fails the operations whose error is set.
type FailingCalendar struct {
	calendar.Calendar
	CheckErr  error
	CreateErr error
	ListErr   error
	DeleteErr error
}

func (f *FailingCalendar) CheckAvailability(ctx context.Context, start, end time.Time, branchID string) (calendar.Availability, error) {
	if f.CheckErr != nil {
		return calendar.Availability{}, f.CheckErr
	}
	return f.Calendar.CheckAvailability(ctx, start, end, branchID)
}

func (f *FailingCalendar) CreateEvent(ctx context.Context, ev calendar.Event) (models.Appointment, error) {
	if f.CreateErr != nil {
		return models.Appointment{}, f.CreateErr
	}
	return f.Calendar.CreateEvent(ctx, ev)
}

func (f *FailingCalendar) ListEvents(ctx context.Context, phone string, from time.Time) ([]models.Appointment, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return f.Calendar.ListEvents(ctx, phone, from)
}

func (f *FailingCalendar) DeleteEvent(ctx context.Context, eventID string) error {
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	return f.Calendar.DeleteEvent(ctx, eventID)
}

// SeedCustomer registers an active customer.
func SeedCustomer(t *testing.T, st store.CustomerStore, phone, name string) {
	t.Helper()
	status := models.StatusActive
	if err := st.Upsert(context.Background(), phone, models.CustomerUpdate{Name: &name, Status: &status}); err != nil {
		t.Fatalf("failed to seed customer %s: %v", phone, err)
	}
}

// AssertHistoryCount checks how many history entries of intent phone has.
func AssertHistoryCount(t *testing.T, st store.CustomerStore, phone string, intent models.Intent, expected int) {
	t.Helper()
	entries, err := st.ListHistory(context.Background(), phone, 1000)
	if err != nil {
		t.Fatalf("failed to list history of %s: %v", phone, err)
	}
	got := 0
	for _, e := range entries {
		if e.Intent == intent {
			got++
		}
	}
	if got != expected {
		t.Errorf("expected %d %s history entries for %s, got %d", expected, intent, phone, got)
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}
