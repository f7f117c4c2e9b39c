package calendar

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/CitaBot/internal/models"
)

type memoryEvent struct {
	Event
	id string
}

// Memory is an in-process Calendar.
type Memory struct {
	mu     sync.Mutex
	events map[string]memoryEvent
	opts   Opts
}

var _ Calendar = (*Memory)(nil)

// NewMemory creates an empty in-memory calendar.
func NewMemory(opts ...Option) *Memory {
	return &Memory{events: make(map[string]memoryEvent), opts: buildOpts(opts)}
}

func (m *Memory) busy() []interval {
	out := make([]interval, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, interval{start: ev.Start, end: ev.End})
	}
	return out
}

// CheckAvailability reports whether [start, end) is free.
func (m *Memory) CheckAvailability(_ context.Context, start, end time.Time, branchID string) (Availability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	busy := m.busy()
	if free(busy, start, end) {
		return Availability{Available: true}, nil
	}
	return Availability{Suggestion: nextFreeSlot(busy, start, end.Sub(start), m.opts.Branches, branchID, m.opts.Horizon)}, nil
}

// CreateEvent stores ev and returns it with a new id.
func (m *Memory) CreateEvent(_ context.Context, ev Event) (models.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.events[id] = memoryEvent{Event: ev, id: id}
	return toAppointment(id, ev), nil
}

// ListEvents returns the phone's events from from on, soonest first.
func (m *Memory) ListEvents(_ context.Context, phone string, from time.Time) ([]models.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Appointment
	for _, ev := range m.events {
		if ev.Phone == phone && !ev.Start.Before(from) {
			out = append(out, toAppointment(ev.id, ev.Event))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// DeleteEvent removes an event.
func (m *Memory) DeleteEvent(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[eventID]; !ok {
		return ErrEventNotFound
	}
	delete(m.events, eventID)
	return nil
}

// Len returns the number of stored events.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func toAppointment(id string, ev Event) models.Appointment {
	return models.Appointment{EventID: id, Title: ev.Title, Start: ev.Start, End: ev.End, Description: ev.Description}
}
