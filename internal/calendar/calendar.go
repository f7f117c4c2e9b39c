// Package calendar is the booking backend: availability checks with a
// next-free-slot suggestion, event creation, listing a patient's upcoming
// appointments and deleting them. GoogleCalendar talks to Google Calendar
// v3; Memory keeps events in process for development and tests.
package calendar

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/BTreeMap/CitaBot/internal/models"
)

const (
	// DefaultSlotDuration is the length of one appointment.
	DefaultSlotDuration = time.Hour
	// DefaultSearchHorizon bounds the search for an alternative slot.
	DefaultSearchHorizon = 14 * 24 * time.Hour
	// suggestionStep is the spacing of candidate alternative slots.
	suggestionStep = 30 * time.Minute
)

// ErrEventNotFound is returned when deleting an event that does not exist.
var ErrEventNotFound = errors.New("calendar event not found")

// Event is an appointment to create.
type Event struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Phone       string // local digits, used to find the patient's events later
	Email       string
	BranchID    string
}

// Availability is the answer of CheckAvailability.
type Availability struct {
	Available  bool
	Suggestion *models.SlotSuggestion // next free slot when not available, nil when none was found
}

// Calendar is the booking collaborator consumed by the flows.
type Calendar interface {
	CheckAvailability(ctx context.Context, start, end time.Time, branchID string) (Availability, error)
	CreateEvent(ctx context.Context, ev Event) (models.Appointment, error)
	// ListEvents returns the phone's appointments starting at or after from, soonest first.
	ListEvents(ctx context.Context, phone string, from time.Time) ([]models.Appointment, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

// Opts holds settings shared by the implementations.
type Opts struct {
	Branches []models.Branch
	Horizon  time.Duration
	Location *time.Location
}

// Option configures a calendar implementation.
type Option func(*Opts)

// WithBranches sets the branches whose hours bound suggested slots.
func WithBranches(b []models.Branch) Option {
	return func(o *Opts) { o.Branches = b }
}

// WithHorizon bounds how far ahead alternatives are searched.
func WithHorizon(d time.Duration) Option {
	return func(o *Opts) { o.Horizon = d }
}

// WithLocation sets the timezone events are written in.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

func buildOpts(opts []Option) Opts {
	o := Opts{Branches: models.DefaultBranches(), Horizon: DefaultSearchHorizon, Location: time.Local}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type interval struct {
	start, end time.Time
}

func (i interval) overlaps(start, end time.Time) bool {
	return start.Before(i.end) && i.start.Before(end)
}

func free(busy []interval, start, end time.Time) bool {
	for _, b := range busy {
		if b.overlaps(start, end) {
			return false
		}
	}
	return true
}

// nextFreeSlot walks forward from start in suggestionStep increments and
// returns the first free slot some branch is open for. The requested branch
// is preferred when several are open.
func nextFreeSlot(busy []interval, start time.Time, duration time.Duration, branches []models.Branch, branchID string, horizon time.Duration) *models.SlotSuggestion {
	ordered := append([]models.Branch(nil), branches...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ID == branchID && ordered[j].ID != branchID
	})
	limit := start.Add(horizon)
	for t := start.Add(suggestionStep); t.Before(limit); t = t.Add(suggestionStep) {
		end := t.Add(duration)
		if !free(busy, t, end) {
			continue
		}
		for _, b := range ordered {
			if b.OpenAt(t) && b.OpenAt(end.Add(-time.Minute)) {
				return &models.SlotSuggestion{Start: t, End: end, BranchID: b.ID}
			}
		}
	}
	return nil
}
