// Package models defines conversation session structures for CitaBot flows.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is the per-user Conversation State. It lives for one logical
// interaction and is replaced wholesale when a flow ends.
type Session struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Flow      FlowID `json:"flow,omitempty"`
	Step      StepID `json:"step,omitempty"`
	Message   string `json:"message,omitempty"`    // text of the current turn (debounced or transcribed)
	FromVoice bool   `json:"from_voice,omitempty"` // current turn was a voice note

	Registration RegistrationData `json:"registration"`
	Booking      BookingData      `json:"booking"`
	Cancel       CancelData       `json:"cancel"`
	FAQ          FAQData          `json:"faq"`
	Admin        AdminData        `json:"admin"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RegistrationData is the working data of the registration flow.
type RegistrationData struct {
	Attempts       int    `json:"attempts,omitempty"`
	PendingMessage string `json:"pending_message,omitempty"` // first message, classified once the name is stored
}

// SlotSuggestion is an alternative slot proposed by the calendar.
type SlotSuggestion struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	BranchID string    `json:"branch_id,omitempty"`
}

// BookingData is the Pending Reservation.
type BookingData struct {
	BranchID      string          `json:"branch_id,omitempty"`
	PartialDate   *time.Time      `json:"partial_date,omitempty"`
	PartialHour   *int            `json:"partial_hour,omitempty"`
	PartialMinute int             `json:"partial_minute,omitempty"`
	Suggestion    *SlotSuggestion `json:"suggestion,omitempty"`
	Start         time.Time       `json:"start,omitempty"`
	End           time.Time       `json:"end,omitempty"`
	Name          string          `json:"name,omitempty"`
	Email         string          `json:"email,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Confirmed     bool            `json:"confirmed,omitempty"`
}

// Complete reports whether every field required to commit is present.
func (b BookingData) Complete() bool {
	return b.BranchID != "" && b.Name != "" && b.Reason != "" && !b.Start.IsZero() && !b.End.IsZero()
}

// CancelData is the working data of the cancellation flow.
type CancelData struct {
	Appointments []Appointment `json:"appointments,omitempty"`
	Selected     int           `json:"selected,omitempty"` // 1-based
}

// FAQData is shared by the hours, location, specialties and pricing flows.
type FAQData struct {
	Specialty         string `json:"specialty,omitempty"`
	CarriedSpecialty  string `json:"carried_specialty,omitempty"`
	ShowedAllPrices   bool   `json:"showed_all_prices,omitempty"`
	AskedDiscount     bool   `json:"asked_discount,omitempty"`
	RecommendedBranch string `json:"recommended_branch,omitempty"`
}

// AdminBooking is an appointment drafted by the admin through free text.
type AdminBooking struct {
	PatientName string    `json:"patient_name"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Reason      string    `json:"reason"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// AdminData is the working data of the admin flows.
type AdminData struct {
	Draft *AdminBooking `json:"draft,omitempty"`
}

// NewSession creates an idle session for userID.
func NewSession(userID string, now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Awaiting reports whether the session is suspended on a capture step.
func (s *Session) Awaiting() bool {
	return s.Flow != FlowNone && s.Step != StepNone
}

// Await suspends the session on step of flow.
func (s *Session) Await(flow FlowID, step StepID) {
	s.Flow = flow
	s.Step = step
}

// Reset replaces the session with a fresh idle one for the same user.
func (s *Session) Reset(now time.Time) {
	*s = *NewSession(s.UserID, now)
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Booking.PartialDate != nil {
		d := *s.Booking.PartialDate
		c.Booking.PartialDate = &d
	}
	if s.Booking.PartialHour != nil {
		h := *s.Booking.PartialHour
		c.Booking.PartialHour = &h
	}
	if s.Booking.Suggestion != nil {
		sg := *s.Booking.Suggestion
		c.Booking.Suggestion = &sg
	}
	if s.Cancel.Appointments != nil {
		c.Cancel.Appointments = append([]Appointment(nil), s.Cancel.Appointments...)
	}
	if s.Admin.Draft != nil {
		d := *s.Admin.Draft
		c.Admin.Draft = &d
	}
	return &c
}
