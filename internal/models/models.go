// Package models defines the core data structures for CitaBot.
//
// It includes the durable customer record, the blocklist and ledger rows,
// and the typed inbound events shared by the transport and the dialogue engine.
package models

import (
	"errors"
	"time"
)

// CustomerStatus is the automation state of a customer.
type CustomerStatus string

const (
	// StatusActive customers are served by the bot.
	StatusActive CustomerStatus = "ACTIVE"
	// StatusAwaitingHuman customers asked for the doctor; the bot stays quiet until an admin resets them.
	StatusAwaitingHuman CustomerStatus = "AWAITING_HUMAN"
)

// IsValid reports whether the status is one of the known values.
func (s CustomerStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusAwaitingHuman:
		return true
	default:
		return false
	}
}

// Validation constants for customer data
const (
	// MaxHistoryQuestionLength caps the raw question stored in a history entry
	MaxHistoryQuestionLength = 2000
	// MaxHistoryResponseLength caps the response text stored in a history entry
	MaxHistoryResponseLength = 4000
)

// Error variables for better error handling and testability
var (
	ErrEmptyPhone     = errors.New("phone cannot be empty")
	ErrInvalidStatus  = errors.New("invalid customer status")
	ErrEmptyIntentTag = errors.New("history entry intent cannot be empty")
)

// Customer is the durable record of a patient, keyed by canonical phone digits.
type Customer struct {
	Phone     string         `json:"phone"`
	Name      string         `json:"name,omitempty"`
	Email     string         `json:"email,omitempty"`
	Status    CustomerStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Registered reports whether the customer completed registration.
func (c *Customer) Registered() bool {
	return c != nil && c.Name != ""
}

// CustomerUpdate carries the fields to set on an upsert. Nil fields are left untouched.
type CustomerUpdate struct {
	Name   *string
	Email  *string
	Status *CustomerStatus
}

// HistoryEntry is one append-only interaction record of a customer.
type HistoryEntry struct {
	Intent    Intent    `json:"intent"`
	Question  string    `json:"question"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the entry and truncates oversized text fields.
func (h *HistoryEntry) Validate() error {
	if h.Intent == "" {
		return ErrEmptyIntentTag
	}
	if len(h.Question) > MaxHistoryQuestionLength {
		h.Question = h.Question[:MaxHistoryQuestionLength]
	}
	if len(h.Response) > MaxHistoryResponseLength {
		h.Response = h.Response[:MaxHistoryResponseLength]
	}
	return nil
}

// BlocklistEntry is a blocked sender. At most one row exists per phone;
// unblocking flips Active instead of deleting.
type BlocklistEntry struct {
	Phone     string    `json:"phone"`
	Active    bool      `json:"active"`
	BlockedAt time.Time `json:"blocked_at"`
}

// TransactionType is the direction of a ledger movement.
type TransactionType string

const (
	TransactionIncome  TransactionType = "income"
	TransactionExpense TransactionType = "expense"
)

// Transaction is a clinic cash movement used by the daily cash report.
type Transaction struct {
	ID          string          `json:"id"`
	Type        TransactionType `json:"type"`
	Amount      float64         `json:"amount"`
	Description string          `json:"description"`
	Date        time.Time       `json:"transaction_date"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Appointment is a booked calendar event as seen by the dialogue engine.
type Appointment struct {
	EventID     string    `json:"event_id"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description,omitempty"`
}
