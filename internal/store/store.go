// Package store provides durable storage backends for CitaBot.
//
// It holds customer records with their append-only history, the sender
// blocklist, the clinic cash ledger and the inbound de-duplication table.
// Backends are in-memory, SQLite and PostgreSQL; all mutations are
// idempotent upserts keyed by canonical phone digits.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BTreeMap/CitaBot/internal/models"
)

// ErrDSNNotSet is returned when a SQL backend is built without a DSN.
var ErrDSNNotSet = errors.New("database DSN not set")

// CustomerStore persists customer records and their interaction history.
type CustomerStore interface {
	// FindByPhone returns nil, nil when no customer exists.
	FindByPhone(ctx context.Context, phone string) (*models.Customer, error)
	// Upsert creates the customer (status ACTIVE unless given) or updates the non-nil fields.
	Upsert(ctx context.Context, phone string, update models.CustomerUpdate) error
	// SetStatus changes the status of an existing customer; nil, nil when not found.
	SetStatus(ctx context.Context, phone string, status models.CustomerStatus) (*models.Customer, error)
	// AppendHistory appends one entry, creating the customer row if needed.
	AppendHistory(ctx context.Context, phone string, entry models.HistoryEntry) error
	// LastHistoryEntry returns nil, nil when the customer has no history.
	LastHistoryEntry(ctx context.Context, phone string) (*models.HistoryEntry, error)
	// ListHistory returns up to limit most recent entries, oldest first.
	ListHistory(ctx context.Context, phone string, limit int) ([]models.HistoryEntry, error)
}

// UpsertEmail stores the customer's e-mail, creating the customer if needed.
func UpsertEmail(ctx context.Context, cs CustomerStore, phone, email string) error {
	return cs.Upsert(ctx, phone, models.CustomerUpdate{Email: &email})
}

// BlocklistStore persists blocked senders. At most one row exists per phone.
type BlocklistStore interface {
	IsBlocked(ctx context.Context, phone string) (bool, error)
	// Block reports false when the phone was already actively blocked.
	Block(ctx context.Context, phone string) (bool, error)
	// Unblock reports false when the phone was not actively blocked.
	Unblock(ctx context.Context, phone string) (bool, error)
	// ListBlocked returns the active entries, most recently blocked first.
	ListBlocked(ctx context.Context) ([]models.BlocklistEntry, error)
}

// LedgerStore persists clinic cash movements for the daily cash report.
type LedgerStore interface {
	// DailyTransactions returns the movements of the calendar day containing
	// day (in day's location), newest first.
	DailyTransactions(ctx context.Context, day time.Time) ([]models.Transaction, error)
	AddTransaction(ctx context.Context, tx models.Transaction) error
}

// Store is the full durable store used by the application.
type Store interface {
	CustomerStore
	BlocklistStore
	LedgerStore
	DedupRepo
	Close() error
}

// Opts holds configuration options for SQL stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for stores.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database path or file: URI.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL URLs and keyword DSNs, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") ||
		strings.Contains(d, "host=") || strings.Contains(d, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// dayBounds returns [start, end) of the calendar day containing t.
func dayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
