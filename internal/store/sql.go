package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/google/uuid"
)

// sqlDB holds the queries shared by the SQLite and PostgreSQL backends.
// Queries are written with '?' placeholders and rebound per dialect.
type sqlDB struct {
	db       *sql.DB
	name     string
	numbered bool // PostgreSQL $n placeholders
	now      func() time.Time
}

func newSQLDB(db *sql.DB, name string, numbered bool) *sqlDB {
	return &sqlDB{db: db, name: name, numbered: numbered, now: time.Now}
}

func (s *sqlDB) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// nullable converts optional update fields to SQL NULL.
func nullable(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullableStatus(p *models.CustomerStatus) interface{} {
	if p == nil {
		return nil
	}
	return string(*p)
}

const upsertCustomerQuery = `
	INSERT INTO customers (phone, name, email, status, created_at, updated_at)
	VALUES (?, COALESCE(?, ''), COALESCE(?, ''), COALESCE(?, 'ACTIVE'), ?, ?)
	ON CONFLICT (phone) DO UPDATE SET
		name = COALESCE(?, customers.name),
		email = COALESCE(?, customers.email),
		status = COALESCE(?, customers.status),
		updated_at = ?`

func (s *sqlDB) FindByPhone(ctx context.Context, phone string) (*models.Customer, error) {
	var c models.Customer
	var status string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT phone, name, email, status, created_at, updated_at FROM customers WHERE phone = ?`), phone).
		Scan(&c.Phone, &c.Name, &c.Email, &status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug(s.name+" FindByPhone not found", "phone", phone)
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+" FindByPhone failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to find customer %s: %w", phone, err)
	}
	c.Status = models.CustomerStatus(status)
	return &c, nil
}

func (s *sqlDB) Upsert(ctx context.Context, phone string, update models.CustomerUpdate) error {
	if phone == "" {
		return models.ErrEmptyPhone
	}
	if update.Status != nil && !update.Status.IsValid() {
		return models.ErrInvalidStatus
	}
	now := s.now().UTC()
	name, email, status := nullable(update.Name), nullable(update.Email), nullableStatus(update.Status)
	_, err := s.db.ExecContext(ctx, s.rebind(upsertCustomerQuery),
		phone, name, email, status, now, now,
		name, email, status, now)
	if err != nil {
		slog.Error(s.name+" Upsert failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to upsert customer %s: %w", phone, err)
	}
	slog.Debug(s.name+" Upsert succeeded", "phone", phone, "name_set", update.Name != nil, "email_set", update.Email != nil, "status_set", update.Status != nil)
	return nil
}

func (s *sqlDB) SetStatus(ctx context.Context, phone string, status models.CustomerStatus) (*models.Customer, error) {
	if !status.IsValid() {
		return nil, models.ErrInvalidStatus
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE customers SET status = ?, updated_at = ? WHERE phone = ?`), string(status), s.now().UTC(), phone)
	if err != nil {
		slog.Error(s.name+" SetStatus failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to set status for %s: %w", phone, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		slog.Debug(s.name+" SetStatus customer not found", "phone", phone)
		return nil, nil
	}
	slog.Debug(s.name+" SetStatus succeeded", "phone", phone, "status", status)
	return s.FindByPhone(ctx, phone)
}

func (s *sqlDB) AppendHistory(ctx context.Context, phone string, entry models.HistoryEntry) error {
	if phone == "" {
		return models.ErrEmptyPhone
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	now := s.now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin history transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO customers (phone, name, email, status, created_at, updated_at) VALUES (?, '', '', 'ACTIVE', ?, ?) ON CONFLICT (phone) DO NOTHING`),
		phone, now, now); err != nil {
		slog.Error(s.name+" AppendHistory ensure customer failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to ensure customer %s: %w", phone, err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO customer_history (phone, intent, question, response, created_at) VALUES (?, ?, ?, ?, ?)`),
		phone, string(entry.Intent), entry.Question, entry.Response, entry.CreatedAt.UTC()); err != nil {
		slog.Error(s.name+" AppendHistory insert failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to append history for %s: %w", phone, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history for %s: %w", phone, err)
	}
	slog.Debug(s.name+" AppendHistory succeeded", "phone", phone, "intent", entry.Intent)
	return nil
}

func (s *sqlDB) LastHistoryEntry(ctx context.Context, phone string) (*models.HistoryEntry, error) {
	entries, err := s.ListHistory(ctx, phone, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (s *sqlDB) ListHistory(ctx context.Context, phone string, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT intent, question, response, created_at FROM customer_history WHERE phone = ? ORDER BY id DESC LIMIT ?`),
		phone, limit)
	if err != nil {
		slog.Error(s.name+" ListHistory query failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query history for %s: %w", phone, err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var h models.HistoryEntry
		var intent string
		if err := rows.Scan(&intent, &h.Question, &h.Response, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		h.Intent = models.Intent(intent)
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history rows: %w", err)
	}
	// newest first from the query; callers read oldest first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (s *sqlDB) IsBlocked(ctx context.Context, phone string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM blocklist WHERE phone = ? AND active = TRUE`), phone).Scan(&count)
	if err != nil {
		slog.Error(s.name+" IsBlocked failed", "error", err, "phone", phone)
		return false, fmt.Errorf("failed to check blocklist for %s: %w", phone, err)
	}
	return count > 0, nil
}

func (s *sqlDB) Block(ctx context.Context, phone string) (bool, error) {
	if phone == "" {
		return false, models.ErrEmptyPhone
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO blocklist (phone, active, blocked_at) VALUES (?, TRUE, ?)
		ON CONFLICT (phone) DO UPDATE SET active = TRUE, blocked_at = excluded.blocked_at
		WHERE blocklist.active = FALSE`), phone, s.now().UTC())
	if err != nil {
		slog.Error(s.name+" Block failed", "error", err, "phone", phone)
		return false, fmt.Errorf("failed to block %s: %w", phone, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	slog.Debug(s.name+" Block", "phone", phone, "added", n > 0)
	return n > 0, nil
}

func (s *sqlDB) Unblock(ctx context.Context, phone string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE blocklist SET active = FALSE WHERE phone = ? AND active = TRUE`), phone)
	if err != nil {
		slog.Error(s.name+" Unblock failed", "error", err, "phone", phone)
		return false, fmt.Errorf("failed to unblock %s: %w", phone, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	slog.Debug(s.name+" Unblock", "phone", phone, "removed", n > 0)
	return n > 0, nil
}

func (s *sqlDB) ListBlocked(ctx context.Context) ([]models.BlocklistEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT phone, active, blocked_at FROM blocklist WHERE active = TRUE ORDER BY blocked_at DESC`)
	if err != nil {
		slog.Error(s.name+" ListBlocked query failed", "error", err)
		return nil, fmt.Errorf("failed to query blocklist: %w", err)
	}
	defer rows.Close()
	var out []models.BlocklistEntry
	for rows.Next() {
		var e models.BlocklistEntry
		if err := rows.Scan(&e.Phone, &e.Active, &e.BlockedAt); err != nil {
			return nil, fmt.Errorf("failed to scan blocklist row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate blocklist rows: %w", err)
	}
	return out, nil
}

func (s *sqlDB) DailyTransactions(ctx context.Context, day time.Time) ([]models.Transaction, error) {
	start, end := dayBounds(day)
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, type, amount, description, transaction_date, created_at
		FROM ledger_transactions
		WHERE transaction_date >= ? AND transaction_date < ?
		ORDER BY transaction_date DESC`), start.UTC(), end.UTC())
	if err != nil {
		slog.Error(s.name+" DailyTransactions query failed", "error", err)
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()
	var out []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		var typ string
		if err := rows.Scan(&tx.ID, &typ, &tx.Amount, &tx.Description, &tx.Date, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		tx.Type = models.TransactionType(typ)
		tx.Date = tx.Date.In(day.Location())
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transaction rows: %w", err)
	}
	slog.Debug(s.name+" DailyTransactions succeeded", "day", start.Format("2006-01-02"), "count", len(out))
	return out, nil
}

func (s *sqlDB) AddTransaction(ctx context.Context, tx models.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO ledger_transactions (id, type, amount, description, transaction_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		tx.ID, string(tx.Type), tx.Amount, tx.Description, tx.Date.UTC(), tx.CreatedAt.UTC())
	if err != nil {
		slog.Error(s.name+" AddTransaction failed", "error", err, "id", tx.ID)
		return fmt.Errorf("failed to insert transaction %s: %w", tx.ID, err)
	}
	return nil
}

// Close closes the database connection.
func (s *sqlDB) Close() error {
	slog.Debug("Closing " + s.name + " database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close "+s.name+" database", "error", err)
	}
	return err
}
