package store

import (
	"context"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/BTreeMap/CitaBot/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "citabot.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("failed to create SQLite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func backends(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewInMemoryStore(),
		"sqlite": newTestSQLiteStore(t),
	}
}

func strPtr(s string) *string { return &s }

func TestCustomerLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c, err := s.FindByPhone(ctx, "59170000001")
			if err != nil || c != nil {
				t.Fatalf("expected no customer, got %+v, %v", c, err)
			}

			if err := s.Upsert(ctx, "59170000001", models.CustomerUpdate{}); err != nil {
				t.Fatalf("Upsert failed: %v", err)
			}
			c, err = s.FindByPhone(ctx, "59170000001")
			if err != nil || c == nil {
				t.Fatalf("expected customer, got %+v, %v", c, err)
			}
			if c.Status != models.StatusActive || c.Registered() {
				t.Errorf("new customer should be active and unregistered: %+v", c)
			}

			if err := s.Upsert(ctx, "59170000001", models.CustomerUpdate{Name: strPtr("Juan Pérez")}); err != nil {
				t.Fatalf("Upsert name failed: %v", err)
			}
			if err := s.Upsert(ctx, "59170000001", models.CustomerUpdate{Email: strPtr("juan@gmail.com")}); err != nil {
				t.Fatalf("Upsert email failed: %v", err)
			}
			c, _ = s.FindByPhone(ctx, "59170000001")
			if c.Name != "Juan Pérez" || c.Email != "juan@gmail.com" {
				t.Errorf("partial updates lost fields: %+v", c)
			}

			updated, err := s.SetStatus(ctx, "59170000001", models.StatusAwaitingHuman)
			if err != nil || updated == nil || updated.Status != models.StatusAwaitingHuman {
				t.Fatalf("SetStatus failed: %+v, %v", updated, err)
			}
			missing, err := s.SetStatus(ctx, "59179999999", models.StatusActive)
			if err != nil || missing != nil {
				t.Errorf("SetStatus on missing customer should be nil, nil; got %+v, %v", missing, err)
			}
			if _, err := s.SetStatus(ctx, "59170000001", "PAUSED"); err != models.ErrInvalidStatus {
				t.Errorf("expected ErrInvalidStatus, got %v", err)
			}
			if err := s.Upsert(ctx, "", models.CustomerUpdate{}); err != models.ErrEmptyPhone {
				t.Errorf("expected ErrEmptyPhone, got %v", err)
			}
		})
	}
}

func TestHistoryAppendOnly(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			last, err := s.LastHistoryEntry(ctx, "59170000002")
			if err != nil || last != nil {
				t.Fatalf("expected no history, got %+v, %v", last, err)
			}

			base := time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)
			for i, intent := range []models.Intent{models.IntentGreeting, models.IntentHours, models.IntentBook} {
				err := s.AppendHistory(ctx, "59170000002", models.HistoryEntry{
					Intent:    intent,
					Question:  "q",
					Response:  "r",
					CreatedAt: base.Add(time.Duration(i) * time.Minute),
				})
				if err != nil {
					t.Fatalf("AppendHistory failed: %v", err)
				}
			}

			// history creates the customer row
			if c, _ := s.FindByPhone(ctx, "59170000002"); c == nil {
				t.Error("AppendHistory should create the customer")
			}

			last, err = s.LastHistoryEntry(ctx, "59170000002")
			if err != nil || last == nil || last.Intent != models.IntentBook {
				t.Fatalf("unexpected last entry %+v, %v", last, err)
			}
			if !last.CreatedAt.Equal(base.Add(2 * time.Minute)) {
				t.Errorf("timestamp not preserved: %v", last.CreatedAt)
			}

			recent, err := s.ListHistory(ctx, "59170000002", 2)
			if err != nil {
				t.Fatalf("ListHistory failed: %v", err)
			}
			if len(recent) != 2 || recent[0].Intent != models.IntentHours || recent[1].Intent != models.IntentBook {
				t.Errorf("expected oldest-first [HOURS BOOK], got %+v", recent)
			}

			if err := s.AppendHistory(ctx, "59170000002", models.HistoryEntry{}); err != models.ErrEmptyIntentTag {
				t.Errorf("expected ErrEmptyIntentTag, got %v", err)
			}
		})
	}
}

func TestBlocklist(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			added, err := s.Block(ctx, "59171111111")
			if err != nil || !added {
				t.Fatalf("Block failed: %v, %v", added, err)
			}
			added, err = s.Block(ctx, "59171111111")
			if err != nil || added {
				t.Errorf("second Block should report false, got %v, %v", added, err)
			}
			blocked, _ := s.IsBlocked(ctx, "59171111111")
			if !blocked {
				t.Error("number should be blocked")
			}

			removed, err := s.Unblock(ctx, "59171111111")
			if err != nil || !removed {
				t.Fatalf("Unblock failed: %v, %v", removed, err)
			}
			removed, _ = s.Unblock(ctx, "59171111111")
			if removed {
				t.Error("second Unblock should report false")
			}
			if blocked, _ := s.IsBlocked(ctx, "59171111111"); blocked {
				t.Error("number should no longer be blocked")
			}

			// reactivation reuses the row
			if added, _ := s.Block(ctx, "59171111111"); !added {
				t.Error("reblock should succeed")
			}
			s.Block(ctx, "59172222222")
			list, err := s.ListBlocked(ctx)
			if err != nil {
				t.Fatalf("ListBlocked failed: %v", err)
			}
			if len(list) != 2 {
				t.Fatalf("expected 2 active entries, got %+v", list)
			}
		})
	}
}

func TestLedgerDailyTransactions(t *testing.T) {
	ctx := context.Background()
	laPaz := time.FixedZone("BOT", -4*3600)
	day := time.Date(2026, 3, 9, 12, 0, 0, 0, laPaz)
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			txs := []models.Transaction{
				{Type: models.TransactionIncome, Amount: 300, Description: "Limpieza", Date: day.Add(-2 * time.Hour)},
				{Type: models.TransactionExpense, Amount: 50.5, Description: "Insumos", Date: day.Add(3 * time.Hour)},
				{Type: models.TransactionIncome, Amount: 999, Description: "Ayer", Date: day.AddDate(0, 0, -1)},
			}
			for _, tx := range txs {
				if err := s.AddTransaction(ctx, tx); err != nil {
					t.Fatalf("AddTransaction failed: %v", err)
				}
			}
			got, err := s.DailyTransactions(ctx, day)
			if err != nil {
				t.Fatalf("DailyTransactions failed: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("expected 2 transactions for the day, got %+v", got)
			}
			if got[0].Description != "Insumos" || got[1].Description != "Limpieza" {
				t.Errorf("expected newest first, got %+v", got)
			}
			if got[0].ID == "" {
				t.Error("transaction id should be generated")
			}
		})
	}
}

func TestDedup(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fresh, err := s.RecordInbound(ctx, "MSG1", "59170000003")
			if err != nil || !fresh {
				t.Fatalf("first RecordInbound should be fresh: %v, %v", fresh, err)
			}
			fresh, err = s.RecordInbound(ctx, "MSG1", "59170000003")
			if err != nil || fresh {
				t.Errorf("second RecordInbound should be duplicate: %v, %v", fresh, err)
			}
			dup, _ := s.IsDuplicate(ctx, "MSG1")
			if !dup {
				t.Error("MSG1 should be a duplicate")
			}
			if err := s.MarkProcessed(ctx, "MSG1"); err != nil {
				t.Errorf("MarkProcessed failed: %v", err)
			}
		})
	}
}

func TestDetectDSNType(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost/db":      "postgres",
		"postgresql://localhost/db":        "postgres",
		"host=localhost dbname=citabot":    "postgres",
		"/var/lib/citabot/citabot.db":      "sqlite3",
		"file:/tmp/wa.db?_foreign_keys=on": "sqlite3",
	}
	for dsn, want := range tests {
		if got := DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	s, err := Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Errorf("expected in-memory store without DSN, got %T", s)
	}

	s, err = Open(WithSQLiteDSN(filepath.Join(t.TempDir(), "sub", "app.db")))
	if err != nil {
		t.Fatalf("Open sqlite failed: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("expected SQLite store, got %T", s)
	}

	if _, err := NewSQLiteStore(); err != ErrDSNNotSet {
		t.Errorf("expected ErrDSNNotSet, got %v", err)
	}
}

func TestPostgresStore(t *testing.T) {
	// Requires a running PostgreSQL instance; set DATABASE_URL.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	pgStore, err := NewPostgresStore(WithPostgresDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer pgStore.Close()
	ctx := context.Background()
	pgStore.db.Exec("DELETE FROM customer_history WHERE phone = '59100000000'")
	pgStore.db.Exec("DELETE FROM customers WHERE phone = '59100000000'")

	if err := pgStore.Upsert(ctx, "59100000000", models.CustomerUpdate{Name: strPtr("Ana")}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := pgStore.AppendHistory(ctx, "59100000000", models.HistoryEntry{Intent: models.IntentGreeting}); err != nil {
		t.Fatalf("AppendHistory failed: %v", err)
	}
	last, err := pgStore.LastHistoryEntry(ctx, "59100000000")
	if err != nil || last == nil || last.Intent != models.IntentGreeting {
		t.Errorf("unexpected last entry %+v, %v", last, err)
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
