package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/DATA-DOG/go-sqlmock"
)

func newMockDB(t *testing.T, numbered bool) (*sqlDB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return newSQLDB(db, "MockStore", numbered), mock
}

func TestRebindNumbered(t *testing.T) {
	s := &sqlDB{numbered: true}
	got := s.rebind("UPDATE customers SET status = ?, updated_at = ? WHERE phone = ?")
	want := "UPDATE customers SET status = $1, updated_at = $2 WHERE phone = $3"
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}
	s.numbered = false
	if s.rebind("a = ?") != "a = ?" {
		t.Error("sqlite queries must not be rewritten")
	}
}

func TestFindByPhoneQueryError(t *testing.T) {
	s, mock := newMockDB(t, true)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT phone, name, email, status, created_at, updated_at FROM customers WHERE phone = $1")).
		WithArgs("59170000000").
		WillReturnError(errors.New("connection reset"))

	c, err := s.FindByPhone(context.Background(), "59170000000")
	if err == nil || c != nil {
		t.Fatalf("expected wrapped error, got %+v, %v", c, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAppendHistoryRollsBackOnInsertFailure(t *testing.T) {
	s, mock := newMockDB(t, true)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO customers")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO customer_history")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.AppendHistory(context.Background(), "59170000000", models.HistoryEntry{Intent: models.IntentBook})
	if err == nil {
		t.Fatal("expected error from failed insert")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBlockReportsExistingEntry(t *testing.T) {
	s, mock := newMockDB(t, false)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO blocklist")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	added, err := s.Block(context.Background(), "59171111111")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added {
		t.Error("no affected rows should mean already blocked")
	}
}

func TestSetStatusNotFound(t *testing.T) {
	s, mock := newMockDB(t, false)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE customers SET status = ?")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	c, err := s.SetStatus(context.Background(), "59170000000", models.StatusActive)
	if err != nil || c != nil {
		t.Errorf("expected nil, nil; got %+v, %v", c, err)
	}
}
