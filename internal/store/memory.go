package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/google/uuid"
)

// InMemoryStore is a process-local Store for tests and runs without a database.
type InMemoryStore struct {
	mu        sync.RWMutex
	customers map[string]*models.Customer
	history   map[string][]models.HistoryEntry
	blocklist map[string]*models.BlocklistEntry
	ledger    []models.Transaction
	dedup     map[string]*DedupRecord
	now       func() time.Time
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		customers: make(map[string]*models.Customer),
		history:   make(map[string][]models.HistoryEntry),
		blocklist: make(map[string]*models.BlocklistEntry),
		dedup:     make(map[string]*DedupRecord),
		now:       time.Now,
	}
}

func (s *InMemoryStore) FindByPhone(_ context.Context, phone string) (*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[phone]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *InMemoryStore) Upsert(_ context.Context, phone string, update models.CustomerUpdate) error {
	if phone == "" {
		return models.ErrEmptyPhone
	}
	if update.Status != nil && !update.Status.IsValid() {
		return models.ErrInvalidStatus
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(phone, update)
	return nil
}

func (s *InMemoryStore) upsertLocked(phone string, update models.CustomerUpdate) *models.Customer {
	now := s.now()
	c, ok := s.customers[phone]
	if !ok {
		c = &models.Customer{Phone: phone, Status: models.StatusActive, CreatedAt: now}
		s.customers[phone] = c
	}
	if update.Name != nil {
		c.Name = *update.Name
	}
	if update.Email != nil {
		c.Email = *update.Email
	}
	if update.Status != nil {
		c.Status = *update.Status
	}
	c.UpdatedAt = now
	return c
}

func (s *InMemoryStore) SetStatus(_ context.Context, phone string, status models.CustomerStatus) (*models.Customer, error) {
	if !status.IsValid() {
		return nil, models.ErrInvalidStatus
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[phone]
	if !ok {
		return nil, nil
	}
	c.Status = status
	c.UpdatedAt = s.now()
	cp := *c
	return &cp, nil
}

func (s *InMemoryStore) AppendHistory(_ context.Context, phone string, entry models.HistoryEntry) error {
	if phone == "" {
		return models.ErrEmptyPhone
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[phone]; !ok {
		s.upsertLocked(phone, models.CustomerUpdate{})
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.history[phone] = append(s.history[phone], entry)
	return nil
}

func (s *InMemoryStore) LastHistoryEntry(_ context.Context, phone string) (*models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[phone]
	if len(h) == 0 {
		return nil, nil
	}
	last := h[len(h)-1]
	return &last, nil
}

func (s *InMemoryStore) ListHistory(_ context.Context, phone string, limit int) ([]models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[phone]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return slices.Clone(h), nil
}

func (s *InMemoryStore) IsBlocked(_ context.Context, phone string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.blocklist[phone]
	return ok && e.Active, nil
}

func (s *InMemoryStore) Block(_ context.Context, phone string) (bool, error) {
	if phone == "" {
		return false, models.ErrEmptyPhone
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.blocklist[phone]
	if ok && e.Active {
		return false, nil
	}
	if !ok {
		e = &models.BlocklistEntry{Phone: phone}
		s.blocklist[phone] = e
	}
	e.Active = true
	e.BlockedAt = s.now()
	return true, nil
}

func (s *InMemoryStore) Unblock(_ context.Context, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.blocklist[phone]
	if !ok || !e.Active {
		return false, nil
	}
	e.Active = false
	return true, nil
}

func (s *InMemoryStore) ListBlocked(_ context.Context) ([]models.BlocklistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.BlocklistEntry
	for _, e := range s.blocklist {
		if e.Active {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockedAt.After(out[j].BlockedAt) })
	return out, nil
}

func (s *InMemoryStore) DailyTransactions(_ context.Context, day time.Time) ([]models.Transaction, error) {
	start, end := dayBounds(day)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Transaction
	for _, tx := range s.ledger {
		if !tx.Date.Before(start) && tx.Date.Before(end) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (s *InMemoryStore) AddTransaction(_ context.Context, tx models.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = append(s.ledger, tx)
	return nil
}

func (s *InMemoryStore) IsDuplicate(_ context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(_ context.Context, messageID, participantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = &DedupRecord{MessageID: messageID, ParticipantID: participantID, ReceivedAt: s.now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.dedup[messageID]; ok {
		now := s.now()
		r.ProcessedAt = &now
	}
	return nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }
