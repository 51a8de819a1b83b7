package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/piggybank/internal/domain"
)

// memStore backs the service with maps. WithLockedTx restores the state it
// saw on entry when fn fails, which is enough rollback for tests that only
// fail on a single account at a time.
type memStore struct {
	mu        sync.Mutex
	accounts  map[uuid.UUID]domain.Child
	entries   []domain.LedgerEntry
	createErr error
	inTx      chan struct{}
}

func newMemStore() *memStore {
	return &memStore{accounts: make(map[uuid.UUID]domain.Child)}
}

func (m *memStore) addAccount(familyID uuid.UUID, balance string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.accounts[id] = domain.Child{
		ID:        id,
		FamilyID:  familyID,
		Balance:   decimal.RequireFromString(balance),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	return id
}

func (m *memStore) balance(id uuid.UUID) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].Balance
}

func (m *memStore) count(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.AccountID == id {
			n++
		}
	}
	return n
}

func (m *memStore) WithLockedTx(ctx context.Context, _ time.Duration, fn func(tx *sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.inTx != nil {
		m.inTx <- struct{}{}
	}

	m.mu.Lock()
	saved := make(map[uuid.UUID]domain.Child, len(m.accounts))
	for k, v := range m.accounts {
		saved[k] = v
	}
	n := len(m.entries)
	m.mu.Unlock()

	err := fn(nil)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		m.mu.Lock()
		m.accounts = saved
		m.entries = m.entries[:n]
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) GetBalance(_ context.Context, id uuid.UUID) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("GetBalance: %w", domain.ErrAccountNotFound)
	}
	return a.Balance, nil
}

func (m *memStore) GetForUpdate(_ context.Context, _ *sql.Tx, id uuid.UUID) (*domain.Child, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrAccountNotFound)
	}
	return &a, nil
}

func (m *memStore) UpdateBalance(_ context.Context, _ *sql.Tx, id uuid.UUID, newBalance decimal.Decimal, newVersion int64, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.accounts[id]
	if a.Version != newVersion-1 {
		return fmt.Errorf("UpdateBalance: %w", domain.ErrVersionConflict)
	}
	a.Balance = newBalance
	a.Version = newVersion
	a.UpdatedAt = updatedAt
	m.accounts[id] = a
	return nil
}

func (m *memStore) Create(_ context.Context, _ *sql.Tx, entry *domain.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
}

func (m *memStore) filter(keep func(domain.LedgerEntry) bool, page domain.Page) []domain.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range m.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Sequence > out[j].Sequence
	})
	if page.Offset >= len(out) {
		return []domain.LedgerEntry{}
	}
	out = out[page.Offset:]
	if len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out
}

func (m *memStore) GetByAccountID(_ context.Context, accountID uuid.UUID, page domain.Page) ([]domain.LedgerEntry, error) {
	return m.filter(func(e domain.LedgerEntry) bool { return e.AccountID == accountID }, page), nil
}

func (m *memStore) GetByAccountIDs(_ context.Context, accountIDs []uuid.UUID, page domain.Page) ([]domain.LedgerEntry, error) {
	set := make(map[uuid.UUID]bool, len(accountIDs))
	for _, id := range accountIDs {
		set[id] = true
	}
	return m.filter(func(e domain.LedgerEntry) bool { return set[e.AccountID] }, page), nil
}

func (m *memStore) GetByFamilyID(_ context.Context, familyID uuid.UUID, page domain.Page) ([]domain.LedgerEntry, error) {
	m.mu.Lock()
	members := make(map[uuid.UUID]bool)
	for id, a := range m.accounts {
		if a.FamilyID == familyID {
			members[id] = true
		}
	}
	m.mu.Unlock()
	return m.filter(func(e domain.LedgerEntry) bool { return members[e.AccountID] }, page), nil
}

func (m *memStore) GetAccountHistory(_ context.Context, accountID uuid.UUID) (decimal.Decimal, []domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return decimal.Zero, nil, fmt.Errorf("GetAccountHistory: %w", domain.ErrAccountNotFound)
	}
	var out []domain.LedgerEntry
	for _, e := range m.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return a.Balance, out, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	entries []domain.LedgerEntry
	err     error
}

func (p *recordingPublisher) PublishEntryRecorded(_ context.Context, e *domain.LedgerEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, *e)
	return p.err
}
