// Package ledger is the only writer of child balances. Every balance change
// is recorded as an immutable ledger entry, written in the same transaction
// as the new balance while the child's row is locked.
package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/piggybank/internal/domain"
)

const (
	DefaultPageSize    = 50
	DefaultMaxPageSize = 100
	DefaultLockTimeout = 5 * time.Second

	maxCategoryLen = 50
	publishTimeout = 5 * time.Second
)

type txRunner interface {
	WithLockedTx(ctx context.Context, lockTimeout time.Duration, fn func(tx *sql.Tx) error) error
}

type accountDirectory interface {
	GetBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Child, error)
	UpdateBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID, newBalance decimal.Decimal, newVersion int64, updatedAt time.Time) error
}

type entryRepo interface {
	Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error)
	GetByAccountID(ctx context.Context, accountID uuid.UUID, page domain.Page) ([]domain.LedgerEntry, error)
	GetByAccountIDs(ctx context.Context, accountIDs []uuid.UUID, page domain.Page) ([]domain.LedgerEntry, error)
	GetByFamilyID(ctx context.Context, familyID uuid.UUID, page domain.Page) ([]domain.LedgerEntry, error)
	GetAccountHistory(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, []domain.LedgerEntry, error)
}

type entryPublisher interface {
	PublishEntryRecorded(ctx context.Context, entry *domain.LedgerEntry) error
}

type Options struct {
	LockTimeout     time.Duration
	DefaultPageSize int
	MaxPageSize     int
}

type Service struct {
	db        txRunner
	accounts  accountDirectory
	entries   entryRepo
	publisher entryPublisher
	locks     *keyLocks
	opts      Options
	now       func() time.Time
}

func NewService(db txRunner, accounts accountDirectory, entries entryRepo, publisher entryPublisher, opts Options) *Service {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = DefaultMaxPageSize
	}
	if opts.DefaultPageSize <= 0 || opts.DefaultPageSize > opts.MaxPageSize {
		opts.DefaultPageSize = min(DefaultPageSize, opts.MaxPageSize)
	}

	return &Service{
		db:        db,
		accounts:  accounts,
		entries:   entries,
		publisher: publisher,
		locks:     newKeyLocks(),
		opts:      opts,
		now:       time.Now,
	}
}

// normalizePage applies the default page size to a zero limit, caps the
// limit at the configured maximum and clamps a negative offset to zero.
func (s *Service) normalizePage(p domain.Page) domain.Page {
	if p.Limit <= 0 {
		p.Limit = s.opts.DefaultPageSize
	}
	if p.Limit > s.opts.MaxPageSize {
		p.Limit = s.opts.MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
