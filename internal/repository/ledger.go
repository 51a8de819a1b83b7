package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/piggybank/internal/domain"
)

const ledgerColumns = `le.id, le.child_id, le.parent_admin_id, le.direction, le.amount,
	le.balance_before, le.balance_after, le.description, le.category,
	le.sequence, le.created_at`

const ledgerOrder = `ORDER BY le.created_at DESC, le.sequence DESC, le.id`

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (
			id, child_id, parent_admin_id, direction, amount,
			balance_before, balance_after, description, category,
			sequence, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.AccountID, entry.InitiatorID, entry.Direction, entry.Amount,
		entry.BalanceBefore, entry.BalanceAfter, entry.Description, entry.Category,
		entry.Sequence, entry.CreatedAt,
	)
	if err != nil {
		return classify(ctx, "Create", err)
	}
	return nil
}

func (r *LedgerRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries le WHERE le.id = $1`, id,
	)
	e, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, classify(ctx, "GetByID", err)
	}
	return e, nil
}

func (r *LedgerRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID, page domain.Page) ([]domain.LedgerEntry, error) {
	entries, err := r.query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries le
		WHERE le.child_id = $1 `+ledgerOrder+` LIMIT $2 OFFSET $3`,
		accountID, page.Limit, page.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByAccountID: %w", err)
	}
	return entries, nil
}

func (r *LedgerRepository) GetByAccountIDs(ctx context.Context, accountIDs []uuid.UUID, page domain.Page) ([]domain.LedgerEntry, error) {
	ids := make([]string, len(accountIDs))
	for i, id := range accountIDs {
		ids[i] = id.String()
	}

	entries, err := r.query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries le
		WHERE le.child_id = ANY($1::uuid[]) `+ledgerOrder+` LIMIT $2 OFFSET $3`,
		pq.StringArray(ids), page.Limit, page.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByAccountIDs: %w", err)
	}
	return entries, nil
}

func (r *LedgerRepository) GetByFamilyID(ctx context.Context, familyID uuid.UUID, page domain.Page) ([]domain.LedgerEntry, error) {
	entries, err := r.query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries le
		JOIN children c ON c.id = le.child_id
		WHERE c.family_id = $1 `+ledgerOrder+` LIMIT $2 OFFSET $3`,
		familyID, page.Limit, page.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByFamilyID: %w", err)
	}
	return entries, nil
}

func (r *LedgerRepository) query(ctx context.Context, q string, args ...any) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(ctx, "query", err)
	}
	defer rows.Close()

	entries := []domain.LedgerEntry{}
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, classify(ctx, "query: scan", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, "query: rows", err)
	}
	return entries, nil
}

func scanLedgerEntry(s scanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := s.Scan(
		&e.ID, &e.AccountID, &e.InitiatorID, &e.Direction, &e.Amount,
		&e.BalanceBefore, &e.BalanceAfter, &e.Description, &e.Category,
		&e.Sequence, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetAccountHistory returns the stored balance of accountID together with
// its full ledger in sequence order, read from a single snapshot so the
// two agree even while new entries are being recorded.
func (r *LedgerRepository) GetAccountHistory(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, []domain.LedgerEntry, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return decimal.Zero, nil, classify(ctx, "GetAccountHistory: begin", err)
	}
	defer tx.Rollback()

	var balance decimal.Decimal
	err = tx.QueryRowContext(ctx, `SELECT balance FROM children WHERE id = $1`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil, fmt.Errorf("GetAccountHistory: %w", domain.ErrAccountNotFound)
		}
		return decimal.Zero, nil, classify(ctx, "GetAccountHistory: balance", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries le
		WHERE le.child_id = $1 ORDER BY le.sequence`, accountID,
	)
	if err != nil {
		return decimal.Zero, nil, classify(ctx, "GetAccountHistory: entries", err)
	}
	defer rows.Close()

	entries := []domain.LedgerEntry{}
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return decimal.Zero, nil, classify(ctx, "GetAccountHistory: scan", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, nil, classify(ctx, "GetAccountHistory: rows", err)
	}
	return balance, entries, nil
}
