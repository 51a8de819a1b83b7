package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/piggybank/internal/domain"
)

const childColumns = `id, family_id, username, name, password_hash, avatar, age,
	balance, version, created_at, updated_at`

// ChildRepository is the account directory: it resolves child accounts and
// is the only writer of their balance, always inside a caller's transaction.
type ChildRepository struct {
	db *sql.DB
}

func NewChildRepository(db *sql.DB) *ChildRepository {
	return &ChildRepository{db: db}
}

func (r *ChildRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Child, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+childColumns+` FROM children WHERE id = $1`, id,
	)
	c, err := scanChild(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrAccountNotFound)
		}
		return nil, classify(ctx, "GetByID", err)
	}
	return c, nil
}

func (r *ChildRepository) GetByFamilyID(ctx context.Context, familyID uuid.UUID) ([]domain.Child, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+childColumns+` FROM children WHERE family_id = $1 ORDER BY created_at`, familyID,
	)
	if err != nil {
		return nil, classify(ctx, "GetByFamilyID", err)
	}
	defer rows.Close()

	var children []domain.Child
	for rows.Next() {
		c, err := scanChild(rows)
		if err != nil {
			return nil, classify(ctx, "GetByFamilyID: scan", err)
		}
		children = append(children, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, "GetByFamilyID: rows", err)
	}
	return children, nil
}

// GetBalance reads only the balance column, so it never sees a
// half-committed mutation under read committed.
func (r *ChildRepository) GetBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.QueryRowContext(ctx,
		`SELECT balance FROM children WHERE id = $1`, id,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("GetBalance: %w", domain.ErrAccountNotFound)
		}
		return decimal.Zero, classify(ctx, "GetBalance", err)
	}
	return balance, nil
}

// GetForUpdate reads the child row and holds its row lock until tx ends.
func (r *ChildRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Child, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+childColumns+` FROM children WHERE id = $1 FOR UPDATE`, id,
	)
	c, err := scanChild(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrAccountNotFound)
		}
		return nil, classify(ctx, "GetForUpdate", err)
	}
	return c, nil
}

// UpdateBalance writes the new balance and bumps version from
// newVersion-1 to newVersion. A mismatch means someone wrote the row
// without holding its lock.
func (r *ChildRepository) UpdateBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID, newBalance decimal.Decimal, newVersion int64, updatedAt time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE children SET balance = $1, version = $2, updated_at = $3
		WHERE id = $4 AND version = $5`,
		newBalance, newVersion, updatedAt, id, newVersion-1,
	)
	if err != nil {
		return classify(ctx, "UpdateBalance", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return classify(ctx, "UpdateBalance: rows affected", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateBalance: %w", domain.ErrVersionConflict)
	}
	return nil
}

func scanChild(s scanner) (*domain.Child, error) {
	var c domain.Child
	err := s.Scan(
		&c.ID, &c.FamilyID, &c.Username, &c.Name, &c.PasswordHash,
		&c.Avatar, &c.Age,
		&c.Balance, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
