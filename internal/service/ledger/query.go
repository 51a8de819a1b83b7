package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/piggybank/internal/domain"
)

func (s *Service) GetByID(ctx context.Context, entryID uuid.UUID) (*domain.LedgerEntry, error) {
	e, err := s.entries.GetByID(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return e, nil
}

// ListByAccount returns the account's entries, most recent first. An
// unknown account or an offset past the end yields an empty slice.
func (s *Service) ListByAccount(ctx context.Context, accountID uuid.UUID, page domain.Page) ([]domain.LedgerEntry, error) {
	entries, err := s.entries.GetByAccountID(ctx, accountID, s.normalizePage(page))
	if err != nil {
		return nil, fmt.Errorf("ListByAccount: %w", err)
	}
	return entries, nil
}

// ListByFamily returns entries of every child in the family, most recent
// first.
func (s *Service) ListByFamily(ctx context.Context, familyID uuid.UUID, page domain.Page) ([]domain.LedgerEntry, error) {
	entries, err := s.entries.GetByFamilyID(ctx, familyID, s.normalizePage(page))
	if err != nil {
		return nil, fmt.Errorf("ListByFamily: %w", err)
	}
	return entries, nil
}

// ListByAccounts is ListByFamily for callers that already resolved the
// family's account ids.
func (s *Service) ListByAccounts(ctx context.Context, accountIDs []uuid.UUID, page domain.Page) ([]domain.LedgerEntry, error) {
	if len(accountIDs) == 0 {
		return []domain.LedgerEntry{}, nil
	}
	entries, err := s.entries.GetByAccountIDs(ctx, accountIDs, s.normalizePage(page))
	if err != nil {
		return nil, fmt.Errorf("ListByAccounts: %w", err)
	}
	return entries, nil
}

// CurrentBalance reports the stored balance; found is false when the
// account does not exist.
func (s *Service) CurrentBalance(ctx context.Context, accountID uuid.UUID) (balance decimal.Decimal, found bool, err error) {
	balance, err = s.accounts.GetBalance(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("CurrentBalance: %w", err)
	}
	return balance, true, nil
}
