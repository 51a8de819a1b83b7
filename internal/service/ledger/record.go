package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/piggybank/internal/domain"
	"github.com/josh-kwaku/piggybank/internal/logging"
	"github.com/josh-kwaku/piggybank/internal/money"
)

type RecordRequest struct {
	AccountID   uuid.UUID
	InitiatorID *uuid.UUID
	Direction   domain.Direction
	Amount      decimal.Decimal
	Description *string
	Category    *string
}

// Record appends one entry to the account's ledger and moves its balance
// accordingly. Either both writes commit or neither does.
func (s *Service) Record(ctx context.Context, req RecordRequest) (*domain.LedgerEntry, error) {
	log := logging.FromContext(ctx)

	req, err := validateRecord(req)
	if err != nil {
		return nil, fmt.Errorf("Record: %w", err)
	}

	release, err := s.locks.acquire(ctx, req.AccountID, s.opts.LockTimeout)
	if err != nil {
		log.Warn("ledger lock not acquired", "account_id", req.AccountID, "error", err)
		return nil, fmt.Errorf("Record: %w", err)
	}
	defer release()

	var entry *domain.LedgerEntry
	err = s.db.WithLockedTx(ctx, s.opts.LockTimeout, func(tx *sql.Tx) error {
		var txErr error
		entry, txErr = s.applyLocked(ctx, tx, req)
		return txErr
	})
	if err != nil {
		logRecordFailure(ctx, req, err)
		return nil, fmt.Errorf("Record: %w", err)
	}

	log.Info("ledger entry recorded",
		"entry_id", entry.ID,
		"account_id", entry.AccountID,
		"direction", entry.Direction,
		"amount", money.Format(entry.Amount),
		"balance_after", money.Format(entry.BalanceAfter),
		"sequence", entry.Sequence,
	)

	s.publish(ctx, entry)
	return entry, nil
}

// applyLocked runs with the account row locked by tx.
func (s *Service) applyLocked(ctx context.Context, tx *sql.Tx, req RecordRequest) (*domain.LedgerEntry, error) {
	acct, err := s.accounts.GetForUpdate(ctx, tx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("applyLocked: %w", err)
	}

	if req.Direction == domain.DirectionDebit && req.Amount.GreaterThan(acct.Balance) {
		return nil, fmt.Errorf("applyLocked: balance %s, debit %s: %w",
			money.Format(acct.Balance), money.Format(req.Amount), domain.ErrInsufficientFunds)
	}

	after := req.Direction.Apply(acct.Balance, req.Amount)
	if after.GreaterThan(money.MaxBalance) {
		return nil, fmt.Errorf("applyLocked: balance would exceed %s: %w",
			money.Format(money.MaxBalance), domain.ErrInvalidAmount)
	}

	// Postgres keeps microseconds; truncating keeps the returned entry equal
	// to the stored one. Never step back past the previous write.
	createdAt := s.now().UTC().Truncate(time.Microsecond)
	if createdAt.Before(acct.UpdatedAt) {
		createdAt = acct.UpdatedAt.UTC()
	}

	entry := &domain.LedgerEntry{
		ID:            uuid.New(),
		AccountID:     acct.ID,
		InitiatorID:   req.InitiatorID,
		Direction:     req.Direction,
		Amount:        req.Amount,
		BalanceBefore: acct.Balance,
		BalanceAfter:  after,
		Description:   req.Description,
		Category:      req.Category,
		Sequence:      acct.Version + 1,
		CreatedAt:     createdAt,
	}

	if err := s.entries.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("applyLocked: create entry: %w", err)
	}
	if err := s.accounts.UpdateBalance(ctx, tx, acct.ID, entry.BalanceAfter, entry.Sequence, createdAt); err != nil {
		return nil, fmt.Errorf("applyLocked: update balance: %w", err)
	}
	return entry, nil
}

func validateRecord(req RecordRequest) (RecordRequest, error) {
	if req.AccountID == uuid.Nil {
		return req, fmt.Errorf("validateRecord: %w", domain.ErrAccountNotFound)
	}
	if !req.Direction.IsValid() {
		return req, fmt.Errorf("validateRecord: %q: %w", req.Direction, domain.ErrInvalidDirection)
	}
	if err := money.Validate(req.Amount); err != nil {
		return req, fmt.Errorf("validateRecord: %w", err)
	}

	req.Description = trimOptional(req.Description)
	req.Category = trimOptional(req.Category)
	if req.Category != nil && utf8.RuneCountInString(*req.Category) > maxCategoryLen {
		return req, fmt.Errorf("validateRecord: category longer than %d characters: %w", maxCategoryLen, domain.ErrInvalidRequest)
	}
	return req, nil
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func (s *Service) publish(ctx context.Context, entry *domain.LedgerEntry) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.PublishEntryRecorded(ctx, entry); err != nil {
		logging.FromContext(ctx).Error("failed to publish ledger entry",
			"entry_id", entry.ID,
			"account_id", entry.AccountID,
			"error", err,
		)
	}
}

func logRecordFailure(ctx context.Context, req RecordRequest, err error) {
	log := logging.FromContext(ctx)
	attrs := []any{
		"account_id", req.AccountID,
		"direction", req.Direction,
		"amount", money.Format(req.Amount),
	}

	var storageErr *domain.StorageError
	switch {
	case errors.As(err, &storageErr):
		log.Error("ledger entry failed", append(attrs, "error", storageErr.Err)...)
	case errors.Is(err, domain.ErrInsufficientFunds), errors.Is(err, domain.ErrAccountNotFound):
		log.Warn("ledger entry rejected", append(attrs, "error", err)...)
	default:
		log.Warn("ledger entry aborted", append(attrs, "error", err)...)
	}
}
