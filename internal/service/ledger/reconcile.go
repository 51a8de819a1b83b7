package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/piggybank/internal/domain"
)

type Reconciliation struct {
	AccountID     uuid.UUID
	StoredBalance decimal.Decimal
	LedgerBalance decimal.Decimal
	EntryCount    int
	// BrokenAt is the sequence of the first entry whose balance_before does
	// not match its predecessor's balance_after, or 0 if the chain holds.
	BrokenAt int64
}

func (r Reconciliation) Consistent() bool {
	return r.BrokenAt == 0 && r.StoredBalance.Equal(r.LedgerBalance)
}

// Reconcile replays an account's ledger from zero and compares the result
// with the stored balance.
func (s *Service) Reconcile(ctx context.Context, accountID uuid.UUID) (*Reconciliation, error) {
	stored, entries, err := s.entries.GetAccountHistory(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}
	rec := checkChain(entries)
	rec.AccountID = accountID
	rec.StoredBalance = stored
	return &rec, nil
}

// checkChain expects entries in ascending sequence order.
func checkChain(entries []domain.LedgerEntry) Reconciliation {
	rec := Reconciliation{EntryCount: len(entries)}
	running := decimal.Zero
	for i, e := range entries {
		brokenLink := !e.BalanceBefore.Equal(running)
		badMath := !e.BalanceAfter.Equal(e.Direction.Apply(e.BalanceBefore, e.Amount))
		if rec.BrokenAt == 0 && (brokenLink || badMath || e.Sequence != int64(i+1)) {
			rec.BrokenAt = e.Sequence
		}
		running = running.Add(e.Direction.Signed(e.Amount))
	}
	rec.LedgerBalance = running
	return rec
}
