// Package events publishes ledger notifications after a mutation has been
// committed. Publishing is best effort: the ledger is the source of truth
// and a lost event never invalidates a committed entry.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/piggybank/internal/domain"
	"github.com/josh-kwaku/piggybank/internal/money"
)

const TypeEntryRecorded = "ledger.entry_recorded"

type EntryRecorded struct {
	Type          string     `json:"type"`
	EntryID       uuid.UUID  `json:"entry_id"`
	AccountID     uuid.UUID  `json:"account_id"`
	InitiatorID   *uuid.UUID `json:"initiator_id,omitempty"`
	Direction     string     `json:"direction"`
	Amount        string     `json:"amount"`
	BalanceBefore string     `json:"balance_before"`
	BalanceAfter  string     `json:"balance_after"`
	Category      *string    `json:"category,omitempty"`
	Sequence      int64      `json:"sequence"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

func NewEntryRecorded(e *domain.LedgerEntry) EntryRecorded {
	return EntryRecorded{
		Type:          TypeEntryRecorded,
		EntryID:       e.ID,
		AccountID:     e.AccountID,
		InitiatorID:   e.InitiatorID,
		Direction:     string(e.Direction),
		Amount:        money.Format(e.Amount),
		BalanceBefore: money.Format(e.BalanceBefore),
		BalanceAfter:  money.Format(e.BalanceAfter),
		Category:      e.Category,
		Sequence:      e.Sequence,
		OccurredAt:    e.CreatedAt,
	}
}
