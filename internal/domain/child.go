package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Child is the account a ledger is kept for. Balance and Version are only
// ever written by the ledger service, in the same transaction that appends
// the matching LedgerEntry.
type Child struct {
	ID           uuid.UUID
	FamilyID     uuid.UUID
	Username     string
	Name         string
	PasswordHash string
	Avatar       *string
	Age          *int
	Balance      decimal.Decimal
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
