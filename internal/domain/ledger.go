package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

func (d Direction) IsValid() bool {
	switch d {
	case DirectionCredit, DirectionDebit:
		return true
	}
	return false
}

// Apply returns the balance after moving amount in direction d.
func (d Direction) Apply(balance, amount decimal.Decimal) decimal.Decimal {
	if d == DirectionDebit {
		return balance.Sub(amount)
	}
	return balance.Add(amount)
}

// Signed returns amount as it contributes to a balance: positive for
// credits, negative for debits.
func (d Direction) Signed(amount decimal.Decimal) decimal.Decimal {
	if d == DirectionDebit {
		return amount.Neg()
	}
	return amount
}

type LedgerEntry struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	InitiatorID   *uuid.UUID
	Direction     Direction
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Description   *string
	Category      *string
	Sequence      int64
	CreatedAt     time.Time
}

type Page struct {
	Limit  int
	Offset int
}
