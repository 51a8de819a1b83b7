package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/josh-kwaku/piggybank/internal/domain"
)

const (
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
	codeNumericOutOfRange    = "22003"
)

// classify maps a driver error onto the ledger's error taxonomy. Contention
// becomes ErrLockTimeout and a numeric column overflow becomes
// ErrInvalidAmount. Caller cancellation stays a context error; everything
// else is wrapped in a StorageError.
func classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeLockNotAvailable, codeQueryCanceled, codeDeadlockDetected, codeSerializationFailure:
			return fmt.Errorf("%s: %s: %w", op, pqErr.Code.Name(), domain.ErrLockTimeout)
		case codeNumericOutOfRange:
			return fmt.Errorf("%s: %s: %w", op, pqErr.Code.Name(), domain.ErrInvalidAmount)
		}
	}
	return &domain.StorageError{Op: op, Err: err}
}
