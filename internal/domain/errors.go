package domain

import "errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidAmount           = errors.New("amount must be a positive value with at most 2 decimal places")
	ErrInvalidDirection        = errors.New("direction must be credit or debit")
	ErrAccountNotFound         = errors.New("account not found")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrLockTimeout             = errors.New("account is busy, lock wait timed out")
	ErrStorageFailure          = errors.New("storage failure")
	ErrVersionConflict         = errors.New("optimistic lock conflict")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrForbidden               = errors.New("access denied")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// StorageError hides the underlying store error from Error() so it can be
// surfaced to callers without leaking driver details. The cause stays
// reachable through Unwrap for logging.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return e.Op + ": " + ErrStorageFailure.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}
