package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type scanner interface {
	Scan(dest ...any) error
}

type DB struct {
	pool *sql.DB
}

func NewDB(pool *sql.DB) *DB {
	return &DB{pool: pool}
}

func (d *DB) Conn() *sql.DB {
	return d.pool
}

// WithLockedTx runs fn inside a read-committed transaction whose row-lock
// waits are bounded by lockTimeout. The transaction commits only if fn
// returns nil; any error, panic or cancelled ctx rolls it back. Errors
// returned by fn are passed through untouched.
func (d *DB) WithLockedTx(ctx context.Context, lockTimeout time.Duration, fn func(tx *sql.Tx) error) error {
	tx, err := d.pool.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(ctx, "WithLockedTx: begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT set_config('lock_timeout', $1, true)`,
		lockTimeoutSetting(lockTimeout),
	); err != nil {
		return classify(ctx, "WithLockedTx: lock_timeout", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify(ctx, "WithLockedTx: commit", err)
	}
	return nil
}

// lockTimeoutSetting renders d for Postgres in whole milliseconds, rounding
// up. Zero would disable the timeout, so the result is never below 1ms.
func lockTimeoutSetting(d time.Duration) string {
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms < 1 {
		ms = 1
	}
	return fmt.Sprintf("%dms", int64(ms))
}
