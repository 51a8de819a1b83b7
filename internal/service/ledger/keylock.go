package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/piggybank/internal/domain"
)

// keyLocks serialises work per account inside this process. Each account
// gets its own lock, created on first use and dropped when nobody holds or
// waits for it, so distinct accounts never contend.
type keyLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*keyLock
}

type keyLock struct {
	// holding the single token in sem means holding the lock
	sem  chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[uuid.UUID]*keyLock)}
}

// acquire blocks until the lock for key is held, timeout elapses
// (ErrLockTimeout) or ctx is done. The returned release is safe to call
// more than once.
func (k *keyLocks) acquire(ctx context.Context, key uuid.UUID, timeout time.Duration) (func(), error) {
	l := k.ref(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
	case <-timer.C:
		k.unref(key, l)
		return nil, fmt.Errorf("acquire: %w", domain.ErrLockTimeout)
	case <-ctx.Done():
		k.unref(key, l)
		return nil, fmt.Errorf("acquire: %w", ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			k.unref(key, l)
		})
	}, nil
}

func (k *keyLocks) ref(key uuid.UUID) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *keyLocks) unref(key uuid.UUID, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
