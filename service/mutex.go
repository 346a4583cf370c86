package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/layer-3/bastion/ports"
)

// ErrLockHeld is returned when a lock stays taken for the whole wait budget.
var ErrLockHeld = errors.New("lock held")

// Mutex is a non-reentrant lock in the shared cache. A lock is released
// explicitly or when its TTL runs out.
type Mutex struct {
	cache ports.Cache
	ttl   time.Duration
	wait  time.Duration
}

// NewMutex creates a mutex whose locks live for ttl. Acquire polls for at most wait.
func NewMutex(cache ports.Cache, ttl, wait time.Duration) *Mutex {
	return &Mutex{cache: cache, ttl: ttl, wait: wait}
}

// Lock is a held lock.
type Lock struct {
	cache ports.Cache
	key   string
	token string
}

// TryAcquire takes the lock once without waiting.
func (m *Mutex) TryAcquire(ctx context.Context, name string) (*Lock, error) {
	key := "lock:" + name
	token := uuid.NewString()

	ok, err := m.cache.SetNX(ctx, key, token, m.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{cache: m.cache, key: key, token: token}, nil
}

// Acquire polls until the lock is taken, the wait budget runs out or ctx ends.
func (m *Mutex) Acquire(ctx context.Context, name string) (*Lock, error) {
	if m.wait <= 0 {
		return m.TryAcquire(ctx, name)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	return backoff.Retry(ctx, func() (*Lock, error) {
		lock, err := m.TryAcquire(ctx, name)
		if err != nil && !errors.Is(err, ErrLockHeld) {
			return nil, backoff.Permanent(err)
		}
		return lock, err
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(m.wait))
}

// Release frees the lock if it is still ours.
func (l *Lock) Release(ctx context.Context) error {
	if _, err := l.cache.DelIfEqual(ctx, l.key, l.token); err != nil {
		return fmt.Errorf("failed to release %s: %w", l.key, err)
	}
	return nil
}
