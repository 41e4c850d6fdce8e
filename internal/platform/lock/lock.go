// Package lock provides the short-lived mutual exclusion used by background
// jobs so that only one replica runs a given sweep at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrNotObtained is returned when another holder owns the lock.
var ErrNotObtained = errors.New("lock not obtained")

// Lock is a held lock.
type Lock interface {
	// Refresh extends the lock to ttl from now. It returns ErrNotObtained
	// when the lock already expired and may be held by someone else.
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// -- Redis --

type RedisLocker struct {
	client *redislock.Client
	prefix string
}

func NewRedisLocker(rdb *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb), prefix: prefix}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lk, err := l.client.Obtain(ctx, l.prefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return redisLock{lk: lk}, nil
}

type redisLock struct {
	lk *redislock.Lock
}

func (l redisLock) Refresh(ctx context.Context, ttl time.Duration) error {
	err := l.lk.Refresh(ctx, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return ErrNotObtained
	}
	return err
}

func (l redisLock) Release(ctx context.Context) error {
	return l.lk.Release(ctx)
}

// -- Process-local --

// LocalLocker is used when Redis is not configured. It only excludes
// goroutines within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLocker) Obtain(_ context.Context, key string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, ErrNotObtained
	}
	expires := now.Add(ttl)
	l.held[key] = expires
	return &localLock{owner: l, key: key, expires: expires}, nil
}

type localLock struct {
	owner   *LocalLocker
	key     string
	expires time.Time
}

func (lk *localLock) Refresh(_ context.Context, ttl time.Duration) error {
	lk.owner.mu.Lock()
	defer lk.owner.mu.Unlock()
	now := lk.owner.now()
	exp, ok := lk.owner.held[lk.key]
	if !ok || !exp.Equal(lk.expires) || !now.Before(exp) {
		return ErrNotObtained
	}
	lk.expires = now.Add(ttl)
	lk.owner.held[lk.key] = lk.expires
	return nil
}

func (lk *localLock) Release(context.Context) error {
	lk.owner.mu.Lock()
	defer lk.owner.mu.Unlock()
	// Only drop the entry if it is still ours; an expired lock may have been
	// taken over.
	if exp, ok := lk.owner.held[lk.key]; ok && exp.Equal(lk.expires) {
		delete(lk.owner.held, lk.key)
	}
	return nil
}
