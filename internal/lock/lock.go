// Package lock serializes multi-record writes per owner.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"

	"shopledger/backend/internal/store"
)

const (
	defaultTTL   = 30 * time.Second
	retryBackoff = 100 * time.Millisecond
	maxRetries   = 30
)

// Locker hands out an exclusive lock on key. The returned release func must
// be called exactly once.
type Locker interface {
	Obtain(ctx context.Context, key string) (func(), error)
}

// Local is an in-process keyed mutex for single-instance deployments.
type Local struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*localEntry)}
}

func (l *Local) Obtain(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &localEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, entry)
		return nil, fmt.Errorf("%w: lock %s: %v", store.ErrConflict, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			l.drop(key, entry)
		})
	}, nil
}

func (l *Local) drop(key string, entry *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}

// Redis locks across instances sharing one Redis.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{client: redislock.New(rdb), ttl: defaultTTL}
}

func (r *Redis) Obtain(ctx context.Context, key string) (func(), error) {
	lk, err := r.client.Obtain(ctx, "lock:"+key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(retryBackoff), maxRetries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: lock %s is busy", store.ErrConflict, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: obtain lock %s: %v", store.ErrUnavailable, key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The lock expires on its own if release fails.
			_ = lk.Release(context.Background())
		})
	}, nil
}
