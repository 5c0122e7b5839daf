package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// LocalTenantLocker serialises callers per tenant inside one process.
type LocalTenantLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocalTenantLocker() *LocalTenantLocker {
	return &LocalTenantLocker{slots: map[string]chan struct{}{}}
}

func (l *LocalTenantLocker) slot(tenantId string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[tenantId]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[tenantId] = ch
	}
	return ch
}

func (l *LocalTenantLocker) Lock(ctx context.Context, tenantId string) (func(), error) {
	ch := l.slot(tenantId)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RedisTenantLocker holds the in-process lock and then a redislock lease keyed
// "<prefix>:<tenant>", so postings are serialised across instances. When Redis
// is unreachable it degrades to the in-process lock only.
type RedisTenantLocker struct {
	Client *redislock.Client
	Prefix string
	TTL    time.Duration
	Retry  redislock.RetryStrategy
	Logger *logrus.Logger

	local *LocalTenantLocker
}

func NewRedisTenantLocker(client *redislock.Client, prefix string, ttl time.Duration, logger *logrus.Logger) *RedisTenantLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisTenantLocker{
		Client: client,
		Prefix: prefix,
		TTL:    ttl,
		Retry:  redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), int(ttl/(100*time.Millisecond))),
		Logger: logger,
		local:  NewLocalTenantLocker(),
	}
}

func (l *RedisTenantLocker) Lock(ctx context.Context, tenantId string) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, tenantId)
	if err != nil {
		return nil, err
	}
	if l.Client == nil {
		return unlockLocal, nil
	}

	key := fmt.Sprintf("%s:%s", l.Prefix, tenantId)
	lock, err := l.Client.Obtain(ctx, key, l.TTL, &redislock.Options{RetryStrategy: l.Retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		unlockLocal()
		return nil, fmt.Errorf("could not obtain lock %s: %w", key, err)
	}
	if err != nil {
		if ctx.Err() != nil {
			unlockLocal()
			return nil, ctx.Err()
		}
		if l.Logger != nil {
			l.Logger.WithFields(logrus.Fields{
				"field":     "RedisTenantLocker",
				"tenant_id": tenantId,
			}).Warn("redis lock unavailable, using in-process lock: " + err.Error())
		}
		return unlockLocal, nil
	}

	return func() {
		// Release with a fresh context so a cancelled request still frees the lease.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
		unlockLocal()
	}, nil
}
