package locker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"go.uber.org/zap"
)

// Redis holds product locks in Redis so several API instances sharing one
// database still serialize writes per product. Held locks are refreshed every
// half TTL until released; the TTL only bounds how long a crashed holder
// blocks others.
type Redis struct {
	client  *redislock.Client
	ttl     time.Duration
	retries int
	prefix  string
}

func NewRedis(client redislock.RedisClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{
		client:  redislock.New(client),
		ttl:     ttl,
		retries: 100,
		prefix:  "paperpos:product-lock:",
	}
}

func (r *Redis) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalizeKeys(keys)
	held := make([]*redislock.Lock, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				zap.L().Warn("release product lock", zap.String("key", held[i].Key()), zap.Error(err))
			}
		}
	}

	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), r.retries),
	}
	for _, key := range keys {
		lock, err := r.client.Obtain(ctx, r.prefix+key, r.ttl, opts)
		if err != nil {
			release()
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
			}
			return nil, err
		}
		held = append(held, lock)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.keepAlive(held, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			release()
		})
	}, nil
}

func (r *Redis) keepAlive(held []*redislock.Lock, stop <-chan struct{}) {
	ticker := time.NewTicker(max(r.ttl/2, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, lock := range held {
				if err := lock.Refresh(context.Background(), r.ttl, nil); err != nil {
					zap.L().Warn("refresh product lock", zap.String("key", lock.Key()), zap.Error(err))
				}
			}
		}
	}
}
