package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/eladsnd/sunday/domain"
	"github.com/eladsnd/sunday/ordering"
)

// releaseScript deletes the lock only if it still carries our token, so a
// lock that expired and was taken by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is an ordering.Locker shared by every instance pointed at the
// same Redis. Each scope key is held with SET NX PX and a random token.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

var _ ordering.Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a RedisLocker. ttl bounds how long a crashed holder
// keeps a scope; wait bounds how long Lock retries before reporting a
// concurrency conflict.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, wait: wait, poll: 10 * time.Millisecond}
}

func scopeLockKey(key string) string {
	return "scope-lock:" + key
}

func (l *RedisLocker) Lock(ctx context.Context, keys []string) (func(), error) {
	token := uuid.NewString()
	keys = ordering.SortedKeys(keys)
	deadline := time.Now().Add(l.wait)
	held := make([]string, 0, len(keys))

	release := func() {
		// Release must work even when the request context is already done.
		rctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = releaseScript.Run(rctx, l.client, []string{scopeLockKey(held[i])}, token).Err()
		}
	}

	for _, k := range keys {
		for {
			ok, err := l.client.SetNX(ctx, scopeLockKey(k), token, l.ttl).Result()
			if err != nil {
				release()
				return nil, fmt.Errorf("acquire scope lock %s: %w", k, err)
			}
			if ok {
				held = append(held, k)
				break
			}
			if time.Now().After(deadline) {
				release()
				return nil, fmt.Errorf("%w: scope %s is locked by another writer", domain.ErrConcurrencyConflict, k)
			}
			select {
			case <-ctx.Done():
				release()
				return nil, fmt.Errorf("%w: waiting for scope %s: %v", domain.ErrConcurrencyConflict, k, ctx.Err())
			case <-time.After(l.poll):
			}
		}
	}
	return release, nil
}
