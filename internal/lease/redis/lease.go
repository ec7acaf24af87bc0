// Package redis shares per-user leases between service replicas.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IlyasAtabaev731/movement-ledger/internal/lease"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lease:"

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	log    *slog.Logger
}

// New returns a Locker whose leases expire after ttl if the holder dies.
func New(client *redis.Client, ttl time.Duration, log *slog.Logger) *Locker {
	return &Locker{
		client: client,
		ttl:    ttl,
		retry:  10 * time.Millisecond,
		log:    log,
	}
}

func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	const op = "lease.redis.Acquire"

	token := uuid.NewString()
	redisKey := keyPrefix + key

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, lease.ErrNotAcquired, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%s: %w: %w", op, lease.ErrNotAcquired, ctx.Err())
		case <-timer.C:
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true

		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			// the key still expires after ttl
			l.log.Error("failed to release lease", slog.String("key", key), slog.String("error", err.Error()))
		}
	}, nil
}
