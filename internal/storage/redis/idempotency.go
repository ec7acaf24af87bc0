// Package redis caches responses of mutating requests by idempotency key.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IlyasAtabaev731/movement-ledger/internal/domain/models"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix         = "idempotency:"
	reservationPrefix = "idempotency:reserved:"
)

// releaseScript deletes the reservation only if owner still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type IdempotencyStorage struct {
	client *redis.Client
}

func NewIdempotencyStorage(client *redis.Client) *IdempotencyStorage {
	return &IdempotencyStorage{client: client}
}

// Get returns nil, nil when nothing is cached under key.
func (s *IdempotencyStorage) Get(ctx context.Context, key string) (*models.CachedResponse, error) {
	const op = "storage.redis.Get"

	val, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var resp models.CachedResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &resp, nil
}

func (s *IdempotencyStorage) Save(ctx context.Context, key string, response models.CachedResponse, ttl time.Duration) error {
	const op = "storage.redis.Save"

	raw, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.client.Set(ctx, keyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Reserve marks key as in flight for owner. It reports false when another owner holds it.
func (s *IdempotencyStorage) Reserve(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	const op = "storage.redis.Reserve"

	ok, err := s.client.SetNX(ctx, reservationPrefix+key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return ok, nil
}

func (s *IdempotencyStorage) Release(ctx context.Context, key, owner string) error {
	const op = "storage.redis.Release"

	if err := releaseScript.Run(ctx, s.client, []string{reservationPrefix + key}, owner).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *IdempotencyStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
