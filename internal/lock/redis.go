package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ownership-checked delete and expire. GET/compare/mutate must be one
// atomic step or a holder could delete a lock that expired and was
// re-acquired by someone else in between.
var (
	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`)

	expireScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// RedisStore implements Store on a Redis instance shared by all
// scheduler replicas.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed lock store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Acquire implements Store.Acquire using SET NX PX
func (s *RedisStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// Release implements Store.Release
func (s *RedisStore) Release(ctx context.Context, key, token string) error {
	res, err := releaseScript.Run(ctx, s.client, []string{key}, token).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	if res.(int64) == 0 {
		return ErrNotHeld
	}
	return nil
}

// Expire implements Store.Expire
func (s *RedisStore) Expire(ctx context.Context, key, token string, ttl time.Duration) error {
	res, err := expireScript.Run(ctx, s.client, []string{key}, token, ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("failed to expire lock %s: %w", key, err)
	}
	if res.(int64) == 0 {
		return ErrNotHeld
	}
	return nil
}
