package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultOpTimeout bounds every Redis call so the store can never stall a
// caller; the engine treats the store as unreliable by contract.
const defaultOpTimeout = 2 * time.Second

// RedisStore persists records as JSON blobs under warden:<kind>:<id>.
type RedisStore struct {
	client    *redis.Client
	opTimeout time.Duration
}

// NewRedisStore connects a store to the given Redis address. The opTimeout
// bounds each individual Load/Save; zero keeps the default 2s.
func NewRedisStore(addr, password string, opTimeout time.Duration) *RedisStore {
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		opTimeout: opTimeout,
	}
}

// NewRedisStoreFromClient wraps an existing client (used by tests with
// miniredis).
func NewRedisStoreFromClient(client *redis.Client, opTimeout time.Duration) *RedisStore {
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &RedisStore{client: client, opTimeout: opTimeout}
}

// Ping verifies connectivity at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

func redisKey(kind, id string) string {
	return fmt.Sprintf("warden:%s:%s", kind, id)
}

// Load fetches a record; a missing key is found=false, not an error.
func (s *RedisStore) Load(ctx context.Context, kind, id string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, redisKey(kind, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: redis get %s/%s: %w", kind, id, err)
	}
	return data, true, nil
}

// Save writes a record. Records are durable best-effort snapshots; no TTL.
func (s *RedisStore) Save(ctx context.Context, kind, id string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.client.Set(ctx, redisKey(kind, id), data, 0).Err(); err != nil {
		return fmt.Errorf("store: redis set %s/%s: %w", kind, id, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
