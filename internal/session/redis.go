package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "tenantgate:session:"

// RedisStore keeps server-side sessions in redis with a sliding TTL.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (Data, bool, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Empty(), false, nil
	}
	if err != nil {
		return Empty(), false, fmt.Errorf("redis get: %w", err)
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return Empty(), false, fmt.Errorf("decoding session blob: %w", err)
	}
	return data, true, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, id string, data Data, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding session blob: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+id, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
