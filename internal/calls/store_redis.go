package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "call_config:"

// RedisStore stores one string key per conversation.
// TTL is zero by default: records live until deleted.
type RedisStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisStore(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func redisKey(id string) string { return redisKeyPrefix + id }

func (s *RedisStore) Save(ctx context.Context, id string, cfg CallConfig) error {
	if id == "" {
		return ErrEmptyID
	}
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, redisKey(id), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("calls: redis save: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (CallConfig, bool, error) {
	data, err := s.rdb.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("calls: redis get: %w", err)
	}
	cfg, err := Unmarshal(data)
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, redisKey(id)).Err(); err != nil {
		return fmt.Errorf("calls: redis delete: %w", err)
	}
	return nil
}
