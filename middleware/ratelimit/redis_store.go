package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var errRedisUnavailable = errors.New("rate limit redis unavailable")

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}

	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("%w: %v", errRedisUnavailable, err)
		}
		return int(count), time.Now().Add(window), nil
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}

	return int(count), time.Now().Add(ttl), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	return nil
}
