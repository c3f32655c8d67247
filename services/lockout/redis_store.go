package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var errRedisUnavailable = errors.New("lockout redis unavailable")

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Fail is a single INCR, so concurrent failures from one account can
// never undercount.
func (s *RedisStore) Fail(ctx context.Context, key string, window time.Duration) (int, error) {
	count, err := s.client.Incr(ctx, failKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}

	if count == 1 {
		if err := s.client.Expire(ctx, failKey(key), window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", errRedisUnavailable, err)
		}
	}

	return int(count), nil
}

func (s *RedisStore) Lock(ctx context.Context, key string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, lockKey(key), until.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	return nil
}

func (s *RedisStore) LockedUntil(ctx context.Context, key string) (time.Time, bool, error) {
	unix, err := s.client.Get(ctx, lockKey(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}

	until := time.Unix(unix, 0)
	if time.Now().After(until) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, failKey(key), lockKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	return nil
}

func failKey(key string) string {
	return "lockout:fail:" + key
}

func lockKey(key string) string {
	return "lockout:lock:" + key
}
