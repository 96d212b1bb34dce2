package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript adds to a counter and sets its expiry when the key has none,
// so a key is never left without a TTL.
var incrScript = redis.NewScript(`
local count = redis.call('INCRBY', KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 and redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return count
`)

type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the store at redisURL. A non-empty token
// replaces any password embedded in the URL.
func NewRedisStore(redisURL, token string) (*RedisStore, error) {
	if redisURL == "" {
		return nil, ErrNotConfigured
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse counter store url: %w", err)
	}
	if token != "" {
		opt.Password = token
	}

	return &RedisStore{client: redis.NewClient(opt)}, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, by int64, ttl time.Duration) (int64, error) {
	count, err := incrScript.Run(ctx, s.client, []string{key}, by, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return count, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	value, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return value, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
