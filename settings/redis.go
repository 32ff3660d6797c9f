package settings

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps objects as redis hashes, the layout the forum platform itself uses.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) GetObject(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

func (s *RedisStore) SetObject(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return s.client.HSet(ctx, key, args...).Err()
}

// Close is a no-op, the redis client is shared and closed by its owner.
func (s *RedisStore) Close() error {
	return nil
}
