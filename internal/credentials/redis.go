package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "cmslake"

// RedisConfig defines the connection settings of a shared URL store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore shares signed GET URLs between processes through one Redis
// hash per key prefix.
type RedisStore struct {
	client *redis.Client
	key    string
}

var _ URLStore = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client, key: prefix + ":signed-urls"}, nil
}

func (s *RedisStore) Get(ctx context.Context, path string) (CachedURL, bool, error) {
	raw, err := s.client.HGet(ctx, s.key, path).Result()
	if errors.Is(err, redis.Nil) {
		return CachedURL{}, false, nil
	}
	if err != nil {
		return CachedURL{}, false, fmt.Errorf("reading cached url for %s: %w", path, err)
	}
	var u CachedURL
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return CachedURL{}, false, fmt.Errorf("decoding cached url for %s: %w", path, err)
	}
	return u, true, nil
}

func (s *RedisStore) Put(ctx context.Context, u CachedURL) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encoding cached url for %s: %w", u.Path, err)
	}
	if err := s.client.HSet(ctx, s.key, u.Path, raw).Err(); err != nil {
		return fmt.Errorf("storing cached url for %s: %w", u.Path, err)
	}
	return nil
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("counting cached urls: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clearing cached urls: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
