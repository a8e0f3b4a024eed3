package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "feedforge"

// RedisConfig holds Redis connection settings for the shared store.
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	PasswordEnv string        `yaml:"password_env"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	Namespace   string        `yaml:"namespace"` // empty = per-run namespace
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// NewRedisClient builds a client from cfg and verifies connectivity.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: os.Getenv(cfg.PasswordEnv),
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// RedisStore is a Store backed by Redis. All keys live under
// feedforge:<namespace>: so Clear only touches this store's entries.
type RedisStore struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client *redis.Client, namespace string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
		logger:    logger,
	}
}

// Namespace returns the key namespace of this store.
func (s *RedisStore) Namespace() string {
	return s.namespace
}

func (s *RedisStore) key(k string) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, s.namespace, k)
}

// Get fetches key. A missing key is not an error.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores value with the configured TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Invalidate deletes key. Keys ending in "*" delete by pattern.
func (s *RedisStore) Invalidate(ctx context.Context, key string) error {
	if len(key) > 0 && key[len(key)-1] == '*' {
		return s.deleteMatching(ctx, s.key(key))
	}
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Clear deletes every key in this store's namespace.
func (s *RedisStore) Clear(ctx context.Context) error {
	return s.deleteMatching(ctx, s.key("*"))
}

func (s *RedisStore) deleteMatching(ctx context.Context, pattern string) error {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return fmt.Errorf("redis scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	s.logger.Debug("Cleared redis keys",
		zap.String("pattern", pattern),
		zap.Int("deleted", deleted),
	)
	return nil
}
