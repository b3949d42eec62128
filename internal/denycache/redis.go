package denycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/sharegate/internal/config"
	"github.com/xxxsen/sharegate/internal/pkg/shareerr"
)

const redisKeyPrefix = "sharegate:deny:"

func init() {
	Register("redis", createRedisCache)
}

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

type redisEntry struct {
	Kind    shareerr.Kind `json:"kind"`
	Message string        `json:"message"`
}

func createRedisCache(cfg config.DenyCacheConfig) (Cache, error) {
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("deny_cache.redis.addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, cfg.TTL), nil
}

func NewRedis(client *redis.Client, ttl time.Duration) Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisCache{client: client, ttl: ttl}
}

// Get treats any redis failure as a miss; the store stays authoritative.
func (r *redisCache) Get(ctx context.Context, key string) (*shareerr.Error, bool) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logutil.GetLogger(ctx).Warn("deny cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var entry redisEntry
	if err := json.Unmarshal(raw, &entry); err != nil || !entry.Kind.Cacheable() {
		return nil, false
	}
	return shareerr.New(entry.Kind, entry.Message), true
}

func (r *redisCache) Put(ctx context.Context, key string, denial *shareerr.Error) {
	if denial == nil || !denial.Kind.Cacheable() {
		return
	}
	raw, err := json.Marshal(redisEntry{Kind: denial.Kind, Message: denial.Message})
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, raw, r.ttl).Err(); err != nil {
		logutil.GetLogger(ctx).Warn("deny cache write failed", zap.String("key", key), zap.Error(err))
	}
}
