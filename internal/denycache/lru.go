package denycache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xxxsen/sharegate/internal/config"
	"github.com/xxxsen/sharegate/internal/pkg/shareerr"
)

const (
	defaultSize = 4096
	defaultTTL  = 30 * time.Second
)

func init() {
	Register("lru", func(cfg config.DenyCacheConfig) (Cache, error) {
		return NewLRU(cfg.Size, cfg.TTL), nil
	})
}

type lruCache struct {
	cache *expirable.LRU[string, shareerr.Error]
}

func NewLRU(size int, ttl time.Duration) Cache {
	if size <= 0 {
		size = defaultSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &lruCache{cache: expirable.NewLRU[string, shareerr.Error](size, nil, ttl)}
}

func (l *lruCache) Get(_ context.Context, key string) (*shareerr.Error, bool) {
	v, ok := l.cache.Get(key)
	if !ok {
		return nil, false
	}
	return &v, true
}

func (l *lruCache) Put(_ context.Context, key string, denial *shareerr.Error) {
	if denial == nil || !denial.Kind.Cacheable() {
		return
	}
	l.cache.Add(key, *denial)
}
