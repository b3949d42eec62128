// Package denycache remembers terminal share and reverse share denials for a
// short while so repeated requests for a dead link skip the store.
package denycache

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xxxsen/sharegate/internal/config"
	"github.com/xxxsen/sharegate/internal/pkg/shareerr"
)

type Cache interface {
	Get(ctx context.Context, key string) (*shareerr.Error, bool)
	Put(ctx context.Context, key string, denial *shareerr.Error)
}

type Factory func(cfg config.DenyCacheConfig) (Cache, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func init() {
	Register("none", func(config.DenyCacheConfig) (Cache, error) { return Nop(), nil })
}

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.DenyCacheConfig) (Cache, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		key = "none"
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported deny cache type: %s", cfg.Type)
	}
	return factory(cfg)
}

func ShareKey(shareID string) string {
	return "share:" + shareID
}

func ReverseShareKey(token string) string {
	return "reverse:" + token
}

type nopCache struct{}

func Nop() Cache {
	return nopCache{}
}

func (nopCache) Get(context.Context, string) (*shareerr.Error, bool) {
	return nil, false
}

func (nopCache) Put(context.Context, string, *shareerr.Error) {}
