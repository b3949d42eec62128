package service

import (
	"time"

	"github.com/xxxsen/sharegate/internal/denycache"
)

type options struct {
	cache denycache.Cache
	now   Clock
}

type Option func(o *options)

func WithDenyCache(c denycache.Cache) Option {
	return func(o *options) {
		if c != nil {
			o.cache = c
		}
	}
}

func WithClock(now Clock) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{cache: denycache.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
