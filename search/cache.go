package search

import (
	"time"

	"forum-search-backend/metrics"

	"github.com/go-pkgz/lcw"
)

// Cache keeps recent search results. A nil *Cache caches nothing.
type Cache struct {
	lc *lcw.ExpirableCache
}

// NewCache returns nil when ttl or maxKeys disable caching.
func NewCache(ttl time.Duration, maxKeys int) (*Cache, error) {
	if ttl <= 0 || maxKeys <= 0 {
		return nil, nil
	}
	lc, err := lcw.NewExpirableCache(lcw.TTL(ttl), lcw.MaxKeys(maxKeys))
	if err != nil {
		return nil, err
	}
	return &Cache{lc: lc}, nil
}

func (c *Cache) get(key string, load func() (*Result, error)) (*Result, error) {
	if c == nil {
		return load()
	}
	loaded := false
	val, err := c.lc.Get(key, func() (lcw.Value, error) {
		loaded = true
		return load()
	})
	if err != nil {
		return nil, err
	}
	if loaded {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
	}
	return val.(*Result), nil
}

// Purge drops all cached results.
func (c *Cache) Purge() {
	if c != nil {
		c.lc.Purge()
	}
}

// Keys returns the number of cached results.
func (c *Cache) Keys() int {
	if c == nil {
		return 0
	}
	return c.lc.Stat().Keys
}
