// Package cache is an in-memory LRU with TTL for values that never change
// once cached. Each instance is per-process.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipproof_cache_hits_total",
		Help: "LRU cache hits by cache name.",
	}, []string{"cache"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipproof_cache_misses_total",
		Help: "LRU cache misses by cache name.",
	}, []string{"cache"})
)

type CacheService[K comparable, V any] struct {
	cache  *expirable.LRU[K, V]
	hits   prometheus.Counter
	misses prometheus.Counter
}

// NewCacheService creates a cache holding at most maxSize entries, each
// evicted ttl after it was added.
func NewCacheService[K comparable, V any](name string, maxSize int, ttl time.Duration) *CacheService[K, V] {
	return &CacheService[K, V]{
		cache:  expirable.NewLRU[K, V](maxSize, nil, ttl),
		hits:   cacheHitsTotal.WithLabelValues(name),
		misses: cacheMissesTotal.WithLabelValues(name),
	}
}

// Get returns the cached value and records a hit or a miss.
func (c *CacheService[K, V]) Get(key K) (V, bool) {
	val, ok := c.cache.Get(key)
	if ok {
		c.hits.Inc()
		return val, true
	}
	c.misses.Inc()
	return val, false
}

func (c *CacheService[K, V]) Set(key K, value V) {
	c.cache.Add(key, value)
}

func (c *CacheService[K, V]) Delete(key K) {
	c.cache.Remove(key)
}

func (c *CacheService[K, V]) Len() int {
	return c.cache.Len()
}
