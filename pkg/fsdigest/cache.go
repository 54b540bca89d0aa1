package fsdigest

import (
	"github.com/golang/groupcache/lru"
)

// CacheKey identifies one digest computation. Stat identity (size +
// mtime) is part of the key so a changed file misses instead of
// returning stale bytes.
type CacheKey struct {
	Path  string
	Type  Type
	Size  int64
	Mtime int64 // unix nanoseconds
}

// Cache memoizes content digests across repeated tree scans, so that
// watch-mode re-syncs do not re-hash files that have not changed.
// Scanning is single-threaded; the cache is not safe for concurrent
// use.
type Cache struct {
	lru *lru.Cache
}

func NewCache(maxEntries int) *Cache {
	return &Cache{lru: lru.New(maxEntries)}
}

func (c *Cache) Get(key CacheKey) ([]byte, bool) {
	value, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}

	return value.([]byte), true
}

func (c *Cache) Add(key CacheKey, digest []byte) {
	c.lru.Add(key, digest)
}
