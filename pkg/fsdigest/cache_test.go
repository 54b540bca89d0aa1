package fsdigest

import (
	"testing"

	"github.com/function61/gokit/assert"
)

func TestCache(t *testing.T) {
	cache := NewCache(16)

	key := CacheKey{Path: "/x", Type: SHA256, Size: 5, Mtime: 123}

	_, ok := cache.Get(key)
	assert.Assert(t, !ok)

	cache.Add(key, []byte{0xab, 0xcd})

	digest, ok := cache.Get(key)
	assert.Assert(t, ok)
	assert.Assert(t, len(digest) == 2 && digest[0] == 0xab)

	// any stat identity change misses
	_, ok = cache.Get(CacheKey{Path: "/x", Type: SHA256, Size: 5, Mtime: 124})
	assert.Assert(t, !ok)
	_, ok = cache.Get(CacheKey{Path: "/x", Type: SHA512, Size: 5, Mtime: 123})
	assert.Assert(t, !ok)
}

func TestCacheEvictsOldest(t *testing.T) {
	cache := NewCache(1)

	first := CacheKey{Path: "/a", Type: SHA256, Size: 1, Mtime: 1}
	second := CacheKey{Path: "/b", Type: SHA256, Size: 1, Mtime: 1}

	cache.Add(first, []byte{1})
	cache.Add(second, []byte{2})

	_, ok := cache.Get(first)
	assert.Assert(t, !ok)
	_, ok = cache.Get(second)
	assert.Assert(t, ok)
}
