package localcache

import (
	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is an in-memory Cache. Entries never expire; the auth engine
// clears them explicitly on logout or failed refresh.
type MemoryCache struct {
	c *gocache.Cache
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{c: gocache.New(gocache.NoExpiration, 0)}
}

// Set implements Cache.
func (m *MemoryCache) Set(key, value string) error {
	m.c.Set(key, value, gocache.NoExpiration)
	return nil
}

// Get implements Cache.
func (m *MemoryCache) Get(key string) (string, error) {
	value, ok := m.c.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	return value.(string), nil
}

// Delete implements Cache.
func (m *MemoryCache) Delete(key string) error {
	m.c.Delete(key)
	return nil
}
