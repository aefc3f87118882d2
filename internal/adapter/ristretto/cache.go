// Package ristretto holds this replica's copy of integration tool
// descriptors, so agent instances sharing an integration skip the L2 and
// the tool server's tools/list round trip.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Strob0t/AgentForge/internal/port/cache"
)

var _ cache.Cache = (*Cache)(nil)

const minCounters = 1000

// Cache is the L1 tier of the tool descriptor cache, keyed by connection.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New sizes the cache by bytes of descriptor JSON plus keys (cache.l1_max_size_mb).
func New(maxCostBytes int64) (*Cache, error) {
	counters := max(maxCostBytes/100*10, minCounters) // ~10x expected items
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

// Get returns the encoded descriptor list stored under key.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores a value with the given TTL (zero keeps it until evicted) and
// waits until it is visible to Get. Ristretto may still reject the value
// under cost pressure; callers treat the L1 as best effort.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.c.SetWithTTL(key, value, int64(len(value))+int64(len(key)), ttl)
	c.c.Wait()
	return nil
}

// Delete drops key after a failed tool call invalidated the connection.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
