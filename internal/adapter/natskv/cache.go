// Package natskv keeps cross-replica state on NATS JetStream KeyValue
// buckets: the shared L2 of the tool descriptor cache and the durable
// trigger and alarm records.
package natskv

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/AgentForge/internal/port/cache"
)

var _ cache.Cache = (*Cache)(nil)

// Cache is the L2 tier of the tool descriptor cache. Every replica reads the
// same bucket, so an integration is listed once per bucket TTL cluster-wide.
type Cache struct {
	kv jetstream.KeyValue
}

// New wraps the tools bucket.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

// Get returns the descriptors stored for key. A missing key is a miss, not an error.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := c.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

// Set stores descriptors for key. Expiry is the bucket TTL, so ttl is ignored.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := c.kv.Put(ctx, encodeKey(key), value)
	return err
}

// Delete invalidates key for every replica.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, encodeKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}
