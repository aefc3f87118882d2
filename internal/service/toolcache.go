package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/AgentForge/internal/domain/integration"
	"github.com/Strob0t/AgentForge/internal/domain/tool"
	"github.com/Strob0t/AgentForge/internal/port/cache"
	"github.com/Strob0t/AgentForge/internal/port/toolclient"
)

// DescriptorLister lists the tools of an integration. It never fails.
type DescriptorLister interface {
	ListTools(ctx context.Context, in *integration.Integration) []tool.Descriptor
}

type cachedTools struct {
	Tools     []tool.Descriptor `json:"tools"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// ToolCache memoizes tool descriptors per transport key with a
// stale-while-revalidate policy: cached entries are served immediately and
// refreshed in the background once older than staleAfter.
type ToolCache struct {
	cache       cache.Cache
	dialer      toolclient.Dialer
	staleAfter  time.Duration
	listTimeout time.Duration
	group       singleflight.Group
	now         func() time.Time // for testing
}

// NewToolCache creates a descriptor cache.
func NewToolCache(c cache.Cache, dialer toolclient.Dialer, staleAfter, listTimeout time.Duration) *ToolCache {
	return &ToolCache{
		cache:       c,
		dialer:      dialer,
		staleAfter:  staleAfter,
		listTimeout: listTimeout,
		now:         time.Now,
	}
}

// ListTools returns the integration's declared tools when it has any,
// otherwise the cached or freshly fetched remote list. A failed fetch
// yields an empty list.
func (c *ToolCache) ListTools(ctx context.Context, in *integration.Integration) []tool.Descriptor {
	if len(in.Tools) > 0 {
		return in.Tools
	}

	key := in.Connection.CacheKey()
	if entry, ok := c.lookup(ctx, key); ok {
		if c.now().Sub(entry.FetchedAt) > c.staleAfter {
			go c.refresh(context.WithoutCancel(ctx), key, in.Connection)
		}
		return entry.Tools
	}

	tools, err := c.refresh(ctx, key, in.Connection)
	if err != nil {
		slog.WarnContext(ctx, "list tools failed", "integration", in.ID, "transport", in.Connection.Type, "error", err)
		return []tool.Descriptor{}
	}
	return tools
}

// Invalidate drops the cached descriptors for a connection.
func (c *ToolCache) Invalidate(ctx context.Context, conn integration.Connection) {
	if err := c.cache.Delete(ctx, conn.CacheKey()); err != nil {
		slog.WarnContext(ctx, "tool cache invalidate failed", "key", conn.CacheKey(), "error", err)
	}
}

func (c *ToolCache) lookup(ctx context.Context, key string) (cachedTools, bool) {
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "tool cache read failed", "key", key, "error", err)
		return cachedTools{}, false
	}
	if !ok {
		return cachedTools{}, false
	}
	var entry cachedTools
	if err := json.Unmarshal(raw, &entry); err != nil {
		slog.WarnContext(ctx, "tool cache entry corrupt", "key", key, "error", err)
		return cachedTools{}, false
	}
	return entry, true
}

// refresh fetches and stores the descriptor list. Concurrent refreshes of
// the same key share one fetch.
func (c *ToolCache) refresh(ctx context.Context, key string, conn integration.Connection) ([]tool.Descriptor, error) {
	v, err, _ := c.group.Do(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, c.listTimeout)
		defer cancel()

		tools, err := c.fetch(fetchCtx, conn)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(cachedTools{Tools: tools, FetchedAt: c.now()})
		if err == nil {
			if err := c.cache.Set(ctx, key, data, 0); err != nil {
				slog.WarnContext(ctx, "tool cache write failed", "key", key, "error", err)
			}
		}
		return tools, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]tool.Descriptor), nil
}

func (c *ToolCache) fetch(ctx context.Context, conn integration.Connection) (_ []tool.Descriptor, err error) {
	client, err := c.dialer.Dial(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", conn.Type, err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			slog.Debug("tool client close failed", "error", cerr)
		}
	}()

	tools, err := client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	if tools == nil {
		tools = []tool.Descriptor{}
	}
	return tools, nil
}
