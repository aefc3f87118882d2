package tiered_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/AgentForge/internal/adapter/tiered"
	"github.com/Strob0t/AgentForge/internal/port/cache/cachetest"
)

// memCache is a simple in-memory cache for testing. It records the TTL of
// every Set and fails every call when err is set.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.data, key)
	return nil
}

func TestTiered_Compliance(t *testing.T) {
	cachetest.Run(t, tiered.New(newMemCache(), newMemCache(), time.Minute))
}

func TestTiered_L1Hit(t *testing.T) {
	l1 := newMemCache()
	c := tiered.New(l1, newMemCache(), 5*time.Minute)

	l1.data["key1"] = []byte("val1")

	val, found, err := c.Get(context.Background(), "key1")
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(val) != "val1" {
		t.Fatalf("expected L1 hit val1, got %q (found=%v)", val, found)
	}
}

func TestTiered_L2HitWithBackfill(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)

	l2.data["key2"] = []byte("val2")

	val, found, err := c.Get(context.Background(), "key2")
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(val) != "val2" {
		t.Fatalf("expected L2 hit val2, got %q (found=%v)", val, found)
	}
	if string(l1.data["key2"]) != "val2" {
		t.Fatal("expected L1 backfill")
	}
	if l1.ttls["key2"] != 5*time.Minute {
		t.Fatalf("expected backfill capped at l1Expire, got %v", l1.ttls["key2"])
	}
}

func TestTiered_L1TTLCap(t *testing.T) {
	tests := []struct {
		name   string
		ttl    time.Duration
		wantL1 time.Duration
	}{
		{"no expiry capped", 0, time.Minute},
		{"long ttl capped", time.Hour, time.Minute},
		{"short ttl kept", time.Second, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l1, l2 := newMemCache(), newMemCache()
			c := tiered.New(l1, l2, time.Minute)
			if err := c.Set(context.Background(), "k", []byte("v"), tt.ttl); err != nil {
				t.Fatal(err)
			}
			if l1.ttls["k"] != tt.wantL1 {
				t.Fatalf("L1 ttl = %v, want %v", l1.ttls["k"], tt.wantL1)
			}
			if l2.ttls["k"] != tt.ttl {
				t.Fatalf("L2 ttl = %v, want %v", l2.ttls["k"], tt.ttl)
			}
		})
	}
}

func TestTiered_L2Unavailable(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	l2.err = errors.New("nats: no responders")
	c := tiered.New(l1, l2, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set must degrade to L1, got %v", err)
	}
	if val, found, err := c.Get(ctx, "k"); err != nil || !found || string(val) != "v" {
		t.Fatalf("expected L1 hit, got %q found=%v err=%v", val, found, err)
	}
	if _, found, err := c.Get(ctx, "other"); err != nil || found {
		t.Fatalf("expected clean miss, got found=%v err=%v", found, err)
	}
	if err := c.Delete(ctx, "k"); err == nil {
		t.Fatal("expected Delete to report the L2 failure")
	}
	if _, ok := l1.data["k"]; ok {
		t.Fatal("expected L1 entry deleted even when L2 fails")
	}
}

func TestTiered_DeleteBoth(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)

	l1.data["key4"] = []byte("val4")
	l2.data["key4"] = []byte("val4")

	if err := c.Delete(context.Background(), "key4"); err != nil {
		t.Fatal(err)
	}
	if _, ok := l1.data["key4"]; ok {
		t.Fatal("expected key4 deleted from L1")
	}
	if _, ok := l2.data["key4"]; ok {
		t.Fatal("expected key4 deleted from L2")
	}
}
