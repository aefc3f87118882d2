package integration

import (
	"errors"
	"testing"

	"github.com/Strob0t/AgentForge/internal/domain"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      Integration
		wantErr bool
	}{
		{"http ok", Integration{Name: "n", Connection: Connection{Type: TransportHTTP, URL: "https://x.test/mcp"}}, false},
		{"sse ok", Integration{Name: "n", Connection: Connection{Type: TransportSSE, URL: "http://x.test/sse"}}, false},
		{"ws ok", Integration{Name: "n", Connection: Connection{Type: TransportWebsocket, URL: "wss://x.test/ws"}}, false},
		{"deco ok", Integration{Name: "n", Connection: Connection{Type: TransportDeco, Tenant: "acme"}}, false},
		{"innate ok", Integration{Name: "n", Connection: Connection{Type: TransportInnate, Name: "agents"}}, false},
		{"missing name", Integration{Connection: Connection{Type: TransportInnate, Name: "agents"}}, true},
		{"missing type", Integration{Name: "n"}, true},
		{"unknown type", Integration{Name: "n", Connection: Connection{Type: "stdio"}}, true},
		{"http no url", Integration{Name: "n", Connection: Connection{Type: TransportHTTP}}, true},
		{"ws with http scheme", Integration{Name: "n", Connection: Connection{Type: TransportWebsocket, URL: "http://x.test"}}, true},
		{"deco no tenant", Integration{Name: "n", Connection: Connection{Type: TransportDeco}}, true},
		{"innate no name", Integration{Name: "n", Connection: Connection{Type: TransportInnate}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCacheKeyIsTransportScoped(t *testing.T) {
	a := Connection{Type: TransportHTTP, URL: "https://x.test/mcp"}
	b := Connection{Type: TransportHTTP, URL: "https://x.test/mcp", Token: "other"}
	c := Connection{Type: TransportSSE, URL: "https://x.test/mcp"}
	if a.CacheKey() != b.CacheKey() {
		t.Error("same endpoint should share a key")
	}
	if a.CacheKey() == c.CacheKey() {
		t.Error("different transports must not share a key")
	}
	if (Connection{Type: TransportDeco, Tenant: "t"}).CacheKey() != "tools:deco:t" {
		t.Error("unexpected deco key")
	}
}
