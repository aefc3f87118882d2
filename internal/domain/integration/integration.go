// Package integration defines external tool providers and how to reach them.
// Connection is a closed set of transport variants.
package integration

import (
	"fmt"
	"net/url"
	"time"

	"github.com/Strob0t/AgentForge/internal/domain"
	"github.com/Strob0t/AgentForge/internal/domain/tool"
)

// TransportType identifies how an integration's tools are reached.
type TransportType string

const (
	TransportHTTP      TransportType = "HTTP"
	TransportSSE       TransportType = "SSE"
	TransportWebsocket TransportType = "Websocket"
	TransportDeco      TransportType = "Deco"
	TransportInnate    TransportType = "INNATE"
)

var validTransports = map[TransportType]bool{
	TransportHTTP:      true,
	TransportSSE:       true,
	TransportWebsocket: true,
	TransportDeco:      true,
	TransportInnate:    true,
}

// Connection describes a transport. Which fields apply depends on Type:
// HTTP/SSE/Websocket use URL (and Token/Headers); Deco uses Tenant and
// Token; INNATE uses Name to select an in-process tool server.
type Connection struct {
	Type    TransportType     `json:"type"`
	URL     string            `json:"url,omitempty"`
	Token   string            `json:"token,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Tenant  string            `json:"tenant,omitempty"`
	Name    string            `json:"name,omitempty"`
}

// CacheKey is the transport scoped key tool descriptors are cached under.
// Two integrations pointing at the same endpoint share a cache entry.
func (c Connection) CacheKey() string {
	switch c.Type {
	case TransportDeco:
		return "tools:deco:" + c.Tenant
	case TransportInnate:
		return "tools:innate:" + c.Name
	default:
		return "tools:" + string(c.Type) + ":" + c.URL
	}
}

// Integration is an external tool provider.
type Integration struct {
	ID          string            `json:"id"`
	Workspace   string            `json:"workspace,omitempty"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Icon        string            `json:"icon,omitempty"`
	Connection  Connection        `json:"connection"`
	Tools       []tool.Descriptor `json:"tools,omitempty"` // declared tools skip remote listing
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Validate checks that the integration has all required fields and a
// consistent connection. Returns a domain.ErrValidation-wrapped error.
func (i *Integration) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	return i.Connection.Validate()
}

// Validate checks the transport specific fields.
func (c *Connection) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("%w: connection.type is required", domain.ErrValidation)
	}
	if !validTransports[c.Type] {
		return fmt.Errorf("%w: invalid connection type %q", domain.ErrValidation, c.Type)
	}

	switch c.Type {
	case TransportHTTP, TransportSSE:
		return validateURL(c.URL, "http", "https")
	case TransportWebsocket:
		return validateURL(c.URL, "ws", "wss")
	case TransportDeco:
		if c.Tenant == "" {
			return fmt.Errorf("%w: tenant is required for Deco connections", domain.ErrValidation)
		}
	case TransportInnate:
		if c.Name == "" {
			return fmt.Errorf("%w: name is required for INNATE connections", domain.ErrValidation)
		}
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%w: url is required", domain.ErrValidation)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: invalid url %q", domain.ErrValidation, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%w: url scheme %q not allowed (want %v)", domain.ErrValidation, u.Scheme, schemes)
}
