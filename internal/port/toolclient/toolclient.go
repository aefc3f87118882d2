// Package toolclient defines the transport-independent tool provider client.
package toolclient

import (
	"context"

	"github.com/Strob0t/AgentForge/internal/domain/integration"
	"github.com/Strob0t/AgentForge/internal/domain/tool"
)

// Client is one open connection to a tool provider.
type Client interface {
	ListTools(ctx context.Context) ([]tool.Descriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*tool.CallResult, error)
	Close() error
}

// Dialer opens a fresh connection for a connection descriptor.
type Dialer interface {
	Dial(ctx context.Context, conn integration.Connection) (Client, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, conn integration.Connection) (Client, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, conn integration.Connection) (Client, error) {
	return f(ctx, conn)
}
