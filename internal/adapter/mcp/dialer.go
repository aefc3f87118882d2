// Package mcp connects integrations to their tool providers over the Model
// Context Protocol and hosts the in-process (INNATE) tool server.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/AgentForge/internal/domain"
	"github.com/Strob0t/AgentForge/internal/domain/integration"
	"github.com/Strob0t/AgentForge/internal/port/toolclient"
)

var _ toolclient.Dialer = (*Dialer)(nil)

// DialerConfig configures outbound tool connections.
type DialerConfig struct {
	ClientName    string
	ClientVersion string
	DecoURL       string // base URL of the Deco gateway; the tenant is appended
	DecoToken     string // default bearer token for Deco connections
	HTTPClient    *http.Client
}

// Dialer opens MCP connections for integration connection descriptors.
// In-process servers are registered by name and may be added after the
// dialer is in use.
type Dialer struct {
	cfg DialerConfig

	mu     sync.RWMutex
	innate map[string]*mcpserver.MCPServer
}

// NewDialer creates a Dialer.
func NewDialer(cfg DialerConfig) *Dialer {
	if cfg.ClientName == "" {
		cfg.ClientName = "agentforge"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "1.0.0"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Dialer{cfg: cfg, innate: make(map[string]*mcpserver.MCPServer)}
}

// RegisterInnate makes srv reachable by INNATE connections named name.
func (d *Dialer) RegisterInnate(name string, srv *mcpserver.MCPServer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.innate[name] = srv
}

// Dial opens and initializes a connection. The caller must Close it.
func (d *Dialer) Dial(ctx context.Context, conn integration.Connection) (toolclient.Client, error) {
	if conn.Type == integration.TransportWebsocket {
		ws, err := dialWebsocket(ctx, conn.URL, authHeaders(conn), d.cfg)
		if err != nil {
			return nil, err
		}
		return ws, nil
	}

	c, err := d.newClient(conn)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("start %s transport: %w", conn.Type, err)
	}

	initReq := mcplib.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcplib.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcplib.Implementation{Name: d.cfg.ClientName, Version: d.cfg.ClientVersion}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize %s: %w", conn.Type, err)
	}
	return &Client{c: c}, nil
}

func (d *Dialer) newClient(conn integration.Connection) (*mcpclient.Client, error) {
	switch conn.Type {
	case integration.TransportHTTP:
		return mcpclient.NewStreamableHttpClient(conn.URL,
			transport.WithHTTPHeaders(authHeaders(conn)),
			transport.WithHTTPBasicClient(d.cfg.HTTPClient),
		)

	case integration.TransportSSE:
		return mcpclient.NewSSEMCPClient(conn.URL,
			transport.WithHeaders(authHeaders(conn)),
			transport.WithHTTPClient(d.cfg.HTTPClient),
		)

	case integration.TransportDeco:
		if d.cfg.DecoURL == "" {
			return nil, fmt.Errorf("%w: deco gateway url is not configured", domain.ErrValidation)
		}
		token := conn.Token
		if token == "" {
			token = d.cfg.DecoToken
		}
		headers := map[string]string{"Authorization": "Bearer " + token}
		for k, v := range conn.Headers {
			headers[k] = v
		}
		return mcpclient.NewStreamableHttpClient(decoEndpoint(d.cfg.DecoURL, conn.Tenant),
			transport.WithHTTPHeaders(headers),
			transport.WithHTTPBasicClient(d.cfg.HTTPClient),
		)

	case integration.TransportInnate:
		d.mu.RLock()
		srv, ok := d.innate[conn.Name]
		d.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("innate tool server %q: %w", conn.Name, domain.ErrNotFound)
		}
		return mcpclient.NewInProcessClient(srv)

	default:
		return nil, fmt.Errorf("%w: unsupported transport %q", domain.ErrValidation, conn.Type)
	}
}

// authHeaders merges the connection's static headers with its bearer token.
func authHeaders(conn integration.Connection) map[string]string {
	h := make(map[string]string, len(conn.Headers)+1)
	for k, v := range conn.Headers {
		h[k] = v
	}
	if conn.Token != "" {
		h["Authorization"] = "Bearer " + conn.Token
	}
	return h
}

func decoEndpoint(base, tenant string) string {
	return strings.TrimSuffix(base, "/") + "/" + tenant + "/mcp"
}
