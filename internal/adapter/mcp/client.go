package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/AgentForge/internal/domain/tool"
	"github.com/Strob0t/AgentForge/internal/port/toolclient"
)

var _ toolclient.Client = (*Client)(nil)

// Client adapts an initialized mcp-go client to toolclient.Client.
type Client struct {
	c *mcpclient.Client
}

// ListTools returns every tool the server offers, following pagination.
func (c *Client) ListTools(ctx context.Context) ([]tool.Descriptor, error) {
	var out []tool.Descriptor
	req := mcplib.ListToolsRequest{}
	for {
		res, err := c.c.ListTools(ctx, req)
		if err != nil {
			return nil, err
		}
		for i := range res.Tools {
			d, err := descriptorFrom(res.Tools[i])
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		if res.NextCursor == "" {
			return out, nil
		}
		req.Params.Cursor = res.NextCursor
	}
}

// CallTool invokes name. A result flagged IsError is returned as data, not
// as a Go error; transport failures are errors.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*tool.CallResult, error) {
	req := mcplib.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.c.CallTool(ctx, req)
	if err != nil {
		return nil, err
	}
	return callResultFrom(res)
}

// Close closes the transport.
func (c *Client) Close() error {
	return c.c.Close()
}

// descriptorFrom converts through JSON so raw and structured input schemas
// are handled alike.
func descriptorFrom(t mcplib.Tool) (tool.Descriptor, error) {
	var d tool.Descriptor
	b, err := json.Marshal(t)
	if err != nil {
		return d, fmt.Errorf("encode tool %s: %w", t.Name, err)
	}
	if err := json.Unmarshal(b, &d); err != nil {
		return d, fmt.Errorf("decode tool %s: %w", t.Name, err)
	}
	return d, nil
}

func callResultFrom(res *mcplib.CallToolResult) (*tool.CallResult, error) {
	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	var out tool.CallResult
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode tool result: %w", err)
	}
	return &out, nil
}
