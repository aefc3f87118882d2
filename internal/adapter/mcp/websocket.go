package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/AgentForge/internal/domain/tool"
)

// maxWSMessage bounds a single JSON-RPC frame from a tool server.
const maxWSMessage = 8 << 20

var errWSClosed = errors.New("websocket tool connection closed")

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message) }

type rpcResponse struct {
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// wsClient speaks MCP JSON-RPC over one websocket. A read loop routes
// responses to the waiting call by id; server notifications are dropped.
type wsClient struct {
	ws     *websocket.Conn
	nextID atomic.Int64
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[int64]chan rpcResponse
	err     error
	done    chan struct{}
}

func dialWebsocket(ctx context.Context, url string, headers map[string]string, cfg DialerConfig) (*wsClient, error) {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient:   cfg.HTTPClient,
		HTTPHeader:   h,
		Subprotocols: []string{"mcp"},
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	ws.SetReadLimit(maxWSMessage)

	loopCtx, cancel := context.WithCancel(context.Background())
	c := &wsClient{
		ws:      ws,
		cancel:  cancel,
		pending: make(map[int64]chan rpcResponse),
		done:    make(chan struct{}),
	}
	go c.readLoop(loopCtx)

	params := map[string]any{
		"protocolVersion": mcplib.LATEST_PROTOCOL_VERSION,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": cfg.ClientName, "version": cfg.ClientVersion},
	}
	if _, err := c.call(ctx, "initialize", params); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize Websocket: %w", err)
	}
	if err := c.notify(ctx, "notifications/initialized"); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialized notification: %w", err)
	}
	return c, nil
}

func (c *wsClient) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		var resp rpcResponse
		if err := wsjson.Read(ctx, c.ws, &resp); err != nil {
			c.fail(err)
			return
		}
		if resp.ID == nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		delete(c.pending, *resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// fail records the terminal error and wakes every waiting call.
func (c *wsClient) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *wsClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan rpcResponse, 1)

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", errWSClosed, c.err)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := wsjson.Write(ctx, c.ws, rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, errWSClosed
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *wsClient) notify(ctx context.Context, method string) error {
	return wsjson.Write(ctx, c.ws, rpcRequest{JSONRPC: "2.0", Method: method})
}

func (c *wsClient) ListTools(ctx context.Context) ([]tool.Descriptor, error) {
	var out []tool.Descriptor
	cursor := ""
	for {
		var params any
		if cursor != "" {
			params = map[string]string{"cursor": cursor}
		}
		raw, err := c.call(ctx, "tools/list", params)
		if err != nil {
			return nil, err
		}
		var page struct {
			Tools      []tool.Descriptor `json:"tools"`
			NextCursor string            `json:"nextCursor"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("decode tools/list: %w", err)
		}
		out = append(out, page.Tools...)
		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

func (c *wsClient) CallTool(ctx context.Context, name string, args map[string]any) (*tool.CallResult, error) {
	raw, err := c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return nil, err
	}
	var res tool.CallResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode tools/call: %w", err)
	}
	return &res, nil
}

func (c *wsClient) Close() error {
	err := c.ws.Close(websocket.StatusNormalClosure, "")
	c.cancel()
	<-c.done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
