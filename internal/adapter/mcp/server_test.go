package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	afmcp "github.com/Strob0t/AgentForge/internal/adapter/mcp"
	"github.com/Strob0t/AgentForge/internal/domain"
	"github.com/Strob0t/AgentForge/internal/domain/integration"
	"github.com/Strob0t/AgentForge/internal/domain/trigger"
	"github.com/Strob0t/AgentForge/internal/middleware"
)

// --- Mocks ---

type mockInvoker struct {
	answer    string
	err       error
	gotAgent  string
	gotPrompt string
	gotWS     string
}

func (m *mockInvoker) Handoff(ctx context.Context, agentID, prompt string) (string, error) {
	m.gotAgent, m.gotPrompt = agentID, prompt
	m.gotWS = middleware.WorkspaceFromContext(ctx)
	return m.answer, m.err
}

type mockRunLister struct {
	runs     []trigger.Run
	err      error
	gotLimit int
}

func (m *mockRunLister) ListRuns(_ context.Context, _ string, limit int) ([]trigger.Run, error) {
	m.gotLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	if limit < len(m.runs) {
		return m.runs[:limit], nil
	}
	return m.runs, nil
}

type mockIntegrationLister struct {
	list []integration.Integration
}

func (m *mockIntegrationLister) ListIntegrations(context.Context) ([]integration.Integration, error) {
	return m.list, nil
}

func callTool(t *testing.T, s *afmcp.Server, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	tools := s.MCPServer().ListTools()
	st, ok := tools[name]
	if !ok {
		t.Fatalf("%s tool not found", name)
	}
	res, err := st.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return res
}

func resultText(t *testing.T, res *mcplib.CallToolResult) string {
	t.Helper()
	text, ok := res.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	return text.Text
}

// --- Tests ---

func TestToolRegistration(t *testing.T) {
	s := afmcp.NewServer(afmcp.ServerConfig{Name: "test", Version: "0.1.0"}, afmcp.ServerDeps{})

	tools := s.MCPServer().ListTools()
	expected := map[string]bool{"invoke_agent": false, "list_trigger_runs": false}
	if len(tools) != len(expected) {
		t.Fatalf("expected %d tools, got %d", len(expected), len(tools))
	}
	for name := range tools {
		if _, ok := expected[name]; !ok {
			t.Errorf("unexpected tool: %s", name)
		}
		expected[name] = true
	}
	for name, found := range expected {
		if !found {
			t.Errorf("expected tool %q not registered", name)
		}
	}
}

func TestHandleInvokeAgent(t *testing.T) {
	inv := &mockInvoker{answer: "42"}
	s := afmcp.NewServer(afmcp.ServerConfig{}, afmcp.ServerDeps{Agents: inv})

	res := callTool(t, s, "invoke_agent", map[string]any{"agent_id": "math", "message": "6*7?"})
	if res.IsError {
		t.Fatalf("tool returned error: %v", res.Content)
	}
	if got := resultText(t, res); got != "42" {
		t.Fatalf("answer = %q, want 42", got)
	}
	if inv.gotAgent != "math" || inv.gotPrompt != "6*7?" {
		t.Fatalf("invoker got (%q, %q)", inv.gotAgent, inv.gotPrompt)
	}
}

func TestHandleInvokeAgentErrors(t *testing.T) {
	tests := []struct {
		name string
		deps afmcp.ServerDeps
		args map[string]any
	}{
		{"nil deps", afmcp.ServerDeps{}, map[string]any{"agent_id": "a", "message": "m"}},
		{"missing message", afmcp.ServerDeps{Agents: &mockInvoker{}}, map[string]any{"agent_id": "a"}},
		{"depth exceeded", afmcp.ServerDeps{Agents: &mockInvoker{err: fmt.Errorf("%w: depth", domain.ErrForbidden)}}, map[string]any{"agent_id": "a", "message": "m"}},
		{"agent failed", afmcp.ServerDeps{Agents: &mockInvoker{err: errors.New("boom")}}, map[string]any{"agent_id": "a", "message": "m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := afmcp.NewServer(afmcp.ServerConfig{}, tt.deps)
			if res := callTool(t, s, "invoke_agent", tt.args); !res.IsError {
				t.Fatal("expected error result")
			}
		})
	}
}

func TestHandleListTriggerRuns(t *testing.T) {
	runs := &mockRunLister{runs: []trigger.Run{
		{ID: "r2", TriggerID: "t1", Status: trigger.RunSuccess},
		{ID: "r1", TriggerID: "t1", Status: trigger.RunError},
	}}
	s := afmcp.NewServer(afmcp.ServerConfig{}, afmcp.ServerDeps{Runs: runs})

	res := callTool(t, s, "list_trigger_runs", map[string]any{"trigger_id": "t1", "limit": float64(1)})
	if res.IsError {
		t.Fatalf("tool returned error: %v", res.Content)
	}
	var got []trigger.Run
	if err := json.Unmarshal([]byte(resultText(t, res)), &got); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r2" {
		t.Fatalf("unexpected runs %+v", got)
	}
	if res.StructuredContent == nil {
		t.Fatal("expected structured content")
	}

	callTool(t, s, "list_trigger_runs", map[string]any{"trigger_id": "t1", "limit": float64(10000)})
	if runs.gotLimit != 200 {
		t.Fatalf("limit not clamped: %d", runs.gotLimit)
	}
	callTool(t, s, "list_trigger_runs", map[string]any{"trigger_id": "t1"})
	if runs.gotLimit != 20 {
		t.Fatalf("default limit = %d, want 20", runs.gotLimit)
	}
	if res := callTool(t, s, "list_trigger_runs", nil); !res.IsError {
		t.Fatal("expected error result for missing trigger_id")
	}
}

func TestIntegrationsResourceHidesSecrets(t *testing.T) {
	lister := &mockIntegrationLister{list: []integration.Integration{{
		ID:         "crm",
		Name:       "CRM",
		Connection: integration.Connection{Type: integration.TransportHTTP, URL: "https://crm", Token: "secret"},
	}}}
	s := afmcp.NewServer(afmcp.ServerConfig{}, afmcp.ServerDeps{Integrations: lister})

	resp := s.MCPServer().HandleMessage(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"agentforge://integrations"}}`))
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	var out struct {
		Result struct {
			Contents []struct {
				Text string `json:"text"`
			} `json:"contents"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &out); err != nil || len(out.Result.Contents) != 1 {
		t.Fatalf("unexpected response %s", data)
	}
	text := out.Result.Contents[0].Text
	var summaries []map[string]any
	if err := json.Unmarshal([]byte(text), &summaries); err != nil {
		t.Fatalf("decode resource: %v", err)
	}
	if len(summaries) != 1 || summaries[0]["transport"] != "HTTP" {
		t.Fatalf("unexpected summaries %v", summaries)
	}
	if _, ok := summaries[0]["connection"]; ok {
		t.Fatal("connection details leaked")
	}
}

func TestAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name   string
		key    string
		header string
		want   int
	}{
		{"disabled", "", "", http.StatusOK},
		{"missing", "k", "", http.StatusUnauthorized},
		{"bearer", "k", "Bearer k", http.StatusOK},
		{"bare", "k", "k", http.StatusOK},
		{"wrong", "k", "Bearer x", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			afmcp.AuthMiddleware(tt.key, next).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK {
				return
			}
			var body domain.HTTPError
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Status != tt.want || body.Message == "" {
				t.Fatalf("expected API error body, got %+v (%v)", body, err)
			}
			if challenge := rec.Header().Get("WWW-Authenticate"); (tt.want == http.StatusUnauthorized) != (challenge != "") {
				t.Fatalf("unexpected WWW-Authenticate %q for status %d", challenge, tt.want)
			}
		})
	}
}
