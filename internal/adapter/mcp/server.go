package mcp

import (
	"context"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/AgentForge/internal/domain/integration"
	"github.com/Strob0t/AgentForge/internal/domain/trigger"
)

// InnateName is the connection name agents use to reach the built-in tools.
const InnateName = "agentforge"

// AgentInvoker hands a prompt to another agent and returns its answer.
type AgentInvoker interface {
	Handoff(ctx context.Context, agentID, prompt string) (string, error)
}

// RunLister reads a trigger's run history.
type RunLister interface {
	ListRuns(ctx context.Context, triggerID string, limit int) ([]trigger.Run, error)
}

// IntegrationLister lists the integrations of the workspace on ctx.
type IntegrationLister interface {
	ListIntegrations(ctx context.Context) ([]integration.Integration, error)
}

// ServerConfig holds the identity the built-in tool server reports.
type ServerConfig struct {
	Name    string
	Version string
}

// ServerDeps are optional; tools whose dependency is nil report an error
// result when called.
type ServerDeps struct {
	Agents       AgentInvoker
	Runs         RunLister
	Integrations IntegrationLister
}

// Server is the built-in tool server. Agents reach it in-process through
// an INNATE connection; Handler exposes the same tools over streamable HTTP.
type Server struct {
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
}

// NewServer creates the server and registers its tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	if cfg.Name == "" {
		cfg.Name = InnateName
	}
	s := &Server{
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server, for in-process registration.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler serves the tools over streamable HTTP.
func (s *Server) Handler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcpServer)
}
