package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const integrationsURI = "agentforge://integrations"

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			integrationsURI,
			"Integrations",
			mcplib.WithResourceDescription("Tool providers registered in this workspace"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleIntegrationsResource,
	)
}

// integrationSummary omits connection details; tokens must not leak to agents.
type integrationSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Transport   string `json:"transport"`
}

func (s *Server) handleIntegrationsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	text := `{"error":"integration lister not configured"}`
	if s.deps.Integrations != nil {
		list, err := s.deps.Integrations.ListIntegrations(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]integrationSummary, 0, len(list))
		for i := range list {
			out = append(out, integrationSummary{
				ID:          list[i].ID,
				Name:        list[i].Name,
				Description: list[i].Description,
				Transport:   string(list[i].Connection.Type),
			})
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, err
		}
		text = string(data)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: text},
	}, nil
}
