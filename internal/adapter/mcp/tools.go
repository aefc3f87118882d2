package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/AgentForge/internal/domain"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.invokeAgentTool(),
		s.listTriggerRunsTool(),
	)
}

func (s *Server) invokeAgentTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("invoke_agent",
		mcplib.WithDescription("Send a message to another agent of this workspace and return its answer"),
		mcplib.WithString("agent_id",
			mcplib.Required(),
			mcplib.Description("Id of the agent to hand the task to"),
		),
		mcplib.WithString("message",
			mcplib.Required(),
			mcplib.Description("The task or question for the agent"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleInvokeAgent}
}

func (s *Server) listTriggerRunsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_trigger_runs",
		mcplib.WithDescription("List the most recent runs of a trigger, newest first"),
		mcplib.WithString("trigger_id",
			mcplib.Required(),
			mcplib.Description("The trigger id"),
		),
		mcplib.WithNumber("limit",
			mcplib.Description("Maximum number of runs to return (default 20)"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListTriggerRuns}
}

func (s *Server) handleInvokeAgent(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Agents == nil {
		return mcplib.NewToolResultError("agent invoker not configured"), nil
	}
	args := req.GetArguments()
	agentID, _ := args["agent_id"].(string)
	message, _ := args["message"].(string)
	if agentID == "" || message == "" {
		return mcplib.NewToolResultError("agent_id and message are required"), nil
	}

	answer, err := s.deps.Agents.Handoff(ctx, agentID, message)
	if err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			return mcplib.NewToolResultError("handoff depth exceeded, answer the task yourself"), nil
		}
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("agent %s failed", agentID), err), nil
	}
	return mcplib.NewToolResultText(answer), nil
}

func (s *Server) handleListTriggerRuns(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Runs == nil {
		return mcplib.NewToolResultError("run lister not configured"), nil
	}
	args := req.GetArguments()
	triggerID, _ := args["trigger_id"].(string)
	if triggerID == "" {
		return mcplib.NewToolResultError("trigger_id is required"), nil
	}
	limit := defaultRunLimit
	if n, ok := args["limit"].(float64); ok && n > 0 {
		limit = min(int(n), maxRunLimit)
	}

	runs, err := s.deps.Runs.ListRuns(ctx, triggerID, limit)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to list runs of %s", triggerID), err), nil
	}
	data, err := json.Marshal(runs)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal runs", err), nil
	}
	return mcplib.NewToolResultStructured(map[string]any{"runs": runs}, string(data)), nil
}
