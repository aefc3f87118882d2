package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Strob0t/AgentForge/internal/domain"
	"github.com/Strob0t/AgentForge/internal/domain/thread"
	"github.com/Strob0t/AgentForge/internal/domain/tool"
)

// OutputTool is a resolved "<integrationId>/<toolName>" reference.
type OutputTool struct {
	Tool   *ExecutableTool
	Schema json.RawMessage
}

// OutputResult is the body returned after an output tool ran.
type OutputResult struct {
	Args   map[string]any `json:"args"`
	Result any            `json:"result"`
}

// GetOutputTool resolves ref against the agent's tool cache. Failures come
// back as HTTP-shaped errors.
func (a *Agent) GetOutputTool(ctx context.Context, ref string) (*OutputTool, *domain.HTTPError) {
	integrationID, name, ok := tool.ParseRef(ref)
	if !ok {
		return nil, &domain.HTTPError{
			Status:  http.StatusBadRequest,
			Message: "Invalid format",
			Details: map[string]any{"outputTool": ref},
		}
	}
	ts, err := a.tools.GetOrCreate(ctx, integrationID)
	if err != nil || ts == nil {
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			slog.WarnContext(ctx, "output tool integration lookup failed", "integration", integrationID, "error", err)
		}
		return nil, &domain.HTTPError{
			Status:  http.StatusNotFound,
			Message: "Integration not found",
			Details: map[string]any{"integrationId": integrationID},
		}
	}
	t, ok := ts[tool.Slugify(name)]
	if !ok {
		return nil, &domain.HTTPError{
			Status:  http.StatusNotFound,
			Message: "Tool not found",
			Details: map[string]any{"integrationId": integrationID, "toolName": name},
		}
	}
	return &OutputTool{Tool: t, Schema: tool.SchemaOrEmpty(t.Descriptor.InputSchema)}, nil
}

// HandleOutputTool generates the output tool's arguments from the
// conversation and runs it. Every failure becomes a 500 response.
func (a *Agent) HandleOutputTool(ctx context.Context, ot *OutputTool, msgs []thread.Message, opts GenerateOptions) (status int, body any) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "output tool panicked", "tool", ot.Tool.Descriptor.Name, "panic", r)
			status, body = http.StatusInternalServerError, &domain.HTTPError{
				Status:  http.StatusInternalServerError,
				Message: fmt.Sprint(r),
			}
		}
	}()

	res, err := a.GenerateObject(ctx, msgs, ot.Schema, opts)
	if err != nil {
		return outputFailure(ctx, ot, err)
	}
	var args map[string]any
	if err := json.Unmarshal(res.Object, &args); err != nil {
		return outputFailure(ctx, ot, fmt.Errorf("tool arguments must be an object: %w", err))
	}
	out, err := ot.Tool.Execute(ctx, args)
	if err != nil {
		return outputFailure(ctx, ot, err)
	}
	return http.StatusOK, OutputResult{Args: args, Result: out.Value()}
}

func outputFailure(ctx context.Context, ot *OutputTool, err error) (int, any) {
	slog.ErrorContext(ctx, "output tool failed", "integration", ot.Tool.IntegrationID, "tool", ot.Tool.Descriptor.Name, "error", err)
	return http.StatusInternalServerError, &domain.HTTPError{
		Status:  http.StatusInternalServerError,
		Message: err.Error(),
	}
}
