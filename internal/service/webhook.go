package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Strob0t/AgentForge/internal/domain/thread"
	"github.com/Strob0t/AgentForge/internal/domain/tool"
	"github.com/Strob0t/AgentForge/internal/domain/trigger"
)

// runWebhook answers one inbound webhook request. The response shape depends
// on the trigger and request: an input-binding tool, an output tool, a JSON
// schema, or a plain (optionally streamed) generation.
func (t *Trigger) runWebhook(ctx context.Context, d *trigger.Data, args RunArgs) *RunOutput {
	// plain comparison, kept as is
	if d.Passphrase != "" && args.Passphrase != d.Passphrase {
		return &RunOutput{Status: http.StatusUnauthorized, Body: map[string]string{"error": "Invalid passphrase"}}
	}

	if d.CallTool != nil {
		return t.callBoundTool(ctx, d.CallTool, args.Payload)
	}

	a, err := t.host.deps.Agents.Get(ctx, d.AgentID)
	if err != nil {
		return failure(statusFor(err), err.Error())
	}
	msgs := webhookMessages(args.Payload)
	resource := args.ResourceID
	if resource == "" {
		resource = d.ResourceID
	}
	opts := GenerateOptions{
		ThreadID:         args.ThreadID,
		ResourceID:       resource,
		BypassOpenRouter: args.BypassOpenRouter,
		LastMessages:     args.LastMessages,
		SendReasoning:    args.SendReasoning,
	}

	if args.OutputTool != "" {
		ot, herr := a.GetOutputTool(ctx, args.OutputTool)
		if herr != nil {
			return &RunOutput{Status: herr.Status, Body: herr}
		}
		status, body := a.HandleOutputTool(ctx, ot, msgs, opts)
		return &RunOutput{Status: status, Body: body}
	}

	schema := args.Schema
	if len(schema) == 0 {
		schema = d.Schema
	}
	if len(schema) > 0 {
		res, err := a.GenerateObject(ctx, msgs, schema, opts)
		if err != nil {
			return failure(statusFor(err), err.Error())
		}
		return &RunOutput{Status: http.StatusOK, Body: res.Object}
	}

	if args.Stream {
		s, err := a.Stream(ctx, msgs, opts)
		if err != nil {
			return failure(statusFor(err), err.Error())
		}
		return &RunOutput{Status: http.StatusOK, Stream: s}
	}
	res, err := a.Generate(ctx, msgs, opts)
	if err != nil {
		return failure(statusFor(err), err.Error())
	}
	return &RunOutput{Status: http.StatusOK, Body: res}
}

// callBoundTool hands the request payload to the trigger's input-binding
// tool. A structured result carrying a numeric "status" is translated into
// that HTTP status, with its "body" (or the whole result) as the response.
func (t *Trigger) callBoundTool(ctx context.Context, b *trigger.ToolBinding, payload json.RawMessage) *RunOutput {
	ts, err := t.tools.GetOrCreate(ctx, b.IntegrationID)
	if err != nil || ts == nil {
		return failure(http.StatusNotFound, "Integration not found")
	}
	et, ok := ts[tool.Slugify(b.ToolName)]
	if !ok {
		return failure(http.StatusNotFound, "Tool not found")
	}
	args, err := decodeArgs(payload)
	if err != nil {
		args = map[string]any{"payload": string(payload)}
	}
	res, err := et.Execute(ctx, args)
	if err != nil {
		slog.WarnContext(ctx, "webhook tool failed", "integration", b.IntegrationID, "tool", b.ToolName, "error", err)
		return failure(statusFor(err), err.Error())
	}
	return httpShaped(res.Value())
}

func httpShaped(v any) *RunOutput {
	m, ok := v.(map[string]any)
	if !ok {
		return &RunOutput{Status: http.StatusOK, Body: v}
	}
	status, ok := m["status"].(float64)
	if !ok || status < 100 || status > 599 {
		return &RunOutput{Status: http.StatusOK, Body: v}
	}
	if body, ok := m["body"]; ok {
		return &RunOutput{Status: int(status), Body: body}
	}
	return &RunOutput{Status: int(status), Body: m}
}

// webhookMessages turns a request payload into the conversation sent to the
// agent. A payload with a "messages" array is used as is; anything else is
// passed as a single user message.
func webhookMessages(payload json.RawMessage) []thread.Message {
	var withMessages struct {
		Messages []thread.Message `json:"messages"`
	}
	if err := json.Unmarshal(payload, &withMessages); err == nil && len(withMessages.Messages) > 0 {
		return withMessages.Messages
	}
	content := string(payload)
	var text string
	switch {
	case len(payload) == 0:
		content = "{}"
	case json.Unmarshal(payload, &text) == nil:
		content = text
	}
	return []thread.Message{{Role: thread.RoleUser, Content: content}}
}
