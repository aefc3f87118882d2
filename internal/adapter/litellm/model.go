package litellm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Strob0t/AgentForge/internal/port/llm"
	"github.com/Strob0t/AgentForge/internal/resilience"
)

var _ llm.Model = (*chatModel)(nil)

// chatModel is one model id on one endpoint. Tools are executed in process
// and their results fed back until the model stops calling tools or the
// step budget is spent.
type chatModel struct {
	id      string
	client  *openai.Client
	breaker *resilience.Breaker
}

func (m *chatModel) ID() string { return m.id }

func (m *chatModel) baseRequest(req *llm.Request) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:               m.id,
		Messages:            chatMessages(req.Instructions, req.Messages),
		MaxCompletionTokens: req.MaxTokens,
		Tools:               chatTools(req.Tools),
		ReasoningEffort:     reasoningEffort(req.ThinkingBudget),
	}
}

func (m *chatModel) complete(ctx context.Context, cr openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var resp openai.ChatCompletionResponse
	err := guard(ctx, m.breaker, func(ctx context.Context) error {
		var err error
		resp, err = m.client.CreateChatCompletion(ctx, cr)
		return err
	})
	if err != nil {
		return resp, statusError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return resp, fmt.Errorf("chat completion: no choices returned")
	}
	return resp, nil
}

func (m *chatModel) Generate(ctx context.Context, req llm.Request) (*llm.Result, error) {
	cr := m.baseRequest(&req)
	tools := toolIndex(req.Tools)
	res := &llm.Result{Model: m.id}
	maxSteps := max(req.MaxSteps, 1)

	for {
		resp, err := m.complete(ctx, cr)
		if err != nil {
			return nil, err
		}
		res.Steps++
		res.ID = resp.ID
		if resp.Model != "" {
			res.Model = resp.Model
		}
		res.Usage.Add(usageFrom(resp.Usage))

		choice := resp.Choices[0]
		res.FinishReason = string(choice.FinishReason)
		if req.SendReasoning || req.ThinkingBudget > 0 {
			res.Reasoning += choice.Message.ReasoningContent
		}
		if len(choice.Message.ToolCalls) == 0 || res.Steps >= maxSteps {
			res.Text = choice.Message.Content
			return res, nil
		}

		calls, msgs := runTools(ctx, tools, choice.Message.ToolCalls)
		res.ToolCalls = append(res.ToolCalls, calls...)
		cr.Messages = append(cr.Messages, assistantCall(choice.Message.Content, choice.Message.ToolCalls))
		cr.Messages = append(cr.Messages, msgs...)
	}
}

// GenerateObject asks for a single JSON answer conforming to req.Schema.
// Tools are not offered.
func (m *chatModel) GenerateObject(ctx context.Context, req llm.Request) (*llm.Result, error) {
	cr := m.baseRequest(&req)
	cr.Tools = nil
	name := req.SchemaName
	if name == "" {
		name = "output"
	}
	cr.ResponseFormat = &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:   name,
			Schema: req.Schema,
		},
	}

	resp, err := m.complete(ctx, cr)
	if err != nil {
		return nil, err
	}
	choice := resp.Choices[0]
	obj := extractJSON(choice.Message.Content)
	if !json.Valid(obj) {
		return nil, fmt.Errorf("model %s returned no JSON object", m.id)
	}
	model := resp.Model
	if model == "" {
		model = m.id
	}
	return &llm.Result{
		ID:           resp.ID,
		Model:        model,
		Text:         choice.Message.Content,
		Object:       obj,
		Steps:        1,
		FinishReason: string(choice.FinishReason),
		Usage:        usageFrom(resp.Usage),
	}, nil
}

func (m *chatModel) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	cr := m.baseRequest(&req)
	cr.Stream = true
	cr.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	s := &chatStream{
		ctx:      ctx,
		model:    m,
		req:      cr,
		tools:    toolIndex(req.Tools),
		maxSteps: max(req.MaxSteps, 1),
		reason:   req.SendReasoning,
		res:      llm.Result{Model: m.id},
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func toolIndex(tools []llm.Tool) map[string]llm.Tool {
	idx := make(map[string]llm.Tool, len(tools))
	for _, t := range tools {
		idx[t.Name] = t
	}
	return idx
}

func assistantCall(content string, calls []openai.ToolCall) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content, ToolCalls: calls}
}

// runTools executes the calls in order. Failures become the tool message
// content so the model can react to them.
func runTools(ctx context.Context, tools map[string]llm.Tool, calls []openai.ToolCall) ([]llm.ToolCall, []openai.ChatCompletionMessage) {
	records := make([]llm.ToolCall, 0, len(calls))
	msgs := make([]openai.ChatCompletionMessage, 0, len(calls))
	for _, c := range calls {
		rec := llm.ToolCall{ID: c.ID, Name: c.Function.Name, Args: json.RawMessage(orEmptyObject(c.Function.Arguments))}
		var content string
		t, ok := tools[c.Function.Name]
		if !ok {
			rec.Error = "tool " + c.Function.Name + " is not available"
		} else if out, err := t.Execute(ctx, rec.Args); err != nil {
			slog.WarnContext(ctx, "tool execution failed", "tool", c.Function.Name, "error", err)
			rec.Error = err.Error()
		} else {
			rec.Result = out
		}

		if rec.Error != "" {
			b, _ := json.Marshal(map[string]string{"error": rec.Error})
			content = string(b)
		} else if s, ok := rec.Result.(string); ok {
			content = s
		} else if b, err := json.Marshal(rec.Result); err == nil {
			content = string(b)
		} else {
			content = fmt.Sprint(rec.Result)
		}
		records = append(records, rec)
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleTool, Content: content, ToolCallID: c.ID})
	}
	return records, msgs
}

func orEmptyObject(args string) string {
	if strings.TrimSpace(args) == "" {
		return "{}"
	}
	return args
}

// extractJSON strips a markdown code fence some models wrap JSON answers in.
func extractJSON(s string) json.RawMessage {
	b := bytes.TrimSpace([]byte(s))
	if bytes.HasPrefix(b, []byte("```")) {
		b = b[3:]
		if nl := bytes.IndexByte(b, '\n'); nl >= 0 {
			b = b[nl+1:]
		}
		b = bytes.TrimSuffix(bytes.TrimSpace(b), []byte("```"))
		b = bytes.TrimSpace(b)
	}
	return b
}
