package litellm

import (
	"encoding/json"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Strob0t/AgentForge/internal/domain/thread"
	"github.com/Strob0t/AgentForge/internal/port/llm"
)

// toolCallIDKey is the message metadata key linking a tool message to the
// assistant tool call it answers.
const toolCallIDKey = "toolCallId"

func chatMessages(instructions string, msgs []thread.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if instructions != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: instructions})
	}
	for _, m := range msgs {
		switch m.Role {
		case thread.RoleTool:
			id, _ := m.Metadata[toolCallIDKey].(string)
			if id == "" {
				// A tool result without its call cannot be replayed as a tool
				// message; keep the content visible to the model.
				out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: "Tool result: " + m.Content})
				continue
			}
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleTool, Content: m.Content, ToolCallID: id})
		case thread.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		case thread.RoleAssistant:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content})
		default:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		}
	}
	return out
}

func chatTools(tools []llm.Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

// reasoningEffort maps a thinking token budget onto the effort levels the
// OpenAI API understands; LiteLLM translates them back per provider.
func reasoningEffort(budget int) string {
	switch {
	case budget <= 0:
		return ""
	case budget <= 2048:
		return "low"
	case budget <= 8192:
		return "medium"
	default:
		return "high"
	}
}

func usageFrom(u openai.Usage) llm.Usage {
	return llm.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}

// callAccumulator assembles streamed tool call deltas by index.
type callAccumulator map[int]*openai.ToolCall

func (a callAccumulator) add(deltas []openai.ToolCall) {
	for i, d := range deltas {
		idx := i
		if d.Index != nil {
			idx = *d.Index
		}
		tc, ok := a[idx]
		if !ok {
			tc = &openai.ToolCall{Type: openai.ToolTypeFunction}
			a[idx] = tc
		}
		if d.ID != "" {
			tc.ID = d.ID
		}
		if d.Function.Name != "" {
			tc.Function.Name = d.Function.Name
		}
		tc.Function.Arguments += d.Function.Arguments
	}
}

func (a callAccumulator) calls() []openai.ToolCall {
	idx := make([]int, 0, len(a))
	for i := range a {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]openai.ToolCall, 0, len(idx))
	for _, i := range idx {
		if a[i].Function.Name != "" {
			out = append(out, *a[i])
		}
	}
	return out
}
