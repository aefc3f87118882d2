// Package llm defines the model port used by the agent execution engine.
package llm

import (
	"context"
	"encoding/json"

	"github.com/Strob0t/AgentForge/internal/domain/thread"
)

// Tool is a function the model may call during a generation.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Execute     func(ctx context.Context, args json.RawMessage) (any, error)
}

// Request is one generation request.
type Request struct {
	Instructions string
	Messages     []thread.Message
	Tools        []Tool
	MaxSteps     int
	MaxTokens    int
	// ThinkingBudget enables extended reasoning when > 0.
	ThinkingBudget int
	SendReasoning  bool
	// Schema constrains the final answer to a JSON object (GenerateObject).
	Schema     json.RawMessage
	SchemaName string
}

// Usage reports consumed tokens.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.PromptTokens += u2.PromptTokens
	u.CompletionTokens += u2.CompletionTokens
	u.TotalTokens += u2.TotalTokens
}

// ToolCall records one tool invocation made during a generation.
type ToolCall struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Args   json.RawMessage `json:"args"`
	Result any             `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Result is a finished generation.
type Result struct {
	ID           string          `json:"id"`
	Model        string          `json:"model"`
	Text         string          `json:"text"`
	Reasoning    string          `json:"reasoning,omitempty"`
	Object       json.RawMessage `json:"object,omitempty"`
	ToolCalls    []ToolCall      `json:"toolCalls,omitempty"`
	Steps        int             `json:"steps"`
	FinishReason string          `json:"finishReason"`
	Usage        Usage           `json:"usage"`
}

// ChunkType labels stream events.
type ChunkType string

const (
	ChunkText       ChunkType = "text-delta"
	ChunkReasoning  ChunkType = "reasoning"
	ChunkToolCall   ChunkType = "tool-call"
	ChunkToolResult ChunkType = "tool-result"
	ChunkFinish     ChunkType = "finish"
)

// Chunk is one stream event. The final chunk has Type ChunkFinish and
// carries the accumulated Result.
type Chunk struct {
	Type     ChunkType `json:"type"`
	Text     string    `json:"text,omitempty"`
	ToolCall *ToolCall `json:"toolCall,omitempty"`
	Result   *Result   `json:"result,omitempty"`
}

// Stream yields chunks until Recv returns io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Model is a chat model bound to one model id.
type Model interface {
	ID() string
	Generate(ctx context.Context, req Request) (*Result, error)
	Stream(ctx context.Context, req Request) (Stream, error)
	GenerateObject(ctx context.Context, req Request) (*Result, error)
}

// Provider builds model handles. bypassProxy routes around the default
// proxy endpoint to the direct provider.
type Provider interface {
	Model(id string, bypassProxy bool) Model
}
