package litellm

import (
	"context"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Strob0t/AgentForge/internal/port/llm"
)

// chatStream pulls chunks from the upstream stream step by step. When a step
// ends with tool calls the tools run inside Recv, their call and result
// chunks are queued, and the next step's stream is opened.
type chatStream struct {
	ctx      context.Context
	model    *chatModel
	req      openai.ChatCompletionRequest
	tools    map[string]llm.Tool
	maxSteps int
	reason   bool

	cur    *openai.ChatCompletionStream
	queue  []llm.Chunk
	calls  callAccumulator
	text   strings.Builder
	res    llm.Result
	done   bool
	closed bool
}

func (s *chatStream) open() error {
	err := guard(s.ctx, s.model.breaker, func(ctx context.Context) error {
		var err error
		s.cur, err = s.model.client.CreateChatCompletionStream(ctx, s.req)
		return err
	})
	if err != nil {
		return statusError("chat completion stream", err)
	}
	s.calls = callAccumulator{}
	s.text.Reset()
	return nil
}

func (s *chatStream) Recv() (llm.Chunk, error) {
	for {
		if len(s.queue) > 0 {
			c := s.queue[0]
			s.queue = s.queue[1:]
			return c, nil
		}
		if s.done || s.closed {
			return llm.Chunk{}, io.EOF
		}

		resp, err := s.cur.Recv()
		if errors.Is(err, io.EOF) {
			if err := s.endStep(); err != nil {
				s.done = true
				return llm.Chunk{}, err
			}
			continue
		}
		if err != nil {
			s.done = true
			return llm.Chunk{}, statusError("chat completion stream", err)
		}

		if resp.ID != "" {
			s.res.ID = resp.ID
		}
		if resp.Model != "" {
			s.res.Model = resp.Model
		}
		if resp.Usage != nil {
			s.res.Usage.Add(usageFrom(*resp.Usage))
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if r := choice.Delta.ReasoningContent; r != "" {
			s.res.Reasoning += r
			if s.reason {
				s.queue = append(s.queue, llm.Chunk{Type: llm.ChunkReasoning, Text: r})
			}
		}
		if t := choice.Delta.Content; t != "" {
			s.text.WriteString(t)
			s.queue = append(s.queue, llm.Chunk{Type: llm.ChunkText, Text: t})
		}
		s.calls.add(choice.Delta.ToolCalls)
		if choice.FinishReason != "" {
			s.res.FinishReason = string(choice.FinishReason)
		}
	}
}

// endStep closes the finished upstream stream and either runs the requested
// tools and opens the next step or queues the finish chunk.
func (s *chatStream) endStep() error {
	_ = s.cur.Close()
	s.res.Steps++

	calls := s.calls.calls()
	if len(calls) == 0 || s.res.Steps >= s.maxSteps {
		s.res.Text = s.text.String()
		res := s.res
		s.queue = append(s.queue, llm.Chunk{Type: llm.ChunkFinish, Result: &res})
		s.done = true
		return nil
	}

	records, msgs := runTools(s.ctx, s.tools, calls)
	for i := range records {
		rec := records[i]
		s.queue = append(s.queue,
			llm.Chunk{Type: llm.ChunkToolCall, ToolCall: &llm.ToolCall{ID: rec.ID, Name: rec.Name, Args: rec.Args}},
			llm.Chunk{Type: llm.ChunkToolResult, ToolCall: &rec},
		)
	}
	s.res.ToolCalls = append(s.res.ToolCalls, records...)
	s.req.Messages = append(s.req.Messages, assistantCall(s.text.String(), calls))
	s.req.Messages = append(s.req.Messages, msgs...)
	return s.open()
}

func (s *chatStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cur != nil {
		return s.cur.Close()
	}
	return nil
}
