package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/AgentForge/internal/domain"
	"github.com/Strob0t/AgentForge/internal/domain/agent"
	"github.com/Strob0t/AgentForge/internal/domain/thread"
	"github.com/Strob0t/AgentForge/internal/middleware"
	"github.com/Strob0t/AgentForge/internal/port/database"
)

// Memory resolves thread identities and proxies history to the memory
// backend. Reads are best effort: a failing backend yields empty history.
type Memory struct {
	store   database.MemoryStore
	agentID string
	newID   func() string
	now     func() time.Time
}

// NewMemory creates the memory handle of one agent.
func NewMemory(store database.MemoryStore, agentID string) *Memory {
	return &Memory{store: store, agentID: agentID, newID: uuid.NewString, now: time.Now}
}

// Resolve computes the (threadId, resourceId) pair for a request, falling
// back to the principal on ctx for the resource.
func (m *Memory) Resolve(ctx context.Context, threadID, resourceID string) thread.Ref {
	return thread.Resolve(threadID, resourceID, middleware.PrincipalFromContext(ctx), m.newID)
}

// Query returns the last n messages of a thread with createdAt repaired
// from the raw backend records.
func (m *Memory) Query(ctx context.Context, threadID string, n int) []thread.Message {
	if threadID == "" {
		return []thread.Message{}
	}
	raw, ui, err := m.store.Messages(ctx, threadID, n)
	if err != nil {
		slog.WarnContext(ctx, "memory query failed", "thread", threadID, "error", err)
		return []thread.Message{}
	}
	return thread.MergeByID(raw, ui)
}

// Remember appends messages to the thread, creating it first when needed.
func (m *Memory) Remember(ctx context.Context, ref thread.Ref, msgs ...thread.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	now := m.now()
	if err := m.store.EnsureThread(ctx, &thread.Thread{
		ID:         ref.ThreadID,
		ResourceID: ref.ResourceID,
		Workspace:  middleware.WorkspaceFromContext(ctx),
		AgentID:    m.agentID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		return fmt.Errorf("ensure thread %s: %w", ref.ThreadID, err)
	}
	stamped := make([]thread.Message, len(msgs))
	for i, msg := range msgs {
		if msg.ID == "" {
			msg.ID = m.newID()
		}
		if msg.CreatedAt.IsZero() {
			// keep the order stable for messages appended in one call
			msg.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
		}
		stamped[i] = msg
	}
	if err := m.store.AppendMessages(ctx, ref.ThreadID, stamped); err != nil {
		return fmt.Errorf("append messages to %s: %w", ref.ThreadID, err)
	}
	return nil
}

// ThreadTools returns the thread's tool set override, or fallback when the
// thread has none or does not exist yet.
func (m *Memory) ThreadTools(ctx context.Context, threadID string, fallback agent.ToolSet) (agent.ToolSet, error) {
	th, err := m.store.GetThread(ctx, threadID)
	if errors.Is(err, domain.ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return nil, err
	}
	if th.ToolsSet == nil {
		return fallback, nil
	}
	return th.ToolsSet, nil
}

// UpdateThreadTools stores a tool set override on the thread.
func (m *Memory) UpdateThreadTools(ctx context.Context, ref thread.Ref, tools agent.ToolSet) error {
	now := m.now()
	if err := m.store.EnsureThread(ctx, &thread.Thread{
		ID:         ref.ThreadID,
		ResourceID: ref.ResourceID,
		Workspace:  middleware.WorkspaceFromContext(ctx),
		AgentID:    m.agentID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		return fmt.Errorf("ensure thread %s: %w", ref.ThreadID, err)
	}
	return m.store.SetThreadTools(ctx, ref.ThreadID, tools)
}
