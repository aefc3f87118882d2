package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/AgentForge/internal/domain"
	"github.com/Strob0t/AgentForge/internal/domain/agent"
	"github.com/Strob0t/AgentForge/internal/domain/thread"
)

func threadNotFound(id string) error {
	return &domain.NotFoundError{Kind: "thread", ID: id}
}

func (s *Store) GetThread(ctx context.Context, threadID string) (*thread.Thread, error) {
	const q = `SELECT id, resource_id, workspace, agent_id, title, tools_set, created_at, updated_at
		FROM threads WHERE id = $1 AND workspace = $2`
	var (
		th       thread.Thread
		toolsSet []byte
	)
	err := s.pool.QueryRow(ctx, q, threadID, workspaceFromCtx(ctx)).Scan(
		&th.ID, &th.ResourceID, &th.Workspace, &th.AgentID, &th.Title, &toolsSet, &th.CreatedAt, &th.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, threadNotFound(threadID), "get thread %s", threadID)
	}
	if err := unmarshalOptional(toolsSet, &th.ToolsSet); err != nil {
		return nil, fmt.Errorf("decode thread tools_set: %w", err)
	}
	return &th, nil
}

// EnsureThread inserts the thread header; an existing header is left as is.
func (s *Store) EnsureThread(ctx context.Context, th *thread.Thread) error {
	const q = `INSERT INTO threads (id, workspace, resource_id, agent_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (workspace, id) DO NOTHING`
	created := th.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if _, err := s.pool.Exec(ctx, q,
		th.ID, workspaceFromCtx(ctx), th.ResourceID, th.AgentID, th.Title, created, created,
	); err != nil {
		return fmt.Errorf("ensure thread %s: %w", th.ID, err)
	}
	return nil
}

func (s *Store) SetThreadTools(ctx context.Context, threadID string, tools agent.ToolSet) error {
	b, err := marshalNullable(tools)
	if err != nil {
		return fmt.Errorf("marshal thread tools_set: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE threads SET tools_set = $3, updated_at = now() WHERE id = $1 AND workspace = $2`,
		threadID, workspaceFromCtx(ctx), b)
	return execExpectOne(tag, err, threadNotFound(threadID), "set thread tools %s", threadID)
}

// AppendMessages writes msgs in one transaction and bumps the thread's
// updated_at. Re-appending a message id is a no-op.
func (s *Store) AppendMessages(ctx context.Context, threadID string, msgs []thread.Message) error {
	ws := workspaceFromCtx(ctx)
	batch := &pgx.Batch{}
	for _, m := range msgs {
		meta, err := marshalNullable(m.Metadata)
		if err != nil {
			return fmt.Errorf("marshal message metadata: %w", err)
		}
		batch.Queue(`INSERT INTO thread_messages (workspace, thread_id, id, role, content, reasoning, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (workspace, thread_id, id) DO NOTHING`,
			ws, threadID, m.ID, string(m.Role), m.Content, m.Reasoning, meta, m.CreatedAt)
	}
	batch.Queue(`UPDATE threads SET updated_at = now() WHERE id = $1 AND workspace = $2`, threadID, ws)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append messages: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append messages to %s: %w", threadID, err)
	}
	return tx.Commit(ctx)
}

// Messages returns the last n messages of a thread, oldest first, together
// with their UI projection.
func (s *Store) Messages(ctx context.Context, threadID string, n int) (raw, ui []thread.Message, err error) {
	limit := any(nil)
	if n > 0 {
		limit = n
	}
	const q = `SELECT id, role, content, reasoning, metadata, created_at FROM thread_messages
		WHERE thread_id = $1 AND workspace = $2
		ORDER BY created_at DESC, seq DESC
		LIMIT $3`
	rows, err := s.pool.Query(ctx, q, threadID, workspaceFromCtx(ctx), limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query messages %s: %w", threadID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m    thread.Message
			meta []byte
		)
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Reasoning, &meta, &m.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scan message: %w", err)
		}
		if err := unmarshalOptional(meta, &m.Metadata); err != nil {
			return nil, nil, fmt.Errorf("decode message metadata: %w", err)
		}
		raw = append(raw, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	slices.Reverse(raw)
	raw = orEmpty(raw)
	return raw, uiMessages(raw), nil
}

// uiMessages projects stored messages for display: tool results are folded
// into the preceding assistant message under metadata.toolResults, and
// createdAt is not part of the projection.
func uiMessages(raw []thread.Message) []thread.Message {
	out := make([]thread.Message, 0, len(raw))
	for _, m := range raw {
		if m.Role == thread.RoleTool && len(out) > 0 && out[len(out)-1].Role == thread.RoleAssistant {
			prev := &out[len(out)-1]
			results, _ := prev.Metadata["toolResults"].([]any)
			prev.Metadata["toolResults"] = append(results, toolResult(m))
			continue
		}
		ui := thread.Message{ID: m.ID, Role: m.Role, Content: m.Content, Reasoning: m.Reasoning}
		ui.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			ui.Metadata[k] = v
		}
		out = append(out, ui)
	}
	return out
}

func toolResult(m thread.Message) any {
	var v any
	if json.Unmarshal([]byte(m.Content), &v) != nil {
		v = m.Content
	}
	r := map[string]any{"id": m.ID, "result": v}
	if name, ok := m.Metadata["toolName"]; ok {
		r["toolName"] = name
	}
	return r
}
