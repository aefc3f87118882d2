package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/AgentForge/internal/domain"
	"github.com/Strob0t/AgentForge/internal/domain/agent"
	"github.com/Strob0t/AgentForge/internal/domain/integration"
	"github.com/Strob0t/AgentForge/internal/port/database"
)

var _ database.Store = (*Store)(nil)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Agents ---

const agentColumns = `id, workspace, name, avatar, description, instructions, model,
	tools_set, max_steps, max_tokens, memory, views, created_at, updated_at`

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Config, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1 AND workspace = $2`,
		id, workspaceFromCtx(ctx))
	cfg, err := scanAgent(row)
	if err != nil {
		return nil, notFoundWrap(err, domain.AgentNotFound(id), "get agent %s", id)
	}
	return &cfg, nil
}

// UpsertAgent stores cfg, keeping created_at of an existing row.
func (s *Store) UpsertAgent(ctx context.Context, cfg *agent.Config) error {
	toolsSet, err := json.Marshal(cfg.ToolsSet)
	if err != nil {
		return fmt.Errorf("marshal tools_set: %w", err)
	}
	memory, err := json.Marshal(cfg.Memory)
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}
	views, err := json.Marshal(orEmpty(cfg.Views))
	if err != nil {
		return fmt.Errorf("marshal views: %w", err)
	}

	const q = `INSERT INTO agents
		(id, workspace, name, avatar, description, instructions, model, tools_set, max_steps, max_tokens, memory, views)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (workspace, id) DO UPDATE SET
			name = EXCLUDED.name, avatar = EXCLUDED.avatar, description = EXCLUDED.description,
			instructions = EXCLUDED.instructions, model = EXCLUDED.model, tools_set = EXCLUDED.tools_set,
			max_steps = EXCLUDED.max_steps, max_tokens = EXCLUDED.max_tokens, memory = EXCLUDED.memory,
			views = EXCLUDED.views, updated_at = now()
		RETURNING created_at, updated_at`
	err = s.pool.QueryRow(ctx, q,
		cfg.ID, workspaceFromCtx(ctx), cfg.Name, cfg.Avatar, cfg.Description, cfg.Instructions,
		cfg.Model, toolsSet, cfg.MaxSteps, cfg.MaxTokens, memory, views,
	).Scan(&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert agent %s: %w", cfg.ID, err)
	}
	return nil
}

func scanAgent(row scannable) (agent.Config, error) {
	var (
		c                       agent.Config
		toolsSet, memory, views []byte
	)
	if err := row.Scan(
		&c.ID, &c.Workspace, &c.Name, &c.Avatar, &c.Description, &c.Instructions, &c.Model,
		&toolsSet, &c.MaxSteps, &c.MaxTokens, &memory, &views, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return c, err
	}
	if err := unmarshalOptional(toolsSet, &c.ToolsSet); err != nil {
		return c, fmt.Errorf("decode tools_set: %w", err)
	}
	if err := unmarshalOptional(memory, &c.Memory); err != nil {
		return c, fmt.Errorf("decode memory: %w", err)
	}
	if err := unmarshalOptional(views, &c.Views); err != nil {
		return c, fmt.Errorf("decode views: %w", err)
	}
	if c.ToolsSet == nil {
		c.ToolsSet = agent.ToolSet{}
	}
	c.Views = orEmpty(c.Views)
	return c, nil
}

// --- Integrations ---

const integrationColumns = `id, workspace, name, description, icon, connection, tools, created_at, updated_at`

func (s *Store) GetIntegration(ctx context.Context, id string) (*integration.Integration, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE id = $1 AND workspace = $2`,
		id, workspaceFromCtx(ctx))
	in, err := scanIntegration(row)
	if err != nil {
		return nil, notFoundWrap(err, domain.IntegrationNotFound(id), "get integration %s", id)
	}
	return &in, nil
}

func (s *Store) ListIntegrations(ctx context.Context) ([]integration.Integration, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE workspace = $1 ORDER BY created_at DESC`,
		workspaceFromCtx(ctx))
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	var result []integration.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		result = append(result, in)
	}
	return orEmpty(result), rows.Err()
}

// CreateIntegration inserts in. An existing id yields domain.ErrConflict.
func (s *Store) CreateIntegration(ctx context.Context, in *integration.Integration) error {
	conn, err := json.Marshal(in.Connection)
	if err != nil {
		return fmt.Errorf("marshal connection: %w", err)
	}
	tools, err := marshalNullable(in.Tools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}

	const q = `INSERT INTO integrations (id, workspace, name, description, icon, connection, tools)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING workspace, created_at, updated_at`
	err = s.pool.QueryRow(ctx, q,
		in.ID, workspaceFromCtx(ctx), in.Name, in.Description, in.Icon, conn, tools,
	).Scan(&in.Workspace, &in.CreatedAt, &in.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("create integration %s: %w", in.ID, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create integration %s: %w", in.ID, err)
	}
	return nil
}

func (s *Store) DeleteIntegration(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM integrations WHERE id = $1 AND workspace = $2`, id, workspaceFromCtx(ctx))
	return execExpectOne(tag, err, domain.IntegrationNotFound(id), "delete integration %s", id)
}

func scanIntegration(row scannable) (integration.Integration, error) {
	var (
		in          integration.Integration
		conn, tools []byte
	)
	if err := row.Scan(&in.ID, &in.Workspace, &in.Name, &in.Description, &in.Icon,
		&conn, &tools, &in.CreatedAt, &in.UpdatedAt); err != nil {
		return in, err
	}
	if err := json.Unmarshal(conn, &in.Connection); err != nil {
		return in, fmt.Errorf("decode connection: %w", err)
	}
	if err := unmarshalOptional(tools, &in.Tools); err != nil {
		return in, fmt.Errorf("decode tools: %w", err)
	}
	return in, nil
}
