package postgres

import (
	"context"
	"fmt"

	"github.com/Strob0t/AgentForge/internal/domain/trigger"
)

// AppendTriggerRun inserts a run record. The log is append-only.
func (s *Store) AppendTriggerRun(ctx context.Context, run *trigger.Run) error {
	meta, err := marshalNullable(run.Metadata)
	if err != nil {
		return fmt.Errorf("marshal run metadata: %w", err)
	}
	var result []byte
	if len(run.Result) > 0 {
		result = run.Result
	}
	ws := run.Workspace
	if ws == "" {
		ws = workspaceFromCtx(ctx)
	}
	const q = `INSERT INTO trigger_runs (id, workspace, trigger_id, status, result, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := s.pool.Exec(ctx, q,
		run.ID, ws, run.TriggerID, string(run.Status), result, meta, run.Timestamp,
	); err != nil {
		return fmt.Errorf("append trigger run %s: %w", run.ID, err)
	}
	return nil
}

// ListTriggerRuns returns the newest runs of a trigger first.
func (s *Store) ListTriggerRuns(ctx context.Context, triggerID string, limit int) ([]trigger.Run, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	const q = `SELECT id, workspace, trigger_id, status, result, metadata, created_at
		FROM trigger_runs WHERE trigger_id = $1 AND workspace = $2
		ORDER BY created_at DESC LIMIT $3`
	rows, err := s.pool.Query(ctx, q, triggerID, workspaceFromCtx(ctx), lim)
	if err != nil {
		return nil, fmt.Errorf("list trigger runs %s: %w", triggerID, err)
	}
	defer rows.Close()

	var result []trigger.Run
	for rows.Next() {
		var (
			r         trigger.Run
			res, meta []byte
		)
		if err := rows.Scan(&r.ID, &r.Workspace, &r.TriggerID, &r.Status, &res, &meta, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan trigger run: %w", err)
		}
		if len(res) > 0 {
			r.Result = res
		}
		if err := unmarshalOptional(meta, &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode run metadata: %w", err)
		}
		result = append(result, r)
	}
	return orEmpty(result), rows.Err()
}
