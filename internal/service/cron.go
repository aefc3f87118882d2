package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Strob0t/AgentForge/internal/domain/trigger"
)

// schedule arms the single pending alarm for the next fire of expr.
func (t *Trigger) schedule(ctx context.Context, expr string) error {
	next, err := trigger.NextFire(expr, t.now())
	if err != nil {
		return err
	}
	if err := t.host.alarms.Set(ctx, t.path, next); err != nil {
		return fmt.Errorf("schedule %s: %w", t.id, err)
	}
	slog.DebugContext(ctx, "cron alarm set", "trigger", t.id, "at", next)
	return nil
}

// runCron sends the stored prompt to the agent. Generation errors become a
// soft failure and the next fire is always scheduled.
func (t *Trigger) runCron(ctx context.Context, d *trigger.Data) *RunOutput {
	defer t.rearm(ctx, d.CronExp)

	a, err := t.host.deps.Agents.Get(ctx, d.AgentID)
	if err != nil {
		slog.WarnContext(ctx, "cron run: agent unavailable", "agent", d.AgentID, "error", err)
		return failure(statusFor(err), err.Error())
	}
	opts := GenerateOptions{ResourceID: d.ResourceID}
	msgs := d.Prompt.Messages
	if d.Prompt.ThreadID != "" {
		opts.ThreadID = d.Prompt.ThreadID
	}
	if d.Prompt.ResourceID != "" {
		opts.ResourceID = d.Prompt.ResourceID
	}
	res, err := a.Generate(ctx, msgs, opts)
	if err != nil {
		slog.WarnContext(ctx, "cron run: generation failed", "agent", d.AgentID, "error", err)
		return failure(statusFor(err), err.Error())
	}
	return &RunOutput{Status: http.StatusOK, Body: res}
}

// rearm schedules the next fire unless the trigger was deleted meanwhile.
// It holds the lifecycle lock so a concurrent Delete cannot land between the
// armed check and the Set.
func (t *Trigger) rearm(ctx context.Context, expr string) {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	if t.Data() == nil {
		return
	}
	if err := t.schedule(ctx, expr); err != nil {
		slog.ErrorContext(ctx, "cron re-arm failed", "trigger", t.id, "error", err)
	}
}
