package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/AgentForge/internal/actor"
	afotel "github.com/Strob0t/AgentForge/internal/adapter/otel"
	"github.com/Strob0t/AgentForge/internal/domain"
	"github.com/Strob0t/AgentForge/internal/domain/trigger"
	"github.com/Strob0t/AgentForge/internal/logger"
	"github.com/Strob0t/AgentForge/internal/middleware"
	"github.com/Strob0t/AgentForge/internal/port/database"
	"github.com/Strob0t/AgentForge/internal/port/llm"
	"github.com/Strob0t/AgentForge/internal/port/messagequeue"
	"github.com/Strob0t/AgentForge/internal/port/statestore"
)

const triggerStatePrefix = "trigger/"

// TriggerDeps are the collaborators shared by every trigger instance.
type TriggerDeps struct {
	State     statestore.Store
	Runs      database.TriggerRunStore
	Agents    *AgentHost
	Events    messagequeue.Queue // optional
	Metrics   *afotel.Metrics
	PublicURL string
}

// RunArgs are the per-invocation arguments of a trigger run. Alarm runs
// pass the zero value.
type RunArgs struct {
	Passphrase       string          `json:"passphrase,omitempty"`
	OutputTool       string          `json:"outputTool,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	ThreadID         string          `json:"threadId,omitempty"`
	ResourceID       string          `json:"resourceId,omitempty"`
	BypassOpenRouter bool            `json:"bypassOpenRouter,omitempty"`
	LastMessages     *int            `json:"lastMessages,omitempty"`
	SendReasoning    bool            `json:"sendReasoning,omitempty"`
	Schema           json.RawMessage `json:"schema,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}

// RunOutput is the HTTP-shaped result of a run. Stream is set instead of
// Body when the caller asked for a streamed answer.
type RunOutput struct {
	Status int
	Body   any
	Stream llm.Stream
}

func failure(status int, msg string) *RunOutput {
	return &RunOutput{Status: status, Body: &domain.HTTPError{Status: status, Message: msg}}
}

// TriggerHost routes calls to one trigger instance per path and owns the
// alarm scheduler shared by all of them.
type TriggerHost struct {
	deps   TriggerDeps
	host   *actor.Host[*Trigger]
	alarms *actor.Alarms
}

// NewTriggerHost creates the trigger registry. Call Restore once on start to
// re-arm persisted alarms.
func NewTriggerHost(deps TriggerDeps) *TriggerHost {
	h := &TriggerHost{deps: deps}
	h.host = actor.NewHost(h.load)
	h.alarms = actor.NewAlarms(deps.State, h.fire)
	return h
}

// Get returns the trigger instance for triggerID in the workspace on ctx.
func (h *TriggerHost) Get(ctx context.Context, triggerID string) (*Trigger, error) {
	if triggerID == "" || strings.Contains(triggerID, "/") {
		return nil, fmt.Errorf("%w: invalid trigger id %q", domain.ErrValidation, triggerID)
	}
	return h.GetPath(ctx, trigger.Path(middleware.WorkspaceFromContext(ctx), triggerID))
}

// GetPath returns the trigger instance at an actor path "<ws>/triggers/<id>".
// The instance is bound to the path's workspace, not the one on ctx.
func (h *TriggerHost) GetPath(ctx context.Context, path string) (*Trigger, error) {
	ws, _, ok := trigger.ParsePath(path)
	if !ok {
		return nil, fmt.Errorf("%w: invalid trigger path %q", domain.ErrValidation, path)
	}
	return h.host.Get(middleware.WithWorkspace(ctx, ws), path)
}

// Restore re-arms alarms persisted before a restart, then schedules any
// stored cron trigger that was left without one.
func (h *TriggerHost) Restore(ctx context.Context) (int, error) {
	n, err := h.alarms.Restore(ctx)
	if err != nil {
		return n, err
	}
	keys, err := h.deps.State.Keys(ctx, triggerStatePrefix)
	if err != nil {
		return n, fmt.Errorf("list triggers: %w", err)
	}
	for _, k := range keys {
		path := strings.TrimPrefix(k, triggerStatePrefix)
		if _, ok := h.alarms.Get(path); ok {
			continue
		}
		t, err := h.GetPath(ctx, path)
		if err != nil {
			slog.WarnContext(ctx, "trigger restore: load failed", "path", path, "error", err)
			continue
		}
		d := t.Data()
		if d == nil || d.Type != trigger.TypeCron {
			continue
		}
		t.rearm(ctx, d.CronExp)
		if _, ok := h.alarms.Get(path); ok {
			n++
		}
	}
	return n, nil
}

// ListRuns returns the newest runs of triggerID in the workspace on ctx.
func (h *TriggerHost) ListRuns(ctx context.Context, triggerID string, limit int) ([]trigger.Run, error) {
	t, err := h.Get(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	return t.ListRuns(ctx, limit)
}

// Close stops every pending timer.
func (h *TriggerHost) Close() {
	h.alarms.Close()
}

func (h *TriggerHost) load(ctx context.Context, path string) (*Trigger, error) {
	ws, id, _ := trigger.ParsePath(path)
	ad := h.deps.Agents.deps
	t := &Trigger{
		host:      h,
		path:      path,
		workspace: ws,
		id:        id,
		tools:     NewToolbox(ad.Integrations, ad.Descriptors, ad.Dialer, ad.CallTimeout, ad.Metrics),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	raw, err := h.deps.State.Get(ctx, triggerStatePrefix+path)
	switch {
	case errors.Is(err, statestore.ErrNotFound):
		return t, nil
	case err != nil:
		return nil, fmt.Errorf("load trigger %s: %w", path, err)
	}
	var d trigger.Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode trigger %s: %w", path, err)
	}
	t.data = &d
	return t, nil
}

// fire runs on the scheduler's goroutine. Alarm never returns an error.
func (h *TriggerHost) fire(path string) {
	ws, id, ok := trigger.ParsePath(path)
	if !ok {
		slog.Error("alarm for malformed trigger path", "path", path)
		return
	}
	ctx := logger.WithTriggerID(middleware.WithWorkspace(context.Background(), ws), id)
	t, err := h.host.Get(ctx, path)
	if err != nil {
		slog.ErrorContext(ctx, "alarm: load trigger failed", "error", err)
		return
	}
	t.Alarm(ctx)
}

// Trigger is one trigger instance. data is nil until Create and after Delete.
type Trigger struct {
	host      *TriggerHost
	path      string
	workspace string
	id        string
	tools     *Toolbox // input-binding tools
	now       func() time.Time
	newID     func() string

	lifecycle sync.Mutex // serializes Create, Delete and cron re-arm

	mu   sync.RWMutex
	data *trigger.Data
}

// Data returns a copy of the trigger data, or nil when unarmed.
func (t *Trigger) Data() *trigger.Data {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.data == nil {
		return nil
	}
	d := *t.data
	return &d
}

// Create stores d and runs the variant's creation hook. Creating an armed
// trigger is a no-op that returns the stored data.
func (t *Trigger) Create(ctx context.Context, d trigger.Data) (*trigger.Data, error) {
	if middleware.IsExternal(ctx) {
		return nil, fmt.Errorf("%w: create is not allowed from external calls", domain.ErrForbidden)
	}
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	if cur := t.Data(); cur != nil {
		return cur, nil
	}

	now := t.now().UTC()
	d.ID = t.id
	d.CreatedAt, d.UpdatedAt = now, now
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d.Type == trigger.TypeWebhook {
		d.URL = t.webhookURL(d.Passphrase)
	}

	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal trigger: %w", err)
	}
	if err := t.host.deps.State.Put(ctx, triggerStatePrefix+t.path, raw); err != nil {
		return nil, fmt.Errorf("store trigger %s: %w", t.id, err)
	}
	if err := t.onCreated(ctx, &d); err != nil {
		if derr := t.host.deps.State.Delete(ctx, triggerStatePrefix+t.path); derr != nil {
			slog.ErrorContext(ctx, "rollback of trigger create failed", "trigger", t.id, "error", derr)
		}
		return nil, err
	}

	t.mu.Lock()
	t.data = &d
	t.mu.Unlock()
	slog.InfoContext(ctx, "trigger created", "trigger", t.id, "type", d.Type)
	out := d
	return &out, nil
}

func (t *Trigger) onCreated(ctx context.Context, d *trigger.Data) error {
	if d.Type == trigger.TypeCron {
		return t.schedule(ctx, d.CronExp)
	}
	return nil
}

// Delete tears down any pending alarm and clears the data. Deleting an
// unarmed trigger succeeds.
func (t *Trigger) Delete(ctx context.Context) error {
	if middleware.IsExternal(ctx) {
		return fmt.Errorf("%w: delete is not allowed from external calls", domain.ErrForbidden)
	}
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	if t.Data() == nil {
		return nil
	}
	if _, err := t.host.alarms.Delete(ctx, t.path); err != nil {
		return fmt.Errorf("cancel alarm: %w", err)
	}
	if err := t.host.deps.State.Delete(ctx, triggerStatePrefix+t.path); err != nil {
		return fmt.Errorf("delete trigger %s: %w", t.id, err)
	}
	t.mu.Lock()
	t.data = nil
	t.mu.Unlock()
	slog.InfoContext(ctx, "trigger deleted", "trigger", t.id)
	return nil
}

// Alarm is the scheduler callback. It runs the trigger with no arguments and
// only logs failures.
func (t *Trigger) Alarm(ctx context.Context) {
	if _, err := t.Run(ctx, RunArgs{}); err != nil {
		slog.WarnContext(ctx, "alarm run failed", "trigger", t.id, "error", err)
	}
}

// NextAlarm returns the pending fire time, if any.
func (t *Trigger) NextAlarm() (time.Time, bool) {
	return t.host.alarms.Get(t.path)
}

// ListRuns returns the latest runs of the trigger, newest first.
func (t *Trigger) ListRuns(ctx context.Context, limit int) ([]trigger.Run, error) {
	return t.host.deps.Runs.ListTriggerRuns(ctx, t.id, limit)
}

// Run executes the trigger once and appends a run record whatever the
// outcome. Handler failures come back inside the output; the error return
// is reserved for an unarmed trigger.
func (t *Trigger) Run(ctx context.Context, args RunArgs) (out *RunOutput, err error) {
	ctx = logger.WithTriggerID(middleware.WithWorkspace(ctx, t.workspace), t.id)
	d := t.Data()
	kind := "unknown"
	if d != nil {
		kind = string(d.Type)
	}

	ctx, span := afotel.StartTriggerRunSpan(ctx, t.id, kind)
	started := t.now()
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "trigger run panicked", "panic", r)
			out, err = failure(http.StatusInternalServerError, fmt.Sprint(r)), nil
		}
		t.record(ctx, kind, started, out, err)
		afotel.EndSpan(span, err)
	}()

	if d == nil {
		return nil, domain.TriggerNotFound(t.id)
	}
	switch d.Type {
	case trigger.TypeCron:
		return t.runCron(ctx, d), nil
	case trigger.TypeWebhook:
		return t.runWebhook(ctx, d, args), nil
	default:
		return failure(http.StatusInternalServerError, "unknown trigger type "+string(d.Type)), nil
	}
}

func (t *Trigger) record(ctx context.Context, kind string, started time.Time, out *RunOutput, runErr error) {
	run := &trigger.Run{
		ID:        t.newID(),
		TriggerID: t.id,
		Workspace: t.workspace,
		Timestamp: started.UTC(),
		Status:    trigger.RunSuccess,
		Metadata: map[string]any{
			"type":       kind,
			"durationMs": t.now().Sub(started).Milliseconds(),
		},
	}
	switch {
	case runErr != nil:
		run.Status = trigger.RunError
		run.Metadata["error"] = runErr.Error()
	case out != nil && out.Status >= http.StatusBadRequest:
		run.Status = trigger.RunError
		run.Metadata["status"] = out.Status
	}
	if out != nil {
		if out.Stream != nil {
			run.Result = json.RawMessage(`{"stream":true}`)
		} else if raw, err := json.Marshal(out.Body); err == nil {
			run.Result = raw
		}
		if he, ok := out.Body.(*domain.HTTPError); ok {
			run.Metadata["error"] = he.Message
		}
	}

	if err := t.host.deps.Runs.AppendTriggerRun(ctx, run); err != nil {
		slog.ErrorContext(ctx, "append trigger run failed", "run", run.ID, "error", err)
	}
	if m := t.host.deps.Metrics; m != nil {
		attrs := metric.WithAttributes(attribute.String("type", kind), attribute.String("status", string(run.Status)))
		m.TriggerRuns.Add(ctx, 1, attrs)
		m.TriggerDuration.Record(ctx, t.now().Sub(started).Seconds(), attrs)
	}
	t.publish(ctx, run)
}

func (t *Trigger) publish(ctx context.Context, run *trigger.Run) {
	q := t.host.deps.Events
	if q == nil {
		return
	}
	data, err := json.Marshal(messagequeue.TriggerRunPayload{
		RunID:     run.ID,
		TriggerID: run.TriggerID,
		Workspace: run.Workspace,
		Status:    string(run.Status),
		Result:    run.Result,
	})
	if err != nil {
		return
	}
	if err := q.Publish(ctx, messagequeue.SubjectTriggerRun, data); err != nil {
		slog.WarnContext(ctx, "publish trigger run failed", "run", run.ID, "error", err)
	}
}

// webhookURL is the public invoke URL of the trigger.
func (t *Trigger) webhookURL(passphrase string) string {
	q := url.Values{}
	q.Set("deno_isolate_instance_id", t.path)
	if passphrase != "" {
		q.Set("passphrase", passphrase)
	}
	return strings.TrimSuffix(t.host.deps.PublicURL, "/") + "/actors/Trigger/invoke/run?" + q.Encode()
}

// statusFor maps an agent error to an HTTP status for webhook responses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
