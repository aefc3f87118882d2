package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	afotel "github.com/Strob0t/AgentForge/internal/adapter/otel"
	"github.com/Strob0t/AgentForge/internal/domain/agent"
	"github.com/Strob0t/AgentForge/internal/domain/integration"
	"github.com/Strob0t/AgentForge/internal/domain/tool"
	"github.com/Strob0t/AgentForge/internal/port/database"
	"github.com/Strob0t/AgentForge/internal/port/toolclient"
)

// ExecutableTool is a ready-to-invoke tool handle. Every Execute opens a
// fresh connection and closes it before returning.
type ExecutableTool struct {
	IntegrationID string
	Key           string // slugified name
	Descriptor    tool.Descriptor
	execute       func(ctx context.Context, args map[string]any) (*tool.CallResult, error)
}

// Execute validates args against the input schema and calls the tool.
func (t *ExecutableTool) Execute(ctx context.Context, args map[string]any) (*tool.CallResult, error) {
	return t.execute(ctx, args)
}

// ToolSet maps slugified tool names to handles of one integration.
type ToolSet map[string]*ExecutableTool

// ToolSets maps integration ids to their exposed tool sets.
type ToolSets map[string]ToolSet

// Count returns the total number of tools.
func (s ToolSets) Count() int {
	n := 0
	for _, ts := range s {
		n += len(ts)
	}
	return n
}

// Sorted returns every tool ordered by integration then key.
func (s ToolSets) Sorted() []*ExecutableTool {
	out := make([]*ExecutableTool, 0, s.Count())
	for _, ts := range s {
		for _, t := range ts {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IntegrationID != out[j].IntegrationID {
			return out[i].IntegrationID < out[j].IntegrationID
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Exclude drops the named tools of the named integrations. Integrations
// absent from exclude pass through unchanged.
func (s ToolSets) Exclude(exclude map[string][]string) ToolSets {
	if len(exclude) == 0 {
		return s
	}
	out := make(ToolSets, len(s))
	for id, ts := range s {
		names, ok := exclude[id]
		if !ok {
			out[id] = ts
			continue
		}
		drop := make(map[string]bool, len(names))
		for _, n := range names {
			drop[tool.Slugify(n)] = true
		}
		kept := make(ToolSet, len(ts))
		for k, t := range ts {
			if !drop[k] {
				kept[k] = t
			}
		}
		out[id] = kept
	}
	return out
}

type descriptorInvalidator interface {
	Invalidate(ctx context.Context, conn integration.Connection)
}

// Toolbox is the callable tool set cache of one agent instance. An entry is
// either absent or the complete tool map of its integration as of the last
// successful resolution. Connections are never cached, only descriptors.
type Toolbox struct {
	integrations database.IntegrationStore
	descriptors  DescriptorLister
	dialer       toolclient.Dialer
	callTimeout  time.Duration
	metrics      *afotel.Metrics

	mu      sync.Mutex
	sets    map[string]ToolSet
	evicted map[string]uint64 // bumped by Evict; a resolution started before it is not cached
	group   singleflight.Group
}

// NewToolbox creates an empty per-instance tool cache.
func NewToolbox(integrations database.IntegrationStore, descriptors DescriptorLister, dialer toolclient.Dialer, callTimeout time.Duration, metrics *afotel.Metrics) *Toolbox {
	return &Toolbox{
		integrations: integrations,
		descriptors:  descriptors,
		dialer:       dialer,
		callTimeout:  callTimeout,
		metrics:      metrics,
		sets:         make(map[string]ToolSet),
		evicted:      make(map[string]uint64),
	}
}

// GetOrCreate returns the cached tool set of an integration, resolving it on
// a miss. It returns nil when the integration exposes no tools and
// domain.IntegrationNotFound when the integration does not exist.
func (b *Toolbox) GetOrCreate(ctx context.Context, integrationID string) (ToolSet, error) {
	b.mu.Lock()
	ts, ok := b.sets[integrationID]
	b.mu.Unlock()
	if ok {
		return ts, nil
	}

	v, err, _ := b.group.Do(integrationID, func() (any, error) {
		b.mu.Lock()
		gen := b.evicted[integrationID]
		b.mu.Unlock()

		in, err := b.integrations.GetIntegration(ctx, integrationID)
		if err != nil {
			return nil, err
		}
		descs := b.descriptors.ListTools(ctx, in)
		if len(descs) == 0 {
			return ToolSet(nil), nil
		}

		built := make(ToolSet, len(descs))
		for _, d := range descs {
			t := b.wrap(in, d)
			if prev, dup := built[t.Key]; dup {
				slog.WarnContext(ctx, "tool names collide after slugging, keeping the last",
					"integration", integrationID, "key", t.Key, "dropped", prev.Descriptor.Name, "kept", d.Name)
			}
			built[t.Key] = t
		}

		b.mu.Lock()
		if b.evicted[integrationID] == gen {
			b.sets[integrationID] = built
		}
		b.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(ToolSet), nil
}

// Evict drops the cached tool set of an integration.
func (b *Toolbox) Evict(integrationID string) {
	b.mu.Lock()
	delete(b.sets, integrationID)
	b.evicted[integrationID]++
	b.mu.Unlock()
}

// Cached reports whether an integration's tool set is cached.
func (b *Toolbox) Cached(integrationID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sets[integrationID]
	return ok
}

// Pick resolves an allow-list into exposed tool sets. An empty name list
// exposes every tool of the integration; otherwise only listed names present
// in the resolved set are exposed and unknown names are dropped with a
// warning. Integrations that fail to resolve or have no tools are skipped.
func (b *Toolbox) Pick(ctx context.Context, allow agent.ToolSet) ToolSets {
	var (
		mu  sync.Mutex
		out = make(ToolSets, len(allow))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for id, names := range allow {
		g.Go(func() error {
			ts, err := b.GetOrCreate(gctx, id)
			if err != nil {
				slog.WarnContext(ctx, "skipping integration", "integration", id, "error", err)
				return nil
			}
			if ts == nil {
				return nil
			}
			picked := filterAllowed(ctx, id, ts, names)
			mu.Lock()
			out[id] = picked
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func filterAllowed(ctx context.Context, integrationID string, ts ToolSet, names []string) ToolSet {
	if len(names) == 0 {
		return ts
	}
	picked := make(ToolSet, len(names))
	for _, n := range names {
		key := tool.Slugify(n)
		t, ok := ts[key]
		if !ok {
			slog.WarnContext(ctx, "allowed tool not found", "integration", integrationID, "tool", n)
			continue
		}
		picked[key] = t
	}
	return picked
}

func (b *Toolbox) wrap(in *integration.Integration, d tool.Descriptor) *ExecutableTool {
	integrationID, conn := in.ID, in.Connection
	t := &ExecutableTool{
		IntegrationID: integrationID,
		Key:           tool.Slugify(d.Name),
		Descriptor:    d,
	}
	t.execute = func(ctx context.Context, args map[string]any) (_ *tool.CallResult, err error) {
		if args == nil {
			args = map[string]any{}
		}
		if err := validateAgainst(d.InputSchema, args); err != nil {
			return nil, fmt.Errorf("tool %s arguments: %w", d.Name, err)
		}

		ctx, span := afotel.StartToolCallSpan(ctx, integrationID, d.Name)
		defer func() { afotel.EndSpan(span, err) }()
		if b.metrics != nil {
			b.metrics.ToolCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", string(conn.Type))))
		}

		ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
		defer cancel()

		res, err := b.call(ctx, conn, d.Name, args)
		if err != nil {
			b.Evict(integrationID)
			if inv, ok := b.descriptors.(descriptorInvalidator); ok {
				inv.Invalidate(context.WithoutCancel(ctx), conn)
			}
			if b.metrics != nil {
				b.metrics.ToolFailures.Add(ctx, 1)
			}
			slog.WarnContext(ctx, "tool call failed, tool set evicted", "integration", integrationID, "tool", d.Name, "error", err)
			return nil, fmt.Errorf("call %s/%s: %w", integrationID, d.Name, err)
		}
		return res, nil
	}
	return t
}

func (b *Toolbox) call(ctx context.Context, conn integration.Connection, name string, args map[string]any) (_ *tool.CallResult, err error) {
	client, err := b.dialer.Dial(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			slog.DebugContext(ctx, "tool client close failed", "error", cerr)
		}
	}()
	return client.CallTool(ctx, name, args)
}

// decodeArgs turns raw model arguments into a map.
func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("tool arguments must be a JSON object: %w", err)
	}
	return args, nil
}
