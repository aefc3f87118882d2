package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/AgentForge/internal/actor"
	afotel "github.com/Strob0t/AgentForge/internal/adapter/otel"
	"github.com/Strob0t/AgentForge/internal/config"
	"github.com/Strob0t/AgentForge/internal/domain"
	"github.com/Strob0t/AgentForge/internal/domain/agent"
	"github.com/Strob0t/AgentForge/internal/domain/thread"
	"github.com/Strob0t/AgentForge/internal/domain/wallet"
	"github.com/Strob0t/AgentForge/internal/logger"
	"github.com/Strob0t/AgentForge/internal/middleware"
	"github.com/Strob0t/AgentForge/internal/port/database"
	"github.com/Strob0t/AgentForge/internal/port/ledger"
	"github.com/Strob0t/AgentForge/internal/port/llm"
	"github.com/Strob0t/AgentForge/internal/port/toolclient"
)

// AgentDeps are the collaborators shared by every agent instance.
type AgentDeps struct {
	Agents       database.AgentStore
	Integrations database.IntegrationStore
	Memory       database.MemoryStore
	Descriptors  DescriptorLister
	Dialer       toolclient.Dialer
	Models       llm.Provider
	Ledger       ledger.Ledger
	Usage        UsagePoster
	Tasks        *TaskQueue
	Metrics      *afotel.Metrics
	CallTimeout  time.Duration

	Limits config.Agent
	Wallet config.Wallet
}

func (d *AgentDeps) defaults() agent.Defaults {
	return agent.Defaults{
		Instructions: d.Limits.DefaultInstructions,
		Model:        d.Limits.DefaultModel,
		MaxSteps:     d.Limits.DefaultMaxSteps,
		MaxTokens:    d.Limits.DefaultMaxTokens,
		LastMessages: d.Limits.DefaultLastMessages,
	}
}

func (d *AgentDeps) price(model string) wallet.Price {
	p := d.Wallet.PriceFor(model)
	return wallet.Price{InputPerMTok: wallet.MicroUnits(p.InputPerMTok), OutputPerMTok: wallet.MicroUnits(p.OutputPerMTok)}
}

// AgentHost routes requests to one agent instance per (workspace, agent id).
type AgentHost struct {
	deps *AgentDeps
	host *actor.Host[*Agent]
}

// NewAgentHost creates an empty agent registry.
func NewAgentHost(deps *AgentDeps) *AgentHost {
	h := &AgentHost{deps: deps}
	h.host = actor.NewHost(h.load)
	return h
}

func agentKey(workspace, agentID string) string {
	return workspace + "/" + agentID
}

// Get returns the agent instance for agentID in the workspace on ctx.
func (h *AgentHost) Get(ctx context.Context, agentID string) (*Agent, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent id is required", domain.ErrValidation)
	}
	return h.host.Get(ctx, agentKey(middleware.WorkspaceFromContext(ctx), agentID))
}

// Evict drops a live instance; the next Get reloads its configuration.
func (h *AgentHost) Evict(ctx context.Context, agentID string) {
	h.host.Evict(agentKey(middleware.WorkspaceFromContext(ctx), agentID))
}

// load builds an agent from its stored configuration. A missing
// configuration is not an error: the agent starts from defaults.
func (h *AgentHost) load(ctx context.Context, key string) (*Agent, error) {
	ws := middleware.WorkspaceFromContext(ctx)
	id := key[len(ws)+1:]
	ctx = logger.WithAgentID(ctx, id)

	cfg, err := h.deps.Agents.GetAgent(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		def := agent.New(id, h.deps.defaults())
		def.Workspace = ws
		cfg = &def
		slog.DebugContext(ctx, "agent has no stored configuration, using defaults", "agent", id)
	case err != nil:
		return nil, fmt.Errorf("load agent %s: %w", id, err)
	}
	return newAgent(h.deps, ws, *cfg), nil
}

type handoffDepthKey struct{}

// HandoffDepth returns how many agent handoffs led to ctx.
func HandoffDepth(ctx context.Context) int {
	n, _ := ctx.Value(handoffDepthKey{}).(int)
	return n
}

// Handoff sends prompt to another agent as a sub-task and returns its text
// answer. Each hop runs on a fresh thread; the chain length is bounded by
// the configured handoff depth.
func (h *AgentHost) Handoff(ctx context.Context, agentID, prompt string) (string, error) {
	depth := HandoffDepth(ctx)
	if depth >= h.deps.Limits.MaxHandoffDepth {
		return "", fmt.Errorf("%w: handoff depth %d exceeded", domain.ErrForbidden, h.deps.Limits.MaxHandoffDepth)
	}
	target, err := h.Get(ctx, agentID)
	if err != nil {
		return "", err
	}
	ctx = logger.WithAgentID(context.WithValue(ctx, handoffDepthKey{}, depth+1), agentID)
	res, err := target.Generate(ctx, []thread.Message{{Role: thread.RoleUser, Content: prompt}}, GenerateOptions{})
	if err != nil {
		return "", fmt.Errorf("handoff to %s: %w", agentID, err)
	}
	return res.Text, nil
}
