package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	afotel "github.com/Strob0t/AgentForge/internal/adapter/otel"
	"github.com/Strob0t/AgentForge/internal/domain"
	"github.com/Strob0t/AgentForge/internal/domain/agent"
	"github.com/Strob0t/AgentForge/internal/domain/thread"
	"github.com/Strob0t/AgentForge/internal/domain/tool"
	"github.com/Strob0t/AgentForge/internal/domain/wallet"
	"github.com/Strob0t/AgentForge/internal/middleware"
	"github.com/Strob0t/AgentForge/internal/port/llm"
)

// GenerateOptions override an agent's configuration for one call.
type GenerateOptions struct {
	ThreadID     string              `json:"threadId,omitempty"`
	ResourceID   string              `json:"resourceId,omitempty"`
	Model        string              `json:"model,omitempty"`
	Instructions string              `json:"instructions,omitempty"`
	Tools        agent.ToolSet       `json:"tools,omitempty"`
	ExcludeTools map[string][]string `json:"excludeTools,omitempty"`
	MaxSteps     int                 `json:"maxSteps,omitempty"`
	MaxTokens    int                 `json:"maxTokens,omitempty"`
	// LastMessages limits the history read from memory; nil uses the
	// agent's memory setting.
	LastMessages     *int `json:"lastMessages,omitempty"`
	BypassOpenRouter bool `json:"bypassOpenRouter,omitempty"`
	SendReasoning    bool `json:"sendReasoning,omitempty"`
}

// CallToolResult is the outcome of a direct tool call.
type CallToolResult struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Message string `json:"message,omitempty"`
}

// Agent is one live agent instance. It owns its callable tool cache and
// wallet flag cache for its whole lifetime.
type Agent struct {
	deps      *AgentDeps
	workspace string
	tools     *Toolbox
	wallet    *WalletGate
	newID     func() string

	mu     sync.RWMutex
	cfg    agent.Config
	model  llm.Model
	memory *Memory
}

func newAgent(deps *AgentDeps, workspace string, cfg agent.Config) *Agent {
	a := &Agent{
		deps:      deps,
		workspace: workspace,
		tools:     NewToolbox(deps.Integrations, deps.Descriptors, deps.Dialer, deps.CallTimeout, deps.Metrics),
		wallet: NewWalletGate(deps.Ledger,
			NewRewards(deps.Ledger, wallet.MicroUnits(deps.Wallet.SignupRewardMicro)),
			deps.Usage, deps.Tasks),
		newID: uuid.NewString,
	}
	a.setConfig(cfg)
	return a
}

func (a *Agent) setConfig(cfg agent.Config) {
	model := cfg.Model
	if model == "" {
		model = a.deps.Limits.DefaultModel
	}
	a.mu.Lock()
	a.cfg = cfg
	a.model = a.deps.Models.Model(model, false)
	a.memory = NewMemory(a.deps.Memory, cfg.ID)
	a.mu.Unlock()
}

func (a *Agent) snapshot() (agent.Config, llm.Model, *Memory) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg, a.model, a.memory
}

// Configuration returns the current configuration.
func (a *Agent) Configuration() agent.Config {
	cfg, _, _ := a.snapshot()
	return cfg
}

// Configure merges patch into the configuration, persists it and rebuilds
// the model and memory handles.
func (a *Agent) Configure(ctx context.Context, patch agent.Patch) (agent.Config, error) {
	cfg, _, _ := a.snapshot()
	next := cfg.Apply(patch)
	next.Workspace = a.workspace
	if err := next.Validate(); err != nil {
		return agent.Config{}, err
	}
	if err := a.deps.Agents.UpsertAgent(ctx, &next); err != nil {
		return agent.Config{}, fmt.Errorf("store agent %s: %w", next.ID, err)
	}
	a.setConfig(next)
	slog.InfoContext(ctx, "agent configured", "agent", next.ID, "model", next.Model)
	return next, nil
}

// Query returns the last n messages of a thread.
func (a *Agent) Query(ctx context.Context, threadID string, n int) []thread.Message {
	_, _, mem := a.snapshot()
	return mem.Query(ctx, threadID, n)
}

// ThreadTools returns the tool set used on a thread: its override if it has
// one, else the agent's tools_set.
func (a *Agent) ThreadTools(ctx context.Context, threadID string) (agent.ToolSet, error) {
	cfg, _, mem := a.snapshot()
	return mem.ThreadTools(ctx, threadID, cfg.ToolsSet)
}

// UpdateThreadTools stores a tool set override on a thread.
func (a *Agent) UpdateThreadTools(ctx context.Context, threadID, resourceID string, tools agent.ToolSet) error {
	_, _, mem := a.snapshot()
	ref := mem.Resolve(ctx, threadID, resourceID)
	return mem.UpdateThreadTools(ctx, ref, tools)
}

// CallTool invokes "<integrationId>.<toolName>" directly. Failures are
// reported in the result, not as an error.
func (a *Agent) CallTool(ctx context.Context, id string, input map[string]any) CallToolResult {
	integrationID, name, ok := tool.ParseCallID(id)
	if !ok {
		return CallToolResult{Message: fmt.Sprintf("invalid tool id %q, expected <integrationId>.<toolName>", id)}
	}
	ts, err := a.tools.GetOrCreate(ctx, integrationID)
	if err != nil {
		return CallToolResult{Message: err.Error()}
	}
	t, ok := ts[tool.Slugify(name)]
	if !ok {
		return CallToolResult{Message: domain.ToolNotFound(name).Error()}
	}
	res, err := t.Execute(ctx, input)
	if err != nil {
		return CallToolResult{Message: err.Error()}
	}
	return CallToolResult{Success: true, Result: res.Value()}
}

// Generate produces a text completion.
func (a *Agent) Generate(ctx context.Context, msgs []thread.Message, opts GenerateOptions) (_ *llm.Result, err error) {
	p, err := a.prepare(ctx, msgs, opts)
	if err != nil {
		return nil, err
	}
	ctx, span := afotel.StartGenerationSpan(ctx, "generate", p.cfg.ID, p.model.ID())
	defer func() { afotel.EndSpan(span, err) }()
	a.countGeneration(ctx, "generate", p.model.ID())

	res, err := p.model.Generate(ctx, p.req)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	a.remember(ctx, p, thread.Message{Role: thread.RoleAssistant, Content: res.Text, Reasoning: res.Reasoning})
	a.bill(ctx, p, res)
	return res, nil
}

// GenerateObject produces a JSON object conforming to schema. The object is
// also appended to the thread as an assistant message.
func (a *Agent) GenerateObject(ctx context.Context, msgs []thread.Message, schema json.RawMessage, opts GenerateOptions) (_ *llm.Result, err error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("%w: schema is required", domain.ErrValidation)
	}
	if _, err := compileSchema(schema); err != nil {
		return nil, fmt.Errorf("%w: schema: %w", domain.ErrValidation, err)
	}
	p, err := a.prepare(ctx, msgs, opts)
	if err != nil {
		return nil, err
	}
	p.req.Schema = schema
	p.req.SchemaName = "output"

	ctx, span := afotel.StartGenerationSpan(ctx, "generate_object", p.cfg.ID, p.model.ID())
	defer func() { afotel.EndSpan(span, err) }()
	a.countGeneration(ctx, "generate_object", p.model.ID())

	res, err := p.model.GenerateObject(ctx, p.req)
	if err != nil {
		return nil, fmt.Errorf("generate object: %w", err)
	}
	var obj any
	if err := json.Unmarshal(res.Object, &obj); err != nil {
		return nil, fmt.Errorf("model returned invalid JSON: %w", err)
	}
	if err := validateAgainst(schema, obj); err != nil {
		return nil, fmt.Errorf("generated object: %w", err)
	}
	a.remember(ctx, p, thread.Message{Role: thread.RoleAssistant, Content: string(res.Object)})
	a.bill(ctx, p, res)
	return res, nil
}

// Stream starts a streamed completion. Callers with a principal must pass
// the wallet gate first; memory and billing are settled in the background
// once the final chunk has been read.
func (a *Agent) Stream(ctx context.Context, msgs []thread.Message, opts GenerateOptions) (llm.Stream, error) {
	if user := middleware.PrincipalFromContext(ctx); user != "" {
		ok, err := a.wallet.CanProceed(ctx, user)
		if err != nil {
			return nil, fmt.Errorf("wallet check: %w", err)
		}
		if !ok {
			if a.deps.Metrics != nil {
				a.deps.Metrics.WalletDenied.Add(ctx, 1)
			}
			return nil, fmt.Errorf("%w: user %s has no balance left", domain.ErrInsufficientFunds, user)
		}
	}

	p, err := a.prepare(ctx, msgs, opts)
	if err != nil {
		return nil, err
	}
	if budget := a.thinkingBudget(p.req.MaxTokens); budget > 0 {
		p.req.ThinkingBudget = budget
	}

	ctx, span := afotel.StartGenerationSpan(ctx, "stream", p.cfg.ID, p.model.ID())
	a.countGeneration(ctx, "stream", p.model.ID())
	started := time.Now()
	ttfb := afotel.StartTTFB(ctx, p.cfg.ID, p.model.ID())

	inner, err := p.model.Stream(ctx, p.req)
	if err != nil {
		ttfb.End()
		err = fmt.Errorf("stream: %w", err)
		afotel.EndSpan(span, err)
		return nil, err
	}
	return &agentStream{
		Stream: inner,
		first: func() {
			ttfb.End()
			if a.deps.Metrics != nil {
				a.deps.Metrics.TTFBSeconds.Record(ctx, time.Since(started).Seconds())
			}
		},
		finish: func(res *llm.Result, err error) {
			afotel.EndSpan(span, err)
			if res != nil {
				a.settle(ctx, p, res)
			}
		},
	}, nil
}

// thinkingBudget returns the extended reasoning budget left under the hard
// token cap, or 0 when it does not clear the minimum.
func (a *Agent) thinkingBudget(maxTokens int) int {
	l := a.deps.Limits
	budget := min(l.MaxThinkingTokens, l.MaxTokens-maxTokens)
	if budget < l.MinThinkingTokens {
		return 0
	}
	return budget
}

type prepared struct {
	cfg   agent.Config
	model llm.Model
	mem   *Memory
	ref   thread.Ref
	input []thread.Message
	req   llm.Request
}

func (a *Agent) prepare(ctx context.Context, msgs []thread.Message, opts GenerateOptions) (*prepared, error) {
	cfg, model, mem := a.snapshot()
	l := a.deps.Limits

	switch {
	case opts.Model != "" && opts.Model != model.ID():
		model = a.deps.Models.Model(opts.Model, opts.BypassOpenRouter)
	case opts.BypassOpenRouter:
		model = a.deps.Models.Model(model.ID(), true)
	}

	ref := mem.Resolve(ctx, opts.ThreadID, opts.ResourceID)

	allow := opts.Tools
	if allow == nil {
		allow = cfg.ToolsSet
		if opts.ThreadID != "" {
			if ts, err := mem.ThreadTools(ctx, ref.ThreadID, cfg.ToolsSet); err != nil {
				slog.WarnContext(ctx, "thread tools lookup failed, using agent tools", "thread", ref.ThreadID, "error", err)
			} else {
				allow = ts
			}
		}
	}
	sets := a.tools.Pick(ctx, allow).Exclude(opts.ExcludeTools)

	lastMessages := cfg.Memory.LastMessages
	if opts.LastMessages != nil {
		lastMessages = *opts.LastMessages
	}
	var history []thread.Message
	if opts.ThreadID != "" && lastMessages > 0 {
		history = mem.Query(ctx, ref.ThreadID, lastMessages)
	}

	instructions := cfg.Instructions
	if opts.Instructions != "" {
		instructions = opts.Instructions
	}
	maxSteps := cfg.MaxSteps
	if opts.MaxSteps > 0 {
		maxSteps = opts.MaxSteps
	}
	maxTokens := cfg.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	messages := make([]thread.Message, 0, len(history)+len(msgs))
	messages = append(messages, history...)
	messages = append(messages, msgs...)

	return &prepared{
		cfg:   cfg,
		model: model,
		mem:   mem,
		ref:   ref,
		input: msgs,
		req: llm.Request{
			Instructions:  instructions,
			Messages:      messages,
			Tools:         llmTools(sets),
			MaxSteps:      agent.Clamp(maxSteps, l.DefaultMaxSteps, l.MaxSteps),
			MaxTokens:     agent.Clamp(maxTokens, l.DefaultMaxTokens, l.MaxTokens),
			SendReasoning: opts.SendReasoning,
		},
	}, nil
}

// llmTools flattens tool sets into model tools. Keys colliding across
// integrations are qualified with the integration id.
func llmTools(sets ToolSets) []llm.Tool {
	sorted := sets.Sorted()
	seen := make(map[string]int, len(sorted))
	for _, t := range sorted {
		seen[t.Key]++
	}
	out := make([]llm.Tool, 0, len(sorted))
	for _, t := range sorted {
		name := t.Key
		if seen[name] > 1 {
			name = tool.Slugify(t.IntegrationID) + "__" + t.Key
		}
		out = append(out, llm.Tool{
			Name:        name,
			Description: t.Descriptor.Description,
			Parameters:  tool.SchemaOrEmpty(t.Descriptor.InputSchema),
			Execute: func(ctx context.Context, raw json.RawMessage) (any, error) {
				args, err := decodeArgs(raw)
				if err != nil {
					return nil, err
				}
				res, err := t.Execute(ctx, args)
				if err != nil {
					return nil, err
				}
				return res.Value(), nil
			},
		})
	}
	return out
}

func (a *Agent) remember(ctx context.Context, p *prepared, reply thread.Message) {
	msgs := append(append([]thread.Message(nil), p.input...), reply)
	if err := p.mem.Remember(ctx, p.ref, msgs...); err != nil {
		slog.WarnContext(ctx, "memory append failed", "thread", p.ref.ThreadID, "error", err)
	}
}

// bill queues the usage of res for the principal on ctx. Anonymous and
// internal calls are not billed.
func (a *Agent) bill(ctx context.Context, p *prepared, res *llm.Result) {
	if a.deps.Metrics != nil {
		a.deps.Metrics.TokensUsed.Add(ctx, int64(res.Usage.TotalTokens),
			metric.WithAttributes(attribute.String("model", res.Model)))
	}
	user := middleware.PrincipalFromContext(ctx)
	if user == "" {
		return
	}
	genID := res.ID
	if genID == "" {
		genID = a.newID()
	}
	model := res.Model
	if model == "" {
		model = p.model.ID()
	}
	u := wallet.Usage{
		GenerationID:     genID,
		UserID:           user,
		Workspace:        a.workspace,
		AgentID:          p.cfg.ID,
		AgentName:        p.cfg.Name,
		ThreadID:         p.ref.ThreadID,
		Model:            model,
		PromptTokens:     res.Usage.PromptTokens,
		CompletionTokens: res.Usage.CompletionTokens,
	}
	if !a.deps.Tasks.Submit(Task{
		Name: "wallet.usage",
		Run: func(ctx context.Context) error {
			return a.wallet.ComputeLLMUsage(ctx, u)
		},
	}) {
		slog.ErrorContext(ctx, "usage dropped, billing queue full", "generation", genID, "user", user)
	}
}

// settle persists and bills a finished stream without holding up the
// reader.
func (a *Agent) settle(ctx context.Context, p *prepared, res *llm.Result) {
	bg := context.WithoutCancel(ctx)
	a.deps.Tasks.Submit(Task{
		Name: "agent.remember",
		Run: func(context.Context) error {
			a.remember(bg, p, thread.Message{Role: thread.RoleAssistant, Content: res.Text, Reasoning: res.Reasoning})
			return nil
		},
	})
	a.bill(bg, p, res)
}

func (a *Agent) countGeneration(ctx context.Context, op, model string) {
	if a.deps.Metrics == nil {
		return
	}
	a.deps.Metrics.Generations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("model", model),
	))
}

// agentStream reports the first chunk and the finish of a model stream.
type agentStream struct {
	llm.Stream
	first  func()
	finish func(*llm.Result, error)

	firstOnce  sync.Once
	finishOnce sync.Once
}

func (s *agentStream) Recv() (llm.Chunk, error) {
	c, err := s.Stream.Recv()
	s.firstOnce.Do(s.first)
	switch {
	case err == nil && c.Type == llm.ChunkFinish:
		s.finishOnce.Do(func() { s.finish(c.Result, nil) })
	case errors.Is(err, io.EOF):
		s.finishOnce.Do(func() { s.finish(nil, nil) })
	case err != nil:
		s.finishOnce.Do(func() { s.finish(nil, err) })
	}
	return c, err
}

func (s *agentStream) Close() error {
	s.firstOnce.Do(s.first)
	s.finishOnce.Do(func() { s.finish(nil, nil) })
	return s.Stream.Close()
}
