package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/AgentForge/internal/config"
	"github.com/Strob0t/AgentForge/internal/domain"
	"github.com/Strob0t/AgentForge/internal/domain/agent"
	"github.com/Strob0t/AgentForge/internal/domain/integration"
	"github.com/Strob0t/AgentForge/internal/domain/thread"
	"github.com/Strob0t/AgentForge/internal/domain/tool"
	"github.com/Strob0t/AgentForge/internal/domain/trigger"
	"github.com/Strob0t/AgentForge/internal/domain/wallet"
	"github.com/Strob0t/AgentForge/internal/port/database"
	"github.com/Strob0t/AgentForge/internal/port/ledger"
	"github.com/Strob0t/AgentForge/internal/port/llm"
	"github.com/Strob0t/AgentForge/internal/port/messagequeue"
	"github.com/Strob0t/AgentForge/internal/port/statestore"
	"github.com/Strob0t/AgentForge/internal/port/toolclient"
)

// --- database.Store ---

type fakeStore struct {
	mu           sync.Mutex
	agents       map[string]agent.Config
	integrations map[string]integration.Integration
	threads      map[string]thread.Thread
	messages     map[string][]thread.Message
	runs         []trigger.Run
	messagesErr  error
}

var _ database.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		agents:       make(map[string]agent.Config),
		integrations: make(map[string]integration.Integration),
		threads:      make(map[string]thread.Thread),
		messages:     make(map[string][]thread.Message),
	}
}

func (s *fakeStore) GetAgent(_ context.Context, id string) (*agent.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.agents[id]
	if !ok {
		return nil, domain.AgentNotFound(id)
	}
	return &cfg, nil
}

func (s *fakeStore) UpsertAgent(_ context.Context, cfg *agent.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[cfg.ID] = *cfg
	return nil
}

func (s *fakeStore) GetIntegration(_ context.Context, id string) (*integration.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.integrations[id]
	if !ok {
		return nil, domain.IntegrationNotFound(id)
	}
	return &in, nil
}

func (s *fakeStore) ListIntegrations(_ context.Context) ([]integration.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]integration.Integration, 0, len(s.integrations))
	for _, in := range s.integrations {
		out = append(out, in)
	}
	return out, nil
}

func (s *fakeStore) CreateIntegration(_ context.Context, in *integration.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.integrations[in.ID]; ok {
		return domain.ErrConflict
	}
	s.integrations[in.ID] = *in
	return nil
}

func (s *fakeStore) DeleteIntegration(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.integrations[id]; !ok {
		return domain.IntegrationNotFound(id)
	}
	delete(s.integrations, id)
	return nil
}

func (s *fakeStore) GetThread(_ context.Context, id string) (*thread.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "thread", ID: id}
	}
	return &th, nil
}

func (s *fakeStore) EnsureThread(_ context.Context, th *thread.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[th.ID]; !ok {
		s.threads[th.ID] = *th
	}
	return nil
}

func (s *fakeStore) SetThreadTools(_ context.Context, id string, tools agent.ToolSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[id]
	if !ok {
		return &domain.NotFoundError{Kind: "thread", ID: id}
	}
	th.ToolsSet = tools
	s.threads[id] = th
	return nil
}

// Messages mimics the backend's UI projection dropping createdAt.
func (s *fakeStore) Messages(_ context.Context, id string, n int) ([]thread.Message, []thread.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messagesErr != nil {
		return nil, nil, s.messagesErr
	}
	raw := s.messages[id]
	if n > 0 && len(raw) > n {
		raw = raw[len(raw)-n:]
	}
	raw = append([]thread.Message(nil), raw...)
	ui := make([]thread.Message, len(raw))
	for i, m := range raw {
		m.CreatedAt = time.Time{}
		ui[i] = m
	}
	return raw, ui, nil
}

func (s *fakeStore) AppendMessages(_ context.Context, id string, msgs []thread.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[id] = append(s.messages[id], msgs...)
	return nil
}

func (s *fakeStore) AppendTriggerRun(_ context.Context, run *trigger.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

func (s *fakeStore) ListTriggerRuns(_ context.Context, triggerID string, limit int) ([]trigger.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []trigger.Run
	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].TriggerID == triggerID {
			out = append(out, s.runs[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) threadMessages(id string) []thread.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]thread.Message(nil), s.messages[id]...)
}

func (s *fakeStore) allRuns() []trigger.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]trigger.Run(nil), s.runs...)
}

// --- toolclient ---

// fakeProvider is a remote tool provider reachable through its dialer.
type fakeProvider struct {
	mu      sync.Mutex
	tools   []tool.Descriptor
	listErr error
	callErr error
	result  *tool.CallResult
	dials   int
	lists   int
	closes  int
	calls   []fakeCall
}

type fakeCall struct {
	name string
	args map[string]any
}

func (p *fakeProvider) Dial(_ context.Context, _ integration.Connection) (toolclient.Client, error) {
	p.mu.Lock()
	p.dials++
	p.mu.Unlock()
	return &fakeClient{p: p}, nil
}

func (p *fakeProvider) counts() (dials, lists, closes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dials, p.lists, p.closes
}

func (p *fakeProvider) recorded() []fakeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]fakeCall(nil), p.calls...)
}

type fakeClient struct{ p *fakeProvider }

func (c *fakeClient) ListTools(_ context.Context) ([]tool.Descriptor, error) {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	c.p.lists++
	if c.p.listErr != nil {
		return nil, c.p.listErr
	}
	return append([]tool.Descriptor(nil), c.p.tools...), nil
}

func (c *fakeClient) CallTool(_ context.Context, name string, args map[string]any) (*tool.CallResult, error) {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	c.p.calls = append(c.p.calls, fakeCall{name: name, args: args})
	if c.p.callErr != nil {
		return nil, c.p.callErr
	}
	if c.p.result != nil {
		return c.p.result, nil
	}
	return &tool.CallResult{Content: []tool.Content{{Type: "text", Text: "ok:" + name}}}, nil
}

func (c *fakeClient) Close() error {
	c.p.mu.Lock()
	c.p.closes++
	c.p.mu.Unlock()
	return nil
}

// directLister lists tools straight from the provider, without caching.
type directLister struct{ p *fakeProvider }

func (l directLister) ListTools(ctx context.Context, in *integration.Integration) []tool.Descriptor {
	if len(in.Tools) > 0 {
		return in.Tools
	}
	c, _ := l.p.Dial(ctx, in.Connection)
	defer c.Close()
	tools, err := c.ListTools(ctx)
	if err != nil {
		return nil
	}
	return tools
}

func httpIntegration(id string) integration.Integration {
	return integration.Integration{
		ID:         id,
		Name:       id,
		Connection: integration.Connection{Type: integration.TransportHTTP, URL: "https://tools.example.com/" + id},
	}
}

func descriptors(names ...string) []tool.Descriptor {
	out := make([]tool.Descriptor, len(names))
	for i, n := range names {
		out[i] = tool.Descriptor{Name: n, Description: "tool " + n}
	}
	return out
}

// --- llm ---

type fakeModel struct {
	id string

	mu       sync.Mutex
	requests []llm.Request
	ops      []string
	result   *llm.Result
	err      error
	chunks   []llm.Chunk
}

var _ llm.Model = (*fakeModel)(nil)

func (m *fakeModel) ID() string { return m.id }

func (m *fakeModel) record(op string, req llm.Request) (*llm.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	m.ops = append(m.ops, op)
	if m.err != nil {
		return nil, m.err
	}
	res := llm.Result{ID: "gen-" + op, Model: m.id, Text: "hello", FinishReason: "stop"}
	if m.result != nil {
		res = *m.result
	}
	return &res, nil
}

func (m *fakeModel) Generate(_ context.Context, req llm.Request) (*llm.Result, error) {
	return m.record("generate", req)
}

func (m *fakeModel) GenerateObject(_ context.Context, req llm.Request) (*llm.Result, error) {
	return m.record("generate_object", req)
}

func (m *fakeModel) Stream(_ context.Context, req llm.Request) (llm.Stream, error) {
	if _, err := m.record("stream", req); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return &fakeStream{chunks: append([]llm.Chunk(nil), m.chunks...)}, nil
}

func (m *fakeModel) calls() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

type fakeStream struct {
	chunks []llm.Chunk
	closed bool
}

func (s *fakeStream) Recv() (llm.Chunk, error) {
	if len(s.chunks) == 0 {
		return llm.Chunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeModels struct {
	mu       sync.Mutex
	models   map[string]*fakeModel
	bypassed []string
}

func newFakeModels() *fakeModels {
	return &fakeModels{models: make(map[string]*fakeModel)}
}

func (p *fakeModels) Model(id string, bypass bool) llm.Model {
	return p.get(id, bypass)
}

func (p *fakeModels) get(id string, bypass bool) *fakeModel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if bypass {
		p.bypassed = append(p.bypassed, id)
	}
	m, ok := p.models[id]
	if !ok {
		m = &fakeModel{id: id}
		p.models[id] = m
	}
	return m
}

// --- ledger ---

type fakeLedger struct {
	mu           sync.Mutex
	txs          map[string]wallet.Transaction
	balanceCalls int
	postErr      error
}

var _ ledger.Ledger = (*fakeLedger)(nil)

func newFakeLedger() *fakeLedger {
	return &fakeLedger{txs: make(map[string]wallet.Transaction)}
}

func (l *fakeLedger) Balance(_ context.Context, userID string) (wallet.MicroUnits, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balanceCalls++
	var sum wallet.MicroUnits
	for _, tx := range l.txs {
		if tx.UserID == userID {
			sum += tx.Amount
		}
	}
	return sum, nil
}

func (l *fakeLedger) Post(_ context.Context, tx wallet.Transaction) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.postErr != nil {
		return false, l.postErr
	}
	if _, ok := l.txs[tx.ID]; ok {
		return false, nil
	}
	l.txs[tx.ID] = tx
	return true, nil
}

func (l *fakeLedger) Transactions(_ context.Context, userID string, limit int) ([]wallet.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []wallet.Transaction
	for _, tx := range l.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *fakeLedger) credit(userID string, amount wallet.MicroUnits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := "credit-" + userID + "-" + amount.String()
	l.txs[id] = wallet.Transaction{ID: id, Type: wallet.TxCredit, UserID: userID, Amount: amount}
}

func (l *fakeLedger) ofType(tt wallet.TransactionType) []wallet.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []wallet.Transaction
	for _, tx := range l.txs {
		if tx.Type == tt {
			out = append(out, tx)
		}
	}
	return out
}

// --- statestore ---

type memState struct {
	mu   sync.Mutex
	data map[string][]byte
}

var _ statestore.Store = (*memState)(nil)

func newMemState() *memState { return &memState{data: make(map[string][]byte)} }

func (s *memState) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, statestore.ErrNotFound
	}
	return v, nil
}

func (s *memState) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *memState) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memState) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *memState) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

// --- messagequeue ---

// fakeQueue delivers published messages synchronously to subscribers.
type fakeQueue struct {
	mu         sync.Mutex
	published  map[string][][]byte
	handlers   map[string]messagequeue.Handler
	publishErr error
}

var _ messagequeue.Queue = (*fakeQueue)(nil)

func newFakeQueue() *fakeQueue {
	return &fakeQueue{published: make(map[string][][]byte), handlers: make(map[string]messagequeue.Handler)}
}

func (q *fakeQueue) Publish(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	if q.publishErr != nil {
		q.mu.Unlock()
		return q.publishErr
	}
	q.published[subject] = append(q.published[subject], data)
	h := q.handlers[subject]
	q.mu.Unlock()
	if h != nil {
		return h(ctx, subject, data)
	}
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = h
	return func() {
		q.mu.Lock()
		delete(q.handlers, subject)
		q.mu.Unlock()
	}, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func (q *fakeQueue) count(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published[subject])
}

// --- wiring ---

func testLimits() config.Agent {
	return config.Agent{
		DefaultModel:        "test/default",
		DefaultInstructions: "be helpful",
		DefaultMaxSteps:     7,
		MaxSteps:            25,
		DefaultMaxTokens:    8192,
		MaxTokens:           64000,
		MaxThinkingTokens:   12000,
		MinThinkingTokens:   1024,
		DefaultLastMessages: 8,
		MaxHandoffDepth:     2,
	}
}

type testEnv struct {
	store    *fakeStore
	provider *fakeProvider
	models   *fakeModels
	ledger   *fakeLedger
	tasks    *TaskQueue
	deps     *AgentDeps
	agents   *AgentHost
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:    newFakeStore(),
		provider: &fakeProvider{},
		models:   newFakeModels(),
		ledger:   newFakeLedger(),
		tasks:    NewTaskQueue(64, 1, 5*time.Second),
	}
	env.deps = &AgentDeps{
		Agents:       env.store,
		Integrations: env.store,
		Memory:       env.store,
		Descriptors:  directLister{p: env.provider},
		Dialer:       env.provider,
		Models:       env.models,
		Ledger:       env.ledger,
		Tasks:        env.tasks,
		CallTimeout:  5 * time.Second,
		Limits:       testLimits(),
		Wallet: config.Wallet{
			DefaultPrice: config.Price{InputPerMTok: 3_000_000, OutputPerMTok: 15_000_000},
		},
	}
	env.deps.Usage = NewLedgerUsage(env.ledger, env.deps.price)
	env.agents = NewAgentHost(env.deps)
	return env
}

func (e *testEnv) addIntegration(id string, tools ...string) {
	in := httpIntegration(id)
	in.Tools = descriptors(tools...)
	e.store.integrations[id] = in
}

func (e *testEnv) defaultModel() *fakeModel {
	return e.models.get(e.deps.Limits.DefaultModel, false)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

var errBoom = errors.New("boom")
