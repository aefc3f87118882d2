package http

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"

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
	"github.com/Strob0t/AgentForge/internal/port/statestore"
	"github.com/Strob0t/AgentForge/internal/port/toolclient"
)

type fakeStore struct {
	mu           sync.Mutex
	agents       map[string]agent.Config
	integrations map[string]integration.Integration
	threads      map[string]thread.Thread
	messages     map[string][]thread.Message
	runs         []trigger.Run
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
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
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

func (s *fakeStore) Messages(_ context.Context, id string, n int) ([]thread.Message, []thread.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw := append([]thread.Message(nil), s.messages[id]...)
	if n > 0 && len(raw) > n {
		raw = raw[len(raw)-n:]
	}
	return raw, raw, nil
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
	out := []trigger.Run{}
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

// --- tools ---

type fakeDialer struct{}

func (fakeDialer) Dial(_ context.Context, _ integration.Connection) (toolclient.Client, error) {
	return fakeClient{}, nil
}

type fakeClient struct{}

func (fakeClient) ListTools(_ context.Context) ([]tool.Descriptor, error) { return nil, nil }

func (fakeClient) CallTool(_ context.Context, name string, _ map[string]any) (*tool.CallResult, error) {
	return &tool.CallResult{Content: []tool.Content{{Type: "text", Text: "ok:" + name}}}, nil
}

func (fakeClient) Close() error { return nil }

// declaredLister only serves tools declared on the integration record.
type declaredLister struct{}

func (declaredLister) ListTools(_ context.Context, in *integration.Integration) []tool.Descriptor {
	return in.Tools
}

type recordingInvalidator struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, conn integration.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, conn.CacheKey())
}

// --- llm ---

type fakeModel struct {
	id     string
	chunks []llm.Chunk
}

func (m *fakeModel) ID() string { return m.id }

func (m *fakeModel) Generate(_ context.Context, _ llm.Request) (*llm.Result, error) {
	return &llm.Result{ID: "gen-1", Model: m.id, Text: "hello", FinishReason: "stop"}, nil
}

func (m *fakeModel) GenerateObject(_ context.Context, _ llm.Request) (*llm.Result, error) {
	return &llm.Result{ID: "gen-2", Model: m.id, Object: []byte(`{"answer":42}`), FinishReason: "stop"}, nil
}

func (m *fakeModel) Stream(_ context.Context, _ llm.Request) (llm.Stream, error) {
	return &fakeStream{chunks: append([]llm.Chunk(nil), m.chunks...)}, nil
}

type fakeStream struct{ chunks []llm.Chunk }

func (s *fakeStream) Recv() (llm.Chunk, error) {
	if len(s.chunks) == 0 {
		return llm.Chunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeModels struct{ chunks []llm.Chunk }

func (p *fakeModels) Model(id string, _ bool) llm.Model {
	return &fakeModel{id: id, chunks: p.chunks}
}

// --- ledger ---

type fakeLedger struct {
	mu  sync.Mutex
	txs map[string]wallet.Transaction
}

var _ ledger.Ledger = (*fakeLedger)(nil)

func newFakeLedger() *fakeLedger { return &fakeLedger{txs: make(map[string]wallet.Transaction)} }

func (l *fakeLedger) Balance(_ context.Context, userID string) (wallet.MicroUnits, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
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
	if _, ok := l.txs[tx.ID]; ok {
		return false, nil
	}
	l.txs[tx.ID] = tx
	return true, nil
}

func (l *fakeLedger) Transactions(_ context.Context, userID string, _ int) ([]wallet.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []wallet.Transaction
	for _, tx := range l.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
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
