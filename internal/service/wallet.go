package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/AgentForge/internal/domain/wallet"
	"github.com/Strob0t/AgentForge/internal/port/ledger"
	"github.com/Strob0t/AgentForge/internal/port/messagequeue"
)

// UsagePoster records the cost of a finished generation.
type UsagePoster interface {
	PostUsage(ctx context.Context, u wallet.Usage) error
}

// Rewards grants the one-time signup credit.
type Rewards struct {
	ledger ledger.Ledger
	amount wallet.MicroUnits
	now    func() time.Time
}

// NewRewards creates the signup reward granter.
func NewRewards(l ledger.Ledger, amount wallet.MicroUnits) *Rewards {
	return &Rewards{ledger: l, amount: amount, now: time.Now}
}

// EnsureSignup posts the signup credit for userID. The transaction id is
// derived from the user id, so repeated calls grant it once.
func (r *Rewards) EnsureSignup(ctx context.Context, userID string) error {
	if r.amount <= 0 {
		return nil
	}
	inserted, err := r.ledger.Post(ctx, wallet.Transaction{
		ID:        wallet.SignupRewardID(userID),
		Type:      wallet.TxSignupReward,
		UserID:    userID,
		Amount:    r.amount,
		CreatedAt: r.now(),
	})
	if err != nil {
		return fmt.Errorf("signup reward: %w", err)
	}
	if inserted {
		slog.InfoContext(ctx, "signup reward granted", "user", userID, "amount", r.amount.String())
	}
	return nil
}

// WalletGate decides whether a generation may start and records its cost
// afterwards. The balance flag cache belongs to the owning agent instance.
type WalletGate struct {
	ledger  ledger.Ledger
	rewards *Rewards
	usage   UsagePoster
	tasks   *TaskQueue

	mu      sync.Mutex
	balance map[string]bool
	group   singleflight.Group
}

// NewWalletGate creates a gate with an empty balance cache.
func NewWalletGate(l ledger.Ledger, rewards *Rewards, usage UsagePoster, tasks *TaskQueue) *WalletGate {
	return &WalletGate{
		ledger:  l,
		rewards: rewards,
		usage:   usage,
		tasks:   tasks,
		balance: make(map[string]bool),
	}
}

// CanProceed reports whether userID may start a generation. A cached
// "no balance" is re-checked synchronously; an empty cache optimistically
// allows the call and refreshes in the background.
func (g *WalletGate) CanProceed(ctx context.Context, userID string) (bool, error) {
	g.mu.Lock()
	has, cached := g.balance[userID]
	g.mu.Unlock()

	switch {
	case !cached:
		g.refreshAsync(userID)
		return true, nil
	case has:
		return true, nil
	default:
		return g.refresh(ctx, userID)
	}
}

// HasBalance grants the signup reward if needed and reads the authoritative
// balance.
func (g *WalletGate) HasBalance(ctx context.Context, userID string) (bool, error) {
	if err := g.rewards.EnsureSignup(ctx, userID); err != nil {
		return false, err
	}
	bal, err := g.ledger.Balance(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("read balance: %w", err)
	}
	return bal > 0, nil
}

// ComputeLLMUsage posts the usage of a finished generation and always
// refreshes the cached flag afterwards, whether or not posting succeeded.
func (g *WalletGate) ComputeLLMUsage(ctx context.Context, u wallet.Usage) error {
	err := g.usage.PostUsage(ctx, u)
	if _, rerr := g.refresh(ctx, u.UserID); rerr != nil {
		slog.WarnContext(ctx, "balance refresh after usage failed", "user", u.UserID, "error", rerr)
	}
	if err != nil {
		return fmt.Errorf("post usage %s: %w", u.GenerationID, err)
	}
	return nil
}

// Cached returns the cached flag for userID.
func (g *WalletGate) Cached(userID string) (has, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	has, ok = g.balance[userID]
	return has, ok
}

func (g *WalletGate) refresh(ctx context.Context, userID string) (bool, error) {
	v, err, _ := g.group.Do(userID, func() (any, error) {
		has, err := g.HasBalance(ctx, userID)
		if err != nil {
			return false, err
		}
		g.mu.Lock()
		g.balance[userID] = has
		g.mu.Unlock()
		return has, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (g *WalletGate) refreshAsync(userID string) {
	g.tasks.Submit(Task{
		Name: "wallet.refresh",
		Run: func(ctx context.Context) error {
			_, err := g.refresh(ctx, userID)
			return err
		},
	})
}

// LedgerUsage posts usage straight to the ledger.
type LedgerUsage struct {
	ledger ledger.Ledger
	price  func(model string) wallet.Price
	now    func() time.Time
}

// NewLedgerUsage creates a direct usage poster.
func NewLedgerUsage(l ledger.Ledger, price func(model string) wallet.Price) *LedgerUsage {
	return &LedgerUsage{ledger: l, price: price, now: time.Now}
}

// PostUsage debits the cost of u. Reposting the same generation is a no-op.
func (p *LedgerUsage) PostUsage(ctx context.Context, u wallet.Usage) error {
	tx := u.Transaction(p.price(u.Model), p.now())
	if _, err := p.ledger.Post(ctx, tx); err != nil {
		return err
	}
	return nil
}

// QueuedUsage publishes usage to the billing subject; a BillingSubscriber
// settles it against the ledger.
type QueuedUsage struct {
	queue messagequeue.Queue
}

// NewQueuedUsage creates a queue backed usage poster.
func NewQueuedUsage(q messagequeue.Queue) *QueuedUsage {
	return &QueuedUsage{queue: q}
}

// PostUsage publishes u.
func (p *QueuedUsage) PostUsage(ctx context.Context, u wallet.Usage) error {
	data, err := json.Marshal(messagequeue.WalletUsagePayload{
		GenerationID:     u.GenerationID,
		UserID:           u.UserID,
		Workspace:        u.Workspace,
		AgentID:          u.AgentID,
		AgentName:        u.AgentName,
		ThreadID:         u.ThreadID,
		Model:            u.Model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
	})
	if err != nil {
		return fmt.Errorf("marshal usage: %w", err)
	}
	return p.queue.Publish(ctx, messagequeue.SubjectWalletUsage, data)
}

// FallbackUsage settles usage with primary and hands it to fallback only
// when that fails. Pairing a LedgerUsage with a QueuedUsage keeps the balance
// current for the next gate check while a ledger outage is retried through
// the billing subscriber.
type FallbackUsage struct {
	primary  UsagePoster
	fallback UsagePoster
}

// NewFallbackUsage creates a poster that tries primary first.
func NewFallbackUsage(primary, fallback UsagePoster) *FallbackUsage {
	return &FallbackUsage{primary: primary, fallback: fallback}
}

// PostUsage posts u with primary, then with fallback on failure.
func (p *FallbackUsage) PostUsage(ctx context.Context, u wallet.Usage) error {
	err := p.primary.PostUsage(ctx, u)
	if err == nil {
		return nil
	}
	if qerr := p.fallback.PostUsage(ctx, u); qerr != nil {
		return errors.Join(err, fmt.Errorf("fallback usage: %w", qerr))
	}
	slog.WarnContext(ctx, "usage deferred to billing queue", "generation", u.GenerationID, "error", err)
	return nil
}

// BillingSubscriber consumes usage messages and posts them to the ledger.
type BillingSubscriber struct {
	queue  messagequeue.Queue
	poster UsagePoster
}

// NewBillingSubscriber creates a subscriber settling usage with poster.
func NewBillingSubscriber(q messagequeue.Queue, poster UsagePoster) *BillingSubscriber {
	return &BillingSubscriber{queue: q, poster: poster}
}

// Start subscribes to the usage subject. The returned function cancels it.
func (s *BillingSubscriber) Start(ctx context.Context) (func(), error) {
	return s.queue.Subscribe(ctx, messagequeue.SubjectWalletUsage, s.handle)
}

func (s *BillingSubscriber) handle(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.WalletUsagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode usage: %w", err)
	}
	return s.poster.PostUsage(ctx, wallet.Usage{
		GenerationID:     p.GenerationID,
		UserID:           p.UserID,
		Workspace:        p.Workspace,
		AgentID:          p.AgentID,
		AgentName:        p.AgentName,
		ThreadID:         p.ThreadID,
		Model:            p.Model,
		PromptTokens:     p.PromptTokens,
		CompletionTokens: p.CompletionTokens,
	})
}
