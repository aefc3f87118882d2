package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/AgentForge/internal/domain/wallet"
	"github.com/Strob0t/AgentForge/internal/port/messagequeue"
)

type failingUsage struct{ calls int }

func (f *failingUsage) PostUsage(context.Context, wallet.Usage) error {
	f.calls++
	return errBoom
}

func newTestGate(l *fakeLedger, reward wallet.MicroUnits, usage UsagePoster) (*WalletGate, *TaskQueue) {
	tasks := NewTaskQueue(16, 1, time.Second)
	return NewWalletGate(l, NewRewards(l, reward), usage, tasks), tasks
}

func TestCanProceedEmptyCacheIsOptimistic(t *testing.T) {
	l := newFakeLedger()
	g, tasks := newTestGate(l, 0, nil)

	ok, err := g.CanProceed(context.Background(), "u1")
	if err != nil || !ok {
		t.Fatalf("expected optimistic allow, got %v, %v", ok, err)
	}
	tasks.Close()

	has, cached := g.Cached("u1")
	if !cached || has {
		t.Fatalf("expected background refresh to cache no balance, got has=%v cached=%v", has, cached)
	}
}

func TestCanProceedRechecksCachedFalse(t *testing.T) {
	l := newFakeLedger()
	g, tasks := newTestGate(l, 0, nil)
	defer tasks.Close()
	g.balance["u1"] = false

	ok, err := g.CanProceed(context.Background(), "u1")
	if err != nil || ok {
		t.Fatalf("expected deny at zero balance, got %v, %v", ok, err)
	}
	if l.balanceCalls != 1 {
		t.Fatalf("expected synchronous balance read, got %d", l.balanceCalls)
	}

	l.credit("u1", wallet.Unit)
	ok, err = g.CanProceed(context.Background(), "u1")
	if err != nil || !ok {
		t.Fatalf("expected allow after top-up, got %v, %v", ok, err)
	}
	if has, _ := g.Cached("u1"); !has {
		t.Fatal("expected cache updated by the re-check")
	}
}

func TestCanProceedCachedTrueSkipsLedger(t *testing.T) {
	l := newFakeLedger()
	g, tasks := newTestGate(l, 0, nil)
	defer tasks.Close()
	g.balance["u1"] = true

	if ok, _ := g.CanProceed(context.Background(), "u1"); !ok {
		t.Fatal("expected allow")
	}
	if l.balanceCalls != 0 {
		t.Fatalf("expected no ledger read, got %d", l.balanceCalls)
	}
}

func TestHasBalanceGrantsSignupRewardOnce(t *testing.T) {
	l := newFakeLedger()
	g, tasks := newTestGate(l, 2*wallet.Unit, nil)
	defer tasks.Close()

	for range 3 {
		ok, err := g.HasBalance(context.Background(), "u1")
		if err != nil || !ok {
			t.Fatalf("expected balance after signup reward, got %v, %v", ok, err)
		}
	}
	rewards := l.ofType(wallet.TxSignupReward)
	if len(rewards) != 1 {
		t.Fatalf("expected exactly one signup reward, got %d", len(rewards))
	}
	if rewards[0].ID != wallet.SignupRewardID("u1") || rewards[0].Amount != 2*wallet.Unit {
		t.Fatalf("unexpected reward %+v", rewards[0])
	}
}

func TestComputeLLMUsageRefreshesOnFailure(t *testing.T) {
	l := newFakeLedger()
	usage := &failingUsage{}
	g, tasks := newTestGate(l, 0, usage)
	defer tasks.Close()
	g.balance["u1"] = true

	err := g.ComputeLLMUsage(context.Background(), wallet.Usage{GenerationID: "g1", UserID: "u1"})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected billing error returned, got %v", err)
	}
	if has, cached := g.Cached("u1"); !cached || has {
		t.Fatalf("expected cache refreshed to no balance, got has=%v cached=%v", has, cached)
	}
}

func TestLedgerUsageIsIdempotent(t *testing.T) {
	l := newFakeLedger()
	p := NewLedgerUsage(l, func(string) wallet.Price {
		return wallet.Price{InputPerMTok: 3 * wallet.Unit, OutputPerMTok: 15 * wallet.Unit}
	})
	u := wallet.Usage{GenerationID: "g1", UserID: "u1", Model: "m", PromptTokens: 1000, CompletionTokens: 100}

	for range 2 {
		if err := p.PostUsage(context.Background(), u); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	debits := l.ofType(wallet.TxLLMUsage)
	if len(debits) != 1 {
		t.Fatalf("expected one debit, got %d", len(debits))
	}
	// 1000 * 3 + 100 * 15 micro-units
	if debits[0].Amount != -4500 {
		t.Fatalf("expected -4500, got %d", debits[0].Amount)
	}
}

func TestQueuedUsageSettledBySubscriber(t *testing.T) {
	l := newFakeLedger()
	q := newFakeQueue()
	direct := NewLedgerUsage(l, func(string) wallet.Price { return wallet.Price{InputPerMTok: wallet.Unit} })

	cancel, err := NewBillingSubscriber(q, direct).Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cancel()

	queued := NewQueuedUsage(q)
	u := wallet.Usage{GenerationID: "g1", UserID: "u1", Workspace: "acme/main", Model: "m", PromptTokens: 2_000_000}
	for range 2 {
		if err := queued.PostUsage(context.Background(), u); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	debits := l.ofType(wallet.TxLLMUsage)
	if len(debits) != 1 || debits[0].Amount != -2*wallet.Unit {
		t.Fatalf("expected a single 2 unit debit, got %+v", debits)
	}
	if debits[0].Metadata["workspace"] != "acme/main" {
		t.Fatalf("expected workspace carried through the queue, got %v", debits[0].Metadata)
	}
}

func TestComputeLLMUsageSettlesBeforeRefresh(t *testing.T) {
	l := newFakeLedger()
	l.credit("u1", wallet.Unit)
	q := newFakeQueue() // no subscriber: anything queued stays undelivered
	price := func(string) wallet.Price { return wallet.Price{InputPerMTok: wallet.Unit} }
	g, tasks := newTestGate(l, 0, NewFallbackUsage(NewLedgerUsage(l, price), NewQueuedUsage(q)))
	defer tasks.Close()
	g.balance["u1"] = true

	u := wallet.Usage{GenerationID: "g1", UserID: "u1", Model: "m", PromptTokens: 5_000_000}
	if err := g.ComputeLLMUsage(context.Background(), u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if has, cached := g.Cached("u1"); !cached || has {
		t.Fatalf("expected overdrawn balance cached, got has=%v cached=%v", has, cached)
	}
	if ok, _ := g.CanProceed(context.Background(), "u1"); ok {
		t.Fatal("expected the next generation denied")
	}
	if n := q.count(messagequeue.SubjectWalletUsage); n != 0 {
		t.Fatalf("expected nothing queued, got %d", n)
	}
}

func TestFallbackUsageQueuesWhenLedgerFails(t *testing.T) {
	l := newFakeLedger()
	q := newFakeQueue()
	direct := NewLedgerUsage(l, func(string) wallet.Price { return wallet.Price{InputPerMTok: wallet.Unit} })
	p := NewFallbackUsage(direct, NewQueuedUsage(q))
	u := wallet.Usage{GenerationID: "g1", UserID: "u1", Model: "m", PromptTokens: 1_000_000}

	l.postErr = errBoom
	if err := p.PostUsage(context.Background(), u); err != nil {
		t.Fatalf("expected usage deferred to the queue, got %v", err)
	}
	if n := q.count(messagequeue.SubjectWalletUsage); n != 1 {
		t.Fatalf("expected one queued usage, got %d", n)
	}

	l.postErr = nil
	sub := NewBillingSubscriber(q, direct)
	for range 2 {
		if err := sub.handle(context.Background(), messagequeue.SubjectWalletUsage, q.published[messagequeue.SubjectWalletUsage][0]); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := p.PostUsage(context.Background(), u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if debits := l.ofType(wallet.TxLLMUsage); len(debits) != 1 {
		t.Fatalf("expected a single debit, got %d", len(debits))
	}
}

func TestFallbackUsageJoinsErrors(t *testing.T) {
	q := newFakeQueue()
	q.publishErr = errors.New("queue down")
	p := NewFallbackUsage(&failingUsage{}, NewQueuedUsage(q))

	err := p.PostUsage(context.Background(), wallet.Usage{GenerationID: "g1", UserID: "u1"})
	if !errors.Is(err, errBoom) || !errors.Is(err, q.publishErr) {
		t.Fatalf("expected both failures reported, got %v", err)
	}
}
