package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	afhttp "github.com/Strob0t/AgentForge/internal/adapter/http"
	"github.com/Strob0t/AgentForge/internal/adapter/litellm"
	afmcp "github.com/Strob0t/AgentForge/internal/adapter/mcp"
	afnats "github.com/Strob0t/AgentForge/internal/adapter/nats"
	"github.com/Strob0t/AgentForge/internal/adapter/natskv"
	afotel "github.com/Strob0t/AgentForge/internal/adapter/otel"
	"github.com/Strob0t/AgentForge/internal/adapter/postgres"
	"github.com/Strob0t/AgentForge/internal/adapter/ristretto"
	"github.com/Strob0t/AgentForge/internal/adapter/tiered"
	"github.com/Strob0t/AgentForge/internal/adapter/ws"
	"github.com/Strob0t/AgentForge/internal/config"
	"github.com/Strob0t/AgentForge/internal/domain/wallet"
	"github.com/Strob0t/AgentForge/internal/logger"
	"github.com/Strob0t/AgentForge/internal/middleware"
	"github.com/Strob0t/AgentForge/internal/resilience"
	"github.com/Strob0t/AgentForge/internal/service"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe()
	case "migrate":
		err = runMigrate(args)
	case "version":
		fmt.Println(version)
	case "help", "--help", "-h":
		printHelp()
	default:
		printHelp()
		err = fmt.Errorf("unknown command: %s", cmd)
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: agentforge [command]

Commands:
  serve                 Run the HTTP runtime (default)
  migrate up|down|version
                        Manage the database schema
  version               Print the build version
`)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"llm_url", cfg.LLM.URL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	shutdownOTEL, err := afotel.Init(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := afotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	store := postgres.NewStore(pool)
	ledger := postgres.NewLedger(pool)
	slog.Info("postgres connected")

	// NATS: queue plus KV buckets for actor state, the L2 tool cache and
	// idempotency records.
	queue, err := afnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	stateKV, err := queue.KeyValue(ctx, cfg.NATS.StateBucket, 0)
	if err != nil {
		return err
	}
	toolsKV, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return err
	}
	idemKV, err := queue.KeyValue(ctx, cfg.Idempotency.Bucket, cfg.Idempotency.TTL)
	if err != nil {
		return err
	}

	// Tool descriptor cache: ristretto in front of NATS KV.
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()
	descriptors := tiered.New(l1, natskv.New(toolsKV), cfg.Cache.StaleAfter)

	// --- Tools ---

	dialer := afmcp.NewDialer(afmcp.DialerConfig{
		ClientVersion: version,
		DecoURL:       cfg.Tools.DecoURL,
		DecoToken:     cfg.Tools.DecoToken,
	})
	toolCache := service.NewToolCache(descriptors, dialer, cfg.Cache.StaleAfter, cfg.Tools.ListTimeout)

	// --- Models ---

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	models := litellm.NewProvider(cfg.LLM, breaker)
	llmAdmin := litellm.NewClient(cfg.LLM.URL, cfg.LLM.APIKey)
	llmAdmin.SetBreaker(breaker)

	// --- Wallet ---

	price := func(model string) wallet.Price {
		p := cfg.Wallet.PriceFor(model)
		return wallet.Price{InputPerMTok: wallet.MicroUnits(p.InputPerMTok), OutputPerMTok: wallet.MicroUnits(p.OutputPerMTok)}
	}
	tasks := service.NewTaskQueue(cfg.Billing.QueueSize, cfg.Billing.Workers, 30*time.Second)
	defer tasks.Close()

	cancelBilling, err := service.NewBillingSubscriber(queue, service.NewLedgerUsage(ledger, price)).Start(ctx)
	if err != nil {
		return fmt.Errorf("billing subscriber: %w", err)
	}
	defer cancelBilling()

	// --- Services ---

	agents := service.NewAgentHost(&service.AgentDeps{
		Agents:       store,
		Integrations: store,
		Memory:       store,
		Descriptors:  toolCache,
		Dialer:       dialer,
		Models:       models,
		Ledger:       ledger,
		Usage:        service.NewFallbackUsage(service.NewLedgerUsage(ledger, price), service.NewQueuedUsage(queue)),
		Tasks:        tasks,
		Metrics:      metrics,
		CallTimeout:  cfg.Tools.CallTimeout,
		Limits:       cfg.Agent,
		Wallet:       cfg.Wallet,
	})
	triggers := service.NewTriggerHost(service.TriggerDeps{
		State:     natskv.NewState(stateKV),
		Runs:      store,
		Agents:    agents,
		Events:    queue,
		Metrics:   metrics,
		PublicURL: cfg.Trigger.PublicURL,
	})
	defer triggers.Close()
	restored, err := triggers.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore alarms: %w", err)
	}
	slog.Info("trigger alarms restored", "count", restored)

	mcpServer := afmcp.NewServer(afmcp.ServerConfig{Name: afmcp.InnateName, Version: version}, afmcp.ServerDeps{
		Agents:       agents,
		Runs:         triggers,
		Integrations: store,
	})
	dialer.RegisterInnate(afmcp.InnateName, mcpServer.MCPServer())

	hub := ws.NewHub()
	defer hub.Close()
	cancelRelay, err := hub.Relay(ctx, queue)
	if err != nil {
		return fmt.Errorf("run event relay: %w", err)
	}
	defer cancelRelay()

	// --- HTTP ---

	handlers := &afhttp.Handlers{
		Agents:       agents,
		Triggers:     triggers,
		Integrations: store,
		Descriptors:  toolCache,
		Ledger:       ledger,
		Rewards:      service.NewRewards(ledger, wallet.MicroUnits(cfg.Wallet.SignupRewardMicro)),
		LiteLLM:      llmAdmin,
		Store:        store,
		Version:      version,
	}

	r := chi.NewRouter()
	r.Use(afotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(afhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(afhttp.Logger)
	r.Use(afhttp.SecurityHeaders)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	routes := afhttp.RouteOptions{
		Idempotency: natskv.NewState(idemKV),
		MCP:         afmcp.AuthMiddleware(cfg.Server.MCPAPIKey, mcpServer.Handler()),
		Events:      hub.HandleWS,
	}
	if cfg.Trigger.WebhookRate > 0 {
		routes.WebhookLimiter = middleware.NewRateLimiter(cfg.Trigger.WebhookRate, cfg.Trigger.WebhookBurst,
			middleware.QueryKey("deno_isolate_instance_id"))
		stopCleanup := routes.WebhookLimiter.StartCleanup(time.Minute, 10*time.Minute)
		defer stopCleanup()
	}
	afhttp.MountRoutes(r, handlers, routes)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: generation streams stay open for minutes.
		IdleTimeout: 120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return queue.Drain()
}
