package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/AgentForge/internal/middleware"
	"github.com/Strob0t/AgentForge/internal/port/statestore"
)

// RouteOptions carries the optional pieces mounted next to the API.
type RouteOptions struct {
	// Idempotency backs the Idempotency-Key replay on trigger creation.
	// Nil disables it.
	Idempotency statestore.Store
	// MCP serves the innate tool server over streamable HTTP at /mcp.
	MCP http.Handler
	// Events serves the run event websocket at /ws.
	Events http.HandlerFunc
	// WebhookLimiter throttles the public webhook entry. Nil disables it.
	WebhookLimiter *middleware.RateLimiter
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	r.Get("/health", h.Health)
	r.Get("/health/ready", h.Ready)

	// Public webhook entry. Lifecycle operations are not reachable here.
	r.Route("/actors/Trigger/invoke/run", func(r chi.Router) {
		if opts.WebhookLimiter != nil {
			r.Use(opts.WebhookLimiter.Handler)
		}
		r.Use(middleware.Workspace, middleware.External)
		r.Get("/", h.InvokeTriggerRun)
		r.Post("/", h.InvokeTriggerRun)
	})

	if opts.MCP != nil {
		r.With(middleware.Workspace).Handle("/mcp", opts.MCP)
	}
	if opts.Events != nil {
		r.With(middleware.Workspace).Get("/ws", opts.Events)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Workspace)

		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})
		r.Get("/models", h.ListModels)

		// Integrations
		r.Get("/integrations", h.ListIntegrations)
		r.Post("/integrations", h.CreateIntegration)
		r.Get("/integrations/{id}", h.GetIntegration)
		r.Delete("/integrations/{id}", h.DeleteIntegration)

		// Agents
		r.Route("/agents/{id}", func(r chi.Router) {
			r.Get("/configuration", h.GetAgentConfiguration)
			r.Put("/configuration", h.ConfigureAgent)
			r.Post("/generate", h.Generate)
			r.Post("/generate-object", h.GenerateObject)
			r.Post("/stream", h.Stream)
			r.Post("/tools/call", h.CallTool)
			r.Get("/threads/{threadId}/messages", h.ThreadMessages)
			r.Get("/threads/{threadId}/tools", h.GetThreadTools)
			r.Put("/threads/{threadId}/tools", h.UpdateThreadTools)
		})

		// Wallet
		r.Get("/wallet/balance", h.WalletBalance)

		// Triggers
		r.Route("/triggers/{id}", func(r chi.Router) {
			if opts.Idempotency != nil {
				r.With(middleware.Idempotency(opts.Idempotency)).Post("/", h.CreateTrigger)
			} else {
				r.Post("/", h.CreateTrigger)
			}
			r.Get("/", h.GetTrigger)
			r.Delete("/", h.DeleteTrigger)
			r.Post("/run", h.RunTrigger)
			r.Get("/runs", h.ListTriggerRuns)
		})
	})
}
