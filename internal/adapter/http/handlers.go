package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Strob0t/AgentForge/internal/adapter/litellm"
	"github.com/Strob0t/AgentForge/internal/domain/integration"
	"github.com/Strob0t/AgentForge/internal/port/database"
	"github.com/Strob0t/AgentForge/internal/port/ledger"
	"github.com/Strob0t/AgentForge/internal/service"
)

// DescriptorInvalidator drops cached tool descriptors of a connection.
type DescriptorInvalidator interface {
	Invalidate(ctx context.Context, conn integration.Connection)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Agents       *service.AgentHost
	Triggers     *service.TriggerHost
	Integrations database.IntegrationStore
	Descriptors  DescriptorInvalidator // optional
	Ledger       ledger.Ledger
	Rewards      *service.Rewards // optional; grants the signup reward on first balance read
	LiteLLM      *litellm.Client  // optional; reported by /health/ready
	Store        Pinger           // optional; reported by /health/ready
	Version      string
}

// Health is the liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.Version})
}

// Ready reports the reachability of the database and the model proxy.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	status := http.StatusOK
	if h.Store != nil {
		checks["database"] = "ok"
		if err := h.Store.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if h.LiteLLM != nil {
		checks["llm"] = "ok"
		if ok, err := h.LiteLLM.Health(ctx); !ok {
			checks["llm"] = "unreachable"
			if err != nil {
				checks["llm"] = err.Error()
			}
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, map[string]any{"checks": checks})
}

// ListModels proxies the model list configured in LiteLLM.
func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	if h.LiteLLM == nil {
		writeJSON(w, http.StatusOK, []litellm.ModelInfo{})
		return
	}
	models, err := h.LiteLLM.ListModels(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "model proxy unavailable")
		return
	}
	writeJSON(w, http.StatusOK, models)
}
