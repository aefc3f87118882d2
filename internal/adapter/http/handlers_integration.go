package http

import (
	"net/http"
	"time"

	"github.com/Strob0t/AgentForge/internal/domain/integration"
	"github.com/Strob0t/AgentForge/internal/middleware"
)

// CreateIntegration handles POST /api/v1/integrations.
func (h *Handlers) CreateIntegration(w http.ResponseWriter, r *http.Request) {
	in, ok := readJSON[integration.Integration](w, r)
	if !ok {
		return
	}
	if in.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := in.Validate(); err != nil {
		writeDomainError(w, r, err)
		return
	}
	now := time.Now().UTC()
	in.Workspace = middleware.WorkspaceFromContext(r.Context())
	in.CreatedAt, in.UpdatedAt = now, now
	if err := h.Integrations.CreateIntegration(r.Context(), &in); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, redacted(in))
}

// ListIntegrations handles GET /api/v1/integrations.
func (h *Handlers) ListIntegrations(w http.ResponseWriter, r *http.Request) {
	list, err := h.Integrations.ListIntegrations(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := make([]integration.Integration, len(list))
	for i := range list {
		out[i] = redacted(list[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// GetIntegration handles GET /api/v1/integrations/{id}.
func (h *Handlers) GetIntegration(w http.ResponseWriter, r *http.Request) {
	in, err := h.Integrations.GetIntegration(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redacted(*in))
}

// DeleteIntegration handles DELETE /api/v1/integrations/{id}. Cached
// descriptors of the connection are dropped with it.
func (h *Handlers) DeleteIntegration(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	in, err := h.Integrations.GetIntegration(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := h.Integrations.DeleteIntegration(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if h.Descriptors != nil {
		h.Descriptors.Invalidate(r.Context(), in.Connection)
	}
	w.WriteHeader(http.StatusNoContent)
}

// redacted hides connection secrets from API responses.
func redacted(in integration.Integration) integration.Integration {
	if in.Connection.Token != "" {
		in.Connection.Token = "***"
	}
	if len(in.Connection.Headers) > 0 {
		h := make(map[string]string, len(in.Connection.Headers))
		for k := range in.Connection.Headers {
			h[k] = "***"
		}
		in.Connection.Headers = h
	}
	return in
}
