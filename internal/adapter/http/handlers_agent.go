package http

import (
	"encoding/json"
	"net/http"

	"github.com/Strob0t/AgentForge/internal/domain/agent"
	"github.com/Strob0t/AgentForge/internal/domain/thread"
	"github.com/Strob0t/AgentForge/internal/service"
)

// generateRequest is the body of the generate, stream and generate-object
// routes. Option fields sit next to the messages.
type generateRequest struct {
	Messages []thread.Message `json:"messages"`
	Schema   json.RawMessage  `json:"schema,omitempty"`
	service.GenerateOptions
}

type callToolRequest struct {
	ID    string         `json:"id"`
	Input map[string]any `json:"input"`
}

type threadToolsRequest struct {
	ResourceID string        `json:"resourceId,omitempty"`
	ToolsSet   agent.ToolSet `json:"tools_set"`
}

func (h *Handlers) loadAgent(w http.ResponseWriter, r *http.Request) (*service.Agent, bool) {
	a, err := h.Agents.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return nil, false
	}
	return a, true
}

// GetAgentConfiguration handles GET /api/v1/agents/{id}/configuration.
func (h *Handlers) GetAgentConfiguration(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.Configuration())
}

// ConfigureAgent handles PUT /api/v1/agents/{id}/configuration. The cached
// instance is evicted so the next call starts from the stored config.
func (h *Handlers) ConfigureAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	patch, ok := readJSON[agent.Patch](w, r)
	if !ok {
		return
	}
	cfg, err := a.Configure(r.Context(), patch)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.Agents.Evict(r.Context(), urlParam(r, "id"))
	writeJSON(w, http.StatusOK, cfg)
}

// Generate handles POST /api/v1/agents/{id}/generate.
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[generateRequest](w, r)
	if !ok {
		return
	}
	res, err := a.Generate(r.Context(), req.Messages, req.GenerateOptions)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GenerateObject handles POST /api/v1/agents/{id}/generate-object.
func (h *Handlers) GenerateObject(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[generateRequest](w, r)
	if !ok {
		return
	}
	if len(req.Schema) == 0 {
		writeError(w, http.StatusBadRequest, "schema is required")
		return
	}
	res, err := a.GenerateObject(r.Context(), req.Messages, req.Schema, req.GenerateOptions)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Stream handles POST /api/v1/agents/{id}/stream as server-sent events.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[generateRequest](w, r)
	if !ok {
		return
	}
	stream, err := a.Stream(r.Context(), req.Messages, req.GenerateOptions)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSSE(w, r, stream)
}

// ThreadMessages handles GET /api/v1/agents/{id}/threads/{threadId}/messages.
func (h *Handlers) ThreadMessages(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	n, _ := queryInt(r, "last")
	writeJSON(w, http.StatusOK, a.Query(r.Context(), urlParam(r, "threadId"), n))
}

// GetThreadTools handles GET /api/v1/agents/{id}/threads/{threadId}/tools.
func (h *Handlers) GetThreadTools(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	tools, err := a.ThreadTools(r.Context(), urlParam(r, "threadId"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tools)
}

// UpdateThreadTools handles PUT /api/v1/agents/{id}/threads/{threadId}/tools.
func (h *Handlers) UpdateThreadTools(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[threadToolsRequest](w, r)
	if !ok {
		return
	}
	if err := a.UpdateThreadTools(r.Context(), urlParam(r, "threadId"), req.ResourceID, req.ToolsSet); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req.ToolsSet)
}

// CallTool handles POST /api/v1/agents/{id}/tools/call. Tool failures are
// reported in the body with status 200.
func (h *Handlers) CallTool(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[callToolRequest](w, r)
	if !ok {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	writeJSON(w, http.StatusOK, a.CallTool(r.Context(), req.ID, req.Input))
}
