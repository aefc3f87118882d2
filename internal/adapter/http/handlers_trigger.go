package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/Strob0t/AgentForge/internal/domain/trigger"
	"github.com/Strob0t/AgentForge/internal/service"
)

// runQueryKeys are the query parameters the webhook entry consumes itself.
// Everything else on a GET request becomes the payload.
var runQueryKeys = map[string]bool{
	"deno_isolate_instance_id": true,
	"passphrase":               true,
	"outputTool":               true,
	"stream":                   true,
	"threadId":                 true,
	"resourceId":               true,
	"bypassOpenRouter":         true,
	"lastMessages":             true,
	"sendReasoning":            true,
	"schema":                   true,
}

// CreateTrigger handles POST /api/v1/triggers/{id}.
func (h *Handlers) CreateTrigger(w http.ResponseWriter, r *http.Request) {
	t, err := h.Triggers.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	d, ok := readJSON[trigger.Data](w, r)
	if !ok {
		return
	}
	created, err := t.Create(r.Context(), d)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetTrigger handles GET /api/v1/triggers/{id}.
func (h *Handlers) GetTrigger(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	t, err := h.Triggers.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	d := t.Data()
	if d == nil {
		writeError(w, http.StatusNotFound, "trigger not found: "+id)
		return
	}
	resp := map[string]any{"trigger": d}
	if next, ok := t.NextAlarm(); ok {
		resp["nextAlarm"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteTrigger handles DELETE /api/v1/triggers/{id}.
func (h *Handlers) DeleteTrigger(w http.ResponseWriter, r *http.Request) {
	t, err := h.Triggers.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := t.Delete(r.Context()); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunTrigger handles POST /api/v1/triggers/{id}/run. The body is a RunArgs.
func (h *Handlers) RunTrigger(w http.ResponseWriter, r *http.Request) {
	t, err := h.Triggers.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var args service.RunArgs
	if r.ContentLength != 0 {
		var ok bool
		if args, ok = readJSON[service.RunArgs](w, r); !ok {
			return
		}
	}
	h.run(w, r, t, args)
}

// ListTriggerRuns handles GET /api/v1/triggers/{id}/runs.
func (h *Handlers) ListTriggerRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok || limit <= 0 {
		limit = 50
	}
	runs, err := h.Triggers.ListRuns(r.Context(), urlParam(r, "id"), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// InvokeTriggerRun is the public webhook entry. The target trigger is
// addressed by its actor path in deno_isolate_instance_id; run options come
// from the query string and the body is the payload. It must be mounted
// behind middleware.External.
func (h *Handlers) InvokeTriggerRun(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("deno_isolate_instance_id")
	if path == "" {
		writeError(w, http.StatusBadRequest, "deno_isolate_instance_id is required")
		return
	}
	t, err := h.Triggers.GetPath(r.Context(), path)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	args, err := runArgsFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.run(w, r, t, args)
}

func (h *Handlers) run(w http.ResponseWriter, r *http.Request, t *service.Trigger, args service.RunArgs) {
	out, err := t.Run(r.Context(), args)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if out.Stream != nil {
		writeSSE(w, r, out.Stream)
		return
	}
	writeJSON(w, out.Status, out.Body)
}

func runArgsFromRequest(r *http.Request) (service.RunArgs, error) {
	q := r.URL.Query()
	args := service.RunArgs{
		Passphrase:       q.Get("passphrase"),
		OutputTool:       q.Get("outputTool"),
		Stream:           queryBool(r, "stream"),
		ThreadID:         q.Get("threadId"),
		ResourceID:       q.Get("resourceId"),
		BypassOpenRouter: queryBool(r, "bypassOpenRouter"),
		SendReasoning:    queryBool(r, "sendReasoning"),
	}
	if n, ok := queryInt(r, "lastMessages"); ok {
		args.LastMessages = &n
	}
	if s := q.Get("schema"); s != "" {
		if !json.Valid([]byte(s)) {
			return args, errInvalid("schema must be JSON")
		}
		args.Schema = json.RawMessage(s)
	}

	if r.Method == http.MethodGet {
		payload := map[string]string{}
		for k := range q {
			if !runQueryKeys[k] {
				payload[k] = q.Get(k)
			}
		}
		if len(payload) > 0 {
			b, _ := json.Marshal(payload)
			args.Payload = b
		}
		return args, nil
	}

	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxRequestBodySize))
	if err != nil {
		return args, errInvalid("request body too large")
	}
	if len(body) == 0 {
		return args, nil
	}
	if json.Valid(body) {
		args.Payload = body
	} else {
		// non JSON bodies are passed on as a string
		b, _ := json.Marshal(string(body))
		args.Payload = b
	}
	return args, nil
}

type errInvalid string

func (e errInvalid) Error() string { return string(e) }
