package mcp

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Strob0t/AgentForge/internal/domain"
)

// AuthMiddleware protects the /mcp endpoint that serves the built-in tools
// (agents, integrations, triggers, threads) to outside MCP clients. The key
// is server.mcp_api_key, sent as "Authorization: Bearer <key>" or as the
// bare header value. An empty key leaves the endpoint open, which is only
// sane behind a private network.
func AuthMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="agentforge-tools"`)
			denyTools(w, r, http.StatusUnauthorized, "missing authorization header")
			return
		}
		key := strings.TrimPrefix(auth, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(key), want) != 1 {
			denyTools(w, r, http.StatusForbidden, "invalid tool server key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// denyTools answers in the API's error shape so MCP clients and REST
// callers parse the same body.
func denyTools(w http.ResponseWriter, r *http.Request, status int, msg string) {
	slog.WarnContext(r.Context(), "tool server request rejected", "status", status, "remote", r.RemoteAddr)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&domain.HTTPError{Status: status, Message: msg})
}
