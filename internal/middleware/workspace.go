package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Strob0t/AgentForge/internal/logger"
)

// DefaultWorkspace is used when a request names no workspace.
const DefaultWorkspace = "shared/default"

const (
	headerWorkspace = "X-Workspace"
	headerUserID    = "X-User-ID"
)

type ctxKey int

const (
	workspaceKey ctxKey = iota
	principalKey
	externalKey
)

// WithWorkspace scopes ctx to a workspace. Stores and actors read it back
// with WorkspaceFromContext.
func WithWorkspace(ctx context.Context, ws string) context.Context {
	return logger.WithWorkspace(context.WithValue(ctx, workspaceKey, ws), ws)
}

// WorkspaceFromContext returns the workspace stored in ctx, or
// DefaultWorkspace if absent.
func WorkspaceFromContext(ctx context.Context) string {
	if ws, ok := ctx.Value(workspaceKey).(string); ok && ws != "" {
		return ws
	}
	return DefaultWorkspace
}

// WithPrincipal records the id of the human the request acts for.
func WithPrincipal(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, principalKey, userID)
}

// PrincipalFromContext returns the acting user id, or "" for anonymous and
// internal calls.
func PrincipalFromContext(ctx context.Context) string {
	id, _ := ctx.Value(principalKey).(string)
	return id
}

// WithExternal marks ctx as arriving over a public, unauthenticated entry
// point. Lifecycle operations refuse such contexts.
func WithExternal(ctx context.Context) context.Context {
	return context.WithValue(ctx, externalKey, true)
}

// IsExternal reports whether ctx was marked by WithExternal.
func IsExternal(ctx context.Context) bool {
	v, _ := ctx.Value(externalKey).(bool)
	return v
}

// Workspace is middleware that reads X-Workspace and X-User-ID into the
// request context. Authentication happens upstream; the gateway is trusted
// to set both headers.
func Workspace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ws := strings.Trim(r.Header.Get(headerWorkspace), "/")
		if ws == "" {
			ws = DefaultWorkspace
		}
		ctx = WithWorkspace(ctx, ws)
		if uid := r.Header.Get(headerUserID); uid != "" {
			ctx = WithPrincipal(ctx, uid)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// External is middleware for public routes: it marks the context external
// and drops any principal a caller may have supplied.
func External(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithExternal(context.WithValue(r.Context(), principalKey, ""))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
