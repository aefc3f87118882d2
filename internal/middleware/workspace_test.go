package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/AgentForge/internal/middleware"
)

func TestWorkspaceFromHeader(t *testing.T) {
	var ws, principal string
	h := middleware.Workspace(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ws = middleware.WorkspaceFromContext(r.Context())
		principal = middleware.PrincipalFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-Workspace", "/users/u1/")
	req.Header.Set("X-User-ID", "u1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if ws != "users/u1" {
		t.Fatalf("expected users/u1, got %s", ws)
	}
	if principal != "u1" {
		t.Fatalf("expected principal u1, got %q", principal)
	}
}

func TestWorkspaceDefaultFallback(t *testing.T) {
	var ws string
	h := middleware.Workspace(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ws = middleware.WorkspaceFromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if ws != middleware.DefaultWorkspace {
		t.Fatalf("expected default workspace, got %s", ws)
	}
}

func TestExternalDropsPrincipal(t *testing.T) {
	var external bool
	var principal string
	h := middleware.Workspace(middleware.External(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		external = middleware.IsExternal(r.Context())
		principal = middleware.PrincipalFromContext(r.Context())
	})))

	req := httptest.NewRequest(http.MethodPost, "/actors/Trigger/invoke/run", http.NoBody)
	req.Header.Set("X-User-ID", "spoofed")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !external {
		t.Fatal("expected external context")
	}
	if principal != "" {
		t.Fatalf("external routes must not carry a principal, got %q", principal)
	}
}
