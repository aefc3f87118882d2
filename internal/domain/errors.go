// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates malformed input.
var ErrValidation = errors.New("validation failed")

// ErrForbidden indicates the caller is not allowed to perform the operation
// from its current context (e.g. lifecycle calls arriving over the public
// webhook route).
var ErrForbidden = errors.New("forbidden")

// ErrInsufficientFunds is returned before any model call when the wallet gate
// denies a generation.
var ErrInsufficientFunds = errors.New("insufficient funds")

// NotFoundError names the kind of entity a lookup failed for. It unwraps to
// ErrNotFound so callers can branch with errors.Is.
type NotFoundError struct {
	Kind string // "integration", "agent", "trigger", "tool"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// IntegrationNotFound builds the lookup error for an integration id.
func IntegrationNotFound(id string) error { return &NotFoundError{Kind: "integration", ID: id} }

// AgentNotFound builds the lookup error for an agent id.
func AgentNotFound(id string) error { return &NotFoundError{Kind: "agent", ID: id} }

// TriggerNotFound builds the lookup error for a trigger id.
func TriggerNotFound(id string) error { return &NotFoundError{Kind: "trigger", ID: id} }

// ToolNotFound builds the lookup error for a tool name.
func ToolNotFound(name string) error { return &NotFoundError{Kind: "tool", ID: name} }

// IsNotFoundKind reports whether err is a NotFoundError of the given kind.
func IsNotFoundKind(err error, kind string) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) && nf.Kind == kind
}

// HTTPError is an HTTP-shaped error value. Boundaries that must never throw
// (webhook handling, output tool resolution) return it as data.
type HTTPError struct {
	Status  int            `json:"status"`
	Message string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}
