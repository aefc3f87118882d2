// Package thread defines conversation threads and their messages.
package thread

import (
	"time"
)

// Role of a message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a thread's history.
type Message struct {
	ID        string         `json:"id,omitempty"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Reasoning string         `json:"reasoning,omitempty"`
	CreatedAt time.Time      `json:"createdAt,omitzero"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Ref identifies a thread. ResourceID names the principal the thread belongs
// to; runs without a principal use the thread id itself.
type Ref struct {
	ThreadID   string `json:"threadId"`
	ResourceID string `json:"resourceId"`
}

// Thread is the persisted thread header.
type Thread struct {
	ID         string              `json:"id"`
	ResourceID string              `json:"resourceId"`
	Workspace  string              `json:"workspace"`
	AgentID    string              `json:"agentId"`
	Title      string              `json:"title,omitempty"`
	ToolsSet   map[string][]string `json:"tools_set,omitempty"` // per-thread override of the agent's tools_set
	CreatedAt  time.Time           `json:"createdAt"`
	UpdatedAt  time.Time           `json:"updatedAt"`
}

// Resolve computes the thread identity for a request.
// resourceID = override, else principal, else the thread id;
// threadID = override, else newID().
func Resolve(threadOverride, resourceOverride, principal string, newID func() string) Ref {
	tid := threadOverride
	if tid == "" {
		tid = newID()
	}
	rid := resourceOverride
	if rid == "" {
		rid = principal
	}
	if rid == "" {
		rid = tid
	}
	return Ref{ThreadID: tid, ResourceID: rid}
}

// MergeByID returns ui with any missing CreatedAt repaired from raw,
// matching entries by message id. Messages only present in raw are not added.
func MergeByID(raw, ui []Message) []Message {
	created := make(map[string]time.Time, len(raw))
	for _, m := range raw {
		if m.ID != "" && !m.CreatedAt.IsZero() {
			created[m.ID] = m.CreatedAt
		}
	}
	out := make([]Message, len(ui))
	for i, m := range ui {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = created[m.ID]
		}
		out[i] = m
	}
	return out
}
