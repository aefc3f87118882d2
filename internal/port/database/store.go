// Package database defines the persistence ports. The workspace every
// operation is scoped to travels on the context (see middleware.WithWorkspace).
package database

import (
	"context"

	"github.com/Strob0t/AgentForge/internal/domain/agent"
	"github.com/Strob0t/AgentForge/internal/domain/integration"
	"github.com/Strob0t/AgentForge/internal/domain/thread"
	"github.com/Strob0t/AgentForge/internal/domain/trigger"
)

// AgentStore persists agent configurations.
type AgentStore interface {
	// GetAgent returns domain.AgentNotFound when no configuration is stored.
	GetAgent(ctx context.Context, id string) (*agent.Config, error)
	UpsertAgent(ctx context.Context, cfg *agent.Config) error
}

// IntegrationStore persists tool provider descriptors.
type IntegrationStore interface {
	// GetIntegration returns domain.IntegrationNotFound for unknown ids.
	GetIntegration(ctx context.Context, id string) (*integration.Integration, error)
	ListIntegrations(ctx context.Context) ([]integration.Integration, error)
	CreateIntegration(ctx context.Context, in *integration.Integration) error
	DeleteIntegration(ctx context.Context, id string) error
}

// MemoryStore is the thread memory backend.
type MemoryStore interface {
	GetThread(ctx context.Context, threadID string) (*thread.Thread, error)
	// EnsureThread creates the thread header if it does not exist yet.
	EnsureThread(ctx context.Context, th *thread.Thread) error
	SetThreadTools(ctx context.Context, threadID string, tools agent.ToolSet) error
	// Messages returns the last n messages of a thread twice: as stored and
	// in the UI projection. n <= 0 returns all messages.
	Messages(ctx context.Context, threadID string, n int) (raw, ui []thread.Message, err error)
	AppendMessages(ctx context.Context, threadID string, msgs []thread.Message) error
}

// TriggerRunStore is the append-only run log of triggers.
type TriggerRunStore interface {
	AppendTriggerRun(ctx context.Context, run *trigger.Run) error
	ListTriggerRuns(ctx context.Context, triggerID string, limit int) ([]trigger.Run, error)
}

// Store bundles every persistence port.
type Store interface {
	AgentStore
	IntegrationStore
	MemoryStore
	TriggerRunStore
}
