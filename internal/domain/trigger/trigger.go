// Package trigger defines trigger data, the two trigger variants and the
// run records appended for every run attempt.
package trigger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/AgentForge/internal/domain"
	"github.com/Strob0t/AgentForge/internal/domain/thread"
)

// Type discriminates the trigger variants.
type Type string

const (
	TypeCron    Type = "cron"
	TypeWebhook Type = "webhook"
)

// Author records who created a trigger.
type Author struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Prompt is the fixed input a cron trigger sends to its agent.
type Prompt struct {
	Messages   []thread.Message `json:"messages"`
	ThreadID   string           `json:"threadId,omitempty"`
	ResourceID string           `json:"resourceId,omitempty"`
}

// ToolBinding names a tool that receives the webhook payload in place of
// the agent.
type ToolBinding struct {
	IntegrationID string `json:"integrationId"`
	ToolName      string `json:"toolName"`
}

// Data is the state one trigger actor holds. Type selects which of the
// variant fields apply: CronExp and Prompt for cron; Passphrase, Schema and
// CallTool for webhook.
type Data struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	AgentID     string    `json:"agentId"`
	ResourceID  string    `json:"resourceId,omitempty"`
	Author      *Author   `json:"author,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	CronExp string  `json:"cronExp,omitempty"`
	Prompt  *Prompt `json:"prompt,omitempty"`

	Passphrase string          `json:"passphrase,omitempty"`
	Schema     json.RawMessage `json:"schema,omitempty"`
	CallTool   *ToolBinding    `json:"callTool,omitempty"`
	URL        string          `json:"url,omitempty"`
}

// Validate checks the shared fields and the variant selected by Type.
func (d *Data) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if d.AgentID == "" && (d.Type != TypeWebhook || d.CallTool == nil) {
		return fmt.Errorf("%w: agentId is required", domain.ErrValidation)
	}

	switch d.Type {
	case TypeCron:
		if _, err := ParseCron(d.CronExp); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}
		if d.Prompt == nil || len(d.Prompt.Messages) == 0 {
			return fmt.Errorf("%w: cron trigger needs prompt.messages", domain.ErrValidation)
		}
	case TypeWebhook:
		if d.CronExp != "" || d.Prompt != nil {
			return fmt.Errorf("%w: webhook trigger must not carry cron fields", domain.ErrValidation)
		}
		if len(d.Schema) > 0 && !json.Valid(d.Schema) {
			return fmt.Errorf("%w: schema is not valid JSON", domain.ErrValidation)
		}
		if d.CallTool != nil && (d.CallTool.IntegrationID == "" || d.CallTool.ToolName == "") {
			return fmt.Errorf("%w: callTool needs integrationId and toolName", domain.ErrValidation)
		}
	case "":
		return fmt.Errorf("%w: type is required", domain.ErrValidation)
	default:
		return fmt.Errorf("%w: unknown trigger type %q", domain.ErrValidation, d.Type)
	}
	return nil
}

// RunStatus is the outcome of one run attempt.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run is one row of a trigger's append-only run log.
type Run struct {
	ID        string          `json:"id"`
	TriggerID string          `json:"triggerId"`
	Workspace string          `json:"workspace,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Result    json.RawMessage `json:"result,omitempty"`
	Status    RunStatus       `json:"status"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// Path is the actor instance path for a trigger in a workspace.
func Path(workspace, triggerID string) string {
	return strings.TrimSuffix(workspace, "/") + "/triggers/" + triggerID
}

// ParsePath splits an actor instance path produced by Path.
func ParsePath(p string) (workspace, triggerID string, ok bool) {
	i := strings.LastIndex(p, "/triggers/")
	if i <= 0 {
		return "", "", false
	}
	workspace, triggerID = p[:i], p[i+len("/triggers/"):]
	if triggerID == "" || strings.Contains(triggerID, "/") {
		return "", "", false
	}
	return workspace, triggerID, true
}
