package messagequeue

import "encoding/json"

// WalletUsagePayload is the schema for wallet.usage messages.
type WalletUsagePayload struct {
	GenerationID     string `json:"generation_id"`
	UserID           string `json:"user_id"`
	Workspace        string `json:"workspace"`
	AgentID          string `json:"agent_id"`
	AgentName        string `json:"agent_name,omitempty"`
	ThreadID         string `json:"thread_id,omitempty"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// TriggerRunPayload is the schema for triggers.run messages.
type TriggerRunPayload struct {
	RunID     string          `json:"run_id"`
	TriggerID string          `json:"trigger_id"`
	Workspace string          `json:"workspace"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
}
