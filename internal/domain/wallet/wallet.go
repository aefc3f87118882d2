// Package wallet defines credit balances, ledger transactions and LLM usage.
package wallet

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MicroUnits is a monetary amount in millionths of the account currency.
type MicroUnits int64

// Unit is one whole currency unit.
const Unit MicroUnits = 1_000_000

// String formats the amount as a decimal with six fractional digits.
func (m MicroUnits) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign, v = "-", -v
	}
	return fmt.Sprintf("%s%d.%06d", sign, v/int64(Unit), v%int64(Unit))
}

// ParseMicroUnits parses a decimal string such as "1.5" or "-0.000001".
func ParseMicroUnits(s string) (MicroUnits, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 6 {
		return 0, fmt.Errorf("amount %q has more than 6 decimal places", s)
	}
	frac += strings.Repeat("0", 6-len(frac))
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	v := MicroUnits(w)*Unit + MicroUnits(f)
	if neg {
		v = -v
	}
	return v, nil
}

// TransactionType classifies ledger entries.
type TransactionType string

const (
	TxSignupReward TransactionType = "signup_reward"
	TxLLMUsage     TransactionType = "llm_usage"
	TxCredit       TransactionType = "credit"
)

// Transaction is one immutable ledger entry. Amount is positive for
// credits and negative for debits. ID makes posting idempotent.
type Transaction struct {
	ID        string          `json:"id"`
	Type      TransactionType `json:"type"`
	UserID    string          `json:"userId"`
	Amount    MicroUnits      `json:"amount"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

var rewardNamespace = uuid.MustParse("5b0f8a7e-3c61-4c1e-9d8f-6f1a2b7c4e10")

// SignupRewardID is the deterministic transaction id of a user's one-time
// signup credit; reposting it is a no-op.
func SignupRewardID(userID string) string {
	return uuid.NewSHA1(rewardNamespace, []byte("signup-reward:"+userID)).String()
}

// Price is the cost of one million tokens.
type Price struct {
	InputPerMTok  MicroUnits `json:"inputPerMTok"`
	OutputPerMTok MicroUnits `json:"outputPerMTok"`
}

// Usage describes the tokens one generation consumed.
type Usage struct {
	GenerationID     string `json:"generationId"`
	UserID           string `json:"userId"`
	Workspace        string `json:"workspace"`
	AgentID          string `json:"agentId"`
	AgentName        string `json:"agentName,omitempty"`
	ThreadID         string `json:"threadId,omitempty"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"promptTokens"`
	CompletionTokens int    `json:"completionTokens"`
}

// Cost prices u, rounding each component up to the next micro-unit.
func (u Usage) Cost(p Price) MicroUnits {
	return ceilDiv(int64(u.PromptTokens)*int64(p.InputPerMTok), 1_000_000) +
		ceilDiv(int64(u.CompletionTokens)*int64(p.OutputPerMTok), 1_000_000)
}

// Transaction builds the debit entry for u.
func (u Usage) Transaction(p Price, now time.Time) Transaction {
	return Transaction{
		ID:     u.GenerationID,
		Type:   TxLLMUsage,
		UserID: u.UserID,
		Amount: -u.Cost(p),
		Metadata: map[string]any{
			"workspace":        u.Workspace,
			"agentId":          u.AgentID,
			"agentName":        u.AgentName,
			"threadId":         u.ThreadID,
			"model":            u.Model,
			"promptTokens":     u.PromptTokens,
			"completionTokens": u.CompletionTokens,
		},
		CreatedAt: now,
	}
}

func ceilDiv(a, b int64) MicroUnits {
	if a <= 0 {
		return 0
	}
	return MicroUnits((a + b - 1) / b)
}
