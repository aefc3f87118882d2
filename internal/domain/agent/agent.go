// Package agent defines the agent configuration entity.
package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/AgentForge/internal/domain"
)

// ToolSet maps an integration id to the tool names allowed from it.
// An empty list means every tool of that integration.
type ToolSet map[string][]string

// Clone returns a deep copy.
func (s ToolSet) Clone() ToolSet {
	if s == nil {
		return nil
	}
	out := make(ToolSet, len(s))
	for k, v := range s {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Memory holds thread memory options.
type Memory struct {
	LastMessages int `json:"lastMessages"`
}

// View is an extra UI view attached to an agent.
type View struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Config is the persisted configuration of one agent.
type Config struct {
	ID           string    `json:"id"`
	Workspace    string    `json:"workspace,omitempty"`
	Name         string    `json:"name"`
	Avatar       string    `json:"avatar,omitempty"`
	Description  string    `json:"description,omitempty"`
	Instructions string    `json:"instructions"`
	Model        string    `json:"model"`
	ToolsSet     ToolSet   `json:"tools_set"`
	MaxSteps     int       `json:"max_steps"`
	MaxTokens    int       `json:"max_tokens"`
	Memory       Memory    `json:"memory"`
	Views        []View    `json:"views"`
	CreatedAt    time.Time `json:"createdAt,omitzero"`
	UpdatedAt    time.Time `json:"updatedAt,omitzero"`
}

// Defaults describes the configuration an agent falls back to when none is
// stored.
type Defaults struct {
	Name         string
	Instructions string
	Model        string
	MaxSteps     int
	MaxTokens    int
	LastMessages int
}

// New returns the default configuration for id.
func New(id string, d Defaults) Config {
	name := d.Name
	if name == "" {
		name = "Anonymous"
	}
	return Config{
		ID:           id,
		Name:         name,
		Instructions: d.Instructions,
		Model:        d.Model,
		ToolsSet:     ToolSet{},
		MaxSteps:     d.MaxSteps,
		MaxTokens:    d.MaxTokens,
		Memory:       Memory{LastMessages: d.LastMessages},
		Views:        []View{},
	}
}

// Patch is a partial configuration update; nil fields are left unchanged.
type Patch struct {
	Name         *string `json:"name,omitempty"`
	Avatar       *string `json:"avatar,omitempty"`
	Description  *string `json:"description,omitempty"`
	Instructions *string `json:"instructions,omitempty"`
	Model        *string `json:"model,omitempty"`
	ToolsSet     ToolSet `json:"tools_set,omitempty"`
	MaxSteps     *int    `json:"max_steps,omitempty"`
	MaxTokens    *int    `json:"max_tokens,omitempty"`
	Memory       *Memory `json:"memory,omitempty"`
	Views        *[]View `json:"views,omitempty"`
}

// Apply merges p over c and returns the result.
func (c Config) Apply(p Patch) Config {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Avatar != nil {
		c.Avatar = *p.Avatar
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Instructions != nil {
		c.Instructions = *p.Instructions
	}
	if p.Model != nil {
		c.Model = *p.Model
	}
	if p.ToolsSet != nil {
		c.ToolsSet = p.ToolsSet.Clone()
	}
	if p.MaxSteps != nil {
		c.MaxSteps = *p.MaxSteps
	}
	if p.MaxTokens != nil {
		c.MaxTokens = *p.MaxTokens
	}
	if p.Memory != nil {
		c.Memory = *p.Memory
	}
	if p.Views != nil {
		c.Views = append([]View(nil), (*p.Views)...)
	}
	return c
}

// Validate checks a configuration before it is stored.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: agent id is required", domain.ErrValidation)
	}
	if c.MaxSteps < 0 || c.MaxTokens < 0 {
		return fmt.Errorf("%w: max_steps and max_tokens must not be negative", domain.ErrValidation)
	}
	if c.Memory.LastMessages < 0 {
		return fmt.Errorf("%w: memory.lastMessages must not be negative", domain.ErrValidation)
	}
	for id := range c.ToolsSet {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: tools_set has an empty integration id", domain.ErrValidation)
		}
	}
	return nil
}

// Clamp returns min(v, hardCap), using def when v is not positive.
func Clamp(v, def, hardCap int) int {
	if v <= 0 {
		v = def
	}
	if v > hardCap {
		return hardCap
	}
	return v
}
