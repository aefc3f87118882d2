// Package tool defines tool descriptors and the result shape every tool
// transport funnels into.
package tool

import (
	"encoding/json"
	"strings"
)

// Descriptor describes one callable operation of an integration.
type Descriptor struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
}

// Content is one block of unstructured tool output.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// CallResult is the transport independent outcome of a tool call.
type CallResult struct {
	StructuredContent any       `json:"structuredContent,omitempty"`
	Content           []Content `json:"content,omitempty"`
	IsError           bool      `json:"isError,omitempty"`
}

// Value returns the structured content when present, otherwise the
// concatenated text content.
func (r *CallResult) Value() any {
	if r.StructuredContent != nil {
		return r.StructuredContent
	}
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// Text concatenates the text blocks of the result.
func (r *CallResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Slugify normalizes a tool name into the key used for lookup. Every rune
// outside [A-Za-z0-9_-] becomes an underscore.
func Slugify(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(name))
}

// ParseRef splits an output tool reference "<integrationId>/<toolName>".
// Exactly two non-empty segments are required.
func ParseRef(ref string) (integrationID, toolName string, ok bool) {
	parts := strings.Split(ref, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ParseCallID splits a direct call id "<integrationId>.<toolName>" on the
// last dot.
func ParseCallID(id string) (integrationID, toolName string, ok bool) {
	i := strings.LastIndex(id, ".")
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}

// EmptyObjectSchema is used for tools that declare no input schema.
var EmptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// SchemaOrEmpty returns s, or an empty object schema when s is unset.
func SchemaOrEmpty(s json.RawMessage) json.RawMessage {
	if len(s) == 0 || string(s) == "null" {
		return EmptyObjectSchema
	}
	return s
}
