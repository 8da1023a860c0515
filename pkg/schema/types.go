package schema

import (
	"fmt"
	"strings"
)

// Role tags a model reference within a cascade.
type Role string

const (
	RoleDraft    Role = "draft"
	RoleVerifier Role = "verifier"
)

// Message roles used in conversation history.
const (
	MessageRoleSystem    = "system"
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
	MessageRoleTool      = "tool"
)

// Message is a single conversation turn.
type Message struct {
	Role       string     `json:"role" yaml:"role"`
	Content    string     `json:"content" yaml:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty" yaml:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty" yaml:"name,omitempty"`
}

// ToolSchema declares a callable tool. Parameters is a JSON-schema object.
type ToolSchema struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string         `json:"category,omitempty" yaml:"category,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Properties returns the declared properties of the parameter schema.
func (t ToolSchema) Properties() map[string]map[string]any {
	props := make(map[string]map[string]any)
	raw, ok := t.Parameters["properties"].(map[string]any)
	if !ok {
		return props
	}
	for name, def := range raw {
		if m, ok := def.(map[string]any); ok {
			props[name] = m
		} else {
			props[name] = map[string]any{}
		}
	}
	return props
}

// Required returns the required parameter names.
func (t ToolSchema) Required() []string {
	switch req := t.Parameters["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ToolCall is a proposed invocation of a declared tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the output of executing a ToolCall.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Query is an immutable request submitted to the cascade.
type Query struct {
	ID             string       `json:"id,omitempty"`
	Prompt         string       `json:"prompt"`
	History        []Message    `json:"history,omitempty"`
	Tools          []ToolSchema `json:"tools,omitempty"`
	DomainHint     string       `json:"domain_hint,omitempty"`
	ComplexityHint string       `json:"complexity_hint,omitempty"`
}

// HasTools reports whether the query declares any tools.
func (q *Query) HasTools() bool {
	return q != nil && len(q.Tools) > 0
}

// Tool looks up a declared tool by name.
func (q *Query) Tool(name string) (ToolSchema, bool) {
	if q == nil {
		return ToolSchema{}, false
	}
	return FindTool(q.Tools, name)
}

// FindTool looks up a tool by name in a declared set.
func FindTool(tools []ToolSchema, name string) (ToolSchema, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolSchema{}, false
}

// Messages builds the conversation sent to a model: history followed by the prompt.
func (q *Query) Messages() []Message {
	msgs := make([]Message, 0, len(q.History)+1)
	msgs = append(msgs, q.History...)
	if strings.TrimSpace(q.Prompt) != "" {
		msgs = append(msgs, Message{Role: MessageRoleUser, Content: q.Prompt})
	}
	return msgs
}

// Validate checks the query for setup errors that must be reported before generation.
func (q *Query) Validate() error {
	if q == nil {
		return fmt.Errorf("query is required")
	}
	if strings.TrimSpace(q.Prompt) == "" && len(q.History) == 0 {
		return fmt.Errorf("query prompt is empty")
	}
	seen := make(map[string]struct{}, len(q.Tools))
	for i, t := range q.Tools {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("tool %d has no name", i)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("tool %q declared more than once", t.Name)
		}
		seen[t.Name] = struct{}{}
		if t.Parameters == nil {
			continue
		}
		if typ, ok := t.Parameters["type"]; ok && typ != "object" {
			return fmt.Errorf("tool %q parameters must be an object schema", t.Name)
		}
		if props, ok := t.Parameters["properties"]; ok {
			if _, isMap := props.(map[string]any); !isMap {
				return fmt.Errorf("tool %q properties must be a map", t.Name)
			}
		}
		for _, req := range t.Required() {
			if _, ok := t.Properties()[req]; !ok {
				return fmt.Errorf("tool %q requires undeclared parameter %q", t.Name, req)
			}
		}
	}
	return nil
}
