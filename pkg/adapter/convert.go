package adapter

import (
	"encoding/json"
	"strings"

	"github.com/zen-systems/cascadegate/pkg/schema"
)

func toolCall(id, name string, args map[string]any) schema.ToolCall {
	copied := make(map[string]any, len(args))
	for k, v := range args {
		copied[k] = v
	}
	return schema.ToolCall{ID: id, Name: name, Arguments: copied}
}

// decodeArguments parses a provider's JSON argument string. Malformed JSON is
// kept under "_raw" so structural validation can report it.
func decodeArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"_raw": raw}
	}
	return args
}

func encodeArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// estimateTokens approximates prompt size when a provider omits usage.
func estimateTokens(msgs []schema.Message) int {
	total := 0
	for _, m := range msgs {
		words := len(strings.Fields(m.Content))
		total += (words + len(m.Content)/4) / 2
	}
	return total
}

func systemAndTurns(msgs []schema.Message) (string, []schema.Message) {
	var system []string
	turns := make([]schema.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == schema.MessageRoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	return strings.Join(system, "\n\n"), turns
}

func toolParameters(t schema.ToolSchema) map[string]any {
	if t.Parameters == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return t.Parameters
}
