package toolcall

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/zen-systems/cascadegate/pkg/schema"
)

// ExtractToolCalls parses tool-call shaped JSON embedded in free text.
// Recognized shapes: {"name", "arguments"}, {"function": {...}}, {"tool", "args"},
// {"tool_calls": [...]} and arrays of these. Calls without an id get a generated one.
func ExtractToolCalls(text string) []schema.ToolCall {
	var calls []schema.ToolCall
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			continue
		}
		found := callsFrom(v)
		if len(found) == 0 {
			continue
		}
		calls = append(calls, found...)
		i += int(dec.InputOffset()) - 1
	}
	return calls
}

func callsFrom(v any) []schema.ToolCall {
	switch val := v.(type) {
	case []any:
		var out []schema.ToolCall
		for _, item := range val {
			out = append(out, callsFrom(item)...)
		}
		return out
	case map[string]any:
		if nested, ok := val["tool_calls"].([]any); ok {
			return callsFrom(nested)
		}
		if call, ok := callFrom(val); ok {
			return []schema.ToolCall{call}
		}
	}
	return nil
}

func callFrom(m map[string]any) (schema.ToolCall, bool) {
	id, _ := m["id"].(string)

	if fn, ok := m["function"].(map[string]any); ok {
		name, _ := fn["name"].(string)
		if name == "" {
			return schema.ToolCall{}, false
		}
		return newCall(id, name, argumentsFrom(fn["arguments"], fn["parameters"])), true
	}

	name, _ := m["name"].(string)
	if name == "" {
		name, _ = m["tool"].(string)
	}
	if name == "" {
		name, _ = m["function"].(string)
	}
	if name == "" {
		return schema.ToolCall{}, false
	}
	args := argumentsFrom(m["arguments"], m["args"], m["parameters"], m["input"])
	if args == nil {
		// A bare {"name": ...} object is not enough to call it a tool call.
		if _, hasArgs := firstPresent(m, "arguments", "args", "parameters", "input"); !hasArgs {
			return schema.ToolCall{}, false
		}
		args = map[string]any{}
	}
	return newCall(id, name, args), true
}

func argumentsFrom(candidates ...any) map[string]any {
	for _, c := range candidates {
		switch v := c.(type) {
		case map[string]any:
			return normalizeNumbers(v)
		case string:
			raw := strings.TrimSpace(v)
			if raw == "" {
				return map[string]any{}
			}
			var parsed map[string]any
			dec := json.NewDecoder(strings.NewReader(raw))
			dec.UseNumber()
			if err := dec.Decode(&parsed); err != nil {
				return map[string]any{"_raw": raw}
			}
			return normalizeNumbers(parsed)
		}
	}
	return nil
}

func firstPresent(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// normalizeNumbers converts json.Number values to int64 or float64.
func normalizeNumbers(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		return normalizeNumbers(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	}
	return v
}

func newCall(id, name string, args map[string]any) schema.ToolCall {
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	return schema.ToolCall{ID: id, Name: name, Arguments: args}
}
