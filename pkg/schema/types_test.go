package schema

import "testing"

func weatherTool() ToolSchema {
	return ToolSchema{
		Name: "get_weather",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{"type": "string"},
			},
			"required": []any{"location"},
		},
	}
}

func TestQueryValidate(t *testing.T) {
	tests := []struct {
		name    string
		query   *Query
		wantErr bool
	}{
		{name: "nil query", query: nil, wantErr: true},
		{name: "empty prompt", query: &Query{}, wantErr: true},
		{name: "plain prompt", query: &Query{Prompt: "hi"}},
		{name: "valid tool", query: &Query{Prompt: "weather?", Tools: []ToolSchema{weatherTool()}}},
		{name: "unnamed tool", query: &Query{Prompt: "x", Tools: []ToolSchema{{}}}, wantErr: true},
		{name: "duplicate tool", query: &Query{Prompt: "x", Tools: []ToolSchema{weatherTool(), weatherTool()}}, wantErr: true},
		{
			name: "required but undeclared",
			query: &Query{Prompt: "x", Tools: []ToolSchema{{
				Name:       "t",
				Parameters: map[string]any{"type": "object", "required": []string{"a"}},
			}}},
			wantErr: true,
		},
		{
			name: "non-object schema",
			query: &Query{Prompt: "x", Tools: []ToolSchema{{
				Name:       "t",
				Parameters: map[string]any{"type": "string"},
			}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestToolSchemaRequired(t *testing.T) {
	tool := weatherTool()
	req := tool.Required()
	if len(req) != 1 || req[0] != "location" {
		t.Fatalf("unexpected required: %v", req)
	}
	if _, ok := tool.Properties()["location"]; !ok {
		t.Fatalf("expected location property")
	}
}

func TestQueryMessagesAppendsPrompt(t *testing.T) {
	q := &Query{
		Prompt:  "and now?",
		History: []Message{{Role: MessageRoleUser, Content: "first"}, {Role: MessageRoleAssistant, Content: "ok"}},
	}
	msgs := q.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[2].Content != "and now?" || msgs[2].Role != MessageRoleUser {
		t.Fatalf("unexpected last message: %+v", msgs[2])
	}
}
