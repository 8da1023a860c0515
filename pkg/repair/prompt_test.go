package repair

import (
	"strings"
	"testing"

	"github.com/zen-systems/cascadegate/pkg/adapter"
	"github.com/zen-systems/cascadegate/pkg/gate"
	"github.com/zen-systems/cascadegate/pkg/schema"
)

func TestGenerateRepairPromptIncludesViolations(t *testing.T) {
	cand := &adapter.Candidate{
		ToolCalls: []schema.ToolCall{{ID: "call_1", Name: "get_weather", Arguments: map[string]any{"location": "TODO"}}},
	}
	result := gate.NewFailingResult(0.5, []gate.Violation{
		{Rule: "semantic", Severity: gate.SeverityWarning, Message: "location appears to be a placeholder", Suggestion: "use a real city"},
	}, []string{"ask for the location if unknown"})

	prompt := GenerateRepairPrompt(cand, result)
	for _, want := range []string{
		"location appears to be a placeholder",
		"Suggestion: use a real city",
		"get_weather {location=TODO}",
		"ask for the location if unknown",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestGenerateEscalationPromptListsIssues(t *testing.T) {
	result := gate.NewFailingResult(0, []gate.Violation{
		{Rule: "safety", Message: "path matches destructive pattern"},
	}, nil)

	prompt := GenerateEscalationPrompt(result, 1, "safety violation")
	if !strings.Contains(prompt, "1 time(s)") {
		t.Fatalf("missing attempt count")
	}
	if !strings.Contains(prompt, "safety: path matches destructive pattern") {
		t.Fatalf("missing violation")
	}
	if !strings.Contains(prompt, "(safety violation)") {
		t.Fatalf("missing reason")
	}
}
