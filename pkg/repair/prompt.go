package repair

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zen-systems/cascadegate/pkg/adapter"
	"github.com/zen-systems/cascadegate/pkg/gate"
)

// GenerateRepairPrompt creates the feedback sent with the next draft attempt.
// Every violation message is included verbatim so the drafter sees what was wrong.
func GenerateRepairPrompt(original *adapter.Candidate, result *gate.GateResult) string {
	var sb strings.Builder

	sb.WriteString("Your previous answer failed quality checks.\n\n")
	if original != nil {
		if content := strings.TrimSpace(original.Content); content != "" {
			sb.WriteString("---\n")
			sb.WriteString(content)
			sb.WriteString("\n---\n\n")
		}
		if len(original.ToolCalls) > 0 {
			sb.WriteString("Proposed tool calls:\n")
			for _, call := range original.ToolCalls {
				sb.WriteString(fmt.Sprintf("- %s %s\n", call.Name, formatArgs(call.Arguments)))
			}
			sb.WriteString("\n")
		}
	}

	if result != nil {
		sb.WriteString("Issues found:\n")
		for _, v := range result.Violations {
			sb.WriteString(fmt.Sprintf("- [%s] %s: %s\n", v.Severity, v.Rule, v.Message))
			if v.Suggestion != "" {
				sb.WriteString(fmt.Sprintf("  Suggestion: %s\n", v.Suggestion))
			}
		}

		if len(result.RepairHints) > 0 {
			sb.WriteString("\nRepair hints:\n")
			for _, hint := range result.RepairHints {
				sb.WriteString(fmt.Sprintf("- %s\n", hint))
			}
		}
	}

	sb.WriteString("\nPlease fix all issues and provide the corrected output.")

	return sb.String()
}

// GenerateEscalationPrompt creates the note handed to the verifier when the drafter gave up.
// The verifier sees the failures but not the rejected output.
func GenerateEscalationPrompt(result *gate.GateResult, attempts int, reason string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("A faster model attempted this request %d time(s) and was rejected", attempts))
	if reason != "" {
		sb.WriteString(" (" + reason + ")")
	}
	sb.WriteString(".\n")

	if result != nil && len(result.Violations) > 0 {
		sb.WriteString("Issues found in its last attempt:\n")
		for _, v := range result.Violations {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", v.Rule, v.Message))
		}
	}

	sb.WriteString("\nAnswer the request directly and avoid these issues.\n")

	return sb.String()
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
