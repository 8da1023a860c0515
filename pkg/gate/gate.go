package gate

import (
	"context"

	"github.com/zen-systems/cascadegate/pkg/adapter"
)

// Severity levels for violations.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Gate defines the interface for quality gates.
type Gate interface {
	// Evaluate judges a candidate against quality criteria.
	Evaluate(ctx context.Context, candidate *adapter.Candidate) (*GateResult, error)

	// Name returns the gate identifier.
	Name() string
}

// GateResult contains the outcome of a gate evaluation.
type GateResult struct {
	Passed      bool        `json:"passed"`
	Score       float64     `json:"score"`
	Threshold   float64     `json:"threshold,omitempty"`
	Violations  []Violation `json:"violations,omitempty"`
	RepairHints []string    `json:"repair_hints,omitempty"`
	// Hard marks failures that must not be retried against the drafter.
	Hard bool `json:"hard,omitempty"`
}

// Violation describes a specific quality issue.
type Violation struct {
	Rule       string `json:"rule"`
	Severity   string `json:"severity"` // "error", "warning", "info"
	Message    string `json:"message"`
	Location   string `json:"location,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// NewPassingResult creates a result indicating the gate passed.
func NewPassingResult(score float64) *GateResult {
	return &GateResult{
		Passed: true,
		Score:  score,
	}
}

// NewFailingResult creates a result indicating the gate failed.
func NewFailingResult(score float64, violations []Violation, hints []string) *GateResult {
	return &GateResult{
		Passed:      false,
		Score:       score,
		Violations:  violations,
		RepairHints: hints,
	}
}

// Errors returns the violations with error severity.
func (r *GateResult) Errors() []Violation {
	return r.filter(SeverityError)
}

// Warnings returns the violations with warning severity.
func (r *GateResult) Warnings() []Violation {
	return r.filter(SeverityWarning)
}

// Messages returns every violation message in order.
func (r *GateResult) Messages() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, v.Message)
	}
	return out
}

func (r *GateResult) filter(severity string) []Violation {
	if r == nil {
		return nil
	}
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == severity {
			out = append(out, v)
		}
	}
	return out
}
