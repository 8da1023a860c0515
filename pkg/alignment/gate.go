package alignment

import (
	"context"
	"fmt"

	"github.com/zen-systems/cascadegate/pkg/adapter"
	"github.com/zen-systems/cascadegate/pkg/gate"
)

var _ gate.Gate = (*Gate)(nil)

// Gate judges text candidates for one query against an acceptance threshold.
type Gate struct {
	scorer    *Scorer
	query     string
	threshold float64
	baseline  float64
	trivial   bool

	last *Analysis
}

// NewGate creates an alignment gate bound to a query.
func NewGate(scorer *Scorer, query string, threshold, baseline float64, trivial bool) *Gate {
	if scorer == nil {
		scorer = NewScorer()
	}
	return &Gate{scorer: scorer, query: query, threshold: threshold, baseline: baseline, trivial: trivial}
}

// Name returns the gate identifier.
func (g *Gate) Name() string {
	return "alignment"
}

// Analysis returns the analysis from the most recent evaluation.
func (g *Gate) Analysis() *Analysis {
	return g.last
}

// Evaluate scores the candidate content.
func (g *Gate) Evaluate(_ context.Context, candidate *adapter.Candidate) (*gate.GateResult, error) {
	if candidate == nil {
		return nil, fmt.Errorf("alignment gate: nil candidate")
	}
	analysis := g.scorer.Score(g.query, candidate.Content, g.baseline, g.trivial)
	g.last = analysis

	if analysis.Score >= g.threshold {
		result := gate.NewPassingResult(analysis.Score)
		result.Threshold = g.threshold
		return result, nil
	}

	var violations []gate.Violation
	switch {
	case analysis.Features["response_words"] == 0 && !analysis.Trivial:
		violations = append(violations, gate.Violation{
			Rule:     "alignment.empty",
			Severity: gate.SeverityError,
			Message:  "response is empty",
		})
	case analysis.Features["refusal"] == 1:
		violations = append(violations, gate.Violation{
			Rule:       "alignment.refusal",
			Severity:   gate.SeverityError,
			Message:    "response refuses or deflects the question",
			Suggestion: "answer the question directly",
		})
	}
	if cov, ok := analysis.Features["coverage"]; ok && cov < 0.5 {
		violations = append(violations, gate.Violation{
			Rule:       "alignment.coverage",
			Severity:   gate.SeverityError,
			Message:    fmt.Sprintf("response covers only %.0f%% of the question's key terms", cov*100),
			Suggestion: "address every part of the question",
		})
	}
	violations = append(violations, gate.Violation{
		Rule:     "alignment.threshold",
		Severity: gate.SeverityError,
		Message:  fmt.Sprintf("alignment score %.2f is below threshold %.2f", analysis.Score, g.threshold),
		Location: analysis.Rationale,
	})

	result := gate.NewFailingResult(analysis.Score, violations, nil)
	result.Threshold = g.threshold
	return result, nil
}
