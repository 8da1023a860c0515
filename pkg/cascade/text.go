package cascade

import (
	"context"
	"fmt"
	"strings"

	"github.com/zen-systems/cascadegate/pkg/adapter"
	"github.com/zen-systems/cascadegate/pkg/alignment"
	"github.com/zen-systems/cascadegate/pkg/gate"
	"github.com/zen-systems/cascadegate/pkg/router"
	"github.com/zen-systems/cascadegate/pkg/schema"
)

func (r *runner) runText(ctx context.Context) error {
	c := r.c
	cls := r.out.Classification
	th := c.threshold(cls)
	r.out.Threshold = th

	direct := c.directComplexity(cls)
	reason := ""
	if direct {
		reason = fmt.Sprintf("%s queries go straight to the verifier", cls.Complexity)
	}

	r.out.Turns = 1
	step, err := r.cascadeStep(ctx, 1, r.q.Messages(), nil, r.alignmentJudge(th), direct, reason)
	if err != nil {
		return err
	}
	r.accept(step)
	r.out.Alignment = step.verdict.analysis
	return nil
}

// alignmentJudge scores text answers against the query.
func (r *runner) alignmentJudge(threshold float64) judgeFunc {
	g := alignment.NewGate(r.c.scorer, r.prompt(), threshold, 0, trivialHint(r.q))
	judge := gateJudge(g, threshold)
	return func(ctx context.Context, cand *adapter.Candidate) *verdict {
		v := judge(ctx, cand)
		v.analysis = g.Analysis()
		return v
	}
}

// gateJudge adapts a gate to a judge. Only a passing result is acceptable.
func gateJudge(g gate.Gate, threshold float64) judgeFunc {
	return func(ctx context.Context, cand *adapter.Candidate) *verdict {
		res, err := g.Evaluate(ctx, cand)
		if err != nil {
			res = gate.NewFailingResult(0, []gate.Violation{{
				Rule:     g.Name(),
				Severity: gate.SeverityError,
				Message:  err.Error(),
			}}, nil)
		}
		return &verdict{
			passed:     res.Passed,
			acceptable: res.Passed,
			layer:      g.Name(),
			score:      res.Score,
			threshold:  threshold,
			result:     res,
		}
	}
}

// trivialHint reports whether the caller marked the query trivial. Arithmetic
// is recognized by the scorer itself; the classifier's tier is not enough.
func trivialHint(q *schema.Query) bool {
	tier, ok := router.ParseComplexity(q.ComplexityHint)
	return ok && tier == router.ComplexityTrivial
}

// prompt is the text the answer is judged against: the query prompt, or the
// last user message when only history was given.
func (r *runner) prompt() string {
	if strings.TrimSpace(r.q.Prompt) != "" {
		return r.q.Prompt
	}
	for i := len(r.q.History) - 1; i >= 0; i-- {
		if r.q.History[i].Role == schema.MessageRoleUser {
			return r.q.History[i].Content
		}
	}
	return ""
}
