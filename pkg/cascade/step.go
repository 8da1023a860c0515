package cascade

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zen-systems/cascadegate/pkg/adapter"
	"github.com/zen-systems/cascadegate/pkg/alignment"
	"github.com/zen-systems/cascadegate/pkg/gate"
	"github.com/zen-systems/cascadegate/pkg/metrics"
	"github.com/zen-systems/cascadegate/pkg/repair"
	"github.com/zen-systems/cascadegate/pkg/schema"
	"github.com/zen-systems/cascadegate/pkg/toolcall"
)

// runner holds the mutable state of one Run.
type runner struct {
	c      *Cascade
	q      *schema.Query
	out    *Outcome
	obs    observer
	logger zerolog.Logger

	feedback []string
}

// verdict is the judgement of one candidate.
type verdict struct {
	passed bool
	// acceptable drafts may be kept once retries are exhausted.
	acceptable bool
	hard       bool
	layer      string
	score      float64
	threshold  float64
	result     *gate.GateResult
	analysis   *alignment.Analysis
	validation *toolcall.ValidationResult
	calls      []schema.ToolCall
}

func (v *verdict) reasons() []string {
	if v == nil || v.result == nil {
		return nil
	}
	return v.result.Messages()
}

type judgeFunc func(ctx context.Context, cand *adapter.Candidate) *verdict

// stepResult is the candidate accepted by one pass of the state machine.
type stepResult struct {
	cand    *adapter.Candidate
	verdict *verdict
	role    schema.Role
}

// cascadeStep runs DRAFTING -> JUDGING -> (ACCEPTED | RETRYING | ESCALATING).
// With direct set the drafter is skipped. Generation failures and timeouts
// count as failed attempts. Verifier output is accepted unconditionally.
func (r *runner) cascadeStep(ctx context.Context, turn int, msgs []schema.Message, tools []schema.ToolSchema, judge judgeFunc, direct bool, directReason string) (*stepResult, error) {
	c := r.c
	maxRetries := c.cfg.Retry.Retries()

	var (
		last     *verdict
		feedback string
		reason   = directReason
		drafts   int
	)

	if !direct {
		for attempt := 0; attempt <= maxRetries; attempt++ {
			drafts++
			r.logger.Debug().Str("state", "drafting").Int("turn", turn).Int("attempt", attempt+1).Str("model", c.draft.label()).Msg("cascade transition")
			if err := r.obs.draftStart(turn, attempt+1, schema.RoleDraft, c.draft.ref.Model); err != nil {
				return nil, err
			}

			req := &adapter.Request{Role: schema.RoleDraft, Model: c.draft.ref.Model, Messages: msgs, Tools: tools, Feedback: feedback}
			cand, retries, err := r.generate(ctx, turn, c.draft, req)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				r.record(turn, c.draft, nil, retries, false, err, nil)
				last = &verdict{layer: "generation", result: generationFailure(err)}
				r.feedback = append(r.feedback, last.reasons()...)
				reason = "draft generation failed"
				r.logger.Debug().Err(err).Int("attempt", attempt+1).Msg("draft generation failed")
				if err := r.decide(turn, attempt+1, last, actionFor(attempt, maxRetries)); err != nil {
					return nil, err
				}
				continue
			}

			v := judge(ctx, cand)
			last = v
			r.record(turn, c.draft, cand, retries, v.passed, nil, v)
			if !v.passed {
				r.feedback = append(r.feedback, v.reasons()...)
			}

			switch {
			case v.passed:
				if err := r.decide(turn, attempt+1, v, ActionAccept); err != nil {
					return nil, err
				}
				r.logger.Debug().Str("state", "accepted").Int("attempt", attempt+1).Float64("score", v.score).Msg("cascade transition")
				return &stepResult{cand: cand, verdict: v, role: schema.RoleDraft}, nil
			case v.hard:
				reason = fmt.Sprintf("hard %s failure", v.layer)
				if err := r.decide(turn, attempt+1, v, ActionEscalate); err != nil {
					return nil, err
				}
			case attempt == maxRetries && v.acceptable:
				// Only warnings remain and the retry budget is spent.
				if err := r.decide(turn, attempt+1, v, ActionAccept); err != nil {
					return nil, err
				}
				return &stepResult{cand: cand, verdict: v, role: schema.RoleDraft}, nil
			default:
				reason = fmt.Sprintf("%s check failed", v.layer)
				if err := r.decide(turn, attempt+1, v, actionFor(attempt, maxRetries)); err != nil {
					return nil, err
				}
				if attempt < maxRetries {
					feedback = repair.GenerateRepairPrompt(cand, v.result)
					r.logger.Debug().Str("state", "retrying").Int("attempt", attempt+1).Strs("reasons", v.reasons()).Msg("cascade transition")
					continue
				}
			}
			break
		}
		if reason == "" {
			reason = "retries exhausted"
		} else if drafts > maxRetries && !last.hard {
			reason += "; retries exhausted"
		}
	}

	// ESCALATING
	r.out.Escalated = true
	if r.out.EscalationReason == "" {
		r.out.EscalationReason = reason
	}
	r.logger.Info().Str("state", "escalating").Int("turn", turn).Int("drafts", drafts).Str("reason", reason).Str("model", c.verifier.label()).Msg("cascade transition")
	from := ""
	if drafts > 0 {
		from = c.draft.ref.Model
	}
	if err := r.obs.switchModel(turn, Switch{From: from, To: c.verifier.ref.Model, Reason: reason}); err != nil {
		return nil, err
	}

	note := ""
	if drafts > 0 {
		var lastResult *gate.GateResult
		if last != nil {
			lastResult = last.result
		}
		note = repair.GenerateEscalationPrompt(lastResult, drafts, reason)
	}
	req := &adapter.Request{Role: schema.RoleVerifier, Model: c.verifier.ref.Model, Messages: msgs, Tools: tools, Feedback: note}
	cand, retries, err := r.generate(ctx, turn, c.verifier, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.record(turn, c.verifier, nil, retries, false, err, nil)
		layer := ""
		if last != nil {
			layer = last.layer
		}
		r.logger.Error().Err(err).Str("model", c.verifier.label()).Msg("verifier generation failed")
		return nil, &FailureError{
			Stage:    StageVerifier,
			Layer:    layer,
			Attempts: r.out.Attempts,
			Feedback: append([]string(nil), r.feedback...),
			Err:      err,
		}
	}

	// Judged for reporting only; the verifier is the trust anchor.
	v := judge(ctx, cand)
	r.record(turn, c.verifier, cand, retries, true, nil, v)
	return &stepResult{cand: cand, verdict: v, role: schema.RoleVerifier}, nil
}

// actionFor returns the action taken after a failed draft attempt.
func actionFor(attempt, maxRetries int) string {
	if attempt >= maxRetries {
		return ActionEscalate
	}
	return ActionRetry
}

func (r *runner) decide(turn, attempt int, v *verdict, action string) error {
	d := Decision{
		Attempt:   attempt,
		Action:    action,
		Passed:    v.passed,
		Score:     v.score,
		Threshold: v.threshold,
		Layer:     v.layer,
		Reasons:   v.reasons(),
	}
	return r.obs.decision(turn, d)
}

func generationFailure(err error) *gate.GateResult {
	msg := err.Error()
	if adapter.IsTimeout(err) {
		msg = "generation timed out: " + msg
	}
	return gate.NewFailingResult(0, []gate.Violation{{
		Rule:     "generation",
		Severity: gate.SeverityError,
		Message:  msg,
	}}, nil)
}

// record appends an attempt to the outcome history with its cost.
func (r *runner) record(turn int, t target, cand *adapter.Candidate, retries int, passed bool, err error, v *verdict) {
	a := Attempt{
		Turn:    turn,
		Role:    t.role,
		Adapter: t.ref.Adapter,
		Model:   t.ref.Model,
		Retries: retries,
		Passed:  passed,
	}
	if cand != nil {
		a.Usage = cand.Usage.Normalize()
		a.Latency = cand.Latency
		a.ToolCalls = len(cand.ToolCalls)
		a.Cost = metrics.CostOf(r.c.cfg.Pricing, t.ref, a.Usage)
	}
	if err != nil {
		a.Error = err.Error()
	}
	if v != nil {
		a.Score = v.score
		a.Layer = v.layer
		if !v.passed && v.result != nil {
			a.Feedback = strings.Join(v.reasons(), "; ")
		}
	}
	r.out.addAttempt(a)
}

// accept stores the final candidate of a turn on the outcome.
func (r *runner) accept(step *stepResult) {
	c := r.c
	t := c.draft
	if step.role == schema.RoleVerifier {
		t = c.verifier
	}
	r.out.FinalRole = step.role
	r.out.Adapter = t.ref.Adapter
	r.out.Model = t.ref.Model
	r.out.Content = step.cand.Content
	r.out.BaselineCost += metrics.CostOf(c.cfg.Pricing, c.verifier.ref, step.cand.Usage).Amount
}

// generate calls the adapter with a per-step timeout, retrying transient
// transport errors with exponential backoff inside the step.
func (r *runner) generate(ctx context.Context, turn int, t target, req *adapter.Request) (*adapter.Candidate, int, error) {
	cfg := r.c.cfg.Retry
	stepCtx, cancel := context.WithTimeout(ctx, r.c.stepTimeout(t.role))
	defer cancel()

	// emitted is set once a try has streamed output. Such a try cannot be
	// replayed without duplicating chunks, so its error fails the attempt.
	emitted := false
	var onChunk func(adapter.Chunk) error
	if r.obs.streaming() {
		onChunk = func(ch adapter.Chunk) error {
			emitted = true
			return r.obs.chunk(turn, t.role, t.ref.Model, ch.Content)
		}
	}

	for try := 0; ; try++ {
		var (
			cand *adapter.Candidate
			err  error
		)
		start := time.Now()
		if s, ok := t.adapter.(adapter.Streamer); ok && onChunk != nil {
			cand, err = s.GenerateStream(stepCtx, req, onChunk)
		} else {
			cand, err = t.adapter.Generate(stepCtx, req)
			if err == nil && onChunk != nil {
				err = onChunk(adapter.Chunk{Content: cand.Content})
			}
		}
		if err == nil {
			if cand.Latency == 0 {
				cand.Latency = time.Since(start)
			}
			return cand, try, nil
		}
		if ctx.Err() != nil {
			return nil, try, ctx.Err()
		}
		if emitted {
			return nil, try, fmt.Errorf("%s generation with %s failed after partial output: %w", t.role, t.label(), err)
		}
		if !adapter.IsTransient(err) || try >= cfg.TransientRetries() {
			return nil, try, fmt.Errorf("%s generation with %s: %w", t.role, t.label(), err)
		}
		backoff := computeBackoff(cfg.BaseBackoffMs, cfg.MaxBackoffMs, try)
		r.logger.Debug().Err(err).Dur("backoff", backoff).Int("retry", try+1).Msg("transient adapter error")
		if err := sleepWithContext(stepCtx, backoff); err != nil {
			if ctx.Err() != nil {
				return nil, try, ctx.Err()
			}
			return nil, try, fmt.Errorf("%s generation with %s: %w", t.role, t.label(), err)
		}
	}
}

func computeBackoff(baseMs, maxMs, attempt int) time.Duration {
	backoff := time.Duration(baseMs) * time.Millisecond
	limit := time.Duration(maxMs) * time.Millisecond
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= limit {
			return limit
		}
	}
	if backoff > limit {
		return limit
	}
	return backoff
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
