package cascade

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zen-systems/cascadegate/pkg/adapter"
	"github.com/zen-systems/cascadegate/pkg/schema"
	"github.com/zen-systems/cascadegate/pkg/toolcall"
)

// runTools routes a tool query by risk and runs the bounded multi-turn loop.
// Each turn is a full cascade step; accepted calls are executed when an
// executor is configured and the results are appended to the next turn.
func (r *runner) runTools(ctx context.Context) error {
	c := r.c
	q := r.q
	if !q.HasTools() {
		return &FailureError{Stage: StageSetup, Err: configError("tool flow requires declared tools")}
	}

	det := c.detector.Detect(toolcall.DetectInput{Query: r.prompt(), Tools: q.Tools})
	routing := c.risk.Route(q.Tools, det)
	r.out.Routing = routing
	r.logger.Debug().
		Str("strategy", string(routing.Strategy)).
		Str("tier", string(routing.Tier)).
		Float64("confidence", routing.Confidence).
		Strs("tools", routing.Tools).
		Msg("routed tool query")

	if routing.Strategy == toolcall.StrategySkip {
		return r.runText(ctx)
	}
	r.out.Mode = ModeTool

	cls := r.out.Classification
	tier := ""
	if cls != nil {
		tier = string(cls.Complexity)
	}
	th := c.threshold(cls)
	r.out.Threshold = th

	msgs := q.Messages()
	direct, reason := routeStep(routing)
	execute := c.executor != nil && c.cfg.Tools.AutoExecute

	for turn := 1; turn <= c.cfg.Tools.MaxTurns; turn++ {
		r.out.Turns = turn
		step, err := r.cascadeStep(ctx, turn, msgs, q.Tools, r.toolJudge(turn, tier, th), direct, reason)
		if err != nil {
			return err
		}
		r.accept(step)

		v := step.verdict
		if v.validation != nil {
			r.out.Validation = v.validation
		}
		if len(v.calls) == 0 {
			r.out.Alignment = v.analysis
			return nil
		}

		calls := assignCallIDs(turn, v.calls)
		r.out.ToolCalls = append(r.out.ToolCalls, calls...)
		for _, call := range calls {
			if err := r.obs.toolCall(turn, call); err != nil {
				return err
			}
		}
		if !execute {
			return nil
		}

		results, err := r.executeCalls(ctx, calls, v.validation)
		if err != nil {
			return err
		}
		r.out.ToolResults = append(r.out.ToolResults, results...)
		for _, res := range results {
			if err := r.obs.toolResult(turn, res); err != nil {
				return err
			}
		}

		msgs = appendToolTurn(msgs, step.cand, calls, results)
		direct, reason = routeStep(routing)
		if name, ok := c.forcesVerifier(calls); ok {
			direct = true
			reason = fmt.Sprintf("%s requires verifier follow-up", name)
		}
	}
	r.logger.Debug().Int("turns", r.out.Turns).Msg("tool turn limit reached")
	return nil
}

// toolJudge validates proposed calls. A text-only answer after the first turn
// is the model finishing, so it is judged for alignment instead.
func (r *runner) toolJudge(turn int, tier string, threshold float64) judgeFunc {
	text := r.alignmentJudge(threshold)
	return func(ctx context.Context, cand *adapter.Candidate) *verdict {
		calls := cand.ToolCalls
		if len(calls) == 0 {
			calls = toolcall.ExtractToolCalls(cand.Content)
		}
		if len(calls) == 0 && turn > 1 {
			return text(ctx, cand)
		}

		res := r.c.validator.Validate(calls, r.q.Tools, tier)
		g := res.GateResult()
		layer := res.FailedLayer()
		if layer == "" && res.HasWarnings() {
			layer = warningLayer(res)
		}
		return &verdict{
			passed:     g.Passed,
			acceptable: res.Valid,
			hard:       res.SafetyFailed(),
			layer:      layer,
			score:      g.Score,
			result:     g,
			validation: res,
			calls:      calls,
		}
	}
}

func routeStep(routing *toolcall.RoutingDecision) (bool, string) {
	if routing.Strategy == toolcall.StrategyDirect {
		return true, routing.Reason
	}
	return false, ""
}

func warningLayer(res *toolcall.ValidationResult) string {
	switch {
	case len(res.Safety.Warnings) > 0:
		return "safety"
	case len(res.Structural.Warnings) > 0:
		return "structural"
	}
	return "semantic"
}

// executeCalls runs calls concurrently, each under the tool timeout. Executor
// errors become error results; only cancellation aborts the run. Calls that
// failed safety validation are never executed.
func (r *runner) executeCalls(ctx context.Context, calls []schema.ToolCall, validation *toolcall.ValidationResult) ([]schema.ToolResult, error) {
	timeout := time.Duration(r.c.cfg.Timeouts.ToolMs) * time.Millisecond
	results := make([]schema.ToolResult, len(calls))
	blocked := validation != nil && validation.SafetyFailed()

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		results[i] = schema.ToolResult{CallID: call.ID, Name: call.Name}
		if blocked {
			results[i].Error = "not executed: call failed safety validation"
			continue
		}
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			content, err := r.c.executor.Execute(callCtx, call)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				results[i].Error = err.Error()
				r.logger.Debug().Err(err).Str("tool", call.Name).Msg("tool execution failed")
				return nil
			}
			results[i].Content = content
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// forcesVerifier reports the first executed tool whose follow-up turn must go
// to the verifier.
func (c *Cascade) forcesVerifier(calls []schema.ToolCall) (string, bool) {
	for _, call := range calls {
		for _, name := range c.cfg.Tools.VerifierAfterTools {
			if call.Name == name {
				return name, true
			}
		}
	}
	return "", false
}

func assignCallIDs(turn int, calls []schema.ToolCall) []schema.ToolCall {
	out := make([]schema.ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d_%d", turn, i+1)
		}
		out[i] = call
	}
	return out
}

// appendToolTurn extends the conversation with the assistant's calls and
// one tool message per result.
func appendToolTurn(msgs []schema.Message, cand *adapter.Candidate, calls []schema.ToolCall, results []schema.ToolResult) []schema.Message {
	next := make([]schema.Message, 0, len(msgs)+1+len(results))
	next = append(next, msgs...)
	next = append(next, schema.Message{
		Role:      schema.MessageRoleAssistant,
		Content:   cand.Content,
		ToolCalls: calls,
	})
	for _, res := range results {
		content := res.Content
		if res.Error != "" {
			content = "error: " + res.Error
		}
		next = append(next, schema.Message{
			Role:       schema.MessageRoleTool,
			Content:    content,
			ToolCallID: res.CallID,
			Name:       res.Name,
		})
	}
	return next
}
