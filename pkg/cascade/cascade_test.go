package cascade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zen-systems/cascadegate/pkg/adapter"
	"github.com/zen-systems/cascadegate/pkg/alignment"
	"github.com/zen-systems/cascadegate/pkg/config"
	"github.com/zen-systems/cascadegate/pkg/metrics"
	"github.com/zen-systems/cascadegate/pkg/router"
	"github.com/zen-systems/cascadegate/pkg/schema"
	"github.com/zen-systems/cascadegate/pkg/toolcall"
)

const (
	draftModel    = "mock-draft"
	verifierModel = "mock-verifier"
)

var weatherTool = schema.ToolSchema{
	Name:        "get_weather",
	Description: "Current weather for a city",
	Category:    "read",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"location": map[string]any{"type": "string", "description": "City name"},
		},
		"required": []any{"location"},
	},
}

var deleteTool = schema.ToolSchema{
	Name:        "delete_file",
	Description: "Delete a file in the workspace",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string"},
		},
		"required": []any{"path"},
	},
}

func newTestCascade(t *testing.T, m *adapter.MockAdapter, mutate func(*config.CascadeConfig), opts ...Option) *Cascade {
	t.Helper()
	cfg := config.DefaultCascadeConfig()
	if mutate != nil {
		mutate(cfg)
	}
	c, err := New(map[string]adapter.Adapter{"mock": m}, cfg, opts...)
	require.NoError(t, err)
	return c
}

func maxRetries(n int) func(*config.CascadeConfig) {
	return func(cfg *config.CascadeConfig) {
		cfg.Retry.MaxRetries = &n
	}
}

func weatherCall(location string) adapter.MockResponse {
	return adapter.MockResponse{ToolCalls: []adapter.MockToolCall{{
		Name:      "get_weather",
		Arguments: map[string]any{"location": location},
	}}}
}

func TestTrivialDraftAccepted(t *testing.T) {
	m := adapter.NewMockAdapter().Script(draftModel, adapter.MockResponse{Content: "4"})
	c := newTestCascade(t, m, nil)

	out, err := c.Run(context.Background(), &schema.Query{Prompt: "What is 2+2?"})
	require.NoError(t, err)

	assert.Equal(t, StatusAccepted, out.Status)
	assert.Equal(t, ModeText, out.Mode)
	assert.Equal(t, "4", out.Content)
	assert.Equal(t, schema.RoleDraft, out.FinalRole)
	assert.Equal(t, draftModel, out.Model)
	assert.False(t, out.Escalated)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, router.ComplexityTrivial, out.Classification.Complexity)
	require.NotNil(t, out.Alignment)
	assert.True(t, out.Alignment.Trivial)
	assert.Equal(t, 0, m.Calls(verifierModel))

	assert.Greater(t, out.Cost, 0.0)
	assert.Greater(t, out.BaselineCost, out.Cost)
	assert.InDelta(t, out.BaselineCost-out.Cost, out.Savings, 1e-12)
}

func TestShortQueryOffTopicDraftEscalates(t *testing.T) {
	for _, prompt := range []string{"Prove Fermat's theorem", "Translate this paragraph"} {
		t.Run(prompt, func(t *testing.T) {
			m := adapter.NewMockAdapter().
				Script(draftModel, adapter.MockResponse{Content: "Bananas."}).
				Script(verifierModel, adapter.MockResponse{Content: "A careful answer."})
			c := newTestCascade(t, m, nil)

			out, err := c.Run(context.Background(), &schema.Query{Prompt: prompt})
			require.NoError(t, err)

			assert.NotEqual(t, router.ComplexityTrivial, out.Classification.Complexity)
			assert.True(t, out.Escalated)
			assert.Equal(t, schema.RoleVerifier, out.FinalRole)
			assert.Equal(t, "A careful answer.", out.Content)
			require.NotEmpty(t, out.History)
			assert.False(t, out.History[0].Passed)
			assert.Less(t, out.History[0].Score, alignment.TrivialScore)
		})
	}
}

func TestTrivialComplexityHintShortCircuits(t *testing.T) {
	m := adapter.NewMockAdapter().Script(draftModel, adapter.MockResponse{Content: "Hi there!"})
	c := newTestCascade(t, m, nil)

	out, err := c.Run(context.Background(), &schema.Query{Prompt: "Say hi", ComplexityHint: "trivial"})
	require.NoError(t, err)
	assert.False(t, out.Escalated)
	require.NotNil(t, out.Alignment)
	assert.True(t, out.Alignment.Trivial)
}

func TestRetryBoundThenEscalate(t *testing.T) {
	for n := 0; n <= 3; n++ {
		t.Run(fmt.Sprintf("retries=%d", n), func(t *testing.T) {
			m := adapter.NewMockAdapter().
				Script(draftModel, adapter.MockResponse{Content: ""}).
				Script(verifierModel, adapter.MockResponse{Content: "4"})
			c := newTestCascade(t, m, maxRetries(n))

			out, err := c.Run(context.Background(), &schema.Query{Prompt: "What is 2+2?"})
			require.NoError(t, err)

			assert.Equal(t, n+1, m.Calls(draftModel))
			assert.Equal(t, 1, m.Calls(verifierModel))
			assert.Equal(t, n+2, out.Attempts)
			assert.Equal(t, n+1, out.DraftAttempts())
			assert.True(t, out.Escalated)
			assert.Contains(t, out.EscalationReason, "retries exhausted")
			assert.Equal(t, schema.RoleVerifier, out.FinalRole)
			assert.Equal(t, "4", out.Content)
			assert.Equal(t, StatusAccepted, out.Status)
		})
	}
}

func TestRetryCarriesRepairFeedback(t *testing.T) {
	m := adapter.NewMockAdapter().Script(draftModel,
		adapter.MockResponse{Content: ""},
		adapter.MockResponse{Content: "4"},
	)
	c := newTestCascade(t, m, nil)

	out, err := c.Run(context.Background(), &schema.Query{Prompt: "What is 2+2?"})
	require.NoError(t, err)
	assert.False(t, out.Escalated)
	assert.Equal(t, 2, out.Attempts)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[0].Feedback)
	assert.Contains(t, reqs[1].Feedback, "failed quality checks")
}

func TestVerifierFailureIsFatal(t *testing.T) {
	boom := errors.New("verifier unavailable")
	m := adapter.NewMockAdapter().
		Script(draftModel, adapter.MockResponse{Content: ""}).
		Script(verifierModel, adapter.MockResponse{Err: boom})
	c := newTestCascade(t, m, maxRetries(0))

	out, err := c.Run(context.Background(), &schema.Query{Prompt: "What is 2+2?"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var fe *FailureError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, StageVerifier, fe.Stage)
	assert.Equal(t, "alignment", fe.Layer)
	assert.Equal(t, 2, fe.Attempts)

	assert.Equal(t, StatusFailed, out.Status)
	assert.NotEmpty(t, out.Error)
	assert.Equal(t, 1, m.Calls(verifierModel))
}

func TestDraftTimeoutEscalates(t *testing.T) {
	m := adapter.NewMockAdapter().
		Script(draftModel, adapter.MockResponse{Content: "4", Delay: 2 * time.Second}).
		Script(verifierModel, adapter.MockResponse{Content: "4"})
	c := newTestCascade(t, m, func(cfg *config.CascadeConfig) {
		maxRetries(0)(cfg)
		cfg.Timeouts.DraftMs = 20
	})

	out, err := c.Run(context.Background(), &schema.Query{Prompt: "What is 2+2?"})
	require.NoError(t, err)
	assert.True(t, out.Escalated)
	assert.Equal(t, schema.RoleVerifier, out.FinalRole)
	require.Len(t, out.History, 2)
	assert.NotEmpty(t, out.History[0].Error)
	assert.Contains(t, out.EscalationReason, "draft generation failed")
}

func TestTransientErrorsRetryWithinStep(t *testing.T) {
	m := adapter.NewMockAdapter().Script(draftModel,
		adapter.MockResponse{Err: &adapter.AdapterError{Provider: "mock", Status: 503, Err: errors.New("overloaded")}},
		adapter.MockResponse{Content: "4"},
	)
	c := newTestCascade(t, m, func(cfg *config.CascadeConfig) {
		cfg.Retry.BaseBackoffMs = 1
		cfg.Retry.MaxBackoffMs = 2
	})

	out, err := c.Run(context.Background(), &schema.Query{Prompt: "What is 2+2?"})
	require.NoError(t, err)
	assert.False(t, out.Escalated)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 1, out.History[0].Retries)
	assert.Equal(t, 2, m.Calls(draftModel))
}

func TestTransientRetriesCanBeDisabled(t *testing.T) {
	m := adapter.NewMockAdapter().Script(draftModel,
		adapter.MockResponse{Err: &adapter.AdapterError{Provider: "mock", Status: 503, Err: errors.New("overloaded")}},
		adapter.MockResponse{Content: "4"},
	)
	c := newTestCascade(t, m, func(cfg *config.CascadeConfig) {
		zero := 0
		cfg.Retry.MaxTransientRetries = &zero
	})

	out, err := c.Run(context.Background(), &schema.Query{Prompt: "What is 2+2?"})
	require.NoError(t, err)
	assert.False(t, out.Escalated)
	require.Len(t, out.History, 2)
	assert.NotEmpty(t, out.History[0].Error)
	assert.Equal(t, 0, out.History[0].Retries)
	assert.Equal(t, "4", out.Content)
}

func TestDirectComplexitySkipsDrafter(t *testing.T) {
	m := adapter.NewMockAdapter().Script(verifierModel, adapter.MockResponse{Content: "It depends on team size and deployment needs."})
	c := newTestCascade(t, m, func(cfg *config.CascadeConfig) {
		cfg.DirectComplexities = []string{"expert"}
	})

	out, err := c.Run(context.Background(), &schema.Query{Prompt: "What are the pros and cons of microservices?"})
	require.NoError(t, err)
	assert.Equal(t, 0, m.Calls(draftModel))
	assert.Equal(t, 1, m.Calls(verifierModel))
	assert.True(t, out.Escalated)
	assert.Equal(t, 0, out.DraftAttempts())
	assert.Empty(t, m.Requests()[0].Feedback)
}

func TestConfigurationErrors(t *testing.T) {
	_, err := New(map[string]adapter.Adapter{}, config.DefaultCascadeConfig())
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = New(nil, nil)
	assert.ErrorIs(t, err, ErrConfiguration)

	cfg := config.DefaultCascadeConfig()
	cfg.Models = cfg.Models[:1]
	_, err = New(map[string]adapter.Adapter{"mock": adapter.NewMockAdapter()}, cfg)
	assert.ErrorIs(t, err, ErrConfiguration)

	m := adapter.NewMockAdapter()
	c := newTestCascade(t, m, nil)
	out, err := c.Run(context.Background(), &schema.Query{Prompt: "  "})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Empty(t, m.Requests())
}

func TestNewLeavesCallerConfigUnchanged(t *testing.T) {
	cfg := &config.CascadeConfig{
		Models: []config.ModelRef{
			{Role: schema.RoleDraft, Adapter: "mock", Model: draftModel},
			{Role: schema.RoleVerifier, Adapter: "mock", Model: verifierModel},
		},
	}
	_, err := New(map[string]adapter.Adapter{"mock": adapter.NewMockAdapter()}, cfg)
	require.NoError(t, err)

	assert.Zero(t, cfg.Thresholds.Default)
	assert.Zero(t, cfg.Timeouts.DraftMs)
	assert.Nil(t, cfg.Domains)
	assert.Nil(t, cfg.Tools.StrictTiers)
}

func TestToolPlaceholderRetried(t *testing.T) {
	m := adapter.NewMockAdapter().Script(draftModel, weatherCall("TODO"), weatherCall("Paris"))
	c := newTestCascade(t, m, nil)

	out, err := c.Run(context.Background(), &schema.Query{
		Prompt: "What's the weather in Paris?",
		Tools:  []schema.ToolSchema{weatherTool},
	})
	require.NoError(t, err)

	assert.Equal(t, ModeTool, out.Mode)
	require.NotNil(t, out.Routing)
	assert.Equal(t, toolcall.StrategyCascade, out.Routing.Strategy)
	assert.Equal(t, 2, out.Attempts)
	assert.False(t, out.Escalated)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "Paris", out.ToolCalls[0].Arguments["location"])
	assert.True(t, out.Validation.Valid)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[1].Feedback, "location appears to be a placeholder")
}

func TestUnsafeToolCallEscalatesWithoutRetry(t *testing.T) {
	m := adapter.NewMockAdapter().
		Script(draftModel, adapter.MockResponse{ToolCalls: []adapter.MockToolCall{{
			Name:      "delete_file",
			Arguments: map[string]any{"path": "; rm -rf /"},
		}}}).
		Script(verifierModel, adapter.MockResponse{ToolCalls: []adapter.MockToolCall{{
			Name:      "delete_file",
			Arguments: map[string]any{"path": "cache/old.log"},
		}}})
	c := newTestCascade(t, m, func(cfg *config.CascadeConfig) {
		cfg.Tools.RiskOverrides = map[string]string{"delete_file": "medium"}
	})

	out, err := c.Run(context.Background(), &schema.Query{
		Prompt: "Delete the old cache log",
		Tools:  []schema.ToolSchema{deleteTool},
	})
	require.NoError(t, err)

	assert.Equal(t, toolcall.StrategyCascade, out.Routing.Strategy)
	assert.Equal(t, 1, m.Calls(draftModel))
	assert.True(t, out.Escalated)
	assert.Contains(t, out.EscalationReason, "safety")
	assert.Equal(t, 1, out.DraftAttempts())
	assert.Equal(t, "safety", out.History[0].Layer)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "cache/old.log", out.ToolCalls[0].Arguments["path"])
}

func TestCriticalToolRoutesDirect(t *testing.T) {
	m := adapter.NewMockAdapter().Script(verifierModel, adapter.MockResponse{ToolCalls: []adapter.MockToolCall{{
		Name:      "delete_file",
		Arguments: map[string]any{"path": "cache/old.log"},
	}}})
	c := newTestCascade(t, m, nil)

	out, err := c.Run(context.Background(), &schema.Query{
		Prompt: "Delete the old cache log",
		Tools:  []schema.ToolSchema{deleteTool},
	})
	require.NoError(t, err)
	assert.Equal(t, toolcall.StrategyDirect, out.Routing.Strategy)
	assert.Equal(t, toolcall.RiskCritical, out.Routing.Tier)
	assert.Equal(t, 0, m.Calls(draftModel))
	assert.Equal(t, schema.RoleVerifier, out.FinalRole)
}

func TestToolQueryWithoutIntentFallsBackToText(t *testing.T) {
	m := adapter.NewMockAdapter().Script(draftModel, adapter.MockResponse{Content: "4"})
	c := newTestCascade(t, m, nil)

	out, err := c.Run(context.Background(), &schema.Query{
		Prompt: "What is 2+2?",
		Tools:  []schema.ToolSchema{deleteTool},
	})
	require.NoError(t, err)
	assert.Equal(t, ModeText, out.Mode)
	assert.Equal(t, toolcall.StrategySkip, out.Routing.Strategy)
	assert.Equal(t, "4", out.Content)
}

func TestMultiTurnToolExecution(t *testing.T) {
	m := adapter.NewMockAdapter().Script(draftModel,
		weatherCall("Paris"),
		adapter.MockResponse{Content: "It is 18C and sunny in Paris right now."},
	)
	var executed atomic.Int32
	exec := ExecutorFunc(func(_ context.Context, call schema.ToolCall) (string, error) {
		executed.Add(1)
		return "18C and sunny", nil
	})
	c := newTestCascade(t, m, func(cfg *config.CascadeConfig) {
		cfg.Tools.AutoExecute = true
	}, WithExecutor(exec))

	out, err := c.Run(context.Background(), &schema.Query{
		Prompt: "What's the weather in Paris?",
		Tools:  []schema.ToolSchema{weatherTool},
	})
	require.NoError(t, err)

	assert.Equal(t, int32(1), executed.Load())
	assert.Equal(t, 2, out.Turns)
	require.Len(t, out.ToolResults, 1)
	assert.Equal(t, "18C and sunny", out.ToolResults[0].Content)
	assert.Equal(t, out.ToolCalls[0].ID, out.ToolResults[0].CallID)
	assert.NotEmpty(t, out.Content)

	reqs := m.Requests()
	require.GreaterOrEqual(t, len(reqs), 2)
	msgs := reqs[1].Messages
	last := msgs[len(msgs)-1]
	assert.Equal(t, schema.MessageRoleTool, last.Role)
	assert.Equal(t, "18C and sunny", last.Content)
	assert.Equal(t, out.ToolCalls[0].ID, last.ToolCallID)
	assert.Equal(t, schema.MessageRoleAssistant, msgs[len(msgs)-2].Role)
}

func TestExecutorErrorBecomesToolResult(t *testing.T) {
	m := adapter.NewMockAdapter().Script(draftModel, weatherCall("Paris"))
	exec := ExecutorFunc(func(context.Context, schema.ToolCall) (string, error) {
		return "", errors.New("weather service down")
	})
	c := newTestCascade(t, m, func(cfg *config.CascadeConfig) {
		cfg.Tools.AutoExecute = true
		cfg.Tools.MaxTurns = 1
	}, WithExecutor(exec))

	out, err := c.Run(context.Background(), &schema.Query{
		Prompt: "What's the weather in Paris?",
		Tools:  []schema.ToolSchema{weatherTool},
	})
	require.NoError(t, err)
	require.Len(t, out.ToolResults, 1)
	assert.Equal(t, "weather service down", out.ToolResults[0].Error)
	assert.Equal(t, StatusAccepted, out.Status)
}

func TestVerifierAfterToolForcesVerifier(t *testing.T) {
	m := adapter.NewMockAdapter().Script(draftModel, weatherCall("Paris"))
	exec := ExecutorFunc(func(context.Context, schema.ToolCall) (string, error) {
		return "18C and sunny", nil
	})
	c := newTestCascade(t, m, func(cfg *config.CascadeConfig) {
		cfg.Tools.AutoExecute = true
		cfg.Tools.VerifierAfterTools = []string{"get_weather"}
	}, WithExecutor(exec))

	out, err := c.Run(context.Background(), &schema.Query{
		Prompt: "What's the weather in Paris?",
		Tools:  []schema.ToolSchema{weatherTool},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Calls(draftModel))
	assert.Equal(t, 1, m.Calls(verifierModel))
	assert.Equal(t, 2, out.Turns)
	assert.Equal(t, "get_weather requires verifier follow-up", out.EscalationReason)
	assert.Equal(t, schema.RoleVerifier, out.FinalRole)
}

func TestUnsafeVerifierCallIsNotExecuted(t *testing.T) {
	m := adapter.NewMockAdapter().Script(verifierModel, adapter.MockResponse{ToolCalls: []adapter.MockToolCall{{
		Name:      "delete_file",
		Arguments: map[string]any{"path": "; rm -rf /"},
	}}})
	var executed atomic.Int32
	exec := ExecutorFunc(func(context.Context, schema.ToolCall) (string, error) {
		executed.Add(1)
		return "deleted", nil
	})
	c := newTestCascade(t, m, func(cfg *config.CascadeConfig) {
		cfg.Tools.AutoExecute = true
		cfg.Tools.MaxTurns = 1
	}, WithExecutor(exec))

	out, err := c.Run(context.Background(), &schema.Query{
		Prompt: "Delete the old cache log",
		Tools:  []schema.ToolSchema{deleteTool},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(0), executed.Load())
	require.Len(t, out.ToolResults, 1)
	assert.Contains(t, out.ToolResults[0].Error, "safety")
	assert.False(t, out.Validation.Valid)
}

func TestTrackerRecordsOutcomes(t *testing.T) {
	m := adapter.NewMockAdapter().
		Script(draftModel, adapter.MockResponse{Content: "4"}, adapter.MockResponse{Content: ""}).
		Script(verifierModel, adapter.MockResponse{Content: "4"})
	tracker := metrics.NewTracker()
	c := newTestCascade(t, m, maxRetries(0), WithTracker(tracker))

	for i := 0; i < 2; i++ {
		_, err := c.Run(context.Background(), &schema.Query{Prompt: "What is 2+2?"})
		require.NoError(t, err)
	}

	sum := tracker.Summary()
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 2, sum.Accepted)
	assert.Equal(t, 1, sum.Escalated)
	assert.Equal(t, 1, sum.DraftAccepted)
	assert.Greater(t, sum.Savings, 0.0)

	recs := tracker.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, ModeText, recs[0].Mode)
	assert.Equal(t, string(router.ComplexityTrivial), recs[0].Complexity)
}

func TestCancelledRunIsNotRecorded(t *testing.T) {
	m := adapter.NewMockAdapter().Script(draftModel, adapter.MockResponse{Content: "4", Delay: 10 * time.Second})
	tracker := metrics.NewTracker()
	c := newTestCascade(t, m, nil, WithTracker(tracker))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	out, err := c.Run(ctx, &schema.Query{Prompt: "What is 2+2?"})
	require.ErrorIs(t, err, context.Canceled)
	var fe *FailureError
	assert.False(t, errors.As(err, &fe))
	assert.Equal(t, StatusCancelled, out.Status)
	assert.Equal(t, 0, tracker.Len())
}

func TestQueryIDIsKept(t *testing.T) {
	c := newTestCascade(t, adapter.NewMockAdapter().Script(draftModel, adapter.MockResponse{Content: "4"}), nil)
	out, err := c.Run(context.Background(), &schema.Query{ID: "q-1", Prompt: "What is 2+2?"})
	require.NoError(t, err)
	assert.Equal(t, "q-1", out.ID)

	out, err = c.Run(context.Background(), &schema.Query{Prompt: "What is 2+2?"})
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(out.ID, "q-"))
	assert.NotEmpty(t, out.ID)
}

func TestComputeBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, computeBackoff(100, 1000, 0))
	assert.Equal(t, 200*time.Millisecond, computeBackoff(100, 1000, 1))
	assert.Equal(t, 800*time.Millisecond, computeBackoff(100, 1000, 3))
	assert.Equal(t, time.Second, computeBackoff(100, 1000, 4))
}
