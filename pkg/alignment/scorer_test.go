package alignment

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zen-systems/cascadegate/pkg/adapter"
)

func longContext(question string) string {
	return strings.Repeat("The quarterly report covers revenue growth. ", 60) + question
}

func TestTrivialShortCircuit(t *testing.T) {
	s := NewScorer()

	a := s.Score("What is 2+2?", "4", 0, false)
	assert.True(t, a.Trivial)
	assert.Equal(t, TrivialScore, a.Score)
	assert.Equal(t, PathTrivial, a.Baseline)
	assert.Equal(t, []string{"trivial_shortcircuit"}, a.Rules)

	empty := s.Score("What is 2+2?", "   ", 0, false)
	assert.Equal(t, 0.0, empty.Score)

	hinted := s.Score("hello there", "hi", 0, true)
	assert.True(t, hinted.Trivial)
	assert.Equal(t, TrivialScore, hinted.Score)
}

func TestIsTrivialQuery(t *testing.T) {
	assert.True(t, IsTrivialQuery("What is 2+2?"))
	assert.True(t, IsTrivialQuery("12 * (3 + 4)"))
	assert.False(t, IsTrivialQuery("What is the capital of France?"))
	assert.False(t, IsTrivialQuery("2024"))
	assert.False(t, IsTrivialQuery(""))
}

func TestScoreIsDeterministic(t *testing.T) {
	s := NewScorer()
	query := "Explain how garbage collection works in Go and why it matters for latency."
	response := "Go uses a concurrent mark and sweep garbage collector that keeps latency low by running alongside goroutines."

	first := s.Score(query, response, 0.6, false)
	for i := 0; i < 5; i++ {
		again := s.Score(query, response, 0.6, false)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("score changed between runs (-first +again):\n%s", diff)
		}
	}
}

func TestBoostsApplyInOrderAndCap(t *testing.T) {
	s := NewScorer()

	full := s.Score(longContext("Who wrote the report?"), "Alice wrote the report.", 0, false)
	require.Equal(t, PathLongContext, full.Baseline)
	assert.Equal(t, []string{"base", "long_context_qa", "short_answer"}, full.Rules)
	assert.Equal(t, 1.0, full.Score)

	partial := s.Score(longContext("Who wrote the report?"), "Alice wrote it.", 0, false)
	assert.Equal(t, []string{"base", "long_context_qa", "short_answer"}, partial.Rules)
	// base 0.625 plus both boosts
	assert.InDelta(t, 0.925, partial.Score, 1e-9)
	assert.LessOrEqual(t, partial.Score, 1.0)
}

func TestFunctionCallBoost(t *testing.T) {
	s := NewScorer()
	query := "Call the get_weather function for Paris and respond with JSON."

	call := s.Score(query, `{"name":"get_weather","arguments":{"location":"Paris"}}`, 0, false)
	assert.Contains(t, call.Rules, "function_call")
	assert.Equal(t, 0.20, call.Features["boost_function_call"])

	prose := s.Score(query, "The weather in Paris is sunny.", 0, false)
	assert.NotContains(t, prose.Rules, "function_call")
	assert.Less(t, prose.Score, call.Score)
}

func TestRefusalPenalty(t *testing.T) {
	s := NewScorer()
	a := s.Score("Describe the capital of France in detail.", "I'm sorry, but I cannot help with that.", 0, false)
	assert.Contains(t, a.Rules, "refusal_penalty")
	assert.Less(t, a.Score, 0.3)
}

func TestEmptyResponseScoresZero(t *testing.T) {
	a := NewScorer().Score("Describe the water cycle.", "", 0.9, false)
	assert.Equal(t, 0.0, a.Score)
	assert.Equal(t, []string{"empty_response"}, a.Rules)
}

func TestBoostRulesOrderIsStable(t *testing.T) {
	var names []string
	for _, r := range BoostRules {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"long_context_qa", "function_call", "short_answer"}, names)
}

func TestGateEvaluate(t *testing.T) {
	ctx := context.Background()

	pass := NewGate(nil, "What is 2+2?", 0.7, 0, false)
	res, err := pass.Evaluate(ctx, &adapter.Candidate{Content: "4"})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, TrivialScore, pass.Analysis().Score)

	fail := NewGate(nil, "Describe the capital of France in detail.", 0.7, 0, false)
	res, err = fail.Evaluate(ctx, &adapter.Candidate{Content: "I cannot help with that."})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	require.NotEmpty(t, res.Errors())
	assert.Equal(t, "alignment.refusal", res.Violations[0].Rule)

	_, err = fail.Evaluate(ctx, nil)
	assert.Error(t, err)
}
