package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zen-systems/cascadegate/pkg/adapter"
	"github.com/zen-systems/cascadegate/pkg/config"
	"github.com/zen-systems/cascadegate/pkg/schema"
)

type fakeSimilarity struct {
	scores []LabelScore
	err    error
	calls  int
}

func (f *fakeSimilarity) Similarity(context.Context, string) ([]LabelScore, error) {
	f.calls++
	return f.scores, f.err
}

func (f *fakeSimilarity) Name() string { return "fake" }

func testConfig() *config.CascadeConfig {
	cfg := config.DefaultCascadeConfig()
	cfg.Domains = map[string]config.DomainConfig{
		"code": {Triggers: []string{"golang", "function", "compile"}},
		"math": {Triggers: []string{"solve", "equation", "integral"}},
	}
	return cfg
}

func TestRuleLockIgnoresSemanticSignal(t *testing.T) {
	prompts := []string{
		"compile this golang function",
		"solve the integral equation",
		"golang function please",
	}
	contradicting := [][]LabelScore{
		{{Label: "math", Score: 0.99}, {Label: "code", Score: 0.01}},
		{{Label: "code", Score: 1.0}},
		{{Label: "creative", Score: 0.95}, {Label: "math", Score: 0.1}},
	}

	ctx := context.Background()
	ruleOnly := NewClassifier(testConfig())
	for _, prompt := range prompts {
		want := ruleOnly.ClassifyText(ctx, prompt)
		require.Equal(t, PathRuleLock, want.Path, prompt)

		for _, scores := range contradicting {
			sem := &fakeSimilarity{scores: scores}
			got := NewClassifier(testConfig(), WithSimilarity(sem)).ClassifyText(ctx, prompt)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("semantic signal changed locked result for %q (-want +got):\n%s", prompt, diff)
			}
			assert.Zero(t, sem.calls, "semantic pass should be skipped under rule lock")
		}
	}
}

func TestSemanticOverride(t *testing.T) {
	sem := &fakeSimilarity{scores: []LabelScore{{Label: "code", Score: 0.9}, {Label: "math", Score: 0.2}}}
	c := NewClassifier(testConfig(), WithSimilarity(sem))

	got := c.ClassifyText(context.Background(), "solve this")
	assert.Equal(t, "math", got.Rule.Domain)
	assert.InDelta(t, 0.8, got.Rule.Confidence, 1e-9)
	assert.Equal(t, PathSemanticOverride, got.Path)
	assert.Equal(t, "code", got.Domain)
	assert.Equal(t, "fake", got.SemanticStrategy)
	assert.InDelta(t, 0.7, got.Semantic.Margin, 1e-9)
}

func TestWeightedBlend(t *testing.T) {
	sem := &fakeSimilarity{scores: []LabelScore{{Label: "code", Score: 0.6}, {Label: "math", Score: 0.5}}}

	got := NewClassifier(testConfig(), WithSimilarity(sem)).ClassifyText(context.Background(), "solve this")
	assert.Equal(t, PathWeightedBlend, got.Path)
	assert.Equal(t, "math", got.Domain)
	assert.InDelta(t, 0.74, got.Confidence, 1e-9)

	// a barely trusted rule lets the semantic signal win
	cfg := testConfig()
	cfg.Classifier.BlendRuleWeight = 0.1
	got = NewClassifier(cfg, WithSimilarity(sem)).ClassifyText(context.Background(), "solve this")
	assert.Equal(t, PathWeightedBlend, got.Path)
	assert.Equal(t, "code", got.Domain)
}

func TestSemanticErrorDegradesToRules(t *testing.T) {
	sem := &fakeSimilarity{err: errors.New("embedding service down")}
	got := NewClassifier(testConfig(), WithSimilarity(sem)).ClassifyText(context.Background(), "solve this")

	assert.Equal(t, PathRuleOnly, got.Path)
	assert.Equal(t, "math", got.Domain)
	assert.False(t, got.Semantic.Computed)
	assert.Empty(t, got.SemanticStrategy)
	require.NotEmpty(t, got.Reasons)
	assert.True(t, strings.Contains(strings.Join(got.Reasons, ";"), "semantic error"))
}

func TestNoSimilarityIsRuleOnly(t *testing.T) {
	c := NewClassifier(testConfig())
	assert.False(t, c.HasSemantic())

	got := c.ClassifyText(context.Background(), "nothing matches here")
	assert.Equal(t, PathRuleOnly, got.Path)
	assert.Equal(t, DefaultDomain, got.Domain)
	assert.Zero(t, got.Confidence)
}

func TestClassifyHonoursHints(t *testing.T) {
	c := NewClassifier(testConfig())
	got := c.Classify(context.Background(), &schema.Query{
		Prompt:         "compile this golang function",
		DomainHint:     "legal",
		ComplexityHint: "expert",
	})
	assert.Equal(t, "legal", got.Domain)
	assert.Equal(t, 1.0, got.Confidence)
	assert.Equal(t, PathHint, got.Path)
	assert.Equal(t, ComplexityExpert, got.Complexity)
	assert.Equal(t, "code", got.Rule.Domain)
}

func TestExemplarSimilarity(t *testing.T) {
	embed := func(_ context.Context, text string) ([]float32, error) {
		switch {
		case strings.Contains(text, "sum"):
			return []float32{1, 0}, nil
		case strings.Contains(text, "poem"):
			return []float32{0, 1}, nil
		default:
			return []float32{0.5, 0.5}, nil
		}
	}
	s := NewExemplarSimilarity("", embed, map[string][]string{
		"math":     {"sum the numbers"},
		"creative": {"write a poem"},
	})

	scores, err := s.Similarity(context.Background(), "sum these values")
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, "math", scores[0].Label)
	assert.InDelta(t, 1.0, scores[0].Score, 1e-6)
	assert.InDelta(t, 0.0, scores[1].Score, 1e-6)
	assert.Equal(t, "exemplar", s.Name())

	_, err = NewExemplarSimilarity("x", nil, nil).Similarity(context.Background(), "a")
	assert.Error(t, err)
}

func TestLLMSimilarity(t *testing.T) {
	mock := adapter.NewMockAdapter().Script("classifier", adapter.MockResponse{
		Content: "```json\n{\"domain\":\"code\",\"confidence\":0.9,\"runner_up\":\"math\",\"runner_up_confidence\":0.3,\"reason\":\"mentions golang\"}\n```",
	})
	s := NewLLMSimilarity(mock, "classifier", []string{"code", "math"})

	scores, err := s.Similarity(context.Background(), "golang question")
	require.NoError(t, err)
	assert.Equal(t, []LabelScore{{Label: "code", Score: 0.9}, {Label: "math", Score: 0.3}}, scores)
	assert.Equal(t, "llm:mock/classifier", s.Name())

	bad := adapter.NewMockAdapter().Script("classifier", adapter.MockResponse{Content: `{"domain":"poetry","confidence":0.9}`})
	_, err = NewLLMSimilarity(bad, "classifier", []string{"code"}).Similarity(context.Background(), "x")
	assert.Error(t, err)
}

func TestModelRouterResolvesRoles(t *testing.T) {
	cfg := &config.CascadeConfig{Models: []config.ModelRef{
		{Role: schema.RoleDraft, Adapter: "mock", Model: "fast", UnitCost: 0.1},
		{Role: schema.RoleVerifier, Adapter: "missing", Model: "big"},
	}}
	aliases := &config.ModelAliases{Aliases: map[string]string{"fast": "gpt-4o-mini"}}
	r := NewRouter(map[string]adapter.Adapter{"mock": adapter.NewMockAdapter()}, cfg, WithAliases(aliases))

	target, err := r.Route(schema.RoleDraft)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", target.Model)
	assert.Equal(t, 0.1, target.UnitCost)

	_, err = r.Route(schema.RoleVerifier)
	assert.Error(t, err)

	routes := r.GetRoutes()
	require.Len(t, routes, 2)
	assert.Equal(t, schema.RoleDraft, routes[0].Role)
	assert.Equal(t, "gpt-4o-mini", routes[0].ResolvedModel)
}
