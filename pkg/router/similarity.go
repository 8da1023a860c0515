package router

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/zen-systems/cascadegate/pkg/adapter"
	"github.com/zen-systems/cascadegate/pkg/schema"
)

// LabelScore is a similarity score for one domain label.
type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Similarity is the semantic signal source used by the classifier.
type Similarity interface {
	// Similarity scores text against every known label, best first.
	Similarity(ctx context.Context, text string) ([]LabelScore, error)

	// Name identifies the strategy for observability.
	Name() string
}

// EmbedFunc returns an embedding vector for text.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// ExemplarSimilarity scores text by cosine similarity to embedded exemplars.
type ExemplarSimilarity struct {
	embed     EmbedFunc
	name      string
	exemplars map[string][]string

	mu      sync.Mutex
	vectors map[string][][]float32
}

// NewExemplarSimilarity creates an exemplar backend. Exemplars are embedded on first use.
func NewExemplarSimilarity(name string, embed EmbedFunc, exemplars map[string][]string) *ExemplarSimilarity {
	if name == "" {
		name = "exemplar"
	}
	return &ExemplarSimilarity{embed: embed, name: name, exemplars: exemplars}
}

// Name returns the strategy name.
func (s *ExemplarSimilarity) Name() string {
	return s.name
}

// Similarity returns the best exemplar similarity per label.
func (s *ExemplarSimilarity) Similarity(ctx context.Context, text string) ([]LabelScore, error) {
	if s.embed == nil {
		return nil, fmt.Errorf("exemplar similarity: no embedder")
	}
	vectors, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	query, err := s.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	scores := make([]LabelScore, 0, len(vectors))
	for label, vecs := range vectors {
		best := 0.0
		for _, v := range vecs {
			sim, err := cosineSimilarity(query, v)
			if err != nil {
				return nil, err
			}
			best = math.Max(best, sim)
		}
		scores = append(scores, LabelScore{Label: label, Score: clamp01(best)})
	}
	sortLabelScores(scores)
	return scores, nil
}

func (s *ExemplarSimilarity) load(ctx context.Context) (map[string][][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vectors != nil {
		return s.vectors, nil
	}
	vectors := make(map[string][][]float32, len(s.exemplars))
	for label, texts := range s.exemplars {
		for _, text := range texts {
			v, err := s.embed(ctx, text)
			if err != nil {
				return nil, fmt.Errorf("embed exemplar for %s: %w", label, err)
			}
			vectors[label] = append(vectors[label], v)
		}
	}
	s.vectors = vectors
	return vectors, nil
}

func cosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dotProduct, aMagnitude, bMagnitude float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		aMagnitude += float64(a[i]) * float64(a[i])
		bMagnitude += float64(b[i]) * float64(b[i])
	}

	if aMagnitude == 0 || bMagnitude == 0 {
		return 0, nil
	}
	return dotProduct / (math.Sqrt(aMagnitude) * math.Sqrt(bMagnitude)), nil
}

// LLMSimilarity asks a classifier model to pick a domain label.
type LLMSimilarity struct {
	adapter adapter.Adapter
	model   string
	labels  []string
}

// NewLLMSimilarity creates a model-backed semantic source over labels.
func NewLLMSimilarity(a adapter.Adapter, model string, labels []string) *LLMSimilarity {
	return &LLMSimilarity{adapter: a, model: model, labels: labels}
}

// Name returns the strategy name.
func (s *LLMSimilarity) Name() string {
	if s.adapter == nil {
		return "llm"
	}
	return "llm:" + s.adapter.Name() + "/" + s.model
}

// Similarity asks the model and converts its pick into label scores.
func (s *LLMSimilarity) Similarity(ctx context.Context, text string) ([]LabelScore, error) {
	if s.adapter == nil || s.model == "" {
		return nil, fmt.Errorf("llm similarity: adapter and model required")
	}
	cand, err := s.adapter.Generate(ctx, &adapter.Request{
		Model: s.model,
		Messages: []schema.Message{
			{Role: schema.MessageRoleUser, Content: buildClassifierPrompt(text, s.labels)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("classifier error: %w", err)
	}
	if cand == nil || strings.TrimSpace(cand.Content) == "" {
		return nil, fmt.Errorf("classifier returned empty response")
	}

	pick, err := parseClassifierResponse(cand.Content)
	if err != nil {
		return nil, fmt.Errorf("classifier response invalid: %w", err)
	}
	if !validLabel(pick.Domain, s.labels) {
		return nil, fmt.Errorf("classifier domain %q not in labels", pick.Domain)
	}
	if pick.Confidence < 0 || pick.Confidence > 1 {
		return nil, fmt.Errorf("classifier confidence out of range")
	}

	scores := []LabelScore{{Label: pick.Domain, Score: pick.Confidence}}
	if pick.RunnerUp != "" && pick.RunnerUp != pick.Domain && validLabel(pick.RunnerUp, s.labels) {
		scores = append(scores, LabelScore{Label: pick.RunnerUp, Score: clamp01(math.Min(pick.RunnerUpConfidence, pick.Confidence))})
	}
	return scores, nil
}

type classifierPick struct {
	Domain             string  `json:"domain"`
	Confidence         float64 `json:"confidence"`
	RunnerUp           string  `json:"runner_up"`
	RunnerUpConfidence float64 `json:"runner_up_confidence"`
	Reason             string  `json:"reason"`
}

func parseClassifierResponse(content string) (*classifierPick, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var pick classifierPick
	if err := json.Unmarshal([]byte(content), &pick); err != nil {
		return nil, err
	}
	if pick.Domain == "" {
		return nil, fmt.Errorf("missing domain")
	}
	return &pick, nil
}

func validLabel(label string, labels []string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

func buildClassifierPrompt(userPrompt string, labels []string) string {
	var sb strings.Builder
	sb.WriteString("You are a domain classifier. Choose the best domain for the user prompt.\n")
	sb.WriteString("Return ONLY JSON: {\"domain\":\"...\",\"confidence\":0-1,\"runner_up\":\"...\",\"runner_up_confidence\":0-1,\"reason\":\"...\"}.\n\n")
	sb.WriteString("User prompt:\n")
	sb.WriteString(userPrompt)
	sb.WriteString("\n\nDomains:\n")
	for _, l := range labels {
		sb.WriteString(fmt.Sprintf("- %s\n", l))
	}
	return sb.String()
}

func sortLabelScores(scores []LabelScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score == scores[j].Score {
			return scores[i].Label < scores[j].Label
		}
		return scores[i].Score > scores[j].Score
	})
}

// semanticSignal converts ranked label scores into a classifier signal.
func semanticSignal(scores []LabelScore) Signal {
	if len(scores) == 0 {
		return Signal{}
	}
	ranked := append([]LabelScore(nil), scores...)
	sortLabelScores(ranked)

	sig := Signal{
		Domain:     ranked[0].Label,
		Confidence: clamp01(ranked[0].Score),
		Computed:   true,
	}
	second := 0.0
	if len(ranked) > 1 {
		second = clamp01(ranked[1].Score)
	}
	sig.Margin = sig.Confidence - second
	for _, s := range ranked {
		sig.Candidates = append(sig.Candidates, Candidate{Domain: s.Label, Score: clamp01(s.Score)})
	}
	return sig
}
