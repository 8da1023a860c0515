package router

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/zen-systems/cascadegate/pkg/config"
	"github.com/zen-systems/cascadegate/pkg/schema"
)

// Classifier labels queries with a domain and complexity tier by blending a
// rule signal with an optional semantic signal.
type Classifier struct {
	cfg      config.ClassifierConfig
	rules    *RuleSet
	semantic Similarity
	logger   zerolog.Logger
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithSimilarity enables the semantic pass.
func WithSimilarity(s Similarity) ClassifierOption {
	return func(c *Classifier) {
		c.semantic = s
	}
}

// WithLogger sets the classifier logger.
func WithLogger(logger zerolog.Logger) ClassifierOption {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// NewClassifier creates a classifier from the cascade configuration.
func NewClassifier(cfg *config.CascadeConfig, opts ...ClassifierOption) *Classifier {
	if cfg == nil {
		cfg = config.DefaultCascadeConfig()
	}
	c := &Classifier{
		cfg:    cfg.Classifier,
		rules:  NewRuleSet(cfg.Domains),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "classifier").Logger()
	return c
}

// HasSemantic reports whether a semantic source is configured.
func (c *Classifier) HasSemantic() bool {
	return c.semantic != nil
}

// Classify labels a query. Caller hints take precedence over both signals.
// It never fails: semantic errors degrade to the rule signal.
func (c *Classifier) Classify(ctx context.Context, q *schema.Query) *Classification {
	text := ""
	if q != nil {
		text = q.Prompt
		if strings.TrimSpace(text) == "" && len(q.History) > 0 {
			text = q.History[len(q.History)-1].Content
		}
	}
	result := c.ClassifyText(ctx, text)
	if q == nil {
		return result
	}

	if hint := strings.TrimSpace(q.DomainHint); hint != "" {
		result.Domain = hint
		result.Confidence = 1
		result.Path = PathHint
		result.Reasons = append(result.Reasons, "domain hint supplied by caller")
	}
	if hint := strings.TrimSpace(q.ComplexityHint); hint != "" {
		if tier, ok := ParseComplexity(hint); ok {
			result.Complexity = tier
			result.Reasons = append(result.Reasons, "complexity hint supplied by caller")
		} else {
			result.Reasons = append(result.Reasons, fmt.Sprintf("ignored unknown complexity hint %q", hint))
		}
	}
	return result
}

// ClassifyText labels free text.
func (c *Classifier) ClassifyText(ctx context.Context, text string) *Classification {
	rule := c.rules.Signal(text)
	result := &Classification{
		Complexity: ClassifyComplexity(text),
		Rule:       rule,
	}
	if rule.Reason != "" {
		result.Reasons = append(result.Reasons, rule.Reason)
	}

	if isLocked(rule, c.cfg) {
		result.Domain, result.Confidence, result.Path = rule.Domain, rule.Confidence, PathRuleLock
		c.log(result)
		return result
	}

	var sem Signal
	if c.semantic != nil {
		scores, err := c.semantic.Similarity(ctx, text)
		switch {
		case err != nil:
			result.Reasons = append(result.Reasons, fmt.Sprintf("semantic error: %v", err))
			c.logger.Warn().Err(err).Str("strategy", c.semantic.Name()).Msg("semantic pass failed; using rules only")
		case len(scores) == 0:
			result.Reasons = append(result.Reasons, "semantic pass returned no labels")
		default:
			sem = semanticSignal(scores)
			result.SemanticStrategy = c.semantic.Name()
		}
	}
	result.Semantic = sem

	result.Domain, result.Confidence, result.Path = Blend(rule, sem, c.cfg)
	c.log(result)
	return result
}

func (c *Classifier) log(result *Classification) {
	c.logger.Debug().
		Str("domain", result.Domain).
		Float64("confidence", result.Confidence).
		Str("complexity", string(result.Complexity)).
		Str("path", result.Path).
		Msg("classified")
}

func isLocked(rule Signal, cfg config.ClassifierConfig) bool {
	return rule.Computed && rule.Confidence >= cfg.LockConfidence && rule.Margin >= cfg.LockMargin
}

// Blend applies the adaptive policy, first match wins: rule lock, semantic
// override, then a blend that weights the rule signal by its own confidence.
func Blend(rule, sem Signal, cfg config.ClassifierConfig) (domain string, confidence float64, path string) {
	if isLocked(rule, cfg) {
		return rule.Domain, rule.Confidence, PathRuleLock
	}
	if !sem.Computed {
		if !rule.Computed {
			return DefaultDomain, 0, PathRuleOnly
		}
		return rule.Domain, rule.Confidence, PathRuleOnly
	}
	if sem.Confidence >= cfg.OverrideConfidence && sem.Margin >= cfg.OverrideMargin && sem.Domain != rule.Domain {
		return sem.Domain, sem.Confidence, PathSemanticOverride
	}

	weight := clamp01(cfg.BlendRuleWeight * rule.Confidence)
	labels := map[string]bool{}
	for _, c := range rule.Candidates {
		labels[c.Domain] = true
	}
	for _, c := range sem.Candidates {
		labels[c.Domain] = true
	}
	if len(labels) == 0 {
		return DefaultDomain, 0, PathWeightedBlend
	}

	names := make([]string, 0, len(labels))
	for l := range labels {
		names = append(names, l)
	}
	sort.Strings(names)

	best, bestScore := "", -1.0
	for _, l := range names {
		combined := weight*rule.score(l) + (1-weight)*sem.score(l)
		if combined > bestScore || (combined == bestScore && l == rule.Domain) {
			best, bestScore = l, combined
		}
	}
	return best, clamp01(bestScore), PathWeightedBlend
}
