package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/zen-systems/cascadegate/pkg/schema"
	"gopkg.in/yaml.v3"
)

// CascadeConfig holds the draft/verifier cascade configuration.
type CascadeConfig struct {
	Models             []ModelRef              `yaml:"models"`
	Thresholds         ThresholdConfig         `yaml:"thresholds,omitempty"`
	DirectComplexities []string                `yaml:"direct_complexities,omitempty"`
	Retry              RetryConfig             `yaml:"retry,omitempty"`
	Timeouts           TimeoutConfig           `yaml:"timeouts,omitempty"`
	Classifier         ClassifierConfig        `yaml:"classifier,omitempty"`
	Domains            map[string]DomainConfig `yaml:"domains,omitempty"`
	Tools              ToolPolicyConfig        `yaml:"tools,omitempty"`
	Pricing            PricingConfig           `yaml:"pricing,omitempty"`
	RateLimits         map[string]RateLimit    `yaml:"rate_limits,omitempty"`
	Archive            ArchiveConfig           `yaml:"archive,omitempty"`
}

// ModelRef references one model in the cascade, tagged by role.
type ModelRef struct {
	Role     schema.Role `yaml:"role"`
	Adapter  string      `yaml:"adapter"`
	Model    string      `yaml:"model"`
	UnitCost float64     `yaml:"unit_cost,omitempty"`
}

// ThresholdConfig defines acceptance thresholds for text drafts.
type ThresholdConfig struct {
	Default              float64            `yaml:"default,omitempty"`
	Complexity           map[string]float64 `yaml:"complexity,omitempty"`
	Adaptive             bool               `yaml:"adaptive,omitempty"`
	TargetEscalationRate float64            `yaml:"target_escalation_rate,omitempty"`
}

// RetryConfig defines the cascade retry bound and transport backoff.
type RetryConfig struct {
	// MaxRetries is the number of draft retries before escalation. Nil means the default.
	MaxRetries          *int `yaml:"max_retries,omitempty"`
	// MaxTransientRetries bounds transport retries inside one step. Nil means
	// the default; zero disables them.
	MaxTransientRetries *int `yaml:"max_transient_retries,omitempty"`
	BaseBackoffMs       int  `yaml:"base_backoff_ms,omitempty"`
	MaxBackoffMs        int  `yaml:"max_backoff_ms,omitempty"`
}

// Retries returns the configured draft retry bound.
func (r RetryConfig) Retries() int {
	if r.MaxRetries == nil || *r.MaxRetries < 0 {
		return DefaultMaxRetries
	}
	return *r.MaxRetries
}

// TransientRetries returns the configured transport retry bound.
func (r RetryConfig) TransientRetries() int {
	if r.MaxTransientRetries == nil || *r.MaxTransientRetries < 0 {
		return DefaultMaxTransientRetries
	}
	return *r.MaxTransientRetries
}

// TimeoutConfig bounds each generation step independently.
type TimeoutConfig struct {
	DraftMs    int `yaml:"draft_ms,omitempty"`
	VerifierMs int `yaml:"verifier_ms,omitempty"`
	ToolMs     int `yaml:"tool_ms,omitempty"`
}

// ClassifierConfig controls the hybrid domain classifier.
type ClassifierConfig struct {
	LockConfidence     float64             `yaml:"lock_confidence,omitempty"`
	LockMargin         float64             `yaml:"lock_margin,omitempty"`
	OverrideConfidence float64             `yaml:"override_confidence,omitempty"`
	OverrideMargin     float64             `yaml:"override_margin,omitempty"`
	BlendRuleWeight    float64             `yaml:"blend_rule_weight,omitempty"`
	Semantic           string              `yaml:"semantic,omitempty"` // "none", "llm", "exemplar"
	SemanticAdapter    string              `yaml:"semantic_adapter,omitempty"`
	SemanticModel      string              `yaml:"semantic_model,omitempty"`
	Exemplars          map[string][]string `yaml:"exemplars,omitempty"`
}

// DomainConfig defines one domain label.
type DomainConfig struct {
	Triggers  []string `yaml:"triggers"`
	Threshold float64  `yaml:"threshold,omitempty"`
}

// ToolPolicyConfig controls tool-call routing and validation.
type ToolPolicyConfig struct {
	MinConfidence      float64           `yaml:"min_confidence,omitempty"`
	MaxTurns           int               `yaml:"max_turns,omitempty"`
	AutoExecute        bool              `yaml:"auto_execute,omitempty"`
	StrictTiers        []string          `yaml:"strict_tiers,omitempty"`
	RiskOverrides      map[string]string `yaml:"risk_overrides,omitempty"`
	VerifierAfterTools []string          `yaml:"verifier_after_tools,omitempty"`
	Workspace          string            `yaml:"workspace,omitempty"`
}

// PricingConfig maps adapter -> model -> pricing.
type PricingConfig map[string]map[string]ModelPricing

// ModelPricing defines per-1k token pricing.
type ModelPricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k,omitempty"`
	CompletionPer1K float64 `yaml:"completion_per_1k,omitempty"`
}

// RateLimit throttles one adapter.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst,omitempty"`
}

// ArchiveConfig enables the SQLite metrics archive.
type ArchiveConfig struct {
	Path string `yaml:"path,omitempty"`
}

// Defaults applied when the file leaves a field unset.
const (
	DefaultMaxRetries          = 2
	DefaultMaxTransientRetries = 2
	DefaultThreshold           = 0.7
	DefaultDraftTimeoutMs      = 30000
	DefaultVerifierTimeout     = 60000
	DefaultMaxTurns            = 4
)

// LoadCascadeConfig reads cascade configuration from a YAML file.
func LoadCascadeConfig(path string) (*CascadeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg CascadeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyCascadeDefaults(&cfg)
	return &cfg, nil
}

// DefaultCascadeConfig returns a mock-backed cascade with the default domain table.
func DefaultCascadeConfig() *CascadeConfig {
	cfg := &CascadeConfig{
		Models: []ModelRef{
			{Role: schema.RoleDraft, Adapter: "mock", Model: "mock-draft", UnitCost: 0.1},
			{Role: schema.RoleVerifier, Adapter: "mock", Model: "mock-verifier", UnitCost: 1.0},
		},
		Domains: DefaultDomains(),
	}
	applyCascadeDefaults(cfg)
	return cfg
}

// DefaultDomains returns the built-in domain trigger table.
func DefaultDomains() map[string]DomainConfig {
	return map[string]DomainConfig{
		"code": {
			Triggers: []string{"code", "function", "implement", "refactor", "debug", "compile", "golang", "python", "stack trace", "unit test", "write a function", "bug"},
		},
		"math": {
			Triggers: []string{"calculate", "equation", "integral", "derivative", "proof", "solve", "sum", "probability", "what is"},
		},
		"data": {
			Triggers: []string{"sql", "query", "table", "csv", "dataset", "aggregate", "schema", "json"},
		},
		"creative": {
			Triggers: []string{"story", "poem", "write a", "lyrics", "slogan", "imagine", "creative"},
		},
		"factual": {
			Triggers: []string{"who", "when", "where", "capital", "history", "define", "fact"},
		},
		"reasoning": {
			Triggers: []string{"why", "explain", "step by step", "reason", "compare", "tradeoff", "analyze", "deduce"},
		},
		"tool_use": {
			Triggers: []string{"weather", "search", "look up", "fetch", "send", "delete", "book", "schedule", "run"},
		},
		"conversation": {
			Triggers: []string{"hello", "hi", "thanks", "thank you", "how are you", "chat"},
		},
	}
}

func applyCascadeDefaults(cfg *CascadeConfig) {
	if cfg == nil {
		return
	}
	if cfg.Thresholds.Default == 0 {
		cfg.Thresholds.Default = DefaultThreshold
	}
	if cfg.Thresholds.TargetEscalationRate == 0 {
		cfg.Thresholds.TargetEscalationRate = 0.2
	}
	if cfg.Retry.BaseBackoffMs == 0 {
		cfg.Retry.BaseBackoffMs = 200
	}
	if cfg.Retry.MaxBackoffMs == 0 {
		cfg.Retry.MaxBackoffMs = 2000
	}
	if cfg.Retry.MaxBackoffMs < cfg.Retry.BaseBackoffMs {
		cfg.Retry.MaxBackoffMs = cfg.Retry.BaseBackoffMs
	}
	if cfg.Timeouts.DraftMs == 0 {
		cfg.Timeouts.DraftMs = DefaultDraftTimeoutMs
	}
	if cfg.Timeouts.VerifierMs == 0 {
		cfg.Timeouts.VerifierMs = DefaultVerifierTimeout
	}
	if cfg.Timeouts.ToolMs == 0 {
		cfg.Timeouts.ToolMs = 10000
	}
	c := &cfg.Classifier
	if c.LockConfidence == 0 {
		c.LockConfidence = 0.85
	}
	if c.LockMargin == 0 {
		c.LockMargin = 0.3
	}
	if c.OverrideConfidence == 0 {
		c.OverrideConfidence = 0.8
	}
	if c.OverrideMargin == 0 {
		c.OverrideMargin = 0.15
	}
	if c.BlendRuleWeight == 0 {
		c.BlendRuleWeight = 1.0
	}
	if c.Semantic == "" {
		c.Semantic = "none"
	}
	if len(cfg.Domains) == 0 {
		cfg.Domains = DefaultDomains()
	}
	if cfg.Tools.MinConfidence == 0 {
		cfg.Tools.MinConfidence = 0.3
	}
	if cfg.Tools.MaxTurns == 0 {
		cfg.Tools.MaxTurns = DefaultMaxTurns
	}
	if len(cfg.Tools.StrictTiers) == 0 {
		cfg.Tools.StrictTiers = []string{"complex", "expert"}
	}
}

// ApplyDefaults fills unset fields of a programmatically built config.
func (c *CascadeConfig) ApplyDefaults() *CascadeConfig {
	applyCascadeDefaults(c)
	return c
}

// Model returns the first model reference with the given role.
func (c *CascadeConfig) Model(role schema.Role) (ModelRef, bool) {
	if c == nil {
		return ModelRef{}, false
	}
	for _, m := range c.Models {
		if m.Role == role {
			return m, true
		}
	}
	return ModelRef{}, false
}

// DomainNames returns the configured domain labels in sorted order.
func (c *CascadeConfig) DomainNames() []string {
	names := make([]string, 0, len(c.Domains))
	for name := range c.Domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate reports structural problems that make the cascade unusable.
func (c *CascadeConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("cascade config is nil")
	}
	var problems []string
	for _, role := range []schema.Role{schema.RoleDraft, schema.RoleVerifier} {
		ref, ok := c.Model(role)
		if !ok {
			problems = append(problems, fmt.Sprintf("missing %s model", role))
			continue
		}
		if ref.Adapter == "" || ref.Model == "" {
			problems = append(problems, fmt.Sprintf("%s model needs adapter and model", role))
		}
	}
	for _, m := range c.Models {
		if m.Role != schema.RoleDraft && m.Role != schema.RoleVerifier {
			problems = append(problems, fmt.Sprintf("model %q has unknown role %q", m.Model, m.Role))
		}
		if m.UnitCost < 0 {
			problems = append(problems, fmt.Sprintf("model %q has negative unit cost", m.Model))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}
