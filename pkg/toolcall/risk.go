package toolcall

import (
	"fmt"
	"strings"

	"github.com/zen-systems/cascadegate/pkg/config"
	"github.com/zen-systems/cascadegate/pkg/schema"
)

// RiskTier is a tool's blast radius.
type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskMedium   RiskTier = "medium"
	RiskCritical RiskTier = "critical"
)

func (t RiskTier) rank() int {
	switch t {
	case RiskCritical:
		return 2
	case RiskMedium:
		return 1
	}
	return 0
}

// ParseRiskTier parses a tier name.
func ParseRiskTier(s string) (RiskTier, error) {
	switch RiskTier(strings.ToLower(strings.TrimSpace(s))) {
	case RiskLow:
		return RiskLow, nil
	case RiskMedium:
		return RiskMedium, nil
	case RiskCritical:
		return RiskCritical, nil
	}
	return "", fmt.Errorf("unknown risk tier %q", s)
}

// Strategy is the routing choice for a tool query.
type Strategy string

const (
	StrategySkip    Strategy = "skip"
	StrategyCascade Strategy = "cascade"
	StrategyDirect  Strategy = "direct"
)

// RoutingDecision is computed fresh for every query.
type RoutingDecision struct {
	Tier       RiskTier `json:"tier"`
	Strategy   Strategy `json:"strategy"`
	Confidence float64  `json:"confidence"`
	Tools      []string `json:"tools,omitempty"`
	Reason     string   `json:"reason"`
}

var (
	criticalTokens = []string{
		"delete", "remove", "rm", "drop", "truncate", "destroy", "purge", "wipe", "erase",
		"overwrite", "exec", "execute", "shell", "bash", "command", "cmd", "run", "eval",
		"kill", "terminate", "format", "transfer", "payment", "pay", "deploy", "shutdown",
		"reboot", "chmod", "chown", "sudo", "admin",
	}
	mediumTokens = []string{
		"search", "fetch", "http", "request", "web", "browse", "url", "download", "upload",
		"send", "email", "post", "publish", "write", "create", "update", "edit", "save",
		"book", "schedule", "order", "api", "network", "sql", "query", "insert", "move", "rename",
	}
	criticalCategories = map[string]bool{"destructive": true, "shell": true, "execution": true, "admin": true, "payment": true}
	mediumCategories   = map[string]bool{"network": true, "search": true, "web": true, "write": true, "messaging": true, "filesystem": true, "database": true}
	lowCategories      = map[string]bool{"read": true, "readonly": true, "read-only": true, "info": true, "informational": true, "math": true, "lookup": true}
)

// Router classifies tool risk and picks a routing strategy.
type Router struct {
	minConfidence float64
	overrides     map[string]RiskTier
}

// NewRouter creates a risk router from tool policy configuration.
func NewRouter(cfg config.ToolPolicyConfig) *Router {
	r := &Router{minConfidence: cfg.MinConfidence, overrides: map[string]RiskTier{}}
	for name, tier := range cfg.RiskOverrides {
		if t, err := ParseRiskTier(tier); err == nil {
			r.overrides[name] = t
		}
	}
	return r
}

// MinConfidence returns the skip threshold.
func (r *Router) MinConfidence() float64 {
	return r.minConfidence
}

// ClassifyRiskTier statically classifies a tool by override, category, then name tokens.
func (r *Router) ClassifyRiskTier(tool schema.ToolSchema) RiskTier {
	if t, ok := r.overrides[tool.Name]; ok {
		return t
	}
	category := strings.ToLower(strings.TrimSpace(tool.Category))
	switch {
	case criticalCategories[category]:
		return RiskCritical
	case mediumCategories[category]:
		// A destructive name in a medium category still escalates.
		if hasToken(tool.Name, criticalTokens) {
			return RiskCritical
		}
		return RiskMedium
	case lowCategories[category]:
		if hasToken(tool.Name, criticalTokens) {
			return RiskCritical
		}
		return RiskLow
	}

	switch {
	case hasToken(tool.Name, criticalTokens):
		return RiskCritical
	case hasToken(tool.Name, mediumTokens):
		return RiskMedium
	}
	return RiskLow
}

// Route picks skip, direct or cascade for the tools a query involves.
// Involved tools are the detector's hints that are declared, or every declared tool.
func (r *Router) Route(tools []schema.ToolSchema, det *Detection) *RoutingDecision {
	conf := 0.0
	var hints []string
	if det != nil {
		conf = det.Confidence
		hints = det.ToolHints
	}

	involved := involvedTools(tools, hints)
	decision := &RoutingDecision{Tier: RiskLow, Confidence: conf}
	for _, t := range involved {
		decision.Tools = append(decision.Tools, t.Name)
		if tier := r.ClassifyRiskTier(t); tier.rank() > decision.Tier.rank() {
			decision.Tier = tier
		}
	}

	switch {
	case len(tools) == 0 || conf < r.minConfidence || (det != nil && !det.ShouldCall):
		decision.Strategy = StrategySkip
		decision.Reason = fmt.Sprintf("detector confidence %.2f below %.2f", conf, r.minConfidence)
		if len(tools) == 0 {
			decision.Reason = "no tools declared"
		}
	case decision.Tier == RiskCritical:
		decision.Strategy = StrategyDirect
		decision.Reason = "critical tool involved"
	default:
		decision.Strategy = StrategyCascade
		decision.Reason = fmt.Sprintf("%s risk at confidence %.2f", decision.Tier, conf)
	}
	return decision
}

func involvedTools(tools []schema.ToolSchema, hints []string) []schema.ToolSchema {
	var out []schema.ToolSchema
	for _, h := range hints {
		if t, ok := schema.FindTool(tools, h); ok {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return tools
	}
	return out
}

// hasToken matches tokens against the snake, kebab, dotted or camel-case parts of a name.
func hasToken(name string, tokens []string) bool {
	parts := splitName(name)
	for _, p := range parts {
		for _, tok := range tokens {
			if p == tok {
				return true
			}
		}
	}
	return false
}

func splitName(name string) []string {
	var parts []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}
	for i, c := range name {
		switch {
		case c == '_' || c == '-' || c == '.' || c == ' ' || c == '/':
			flush()
		case c >= 'A' && c <= 'Z' && i > 0:
			flush()
			cur.WriteRune(c)
		default:
			cur.WriteRune(c)
		}
	}
	flush()
	return parts
}
