package router

// Classification paths.
const (
	PathHint             = "hint"
	PathRuleLock         = "rule_lock"
	PathSemanticOverride = "semantic_override"
	PathWeightedBlend    = "weighted_blend"
	PathRuleOnly         = "rule_only"
)

// Candidate captures one scored domain label.
type Candidate struct {
	Domain   string   `json:"domain"`
	Score    float64  `json:"score"`
	Triggers []string `json:"triggers,omitempty"`
}

// Signal is the output of one classification source.
type Signal struct {
	Domain     string      `json:"domain"`
	Confidence float64     `json:"confidence"`
	Margin     float64     `json:"margin"`
	Computed   bool        `json:"computed"`
	Candidates []Candidate `json:"candidates,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// score returns the signal's confidence for a label.
func (s Signal) score(label string) float64 {
	if !s.Computed || len(s.Candidates) == 0 {
		return 0
	}
	top := s.Candidates[0].Score
	if top <= 0 {
		return 0
	}
	for _, c := range s.Candidates {
		if c.Domain == label {
			return s.Confidence * c.Score / top
		}
	}
	return 0
}

// Classification is the hybrid domain and complexity decision for a query.
type Classification struct {
	Domain           string     `json:"domain"`
	Confidence       float64    `json:"confidence"`
	Complexity       Complexity `json:"complexity"`
	Rule             Signal     `json:"rule"`
	Semantic         Signal     `json:"semantic"`
	Path             string     `json:"path"`
	SemanticStrategy string     `json:"semantic_strategy,omitempty"`
	Reasons          []string   `json:"reasons,omitempty"`
}
