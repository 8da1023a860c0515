package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zen-systems/cascadegate/pkg/config"
)

// DefaultDomain is returned when no rule or semantic signal applies.
const DefaultDomain = "general"

// RuleSet scores prompts against the domain trigger table.
type RuleSet struct {
	domains map[string]config.DomainConfig
}

// NewRuleSet creates a new rule set from the domain table.
func NewRuleSet(domains map[string]config.DomainConfig) *RuleSet {
	return &RuleSet{domains: domains}
}

// Signal scores domains using trigger matches. Confidence grows with the number
// of matched triggers and with the separation from the runner-up.
func (rs *RuleSet) Signal(prompt string) Signal {
	promptLower := strings.ToLower(prompt)

	var candidates []Candidate
	for name, domain := range rs.domains {
		var matched []string
		for _, trig := range domain.Triggers {
			if containsTrigger(promptLower, strings.ToLower(trig)) {
				matched = append(matched, trig)
			}
		}
		if len(matched) == 0 {
			continue
		}
		candidates = append(candidates, Candidate{
			Domain:   name,
			Score:    float64(len(matched)),
			Triggers: matched,
		})
	}

	if len(candidates) == 0 {
		return Signal{
			Domain: DefaultDomain,
			Reason: "no triggers matched",
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score == candidates[j].Score {
			return candidates[i].Domain < candidates[j].Domain
		}
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) > 3 {
		candidates = candidates[:3]
	}

	topScore := int(candidates[0].Score)
	secondScore := 0
	if len(candidates) > 1 {
		secondScore = int(candidates[1].Score)
	}

	margin := float64(topScore-secondScore) / float64(max(topScore, 1))
	strength := float64(min(topScore, 5)) / 5.0
	confidence := 0.75*margin + 0.25*strength
	if topScore >= 2 && secondScore == 0 {
		confidence = maxFloat(confidence, 0.9)
	}
	if topScore >= 3 {
		confidence = minFloat(confidence+0.15, 1.0)
	}

	return Signal{
		Domain:     candidates[0].Domain,
		Confidence: confidence,
		Margin:     margin,
		Computed:   true,
		Candidates: candidates,
		Reason:     fmt.Sprintf("top_score=%d second_score=%d", topScore, secondScore),
	}
}

// containsTrigger checks if the prompt contains the trigger phrase.
// It looks for the trigger as a word or phrase boundary match.
func containsTrigger(prompt, trigger string) bool {
	if trigger == "" {
		return false
	}
	for offset := 0; offset < len(prompt); {
		idx := strings.Index(prompt[offset:], trigger)
		if idx == -1 {
			return false
		}
		idx += offset

		endIdx := idx + len(trigger)
		beforeOK := idx == 0 || !isWordChar(prompt[idx-1])
		afterOK := endIdx >= len(prompt) || !isWordChar(prompt[endIdx])
		if beforeOK && afterOK {
			return true
		}
		offset = idx + 1
	}
	return false
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clamp01(v float64) float64 {
	return maxFloat(0, minFloat(1, v))
}
