package router

import (
	"math"
	"testing"

	"github.com/zen-systems/cascadegate/pkg/config"
)

func TestSignalDefaultDomains(t *testing.T) {
	rs := NewRuleSet(config.DefaultDomains())

	tests := []struct {
		name           string
		prompt         string
		expectedDomain string
	}{
		{
			name:           "implement trigger",
			prompt:         "Implement a binary search function",
			expectedDomain: "code",
		},
		{
			name:           "creative trigger",
			prompt:         "Write a poem about autumn",
			expectedDomain: "creative",
		},
		{
			name:           "conversation trigger",
			prompt:         "Hello, how are you today?",
			expectedDomain: "conversation",
		},
		{
			name:           "data trigger",
			prompt:         "Aggregate this CSV by region",
			expectedDomain: "data",
		},
		{
			name:           "default - no trigger match",
			prompt:         "Please reflect quietly",
			expectedDomain: DefaultDomain,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := rs.Signal(tt.prompt)
			if sig.Domain != tt.expectedDomain {
				t.Errorf("Signal() domain = %v, want %v", sig.Domain, tt.expectedDomain)
			}
		})
	}
}

func TestSignalConfidence(t *testing.T) {
	rs := NewRuleSet(map[string]config.DomainConfig{
		"alpha": {Triggers: []string{"alpha", "beta", "gamma"}},
		"beta":  {Triggers: []string{"alpha", "beta"}},
	})

	sig := rs.Signal("alpha beta gamma")
	if sig.Domain != "alpha" {
		t.Fatalf("expected alpha, got %s", sig.Domain)
	}
	if len(sig.Candidates) < 2 {
		t.Fatalf("expected candidates")
	}
	if sig.Candidates[0].Score != 3 || sig.Candidates[1].Score != 2 {
		t.Fatalf("unexpected scores: %+v", sig.Candidates)
	}

	want := 0.55
	if math.Abs(sig.Confidence-want) > 0.02 {
		t.Fatalf("confidence mismatch: got %.2f want %.2f", sig.Confidence, want)
	}
	if math.Abs(sig.Margin-1.0/3.0) > 1e-9 {
		t.Fatalf("margin mismatch: got %.3f", sig.Margin)
	}
}

func TestSignalStrongMatch(t *testing.T) {
	rs := NewRuleSet(map[string]config.DomainConfig{
		"alpha": {Triggers: []string{"alpha", "beta", "gamma"}},
		"beta":  {Triggers: []string{"delta"}},
	})

	sig := rs.Signal("alpha beta gamma")
	if sig.Domain != "alpha" {
		t.Fatalf("expected alpha, got %s", sig.Domain)
	}
	if sig.Confidence < 0.9 {
		t.Fatalf("expected high confidence, got %.2f", sig.Confidence)
	}
	if sig.Margin != 1 {
		t.Fatalf("expected full margin, got %.2f", sig.Margin)
	}
}

func TestSignalNoMatches(t *testing.T) {
	rs := NewRuleSet(map[string]config.DomainConfig{
		"alpha": {Triggers: []string{"alpha"}},
	})

	sig := rs.Signal("no matches here")
	if sig.Domain != DefaultDomain {
		t.Fatalf("expected default, got %s", sig.Domain)
	}
	if sig.Confidence != 0 || sig.Computed {
		t.Fatalf("expected empty signal, got %+v", sig)
	}
	if len(sig.Candidates) != 0 {
		t.Fatalf("expected no candidates")
	}
}

func TestContainsTrigger(t *testing.T) {
	tests := []struct {
		name     string
		prompt   string
		trigger  string
		expected bool
	}{
		{
			name:     "exact match at start",
			prompt:   "research this topic",
			trigger:  "research",
			expected: true,
		},
		{
			name:     "exact match at end",
			prompt:   "do some research",
			trigger:  "research",
			expected: true,
		},
		{
			name:     "partial word - should not match",
			prompt:   "preresearch the topic",
			trigger:  "research",
			expected: false,
		},
		{
			name:     "partial word suffix - should not match",
			prompt:   "researching the topic",
			trigger:  "research",
			expected: false,
		},
		{
			name:     "later whole-word occurrence",
			prompt:   "researching is research",
			trigger:  "research",
			expected: true,
		},
		{
			name:     "multi-word trigger",
			prompt:   "write a function to parse json",
			trigger:  "write a function",
			expected: true,
		},
		{
			name:     "trigger with punctuation after",
			prompt:   "fix, the bug",
			trigger:  "fix",
			expected: true,
		},
		{
			name:     "empty trigger",
			prompt:   "anything",
			trigger:  "",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := containsTrigger(tt.prompt, tt.trigger)
			if result != tt.expected {
				t.Errorf("containsTrigger(%q, %q) = %v, want %v",
					tt.prompt, tt.trigger, result, tt.expected)
			}
		})
	}
}

func TestSignalMultiWordTrigger(t *testing.T) {
	rs := NewRuleSet(config.DefaultDomains())

	// "write a function" and "function" both count for code; "write a" only
	// counts once for creative.
	sig := rs.Signal("Write a function to reverse a list")
	if sig.Domain != "code" {
		t.Fatalf("expected code, got %s", sig.Domain)
	}
	if len(sig.Candidates) < 2 || sig.Candidates[1].Domain != "creative" {
		t.Fatalf("expected creative runner-up, got %+v", sig.Candidates)
	}
	if sig.Margin != 0.5 {
		t.Fatalf("expected margin 0.5, got %.2f", sig.Margin)
	}
}

func TestClassifyComplexity(t *testing.T) {
	tests := []struct {
		query string
		want  Complexity
	}{
		{"What is 2+2?", ComplexityTrivial},
		{"hi", ComplexitySimple},
		{"Translate this paragraph", ComplexitySimple},
		{"Prove Fermat's theorem", ComplexitySimple},
		{"What is the capital of France?", ComplexitySimple},
		{"How do tides work?", ComplexityModerate},
		{"Explain closures in JavaScript", ComplexityComplex},
		{"Should I use microservices or a monolith?", ComplexityExpert},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := ClassifyComplexity(tt.query); got != tt.want {
				t.Fatalf("ClassifyComplexity(%q) = %s, want %s", tt.query, got, tt.want)
			}
		})
	}

	if tier, ok := ParseComplexity(" Expert "); !ok || tier != ComplexityExpert {
		t.Fatalf("ParseComplexity failed: %v %v", tier, ok)
	}
	if ComplexityTrivial.Rank() >= ComplexityExpert.Rank() {
		t.Fatalf("tiers out of order")
	}
}
