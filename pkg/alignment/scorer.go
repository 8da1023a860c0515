// Package alignment scores how well a candidate response answers its query.
package alignment

import (
	"fmt"
	"regexp"
	"strings"
)

// RuleSetVersion identifies the ordered boost rule set. Bump it whenever a
// rule, its order or its weight changes so recorded scores stay comparable.
const RuleSetVersion = "2"

// Baseline paths recorded on every analysis.
const (
	PathTrivial     = "trivial-shortcircuit"
	PathLongContext = "long-context-v" + RuleSetVersion
	PathStandard    = "standard-v" + RuleSetVersion
)

// TrivialScore is returned for non-empty, non-refusal answers to trivial queries.
const TrivialScore = 0.95

// Shape is a detected query shape.
type Shape string

const (
	ShapeTrivial      Shape = "trivial"
	ShapeLongContext  Shape = "long_context_qa"
	ShapeFunctionCall Shape = "function_call"
	ShapeShortAnswer  Shape = "short_answer"
)

// BoostRule is one additive, capped boost keyed to a query shape.
type BoostRule struct {
	Name   string
	Shape  Shape
	Amount float64
	// applies reports whether the response earns the boost.
	applies func(q *queryInfo, r *responseInfo) bool
}

// BoostRules is applied in this order. Each step is capped at 1.0.
var BoostRules = []BoostRule{
	{
		Name:   "long_context_qa",
		Shape:  ShapeLongContext,
		Amount: 0.15,
		applies: func(q *queryInfo, r *responseInfo) bool {
			return r.words > 0 && r.words*2 < q.words && r.coverage > 0
		},
	},
	{
		Name:   "function_call",
		Shape:  ShapeFunctionCall,
		Amount: 0.20,
		applies: func(q *queryInfo, r *responseInfo) bool {
			return r.callFormat
		},
	},
	{
		Name:   "short_answer",
		Shape:  ShapeShortAnswer,
		Amount: 0.15,
		applies: func(q *queryInfo, r *responseInfo) bool {
			return r.words > 0 && r.words <= shortAnswerWords
		},
	},
}

// Score weights for the base signal.
const (
	weightCoverage  = 0.55
	weightLengthFit = 0.25
	weightBaseline  = 0.20

	refusalMultiplier   = 0.3
	defaultBaseline     = 0.5
	shortAnswerWords    = 30
	longContextWords    = 250
	longContextChars    = 1500
	verboseAnswerWords  = 400
	minKeywordLength    = 3
	neutralKeywordScore = 0.5
)

// Analysis is the result of scoring one response.
type Analysis struct {
	Score     float64            `json:"score"`
	Features  map[string]float64 `json:"features"`
	Rationale string             `json:"rationale"`
	Rules     []string           `json:"rules"`
	Shapes    []Shape            `json:"shapes,omitempty"`
	Trivial   bool               `json:"trivial"`
	Baseline  string             `json:"baseline"`
	Version   string             `json:"version"`
}

// Scorer computes alignment analyses. The zero value is ready to use.
type Scorer struct{}

// NewScorer returns a scorer using the current rule set.
func NewScorer() *Scorer {
	return &Scorer{}
}

var (
	arithmeticPattern = regexp.MustCompile(`(?i)^\s*(?:what\s+is|what's|calculate|compute|evaluate|solve)?\s*[-+*/^%().\d\sx×÷=]+\s*\??\s*$`)
	operatorPattern   = regexp.MustCompile(`\d\s*[-+*/^%x×÷]\s*\(?\s*\d`)
	tokenPattern      = regexp.MustCompile(`[a-z0-9]+`)
	jsonCallPattern   = regexp.MustCompile(`(?s)^\s*(?:` + "```" + `(?:json)?\s*)?[\[{].*"(?:name|function|tool)"\s*:`)
	funcCallPattern   = regexp.MustCompile(`^\s*[A-Za-z_][\w.]*\s*\([^()]*\)\s*;?\s*$`)
)

var refusalPhrases = []string{
	"i can't", "i cannot", "i can not", "i'm unable", "i am unable", "i'm not able", "i am not able",
	"as an ai", "i don't know", "i do not know", "i won't", "i will not", "unable to help",
	"not able to answer", "i'm sorry, but", "i apologize, but",
}

var functionCallCues = []string{
	"function call", "call the", "invoke", "use the tool", "tool call", "respond with json",
	"return json", "as json", "api call", "call function", "json object",
}

var shortAnswerOpeners = []string{
	"who", "when", "where", "which", "how many", "how much", "how old", "what year",
	"what is the name", "what's the name", "is", "are", "does", "do", "did", "can", "was", "were",
}

var shortAnswerCues = []string{
	"one word", "single word", "briefly", "short answer", "yes or no", "just the number", "only the",
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true, "you": true,
	"all": true, "any": true, "can": true, "had": true, "her": true, "was": true, "one": true,
	"our": true, "out": true, "has": true, "have": true, "what": true, "when": true, "where": true,
	"which": true, "who": true, "why": true, "how": true, "this": true, "that": true, "with": true,
	"from": true, "into": true, "does": true, "did": true, "about": true, "would": true, "could": true,
	"should": true, "there": true, "their": true, "them": true, "then": true, "than": true, "these": true,
	"those": true, "please": true, "tell": true, "give": true, "explain": true, "your": true, "its": true,
	"will": true, "been": true, "being": true, "some": true, "more": true, "most": true, "also": true,
}

type queryInfo struct {
	text     string
	focus    string
	words    int
	keywords []string
	shapes   map[Shape]bool
}

type responseInfo struct {
	words      int
	coverage   float64
	lengthFit  float64
	refusal    bool
	callFormat bool
}

// Score computes the alignment of response to query. baselineConfidence is the
// drafter's prior (values <= 0 use a neutral prior). Deterministic and side-effect free.
func (s *Scorer) Score(query, response string, baselineConfidence float64, trivialHint bool) *Analysis {
	q := analyzeQuery(query, trivialHint)
	trimmed := strings.TrimSpace(response)

	a := &Analysis{
		Features: map[string]float64{},
		Version:  RuleSetVersion,
		Shapes:   q.orderedShapes(),
	}

	if q.shapes[ShapeTrivial] {
		a.Trivial = true
		a.Baseline = PathTrivial
		a.Rules = append(a.Rules, "trivial_shortcircuit")
		refusal := isRefusal(trimmed)
		switch {
		case trimmed == "":
			a.Score = 0
			a.Rules = append(a.Rules, "empty_response")
		case refusal:
			a.Score = TrivialScore * refusalMultiplier
			a.Rules = append(a.Rules, "refusal_penalty")
		default:
			a.Score = TrivialScore
		}
		a.Features["trivial"] = 1
		a.Features["refusal"] = boolFeature(refusal)
		a.Rationale = rationale(a.Rules, a.Score)
		return a
	}

	if q.shapes[ShapeLongContext] {
		a.Baseline = PathLongContext
	} else {
		a.Baseline = PathStandard
	}

	if trimmed == "" {
		a.Score = 0
		a.Rules = append(a.Rules, "empty_response")
		a.Features["response_words"] = 0
		a.Rationale = rationale(a.Rules, a.Score)
		return a
	}

	r := analyzeResponse(q, trimmed)

	baseline := baselineConfidence
	if baseline <= 0 {
		baseline = defaultBaseline
	}
	if baseline > 1 {
		baseline = 1
	}

	score := weightCoverage*r.coverage + weightLengthFit*r.lengthFit + weightBaseline*baseline
	a.Rules = append(a.Rules, "base")
	a.Features["coverage"] = r.coverage
	a.Features["length_fit"] = r.lengthFit
	a.Features["baseline"] = baseline
	a.Features["response_words"] = float64(r.words)
	a.Features["query_words"] = float64(q.words)
	a.Features["refusal"] = boolFeature(r.refusal)
	a.Features["call_format"] = boolFeature(r.callFormat)

	if r.refusal {
		score *= refusalMultiplier
		a.Rules = append(a.Rules, "refusal_penalty")
	} else {
		for _, rule := range BoostRules {
			if !q.shapes[rule.Shape] || !rule.applies(q, r) {
				continue
			}
			score = capped(score + rule.Amount)
			a.Rules = append(a.Rules, rule.Name)
			a.Features["boost_"+rule.Name] = rule.Amount
		}
	}

	a.Score = clamp01(score)
	a.Rationale = rationale(a.Rules, a.Score)
	return a
}

// IsTrivialQuery reports whether a query is pure arithmetic or otherwise trivial.
func IsTrivialQuery(query string) bool {
	text := strings.TrimSpace(query)
	if text == "" {
		return false
	}
	return arithmeticPattern.MatchString(text) && operatorPattern.MatchString(text)
}

func analyzeQuery(query string, trivialHint bool) *queryInfo {
	q := &queryInfo{
		text:   query,
		words:  len(strings.Fields(query)),
		shapes: map[Shape]bool{},
	}
	lower := strings.ToLower(query)

	if trivialHint || IsTrivialQuery(query) {
		q.shapes[ShapeTrivial] = true
	}

	q.focus = query
	if q.words >= longContextWords || len(query) >= longContextChars {
		if question := lastQuestion(query); question != "" {
			q.shapes[ShapeLongContext] = true
			q.focus = question
		}
	}

	for _, cue := range functionCallCues {
		if strings.Contains(lower, cue) {
			q.shapes[ShapeFunctionCall] = true
			break
		}
	}

	if expectsShortAnswer(q.focus) {
		q.shapes[ShapeShortAnswer] = true
	}

	q.keywords = keywords(q.focus)
	return q
}

func (q *queryInfo) orderedShapes() []Shape {
	var out []Shape
	for _, s := range []Shape{ShapeTrivial, ShapeLongContext, ShapeFunctionCall, ShapeShortAnswer} {
		if q.shapes[s] {
			out = append(out, s)
		}
	}
	return out
}

func analyzeResponse(q *queryInfo, response string) *responseInfo {
	r := &responseInfo{
		words:      len(strings.Fields(response)),
		refusal:    isRefusal(response),
		callFormat: jsonCallPattern.MatchString(response) || funcCallPattern.MatchString(response),
	}
	r.coverage = coverage(q.keywords, response)
	r.lengthFit = lengthFit(r.words, q.shapes[ShapeShortAnswer])
	return r
}

func expectsShortAnswer(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, cue := range shortAnswerCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	if !strings.HasSuffix(lower, "?") {
		return false
	}
	if len(strings.Fields(lower)) > 20 {
		return false
	}
	for _, opener := range shortAnswerOpeners {
		if strings.HasPrefix(lower, opener+" ") {
			return true
		}
	}
	return false
}

func lastQuestion(text string) string {
	idx := strings.LastIndex(text, "?")
	if idx == -1 {
		return ""
	}
	start := strings.LastIndexAny(text[:idx], ".!?\n")
	return strings.TrimSpace(text[start+1 : idx+1])
}

func keywords(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if len(tok) < minKeywordLength || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

func coverage(keys []string, response string) float64 {
	if len(keys) == 0 {
		return neutralKeywordScore
	}
	tokens := map[string]bool{}
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(response), -1) {
		tokens[tok] = true
	}
	hits := 0
	for _, k := range keys {
		if tokens[k] || tokens[strings.TrimSuffix(k, "s")] || tokens[k+"s"] {
			hits++
		}
	}
	return float64(hits) / float64(len(keys))
}

func lengthFit(words int, short bool) float64 {
	switch {
	case words == 0:
		return 0
	case short:
		if words <= shortAnswerWords {
			return 1
		}
		return clamp01(float64(shortAnswerWords*3) / float64(words))
	case words < 3:
		return 0.6
	case words <= verboseAnswerWords:
		return 1
	default:
		fit := float64(verboseAnswerWords) / float64(words)
		if fit < 0.3 {
			fit = 0.3
		}
		return fit
	}
}

func isRefusal(text string) bool {
	lower := strings.ToLower(text)
	lower = strings.ReplaceAll(lower, "’", "'")
	for _, p := range refusalPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func rationale(rules []string, score float64) string {
	return fmt.Sprintf("%s => %.3f", strings.Join(rules, " > "), score)
}

func capped(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
