package toolcall

import (
	"strings"

	"github.com/zen-systems/cascadegate/pkg/schema"
)

// Layer names a detection signal source.
type Layer string

const (
	LayerExplicit   Layer = "explicit"
	LayerStructured Layer = "structured"
	LayerHeuristic  Layer = "heuristic"
	LayerFallback   Layer = "fallback"
)

// Layer confidences.
const (
	ConfidenceExplicit   = 1.0
	ConfidenceStructured = 0.9
	ConfidenceHeuristic  = 0.6
	ConfidenceFallback   = 0.35
)

// LayerHit records one layer that fired.
type LayerHit struct {
	Layer      Layer    `json:"layer"`
	Confidence float64  `json:"confidence"`
	Tools      []string `json:"tools,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	// Counted is false for a fallback hit that a stronger layer outranked.
	Counted bool `json:"counted"`
}

// Detection is the aggregated tool-intent decision.
type Detection struct {
	ShouldCall bool       `json:"should_call"`
	Confidence float64    `json:"confidence"`
	Primary    Layer      `json:"primary,omitempty"`
	Layers     []LayerHit `json:"layers,omitempty"`
	ToolHints  []string   `json:"tool_hints,omitempty"`
}

// Fired reports whether a layer fired.
func (d *Detection) Fired(layer Layer) bool {
	for _, h := range d.Layers {
		if h.Layer == layer {
			return true
		}
	}
	return false
}

// DetectInput is everything the detector may look at.
type DetectInput struct {
	Query    string
	Response string
	Tools    []schema.ToolSchema
	Calls    []schema.ToolCall
}

// DefaultActionKeywords are intent verbs correlated with tool use.
var DefaultActionKeywords = []string{
	"search", "look up", "lookup", "find", "fetch", "retrieve", "get the", "check the",
	"weather", "forecast", "send", "email", "book", "schedule", "reserve", "delete", "remove",
	"create", "update", "upload", "download", "run", "execute", "convert", "translate", "call",
	"open", "query", "order", "cancel",
}

// Detector decides whether a query implies a tool call.
type Detector struct {
	keywords []string
}

// NewDetector creates a detector. With no keywords the defaults are used.
func NewDetector(keywords ...string) *Detector {
	if len(keywords) == 0 {
		keywords = DefaultActionKeywords
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		lowered = append(lowered, strings.ToLower(k))
	}
	return &Detector{keywords: lowered}
}

// Detect evaluates the explicit, structured, heuristic and fallback layers in
// priority order. Confidence is the maximum across counted layers.
func (d *Detector) Detect(in DetectInput) *Detection {
	det := &Detection{}
	hints := newNameSet()

	if len(in.Calls) > 0 {
		names := callNames(in.Calls)
		det.add(LayerHit{Layer: LayerExplicit, Confidence: ConfidenceExplicit, Tools: names, Counted: true})
		hints.add(names...)
	}

	if in.Response != "" {
		if calls := ExtractToolCalls(in.Response); len(calls) > 0 {
			names := callNames(calls)
			det.add(LayerHit{Layer: LayerStructured, Confidence: ConfidenceStructured, Tools: names, Counted: true})
			hints.add(names...)
		}
	}

	query := strings.ToLower(in.Query)
	var matched []string
	for _, k := range d.keywords {
		if containsWord(query, k) {
			matched = append(matched, k)
		}
	}
	if len(matched) > 0 {
		det.add(LayerHit{Layer: LayerHeuristic, Confidence: ConfidenceHeuristic, Keywords: matched, Counted: true})
	}

	var mentioned []string
	for _, t := range in.Tools {
		if mentionsTool(query, t.Name) {
			mentioned = append(mentioned, t.Name)
		}
	}
	if len(mentioned) > 0 {
		counted := len(det.Layers) == 0
		det.add(LayerHit{Layer: LayerFallback, Confidence: ConfidenceFallback, Tools: mentioned, Counted: counted})
		hints.add(mentioned...)
	}

	det.ToolHints = hints.list()
	det.ShouldCall = det.Confidence > 0 && (len(in.Tools) > 0 || len(in.Calls) > 0)
	return det
}

func (d *Detection) add(hit LayerHit) {
	d.Layers = append(d.Layers, hit)
	if !hit.Counted {
		return
	}
	if d.Primary == "" {
		d.Primary = hit.Layer
	}
	if hit.Confidence > d.Confidence {
		d.Confidence = hit.Confidence
	}
}

func callNames(calls []schema.ToolCall) []string {
	set := newNameSet()
	for _, c := range calls {
		set.add(c.Name)
	}
	return set.list()
}

func mentionsTool(query, name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	if containsWord(query, name) {
		return true
	}
	spaced := strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(name)
	return spaced != name && containsWord(query, spaced)
}

// containsWord reports whether phrase occurs in text on word boundaries.
func containsWord(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	for offset := 0; offset < len(text); {
		idx := strings.Index(text[offset:], phrase)
		if idx == -1 {
			return false
		}
		idx += offset
		end := idx + len(phrase)
		if (idx == 0 || !isWordChar(text[idx-1])) && (end >= len(text) || !isWordChar(text[end])) {
			return true
		}
		offset = idx + 1
	}
	return false
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}

type nameSet struct {
	seen  map[string]bool
	order []string
}

func newNameSet() *nameSet {
	return &nameSet{seen: map[string]bool{}}
}

func (s *nameSet) add(names ...string) {
	for _, n := range names {
		if n == "" || s.seen[n] {
			continue
		}
		s.seen[n] = true
		s.order = append(s.order, n)
	}
}

func (s *nameSet) list() []string {
	return s.order
}
