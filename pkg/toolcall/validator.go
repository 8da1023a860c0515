package toolcall

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/zen-systems/cascadegate/pkg/gate"
	"github.com/zen-systems/cascadegate/pkg/schema"
)

// LayerResult is the outcome of one validation layer.
type LayerResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *LayerResult) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *LayerResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ValidationResult aggregates the structural, semantic and safety layers.
type ValidationResult struct {
	Structural LayerResult `json:"structural"`
	Semantic   LayerResult `json:"semantic"`
	Safety     LayerResult `json:"safety"`
	Valid      bool        `json:"valid"`
	Strict     bool        `json:"strict,omitempty"`
}

// HasWarnings reports whether any layer produced warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Structural.Warnings)+len(r.Semantic.Warnings)+len(r.Safety.Warnings) > 0
}

// SafetyFailed reports a hard safety rejection.
func (r *ValidationResult) SafetyFailed() bool {
	return !r.Safety.Valid
}

// FailedLayer names the first invalid layer, or "" when valid.
func (r *ValidationResult) FailedLayer() string {
	switch {
	case !r.Safety.Valid:
		return "safety"
	case !r.Structural.Valid:
		return "structural"
	case !r.Semantic.Valid:
		return "semantic"
	}
	return ""
}

// GateResult converts the validation into gate violations for feedback.
func (r *ValidationResult) GateResult() *gate.GateResult {
	var violations []gate.Violation
	add := func(layer string, lr LayerResult) {
		for _, msg := range lr.Errors {
			violations = append(violations, gate.Violation{Rule: layer, Severity: gate.SeverityError, Message: msg})
		}
		for _, msg := range lr.Warnings {
			violations = append(violations, gate.Violation{Rule: layer, Severity: gate.SeverityWarning, Message: msg})
		}
	}
	add("structural", r.Structural)
	add("semantic", r.Semantic)
	add("safety", r.Safety)

	score := 1.0
	if !r.Valid {
		score = 0
	} else if r.HasWarnings() {
		score = 0.5
	}
	return &gate.GateResult{
		Passed:     r.Valid && !r.HasWarnings(),
		Score:      score,
		Violations: violations,
		Hard:       r.SafetyFailed(),
	}
}

// layerInput is shared, read-only input to every layer.
type layerInput struct {
	calls     []schema.ToolCall
	tools     []schema.ToolSchema
	workspace string
	deny      []denyPattern
}

type layer struct {
	name string
	fn   func(in *layerInput) LayerResult
}

// layers run in this order; each is independent of the others.
var layers = []layer{
	{name: "structural", fn: structuralLayer},
	{name: "semantic", fn: semanticLayer},
	{name: "safety", fn: safetyLayer},
}

// Validator checks proposed tool calls against declared schemas.
type Validator struct {
	strictTiers map[string]bool
	workspace   string
	deny        []denyPattern
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithStrictTiers makes semantic warnings blocking for the given complexity tiers.
func WithStrictTiers(tiers ...string) ValidatorOption {
	return func(v *Validator) {
		for _, t := range tiers {
			v.strictTiers[strings.ToLower(t)] = true
		}
	}
}

// WithWorkspace confines path-like arguments to a workspace root.
func WithWorkspace(root string) ValidatorOption {
	return func(v *Validator) {
		v.workspace = root
	}
}

// WithDenyPattern adds a safety pattern applied to every string argument.
func WithDenyPattern(name string, re *regexp.Regexp) ValidatorOption {
	return func(v *Validator) {
		v.deny = append(v.deny, denyPattern{name: name, re: re})
	}
}

// NewValidator creates a validator with the default deny patterns.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		strictTiers: map[string]bool{},
		deny:        append([]denyPattern(nil), defaultDenyPatterns...),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs every layer and reduces their results.
func (v *Validator) Validate(calls []schema.ToolCall, tools []schema.ToolSchema, tier string) *ValidationResult {
	in := &layerInput{calls: calls, tools: tools, workspace: v.workspace, deny: v.deny}

	result := &ValidationResult{Strict: v.strictTiers[strings.ToLower(tier)]}
	for _, l := range layers {
		lr := l.fn(in)
		switch l.name {
		case "structural":
			result.Structural = lr
		case "semantic":
			if result.Strict && len(lr.Warnings) > 0 {
				lr.Errors = append(lr.Errors, lr.Warnings...)
				lr.Warnings = nil
			}
			lr.Valid = len(lr.Errors) == 0
			result.Semantic = lr
		case "safety":
			result.Safety = lr
		}
	}
	result.Valid = result.Structural.Valid && result.Semantic.Valid && result.Safety.Valid
	return result
}

func structuralLayer(in *layerInput) LayerResult {
	res := LayerResult{}
	if len(in.calls) == 0 {
		res.errorf("no tool calls proposed")
	}
	for _, call := range in.calls {
		tool, ok := schema.FindTool(in.tools, call.Name)
		if !ok {
			res.errorf("unknown tool %q", call.Name)
			continue
		}
		if raw, ok := call.Arguments["_raw"]; ok {
			res.errorf("%s arguments are not valid JSON: %v", call.Name, raw)
			continue
		}
		props := tool.Properties()
		for _, req := range tool.Required() {
			if _, ok := call.Arguments[req]; !ok {
				res.errorf("missing required argument %s", req)
			}
		}
		for _, name := range sortedKeys(call.Arguments) {
			def, declared := props[name]
			if !declared {
				if len(props) > 0 {
					if additional, ok := tool.Parameters["additionalProperties"].(bool); ok && !additional {
						res.errorf("unexpected argument %s", name)
					} else {
						res.warnf("undeclared argument %s", name)
					}
				}
				continue
			}
			checkType(&res, name, call.Arguments[name], def)
		}
	}
	res.Valid = len(res.Errors) == 0
	return res
}

func checkType(res *LayerResult, name string, value any, def map[string]any) {
	want, _ := def["type"].(string)
	if want != "" && !matchesType(value, want) {
		res.errorf("argument %s should be %s, got %s", name, want, typeName(value))
		return
	}
	if enum, ok := def["enum"].([]any); ok && len(enum) > 0 {
		for _, e := range enum {
			if fmt.Sprint(e) == fmt.Sprint(value) {
				return
			}
		}
		res.errorf("argument %s must be one of %v", name, enum)
	}
}

func matchesType(value any, want string) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int64, int32:
			return true
		}
		return false
	case "integer":
		switch v := value.(type) {
		case int, int64, int32:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		switch value.(type) {
		case []any, []string:
			return true
		}
		return false
	case "null":
		return value == nil
	}
	return true
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32:
		return "number"
	case map[string]any:
		return "object"
	case []any, []string:
		return "array"
	}
	return fmt.Sprintf("%T", value)
}

var placeholderValues = map[string]bool{
	"todo": true, "tbd": true, "fixme": true, "placeholder": true, "xxx": true, "...": true,
	"n/a": true, "none": true, "null": true, "undefined": true, "example": true, "unknown": true,
	"insert here": true, "fill in": true, "your value here": true, "string": true, "value": true,
}

var (
	bracketPlaceholder = regexp.MustCompile(`^(<[^<>]+>|\{\{[^{}]+\}\}|\[[A-Za-z _-]+\]|\$\{[^{}]+\})$`)
	yourPlaceholder    = regexp.MustCompile(`(?i)^(your|my|the)[ _-]+[a-z_ -]+[ _-]+here$|^your[_ -][a-z_]+$`)
)

func semanticLayer(in *layerInput) LayerResult {
	res := LayerResult{}
	for _, call := range in.calls {
		var props map[string]map[string]any
		if tool, ok := schema.FindTool(in.tools, call.Name); ok {
			props = tool.Properties()
		}
		for _, name := range sortedKeys(call.Arguments) {
			if name == "_raw" {
				continue
			}
			def := props[name]
			walkStrings(name, call.Arguments[name], func(path, s string) {
				checkPlaceholder(&res, path, s, def)
			})
		}
	}
	res.Valid = len(res.Errors) == 0
	return res
}

func checkPlaceholder(res *LayerResult, path, value string, def map[string]any) {
	trimmed := strings.TrimSpace(value)
	lower := strings.ToLower(trimmed)
	leaf := path
	if i := strings.LastIndex(path, "."); i >= 0 {
		leaf = path[i+1:]
	}

	switch {
	case trimmed == "":
		res.warnf("%s is empty", path)
	case placeholderValues[lower] || bracketPlaceholder.MatchString(trimmed) || yourPlaceholder.MatchString(trimmed):
		res.warnf("%s appears to be a placeholder", path)
	case lower == strings.ToLower(leaf) || lower == strings.ReplaceAll(strings.ToLower(leaf), "_", " "):
		res.warnf("%s echoes the parameter name", path)
	default:
		if desc, ok := def["description"].(string); ok && desc != "" && strings.EqualFold(trimmed, strings.TrimSpace(desc)) {
			res.warnf("%s echoes the parameter description", path)
		}
	}
}

func walkStrings(path string, value any, fn func(path, s string)) {
	switch v := value.(type) {
	case string:
		fn(path, v)
	case map[string]any:
		for _, k := range sortedKeys(v) {
			walkStrings(path+"."+k, v[k], fn)
		}
	case []any:
		for i, item := range v {
			walkStrings(fmt.Sprintf("%s[%d]", path, i), item, fn)
		}
	case []string:
		for i, item := range v {
			fn(fmt.Sprintf("%s[%d]", path, i), item)
		}
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
