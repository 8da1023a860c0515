package cascade

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zen-systems/cascadegate/pkg/adapter"
	"github.com/zen-systems/cascadegate/pkg/alignment"
	"github.com/zen-systems/cascadegate/pkg/config"
	"github.com/zen-systems/cascadegate/pkg/metrics"
	"github.com/zen-systems/cascadegate/pkg/router"
	"github.com/zen-systems/cascadegate/pkg/schema"
	"github.com/zen-systems/cascadegate/pkg/toolcall"
)

// Cascade runs queries through the draft/verifier state machine.
// It is safe for concurrent use; each Run owns its own state.
type Cascade struct {
	cfg        *config.CascadeConfig
	draft      target
	verifier   target
	classifier *router.Classifier
	scorer     *alignment.Scorer
	detector   *toolcall.Detector
	risk       *toolcall.Router
	validator  *toolcall.Validator
	executor   Executor
	tracker    *metrics.Tracker
	tuner      *metrics.Tuner
	logger     zerolog.Logger

	classifierOpts []router.ClassifierOption
	aliases        *config.ModelAliases
}

// target is a role bound to a live adapter.
type target struct {
	role    schema.Role
	ref     config.ModelRef
	adapter adapter.Adapter
}

func (t target) label() string {
	return t.ref.Adapter + "/" + t.ref.Model
}

// Option configures a Cascade.
type Option func(*Cascade)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cascade) {
		c.logger = logger
	}
}

// WithTracker records every outcome in tracker.
func WithTracker(t *metrics.Tracker) Option {
	return func(c *Cascade) {
		c.tracker = t
	}
}

// WithExecutor supplies the tool executor used when automatic execution is enabled.
func WithExecutor(e Executor) Option {
	return func(c *Cascade) {
		c.executor = e
	}
}

// WithSimilarity enables the classifier's semantic pass.
func WithSimilarity(s router.Similarity) Option {
	return func(c *Cascade) {
		if s != nil {
			c.classifierOpts = append(c.classifierOpts, router.WithSimilarity(s))
		}
	}
}

// WithAliases resolves model aliases in the cascade's model references.
func WithAliases(a *config.ModelAliases) Option {
	return func(c *Cascade) {
		c.aliases = a
	}
}

// WithDetector replaces the default tool intent detector.
func WithDetector(d *toolcall.Detector) Option {
	return func(c *Cascade) {
		if d != nil {
			c.detector = d
		}
	}
}

// New validates the configuration and binds both roles to registered adapters.
// Configured rate limits wrap the adapters they name.
func New(adapters map[string]adapter.Adapter, cfg *config.CascadeConfig, opts ...Option) (*Cascade, error) {
	if cfg == nil {
		return nil, configError("cascade config is required")
	}
	// Defaults fill a copy; the caller's config is left as given.
	cp := *cfg
	cfg = cp.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, configError("%v", err)
	}

	c := &Cascade{
		cfg:    cfg,
		scorer: alignment.NewScorer(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "cascade").Logger()

	limited := make(map[string]adapter.Adapter, len(adapters))
	for name, a := range adapters {
		if rl, ok := cfg.RateLimits[name]; ok && a != nil {
			a = adapter.RateLimited(a, rl.RPS, rl.Burst)
		}
		limited[name] = a
	}

	mr := router.NewRouter(limited, cfg, router.WithAliases(c.aliases))
	for _, role := range []schema.Role{schema.RoleDraft, schema.RoleVerifier} {
		t, err := mr.Route(role)
		if err != nil {
			return nil, configError("%v", err)
		}
		ref, _ := cfg.Model(role)
		ref.Model = t.Model
		bound := target{role: role, ref: ref, adapter: t.Adapter}
		if role == schema.RoleDraft {
			c.draft = bound
		} else {
			c.verifier = bound
		}
	}

	c.classifierOpts = append(c.classifierOpts, router.WithLogger(c.logger))
	c.classifier = router.NewClassifier(cfg, c.classifierOpts...)
	if c.detector == nil {
		c.detector = toolcall.NewDetector()
	}
	c.risk = toolcall.NewRouter(cfg.Tools)
	vopts := []toolcall.ValidatorOption{toolcall.WithStrictTiers(cfg.Tools.StrictTiers...)}
	if cfg.Tools.Workspace != "" {
		vopts = append(vopts, toolcall.WithWorkspace(cfg.Tools.Workspace))
	}
	c.validator = toolcall.NewValidator(vopts...)
	if cfg.Thresholds.Adaptive && c.tracker != nil {
		c.tuner = metrics.NewTuner(c.tracker, cfg.Thresholds.TargetEscalationRate)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Cascade) Config() *config.CascadeConfig {
	return c.cfg
}

// Classifier returns the domain classifier.
func (c *Cascade) Classifier() *router.Classifier {
	return c.classifier
}

// Validator returns the tool-call validator.
func (c *Cascade) Validator() *toolcall.Validator {
	return c.validator
}

// Tracker returns the metrics tracker, if any.
func (c *Cascade) Tracker() *metrics.Tracker {
	return c.tracker
}

// Run drives one query to a terminal state. The outcome is never nil; the
// error is non-nil only for configuration errors, verifier failures and cancellation.
func (c *Cascade) Run(ctx context.Context, q *schema.Query) (*Outcome, error) {
	return c.run(ctx, q, nopObserver{}, flowAuto)
}

type flow int

const (
	flowAuto flow = iota
	flowText
	flowTool
)

func (c *Cascade) run(ctx context.Context, q *schema.Query, obs observer, f flow) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{ID: uuid.NewString(), Mode: ModeText}
	if q != nil && q.ID != "" {
		out.ID = q.ID
	}

	if err := q.Validate(); err != nil {
		out.fail(&FailureError{Stage: StageSetup, Err: configError("%v", err)})
		return c.finish(ctx, out, start, out.Failure)
	}

	out.Classification = c.classifier.Classify(ctx, q)
	logger := c.logger.With().Str("query", out.ID).Logger()
	logger.Debug().
		Str("domain", out.Classification.Domain).
		Str("complexity", string(out.Classification.Complexity)).
		Str("path", out.Classification.Path).
		Msg("classified query")

	r := &runner{c: c, q: q, out: out, obs: obs, logger: logger}
	var err error
	switch {
	case f == flowText || (f == flowAuto && !q.HasTools()):
		err = r.runText(ctx)
	default:
		err = r.runTools(ctx)
	}
	return c.finish(ctx, out, start, err)
}

func (c *Cascade) finish(ctx context.Context, out *Outcome, start time.Time, err error) (*Outcome, error) {
	out.Latency = time.Since(start)
	out.Savings = out.BaselineCost - out.Cost

	// A caller that stops waiting ends the run early; it is not a failure
	// and is not recorded.
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		out.Status = StatusCancelled
		out.Error = err.Error()
		c.logger.Info().
			Str("query", out.ID).
			Int("attempts", out.Attempts).
			Dur("latency", out.Latency).
			Msg("cascade cancelled")
		return out, err
	}

	if out.Status == "" {
		out.Status = StatusAccepted
	}
	if err != nil && out.Status != StatusFailed {
		var fe *FailureError
		if !errors.As(err, &fe) {
			fe = &FailureError{Stage: StageDraft, Attempts: out.Attempts, Err: err}
		}
		out.fail(fe)
	}

	level := zerolog.InfoLevel
	if out.Status == StatusFailed {
		level = zerolog.WarnLevel
	}
	c.logger.WithLevel(level).
		Str("query", out.ID).
		Str("mode", out.Mode).
		Str("status", string(out.Status)).
		Bool("escalated", out.Escalated).
		Int("attempts", out.Attempts).
		Float64("cost", out.Cost).
		Dur("latency", out.Latency).
		Str("error", out.Error).
		Msg("cascade finished")

	if c.tracker != nil {
		c.tracker.Record(ctx, out.Record())
	}
	if out.Status == StatusFailed {
		if out.Failure != nil {
			return out, out.Failure
		}
		return out, err
	}
	return out, nil
}

// threshold resolves the acceptance threshold: domain, then complexity tier,
// then the default; the tuner adjusts the result when adaptive tuning is on.
func (c *Cascade) threshold(cls *router.Classification) float64 {
	th := c.cfg.Thresholds.Default
	if cls == nil {
		return th
	}
	if v, ok := c.cfg.Thresholds.Complexity[string(cls.Complexity)]; ok && v > 0 {
		th = v
	}
	if d, ok := c.cfg.Domains[cls.Domain]; ok && d.Threshold > 0 {
		th = d.Threshold
	}
	if c.tuner != nil {
		th = c.tuner.Threshold(cls.Domain, th)
	}
	return th
}

func (c *Cascade) directComplexity(cls *router.Classification) bool {
	if cls == nil {
		return false
	}
	for _, tier := range c.cfg.DirectComplexities {
		if strings.EqualFold(tier, string(cls.Complexity)) {
			return true
		}
	}
	return false
}

func (c *Cascade) stepTimeout(role schema.Role) time.Duration {
	if role == schema.RoleVerifier {
		return time.Duration(c.cfg.Timeouts.VerifierMs) * time.Millisecond
	}
	return time.Duration(c.cfg.Timeouts.DraftMs) * time.Millisecond
}
