package metrics

// Tuner nudges per-domain acceptance thresholds toward a target escalation rate.
// Too many escalations lower the threshold; too few raise it.
type Tuner struct {
	tracker    *Tracker
	target     float64
	gain       float64
	minSamples int
	floor      float64
	ceiling    float64
}

// TunerOption configures a Tuner.
type TunerOption func(*Tuner)

// WithGain sets how strongly the escalation error moves the threshold.
func WithGain(g float64) TunerOption {
	return func(t *Tuner) {
		if g > 0 {
			t.gain = g
		}
	}
}

// WithMinSamples sets the number of domain records needed before tuning.
func WithMinSamples(n int) TunerOption {
	return func(t *Tuner) {
		if n > 0 {
			t.minSamples = n
		}
	}
}

// WithBounds clamps tuned thresholds.
func WithBounds(floor, ceiling float64) TunerOption {
	return func(t *Tuner) {
		if floor >= 0 && ceiling <= 1 && floor < ceiling {
			t.floor, t.ceiling = floor, ceiling
		}
	}
}

// NewTuner creates a tuner over a tracker's records.
func NewTuner(tracker *Tracker, target float64, opts ...TunerOption) *Tuner {
	t := &Tuner{
		tracker:    tracker,
		target:     target,
		gain:       0.5,
		minSamples: 20,
		floor:      0.3,
		ceiling:    0.95,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Threshold returns the tuned threshold for a domain, or base when there is
// not enough history.
func (t *Tuner) Threshold(domain string, base float64) float64 {
	if t == nil || t.tracker == nil {
		return base
	}
	rate, n := t.tracker.DomainEscalation(domain)
	if n < t.minSamples {
		return base
	}
	adjusted := base - t.gain*(rate-t.target)
	if adjusted < t.floor {
		return t.floor
	}
	if adjusted > t.ceiling {
		return t.ceiling
	}
	return adjusted
}

// Suggestions returns a tuned threshold for every domain with enough history.
func (t *Tuner) Suggestions(base func(domain string) float64) map[string]float64 {
	out := make(map[string]float64)
	if t == nil || t.tracker == nil {
		return out
	}
	for _, d := range t.tracker.Summary().Domains {
		if d.Count < t.minSamples {
			continue
		}
		out[d.Domain] = t.Threshold(d.Domain, base(d.Domain))
	}
	return out
}
