package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zen-systems/cascadegate/pkg/adapter"
)

// Outcome statuses.
const (
	StatusAccepted = "accepted"
	StatusFailed   = "failed"
)

// Record is one persisted cascade outcome.
type Record struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	Mode         string        `json:"mode"` // "text" or "tool"
	Status       string        `json:"status"`
	Domain       string        `json:"domain,omitempty"`
	Complexity   string        `json:"complexity,omitempty"`
	Strategy     string        `json:"strategy,omitempty"`
	FinalRole    string        `json:"final_role,omitempty"`
	FinalModel   string        `json:"final_model,omitempty"`
	Escalated    bool          `json:"escalated"`
	Attempts     int           `json:"attempts"`
	Score        float64       `json:"score,omitempty"`
	Threshold    float64       `json:"threshold,omitempty"`
	FailedLayer  string        `json:"failed_layer,omitempty"`
	Usage        adapter.Usage `json:"usage"`
	Cost         float64       `json:"cost"`
	BaselineCost float64       `json:"baseline_cost"`
	Latency      time.Duration `json:"latency"`
	Error        string        `json:"error,omitempty"`
}

// Savings is the cost avoided versus sending the request straight to the verifier.
func (r Record) Savings() float64 {
	return r.BaselineCost - r.Cost
}

// DraftAccepted reports whether the drafter's answer was kept.
func (r Record) DraftAccepted() bool {
	return r.Status == StatusAccepted && !r.Escalated
}

// Sink persists records outside the process.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// Tracker is an append-only record log. Aggregates are computed on read.
type Tracker struct {
	mu      sync.RWMutex
	records []Record
	sinks   []Sink
	logger  zerolog.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithSink adds a persistence sink.
func WithSink(s Sink) TrackerOption {
	return func(t *Tracker) {
		if s != nil {
			t.sinks = append(t.sinks, s)
		}
	}
}

// WithLogger sets the logger used for sink failures.
func WithLogger(logger zerolog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logger.With().Str("component", "metrics").Logger()
	}
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record appends a record and forwards it to every sink.
// Sink failures are logged, never returned.
func (t *Tracker) Record(ctx context.Context, rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	t.mu.Lock()
	t.records = append(t.records, rec)
	t.mu.Unlock()

	// Persist even when the request context was cancelled.
	ctx = context.WithoutCancel(ctx)
	for _, s := range t.sinks {
		if err := s.Write(ctx, rec); err != nil {
			t.logger.Warn().Err(err).Str("record", rec.ID).Msg("metrics sink write failed")
		}
	}
}

// Records returns a copy of every record in insertion order.
func (t *Tracker) Records() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

// Len returns the number of records.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// DomainStats aggregates records for one domain.
type DomainStats struct {
	Domain       string  `json:"domain"`
	Count        int     `json:"count"`
	Escalated    int     `json:"escalated"`
	EscalateRate float64 `json:"escalate_rate"`
	AvgScore     float64 `json:"avg_score"`
	Cost         float64 `json:"cost"`
}

// Summary is the running totals surface.
type Summary struct {
	Total         int           `json:"total"`
	Accepted      int           `json:"accepted"`
	Failed        int           `json:"failed"`
	Escalated     int           `json:"escalated"`
	DraftAccepted int           `json:"draft_accepted"`
	AcceptRate    float64       `json:"accept_rate"`
	EscalateRate  float64       `json:"escalate_rate"`
	FailureRate   float64       `json:"failure_rate"`
	DraftRate     float64       `json:"draft_rate"`
	TotalCost     float64       `json:"total_cost"`
	BaselineCost  float64       `json:"baseline_cost"`
	Savings       float64       `json:"savings"`
	SavingsRate   float64       `json:"savings_rate"`
	AvgLatency    time.Duration `json:"avg_latency"`
	Usage         adapter.Usage `json:"usage"`
	Domains       []DomainStats `json:"domains,omitempty"`
}

// Summary computes running totals. It holds only a read lock.
func (t *Tracker) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Summarize(t.records)
}

// Summarize aggregates an arbitrary record slice.
func Summarize(records []Record) Summary {
	s := Summary{Total: len(records)}
	if s.Total == 0 {
		return s
	}

	type domainAcc struct {
		stats    DomainStats
		scoreSum float64
	}
	domains := make(map[string]*domainAcc)
	var latency time.Duration

	for _, r := range records {
		switch r.Status {
		case StatusAccepted:
			s.Accepted++
		case StatusFailed:
			s.Failed++
		}
		if r.Escalated {
			s.Escalated++
		}
		if r.DraftAccepted() {
			s.DraftAccepted++
		}
		s.TotalCost += r.Cost
		s.BaselineCost += r.BaselineCost
		s.Usage = s.Usage.Add(r.Usage)
		latency += r.Latency

		name := r.Domain
		if name == "" {
			name = "unknown"
		}
		acc, ok := domains[name]
		if !ok {
			acc = &domainAcc{stats: DomainStats{Domain: name}}
			domains[name] = acc
		}
		acc.stats.Count++
		acc.stats.Cost += r.Cost
		acc.scoreSum += r.Score
		if r.Escalated {
			acc.stats.Escalated++
		}
	}

	n := float64(s.Total)
	s.AcceptRate = float64(s.Accepted) / n
	s.EscalateRate = float64(s.Escalated) / n
	s.FailureRate = float64(s.Failed) / n
	s.DraftRate = float64(s.DraftAccepted) / n
	s.Savings = s.BaselineCost - s.TotalCost
	if s.BaselineCost > 0 {
		s.SavingsRate = s.Savings / s.BaselineCost
	}
	s.AvgLatency = latency / time.Duration(s.Total)

	for _, acc := range domains {
		acc.stats.EscalateRate = float64(acc.stats.Escalated) / float64(acc.stats.Count)
		acc.stats.AvgScore = acc.scoreSum / float64(acc.stats.Count)
		s.Domains = append(s.Domains, acc.stats)
	}
	sort.Slice(s.Domains, func(i, j int) bool { return s.Domains[i].Domain < s.Domains[j].Domain })
	return s
}

// DomainEscalation returns the escalation rate and sample count for a domain.
func (t *Tracker) DomainEscalation(domain string) (float64, int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var count, escalated int
	for _, r := range t.records {
		if r.Domain != domain {
			continue
		}
		count++
		if r.Escalated {
			escalated++
		}
	}
	if count == 0 {
		return 0, 0
	}
	return float64(escalated) / float64(count), count
}
