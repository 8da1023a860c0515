package cascade

import (
	"time"

	"github.com/zen-systems/cascadegate/pkg/adapter"
	"github.com/zen-systems/cascadegate/pkg/alignment"
	"github.com/zen-systems/cascadegate/pkg/metrics"
	"github.com/zen-systems/cascadegate/pkg/router"
	"github.com/zen-systems/cascadegate/pkg/schema"
	"github.com/zen-systems/cascadegate/pkg/toolcall"
)

// Status is the terminal state of a cascade.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Modes.
const (
	ModeText = "text"
	ModeTool = "tool"
)

// Decision actions.
const (
	ActionAccept   = "accept"
	ActionRetry    = "retry"
	ActionEscalate = "escalate"
)

// Attempt records one generation call.
type Attempt struct {
	Number    int           `json:"number"`
	Turn      int           `json:"turn"`
	Role      schema.Role   `json:"role"`
	Adapter   string        `json:"adapter"`
	Model     string        `json:"model"`
	Usage     adapter.Usage `json:"usage"`
	Cost      adapter.Cost  `json:"cost"`
	Latency   time.Duration `json:"latency"`
	Retries   int           `json:"transport_retries,omitempty"`
	Passed    bool          `json:"passed"`
	Score     float64       `json:"score,omitempty"`
	Layer     string        `json:"layer,omitempty"`
	Feedback  string        `json:"feedback,omitempty"`
	Error     string        `json:"error,omitempty"`
	ToolCalls int           `json:"tool_calls,omitempty"`
}

// Outcome is the single result of one query.
type Outcome struct {
	ID               string                     `json:"id"`
	Mode             string                     `json:"mode"`
	Status           Status                     `json:"status"`
	Content          string                     `json:"content,omitempty"`
	ToolCalls        []schema.ToolCall          `json:"tool_calls,omitempty"`
	ToolResults      []schema.ToolResult        `json:"tool_results,omitempty"`
	FinalRole        schema.Role                `json:"final_role,omitempty"`
	Adapter          string                     `json:"adapter,omitempty"`
	Model            string                     `json:"model,omitempty"`
	Escalated        bool                       `json:"escalated"`
	EscalationReason string                     `json:"escalation_reason,omitempty"`
	Attempts         int                        `json:"attempts"`
	Turns            int                        `json:"turns"`
	History          []Attempt                  `json:"history,omitempty"`
	Classification   *router.Classification     `json:"classification,omitempty"`
	Routing          *toolcall.RoutingDecision  `json:"routing,omitempty"`
	Alignment        *alignment.Analysis        `json:"alignment,omitempty"`
	Validation       *toolcall.ValidationResult `json:"validation,omitempty"`
	Threshold        float64                    `json:"threshold,omitempty"`
	Usage            adapter.Usage              `json:"usage"`
	Cost             float64                    `json:"cost"`
	BaselineCost     float64                    `json:"baseline_cost"`
	Savings          float64                    `json:"savings"`
	Latency          time.Duration              `json:"latency"`
	Error            string                     `json:"error,omitempty"`
	Failure          *FailureError              `json:"-"`
}

// DraftAttempts counts generations made by the drafter.
func (o *Outcome) DraftAttempts() int {
	n := 0
	for _, a := range o.History {
		if a.Role == schema.RoleDraft {
			n++
		}
	}
	return n
}

func (o *Outcome) addAttempt(a Attempt) {
	a.Number = len(o.History) + 1
	o.History = append(o.History, a)
	o.Attempts = len(o.History)
	o.Usage = o.Usage.Add(a.Usage)
	o.Cost += a.Cost.Amount
}

func (o *Outcome) fail(err *FailureError) {
	o.Status = StatusFailed
	o.Failure = err
	o.Error = err.Error()
}

// Record converts the outcome into a metrics record.
func (o *Outcome) Record() metrics.Record {
	rec := metrics.Record{
		ID:           o.ID,
		Mode:         o.Mode,
		Status:       string(o.Status),
		FinalRole:    string(o.FinalRole),
		FinalModel:   o.Model,
		Escalated:    o.Escalated,
		Attempts:     o.Attempts,
		Threshold:    o.Threshold,
		Usage:        o.Usage,
		Cost:         o.Cost,
		BaselineCost: o.BaselineCost,
		Latency:      o.Latency,
		Error:        o.Error,
	}
	if o.Classification != nil {
		rec.Domain = o.Classification.Domain
		rec.Complexity = string(o.Classification.Complexity)
	}
	if o.Routing != nil {
		rec.Strategy = string(o.Routing.Strategy)
	}
	if o.Alignment != nil {
		rec.Score = o.Alignment.Score
	}
	if o.Failure != nil {
		rec.FailedLayer = o.Failure.Layer
	}
	return rec
}
