package cascade

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/zen-systems/cascadegate/pkg/schema"
)

// EventType tags a stream event.
type EventType string

const (
	EventDraftStart       EventType = "DRAFT_START"
	EventChunk            EventType = "CHUNK"
	EventDraftDecision    EventType = "DRAFT_DECISION"
	EventSwitch           EventType = "SWITCH"
	EventToolCallStart    EventType = "TOOL_CALL_START"
	EventToolCallDelta    EventType = "TOOL_CALL_DELTA"
	EventToolCallComplete EventType = "TOOL_CALL_COMPLETE"
	EventToolResult       EventType = "TOOL_RESULT"
	EventToolError        EventType = "TOOL_ERROR"
	EventComplete         EventType = "COMPLETE"
	EventError            EventType = "ERROR"
)

// Terminal reports whether the event ends a stream.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError
}

// Decision is the judgement of one draft attempt.
type Decision struct {
	Attempt   int      `json:"attempt"`
	Action    string   `json:"action"`
	Passed    bool     `json:"passed"`
	Score     float64  `json:"score"`
	Threshold float64  `json:"threshold,omitempty"`
	Layer     string   `json:"layer,omitempty"`
	Reasons   []string `json:"reasons,omitempty"`
}

// Switch describes a hand-off to another model.
type Switch struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// Event is one element of a stream. Seq is 1-based and strictly increasing.
type Event struct {
	Type       EventType          `json:"type"`
	Seq        int                `json:"seq"`
	Turn       int                `json:"turn,omitempty"`
	Role       schema.Role        `json:"role,omitempty"`
	Model      string             `json:"model,omitempty"`
	Attempt    int                `json:"attempt,omitempty"`
	Content    string             `json:"content,omitempty"`
	Delta      string             `json:"delta,omitempty"`
	Decision   *Decision          `json:"decision,omitempty"`
	Switch     *Switch            `json:"switch,omitempty"`
	ToolCall   *schema.ToolCall   `json:"tool_call,omitempty"`
	ToolResult *schema.ToolResult `json:"tool_result,omitempty"`
	Outcome    *Outcome           `json:"outcome,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// observer receives state machine transitions. A non-nil error aborts the run.
type observer interface {
	streaming() bool
	draftStart(turn, attempt int, role schema.Role, model string) error
	chunk(turn int, role schema.Role, model, content string) error
	decision(turn int, d Decision) error
	switchModel(turn int, s Switch) error
	toolCall(turn int, call schema.ToolCall) error
	toolResult(turn int, res schema.ToolResult) error
}

type nopObserver struct{}

func (nopObserver) streaming() bool { return false }
func (nopObserver) draftStart(int, int, schema.Role, string) error { return nil }
func (nopObserver) chunk(int, schema.Role, string, string) error { return nil }
func (nopObserver) decision(int, Decision) error { return nil }
func (nopObserver) switchModel(int, Switch) error { return nil }
func (nopObserver) toolCall(int, schema.ToolCall) error { return nil }
func (nopObserver) toolResult(int, schema.ToolResult) error { return nil }

var errStreamClosed = errors.New("stream already terminated")

// emitter sends ordered events on an unbuffered channel. It never sends after
// the context is cancelled or after a terminal event.
type emitter struct {
	ctx    context.Context
	ch     chan Event
	seq    int
	closed bool
}

func newEmitter(ctx context.Context) *emitter {
	return &emitter{ctx: ctx, ch: make(chan Event)}
}

func (e *emitter) emit(ev Event) error {
	if e.closed {
		return errStreamClosed
	}
	if err := e.ctx.Err(); err != nil {
		return err
	}
	ev.Seq = e.seq + 1
	select {
	case e.ch <- ev:
		e.seq = ev.Seq
		if ev.Type.Terminal() {
			e.closed = true
		}
		return nil
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

func (e *emitter) streaming() bool { return true }

func (e *emitter) draftStart(turn, attempt int, role schema.Role, model string) error {
	return e.emit(Event{Type: EventDraftStart, Turn: turn, Attempt: attempt, Role: role, Model: model})
}

func (e *emitter) chunk(turn int, role schema.Role, model, content string) error {
	if content == "" {
		return nil
	}
	return e.emit(Event{Type: EventChunk, Turn: turn, Role: role, Model: model, Content: content})
}

func (e *emitter) decision(turn int, d Decision) error {
	return e.emit(Event{Type: EventDraftDecision, Turn: turn, Attempt: d.Attempt, Decision: &d})
}

func (e *emitter) switchModel(turn int, s Switch) error {
	return e.emit(Event{Type: EventSwitch, Turn: turn, Role: schema.RoleVerifier, Model: s.To, Switch: &s})
}

// toolCall emits the start, argument delta and completion of one accepted call.
func (e *emitter) toolCall(turn int, call schema.ToolCall) error {
	head := schema.ToolCall{ID: call.ID, Name: call.Name}
	if err := e.emit(Event{Type: EventToolCallStart, Turn: turn, ToolCall: &head}); err != nil {
		return err
	}
	args, err := json.Marshal(call.Arguments)
	if err != nil {
		args = []byte("{}")
	}
	if err := e.emit(Event{Type: EventToolCallDelta, Turn: turn, ToolCall: &head, Delta: string(args)}); err != nil {
		return err
	}
	full := call
	return e.emit(Event{Type: EventToolCallComplete, Turn: turn, ToolCall: &full})
}

func (e *emitter) toolResult(turn int, res schema.ToolResult) error {
	typ := EventToolResult
	if res.Error != "" {
		typ = EventToolError
	}
	return e.emit(Event{Type: typ, Turn: turn, ToolResult: &res, Error: res.Error})
}
