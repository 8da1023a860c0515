package cascade

import (
	"context"

	"github.com/zen-systems/cascadegate/pkg/schema"
)

// TextStreamManager streams plain-text cascades.
//
// Event order: DRAFT_START, CHUNK*, DRAFT_DECISION, then either COMPLETE or
// SWITCH, CHUNK*, COMPLETE. ERROR may end the stream at any point.
type TextStreamManager struct {
	c *Cascade
}

// NewTextStreamManager wraps c.
func NewTextStreamManager(c *Cascade) *TextStreamManager {
	return &TextStreamManager{c: c}
}

// Stream starts the cascade and returns its events. The channel is closed after
// exactly one terminal event, or without one when ctx is cancelled.
func (m *TextStreamManager) Stream(ctx context.Context, q *schema.Query) (<-chan Event, error) {
	if err := q.Validate(); err != nil {
		return nil, configError("%v", err)
	}
	return m.c.stream(ctx, q, flowText), nil
}

// ToolStreamManager streams tool-calling cascades.
//
// Per turn: CHUNK*, TOOL_CALL_START, TOOL_CALL_DELTA*, TOOL_CALL_COMPLETE,
// then TOOL_RESULT or TOOL_ERROR, looping for the next turn or ending with
// COMPLETE. Draft decisions and model switches are interleaved as in text streams.
type ToolStreamManager struct {
	c *Cascade
}

// NewToolStreamManager wraps c.
func NewToolStreamManager(c *Cascade) *ToolStreamManager {
	return &ToolStreamManager{c: c}
}

// Stream starts the tool cascade. Queries without declared tools are rejected.
func (m *ToolStreamManager) Stream(ctx context.Context, q *schema.Query) (<-chan Event, error) {
	if err := q.Validate(); err != nil {
		return nil, configError("%v", err)
	}
	if !q.HasTools() {
		return nil, configError("tool stream requires declared tools")
	}
	return m.c.stream(ctx, q, flowTool), nil
}

func (c *Cascade) stream(ctx context.Context, q *schema.Query, f flow) <-chan Event {
	em := newEmitter(ctx)
	go func() {
		defer close(em.ch)

		out, err := c.run(ctx, q, em, f)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			_ = em.emit(Event{Type: EventError, Outcome: out, Error: err.Error()})
			return
		}
		_ = em.emit(Event{Type: EventComplete, Role: out.FinalRole, Model: out.Model, Content: out.Content, Outcome: out})
	}()
	return em.ch
}
