package adapter

import (
	"context"
	"time"

	"github.com/zen-systems/cascadegate/pkg/schema"
)

// Adapter defines the uniform generation capability the cascade consumes.
type Adapter interface {
	// Generate sends a request to the model and returns a candidate response.
	Generate(ctx context.Context, req *Request) (*Candidate, error)

	// Name returns the adapter's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}

// Streamer is implemented by adapters that can yield incremental chunks.
// The final candidate is returned once the stream ends. Returning an error
// from onChunk aborts the generation.
type Streamer interface {
	GenerateStream(ctx context.Context, req *Request, onChunk func(Chunk) error) (*Candidate, error)
}

// Request is a single generation request.
type Request struct {
	Role     schema.Role
	Model    string
	Messages []schema.Message
	Tools    []schema.ToolSchema
	// Feedback carries diagnostics from a rejected attempt.
	Feedback string
}

// Chunk is an incremental piece of a streaming generation.
type Chunk struct {
	Content       string
	ToolCallDelta *ToolCallDelta
}

// ToolCallDelta is an incremental fragment of a tool call's arguments.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Candidate is a generated response.
type Candidate struct {
	Content   string
	ToolCalls []schema.ToolCall
	Usage     Usage
	Latency   time.Duration
	Adapter   string
	Model     string
}

// HasToolCalls reports whether the candidate proposes any tool calls.
func (c *Candidate) HasToolCalls() bool {
	return c != nil && len(c.ToolCalls) > 0
}

// AdapterInfo holds metadata about an adapter.
type AdapterInfo struct {
	Name   string
	Models []ModelInfo
}

// ModelInfo holds metadata about a model.
type ModelInfo struct {
	ID          string
	Description string
}

// RenderMessages renders the request conversation, appending feedback as a final
// user turn so the next attempt sees what was wrong.
func (r *Request) RenderMessages() []schema.Message {
	msgs := make([]schema.Message, 0, len(r.Messages)+1)
	msgs = append(msgs, r.Messages...)
	if r.Feedback != "" {
		msgs = append(msgs, schema.Message{Role: schema.MessageRoleUser, Content: r.Feedback})
	}
	return msgs
}
