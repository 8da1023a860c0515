package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockResponse scripts one generation of a MockAdapter.
type MockResponse struct {
	Content   string
	ToolCalls []MockToolCall
	Usage     Usage
	Delay     time.Duration
	Err       error
}

// MockToolCall scripts a proposed tool call. An empty ID is filled with a uuid.
type MockToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// MockAdapter returns deterministic responses for local runs and tests.
// Scripted responses are consumed per model in order; the last one repeats.
type MockAdapter struct {
	name            string
	mu              sync.Mutex
	scripts         map[string][]MockResponse
	defaultResponse string
	requests        []*Request
}

// NewMockAdapter creates a mock adapter with a default response.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		name:            "mock",
		scripts:         make(map[string][]MockResponse),
		defaultResponse: "mock response:",
	}
}

// NewMockAdapterWithScripts creates a mock adapter with predefined responses per model.
func NewMockAdapterWithScripts(name string, scripts map[string][]MockResponse) *MockAdapter {
	m := NewMockAdapter()
	if name != "" {
		m.name = name
	}
	for model, responses := range scripts {
		m.scripts[model] = append([]MockResponse(nil), responses...)
	}
	return m
}

// Script appends responses for a model.
func (a *MockAdapter) Script(model string, responses ...MockResponse) *MockAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scripts[model] = append(a.scripts[model], responses...)
	return a
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return a.name
}

// Models returns the list of scripted models.
func (a *MockAdapter) Models() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.scripts) == 0 {
		return []string{"mock-1"}
	}
	models := make([]string, 0, len(a.scripts))
	for m := range a.scripts {
		models = append(models, m)
	}
	return models
}

// Requests returns a copy of every request received.
func (a *MockAdapter) Requests() []*Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Request(nil), a.requests...)
}

// Calls returns how many requests a model received.
func (a *MockAdapter) Calls(model string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, r := range a.requests {
		if r.Model == model {
			n++
		}
	}
	return n
}

func (a *MockAdapter) next(req *Request) MockResponse {
	a.mu.Lock()
	defer a.mu.Unlock()
	copied := *req
	a.requests = append(a.requests, &copied)

	script := a.scripts[req.Model]
	if len(script) == 0 {
		last := ""
		if msgs := req.Messages; len(msgs) > 0 {
			last = msgs[len(msgs)-1].Content
		}
		return MockResponse{Content: fmt.Sprintf("%s\n%s", a.defaultResponse, last)}
	}
	resp := script[0]
	if len(script) > 1 {
		a.scripts[req.Model] = script[1:]
	}
	return resp
}

// Generate returns the next scripted candidate for the requested model.
func (a *MockAdapter) Generate(ctx context.Context, req *Request) (*Candidate, error) {
	return a.GenerateStream(ctx, req, nil)
}

// GenerateStream emits the scripted content word by word.
func (a *MockAdapter) GenerateStream(ctx context.Context, req *Request, onChunk func(Chunk) error) (*Candidate, error) {
	start := time.Now()
	resp := a.next(req)

	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}

	if onChunk != nil && resp.Content != "" {
		words := strings.SplitAfter(resp.Content, " ")
		for _, w := range words {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := onChunk(Chunk{Content: w}); err != nil {
				return nil, err
			}
		}
	}

	cand := &Candidate{
		Content: resp.Content,
		Usage:   resp.Usage.Normalize(),
		Adapter: a.name,
		Model:   req.Model,
	}
	for i, tc := range resp.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		call := toolCall(id, tc.Name, tc.Arguments)
		cand.ToolCalls = append(cand.ToolCalls, call)
		if onChunk != nil {
			if err := onChunk(Chunk{ToolCallDelta: &ToolCallDelta{Index: i, ID: id, Name: tc.Name}}); err != nil {
				return nil, err
			}
		}
	}
	if cand.Usage.TotalTokens == 0 {
		cand.Usage = Usage{
			PromptTokens:     estimateTokens(req.RenderMessages()),
			CompletionTokens: len(strings.Fields(resp.Content)) + 8*len(resp.ToolCalls),
		}.Normalize()
	}
	cand.Latency = time.Since(start)
	return cand, nil
}
