package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zen-systems/cascadegate/pkg/schema"
	"google.golang.org/genai"
)

const defaultEmbeddingModel = "gemini-embedding-001"

// GoogleAdapter implements the Adapter interface for Gemini models.
type GoogleAdapter struct {
	client         *genai.Client
	embeddingModel string
}

// NewGoogleAdapter creates a new Google Gemini adapter.
func NewGoogleAdapter(apiKey string) (*GoogleAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &GoogleAdapter{
		client:         client,
		embeddingModel: defaultEmbeddingModel,
	}, nil
}

// Name returns the adapter identifier.
func (a *GoogleAdapter) Name() string {
	return "google"
}

// Models returns the list of supported Gemini models.
func (a *GoogleAdapter) Models() []string {
	return []string{
		"gemini-2.0-flash",
		"gemini-2.5-pro",
	}
}

// Generate sends the request to Gemini and returns the candidate.
func (a *GoogleAdapter) Generate(ctx context.Context, req *Request) (*Candidate, error) {
	start := time.Now()
	system, turns := systemAndTurns(req.RenderMessages())

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: toolParameters(t),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := a.client.Models.GenerateContent(ctx, req.Model, geminiContents(turns), cfg)
	if err != nil {
		return nil, fmt.Errorf("google API error: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("google returned no candidates")
	}

	cand := &Candidate{Adapter: a.Name(), Model: req.Model}
	if content := resp.Candidates[0].Content; content != nil {
		for _, part := range content.Parts {
			if part.Text != "" {
				cand.Content += part.Text
			}
			if fc := part.FunctionCall; fc != nil {
				id := fc.ID
				if id == "" {
					id = "call_" + uuid.NewString()
				}
				cand.ToolCalls = append(cand.ToolCalls, toolCall(id, fc.Name, fc.Args))
			}
		}
	}
	if um := resp.UsageMetadata; um != nil {
		cand.Usage = Usage{
			PromptTokens:     int(um.PromptTokenCount),
			CompletionTokens: int(um.CandidatesTokenCount),
			TotalTokens:      int(um.TotalTokenCount),
		}.Normalize()
	}
	cand.Latency = time.Since(start)
	return cand, nil
}

// Embed returns an embedding vector for text.
func (a *GoogleAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	resp, err := a.client.Models.EmbedContent(ctx, a.embeddingModel, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("google embed error: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("google returned no embeddings")
	}
	return resp.Embeddings[0].Values, nil
}

func geminiContents(turns []schema.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		switch m.Role {
		case schema.MessageRoleAssistant:
			if m.Content != "" {
				out = append(out, genai.NewContentFromText(m.Content, genai.RoleModel))
			}
			for _, tc := range m.ToolCalls {
				out = append(out, genai.NewContentFromFunctionCall(tc.Name, tc.Arguments, genai.RoleModel))
			}
		case schema.MessageRoleTool:
			out = append(out, genai.NewContentFromFunctionResponse(m.Name, map[string]any{"output": m.Content}, genai.RoleUser))
		default:
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return out
}
