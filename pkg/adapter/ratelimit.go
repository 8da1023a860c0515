package adapter

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedAdapter throttles generations sent to a wrapped adapter.
type RateLimitedAdapter struct {
	inner   Adapter
	limiter *rate.Limiter
}

// RateLimited wraps an adapter so at most rps requests per second are issued.
// A non-positive rps returns the adapter unchanged.
func RateLimited(inner Adapter, rps float64, burst int) Adapter {
	if rps <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedAdapter{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Name returns the wrapped adapter's identifier.
func (a *RateLimitedAdapter) Name() string { return a.inner.Name() }

// Models returns the wrapped adapter's models.
func (a *RateLimitedAdapter) Models() []string { return a.inner.Models() }

// Generate waits for a token and delegates.
func (a *RateLimitedAdapter) Generate(ctx context.Context, req *Request) (*Candidate, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return a.inner.Generate(ctx, req)
}

// GenerateStream delegates to the wrapped adapter's streaming path when present.
func (a *RateLimitedAdapter) GenerateStream(ctx context.Context, req *Request, onChunk func(Chunk) error) (*Candidate, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	if s, ok := a.inner.(Streamer); ok {
		return s.GenerateStream(ctx, req, onChunk)
	}
	cand, err := a.inner.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if onChunk != nil && cand.Content != "" {
		if err := onChunk(Chunk{Content: cand.Content}); err != nil {
			return nil, err
		}
	}
	return cand, nil
}
