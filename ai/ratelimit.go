package ai

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a provider so every embedding and generation call first
// waits on a shared token bucket. A zero rps returns the provider unchanged.
func RateLimited(p AIProvider, rps float64, burst int) AIProvider {
	if rps <= 0 {
		return p
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return &limitedProvider{
		AIProvider: p,
		embedder:   &limitedEmbedder{next: p.Embedder(), limiter: limiter},
		generator:  &limitedGenerator{next: p.Generator(), limiter: limiter},
	}
}

type limitedProvider struct {
	AIProvider
	embedder  *limitedEmbedder
	generator *limitedGenerator
}

func (p *limitedProvider) Embedder() Embedder   { return p.embedder }
func (p *limitedProvider) Generator() Generator { return p.generator }

type limitedEmbedder struct {
	next    Embedder
	limiter *rate.Limiter
}

func (e *limitedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.next.EmbedText(ctx, text)
}

func (e *limitedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.next.EmbedTexts(ctx, texts)
}

type limitedGenerator struct {
	next    Generator
	limiter *rate.Limiter
}

func (g *limitedGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return g.next.Generate(ctx, req)
}
