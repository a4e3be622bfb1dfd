// Package gemini implements ai.AIProvider on the Gemini API. PDF chunks are
// sent inline, so the generator works with any Gemini model that accepts
// document input.
package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/folio/ai"
	"google.golang.org/genai"
)

// Provider implements ai.AIProvider using a shared genai client.
type Provider struct {
	client    *genai.Client
	embedder  *Embedder
	generator *Generator
	logger    *slog.Logger
}

// NewProvider creates a Gemini-backed provider.
//
// Returns ai.AIProvider interface to enforce abstraction.
func NewProvider(ctx context.Context, config *ai.Config) (ai.AIProvider, error) {
	return newProvider(ctx, config)
}

func newProvider(ctx context.Context, config *ai.Config) (*Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.GeneratorHost != "" {
		cc.HTTPOptions.BaseURL = config.GeneratorHost
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Provider{
		client: client,
		embedder: &Embedder{
			client: client,
			model:  config.EmbeddingModel,
			logger: slog.Default().With("component", "gemini-embedder"),
		},
		generator: &Generator{
			client: client,
			model:  config.GeneratorModel,
			logger: slog.Default().With("component", "gemini-generator"),
		},
		logger: slog.Default().With("component", "gemini-provider"),
	}, nil
}

// Embedder returns the text embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// Generator returns the text generation service.
func (p *Provider) Generator() ai.Generator {
	return p.generator
}

// Close is a no-op; the genai client holds no resources beyond its HTTP client.
func (p *Provider) Close() error {
	p.logger.Debug("closing Gemini provider")
	return nil
}

// Generator implements ai.Generator with Models.GenerateContent.
type Generator struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

var _ ai.Generator = (*Generator)(nil)

// Generate sends the attachment inline ahead of the prompt text.
func (g *Generator) Generate(ctx context.Context, req ai.GenerateRequest) (string, error) {
	parts := make([]*genai.Part, 0, 2)
	if len(req.Attachment) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Attachment, req.MimeType))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0)}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		g.logger.Error("failed to generate content", "err", err)
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", ai.ErrEmptyResponse
	}
	text := resp.Text()
	g.logger.Debug("generated content", "length", len(text))
	return text, nil
}

// Embedder implements ai.Embedder with Models.EmbedContent.
type Embedder struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts embeds all texts in one batch request.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"})
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: %d embeddings for %d texts", ai.ErrEmptyResponse, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		vectors[i] = emb.Values
	}
	return vectors, nil
}
