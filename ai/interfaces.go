package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// The returned vector represents the semantic meaning of the text.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// Batch processing is more efficient than calling EmbedText multiple times.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces text from a prompt and an optional binary attachment.
// Implementations must be thread-safe for concurrent use.
type Generator interface {
	// Generate sends the request to the model and returns the raw text of
	// the first candidate. Returns ErrEmptyResponse if the model produced
	// no candidates.
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// GenerateRequest is a single-turn generation request.
type GenerateRequest struct {
	// System holds standing instructions sent ahead of the user turn.
	System string

	// Prompt is the user turn text.
	Prompt string

	// Attachment is optional binary content sent with the prompt, such as
	// the bytes of a PDF.
	Attachment []byte

	// MimeType describes Attachment. Required when Attachment is set.
	MimeType string

	// JSON asks the model to answer with a JSON document.
	JSON bool
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
// A provider creates and manages Embedder and Generator instances,
// ensuring they share configuration and resources appropriately.
type AIProvider interface {
	// Embedder returns the text embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// Generator returns the text generation service.
	// The returned Generator is safe for concurrent use.
	Generator() Generator

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
