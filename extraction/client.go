// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
)

// DefaultTimeout bounds a single extraction call.
const DefaultTimeout = 120 * time.Second

// MimeTypePDF is sent with chunk content.
const MimeTypePDF = "application/pdf"

// ErrGeneratorRequired is returned when a Client is built without a generator.
var ErrGeneratorRequired = errors.New("generator is required")

// Client sends chunks to the extraction backend.
// It is safe for concurrent use.
type Client struct {
	generator ai.Generator
	timeout   time.Duration
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-call timeout. Values <= 0 are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client on top of generator.
func NewClient(generator ai.Generator, opts ...Option) (*Client, error) {
	if generator == nil {
		return nil, ErrGeneratorRequired
	}
	c := &Client{
		generator: generator,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "extraction")
	return c, nil
}

// Extract makes exactly one backend call for chunk. content holds the chunk
// as a standalone PDF and graphContext summarizes the graph built from the
// previous chunks (empty for the first chunk).
//
// Failures to reach the backend, backend errors and timeouts wrap
// core.ErrExtractionUnavailable. Replies that do not match the schema wrap
// core.ErrExtractionParse.
func (c *Client) Extract(ctx context.Context, chunk core.Chunk, content []byte, graphContext string) (*core.ExtractionResult, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: chunk %d has no content", core.ErrInvalidDocument, chunk.Index)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	raw, err := c.generator.Generate(callCtx, ai.GenerateRequest{
		System:     systemPrompt,
		Prompt:     BuildPrompt(chunk, graphContext),
		Attachment: content,
		MimeType:   MimeTypePDF,
		JSON:       true,
	})
	if err != nil {
		c.logger.Warn("extraction call failed",
			"document", chunk.DocumentId,
			"chunk", chunk.Index,
			"elapsed", time.Since(started),
			"err", err)
		return nil, fmt.Errorf("%w: chunk %d: %w", core.ErrExtractionUnavailable, chunk.Index, err)
	}

	result, err := Parse(chunk, raw)
	if err != nil {
		c.logger.Warn("extraction response rejected",
			"document", chunk.DocumentId,
			"chunk", chunk.Index,
			"response", truncate(raw, 500),
			"err", err)
		return nil, err
	}

	c.logger.Debug("chunk extracted",
		"document", chunk.DocumentId,
		"chunk", chunk.Index,
		"paragraphs", len(result.Paragraphs),
		"tables", len(result.Tables),
		"relations", len(result.Relations),
		"elapsed", time.Since(started))
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
