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


// Package fanout routes extracted content to the store suited to it:
// paragraphs and table summaries are embedded into the vector store, table
// rows go to the relational store, and the edges of the finished knowledge
// graph are embedded into the vector store.
//
// Every external call runs under its own timeout and is retried with the
// configured policy. Calls are detached from the caller's cancellation so an
// in-flight write is never abandoned halfway; cancellation only stops
// further retries.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/retry"
	"github.com/poiesic/folio/storage"
)

const (
	// DefaultTimeout bounds a single store or embedding call.
	DefaultTimeout = 30 * time.Second

	// DefaultBatchSize is the number of graph edges embedded per call.
	DefaultBatchSize = 100

	// DefaultConcurrency bounds parallel writes within one chunk.
	DefaultConcurrency = 4
)

// Record types stored in vector metadata.
const (
	TypeParagraph    = "paragraph"
	TypeTableSummary = "table_summary"
	TypeGraphEdge    = "knowledge_graph_edge"
)

// Vector metadata keys.
const (
	MetaDocumentID   = "doc_id"
	MetaFilename     = "filename"
	MetaType         = "type"
	MetaPage         = "page_no"
	MetaChunk        = "chunk"
	MetaTable        = "table_name"
	MetaDatabase     = "database"
	MetaSourceNodeID = "source_node_id"
	MetaTargetNodeID = "target_node_id"
	MetaRelation     = "relation"
)

var (
	// ErrEmbedderRequired is returned when a Fanout is built without an embedder.
	ErrEmbedderRequired = errors.New("embedder is required")

	// ErrVectorStoreRequired is returned when a Fanout is built without a vector store.
	ErrVectorStoreRequired = errors.New("vector store is required")

	// ErrRelationalStoreRequired is returned when a Fanout is built without a relational store.
	ErrRelationalStoreRequired = errors.New("relational store is required")
)

// DefaultRetryPolicy retries transient store failures three times with
// 2s..10s backoff.
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// Target identifies the document that stored content belongs to.
type Target struct {
	DocumentId string
	Filename   string
	Database   string
}

// TargetFor builds the Target of a document.
func TargetFor(doc *core.Document) Target {
	return Target{DocumentId: doc.Id, Filename: doc.Filename, Database: doc.DatabaseName}
}

// Fanout writes extracted content to the vector and relational stores.
// It is safe for concurrent use.
type Fanout struct {
	embedder    ai.Embedder
	vectors     storage.VectorStore
	relational  storage.RelationalStore
	policy      retry.Policy
	timeout     time.Duration
	batchSize   int
	concurrency int
	logger      *slog.Logger
}

// Option configures a Fanout.
type Option func(*Fanout)

// WithRetryPolicy sets the retry policy. Its Retryable predicate is replaced.
func WithRetryPolicy(p retry.Policy) Option {
	return func(f *Fanout) {
		f.policy = p
	}
}

// WithTimeout sets the per-call timeout. Values <= 0 are ignored.
func WithTimeout(d time.Duration) Option {
	return func(f *Fanout) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithBatchSize sets how many graph edges are embedded per call.
func WithBatchSize(n int) Option {
	return func(f *Fanout) {
		if n > 0 {
			f.batchSize = n
		}
	}
}

// WithConcurrency bounds parallel writes within one chunk.
func WithConcurrency(n int) Option {
	return func(f *Fanout) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fanout) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New creates a Fanout.
func New(embedder ai.Embedder, vectors storage.VectorStore, relational storage.RelationalStore, opts ...Option) (*Fanout, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if relational == nil {
		return nil, ErrRelationalStoreRequired
	}

	f := &Fanout{
		embedder:    embedder,
		vectors:     vectors,
		relational:  relational,
		policy:      DefaultRetryPolicy(),
		timeout:     DefaultTimeout,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.policy.MaxAttempts <= 0 {
		return nil, retry.ErrInvalidMaxAttempts
	}
	f.logger = f.logger.With("component", "fanout")
	f.policy.Retryable = retryable
	if f.policy.Logger == nil {
		f.policy.Logger = f.logger
	}
	return f, nil
}

// retryable reports whether a store failure may succeed on another attempt.
// Invalid input and closed stores never do.
func retryable(err error) bool {
	if storage.IsPermanent(err) {
		return false
	}
	return core.IsTransient(err)
}

// call runs op with retries. Each attempt gets a fresh timeout and is not
// cancelled with ctx.
func (f *Fanout) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	detached := context.WithoutCancel(ctx)
	return retry.Do(ctx, f.policy, func(attempt int) error {
		callCtx, cancel := context.WithTimeout(detached, f.timeout)
		defer cancel()
		err := fn(callCtx)
		if err != nil {
			f.logger.Warn("store call failed", "op", op, "attempt", attempt, "err", err)
		}
		return err
	})
}

// embedOne embeds text and upserts it under id.
func (f *Fanout) embedOne(ctx context.Context, id, text string, metadata map[string]string) error {
	return f.call(ctx, "upsert "+id, func(ctx context.Context) error {
		vector, err := f.embedder.EmbedText(ctx, text)
		if err != nil {
			return fmt.Errorf("%w: embedding %s: %w", core.ErrVectorStore, id, err)
		}
		if err := f.vectors.Upsert(ctx, id, vector, metadata); err != nil {
			return fmt.Errorf("%w: upserting %s: %w", core.ErrVectorStore, id, err)
		}
		return nil
	})
}

// baseMetadata builds the common vector metadata. page_no is 1-based.
func baseMetadata(target Target, recordType string, chunk, page int) map[string]string {
	return map[string]string{
		MetaDocumentID: target.DocumentId,
		MetaFilename:   target.Filename,
		MetaType:       recordType,
		MetaChunk:      strconv.Itoa(chunk),
		MetaPage:       strconv.Itoa(page + 1),
	}
}
