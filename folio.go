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


package folio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/ai/gemini"
	"github.com/poiesic/folio/ai/openai"
	"github.com/poiesic/folio/config"
	"github.com/poiesic/folio/extraction"
	"github.com/poiesic/folio/fanout"
	"github.com/poiesic/folio/ingestion"
	"github.com/poiesic/folio/progress"
	"github.com/poiesic/folio/retry"
	"github.com/poiesic/folio/splitter"
	"github.com/poiesic/folio/storage"
	"github.com/poiesic/folio/storage/badger"
	"github.com/poiesic/folio/storage/mysql"
	redisstore "github.com/poiesic/folio/storage/redis"
	"github.com/poiesic/folio/storage/sqlite"
	"github.com/redis/go-redis/v9"
)

// ErrDocumentInProgress is returned when deleting a document whose run is
// still active in one of Folio's pipelines.
var ErrDocumentInProgress = errors.New("document is being ingested")

// Folio owns the stores, the model provider and the progress channels
// shared by every pipeline created from it.
type Folio struct {
	cfg         *config.Config
	backend     *badger.Backend
	documents   *badger.DocumentRepository
	graphs      *badger.GraphRepository
	vectors     storage.VectorStore
	relational  storage.RelationalStore
	provider    ai.AIProvider
	opener      splitter.Opener
	local       *progress.Local
	redisClient *redis.Client
	notifier    progress.Notifier
	logger      *slog.Logger

	mu        sync.Mutex
	pipelines []*ingestion.Pipeline
}

// Option configures Open.
type Option func(*options)

type options struct {
	provider ai.AIProvider
	opener   splitter.Opener
	logger   *slog.Logger
}

// WithProvider uses p instead of the provider named in the configuration.
// Folio takes ownership and closes it.
func WithProvider(p ai.AIProvider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithOpener resolves upload sources with opener instead of reading PDF files.
func WithOpener(opener splitter.Opener) Option {
	return func(o *options) {
		o.opener = opener
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Open opens every backend named in cfg.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Folio, error) {
	options := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := &Folio{
		cfg:    cfg,
		local:  progress.NewLocal(),
		logger: options.logger,
	}

	if err := f.open(ctx, options); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (f *Folio) open(ctx context.Context, o *options) error {
	var err error

	// Metadata store
	f.backend, err = badger.OpenBackend(f.cfg.MetadataPath(), false,
		badger.WithLogger(f.logger),
		badger.WithSyncWrites(f.cfg.Storage.SyncWrites))
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	f.documents, err = badger.NewDocumentRepository(f.backend)
	if err != nil {
		return err
	}
	f.graphs = badger.NewGraphRepository(f.backend)

	f.vectors, err = f.openVectors(ctx)
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	f.relational, err = f.openRelational(ctx)
	if err != nil {
		return fmt.Errorf("failed to open relational store: %w", err)
	}

	// Model provider
	provider := o.provider
	if provider == nil {
		provider, err = newProvider(ctx, f.cfg.AIConfig())
		if err != nil {
			return fmt.Errorf("failed to create AI provider: %w", err)
		}
	}
	f.provider = ai.RateLimited(provider, f.cfg.AI.RequestsPerSecond, f.cfg.AI.Burst)

	f.opener = o.opener
	if f.opener == nil {
		f.opener = splitter.NewPDFOpener(f.logger)
	}

	// Progress
	notifiers := []progress.Notifier{f.local, progress.NewLog(f.logger)}
	if f.cfg.Progress.Redis {
		f.redisClient = redis.NewClient(&redis.Options{
			Addr:     f.cfg.Storage.Redis.Addr,
			Password: f.cfg.Storage.Redis.Password,
			DB:       f.cfg.Storage.Redis.DB,
		})
		if err := f.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		notifiers = append(notifiers, progress.NewRedis(f.redisClient, f.cfg.Progress.ChannelPrefix))
	}
	f.notifier = progress.Multi(notifiers...)
	return nil
}

func (f *Folio) openVectors(ctx context.Context) (storage.VectorStore, error) {
	if f.cfg.Storage.Vectors == config.BackendRedis {
		store, err := redisstore.OpenVectorStore(ctx, redisstore.Config{
			Addr:      f.cfg.Storage.Redis.Addr,
			Password:  f.cfg.Storage.Redis.Password,
			DB:        f.cfg.Storage.Redis.DB,
			KeyPrefix: f.cfg.Storage.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := sqlite.OpenVectorStore(ctx, f.cfg.VectorsPath())
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (f *Folio) openRelational(ctx context.Context) (storage.RelationalStore, error) {
	if f.cfg.Storage.Relational == config.BackendMySQL {
		store, err := mysql.Open(ctx, mysql.Config{
			Host:     f.cfg.Storage.MySQL.Host,
			Port:     f.cfg.Storage.MySQL.Port,
			User:     f.cfg.Storage.MySQL.User,
			Password: f.cfg.Storage.MySQL.Password,
			Timeout:  f.cfg.Pipeline.StorageTimeout,
		}, f.logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := sqlite.OpenRelationalStore(f.cfg.TablesDir(), f.logger)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func newProvider(ctx context.Context, cfg *ai.Config) (ai.AIProvider, error) {
	if cfg.Provider == ai.ProviderGemini {
		return gemini.NewProvider(ctx, cfg)
	}
	return openai.NewProvider(cfg)
}

// Close releases every pipeline created by NewPipeline, then the provider,
// the stores and the metadata backend, in that order.
func (f *Folio) Close() error {
	f.mu.Lock()
	pipelines := f.pipelines
	f.pipelines = nil
	f.mu.Unlock()
	for _, p := range pipelines {
		p.Release()
	}

	var errs []error
	closeWith := func(what string, fn func() error) {
		if err := fn(); err != nil {
			f.logger.Error("error closing "+what, "err", err)
			errs = append(errs, err)
		}
	}

	if f.provider != nil {
		closeWith("AI provider", f.provider.Close)
	}
	if f.vectors != nil {
		closeWith("vector store", f.vectors.Close)
	}
	if f.relational != nil {
		closeWith("relational store", f.relational.Close)
	}
	if f.redisClient != nil {
		closeWith("Redis client", f.redisClient.Close)
	}
	f.local.Shutdown()
	if f.documents != nil {
		closeWith("document repository", f.documents.Close)
	}
	if f.backend != nil {
		closeWith("backend storage", f.backend.Close)
	}
	return errors.Join(errs...)
}

// Documents returns the document metadata store.
func (f *Folio) Documents() storage.DocumentRepository {
	return f.documents
}

// Graphs returns the knowledge graph snapshot store.
func (f *Folio) Graphs() storage.GraphRepository {
	return f.graphs
}

// Progress returns the in-process progress broker every pipeline publishes to.
func (f *Folio) Progress() *progress.Local {
	return f.local
}

// Config returns the configuration Folio was opened with.
func (f *Folio) Config() *config.Config {
	return f.cfg
}

// NewPipeline creates a pipeline wired to Folio's stores and provider.
// Options are applied after the configured ones and may override them.
func (f *Folio) NewPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	pc := f.cfg.Pipeline
	policy := f.retryPolicy()

	client, err := extraction.NewClient(f.provider.Generator(),
		extraction.WithTimeout(pc.ExtractionTimeout),
		extraction.WithLogger(f.logger))
	if err != nil {
		return nil, err
	}

	store, err := f.newFanout(policy)
	if err != nil {
		return nil, err
	}

	base := []ingestion.Option{
		ingestion.WithPoolSize(pc.Workers),
		ingestion.WithChunkSize(pc.ChunkSize),
		ingestion.WithContextBudget(pc.ContextBudget),
		ingestion.WithRetryPolicy(policy),
		ingestion.WithNotifier(f.notifier),
		ingestion.WithGraphRepository(f.graphs),
		ingestion.WithLogger(f.logger),
	}
	pipeline, err := ingestion.NewPipeline(f.documents, f.opener, client, store, append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.pipelines = append(f.pipelines, pipeline)
	f.mu.Unlock()
	return pipeline, nil
}

func (f *Folio) retryPolicy() retry.Policy {
	pc := f.cfg.Pipeline
	return retry.Policy{
		MaxAttempts: pc.MaxAttempts,
		BaseDelay:   pc.BaseDelay,
		MaxDelay:    pc.MaxDelay,
	}
}

func (f *Folio) newFanout(policy retry.Policy) (*fanout.Fanout, error) {
	pc := f.cfg.Pipeline
	opts := []fanout.Option{
		fanout.WithRetryPolicy(policy),
		fanout.WithTimeout(pc.StorageTimeout),
		fanout.WithLogger(f.logger),
	}
	if pc.StoreConcurrency > 0 {
		opts = append(opts, fanout.WithConcurrency(pc.StoreConcurrency))
	}
	if pc.EmbedBatchSize > 0 {
		opts = append(opts, fanout.WithBatchSize(pc.EmbedBatchSize))
	}
	return fanout.New(f.provider.Embedder(), f.vectors, f.relational, opts...)
}

// DeleteDocument removes a document and everything stored for it: its
// vectors, its relational database, its graph snapshot and finally its
// metadata record. The uploaded source file is left in place.
//
// Returns storage.ErrNotFound if the document doesn't exist and
// ErrDocumentInProgress while one of Folio's pipelines is still running it.
// A failed deletion can be retried; the record is removed last.
func (f *Folio) DeleteDocument(ctx context.Context, id string) (fanout.PurgeReport, error) {
	doc, err := f.documents.GetDocument(ctx, id)
	if err != nil {
		return fanout.PurgeReport{}, err
	}

	f.mu.Lock()
	pipelines := f.pipelines
	f.mu.Unlock()
	for _, p := range pipelines {
		if _, ok := p.Handle(id); ok {
			return fanout.PurgeReport{}, fmt.Errorf("%w: %s", ErrDocumentInProgress, id)
		}
	}

	store, err := f.newFanout(f.retryPolicy())
	if err != nil {
		return fanout.PurgeReport{}, err
	}
	report, err := store.Purge(ctx, fanout.TargetFor(doc))
	if err != nil {
		return report, err
	}

	if err := f.graphs.DeleteGraph(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return report, fmt.Errorf("deleting graph of %s: %w", id, err)
	}
	if err := f.documents.DeleteDocument(ctx, id); err != nil {
		return report, err
	}
	f.logger.Info("deleted document", "doc_id", id, "client_id", doc.ClientId)
	return report, nil
}
