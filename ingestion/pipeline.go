package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/fanout"
	"github.com/poiesic/folio/graph"
	"github.com/poiesic/folio/progress"
	"github.com/poiesic/folio/retry"
	"github.com/poiesic/folio/splitter"
	"github.com/poiesic/folio/storage"
)

// DefaultContextBudget bounds the graph context sent with each chunk, in bytes.
const DefaultContextBudget = 4000

// releaseTimeout bounds how long Release waits for pool workers to exit.
const releaseTimeout = 5 * time.Second

// Extractor turns one chunk into structured content. *extraction.Client
// implements it.
type Extractor interface {
	Extract(ctx context.Context, chunk core.Chunk, content []byte, graphContext string) (*core.ExtractionResult, error)
}

// Storer writes extracted content to the stores. *fanout.Fanout implements it.
type Storer interface {
	StoreChunk(ctx context.Context, target fanout.Target, result *core.ExtractionResult) (fanout.ChunkReport, error)
	FlushGraph(ctx context.Context, target fanout.Target, g *graph.KnowledgeGraph) (int, error)
}

// Upload describes a document handed to the pipeline.
type Upload struct {
	DocumentId string // Optional; a UUID is generated when empty
	ClientId   string
	Filename   string // Defaults to the base name of SourcePath
	SourcePath string // Reference resolved by the pipeline's Opener
}

// Pipeline orchestrates ingestion runs. Each run owns its Document and
// knowledge graph; runs share only the worker pools and the stores.
type Pipeline struct {
	documents     storage.DocumentRepository
	graphs        storage.GraphRepository
	opener        splitter.Opener
	extractor     Extractor
	storer        Storer
	notifier      progress.Notifier
	runPool       *ants.Pool
	storePool     *ants.Pool
	chunkSize     int
	contextBudget int
	policy        retry.Policy
	logger        *slog.Logger

	mu       sync.Mutex
	handles  map[string]*Handle
	released bool
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets how many documents are ingested concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		// Release old pools
		if p.runPool != nil {
			p.runPool.Release()
		}
		if p.storePool != nil {
			p.storePool.Release()
		}

		runPool, err := ants.NewPool(size)
		if err != nil {
			return err
		}

		storePool, err := ants.NewPool(size)
		if err != nil {
			runPool.Release()
			return err
		}

		p.runPool = runPool
		p.storePool = storePool
		return nil
	}
}

// WithChunkSize sets the number of pages per chunk.
func WithChunkSize(pages int) Option {
	return func(p *Pipeline) error {
		if pages <= 0 {
			return splitter.ErrInvalidChunkSize
		}
		p.chunkSize = pages
		return nil
	}
}

// WithContextBudget bounds the graph context sent with each chunk, in bytes.
// Zero or less means unbounded.
func WithContextBudget(bytes int) Option {
	return func(p *Pipeline) error {
		p.contextBudget = bytes
		return nil
	}
}

// WithRetryPolicy sets how extraction calls are retried. The policy's
// Retryable predicate is replaced: only unavailability is retried.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(p *Pipeline) error {
		if policy.MaxAttempts <= 0 {
			return retry.ErrInvalidMaxAttempts
		}
		p.policy = policy
		return nil
	}
}

// WithNotifier sets where progress events are delivered.
// Default discards them.
func WithNotifier(n progress.Notifier) Option {
	return func(p *Pipeline) error {
		if n == nil {
			n = progress.Nop
		}
		p.notifier = n
		return nil
	}
}

// WithGraphRepository persists the final knowledge graph of every
// completed run.
func WithGraphRepository(r storage.GraphRepository) Option {
	return func(p *Pipeline) error {
		p.graphs = r
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	documents storage.DocumentRepository,
	opener splitter.Opener,
	extractor Extractor,
	storer Storer,
	opts ...Option,
) (*Pipeline, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if opener == nil {
		return nil, ErrOpenerRequired
	}
	if extractor == nil {
		return nil, ErrExtractorRequired
	}
	if storer == nil {
		return nil, ErrStorerRequired
	}

	p := &Pipeline{
		documents:     documents,
		opener:        opener,
		extractor:     extractor,
		storer:        storer,
		notifier:      progress.Nop,
		chunkSize:     splitter.DefaultChunkSize,
		contextBudget: DefaultContextBudget,
		policy:        fanout.DefaultRetryPolicy(),
		logger:        slog.Default(),
		handles:       make(map[string]*Handle),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.Release()
			return nil, err
		}
	}

	if p.runPool == nil {
		if err := WithPoolSize(runtime.NumCPU() / 2)(p); err != nil {
			return nil, err
		}
	}

	p.logger = p.logger.With("component", "ingestion")
	p.policy.Retryable = func(err error) bool {
		return errors.Is(err, core.ErrExtractionUnavailable)
	}
	if p.policy.Logger == nil {
		p.policy.Logger = p.logger
	}
	return p, nil
}

// Submit creates the Document record for an upload in received status and
// starts its run in the background. It returns once the record exists.
func (p *Pipeline) Submit(ctx context.Context, upload Upload) (*Handle, error) {
	if strings.TrimSpace(upload.SourcePath) == "" {
		return nil, ErrSourceRequired
	}

	p.mu.Lock()
	released := p.released
	p.mu.Unlock()
	if released {
		return nil, ErrPipelineReleased
	}

	id := upload.DocumentId
	if id == "" {
		id = uuid.NewString()
	}
	filename := upload.Filename
	if filename == "" {
		filename = filepath.Base(upload.SourcePath)
	}

	doc, err := p.documents.CreateDocument(ctx, &core.Document{
		Id:                 id,
		ClientId:           upload.ClientId,
		Filename:           filename,
		SourcePath:         upload.SourcePath,
		DatabaseName:       storage.DatabaseName(id),
		Status:             core.StatusReceived,
		LastCompletedChunk: -1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := newHandle(doc.Id, cancel)

	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		cancel()
		return nil, ErrPipelineReleased
	}
	p.handles[doc.Id] = h
	p.mu.Unlock()

	p.logger.Info("document received", "document", doc.Id, "client", doc.ClientId, "filename", doc.Filename)

	// Queue without blocking the caller when every worker is busy.
	go func() {
		err := p.runPool.Submit(func() {
			p.execute(runCtx, h, doc)
			p.forget(h)
		})
		if err != nil {
			p.logger.Error("error scheduling ingestion run", "document", doc.Id, "err", err)
			r := p.newRun(h, doc)
			r.fail(runCtx, core.StageReceived, -1, err)
			h.finish(r.doc, err)
			p.forget(h)
		}
	}()

	return h, nil
}

// Run ingests an existing document synchronously and returns the final
// Document. The returned error is the one that failed the run.
func (p *Pipeline) Run(ctx context.Context, doc *core.Document) (*core.Document, error) {
	runCtx, cancel := context.WithCancel(ctx)
	h := newHandle(doc.Id, cancel)
	p.execute(runCtx, h, doc)
	return h.Wait(context.Background())
}

// Handle returns the handle of an unfinished run started by Submit.
// Finished runs are dropped; their outcome is on the Document record.
func (p *Pipeline) Handle(documentID string) (*Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[documentID]
	return h, ok
}

// forget drops a finished run's handle.
func (p *Pipeline) forget(h *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handles[h.DocumentID()] == h {
		delete(p.handles, h.DocumentID())
	}
}

// Release cancels every active run, waits for the runs to stop and
// releases the worker pools. The pipeline should not be used afterwards.
func (p *Pipeline) Release() {
	p.mu.Lock()
	p.released = true
	handles := make([]*Handle, 0, len(p.handles))
	for _, h := range p.handles {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	for _, h := range handles {
		<-h.Done()
	}

	if p.runPool != nil {
		if err := p.runPool.ReleaseTimeout(releaseTimeout); err != nil {
			p.logger.Warn("run pool did not drain", "err", err)
		}
	}
	if p.storePool != nil {
		if err := p.storePool.ReleaseTimeout(releaseTimeout); err != nil {
			p.logger.Warn("store pool did not drain", "err", err)
		}
	}
}
