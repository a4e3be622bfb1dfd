package ingestion

import (
	"context"
	"sync"

	"github.com/poiesic/folio/core"
)

// State is a point-in-time view of a run.
type State struct {
	Status core.Status
	Stage  core.Stage
	Chunk  int // Chunk being processed in StageChunk, otherwise -1
	Chunks int // Chunk count, known after splitting
}

// Handle observes and controls one background run.
// It is safe for concurrent use.
type Handle struct {
	documentID string
	cancel     context.CancelFunc
	done       chan struct{}

	mu    sync.Mutex
	state State
	doc   *core.Document
	err   error
}

func newHandle(documentID string, cancel context.CancelFunc) *Handle {
	return &Handle{
		documentID: documentID,
		cancel:     cancel,
		done:       make(chan struct{}),
		state:      State{Status: core.StatusReceived, Stage: core.StageReceived, Chunk: -1},
	}
}

// DocumentID returns the id of the document being ingested.
func (h *Handle) DocumentID() string {
	return h.documentID
}

// Cancel asks the run to stop. The run notices at the next chunk boundary;
// an extraction call already in flight completes or times out first.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done is closed when the run reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run finishes or ctx ends. It returns the final
// Document and the error that failed the run, if any.
func (h *Handle) Wait(ctx context.Context) (*core.Document, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc, h.err
}

// State returns the current state of the run.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *Handle) finish(doc *core.Document, err error) {
	h.mu.Lock()
	h.doc = doc
	h.err = err
	h.state.Status = doc.Status
	h.mu.Unlock()
	h.cancel()
	close(h.done)
}
