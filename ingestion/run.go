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


package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/fanout"
	"github.com/poiesic/folio/graph"
	"github.com/poiesic/folio/progress"
	"github.com/poiesic/folio/retry"
	"github.com/poiesic/folio/splitter"
)

// run holds the state of one ingestion run. It is confined to the
// goroutine executing the run; only pending storage runs elsewhere.
type run struct {
	p       *Pipeline
	h       *Handle
	doc     *core.Document
	target  fanout.Target
	chunks  []core.Chunk
	graph   *graph.KnowledgeGraph
	pending *pendingStore
	logger  *slog.Logger
}

// pendingStore is the storage of one chunk, running on the store pool.
type pendingStore struct {
	chunk  int
	done   chan struct{}
	report fanout.ChunkReport
	err    error
}

func (p *Pipeline) newRun(h *Handle, doc *core.Document) *run {
	doc = cloneDocument(doc)
	return &run{
		p:      p,
		h:      h,
		doc:    doc,
		target: fanout.TargetFor(doc),
		graph:  graph.New(doc.Id),
		logger: p.logger.With("document", doc.Id),
	}
}

// execute drives a run to a terminal state and finishes its handle.
func (p *Pipeline) execute(ctx context.Context, h *Handle, doc *core.Document) {
	r := p.newRun(h, doc)
	err := r.execute(ctx)
	h.finish(r.doc, err)
}

func (r *run) execute(ctx context.Context) error {
	started := time.Now()

	// Received -> Splitting
	r.doc.Status = core.StatusProcessing
	r.doc.FailedStage = ""
	r.doc.Error = ""
	r.doc.ErrorDetail = ""
	r.doc.LastCompletedChunk = -1
	r.setState(core.StageSplitting, -1)
	r.save(ctx)
	r.notify(ctx, progress.EventStarted, -1, "ingestion started")

	src, err := r.p.opener.Open(ctx, r.doc.SourcePath)
	if err != nil {
		return r.fail(ctx, core.StageReceived, -1, fmt.Errorf("%w: %w", core.ErrInvalidDocument, err))
	}
	defer src.Close()

	r.chunks, err = splitter.SplitSource(ctx, r.doc.Id, src, r.p.chunkSize)
	if err != nil {
		return r.fail(ctx, core.StageReceived, -1, err)
	}

	// Splitting -> PerChunkLoop(0)
	r.doc.ChunkIds = make([]string, len(r.chunks))
	for i, c := range r.chunks {
		r.doc.ChunkIds[i] = c.Id()
	}
	r.save(ctx)
	r.notify(ctx, progress.EventSplitComplete, -1, fmt.Sprintf("split into %d chunks", len(r.chunks)))
	r.logger.Info("document split", "chunks", len(r.chunks), "chunkSize", r.p.chunkSize)

	for _, chunk := range r.chunks {
		if ctx.Err() != nil {
			if err := r.settle(ctx); err != nil {
				return err
			}
			return r.fail(ctx, r.lastGoodStage(), chunk.Index, ErrCancelled)
		}
		r.setState(core.StageChunk, chunk.Index)

		content, err := src.Extract(ctx, chunk.Pages)
		if err != nil {
			return r.failChunk(ctx, chunk.Index, fmt.Errorf("%w: %w", core.ErrInvalidDocument, err))
		}

		result, err := r.extract(ctx, chunk, content)
		if err != nil {
			return r.failChunk(ctx, chunk.Index, err)
		}

		next, err := graph.Integrate(r.graph, result.Relations)
		if err != nil {
			return r.failChunk(ctx, chunk.Index, fmt.Errorf("%w: %w", core.ErrExtractionParse, err))
		}
		r.graph = next

		// Storage of the previous chunk overlapped with this extraction.
		if err := r.settle(ctx); err != nil {
			return err
		}
		r.dispatch(ctx, chunk, result)
	}

	if err := r.settle(ctx); err != nil {
		return err
	}

	if ctx.Err() != nil {
		return r.fail(ctx, r.lastGoodStage(), -1, ErrCancelled)
	}

	// PerChunkLoop(N-1) -> Flushing
	r.setState(core.StageFlushing, -1)
	edges, err := r.p.storer.FlushGraph(ctx, r.target, r.graph)
	if err != nil {
		return r.fail(ctx, r.lastGoodStage(), -1, err)
	}
	r.saveGraph(ctx)

	// Flushing -> Completed
	r.doc.Status = core.StatusCompleted
	r.setState(core.StageCompleted, -1)
	r.save(ctx)
	r.notify(ctx, progress.EventCompleted, -1, "ingestion completed")
	r.logger.Info("document ingested",
		"chunks", len(r.chunks),
		"nodes", r.graph.NodeCount(),
		"edges", edges,
		"elapsed", time.Since(started))
	return nil
}

// extract calls the extractor with retries. Calls are detached from ctx so
// cancellation never interrupts one mid-flight; ctx only cuts retry waits.
func (r *run) extract(ctx context.Context, chunk core.Chunk, content []byte) (*core.ExtractionResult, error) {
	graphContext := graph.Summarize(r.graph, r.p.contextBudget)
	detached := context.WithoutCancel(ctx)

	var result *core.ExtractionResult
	err := retry.Do(ctx, r.p.policy, func(attempt int) error {
		res, err := r.p.extractor.Extract(detached, chunk, content, graphContext)
		if err != nil {
			r.logger.Warn("extraction attempt failed", "chunk", chunk.Index, "attempt", attempt, "err", err)
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// dispatch starts storage of a chunk on the store pool.
func (r *run) dispatch(ctx context.Context, chunk core.Chunk, result *core.ExtractionResult) {
	ps := &pendingStore{chunk: chunk.Index, done: make(chan struct{})}
	r.pending = ps

	err := r.p.storePool.Submit(func() {
		defer close(ps.done)
		ps.report, ps.err = r.p.storer.StoreChunk(ctx, r.target, result)
	})
	if err != nil {
		ps.err = fmt.Errorf("failed to schedule storage: %w", err)
		close(ps.done)
	}
}

// settle waits for pending storage. On success the chunk is complete; on
// failure the run fails at that chunk.
func (r *run) settle(ctx context.Context) error {
	ps := r.pending
	if ps == nil {
		return nil
	}
	<-ps.done
	r.pending = nil

	if ps.err != nil {
		return r.fail(ctx, r.lastGoodStage(), ps.chunk, ps.err)
	}

	for _, t := range ps.report.Tables {
		if t.Explanation == "" {
			continue
		}
		if r.doc.TableSummaries == nil {
			r.doc.TableSummaries = make(map[string]string)
		}
		r.doc.TableSummaries[t.Name] = t.Explanation
	}
	r.doc.LastCompletedChunk = ps.chunk
	r.save(ctx)
	r.notify(ctx, progress.EventChunkComplete, ps.chunk, fmt.Sprintf("chunk %d of %d stored", ps.chunk+1, len(r.chunks)))
	return nil
}

// failChunk fails the run at chunk after letting storage of the previous
// chunk settle, so a chunk whose storage succeeded is still reported.
func (r *run) failChunk(ctx context.Context, chunk int, err error) error {
	if serr := r.settle(ctx); serr != nil {
		return serr
	}
	return r.fail(ctx, r.lastGoodStage(), chunk, err)
}

// fail moves the run to failed and returns the recorded error. A retry
// wait cut short by cancellation is recorded as ErrCancelled.
func (r *run) fail(ctx context.Context, lastGood core.Stage, chunk int, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) && !errors.Is(err, ErrCancelled) {
		err = fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	reason := Reason(err, r.stage(), chunk)

	r.doc.Status = core.StatusFailed
	r.doc.FailedStage = lastGood
	r.doc.Error = reason
	r.doc.ErrorDetail = err.Error()
	r.save(ctx)
	r.notify(ctx, progress.EventFailed, chunk, reason)

	r.logger.Error("ingestion failed", "stage", r.stage(), "chunk", chunk, "reason", reason, "err", err)
	return err
}

// lastGoodStage is the stage a failed run can resume after.
func (r *run) lastGoodStage() core.Stage {
	switch {
	case r.doc.LastCompletedChunk >= 0:
		return core.StageChunk
	case r.chunks != nil:
		return core.StageSplitting
	default:
		return core.StageReceived
	}
}

func (r *run) stage() core.Stage {
	return r.h.State().Stage
}

func (r *run) setState(stage core.Stage, chunk int) {
	r.h.setState(State{Status: r.doc.Status, Stage: stage, Chunk: chunk, Chunks: len(r.chunks)})
}

// save persists the document. Failures are logged; the run carries on
// with its in-memory record.
func (r *run) save(ctx context.Context) {
	updated, err := r.p.documents.UpdateDocument(context.WithoutCancel(ctx), cloneDocument(r.doc))
	if err != nil {
		r.logger.Error("error updating document", "status", r.doc.Status, "err", err)
		return
	}
	r.doc.UpdatedAt = updated.UpdatedAt
	r.doc.InsertedAt = updated.InsertedAt
}

func (r *run) saveGraph(ctx context.Context) {
	if r.p.graphs == nil {
		return
	}
	if err := r.p.graphs.SaveGraph(context.WithoutCancel(ctx), r.graph.Snapshot()); err != nil {
		r.logger.Error("error saving knowledge graph", "err", err)
	}
}

func (r *run) notify(ctx context.Context, t progress.EventType, chunk int, message string) {
	event := progress.Event{
		Type:       t,
		DocumentId: r.doc.Id,
		ClientId:   r.doc.ClientId,
		Filename:   r.doc.Filename,
		Status:     r.doc.Status,
		Message:    message,
		Chunk:      chunk,
		ChunkCount: len(r.chunks),
		Time:       time.Now().UTC(),
	}
	if err := r.p.notifier.Notify(context.WithoutCancel(ctx), r.doc.Id, event); err != nil {
		r.logger.Warn("error delivering progress event", "event", t, "err", err)
	}
}

func cloneDocument(doc *core.Document) *core.Document {
	c := *doc
	c.ChunkIds = slices.Clone(doc.ChunkIds)
	c.TableSummaries = maps.Clone(doc.TableSummaries)
	return &c
}
