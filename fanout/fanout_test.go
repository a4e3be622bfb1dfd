package fanout

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/folio/ai/mock"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/graph"
	"github.com/poiesic/folio/retry"
	"github.com/poiesic/folio/storage"
	"github.com/poiesic/folio/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var target = Target{DocumentId: "doc1", Filename: "report.pdf", Database: "doc_doc1"}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

type stores struct {
	vectors    *sqlite.VectorStore
	relational *sqlite.RelationalStore
}

func newStores(t *testing.T) stores {
	t.Helper()
	dir := t.TempDir()
	vectors, err := sqlite.OpenVectorStore(context.Background(), filepath.Join(dir, "vectors.db"))
	require.NoError(t, err)
	relational, err := sqlite.OpenRelationalStore(filepath.Join(dir, "tables"), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		vectors.Close()
		relational.Close()
	})
	return stores{vectors: vectors, relational: relational}
}

// flakyVectors fails the first failures upserts.
type flakyVectors struct {
	storage.VectorStore
	mu       sync.Mutex
	failures int
	calls    int
	ctxErrs  []error
}

func (v *flakyVectors) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	v.mu.Lock()
	v.calls++
	v.ctxErrs = append(v.ctxErrs, ctx.Err())
	fail := v.calls <= v.failures
	v.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return v.VectorStore.Upsert(ctx, id, vector, metadata)
}

// flakyRelational fails schema or insert calls a set number of times.
type flakyRelational struct {
	storage.RelationalStore
	mu            sync.Mutex
	schemaFails   int
	insertFails   int
	schemaCalls   int
	insertCalls   int
	permanentErrs bool
}

func (r *flakyRelational) CreateTable(ctx context.Context, database, table string, columns []string) error {
	r.mu.Lock()
	r.schemaCalls++
	fail := r.schemaCalls <= r.schemaFails
	r.mu.Unlock()
	if fail {
		if r.permanentErrs {
			return fmt.Errorf("%w: bad name", storage.ErrInvalidIdentifier)
		}
		return errors.New("server has gone away")
	}
	return r.RelationalStore.CreateTable(ctx, database, table, columns)
}

func (r *flakyRelational) InsertRows(ctx context.Context, database, table string, columns []string, rows [][]any) (int, error) {
	r.mu.Lock()
	r.insertCalls++
	fail := r.insertCalls <= r.insertFails
	r.mu.Unlock()
	if fail {
		return 0, errors.New("lock wait timeout")
	}
	return r.RelationalStore.InsertRows(ctx, database, table, columns, rows)
}

func TestNew_Validation(t *testing.T) {
	s := newStores(t)
	emb := mock.NewMockEmbedder()

	_, err := New(nil, s.vectors, s.relational)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
	_, err = New(emb, nil, s.relational)
	assert.ErrorIs(t, err, ErrVectorStoreRequired)
	_, err = New(emb, s.vectors, nil)
	assert.ErrorIs(t, err, ErrRelationalStoreRequired)
	_, err = New(emb, s.vectors, s.relational, WithRetryPolicy(retry.Policy{}))
	assert.ErrorIs(t, err, retry.ErrInvalidMaxAttempts)
}

func TestStoreParagraph(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	emb := mock.NewMockEmbedder()
	f, err := New(emb, s.vectors, s.relational, WithRetryPolicy(fastPolicy()))
	require.NoError(t, err)

	err = f.StoreParagraph(ctx, target, core.Paragraph{DocumentId: "doc1", Chunk: 1, Page: 12, Ordinal: 3, Text: "Acme acquired Bolt."})
	require.NoError(t, err)

	vector, meta, err := s.vectors.Get(ctx, "doc1_para_1_3")
	require.NoError(t, err)
	assert.NotEmpty(t, vector)
	assert.Equal(t, map[string]string{
		"doc_id":   "doc1",
		"filename": "report.pdf",
		"type":     "paragraph",
		"chunk":    "1",
		"page_no":  "13",
	}, meta)
	assert.Equal(t, []string{"Acme acquired Bolt."}, emb.Texts())
}

func TestStoreParagraph_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	vectors := &flakyVectors{VectorStore: s.vectors, failures: 2}
	f, err := New(mock.NewMockEmbedder(), vectors, s.relational, WithRetryPolicy(fastPolicy()))
	require.NoError(t, err)

	require.NoError(t, f.StoreParagraph(ctx, target, core.Paragraph{Text: "x"}))
	assert.Equal(t, 3, vectors.calls)
}

func TestStoreParagraph_ExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	vectors := &flakyVectors{VectorStore: s.vectors, failures: 10}
	f, err := New(mock.NewMockEmbedder(), vectors, s.relational, WithRetryPolicy(fastPolicy()))
	require.NoError(t, err)

	err = f.StoreParagraph(ctx, target, core.Paragraph{Text: "x"})
	assert.ErrorIs(t, err, core.ErrVectorStore)
	assert.Equal(t, 3, vectors.calls)
}

func TestStoreParagraph_InFlightCallSurvivesCancellation(t *testing.T) {
	s := newStores(t)
	vectors := &flakyVectors{VectorStore: s.vectors}
	f, err := New(mock.NewMockEmbedder(), vectors, s.relational, WithRetryPolicy(fastPolicy()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.StoreParagraph(ctx, target, core.Paragraph{Text: "x"}))
	assert.Equal(t, []error{nil}, vectors.ctxErrs)
}

func TestStoreTable_RowsInOrderAndSummary(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	emb := mock.NewMockEmbedder()
	f, err := New(emb, s.vectors, s.relational, WithRetryPolicy(fastPolicy()))
	require.NoError(t, err)

	stored, err := f.StoreTable(ctx, target, core.Table{
		Chunk:       0,
		Page:        4,
		Ordinal:     0,
		Name:        "Revenue by Quarter",
		Explanation: "Quarterly revenue.",
		Columns:     []string{"quarter", "revenue (USD)"},
		Rows:        [][]any{{"Q1", "12.5"}, {"Q2", nil}},
	})
	require.NoError(t, err)
	assert.Equal(t, StoredTable{Name: "Revenue_by_Quarter", Explanation: "Quarterly revenue.", Rows: 2}, stored)

	cols, rows, err := s.relational.Rows(ctx, "doc_doc1", "Revenue_by_Quarter")
	require.NoError(t, err)
	assert.Equal(t, []string{"quarter", "revenue__USD_"}, cols)
	assert.Equal(t, [][]string{{"Q1", "12.5"}, {"Q2", ""}}, rows)

	_, meta, err := s.vectors.Get(ctx, "doc1_table_0_0")
	require.NoError(t, err)
	assert.Equal(t, "table_summary", meta["type"])
	assert.Equal(t, "Revenue_by_Quarter", meta["table_name"])
	assert.Equal(t, "doc_doc1", meta["database"])
	assert.Equal(t, "5", meta["page_no"])
}

func TestStoreTable_ContinuesAcrossChunks(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	f, err := New(mock.NewMockEmbedder(), s.vectors, s.relational, WithRetryPolicy(fastPolicy()))
	require.NoError(t, err)

	_, err = f.StoreTable(ctx, target, core.Table{Chunk: 0, Name: "staff", Columns: []string{"name"}, Rows: [][]any{{"Ada"}}})
	require.NoError(t, err)
	_, err = f.StoreTable(ctx, target, core.Table{Chunk: 1, Name: "staff", Columns: []string{"name", "role"}, Rows: [][]any{{"Grace", "admiral"}}})
	require.NoError(t, err)

	_, rows, err := s.relational.Rows(ctx, "doc_doc1", "staff")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Ada", ""}, {"Grace", "admiral"}}, rows)

	_, _, err = s.vectors.Get(ctx, "doc1_table_0_0")
	assert.ErrorIs(t, err, storage.ErrNotFound, "no summary without an explanation")
}

func TestStoreTable_RetriesInsert(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	relational := &flakyRelational{RelationalStore: s.relational, insertFails: 1}
	f, err := New(mock.NewMockEmbedder(), s.vectors, relational, WithRetryPolicy(fastPolicy()))
	require.NoError(t, err)

	stored, err := f.StoreTable(ctx, target, core.Table{Name: "t", Columns: []string{"a"}, Rows: [][]any{{"1"}, {"2"}}})
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Rows)
	assert.Equal(t, 2, relational.insertCalls)

	_, rows, err := s.relational.Rows(ctx, "doc_doc1", "t")
	require.NoError(t, err)
	assert.Len(t, rows, 2, "failed attempt left no rows behind")
}

func TestStoreTable_SchemaFailure(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	relational := &flakyRelational{RelationalStore: s.relational, schemaFails: 10}
	f, err := New(mock.NewMockEmbedder(), s.vectors, relational, WithRetryPolicy(fastPolicy()))
	require.NoError(t, err)

	_, err = f.StoreTable(ctx, target, core.Table{Name: "t", Columns: []string{"a"}, Rows: [][]any{{"1"}}})
	require.Error(t, err)

	var rse *core.RelationalStoreError
	require.ErrorAs(t, err, &rse)
	assert.Equal(t, core.RelationalStageSchema, rse.Stage)
	assert.Equal(t, "doc_doc1", rse.Database)
	assert.Equal(t, "t", rse.Table)
	assert.Zero(t, rse.Inserted)
	assert.ErrorIs(t, err, core.ErrRelationalStore)
	assert.Equal(t, 3, relational.schemaCalls)
	assert.Zero(t, relational.insertCalls)
}

func TestStoreTable_PermanentErrorsAreNotRetried(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	relational := &flakyRelational{RelationalStore: s.relational, schemaFails: 10, permanentErrs: true}
	f, err := New(mock.NewMockEmbedder(), s.vectors, relational, WithRetryPolicy(fastPolicy()))
	require.NoError(t, err)

	_, err = f.StoreTable(ctx, target, core.Table{Name: "t", Columns: []string{"a"}})
	assert.ErrorIs(t, err, core.ErrRelationalStore)
	assert.ErrorIs(t, err, storage.ErrInvalidIdentifier)
	assert.Equal(t, 1, relational.schemaCalls)

	_, err = f.StoreTable(ctx, target, core.Table{Name: "%%%", Columns: []string{"a"}})
	assert.ErrorIs(t, err, storage.ErrInvalidIdentifier)
	assert.Equal(t, 1, relational.schemaCalls, "invalid names never reach the store")
}

func TestStoreChunk(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	f, err := New(mock.NewMockEmbedder(), s.vectors, s.relational, WithRetryPolicy(fastPolicy()), WithConcurrency(2))
	require.NoError(t, err)

	result := &core.ExtractionResult{
		ChunkId: "doc1_chunk_0",
		Paragraphs: []core.Paragraph{
			{Chunk: 0, Ordinal: 0, Text: "one"},
			{Chunk: 0, Ordinal: 1, Text: "two"},
			{Chunk: 0, Ordinal: 2, Text: "three"},
		},
		Tables: []core.Table{
			{Chunk: 0, Ordinal: 0, Name: "a", Explanation: "A.", Columns: []string{"x"}, Rows: [][]any{{"1"}}},
			{Chunk: 0, Ordinal: 1, Name: "a", Columns: []string{"x"}, Rows: [][]any{{"2"}}},
		},
	}

	report, err := f.StoreChunk(ctx, target, result)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Paragraphs)
	require.Len(t, report.Tables, 2)
	assert.Equal(t, "A.", report.Tables[0].Explanation)

	n, err := s.vectors.Count(ctx, "doc1_para_0_")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, rows, err := s.relational.Rows(ctx, "doc_doc1", "a")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1"}, {"2"}}, rows)
}

func TestStoreChunk_ReturnsFailure(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	vectors := &flakyVectors{VectorStore: s.vectors, failures: 100}
	f, err := New(mock.NewMockEmbedder(), vectors, s.relational, WithRetryPolicy(fastPolicy()))
	require.NoError(t, err)

	_, err = f.StoreChunk(ctx, target, &core.ExtractionResult{
		Paragraphs: []core.Paragraph{{Text: "one"}},
	})
	assert.ErrorIs(t, err, core.ErrVectorStore)

	report, err := f.StoreChunk(ctx, target, &core.ExtractionResult{})
	require.NoError(t, err)
	assert.Zero(t, report.Paragraphs)
}

func TestFlushGraph_BatchesInInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	emb := mock.NewMockEmbedder()
	f, err := New(emb, s.vectors, s.relational, WithRetryPolicy(fastPolicy()), WithBatchSize(2))
	require.NoError(t, err)

	g := graph.New("doc1")
	for i := 0; i < 5; i++ {
		g, err = graph.Integrate(g, []core.Relation{{
			Source: fmt.Sprintf("n%d", i), Label: "next", Target: fmt.Sprintf("n%d", i+1), Chunk: i / 2, Page: i,
		}})
		require.NoError(t, err)
	}

	var batches []int
	emb.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		batches = append(batches, len(texts))
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{float32(i), 1}
		}
		return out, nil
	}

	n, err := f.FlushGraph(ctx, target, g)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []int{2, 2, 1}, batches)
	assert.Equal(t, []string{"n0 next n1", "n1 next n2", "n2 next n3", "n3 next n4", "n4 next n5"}, emb.Texts())

	_, meta, err := s.vectors.Get(ctx, "doc1_edge_3")
	require.NoError(t, err)
	source, _ := g.Lookup("n3")
	targetNode, _ := g.Lookup("n4")
	assert.Equal(t, map[string]string{
		"doc_id":         "doc1",
		"filename":       "report.pdf",
		"type":           "knowledge_graph_edge",
		"chunk":          "1",
		"page_no":        "4",
		"source_node_id": source.Id.String(),
		"target_node_id": targetNode.Id.String(),
		"relation":       "next",
	}, meta)
}

func TestFlushGraph_Empty(t *testing.T) {
	s := newStores(t)
	emb := mock.NewMockEmbedder()
	f, err := New(emb, s.vectors, s.relational)
	require.NoError(t, err)

	n, err := f.FlushGraph(context.Background(), target, graph.New("doc1"))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, emb.CallCount())
}

func TestFlushGraph_EmbeddingMismatch(t *testing.T) {
	s := newStores(t)
	emb := mock.NewMockEmbedder()
	emb.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, nil
	}
	f, err := New(emb, s.vectors, s.relational, WithRetryPolicy(fastPolicy()))
	require.NoError(t, err)

	g, err := graph.Integrate(graph.New("doc1"), []core.Relation{{Source: "a", Label: "r", Target: "b"}})
	require.NoError(t, err)

	n, err := f.FlushGraph(context.Background(), target, g)
	assert.ErrorIs(t, err, core.ErrVectorStore)
	assert.Zero(t, n)
}

func TestStoreRelation(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	emb := mock.NewMockEmbedder()
	f, err := New(emb, s.vectors, s.relational)
	require.NoError(t, err)

	g, err := graph.Integrate(graph.New("doc1"), []core.Relation{{Source: "Acme", Label: "acquired", Target: "Bolt", Page: 2}})
	require.NoError(t, err)

	require.NoError(t, f.StoreRelation(ctx, target, g, graph.Finalize(g)[0]))
	_, meta, err := s.vectors.Get(ctx, "doc1_edge_0")
	require.NoError(t, err)
	assert.Equal(t, "acquired", meta["relation"])
	assert.Equal(t, []string{"Acme acquired Bolt"}, emb.Texts())
}

func TestStoreRelation_MatchesFlush(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	f, err := New(mock.NewMockEmbedder(), s.vectors, s.relational, WithBatchSize(2))
	require.NoError(t, err)

	g, err := graph.Integrate(graph.New("doc1"), []core.Relation{
		{Source: "Acme", Label: "acquired", Target: "Bolt", Chunk: 0, Page: 2},
		{Source: "Bolt", Label: "based in", Target: "Berlin", Chunk: 1, Page: 11},
		{Source: "acme", Label: "employs", Target: "Jane", Chunk: 1, Page: 12},
	})
	require.NoError(t, err)
	edges := graph.Finalize(g)

	require.NoError(t, f.StoreRelation(ctx, target, g, edges[2]))
	single, singleMeta, err := s.vectors.Get(ctx, "doc1_edge_2")
	require.NoError(t, err)

	n, err := f.FlushGraph(ctx, target, g)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	flushed, flushedMeta, err := s.vectors.Get(ctx, "doc1_edge_2")
	require.NoError(t, err)
	assert.Equal(t, single, flushed)
	assert.Equal(t, singleMeta, flushedMeta)
	assert.Equal(t, "13", flushedMeta["page_no"])
	assert.Equal(t, "Acme employs Jane", g.Text(edges[2]))
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	f, err := New(mock.NewMockEmbedder(), s.vectors, s.relational, WithRetryPolicy(fastPolicy()))
	require.NoError(t, err)

	_, err = f.StoreChunk(ctx, target, &core.ExtractionResult{
		Paragraphs: []core.Paragraph{{Chunk: 0, Ordinal: 0, Text: "one"}, {Chunk: 1, Ordinal: 0, Text: "two"}},
		Tables: []core.Table{
			{Chunk: 0, Ordinal: 0, Name: "a", Explanation: "A.", Columns: []string{"x"}, Rows: [][]any{{"1"}}},
		},
	})
	require.NoError(t, err)
	g, err := graph.Integrate(graph.New("doc1"), []core.Relation{{Source: "Acme", Label: "acquired", Target: "Bolt"}})
	require.NoError(t, err)
	_, err = f.FlushGraph(ctx, target, g)
	require.NoError(t, err)
	tables, err := s.vectors.Count(ctx, "doc1_table_")
	require.NoError(t, err)

	other := Target{DocumentId: "doc10", Filename: "other.pdf", Database: "doc_doc10"}
	require.NoError(t, f.StoreParagraph(ctx, other, core.Paragraph{Text: "kept"}))

	report, err := f.Purge(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, PurgeReport{Paragraphs: 2, Tables: tables, Edges: 1}, report)

	n, err := s.vectors.Count(ctx, "doc1_")
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = s.vectors.Count(ctx, "doc10_")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, _, err = s.relational.Rows(ctx, "doc_doc1", "a")
	assert.Error(t, err, "the table went with its database")

	report, err = f.Purge(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, PurgeReport{}, report)
}

func TestPurge_StoreFailure(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	f, err := New(mock.NewMockEmbedder(), s.vectors, s.relational, WithRetryPolicy(fastPolicy()))
	require.NoError(t, err)

	require.NoError(t, s.relational.Close())
	_, err = f.Purge(ctx, target)
	assert.ErrorIs(t, err, core.ErrRelationalStore)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	require.NoError(t, s.vectors.Close())
	_, err = f.Purge(ctx, target)
	assert.ErrorIs(t, err, core.ErrVectorStore)
}
