package badger

import (
	"context"
	"testing"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/graph"
	"github.com/poiesic/folio/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepos(t *testing.T) (*DocumentRepository, *GraphRepository) {
	t.Helper()
	docRepo, graphRepo, backend, err := NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() {
		docRepo.Close()
		backend.Close()
	})
	return docRepo, graphRepo
}

func TestDocumentRepository_CreateGet(t *testing.T) {
	repo, _ := newTestRepos(t)
	ctx := context.Background()

	doc := &core.Document{
		Id:                 "doc-1",
		ClientId:           "client-a",
		Filename:           "report.pdf",
		Status:             core.StatusReceived,
		LastCompletedChunk: -1,
	}
	created, err := repo.CreateDocument(ctx, doc)
	require.NoError(t, err)
	assert.False(t, created.InsertedAt.IsZero())
	assert.Equal(t, created.InsertedAt, created.UpdatedAt)

	got, err := repo.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", got.Filename)
	assert.Equal(t, core.StatusReceived, got.Status)
	assert.Equal(t, -1, got.LastCompletedChunk)
}

func TestDocumentRepository_CreateDuplicate(t *testing.T) {
	repo, _ := newTestRepos(t)
	ctx := context.Background()

	_, err := repo.CreateDocument(ctx, &core.Document{Id: "doc-1", ClientId: "c"})
	require.NoError(t, err)

	_, err = repo.CreateDocument(ctx, &core.Document{Id: "doc-1", ClientId: "c"})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestDocumentRepository_GetMissing(t *testing.T) {
	repo, _ := newTestRepos(t)

	_, err := repo.GetDocument(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDocumentRepository_Update(t *testing.T) {
	repo, _ := newTestRepos(t)
	ctx := context.Background()

	doc, err := repo.CreateDocument(ctx, &core.Document{Id: "doc-1", ClientId: "client-a", Status: core.StatusReceived})
	require.NoError(t, err)
	inserted := doc.InsertedAt

	update := &core.Document{
		Id:          "doc-1",
		ClientId:    "someone-else",
		Status:      core.StatusFailed,
		FailedStage: core.StageChunk,
		Error:       "chunk 2 failed: extraction service unavailable",
	}
	_, err = repo.UpdateDocument(ctx, update)
	require.NoError(t, err)

	got, err := repo.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.Equal(t, core.StageChunk, got.FailedStage)
	assert.Equal(t, "client-a", got.ClientId, "client is fixed at creation")
	assert.Equal(t, inserted, got.InsertedAt)
	assert.False(t, got.UpdatedAt.Before(inserted))
}

func TestDocumentRepository_UpdateMissing(t *testing.T) {
	repo, _ := newTestRepos(t)

	_, err := repo.UpdateDocument(context.Background(), &core.Document{Id: "ghost"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDocumentRepository_ListByClient(t *testing.T) {
	repo, _ := newTestRepos(t)
	ctx := context.Background()

	for _, d := range []struct{ id, client string }{
		{"d1", "alice"},
		{"d2", "bob"},
		{"d3", "alice"},
		{"d4", "alice2"},
	} {
		_, err := repo.CreateDocument(ctx, &core.Document{Id: d.id, ClientId: d.client})
		require.NoError(t, err)
	}

	docs, err := repo.ListDocumentsByClient(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "d1", docs[0].Id)
	assert.Equal(t, "d3", docs[1].Id)

	docs, err = repo.ListDocumentsByClient(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDocumentRepository_Closed(t *testing.T) {
	docRepo, _, backend, err := NewMemoryRepositories()
	require.NoError(t, err)
	docRepo.Close()
	require.NoError(t, backend.Close())

	_, err = docRepo.GetDocument(context.Background(), "x")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestGraphRepository_SaveLoad(t *testing.T) {
	_, repo := newTestRepos(t)
	ctx := context.Background()

	_, err := repo.LoadGraph(ctx, "doc-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	g, err := graph.Integrate(graph.New("doc-1"), []core.Relation{
		{Source: "Acme", Target: "Bolt", Label: "acquired", Chunk: 0, Page: 1},
	})
	require.NoError(t, err)
	require.NoError(t, repo.SaveGraph(ctx, g.Snapshot()))

	g, err = graph.Integrate(g, []core.Relation{
		{Source: "Bolt", Target: "Berlin", Label: "based in", Chunk: 1, Page: 11},
	})
	require.NoError(t, err)
	require.NoError(t, repo.SaveGraph(ctx, g.Snapshot()))

	loaded, err := repo.LoadGraph(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, g.Snapshot(), loaded)
}

func TestDocumentRepository_Delete(t *testing.T) {
	repo, _ := newTestRepos(t)
	ctx := context.Background()

	for _, id := range []string{"doc-1", "doc-2", "doc-3"} {
		_, err := repo.CreateDocument(ctx, &core.Document{Id: id, ClientId: "client-a"})
		require.NoError(t, err)
	}

	require.NoError(t, repo.DeleteDocument(ctx, "doc-2"))

	_, err := repo.GetDocument(ctx, "doc-2")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	docs, err := repo.ListDocumentsByClient(ctx, "client-a")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "doc-1", docs[0].Id)
	assert.Equal(t, "doc-3", docs[1].Id)

	assert.ErrorIs(t, repo.DeleteDocument(ctx, "doc-2"), storage.ErrNotFound)

	// The id can be reused once deleted.
	_, err = repo.CreateDocument(ctx, &core.Document{Id: "doc-2", ClientId: "client-b"})
	require.NoError(t, err)
	docs, err = repo.ListDocumentsByClient(ctx, "client-a")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestGraphRepository_Delete(t *testing.T) {
	_, repo := newTestRepos(t)
	ctx := context.Background()

	assert.ErrorIs(t, repo.DeleteGraph(ctx, "doc-1"), storage.ErrNotFound)

	require.NoError(t, repo.SaveGraph(ctx, graph.New("doc-1").Snapshot()))
	require.NoError(t, repo.DeleteGraph(ctx, "doc-1"))

	_, err := repo.LoadGraph(ctx, "doc-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
