package fanout

import (
	"context"
	"fmt"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/graph"
)

// EdgeID is the vector id of a graph edge.
func EdgeID(documentID string, seq int) string {
	return fmt.Sprintf("%s_edge_%d", documentID, seq)
}

func edgeMetadata(target Target, e graph.Edge) map[string]string {
	metadata := baseMetadata(target, TypeGraphEdge, e.Chunk, e.Page)
	metadata[MetaSourceNodeID] = e.Source.String()
	metadata[MetaTargetNodeID] = e.Target.String()
	metadata[MetaRelation] = e.Label
	return metadata
}

// StoreRelation embeds one edge of g as "<source> <relation> <target>" and
// upserts it into the vector store. Failures wrap core.ErrVectorStore.
func (f *Fanout) StoreRelation(ctx context.Context, target Target, g *graph.KnowledgeGraph, e graph.Edge) error {
	var vector []float32
	err := f.call(ctx, "embed edge", func(ctx context.Context) error {
		v, err := f.embedder.EmbedText(ctx, g.Text(e))
		if err != nil {
			return fmt.Errorf("%w: embedding edge %d: %w", core.ErrVectorStore, e.Seq, err)
		}
		vector = v
		return nil
	})
	if err != nil {
		return err
	}
	return f.upsertEdge(ctx, target, e, vector)
}

// upsertEdge writes an embedded edge under its deterministic id.
func (f *Fanout) upsertEdge(ctx context.Context, target Target, e graph.Edge, vector []float32) error {
	id := EdgeID(target.DocumentId, e.Seq)
	return f.call(ctx, "upsert "+id, func(ctx context.Context) error {
		if err := f.vectors.Upsert(ctx, id, vector, edgeMetadata(target, e)); err != nil {
			return fmt.Errorf("%w: upserting %s: %w", core.ErrVectorStore, id, err)
		}
		return nil
	})
}

// FlushGraph embeds every edge of the finished graph in insertion order,
// batching embedding calls, and returns the number of edges stored.
// Re-running a flush overwrites the same records.
func (f *Fanout) FlushGraph(ctx context.Context, target Target, g *graph.KnowledgeGraph) (int, error) {
	edges := graph.Finalize(g)
	stored := 0

	for start := 0; start < len(edges); start += f.batchSize {
		batch := edges[start:min(start+f.batchSize, len(edges))]

		texts := make([]string, len(batch))
		for i, e := range batch {
			texts[i] = g.Text(e)
		}

		var vectors [][]float32
		err := f.call(ctx, "embed edges", func(ctx context.Context) error {
			v, err := f.embedder.EmbedTexts(ctx, texts)
			if err != nil {
				return fmt.Errorf("%w: embedding %d edges: %w", core.ErrVectorStore, len(texts), err)
			}
			if len(v) != len(texts) {
				return fmt.Errorf("%w: embedding result mismatch. expected %d, received %d",
					core.ErrVectorStore, len(texts), len(v))
			}
			vectors = v
			return nil
		})
		if err != nil {
			return stored, err
		}

		for i, e := range batch {
			if err := f.upsertEdge(ctx, target, e, vectors[i]); err != nil {
				return stored, err
			}
			stored++
		}

		f.logger.Debug("graph batch flushed", "document", target.DocumentId, "edges", stored, "total", len(edges))
	}

	return stored, nil
}
