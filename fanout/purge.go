package fanout

import (
	"context"
	"fmt"

	"github.com/poiesic/folio/core"
)

// PurgeReport counts what Purge removed.
type PurgeReport struct {
	Paragraphs int
	Tables     int
	Edges      int
}

// vectorPrefixes returns the id prefixes of a document's vectors. The
// trailing separator keeps "doc1" from matching "doc10".
func vectorPrefixes(documentID string) (para, table, edge string) {
	return documentID + "_para_", documentID + "_table_", documentID + "_edge_"
}

// Purge removes everything stored for a document: its paragraph, table
// summary and edge vectors, and its relational database. Failures wrap
// core.ErrVectorStore or core.ErrRelationalStore.
func (f *Fanout) Purge(ctx context.Context, target Target) (PurgeReport, error) {
	var report PurgeReport
	para, table, edge := vectorPrefixes(target.DocumentId)
	for _, p := range []struct {
		prefix string
		count  *int
	}{{para, &report.Paragraphs}, {table, &report.Tables}, {edge, &report.Edges}} {
		err := f.call(ctx, "delete "+p.prefix, func(ctx context.Context) error {
			n, err := f.vectors.DeletePrefix(ctx, p.prefix)
			if err != nil {
				return fmt.Errorf("%w: deleting %s*: %w", core.ErrVectorStore, p.prefix, err)
			}
			*p.count = n
			return nil
		})
		if err != nil {
			return report, err
		}
	}

	if target.Database != "" {
		err := f.call(ctx, "drop "+target.Database, func(ctx context.Context) error {
			if err := f.relational.DropDatabase(ctx, target.Database); err != nil {
				return fmt.Errorf("%w: dropping %s: %w", core.ErrRelationalStore, target.Database, err)
			}
			return nil
		})
		if err != nil {
			return report, err
		}
	}

	f.logger.Info("purged document",
		"doc_id", target.DocumentId,
		"paragraphs", report.Paragraphs,
		"tables", report.Tables,
		"edges", report.Edges)
	return report, nil
}
