package fanout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
	"golang.org/x/sync/errgroup"
)

// ParagraphID is the vector id of a paragraph.
func ParagraphID(documentID string, chunk, ordinal int) string {
	return fmt.Sprintf("%s_para_%d_%d", documentID, chunk, ordinal)
}

// TableID is the vector id of a table summary.
func TableID(documentID string, chunk, ordinal int) string {
	return fmt.Sprintf("%s_table_%d_%d", documentID, chunk, ordinal)
}

// StoredTable describes a table written to the relational store.
type StoredTable struct {
	Name        string // Sanitized table name
	Explanation string
	Rows        int
}

// ChunkReport summarizes what StoreChunk wrote.
type ChunkReport struct {
	Paragraphs int
	Tables     []StoredTable
}

// StoreParagraph embeds a paragraph and upserts it into the vector store.
// Failures wrap core.ErrVectorStore.
func (f *Fanout) StoreParagraph(ctx context.Context, target Target, p core.Paragraph) error {
	if err := core.ValidateParagraph(&p); err != nil {
		return fmt.Errorf("%w: %w", core.ErrVectorStore, err)
	}
	id := ParagraphID(target.DocumentId, p.Chunk, p.Ordinal)
	return f.embedOne(ctx, id, p.Text, baseMetadata(target, TypeParagraph, p.Chunk, p.Page))
}

// StoreTable writes a table's rows to the document's relational database,
// creating the database and table when needed, then embeds its explanation
// as a table_summary record. A table that continues an earlier one with the
// same name gains any new columns and its rows are appended.
//
// Relational failures are returned as *core.RelationalStoreError; the
// summary embedding fails with core.ErrVectorStore.
func (f *Fanout) StoreTable(ctx context.Context, target Target, t core.Table) (StoredTable, error) {
	schemaErr := func(table string, err error) error {
		return relationalError(core.RelationalStageSchema, target.Database, table, 0, err)
	}

	if err := core.ValidateTable(&t); err != nil {
		return StoredTable{}, schemaErr(t.Name, err)
	}
	name, err := storage.SanitizeIdentifier(t.Name)
	if err != nil {
		return StoredTable{}, schemaErr(t.Name, err)
	}
	columns, err := storage.SanitizeColumns(t.Columns)
	if err != nil {
		return StoredTable{}, schemaErr(name, err)
	}
	if err := storage.CheckIdentifier(target.Database); err != nil {
		return StoredTable{}, schemaErr(name, err)
	}

	err = f.call(ctx, "create table "+name, func(ctx context.Context) error {
		if err := f.relational.EnsureDatabase(ctx, target.Database); err != nil {
			return schemaErr(name, err)
		}
		if err := f.relational.CreateTable(ctx, target.Database, name, columns); err != nil {
			return schemaErr(name, err)
		}
		return nil
	})
	if err != nil {
		return StoredTable{}, schemaErr(name, err)
	}

	rows := make([][]any, len(t.Rows))
	for i, row := range t.Rows {
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = storage.CellValue(v)
		}
		rows[i] = values
	}

	inserted := 0
	if len(rows) > 0 {
		err = f.call(ctx, "insert "+name, func(ctx context.Context) error {
			n, err := f.relational.InsertRows(ctx, target.Database, name, columns, rows)
			if err != nil {
				return relationalError(core.RelationalStageInsert, target.Database, name, 0, err)
			}
			inserted = n
			return nil
		})
		if err != nil {
			return StoredTable{}, relationalError(core.RelationalStageInsert, target.Database, name, 0, err)
		}
	}

	stored := StoredTable{Name: name, Explanation: t.Explanation, Rows: inserted}

	if explanation := strings.TrimSpace(t.Explanation); explanation != "" {
		metadata := baseMetadata(target, TypeTableSummary, t.Chunk, t.Page)
		metadata[MetaTable] = name
		metadata[MetaDatabase] = target.Database
		text := fmt.Sprintf("Table %s (columns: %s): %s", name, strings.Join(columns, ", "), explanation)
		if err := f.embedOne(ctx, TableID(target.DocumentId, t.Chunk, t.Ordinal), text, metadata); err != nil {
			return stored, err
		}
	}

	f.logger.Debug("table stored", "document", target.DocumentId, "table", name, "rows", inserted)
	return stored, nil
}

// relationalError wraps err as a *core.RelationalStoreError unless it
// already is one.
func relationalError(stage core.RelationalStage, database, table string, inserted int, err error) error {
	var rse *core.RelationalStoreError
	if errors.As(err, &rse) {
		return err
	}
	return &core.RelationalStoreError{Stage: stage, Database: database, Table: table, Inserted: inserted, Err: err}
}

// StoreChunk stores every paragraph and table of an extraction result.
// Paragraphs are written concurrently; tables are written one after another
// in extraction order so continued tables append in order. The first
// failure is returned once all started writes have finished.
func (f *Fanout) StoreChunk(ctx context.Context, target Target, result *core.ExtractionResult) (ChunkReport, error) {
	var report ChunkReport
	if result == nil {
		return report, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	tables := make([]StoredTable, 0, len(result.Tables))
	if len(result.Tables) > 0 {
		g.Go(func() error {
			for _, t := range result.Tables {
				stored, err := f.StoreTable(gctx, target, t)
				if err != nil {
					return err
				}
				tables = append(tables, stored)
			}
			return nil
		})
	}

	for _, p := range result.Paragraphs {
		g.Go(func() error {
			return f.StoreParagraph(gctx, target, p)
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}
	report.Paragraphs = len(result.Paragraphs)
	report.Tables = tables
	return report, nil
}
