package ingestion

import (
	"errors"
	"fmt"

	"github.com/poiesic/folio/core"
)

var (
	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrOpenerRequired is returned when a source opener is not provided.
	ErrOpenerRequired = errors.New("source opener required")

	// ErrExtractorRequired is returned when an extractor is not provided.
	ErrExtractorRequired = errors.New("extractor required")

	// ErrStorerRequired is returned when a storage fan-out is not provided.
	ErrStorerRequired = errors.New("storage fan-out required")

	// ErrSourceRequired is returned when an upload has no source reference.
	ErrSourceRequired = errors.New("upload source required")

	// ErrPipelineReleased is returned by Submit after Release.
	ErrPipelineReleased = errors.New("pipeline released")

	// ErrCancelled is recorded when a run is cancelled between chunks.
	ErrCancelled = errors.New("ingestion cancelled")
)

// Reason renders a human-readable failure reason for subscribers and the
// Document record. It names the failing chunk when there is one and never
// includes the underlying error text.
func Reason(err error, stage core.Stage, chunk int) string {
	where := "ingestion failed"
	switch {
	case chunk >= 0:
		where = fmt.Sprintf("chunk %d failed", chunk)
	case stage == core.StageFlushing:
		where = "knowledge graph flush failed"
	}

	var rse *core.RelationalStoreError
	switch {
	case errors.Is(err, ErrCancelled):
		if chunk >= 0 {
			return fmt.Sprintf("ingestion cancelled before chunk %d", chunk)
		}
		return "ingestion cancelled"
	case errors.Is(err, core.ErrInvalidDocument):
		return "document could not be read as a PDF"
	case errors.Is(err, core.ErrExtractionParse):
		return where + ": extraction returned an invalid response"
	case errors.Is(err, core.ErrExtractionUnavailable):
		return where + ": extraction service unavailable"
	case errors.As(err, &rse):
		if rse.Stage == core.RelationalStageSchema {
			return fmt.Sprintf("%s: could not create table %q", where, rse.Table)
		}
		return fmt.Sprintf("%s: could not insert rows into table %q", where, rse.Table)
	case errors.Is(err, core.ErrRelationalStore):
		return where + ": could not store tables"
	case errors.Is(err, core.ErrVectorStore):
		return where + ": could not store embeddings"
	default:
		return where + ": internal error"
	}
}
