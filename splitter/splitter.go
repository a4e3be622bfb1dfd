package splitter

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/folio/core"
)

// DefaultChunkSize is the number of pages per chunk when none is configured.
const DefaultChunkSize = 10

// ErrInvalidChunkSize is returned when the chunk size is not positive.
var ErrInvalidChunkSize = errors.New("chunk size must be greater than 0")

// PageSource gives page-level access to a source document.
type PageSource interface {
	// PageCount returns the total number of pages.
	PageCount(ctx context.Context) (int, error)

	// Extract returns the raw content of the given page range, suitable
	// for sending to the extraction backend.
	Extract(ctx context.Context, pages core.PageRange) ([]byte, error)

	// Close releases resources held by the source.
	Close() error
}

// Opener opens a PageSource from a source file reference.
type Opener interface {
	Open(ctx context.Context, ref string) (PageSource, error)
}

// Split partitions pageCount pages into ordered, gapless, non-overlapping
// chunks of chunkSize pages. The last chunk may be shorter.
func Split(documentID string, pageCount, chunkSize int) ([]core.Chunk, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	if pageCount <= 0 {
		return nil, fmt.Errorf("%w: document has %d pages", core.ErrInvalidDocument, pageCount)
	}

	count := (pageCount + chunkSize - 1) / chunkSize
	chunks := make([]core.Chunk, 0, count)
	for i := 0; i < count; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, pageCount)
		chunks = append(chunks, core.Chunk{
			DocumentId: documentID,
			Index:      i,
			Pages:      core.PageRange{Start: start, End: end},
		})
	}
	return chunks, nil
}

// SplitSource reads the page count from src and splits it.
// An unreadable source fails with core.ErrInvalidDocument.
func SplitSource(ctx context.Context, documentID string, src PageSource, chunkSize int) ([]core.Chunk, error) {
	pages, err := src.PageCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidDocument, err)
	}
	return Split(documentID, pages, chunkSize)
}
