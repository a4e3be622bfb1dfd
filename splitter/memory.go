package splitter

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/poiesic/folio/core"
)

// MemorySource is a PageSource over in-memory pages, used by tests and
// for plain-text documents.
type MemorySource struct {
	pages [][]byte
	err   error
}

// NewMemorySource creates a source with the given page contents.
func NewMemorySource(pages ...[]byte) *MemorySource {
	return &MemorySource{pages: pages}
}

// NewFailingSource creates a source whose PageCount always fails.
func NewFailingSource(err error) *MemorySource {
	return &MemorySource{err: err}
}

// PageCount returns the number of pages.
func (s *MemorySource) PageCount(ctx context.Context) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return len(s.pages), nil
}

// Extract joins the pages of r separated by form feeds.
func (s *MemorySource) Extract(ctx context.Context, r core.PageRange) ([]byte, error) {
	if r.Start < 0 || r.End > len(s.pages) || r.Len() <= 0 {
		return nil, fmt.Errorf("%w: page range %s out of bounds", core.ErrInvalidDocument, r)
	}
	return bytes.Join(s.pages[r.Start:r.End], []byte("\f")), nil
}

// Close is a no-op.
func (s *MemorySource) Close() error {
	return nil
}

// MemoryOpener resolves references to registered MemorySources.
type MemoryOpener struct {
	mu      sync.RWMutex
	sources map[string]*MemorySource
}

var _ Opener = (*MemoryOpener)(nil)

// NewMemoryOpener creates an empty opener.
func NewMemoryOpener() *MemoryOpener {
	return &MemoryOpener{sources: make(map[string]*MemorySource)}
}

// Register makes src available under ref.
func (o *MemoryOpener) Register(ref string, src *MemorySource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sources[ref] = src
}

// Open returns the source registered under ref.
func (o *MemoryOpener) Open(ctx context.Context, ref string) (PageSource, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	src, ok := o.sources[ref]
	if !ok {
		return nil, fmt.Errorf("%w: no source registered for %q", core.ErrInvalidDocument, ref)
	}
	return src, nil
}
