package splitter

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/poiesic/folio/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_TwentyFivePages(t *testing.T) {
	chunks, err := Split("doc", 25, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, core.PageRange{Start: 0, End: 10}, chunks[0].Pages)
	assert.Equal(t, core.PageRange{Start: 10, End: 20}, chunks[1].Pages)
	assert.Equal(t, core.PageRange{Start: 20, End: 25}, chunks[2].Pages)
	assert.Equal(t, "20-24", chunks[2].Pages.String())

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, "doc", c.DocumentId)
	}
}

func TestSplit_CoversEveryPageOnce(t *testing.T) {
	for pages := 1; pages <= 40; pages++ {
		for size := 1; size <= 12; size++ {
			t.Run(fmt.Sprintf("P%d_C%d", pages, size), func(t *testing.T) {
				chunks, err := Split("doc", pages, size)
				require.NoError(t, err)

				want := (pages + size - 1) / size
				require.Len(t, chunks, want)

				next := 0
				for i, c := range chunks {
					assert.Equal(t, i, c.Index)
					assert.Equal(t, next, c.Pages.Start, "chunks must be gapless")
					assert.Greater(t, c.Pages.Len(), 0)
					assert.LessOrEqual(t, c.Pages.Len(), size)
					if i < len(chunks)-1 {
						assert.Equal(t, size, c.Pages.Len(), "only the last chunk may be short")
					}
					next = c.Pages.End
				}
				assert.Equal(t, pages, next)
			})
		}
	}
}

func TestSplit_Errors(t *testing.T) {
	_, err := Split("doc", 0, 10)
	assert.ErrorIs(t, err, core.ErrInvalidDocument)

	_, err = Split("doc", 5, 0)
	assert.ErrorIs(t, err, ErrInvalidChunkSize)
}

func TestSplitSource(t *testing.T) {
	ctx := context.Background()

	t.Run("reads page count", func(t *testing.T) {
		src := NewMemorySource([]byte("a"), []byte("b"), []byte("c"))
		chunks, err := SplitSource(ctx, "doc", src, 2)
		require.NoError(t, err)
		require.Len(t, chunks, 2)

		content, err := src.Extract(ctx, chunks[0].Pages)
		require.NoError(t, err)
		assert.Equal(t, "a\fb", string(content))
	})

	t.Run("unreadable source is invalid", func(t *testing.T) {
		src := NewFailingSource(errors.New("corrupt xref"))
		_, err := SplitSource(ctx, "doc", src, 10)
		assert.ErrorIs(t, err, core.ErrInvalidDocument)
	})

	t.Run("empty source is invalid", func(t *testing.T) {
		_, err := SplitSource(ctx, "doc", NewMemorySource(), 10)
		assert.ErrorIs(t, err, core.ErrInvalidDocument)
	})
}

func TestMemoryOpener(t *testing.T) {
	opener := NewMemoryOpener()
	opener.Register("a.pdf", NewMemorySource([]byte("x")))

	src, err := opener.Open(context.Background(), "a.pdf")
	require.NoError(t, err)
	n, err := src.PageCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = opener.Open(context.Background(), "missing.pdf")
	assert.ErrorIs(t, err, core.ErrInvalidDocument)
}

func TestPDFOpener_MissingFile(t *testing.T) {
	opener := NewPDFOpener(nil)
	_, err := opener.Open(context.Background(), t.TempDir()+"/missing.pdf")
	assert.ErrorIs(t, err, core.ErrInvalidDocument)
}
