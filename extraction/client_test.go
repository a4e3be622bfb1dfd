package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/ai/mock"
	"github.com/poiesic/folio/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okResponse = `{"paragraphs": [{"page_no": 1, "text": "Hello"}], "tables": [], "relations": []}`

var firstChunk = core.Chunk{DocumentId: "doc", Index: 0, Pages: core.PageRange{Start: 0, End: 10}}

func TestNewClient_RequiresGenerator(t *testing.T) {
	_, err := NewClient(nil)
	assert.ErrorIs(t, err, ErrGeneratorRequired)
}

func TestExtract_SendsChunkAndContext(t *testing.T) {
	gen := mock.NewMockGenerator()
	gen.GenerateFunc = func(ctx context.Context, req ai.GenerateRequest) (string, error) {
		return okResponse, nil
	}
	client, err := NewClient(gen)
	require.NoError(t, err)

	result, err := client.Extract(context.Background(), firstChunk, []byte("%PDF-1.7"), "- Acme -[acquired]-> Bolt")
	require.NoError(t, err)
	assert.Equal(t, "Hello", result.Paragraphs[0].Text)

	require.Equal(t, 1, gen.CallCount())
	req := gen.Requests()[0]
	assert.Equal(t, []byte("%PDF-1.7"), req.Attachment)
	assert.Equal(t, MimeTypePDF, req.MimeType)
	assert.True(t, req.JSON)
	assert.Contains(t, req.System, `"relations"`)
	assert.Contains(t, req.Prompt, "pages 1 to 10")
	assert.Contains(t, req.Prompt, "- Acme -[acquired]-> Bolt")
}

func TestExtract_EmptyContextForFirstChunk(t *testing.T) {
	gen := mock.NewMockGenerator()
	gen.GenerateFunc = func(ctx context.Context, req ai.GenerateRequest) (string, error) {
		return okResponse, nil
	}
	client, err := NewClient(gen)
	require.NoError(t, err)

	_, err = client.Extract(context.Background(), firstChunk, []byte("pdf"), "")
	require.NoError(t, err)
	assert.Contains(t, gen.Requests()[0].Prompt, "(none yet)")
}

func TestExtract_EmptyContent(t *testing.T) {
	gen := mock.NewMockGenerator()
	client, err := NewClient(gen)
	require.NoError(t, err)

	_, err = client.Extract(context.Background(), firstChunk, nil, "")
	assert.ErrorIs(t, err, core.ErrInvalidDocument)
	assert.Zero(t, gen.CallCount())
}

func TestExtract_BackendErrorIsUnavailable(t *testing.T) {
	gen := mock.NewMockGenerator()
	gen.GenerateFunc = func(ctx context.Context, req ai.GenerateRequest) (string, error) {
		return "", errors.New("connection refused")
	}
	client, err := NewClient(gen)
	require.NoError(t, err)

	_, err = client.Extract(context.Background(), firstChunk, []byte("pdf"), "")
	assert.ErrorIs(t, err, core.ErrExtractionUnavailable)
	assert.True(t, core.IsTransient(err))
	assert.Equal(t, 1, gen.CallCount(), "client does not retry")
}

func TestExtract_TimeoutIsUnavailable(t *testing.T) {
	gen := mock.NewMockGenerator()
	gen.GenerateFunc = func(ctx context.Context, req ai.GenerateRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	client, err := NewClient(gen, WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	_, err = client.Extract(context.Background(), firstChunk, []byte("pdf"), "")
	assert.ErrorIs(t, err, core.ErrExtractionUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExtract_MalformedIsParseError(t *testing.T) {
	gen := mock.NewMockGenerator()
	gen.GenerateFunc = func(ctx context.Context, req ai.GenerateRequest) (string, error) {
		return `{"paragraphs": "nope"}`, nil
	}
	client, err := NewClient(gen)
	require.NoError(t, err)

	_, err = client.Extract(context.Background(), firstChunk, []byte("pdf"), "")
	assert.ErrorIs(t, err, core.ErrExtractionParse)
	assert.False(t, core.IsTransient(err))
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(secondChunk, "Known entities: 1.")
	assert.True(t, strings.HasPrefix(prompt, "The attached file holds pages 11 to 20"))
	assert.Contains(t, prompt, "EXISTING KNOWLEDGE CONTEXT:\nKnown entities: 1.\n")
}
