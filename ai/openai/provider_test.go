package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/poiesic/folio/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers the two OpenAI endpoints the provider uses.
type fakeServer struct {
	mu       sync.Mutex
	requests map[string][]map[string]any
	reply    string
	// shortBy drops this many embeddings from each reply
	shortBy int
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var payload map[string]any
	_ = json.Unmarshal(body, &payload)

	f.mu.Lock()
	f.requests[r.URL.Path] = append(f.requests[r.URL.Path], payload)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/chat/completions"):
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": f.reply},
				"finish_reason": "stop",
			}},
		})
	case strings.HasSuffix(r.URL.Path, "/embeddings"):
		inputs, _ := payload["input"].([]any)
		data := make([]map[string]any, max(len(inputs)-f.shortBy, 0))
		for i := range inputs {
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": []float32{float32(i), 0.5}}
		}
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "model": "test", "data": data})
	default:
		http.NotFound(w, r)
	}
}

func newTestProvider(t *testing.T, reply string) (ai.AIProvider, *fakeServer) {
	t.Helper()
	fake := &fakeServer{requests: map[string][]map[string]any{}, reply: reply}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	provider, err := NewProvider(ai.NewConfig(ai.WithHost(srv.URL)))
	require.NoError(t, err)
	t.Cleanup(func() { provider.Close() })
	return provider, fake
}

func TestGenerator_Generate(t *testing.T) {
	provider, fake := newTestProvider(t, `{"paragraphs": []}`)

	out, err := provider.Generator().Generate(context.Background(), ai.GenerateRequest{
		System: "extract",
		Prompt: "pages 1-10",
		JSON:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"paragraphs": []}`, out)

	reqs := fake.requests["/v1/chat/completions"]
	require.Len(t, reqs, 1)
	assert.Equal(t, "qwen2.5vl:7b", reqs[0]["model"])
	messages, _ := reqs[0]["messages"].([]any)
	assert.Len(t, messages, 2)

	t.Run("pdf attachment is sent as a file part", func(t *testing.T) {
		pdf := []byte("%PDF-1.7 chunk")
		_, err := provider.Generator().Generate(context.Background(), ai.GenerateRequest{
			System:     "extract",
			Prompt:     "The attached file holds pages 1 to 10",
			Attachment: pdf,
			MimeType:   "application/pdf",
		})
		require.NoError(t, err)

		reqs := fake.requests["/v1/chat/completions"]
		require.Len(t, reqs, 2)
		messages, _ := reqs[1]["messages"].([]any)
		require.Len(t, messages, 2)
		user, _ := messages[1].(map[string]any)
		content, _ := user["content"].([]any)
		require.Len(t, content, 2)

		file, _ := content[0].(map[string]any)
		assert.Equal(t, "file", file["type"])
		assert.Equal(t, map[string]any{
			"filename":  "document.pdf",
			"file_data": "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf),
		}, file["file"])

		text, _ := content[1].(map[string]any)
		assert.Equal(t, "text", text["type"])
		assert.Equal(t, "The attached file holds pages 1 to 10", text["text"])
	})

	t.Run("image attachment is sent as an image_url part", func(t *testing.T) {
		png := []byte{0x89, 'P', 'N', 'G'}
		_, err := provider.Generator().Generate(context.Background(), ai.GenerateRequest{
			Prompt:     "describe",
			Attachment: png,
			MimeType:   "image/png",
		})
		require.NoError(t, err)

		reqs := fake.requests["/v1/chat/completions"]
		require.Len(t, reqs, 3)
		messages, _ := reqs[2]["messages"].([]any)
		require.Len(t, messages, 1)
		user, _ := messages[0].(map[string]any)
		content, _ := user["content"].([]any)
		require.Len(t, content, 2)
		image, _ := content[0].(map[string]any)
		assert.Equal(t, "image_url", image["type"])
		assert.Equal(t, map[string]any{
			"url": "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		}, image["image_url"])
	})
}

func TestRewriteAttachments_LeavesOtherBodiesAlone(t *testing.T) {
	bodies := []string{
		`{"model":"m","messages":[{"role":"user","content":"plain text"}]}`,
		`{"model":"m","messages":[{"role":"user","content":[{"type":"text","text":"a"},{"type":"image_url","image_url":{"url":"https://x/y.png"}}]}]}`,
		`{"model":"m","input":["a","b"]}`,
	}
	for _, body := range bodies {
		out, err := rewriteAttachments([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, body, string(out))
	}

	_, err := rewriteAttachments([]byte("not json"))
	assert.Error(t, err)
}

func TestRewriteAttachments_KeepsOtherFields(t *testing.T) {
	body := `{"model":"m","temperature":0,"response_format":{"type":"json_object"},` +
		`"messages":[{"role":"system","content":"extract"},` +
		`{"role":"user","content":[{"type":"binary","binary":{"mime_type":"application/octet-stream","data":"AAE="}},{"type":"text","text":"go"}]}]}`

	out, err := rewriteAttachments([]byte(body))
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(out, &payload))
	assert.Equal(t, "m", payload["model"])
	assert.Equal(t, float64(0), payload["temperature"])
	assert.Equal(t, map[string]any{"type": "json_object"}, payload["response_format"])

	messages, _ := payload["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, map[string]any{"role": "system", "content": "extract"}, messages[0])
	user, _ := messages[1].(map[string]any)
	content, _ := user["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, map[string]any{
		"type": "file",
		"file": map[string]any{"filename": "attachment", "file_data": "data:application/octet-stream;base64,AAE="},
	}, content[0])
	assert.Equal(t, map[string]any{"type": "text", "text": "go"}, content[1])
}

func TestEmbedder_EmbedTexts(t *testing.T) {
	provider, _ := newTestProvider(t, "")

	vectors, err := provider.Embedder().EmbedTexts(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{2, 0.5}, vectors[2])

	vector, err := provider.Embedder().EmbedText(context.Background(), "solo")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0.5}, vector)
}

func TestEmbedder_Batches(t *testing.T) {
	provider, fake := newTestProvider(t, "")

	texts := make([]string, 130)
	for i := range texts {
		texts[i] = fmt.Sprintf("line one\nline %d", i)
	}
	vectors, err := provider.Embedder().EmbedTexts(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 130)
	assert.Equal(t, []float32{1, 0.5}, vectors[65], "second item of the second batch")
	assert.Equal(t, "line one\nline 0", texts[0], "the caller's texts are not modified")

	reqs := fake.requests["/v1/embeddings"]
	require.Len(t, reqs, 3)
	var sizes []int
	for _, r := range reqs {
		inputs, _ := r["input"].([]any)
		sizes = append(sizes, len(inputs))
	}
	assert.Equal(t, []int{64, 64, 2}, sizes)
	first, _ := reqs[0]["input"].([]any)
	assert.Equal(t, "line one line 0", first[0], "newlines are stripped")
}

func TestEmbedder_EmptyInput(t *testing.T) {
	provider, fake := newTestProvider(t, "")

	vectors, err := provider.Embedder().EmbedTexts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Empty(t, fake.requests["/v1/embeddings"])
}

func TestEmbedder_ShortReply(t *testing.T) {
	provider, fake := newTestProvider(t, "")
	fake.shortBy = 1

	_, err := provider.Embedder().EmbedTexts(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ai.ErrEmptyResponse)

	_, err = provider.Embedder().EmbedText(context.Background(), "solo")
	assert.Error(t, err)
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	_, err := NewProvider(&ai.Config{Provider: ai.ProviderOpenAI})
	assert.Error(t, err)
}
