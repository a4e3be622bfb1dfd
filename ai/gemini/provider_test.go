package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/poiesic/folio/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) ai.AIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := ai.NewConfig(
		ai.WithProvider(ai.ProviderGemini),
		ai.WithAPIKey("test-key"),
		ai.WithGeneratorHost(srv.URL+"/"),
		ai.WithGeneratorModel("gemini-2.5-flash"),
		ai.WithEmbeddingModel("text-embedding-004"),
	)
	provider, err := NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	return provider
}

func TestGenerator_SendsAttachmentInline(t *testing.T) {
	var got map[string]any
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "gemini-2.5-flash:generateContent"), r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"paragraphs\":[]}"}]}}]}`)
	})

	out, err := provider.Generator().Generate(context.Background(), ai.GenerateRequest{
		System:     "extract",
		Prompt:     "pages 1-10",
		Attachment: []byte("%PDF-1.7"),
		MimeType:   "application/pdf",
		JSON:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"paragraphs":[]}`, out)

	contents := got["contents"].([]any)
	parts := contents[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	inline := parts[0].(map[string]any)["inlineData"].(map[string]any)
	assert.Equal(t, "application/pdf", inline["mimeType"])
	assert.Equal(t, "pages 1-10", parts[1].(map[string]any)["text"])

	genCfg := got["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", genCfg["responseMimeType"])
}

func TestGenerator_NoCandidates(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[]}`)
	})

	_, err := provider.Generator().Generate(context.Background(), ai.GenerateRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ai.ErrEmptyResponse)
}

func TestGenerator_ServerError(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`, http.StatusServiceUnavailable)
	})

	_, err := provider.Generator().Generate(context.Background(), ai.GenerateRequest{Prompt: "x"})
	assert.Error(t, err)
}

func TestEmbedder_Batch(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"embeddings":[{"values":[0.1,0.2]},{"values":[0.3,0.4]}]}`)
	})

	vectors, err := provider.Embedder().EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vectors)

	_, err = provider.Embedder().EmbedText(context.Background(), "mismatch")
	assert.ErrorIs(t, err, ai.ErrEmptyResponse)
}
