package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/scourhq/scour/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsBackend(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Backend: "openai", APIKey: "k", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, e)

	_, err = New(config.EmbeddingConfig{Backend: "openai"})
	assert.Error(t, err, "openai backend without api key")

	_, err = New(config.EmbeddingConfig{Backend: "pinecone"})
	assert.Error(t, err)
}

func TestOpenAIEmbed(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		// Out-of-order indices must still land in input order.
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))
	defer srv.Close()

	e, err := NewOpenAI(config.EmbeddingConfig{
		APIKey:  "test-key",
		Model:   "text-embedding-3-small",
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)

	vecs, err := e.Embed(context.Background(), []string{"first", "second"}, ModePassage)
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "text-embedding-3-small", gotBody["model"])
}

func TestOpenAIEmbedVectorCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"index": 0, "embedding": []float32{1}}},
		})
	}))
	defer srv.Close()

	e, err := NewOpenAI(config.EmbeddingConfig{APIKey: "k", Model: "m", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), []string{"a", "b"}, ModeQuery)
	assert.Error(t, err)
}

func TestOpenAIEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, err := NewOpenAI(config.EmbeddingConfig{APIKey: "k", Model: "m", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), []string{"a"}, ModeQuery)
	assert.Error(t, err)
}

func TestOpenAIEmbedEmptyInput(t *testing.T) {
	e, err := NewOpenAI(config.EmbeddingConfig{APIKey: "k", Model: "m"})
	require.NoError(t, err)

	vecs, err := e.Embed(context.Background(), nil, ModeQuery)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestRetrievalPrefix(t *testing.T) {
	assert.Equal(t, "search_query: ", retrievalPrefix(ModeQuery))
	assert.Equal(t, "search_document: ", retrievalPrefix(ModePassage))
	assert.Equal(t, "", retrievalPrefix(Mode("other")))
}
