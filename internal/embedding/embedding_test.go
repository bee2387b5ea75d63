package embedding_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sales-assistant/internal/common/config"
	"sales-assistant/internal/common/logger"
	"sales-assistant/internal/embedding"
	"sales-assistant/internal/embedding/embeddingtest"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, embedding.Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, embedding.Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, embedding.Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, embedding.Cosine([]float32{1}, []float32{1, 1}))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"top", "salesperson", "this", "month"}, embedding.Tokenize("Show me the top salesperson this month"))
	assert.Equal(t, []string{"wire", "cable", "sale"}, embedding.Tokenize("Wires & Cables sales"))
}

func TestHashingEmbedder(t *testing.T) {
	ctx := context.Background()
	e := embedding.NewHashingEmbedder(0)
	assert.Equal(t, 1024, e.Dimensions())

	a, err := e.Embed(ctx, "top salesperson this month")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "top salesperson this month")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	related, _ := e.Embed(ctx, "who is the top salesperson")
	unrelated, _ := e.Embed(ctx, "monthly revenue trend chart")
	assert.Greater(t, embedding.Cosine(a, related), embedding.Cosine(a, unrelated))

	batch, err := e.EmbedBatch(ctx, []string{"top salesperson this month", "x"})
	require.NoError(t, err)
	assert.Equal(t, a, batch[0])
}

func TestNewEngine(t *testing.T) {
	log := logger.NewTestLogger(t)

	e, err := embedding.NewEngine(config.EmbeddingConfig{Provider: "hashing", Dimensions: 256}, nil, log)
	require.NoError(t, err)
	assert.Equal(t, "hashing:256", e.Name())

	_, err = embedding.NewEngine(config.EmbeddingConfig{Provider: "word2vec"}, nil, log)
	assert.Error(t, err)

	_, err = embedding.NewEngine(config.EmbeddingConfig{Provider: "openai"}, nil, log)
	assert.Error(t, err, "api key is required")
}

func TestOllamaEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req["model"])
		if req["prompt"] == "fail" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("model not loaded"))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float32{0.1, 0.2, 0.3}})
	}))
	defer server.Close()

	e, err := embedding.NewOllamaEmbedder(server.URL+"/", "", 0)
	require.NoError(t, err)

	vs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vs, 2)
	assert.Equal(t, 3, e.Dimensions())
	assert.Equal(t, "ollama:nomic-embed-text", e.Name())

	_, err = e.Embed(context.Background(), "fail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestOpenAIEmbedder_ReordersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"model": "text-embedding-3-small",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0, 1]},
				{"object": "embedding", "index": 0, "embedding": [1, 0]}
			],
			"usage": {"prompt_tokens": 4, "total_tokens": 4}
		}`))
	}))
	defer server.Close()

	e, err := embedding.NewOpenAIEmbedder("test-key", server.URL+"/v1/", "", 0)
	require.NoError(t, err)

	vs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vs)
	assert.Equal(t, 2, e.Dimensions())
}

func TestCachedEmbedder(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	inner := embeddingtest.NewKeywordEmbedder("top salesperson", "category sales")
	cached := embedding.NewCachedEmbedder(inner, rdb, 0, logger.NewTestLogger(t))
	ctx := context.Background()

	first, err := cached.Embed(ctx, "top salesperson")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.Calls())

	second, err := cached.Embed(ctx, "top salesperson")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.Calls())

	batch, err := cached.EmbedBatch(ctx, []string{"top salesperson", "category sales"})
	require.NoError(t, err)
	assert.Equal(t, first, batch[0])
	assert.Equal(t, 2, inner.Calls())

	keys := mr.Keys()
	assert.Len(t, keys, 2)
	assert.Contains(t, keys[0], "emb:keyword:")
}

func TestCachedEmbedder_RedisDownFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	inner := embeddingtest.NewKeywordEmbedder("top salesperson")
	cached := embedding.NewCachedEmbedder(inner, rdb, 0, logger.NewTestLogger(t))

	v, err := cached.Embed(context.Background(), "top salesperson")
	require.NoError(t, err)
	assert.NotEmpty(t, v)
}
