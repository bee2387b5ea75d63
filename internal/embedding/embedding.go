// Package embedding turns text into vectors for intent matching. Backends:
// a local feature-hashing embedder (default), Ollama, Google GenAI and
// OpenAI, optionally fronted by a Redis cache.
package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"sales-assistant/internal/common/config"
	"sales-assistant/internal/common/logger"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding of a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for several texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the length of the vectors produced.
	Dimensions() int

	// Name identifies the backend and model, e.g. "ollama:nomic-embed-text".
	Name() string
}

// NewEngine creates the embedder selected by cfg. When rdb is non-nil and a
// cache TTL is configured, remote backends are wrapped in a Redis cache.
func NewEngine(cfg config.EmbeddingConfig, rdb redis.Cmdable, log logger.Logger) (Embedder, error) {
	timeout := config.GetDuration(cfg.Timeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var (
		engine Embedder
		err    error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", "hashing":
		return NewHashingEmbedder(cfg.Dimensions), nil
	case "ollama":
		engine, err = NewOllamaEmbedder(cfg.Ollama.Endpoint, cfg.Ollama.Model, timeout)
	case "genai":
		engine, err = NewGenAIEmbedder(context.Background(), cfg.GenAI.APIKey, cfg.GenAI.Model, cfg.GenAI.TaskType, cfg.Dimensions)
	case "openai":
		engine, err = NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	log.Info("Embedding engine created", map[string]interface{}{
		"engine":     engine.Name(),
		"dimensions": engine.Dimensions(),
	})

	if rdb != nil && cfg.CacheTTL > 0 {
		return NewCachedEmbedder(engine, rdb, config.GetDuration(cfg.CacheTTL), log), nil
	}
	return engine, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Normalize scales v to unit length in place.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
