package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	commonhttp "sales-assistant/internal/common/http"
)

// OllamaEmbedder calls a local Ollama server.
type OllamaEmbedder struct {
	endpoint string
	model    string
	dims     int
	client   *commonhttp.Client
}

func NewOllamaEmbedder(endpoint, model string, timeout time.Duration) (*OllamaEmbedder, error) {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaEmbedder{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   commonhttp.NewClient(timeout),
	}, nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp ollamaEmbedResponse
	err := e.client.PostJSON(ctx, e.endpoint+"/api/embeddings", ollamaEmbedRequest{
		Model:  e.model,
		Prompt: text,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}
	e.dims = len(resp.Embedding)
	return resp.Embedding, nil
}

// EmbedBatch calls Embed sequentially; the embeddings endpoint takes one
// prompt per request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions is known after the first successful call.
func (e *OllamaEmbedder) Dimensions() int { return e.dims }

func (e *OllamaEmbedder) Name() string { return "ollama:" + e.model }
