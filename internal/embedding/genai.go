package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GenAIEmbedder uses the Gemini embeddings API.
type GenAIEmbedder struct {
	client   *genai.Client
	model    string
	taskType string
	dims     int
}

func NewGenAIEmbedder(ctx context.Context, apiKey, model, taskType string, dims int) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if taskType == "" {
		taskType = "SEMANTIC_SIMILARITY"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEmbedder{client: client, model: model, taskType: taskType, dims: dims}, nil
}

func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *GenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	cfg := &genai.EmbedContentConfig{TaskType: e.taskType}
	if e.dims > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(e.dims))
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("GenAI returned %d embeddings for %d texts", len(result.Embeddings), len(texts))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	if e.dims == 0 && len(out[0]) > 0 {
		e.dims = len(out[0])
	}
	return out, nil
}

func (e *GenAIEmbedder) Dimensions() int { return e.dims }

func (e *GenAIEmbedder) Name() string { return "genai:" + e.model }
