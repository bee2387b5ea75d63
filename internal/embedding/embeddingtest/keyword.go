// Package embeddingtest provides a deterministic embedder for tests.
package embeddingtest

import (
	"context"
	"sync"

	"sales-assistant/internal/embedding"
)

// KeywordEmbedder gives every distinct token its own dimension, so texts
// only score as similar when they share words. Tokens outside the
// vocabulary are ignored.
type KeywordEmbedder struct {
	vocab map[string]int

	mu    sync.Mutex
	calls int
}

// NewKeywordEmbedder builds a vocabulary from the tokens of words.
func NewKeywordEmbedder(words ...string) *KeywordEmbedder {
	e := &KeywordEmbedder{vocab: make(map[string]int)}
	for _, w := range words {
		for _, tok := range embedding.Tokenize(w) {
			if _, ok := e.vocab[tok]; !ok {
				e.vocab[tok] = len(e.vocab)
			}
		}
	}
	return e
}

func (e *KeywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	v := make([]float32, e.Dimensions())
	for _, tok := range embedding.Tokenize(text) {
		if i, ok := e.vocab[tok]; ok {
			v[i] = 1
		}
	}
	return embedding.Normalize(v), nil
}

func (e *KeywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (e *KeywordEmbedder) Dimensions() int {
	if len(e.vocab) == 0 {
		return 1
	}
	return len(e.vocab)
}

func (e *KeywordEmbedder) Name() string { return "keyword" }

// Calls is the number of texts embedded so far.
func (e *KeywordEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
