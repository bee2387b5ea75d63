package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

const defaultHashingDimensions = 1024

var hashingStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "for": true, "in": true,
	"on": true, "by": true, "to": true, "is": true, "are": true, "was": true,
	"me": true, "show": true, "please": true, "what": true, "which": true,
	"and": true, "with": true, "our": true, "we": true, "did": true, "do": true,
}

// HashingEmbedder maps unigrams and bigrams into a fixed-size vector with
// signed feature hashing. It needs no network and is deterministic.
type HashingEmbedder struct {
	dims int
}

func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = defaultHashingDimensions
	}
	return &HashingEmbedder{dims: dims}
}

func (e *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, e.dims)
	tokens := Tokenize(text)
	for i, tok := range tokens {
		e.add(v, tok, 1)
		if i > 0 {
			e.add(v, tokens[i-1]+" "+tok, 0.5)
		}
	}
	return Normalize(v), nil
}

func (e *HashingEmbedder) add(v []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

func (e *HashingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *HashingEmbedder) Dimensions() int { return e.dims }

func (e *HashingEmbedder) Name() string { return fmt.Sprintf("hashing:%d", e.dims) }

// Tokenize lowercases text, splits it on anything that is not a letter or
// digit, drops stopwords and strips a plural "s" from longer words.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if hashingStopwords[f] {
			continue
		}
		if len(f) > 4 && strings.HasSuffix(f, "s") && !strings.HasSuffix(f, "ss") {
			f = strings.TrimSuffix(f, "s")
		}
		out = append(out, f)
	}
	return out
}
