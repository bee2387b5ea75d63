// Package intent ranks catalog templates against an utterance by embedding
// similarity.
package intent

import (
	"context"
	"math"
	"sort"

	"sales-assistant/internal/catalog"
	"sales-assistant/internal/common/errors"
	"sales-assistant/internal/common/logger"
	"sales-assistant/internal/embedding"
	"sales-assistant/internal/models"
)

// Config holds the matching policy.
type Config struct {
	AcceptanceThreshold float64
	TopK                int
}

// Score is a template together with its similarity to an utterance.
type Score struct {
	Template models.Template
	Score    float64
}

// Match is the ranked outcome of matching one utterance. Candidates holds
// the top-k; ScoreOf answers for any template in the catalog.
type Match struct {
	Candidates []Score
	Threshold  float64

	all map[string]float64
}

// Confident reports whether the best candidate clears the threshold.
func (m Match) Confident() bool {
	return len(m.Candidates) > 0 && m.Candidates[0].Score >= m.Threshold
}

// Top returns the best candidate regardless of the threshold.
func (m Match) Top() (Score, bool) {
	if len(m.Candidates) == 0 {
		return Score{}, false
	}
	return m.Candidates[0], true
}

// Best returns the best candidate, or NO_CONFIDENT_INTENT when it is below
// the threshold.
func (m Match) Best() (Score, error) {
	top, ok := m.Top()
	if !ok || top.Score < m.Threshold {
		return Score{}, errors.NewNoConfidentIntentError(top.Score)
	}
	return top, nil
}

// ScoreOf returns the similarity of template id to the utterance.
func (m Match) ScoreOf(id string) float64 {
	return m.all[id]
}

// Matcher holds one or more vectors per template: its description and each
// of its examples. A template scores as its closest vector.
type Matcher struct {
	templates []models.Template
	vectors   map[string][][]float32
	embedder  embedding.Embedder
	cfg       Config
	logger    logger.Logger
}

// NewMatcher embeds every template text of cat in a single batch.
func NewMatcher(ctx context.Context, cat *catalog.Catalog, embedder embedding.Embedder, cfg Config, log logger.Logger) (*Matcher, error) {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	m := &Matcher{
		templates: cat.All(),
		vectors:   make(map[string][][]float32, cat.Len()),
		embedder:  embedder,
		cfg:       cfg,
		logger:    logger.ForComponent(log, "intent-matcher"),
	}

	var (
		texts  []string
		owners []string
	)
	for _, t := range m.templates {
		texts = append(texts, t.Description)
		owners = append(owners, t.ID)
		for _, ex := range t.Examples {
			texts = append(texts, ex)
			owners = append(owners, t.ID)
		}
	}

	vecs, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, errors.NewEmbeddingFailedError(embedder.Name(), err)
	}
	for i, v := range vecs {
		m.vectors[owners[i]] = append(m.vectors[owners[i]], v)
	}

	m.logger.Info("Template vectors cached", map[string]interface{}{
		"templates": len(m.templates),
		"vectors":   len(vecs),
		"embedder":  embedder.Name(),
	})
	return m, nil
}

// Threshold is the configured acceptance threshold.
func (m *Matcher) Threshold() float64 { return m.cfg.AcceptanceThreshold }

// Match ranks every template against utterance and keeps the top k (the
// configured default when topK <= 0). Equal scores are ordered by template
// ID.
func (m *Matcher) Match(ctx context.Context, utterance string, topK int) (Match, error) {
	if topK <= 0 {
		topK = m.cfg.TopK
	}

	q, err := m.embedder.Embed(ctx, utterance)
	if err != nil {
		return Match{}, errors.NewEmbeddingFailedError(m.embedder.Name(), err)
	}

	scores := make([]Score, 0, len(m.templates))
	all := make(map[string]float64, len(m.templates))
	for _, t := range m.templates {
		best := 0.0
		for _, v := range m.vectors[t.ID] {
			if s := embedding.Cosine(q, v); s > best {
				best = s
			}
		}
		best = clamp(best)
		all[t.ID] = best
		scores = append(scores, Score{Template: t, Score: best})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Template.ID < scores[j].Template.ID
	})
	if len(scores) > topK {
		scores = scores[:topK]
	}

	match := Match{Candidates: scores, Threshold: m.cfg.AcceptanceThreshold, all: all}
	if top, ok := match.Top(); ok {
		m.logger.Debug("Intent matched", map[string]interface{}{
			"templateId": top.Template.ID,
			"score":      top.Score,
			"confident":  match.Confident(),
		})
	}
	return match, nil
}

func clamp(s float64) float64 {
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
