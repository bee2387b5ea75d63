// Package entity resolves free-text mentions of salespeople, states and
// business categories to canonical reference entities.
package entity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"sales-assistant/internal/common/logger"
	"sales-assistant/internal/common/metrics"
	"sales-assistant/internal/models"
)

// Source loads the reference set of one entity type.
type Source interface {
	FetchReferenceSet(ctx context.Context, entityType models.ParamType) ([]models.Entity, error)
}

// Status classifies a resolution.
type Status int

const (
	NotFound Status = iota
	Resolved
	Ambiguous
)

func (s Status) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Ambiguous:
		return "ambiguous"
	}
	return "not_found"
}

// Resolution is the outcome of resolving one mention.
type Resolution struct {
	Status     Status
	Mention    string
	Entity     models.Entity
	Score      float64
	Candidates []models.Candidate
}

// Config holds the matching thresholds.
type Config struct {
	MinSimilarity float64
	TieMargin     float64
}

type indexedEntity struct {
	entity models.Entity
	keys   []indexKey
}

// Snapshot is an immutable view of every reference set.
type Snapshot struct {
	byType   map[models.ParamType][]indexedEntity
	LoadedAt time.Time
}

// NewSnapshot indexes sets for matching.
func NewSnapshot(sets map[models.ParamType][]models.Entity, at time.Time) *Snapshot {
	s := &Snapshot{byType: make(map[models.ParamType][]indexedEntity, len(sets)), LoadedAt: at}
	for t, entities := range sets {
		indexed := make([]indexedEntity, 0, len(entities))
		for _, e := range entities {
			e.Type = t
			ie := indexedEntity{entity: e}
			ie.keys = append(ie.keys, newIndexKey(e.Name))
			if e.ID != "" && !strings.EqualFold(e.ID, e.Name) {
				ie.keys = append(ie.keys, newIndexKey(e.ID))
			}
			for _, a := range e.Aliases {
				if strings.TrimSpace(a) != "" {
					ie.keys = append(ie.keys, newIndexKey(a))
				}
			}
			indexed = append(indexed, ie)
		}
		s.byType[t] = indexed
	}
	return s
}

// Entities returns the reference set of type t.
func (s *Snapshot) Entities(t models.ParamType) []models.Entity {
	out := make([]models.Entity, 0, len(s.byType[t]))
	for _, ie := range s.byType[t] {
		out = append(out, ie.entity)
	}
	return out
}

// Resolver matches mentions against the current snapshot. Refresh swaps in
// a new snapshot atomically; readers never see a partial update.
type Resolver struct {
	source Source
	cfg    Config
	logger logger.Logger
	snap   atomic.Pointer[Snapshot]
}

func NewResolver(source Source, cfg Config, log logger.Logger) *Resolver {
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = 0.75
	}
	if cfg.TieMargin < 0 {
		cfg.TieMargin = 0
	}
	return &Resolver{
		source: source,
		cfg:    cfg,
		logger: logger.ForComponent(log, "entity-resolver"),
	}
}

// Snapshot returns the current snapshot, or nil before the first refresh.
func (r *Resolver) Snapshot() *Snapshot {
	return r.snap.Load()
}

// Swap installs s as the current snapshot.
func (r *Resolver) Swap(s *Snapshot) {
	r.snap.Store(s)
}

// Refresh loads every entity type from the source and swaps the snapshot.
// On any failure the previous snapshot stays in place.
func (r *Resolver) Refresh(ctx context.Context) error {
	sets := make(map[models.ParamType][]models.Entity, len(models.EntityTypes))
	for _, t := range models.EntityTypes {
		entities, err := r.source.FetchReferenceSet(ctx, t)
		if err != nil {
			metrics.ReferenceRefreshes.WithLabelValues("failure").Inc()
			r.logger.Error("Reference set refresh failed", map[string]interface{}{
				"entityType": string(t),
				"error":      err.Error(),
			})
			return fmt.Errorf("refresh %s: %w", t, err)
		}
		sets[t] = entities
		metrics.ReferenceEntities.WithLabelValues(string(t)).Set(float64(len(entities)))
	}

	r.Swap(NewSnapshot(sets, time.Now()))
	metrics.ReferenceRefreshes.WithLabelValues("success").Inc()
	r.logger.Info("Reference sets refreshed", map[string]interface{}{
		"categories":  len(sets[models.ParamCategory]),
		"regions":     len(sets[models.ParamRegion]),
		"salespeople": len(sets[models.ParamSalesperson]),
		"csos":        len(sets[models.ParamCSO]),
		"clusters":    len(sets[models.ParamCluster]),
	})
	return nil
}

// invalidator is a source that caches reference sets and can drop them.
type invalidator interface {
	Invalidate(ctx context.Context) error
}

// Reload is Refresh from the backing store: a caching source is emptied
// first so entities added since the last read are seen.
func (r *Resolver) Reload(ctx context.Context) error {
	if inv, ok := r.source.(invalidator); ok {
		if err := inv.Invalidate(ctx); err != nil {
			r.logger.Warn("Reference cache invalidation failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return r.Refresh(ctx)
}

// StartRefresher reloads every interval until ctx is done.
func (r *Resolver) StartRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Reload(ctx); err != nil && ctx.Err() == nil {
					r.logger.Warn("Keeping previous reference sets", map[string]interface{}{"error": err.Error()})
				}
			}
		}
	}()
}

// All returns the reference set of type t.
func (r *Resolver) All(t models.ParamType) []models.Entity {
	s := r.Snapshot()
	if s == nil {
		return nil
	}
	return s.Entities(t)
}

// Resolve matches a mention against the reference set of type t.
func (r *Resolver) Resolve(mention string, t models.ParamType) Resolution {
	res := Resolution{Mention: strings.TrimSpace(mention)}
	s := r.Snapshot()
	norm := normalize(mention)
	if s == nil || norm == "" {
		return res
	}
	tokens := strings.Fields(norm)

	var scored []models.Candidate
	for _, ie := range s.byType[t] {
		best := 0.0
		for _, k := range ie.keys {
			if sc := k.score(res.Mention, norm, tokens); sc > best {
				best = sc
			}
		}
		if best > 0 {
			scored = append(scored, models.Candidate{Entity: ie.entity, Score: best})
		}
	}
	if len(scored) == 0 {
		return res
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Entity.Name < scored[j].Entity.Name
	})

	top := scored[0]
	res.Score = top.Score
	if top.Score < r.cfg.MinSimilarity {
		return res
	}

	var ties []models.Candidate
	for _, c := range scored {
		if top.Score-c.Score > r.cfg.TieMargin {
			break
		}
		// An exact match is never ambiguous with a fuzzy one.
		if top.Score == 1 && c.Score < 1 {
			break
		}
		ties = append(ties, c)
	}

	if len(ties) > 1 {
		res.Status = Ambiguous
		res.Candidates = ties
		return res
	}
	res.Status = Resolved
	res.Entity = top.Entity
	res.Candidates = []models.Candidate{top}
	return res
}

// stopwords never start, end or sit inside a mention window.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "for": true, "in": true, "on": true,
	"by": true, "to": true, "at": true, "from": true, "with": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "me": true, "my": true, "our": true, "we": true,
	"us": true, "i": true, "it": true, "what": true, "who": true, "which": true, "how": true,
	"much": true, "many": true, "about": true, "show": true, "give": true, "tell": true,
	"list": true, "please": true, "now": true, "same": true, "also": true, "only": true,
	"sales": true, "sale": true, "sold": true, "sell": true, "selling": true, "revenue": true,
	"top": true, "bottom": true, "best": true, "worst": true, "highest": true, "lowest": true,
	"most": true, "least": true, "performing": true, "performer": true, "performers": true,
	"performance": true, "salesperson": true, "salespeople": true, "salesman": true,
	"category": true, "categories": true, "state": true, "states": true, "region": true,
	"regions": true, "wise": true, "total": true, "overall": true, "trend": true,
	"this": true, "last": true, "previous": true, "current": true, "month": true,
	"months": true, "quarter": true, "year": true, "week": true, "day": true, "days": true,
	"fiscal": true, "fy": true, "today": true, "yesterday": true, "did": true, "do": true,
	"does": true, "has": true, "have": true, "had": true, "and": true, "or": true,
	"export": true, "exports": true, "domestic": true, "product": true, "segment": true,
	"what's": true, "whats": true, "who's": true, "whos": true, "number": true,
	"cso": true, "csos": true, "cluster": true, "clusters": true, "under": true,
}

type token struct {
	raw  string
	norm string
}

func tokenize(utterance string) []token {
	var out []token
	for _, f := range strings.Fields(utterance) {
		raw := strings.TrimFunc(f, func(r rune) bool {
			return strings.ContainsRune(`?!.,;:"'()[]`, r)
		})
		if raw == "" {
			continue
		}
		out = append(out, token{raw: raw, norm: strings.ToLower(raw)})
	}
	return out
}

// Find scans the utterance for the best mention of type t, trying windows
// of up to four words between stopwords, longest first.
func (r *Resolver) Find(utterance string, t models.ParamType) (Resolution, bool) {
	tokens := tokenize(utterance)

	var (
		best  Resolution
		found bool
	)
	for size := 4; size >= 1; size-- {
		for i := 0; i+size <= len(tokens); i++ {
			window := tokens[i : i+size]
			if windowHasStopword(window, size) {
				continue
			}
			parts := make([]string, len(window))
			for j, tok := range window {
				parts[j] = tok.raw
			}
			res := r.Resolve(strings.Join(parts, " "), t)
			if res.Status == NotFound {
				continue
			}
			if !found || res.Score > best.Score {
				best, found = res, true
			}
		}
	}
	return best, found
}

// windowHasStopword rejects windows containing stopwords, except "and" or
// "&" inside a multi-word window ("wires and cables").
func windowHasStopword(window []token, size int) bool {
	for j, tok := range window {
		if tok.norm == "&" || tok.norm == "and" {
			if size == 1 || j == 0 || j == size-1 {
				return true
			}
			continue
		}
		if stopwords[tok.norm] {
			return true
		}
		if c := tok.norm[0]; c >= '0' && c <= '9' {
			return true
		}
	}
	return false
}
