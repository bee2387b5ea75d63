package entity

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"

	"sales-assistant/internal/common/database"
	"sales-assistant/internal/common/errors"
	"sales-assistant/internal/common/logger"
	"sales-assistant/internal/models"
)

// maxReferenceEntities bounds one reference set read from Elasticsearch.
const maxReferenceEntities = 10000

// StaticSource serves fixed reference sets.
type StaticSource map[models.ParamType][]models.Entity

func (s StaticSource) FetchReferenceSet(_ context.Context, t models.ParamType) ([]models.Entity, error) {
	out := make([]models.Entity, len(s[t]))
	copy(out, s[t])
	return out, nil
}

// ElasticsearchSource reads entities from an index of documents shaped
// {"entity_type", "id", "name", "aliases"}.
type ElasticsearchSource struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticsearchSource(client *elasticsearch.Client, index string) *ElasticsearchSource {
	if index == "" {
		index = "sales_entities"
	}
	return &ElasticsearchSource{client: client, index: index}
}

type esEntity struct {
	EntityType string   `json:"entity_type"`
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Aliases    []string `json:"aliases"`
}

type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			Source esEntity `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *ElasticsearchSource) FetchReferenceSet(ctx context.Context, t models.ParamType) ([]models.Entity, error) {
	query := map[string]interface{}{
		"size": maxReferenceEntities,
		"query": map[string]interface{}{
			"term": map[string]interface{}{"entity_type": string(t)},
		},
		"sort": []interface{}{map[string]interface{}{"id": "asc"}},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, errors.NewReferenceDataFailedError(string(t), err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, errors.NewReferenceDataFailedError(string(t), fmt.Errorf("search error: %s", res.Status()))
	}

	var body esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, errors.NewReferenceDataFailedError(string(t), fmt.Errorf("decode: %w", err))
	}

	out := make([]models.Entity, 0, len(body.Hits.Hits))
	for _, h := range body.Hits.Hits {
		out = append(out, models.Entity{
			ID:      h.Source.ID,
			Name:    h.Source.Name,
			Type:    t,
			Aliases: h.Source.Aliases,
		})
	}
	return out, nil
}

// CachedSource is a cache-aside decorator that keeps each reference set in
// Redis under entities:<type>.
type CachedSource struct {
	next   Source
	rdb    redis.Cmdable
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedSource(next Source, rdb redis.Cmdable, ttl time.Duration, log logger.Logger) *CachedSource {
	return &CachedSource{next: next, rdb: rdb, ttl: ttl, logger: log}
}

func cacheKey(t models.ParamType) string {
	return "entities:" + string(t)
}

func (c *CachedSource) FetchReferenceSet(ctx context.Context, t models.ParamType) ([]models.Entity, error) {
	key := cacheKey(t)

	var cached []models.Entity
	err := database.GetJSON(ctx, c.rdb, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !stderrors.Is(err, redis.Nil) {
		c.logger.Warn("Reference cache read failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}

	entities, err := c.next.FetchReferenceSet(ctx, t)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })

	if err := database.SetJSON(ctx, c.rdb, key, entities, c.ttl); err != nil {
		c.logger.Warn("Reference cache write failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
	return entities, nil
}

// Invalidate drops every cached reference set so the next fetch reads
// through.
func (c *CachedSource) Invalidate(ctx context.Context) error {
	keys := make([]string, len(models.EntityTypes))
	for i, t := range models.EntityTypes {
		keys[i] = cacheKey(t)
	}
	return c.rdb.Del(ctx, keys...).Err()
}
