package warehouse

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"sales-assistant/internal/common/errors"
	"sales-assistant/internal/models"
)

const referenceQuery = `SELECT id, name, aliases FROM reference_entities WHERE entity_type = $1 ORDER BY name`

// ReferenceSource reads reference sets from the reference_entities table.
type ReferenceSource struct {
	db *sql.DB
}

func NewReferenceSource(db *sql.DB) *ReferenceSource {
	return &ReferenceSource{db: db}
}

// FetchReferenceSet loads every entity of type t.
func (s *ReferenceSource) FetchReferenceSet(ctx context.Context, t models.ParamType) ([]models.Entity, error) {
	rows, err := s.db.QueryContext(ctx, referenceQuery, string(t))
	if err != nil {
		return nil, errors.NewReferenceDataFailedError(string(t), err)
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		var (
			e       models.Entity
			aliases pq.StringArray
		)
		if err := rows.Scan(&e.ID, &e.Name, &aliases); err != nil {
			return nil, errors.NewReferenceDataFailedError(string(t), fmt.Errorf("scan: %w", err))
		}
		e.Type = t
		e.Aliases = []string(aliases)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewReferenceDataFailedError(string(t), err)
	}
	return out, nil
}
