package warehouse

import (
	"context"
	stderrors "errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sales-assistant/internal/common/errors"
	"sales-assistant/internal/models"
)

func TestReferenceSource_FetchReferenceSet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "name", "aliases"}).
		AddRow("FMEG", "FMEG", "{\"fast moving electrical goods\",\"fast moving\"}").
		AddRow("WC", "Wires & Cables", "{wires,cables}").
		AddRow("WDS", "Wiring Devices & Switchgear", nil)
	mock.ExpectQuery(regexp.QuoteMeta(referenceQuery)).
		WithArgs("category").
		WillReturnRows(rows)

	entities, err := NewReferenceSource(db).FetchReferenceSet(context.Background(), models.ParamCategory)
	require.NoError(t, err)
	require.Len(t, entities, 3)

	assert.Equal(t, models.Entity{
		ID:      "FMEG",
		Name:    "FMEG",
		Type:    models.ParamCategory,
		Aliases: []string{"fast moving electrical goods", "fast moving"},
	}, entities[0])
	assert.Equal(t, []string{"wires", "cables"}, entities[1].Aliases)
	assert.Empty(t, entities[2].Aliases)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReferenceSource_QueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(referenceQuery)).
		WithArgs("region").
		WillReturnError(stderrors.New("relation \"reference_entities\" does not exist"))

	_, err = NewReferenceSource(db).FetchReferenceSet(context.Background(), models.ParamRegion)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeReferenceDataFailed, errors.CodeOf(err))
	assert.True(t, errors.IsRetryable(err))
}
