package main

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sales-assistant/internal/catalog"
	"sales-assistant/internal/common/logger"
	"sales-assistant/internal/models"
)

func TestRetryWithBackoff(t *testing.T) {
	log := logger.NewTestLogger(t)

	calls := 0
	err := retryWithBackoff(context.Background(), func() error {
		calls++
		if calls < 3 {
			return stderrors.New("connection refused")
		}
		return nil
	}, 5, time.Millisecond, log, "Test connection")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = retryWithBackoff(context.Background(), func() error {
		calls++
		return stderrors.New("connection refused")
	}, 3, time.Millisecond, log, "Test connection")
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "Test connection failed after 3 attempts")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = retryWithBackoff(ctx, func() error { return stderrors.New("down") }, 5, time.Hour, log, "Test connection")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTemplateRows(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)

	rows := templateRows(cat)
	require.Len(t, rows, cat.Len()+1)
	assert.Equal(t, []string{"ID", "Subject", "Parameters", "Upgrades"}, rows[0])
	for _, r := range rows[1:] {
		assert.Len(t, r, 4)
		assert.NotEmpty(t, r[0])
	}
}

func TestDescribeParameter(t *testing.T) {
	assert.Equal(t, "period:date_range", describeParameter(models.Parameter{Name: "period", Type: models.ParamDateRange}))
	assert.Equal(t, "count:count=10", describeParameter(models.Parameter{Name: "count", Type: models.ParamCount, Default: "10"}))
	assert.Equal(t, `direction:direction="DESC"`, describeParameter(models.Parameter{Name: "direction", Type: models.ParamDirection, Default: "DESC"}))
}
