package warehouse

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sales-assistant/internal/catalog"
	"sales-assistant/internal/common/errors"
	"sales-assistant/internal/common/logger"
	"sales-assistant/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

func mustTemplate(t *testing.T, id string) models.Template {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	tmpl, err := cat.Get(id)
	require.NoError(t, err)
	return tmpl
}

func thisMonth() models.Value {
	return models.RangeValue(models.DateRange{
		Start: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
		Label: "this month",
	})
}

func rankedParams(dir models.Direction, count int) models.ParameterSet {
	return models.ParameterSet{
		"period":    thisMonth(),
		"direction": models.DirectionValue(dir),
		"count":     models.CountValue(count),
	}
}

func newMockExecutor(t *testing.T, timeout time.Duration) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewExecutor(db, Config{Timeout: timeout}, logger.NewTestLogger(t)), mock
}

// ==========================
// Binding
// ==========================

func TestBind_RankedTemplate(t *testing.T) {
	tmpl := mustTemplate(t, "top_salesperson_period")

	query, args, err := Bind(tmpl, rankedParams(models.Descending, 1))
	require.NoError(t, err)

	assert.Equal(t, "SELECT sp.name AS salesperson, SUM(si.net_amount) AS total_sales\n"+
		"FROM sales_invoices si\n"+
		"JOIN salespeople sp ON sp.id = si.salesperson_id\n"+
		"WHERE si.invoice_date >= $1 AND si.invoice_date < $2\n"+
		"GROUP BY sp.name\n"+
		"ORDER BY total_sales DESC, sp.name\n"+
		"LIMIT 1", query)
	assert.Equal(t, []interface{}{"2026-10-01", "2026-10-19"}, args)
}

func TestBind_EntityArrays(t *testing.T) {
	tmpl := mustTemplate(t, "salesperson_by_region_category")
	params := rankedParams(models.Ascending, 5)
	params["region"] = models.EntityValue(models.ParamRegion, models.Entity{ID: "MH", Name: "Maharashtra"})
	params["category"] = models.EntityValue(models.ParamCategory,
		models.Entity{ID: "WC", Name: "Wires & Cables"}, models.Entity{ID: "FMEG", Name: "FMEG"})

	query, args, err := Bind(tmpl, params)
	require.NoError(t, err)

	assert.Contains(t, query, "si.state_code = ANY($3) AND si.category_code = ANY($4)")
	assert.Contains(t, query, "ORDER BY total_sales ASC, sp.name\nLIMIT 5")
	require.Len(t, args, 4)
	assert.Equal(t, pq.Array([]string{"MH"}), args[2])
	assert.Equal(t, pq.Array([]string{"WC", "FMEG"}), args[3])
}

func TestBind_RepeatedPlaceholderReusesPosition(t *testing.T) {
	tmpl := models.Template{
		ID:         "window_report",
		Parameters: []models.Parameter{{Name: "period", Type: models.ParamDateRange}},
		Query:      "SELECT COUNT(*) AS invoices FROM sales_invoices WHERE invoice_date >= @period.start AND invoice_date < @period.end AND due_date >= @period.start",
	}

	query, args, err := Bind(tmpl, models.ParameterSet{"period": thisMonth()})
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) AS invoices FROM sales_invoices WHERE invoice_date >= $1 AND invoice_date < $2 AND due_date >= $1", query)
	assert.Len(t, args, 2)
}

func TestBind_Errors(t *testing.T) {
	ranked := mustTemplate(t, "top_salesperson_period")

	tests := []struct {
		name     string
		tmpl     models.Template
		params   models.ParameterSet
		expected errors.ErrorCode
	}{
		{
			name:     "missing period",
			tmpl:     ranked,
			params:   models.ParameterSet{"direction": models.DirectionValue(models.Descending), "count": models.CountValue(1)},
			expected: errors.ErrCodeIncompleteParameters,
		},
		{
			name:     "count out of range",
			tmpl:     ranked,
			params:   rankedParams(models.Descending, catalog.MaxCount+1),
			expected: errors.ErrCodeQuerySyntax,
		},
		{
			name: "write statement",
			tmpl: models.Template{
				ID:         "purge",
				Parameters: []models.Parameter{{Name: "period", Type: models.ParamDateRange}},
				Query:      "DELETE FROM sales_invoices WHERE invoice_date < @period.end",
			},
			params:   models.ParameterSet{"period": thisMonth()},
			expected: errors.ErrCodeQuerySyntax,
		},
		{
			name: "undeclared placeholder",
			tmpl: models.Template{
				ID:         "broken",
				Parameters: []models.Parameter{{Name: "period", Type: models.ParamDateRange}},
				Query:      "SELECT 1 AS n WHERE @period.start < @cutoff",
			},
			params:   models.ParameterSet{"period": thisMonth()},
			expected: errors.ErrCodeQuerySyntax,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Bind(tt.tmpl, tt.params)
			require.Error(t, err)
			assert.Equal(t, tt.expected, errors.CodeOf(err))
		})
	}
}

// ==========================
// Execution
// ==========================

func TestExecute_Success(t *testing.T) {
	exec, mock := newMockExecutor(t, time.Second)
	tmpl := mustTemplate(t, "salesperson_by_category")
	params := rankedParams(models.Ascending, 3)
	params["category"] = models.EntityValue(models.ParamCategory, models.Entity{ID: "FMEG", Name: "FMEG"})

	rows := sqlmock.NewRows([]string{"salesperson", "total_sales"}).
		AddRow("Anil Mehta", []byte("85000.00")).
		AddRow("Priya Sharma", 550000.0)
	mock.ExpectQuery(`si\.category_code = ANY\(\$3\)\s+GROUP BY sp\.name\s+ORDER BY total_sales ASC, sp\.name\s+LIMIT 3`).
		WithArgs("2026-10-01", "2026-10-19", sqlmock.AnyArg()).
		WillReturnRows(rows)

	result, err := exec.Execute(context.Background(), tmpl, params)
	require.NoError(t, err)

	assert.Equal(t, []string{"salesperson", "total_sales"}, result.Columns)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "Anil Mehta", result.Rows[0]["salesperson"])
	assert.Equal(t, "85000.00", result.Rows[0]["total_sales"])
	assert.Equal(t, 550000.0, result.Rows[1]["total_sales"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_EmptyResult(t *testing.T) {
	exec, mock := newMockExecutor(t, time.Second)
	tmpl := mustTemplate(t, "top_salesperson_period")

	mock.ExpectQuery(`FROM sales_invoices si`).
		WillReturnRows(sqlmock.NewRows([]string{"salesperson", "total_sales"}))

	result, err := exec.Execute(context.Background(), tmpl, rankedParams(models.Descending, 1))
	require.NoError(t, err)
	assert.Empty(t, result.Rows)
	assert.NotNil(t, result.Rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_Failures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(mock sqlmock.Sqlmock)
		expected  errors.ErrorCode
		retryable bool
	}{
		{
			name: "deadline",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM sales_invoices si`).
					WillDelayFor(time.Second).
					WillReturnRows(sqlmock.NewRows([]string{"salesperson", "total_sales"}))
			},
			expected:  errors.ErrCodeExecutionTimeout,
			retryable: true,
		},
		{
			name: "undefined column",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM sales_invoices si`).
					WillReturnError(&pq.Error{Code: "42703", Message: `column "net_amount" does not exist`})
			},
			expected: errors.ErrCodeQuerySyntax,
		},
		{
			name: "connection lost",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM sales_invoices si`).
					WillReturnError(stderrors.New("connection reset by peer"))
			},
			expected: errors.ErrCodeExecutionFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, mock := newMockExecutor(t, 50*time.Millisecond)
			tt.setup(mock)

			_, err := exec.Execute(context.Background(), mustTemplate(t, "top_salesperson_period"), rankedParams(models.Descending, 1))
			require.Error(t, err)
			assert.Equal(t, tt.expected, errors.CodeOf(err))
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))
		})
	}
}

func TestExecute_IncompleteNeverReachesDatabase(t *testing.T) {
	exec, mock := newMockExecutor(t, time.Second)

	_, err := exec.Execute(context.Background(), mustTemplate(t, "salesperson_total_sales"),
		models.ParameterSet{"period": thisMonth()})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeIncompleteParameters, errors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
