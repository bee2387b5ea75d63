// Package warehouse runs catalog templates against the sales warehouse and
// loads the reference sets entity resolution matches against.
package warehouse

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"sales-assistant/internal/catalog"
	"sales-assistant/internal/common/errors"
	"sales-assistant/internal/common/logger"
	"sales-assistant/internal/common/metrics"
	"sales-assistant/internal/models"
)

const dateLayout = "2006-01-02"

// Config holds execution limits.
type Config struct {
	Timeout time.Duration
}

// Executor binds template parameters and runs the query with a deadline.
type Executor struct {
	db     *sql.DB
	config Config
	logger logger.Logger
}

func NewExecutor(db *sql.DB, cfg Config, log logger.Logger) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Executor{
		db:     db,
		config: cfg,
		logger: logger.ForComponent(log, "warehouse"),
	}
}

// Bind rewrites the @placeholders of t's query into positional arguments.
// Entity values bind as text arrays, date range bounds as dates. Sort
// direction and row count are checked and written into the statement since
// Postgres cannot take them as bind parameters in ORDER BY.
func Bind(t models.Template, params models.ParameterSet) (string, []interface{}, error) {
	if err := catalog.CheckReadOnly(t.Query); err != nil {
		return "", nil, errors.NewQuerySyntaxError(t.ID, err)
	}
	if missing := params.Missing(t); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, p := range missing {
			names[i] = p.Name
		}
		return "", nil, errors.NewIncompleteParametersError(t.ID, names)
	}

	var (
		b        strings.Builder
		args     []interface{}
		position = make(map[string]int)
		last     int
	)
	for _, ph := range catalog.Placeholders(t.Query) {
		b.WriteString(t.Query[last:ph.Start])
		last = ph.End

		param, ok := t.Parameter(ph.Name)
		if !ok {
			return "", nil, errors.NewQuerySyntaxError(t.ID, fmt.Errorf("undeclared placeholder @%s", ph.Name))
		}
		v := params[param.Name]

		switch param.Type {
		case models.ParamDirection:
			b.WriteString(string(v.Direction))
			continue
		case models.ParamCount:
			if v.Count < 1 || v.Count > catalog.MaxCount {
				return "", nil, errors.NewQuerySyntaxError(t.ID, fmt.Errorf("count %d out of range", v.Count))
			}
			b.WriteString(strconv.Itoa(v.Count))
			continue
		}

		if n, seen := position[ph.Key()]; seen {
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}

		var arg interface{}
		switch {
		case param.Type.IsEntity():
			arg = pq.Array(v.IDs())
		case param.Type == models.ParamDateRange:
			switch ph.Suffix {
			case "start":
				arg = v.Range.Start.Format(dateLayout)
			case "end":
				arg = v.Range.End.Format(dateLayout)
			default:
				return "", nil, errors.NewQuerySyntaxError(t.ID, fmt.Errorf("date range @%s needs .start or .end", ph.Name))
			}
		default:
			return "", nil, errors.NewQuerySyntaxError(t.ID, fmt.Errorf("unsupported parameter type %s", param.Type))
		}
		args = append(args, arg)
		position[ph.Key()] = len(args)
		b.WriteString("$" + strconv.Itoa(len(args)))
	}
	b.WriteString(t.Query[last:])
	return b.String(), args, nil
}

// Execute runs t with params. A run past the deadline fails with
// EXECUTION_TIMEOUT; rejected SQL fails with QUERY_SYNTAX.
func (e *Executor) Execute(ctx context.Context, t models.Template, params models.ParameterSet) (models.QueryResult, error) {
	query, args, err := Bind(t, params)
	if err != nil {
		metrics.QueryExecutions.WithLabelValues(t.ID, string(errors.CodeOf(err))).Inc()
		return models.QueryResult{}, err
	}

	qctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	start := time.Now()
	result, err := e.run(qctx, query, args)
	elapsed := time.Since(start)
	metrics.QueryDuration.WithLabelValues(t.ID).Observe(elapsed.Seconds())

	if err != nil {
		err = classify(qctx, t.ID, err)
		metrics.QueryExecutions.WithLabelValues(t.ID, string(errors.CodeOf(err))).Inc()
		e.logger.Error("Template execution failed", map[string]interface{}{
			"templateId": t.ID,
			"errorCode":  string(errors.CodeOf(err)),
			"durationMs": elapsed.Milliseconds(),
			"error":      err.Error(),
		})
		return models.QueryResult{}, err
	}

	result.Duration = elapsed
	metrics.QueryExecutions.WithLabelValues(t.ID, "ok").Inc()
	e.logger.Info("Template executed", map[string]interface{}{
		"templateId": t.ID,
		"rows":       len(result.Rows),
		"durationMs": elapsed.Milliseconds(),
	})
	return result, nil
}

func (e *Executor) run(ctx context.Context, query string, args []interface{}) (models.QueryResult, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return models.QueryResult{}, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return models.QueryResult{}, err
	}

	result := models.QueryResult{Columns: columns, Rows: []models.Row{}}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return models.QueryResult{}, err
		}
		row := make(models.Row, len(columns))
		for i, name := range columns {
			// numeric columns arrive as text from lib/pq
			if raw, ok := values[i].([]byte); ok {
				row[name] = string(raw)
				continue
			}
			row[name] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return models.QueryResult{}, err
	}
	return result, nil
}

func classify(ctx context.Context, templateID string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.NewExecutionTimeoutError(templateID, err)
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) && pqErr.Code.Class() == "42" {
		return errors.NewQuerySyntaxError(templateID, err)
	}
	return errors.NewExecutionFailureError(templateID, err)
}
