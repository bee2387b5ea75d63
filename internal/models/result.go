package models

import "time"

// Row is one result row keyed by column name.
type Row map[string]interface{}

// QueryResult is the outcome of executing a template.
type QueryResult struct {
	Columns  []string      `json:"columns"`
	Rows     []Row         `json:"rows"`
	Duration time.Duration `json:"duration"`
}

// Summarize keeps at most maxRows rows of r for later follow-up questions.
func (r *QueryResult) Summarize(t Template, params ParameterSet, maxRows int, at time.Time) *ResultSummary {
	rows := r.Rows
	if maxRows > 0 && len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	kept := make([]Row, len(rows))
	copy(kept, rows)
	return &ResultSummary{
		TemplateID: t.ID,
		Params:     params.Clone(),
		Columns:    append([]string(nil), r.Columns...),
		Rows:       kept,
		TotalRows:  len(r.Rows),
		AnsweredAt: at,
	}
}
