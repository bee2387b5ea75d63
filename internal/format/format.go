package format

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"sales-assistant/internal/models"
)

// currencyKeywords mark a column as money when the template does not say.
var currencyKeywords = []string{
	"sales", "value", "amount", "total", "revenue", "invoice",
	"price", "cost", "sum", "lineamount",
}

// Rules tune the rendering.
type Rules struct {
	// MaxListRows caps the numbered list in the text answer. The table
	// always carries every row.
	MaxListRows int
}

// DefaultRules lists up to ten rows.
var DefaultRules = Rules{MaxListRows: 10}

// Response is a rendered answer.
type Response struct {
	Text  string `json:"text"`
	Table *Table `json:"table,omitempty"`
}

// Table is a rendered result table.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Markdown renders the table as a GitHub-flavoured markdown table.
func (t *Table) Markdown() string {
	if t == nil || len(t.Columns) == 0 {
		return ""
	}
	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for _, c := range cells {
			b.WriteString(" ")
			b.WriteString(strings.ReplaceAll(c, "|", `\|`))
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}
	writeRow(t.Columns)
	b.WriteString("|")
	for range t.Columns {
		b.WriteString("---|")
	}
	b.WriteString("\n")
	for _, r := range t.Rows {
		writeRow(r)
	}
	return b.String()
}

// ColumnOf returns the column metadata for name, falling back to a guess
// from the name when the template does not declare it.
func ColumnOf(t models.Template, name string) models.Column {
	if c, ok := t.Column(name); ok {
		if c.Label == "" {
			c.Label = labelFromName(name)
		}
		return c
	}
	kind := models.ColumnText
	lower := strings.ToLower(name)
	for _, kw := range currencyKeywords {
		if strings.Contains(lower, kw) {
			kind = models.ColumnCurrency
			break
		}
	}
	return models.Column{Name: name, Label: labelFromName(name), Kind: kind}
}

func labelFromName(name string) string {
	words := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// CellValue renders one value according to its column kind.
func CellValue(c models.Column, v interface{}) string {
	if v == nil {
		return "-"
	}
	switch c.Kind {
	case models.ColumnCurrency:
		f, ok := toFloat(v)
		if !ok {
			return fmt.Sprint(v)
		}
		return FormatINR(f)
	case models.ColumnNumber:
		f, ok := toFloat(v)
		if !ok {
			return fmt.Sprint(v)
		}
		if f == math.Trunc(f) && math.Abs(f) < 1e15 {
			return GroupIndian(strconv.FormatInt(int64(f), 10))
		}
		if f < 0 {
			return "-" + GroupIndian(roundHalfUp(-f, 2))
		}
		return GroupIndian(roundHalfUp(f, 2))
	case models.ColumnDate:
		if ts, ok := v.(time.Time); ok {
			return ts.Format("2 Jan 2006")
		}
	}
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format("2 Jan 2006")
	}
	return fmt.Sprint(v)
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
		return f, err == nil
	}
	return 0, false
}

// Render builds the table for rows in the given column order.
func Render(columns []string, rows []models.Row, t models.Template) *Table {
	table := &Table{Columns: make([]string, len(columns)), Rows: make([][]string, 0, len(rows))}
	meta := make([]models.Column, len(columns))
	for i, name := range columns {
		meta[i] = ColumnOf(t, name)
		table.Columns[i] = meta[i].Label
	}
	for _, r := range rows {
		cells := make([]string, len(columns))
		for i, name := range columns {
			cells[i] = CellValue(meta[i], r[name])
		}
		table.Rows = append(table.Rows, cells)
	}
	return table
}

// Format renders a result as a short answer plus its table.
func Format(result models.QueryResult, t models.Template, params models.ParameterSet, rules Rules) Response {
	if rules.MaxListRows <= 0 {
		rules = DefaultRules
	}
	resp := Response{Table: Render(result.Columns, result.Rows, t)}
	if len(result.Rows) == 0 {
		resp.Table = nil
		resp.Text = "I didn't find any " + salesNoun(t) + scope(t, params) + "."
		return resp
	}

	roles := rolesOf(result.Columns, t)
	if _, ranked := t.ParameterOfType(models.ParamDirection); ranked {
		resp.Text = rankedText(result.Rows, t, params, roles, rules)
		return resp
	}

	if roles.label == "" {
		resp.Text = totalText(result.Rows[0], t, params, roles)
		return resp
	}
	if len(result.Rows) == 1 {
		resp.Text = capitalize(salesNoun(t)) + scope(t, params) + ": " + leadSentence(result.Rows[0], t, roles)
		return resp
	}
	resp.Text = listText(fmt.Sprintf("%s by %s%s", capitalize(salesNoun(t)), t.Noun(), scope(t, params)), result.Rows, t, roles, rules)
	return resp
}

// Lead renders the first row as "<Name> with ₹X in sales." for follow-up
// answers about an earlier result.
func Lead(columns []string, rows []models.Row, t models.Template) string {
	if len(rows) == 0 {
		return ""
	}
	return leadSentence(rows[0], t, rolesOf(columns, t))
}

type columnRoles struct {
	label  string
	amount string
	count  string
}

func rolesOf(columns []string, t models.Template) columnRoles {
	var r columnRoles
	for _, name := range columns {
		c := ColumnOf(t, name)
		switch c.Kind {
		case models.ColumnText, models.ColumnDate:
			if r.label == "" {
				r.label = name
			}
		case models.ColumnCurrency:
			if r.amount == "" {
				r.amount = name
			}
		case models.ColumnNumber:
			if r.count == "" {
				r.count = name
			}
		}
	}
	return r
}

func leadSentence(row models.Row, t models.Template, r columnRoles) string {
	name := CellValue(ColumnOf(t, r.label), row[r.label])
	if r.amount == "" {
		return name + "."
	}
	s := fmt.Sprintf("%s with %s in sales", name, CellValue(ColumnOf(t, r.amount), row[r.amount]))
	if r.count != "" {
		c := ColumnOf(t, r.count)
		s += fmt.Sprintf(" across %s %s", CellValue(c, row[r.count]), strings.ToLower(c.Label))
	}
	return s + "."
}

func rankedText(rows []models.Row, t models.Template, params models.ParameterSet, r columnRoles, rules Rules) string {
	dir := models.Descending
	if v, ok := params.OfType(models.ParamDirection); ok {
		dir = v.Direction
	}
	word := capitalize(dir.Word())
	if len(rows) == 1 {
		return word + " " + t.Noun() + scope(t, params) + ": " + leadSentence(rows[0], t, r)
	}
	return listText(fmt.Sprintf("%s %d %s%s", word, len(rows), plural(t.Noun()), scope(t, params)), rows, t, r, rules)
}

func listText(heading string, rows []models.Row, t models.Template, r columnRoles, rules Rules) string {
	var b strings.Builder
	b.WriteString(heading)
	b.WriteString(":")
	for i, row := range rows {
		if i == rules.MaxListRows {
			fmt.Fprintf(&b, "\n...and %d more.", len(rows)-i)
			break
		}
		fmt.Fprintf(&b, "\n%d. %s", i+1, strings.TrimSuffix(leadSentence(row, t, r), "."))
	}
	return b.String()
}

func totalText(row models.Row, t models.Template, params models.ParameterSet, r columnRoles) string {
	s := "Total sales" + scope(t, params) + ": "
	if r.amount != "" {
		s += CellValue(ColumnOf(t, r.amount), row[r.amount])
	}
	if r.count != "" {
		c := ColumnOf(t, r.count)
		s += fmt.Sprintf(" across %s %s", CellValue(c, row[r.count]), strings.ToLower(c.Label))
	}
	return s + "."
}

// scope describes the filters and period of params, e.g.
// " in FMEG for this month (1 Oct 2026 to 18 Oct 2026)".
func scope(t models.Template, params models.ParameterSet) string {
	var b strings.Builder
	for _, p := range t.Parameters {
		v, ok := params[p.Name]
		if !ok || !v.Present() {
			continue
		}
		switch p.Type {
		case models.ParamCategory, models.ParamRegion:
			b.WriteString(" in " + v.Display())
		case models.ParamSalesperson:
			b.WriteString(" by " + v.Display())
		case models.ParamCSO:
			b.WriteString(" under " + v.Display())
		case models.ParamCluster:
			b.WriteString(" in the " + v.Display() + " cluster")
		}
	}
	if v, ok := params.OfType(models.ParamDateRange); ok {
		b.WriteString(" for " + v.Display())
	}
	return b.String()
}

// salesNoun is "sales" qualified by the template's channel.
func salesNoun(t models.Template) string {
	if t.Channel == "" {
		return "sales"
	}
	return string(t.Channel) + " sales"
}

func plural(noun string) string {
	switch {
	case strings.HasSuffix(noun, "salesperson"):
		return strings.TrimSuffix(noun, "salesperson") + "salespeople"
	case strings.HasSuffix(noun, "y"):
		return strings.TrimSuffix(noun, "y") + "ies"
	case strings.HasSuffix(noun, "s"):
		return noun
	}
	return noun + "s"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
