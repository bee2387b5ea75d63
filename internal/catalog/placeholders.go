package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	placeholderPattern = regexp.MustCompile(`@([a-zA-Z_][a-zA-Z0-9_]*)(?:\.(start|end))?`)
	forbiddenPattern   = regexp.MustCompile(`(?i)\b(insert|update|delete|merge|drop|alter|truncate|create|grant|revoke|copy|vacuum|call)\b`)
	leadingKeyword     = regexp.MustCompile(`(?i)^\s*(select|with)\b`)
)

// Placeholder is one @name or @name.start / @name.end reference in a query.
type Placeholder struct {
	Name   string
	Suffix string
	Start  int
	End    int
}

// Key identifies the bound value the placeholder stands for.
func (p Placeholder) Key() string {
	if p.Suffix == "" {
		return p.Name
	}
	return p.Name + "." + p.Suffix
}

// Placeholders returns the placeholder references of query in order of
// appearance.
func Placeholders(query string) []Placeholder {
	matches := placeholderPattern.FindAllStringSubmatchIndex(query, -1)
	out := make([]Placeholder, 0, len(matches))
	for _, m := range matches {
		p := Placeholder{
			Name:  query[m[2]:m[3]],
			Start: m[0],
			End:   m[1],
		}
		if m[4] >= 0 {
			p.Suffix = query[m[4]:m[5]]
		}
		out = append(out, p)
	}
	return out
}

// CheckReadOnly rejects queries that are not a single SELECT or WITH
// statement, or that name a data-modifying keyword anywhere.
func CheckReadOnly(query string) error {
	q := strings.TrimSpace(query)
	q = strings.TrimSuffix(q, ";")
	if q == "" {
		return fmt.Errorf("query is empty")
	}
	if !leadingKeyword.MatchString(q) {
		return fmt.Errorf("query must start with SELECT or WITH")
	}
	if strings.Contains(q, ";") {
		return fmt.Errorf("query must be a single statement")
	}
	if word := forbiddenPattern.FindString(q); word != "" {
		return fmt.Errorf("query contains forbidden keyword %q", strings.ToUpper(word))
	}
	return nil
}
