// Package dates turns natural date expressions into half-open date ranges.
// Every function is pure in (expression, reference time, configuration).
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "time/tzdata"

	"sales-assistant/internal/common/errors"
	"sales-assistant/internal/models"
)

// Resolver resolves date expressions relative to a reference time in a
// fixed business time zone.
type Resolver struct {
	loc     *time.Location
	fyStart time.Month
}

// NewResolver creates a resolver. fyStartMonth is 1-12; timezone is an IANA
// name, empty for UTC.
func NewResolver(fyStartMonth int, timezone string) (*Resolver, error) {
	if fyStartMonth < 1 || fyStartMonth > 12 {
		return nil, fmt.Errorf("fiscal year start month must be 1-12, got %d", fyStartMonth)
	}
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
		loc = l
	}
	return &Resolver{loc: loc, fyStart: time.Month(fyStartMonth)}, nil
}

// Location is the business time zone.
func (r *Resolver) Location() *time.Location { return r.loc }

// Today is the midnight that starts the business day containing ref.
func (r *Resolver) Today(ref time.Time) time.Time {
	t := ref.In(r.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, r.loc)
}

// Resolve parses a whole expression such as "last quarter" or
// "Jan to Mar 2024".
func (r *Resolver) Resolve(expression string, ref time.Time) (models.DateRange, error) {
	expr := trimExpression(asciiLower(expression))
	today := r.Today(ref)
	for _, rl := range rules {
		m := rl.full.FindStringSubmatch(expr)
		if m == nil {
			continue
		}
		dr, err := rl.build(r, m, today)
		if err != nil {
			break
		}
		return dr, nil
	}
	return models.DateRange{}, errors.NewUnparseableDateError(expression)
}

// Extract finds the first date expression inside an utterance. When several
// expressions start at the same position the longest wins. It returns the
// matched text as it appears in the utterance.
func (r *Resolver) Extract(utterance string, ref time.Time) (models.DateRange, string, bool) {
	lower := asciiLower(utterance)
	today := r.Today(ref)

	var (
		best       models.DateRange
		start, end = -1, -1
	)
	for _, rl := range rules {
		for _, idx := range rl.re.FindAllStringSubmatchIndex(lower, -1) {
			s, e := idx[0], idx[1]
			if start >= 0 && (s > start || (s == start && e-s <= end-start)) {
				continue
			}
			m := submatches(lower, idx)
			if rl.guard != nil && !rl.guard(lower, s) {
				continue
			}
			dr, err := rl.build(r, m, today)
			if err != nil {
				continue
			}
			best, start, end = dr, s, e
		}
	}
	if start < 0 {
		return models.DateRange{}, "", false
	}
	return best, utterance[start:end], true
}

func submatches(s string, idx []int) []string {
	out := make([]string, len(idx)/2)
	for i := range out {
		if idx[2*i] >= 0 {
			out[i] = s[idx[2*i]:idx[2*i+1]]
		}
	}
	return out
}

// asciiLower lowercases ASCII letters only so byte offsets are preserved.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

var leadingFiller = regexp.MustCompile(`^(?:for|in|during|from|of|over|since)\s+(?:the\s+)?`)

func trimExpression(s string) string {
	s = strings.Trim(strings.TrimSpace(s), "?.!,;:")
	s = strings.Join(strings.Fields(s), " ")
	return leadingFiller.ReplaceAllString(s, "")
}

// ==========================
// Period arithmetic
// ==========================

func (r *Resolver) day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, r.loc)
}

func (r *Resolver) monthStart(t time.Time) time.Time {
	return r.day(t.Year(), t.Month(), 1)
}

// fiscalYearStart is the first day of the fiscal year containing t.
func (r *Resolver) fiscalYearStart(t time.Time) time.Time {
	y := t.Year()
	if t.Month() < r.fyStart {
		y--
	}
	return r.day(y, r.fyStart, 1)
}

// quarterStart is the first day of the fiscal quarter containing t.
func (r *Resolver) quarterStart(t time.Time) time.Time {
	offset := (int(t.Month()) - int(r.fyStart) + 12) % 12
	return r.monthStart(t).AddDate(0, -(offset % 3), 0)
}

func weekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

// clip ends a to-date period at the end of today.
func clip(dr models.DateRange, today time.Time) models.DateRange {
	tomorrow := today.AddDate(0, 0, 1)
	if dr.End.After(tomorrow) {
		dr.End = tomorrow
	}
	return dr
}

func (r *Resolver) fiscalLabel(start time.Time) string {
	if r.fyStart == time.January {
		return fmt.Sprintf("FY %d", start.Year())
	}
	return fmt.Sprintf("FY %d-%02d", start.Year(), (start.Year()+1)%100)
}

func (r *Resolver) current(unit string, today time.Time) (models.DateRange, error) {
	var start, end time.Time
	switch unit {
	case "week":
		start = weekStart(today)
		end = start.AddDate(0, 0, 7)
	case "month":
		start = r.monthStart(today)
		end = start.AddDate(0, 1, 0)
	case "quarter":
		start = r.quarterStart(today)
		end = start.AddDate(0, 3, 0)
	case "year":
		start = r.day(today.Year(), time.January, 1)
		end = start.AddDate(1, 0, 0)
	case "fiscal":
		start = r.fiscalYearStart(today)
		end = start.AddDate(1, 0, 0)
	default:
		return models.DateRange{}, fmt.Errorf("unknown unit %q", unit)
	}
	return models.DateRange{Start: start, End: end}, nil
}

func (r *Resolver) previous(unit string, today time.Time) (models.DateRange, error) {
	var start, end time.Time
	switch unit {
	case "week":
		end = weekStart(today)
		start = end.AddDate(0, 0, -7)
	case "month":
		end = r.monthStart(today)
		start = end.AddDate(0, -1, 0)
	case "quarter":
		end = r.quarterStart(today)
		start = end.AddDate(0, -3, 0)
	case "year":
		end = r.day(today.Year(), time.January, 1)
		start = end.AddDate(-1, 0, 0)
	case "fiscal":
		end = r.fiscalYearStart(today)
		start = end.AddDate(-1, 0, 0)
	default:
		return models.DateRange{}, fmt.Errorf("unknown unit %q", unit)
	}
	return models.DateRange{Start: start, End: end}, nil
}

// mostRecent returns the most recent occurrence of month m on or before
// today's month.
func (r *Resolver) mostRecent(m time.Month, today time.Time) time.Time {
	y := today.Year()
	if m > today.Month() {
		y--
	}
	return r.day(y, m, 1)
}

// ==========================
// Grammar
// ==========================

const monthPattern = `(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)`

const rangeJoin = `\s*(?:to|until|till|through|thru|-|–)\s*`

var monthNames = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
}

type rule struct {
	name  string
	re    *regexp.Regexp
	full  *regexp.Regexp
	guard func(lower string, start int) bool
	build func(r *Resolver, m []string, today time.Time) (models.DateRange, error)
}

func newRule(name, pattern string, build func(*Resolver, []string, time.Time) (models.DateRange, error)) rule {
	return rule{
		name:  name,
		re:    regexp.MustCompile(`\b(?:` + pattern + `)\b`),
		full:  regexp.MustCompile(`^(?:` + pattern + `)$`),
		build: build,
	}
}

var rules = []rule{
	newRule("iso_range", `(\d{4}-\d{2}-\d{2})`+rangeJoin+`(\d{4}-\d{2}-\d{2})`, buildISORange),
	newRule("iso_day", `(\d{4}-\d{2}-\d{2})`, buildISODay),
	newRule("month_year_range", monthPattern+`\s+(\d{4})`+rangeJoin+monthPattern+`\s+(\d{4})`, buildMonthYearRange),
	newRule("month_range", monthPattern+rangeJoin+monthPattern+`(?:\s+(\d{4}))?`, buildMonthRange),
	newRule("month_year", monthPattern+`,?\s+(\d{4})`, buildMonthYear),
	withGuard(newRule("month", monthPattern, buildMonth), guardMay),
	newRule("fiscal_year_number", `(?:fy|fiscal year|financial year)\s*'?(\d{2}|\d{4})(?:\s*[-/]\s*(\d{2}|\d{4}))?`, buildFiscalYear),
	newRule("fiscal_relative", `(this|current|last|previous|prior)\s+(?:fiscal year|financial year|fy)`, buildFiscalRelative),
	newRule("to_date", `(ytd|mtd|qtd|year to date|month to date|quarter to date)`, buildToDate),
	newRule("period_relative", `(this|current|last|previous|prior|past)\s+(week|month|quarter|year)`, buildPeriodRelative),
	newRule("trailing", `(?:last|past|previous)\s+(\d{1,3}|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)\s+(days?|weeks?|months?)`, buildTrailing),
	newRule("day", `(today|yesterday)`, buildDay),
}

func withGuard(rl rule, guard func(string, int) bool) rule {
	rl.guard = guard
	return rl
}

var mayPreposition = regexp.MustCompile(`\b(?:in|for|during|of|since|from)\s+$`)

// guardMay accepts a bare "may" only after a preposition ("sales in may"),
// since it is usually the modal verb.
func guardMay(lower string, start int) bool {
	if !strings.HasPrefix(lower[start:], "may") {
		return true
	}
	return mayPreposition.MatchString(lower[:start])
}

func (r *Resolver) parseISO(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, r.loc)
}

func buildISORange(r *Resolver, m []string, _ time.Time) (models.DateRange, error) {
	from, err := r.parseISO(m[1])
	if err != nil {
		return models.DateRange{}, err
	}
	to, err := r.parseISO(m[2])
	if err != nil {
		return models.DateRange{}, err
	}
	if to.Before(from) {
		return models.DateRange{}, fmt.Errorf("range ends before it starts")
	}
	return models.DateRange{Start: from, End: to.AddDate(0, 0, 1)}, nil
}

func buildISODay(r *Resolver, m []string, _ time.Time) (models.DateRange, error) {
	d, err := r.parseISO(m[1])
	if err != nil {
		return models.DateRange{}, err
	}
	return models.DateRange{Start: d, End: d.AddDate(0, 0, 1)}, nil
}

func parseYear(s string) (int, error) {
	y, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if len(s) == 2 {
		y += 2000
	}
	if y < 1900 || y > 2200 {
		return 0, fmt.Errorf("year %d out of range", y)
	}
	return y, nil
}

func buildMonthYearRange(r *Resolver, m []string, _ time.Time) (models.DateRange, error) {
	y1, err := parseYear(m[2])
	if err != nil {
		return models.DateRange{}, err
	}
	y2, err := parseYear(m[4])
	if err != nil {
		return models.DateRange{}, err
	}
	start := r.day(y1, monthNames[m[1]], 1)
	end := r.day(y2, monthNames[m[3]], 1).AddDate(0, 1, 0)
	if !end.After(start) {
		return models.DateRange{}, fmt.Errorf("range ends before it starts")
	}
	return models.DateRange{Start: start, End: end}, nil
}

// buildMonthRange handles "jan to mar 2024": the year belongs to the last
// month, and a range that wraps the year end starts in the year before.
func buildMonthRange(r *Resolver, m []string, today time.Time) (models.DateRange, error) {
	from, to := monthNames[m[1]], monthNames[m[2]]
	var last time.Time
	if m[3] != "" {
		y, err := parseYear(m[3])
		if err != nil {
			return models.DateRange{}, err
		}
		last = r.day(y, to, 1)
	} else {
		last = r.mostRecent(to, today)
	}
	y := last.Year()
	if from > to {
		y--
	}
	return models.DateRange{Start: r.day(y, from, 1), End: last.AddDate(0, 1, 0)}, nil
}

func buildMonthYear(r *Resolver, m []string, _ time.Time) (models.DateRange, error) {
	y, err := parseYear(m[2])
	if err != nil {
		return models.DateRange{}, err
	}
	start := r.day(y, monthNames[m[1]], 1)
	return models.DateRange{Start: start, End: start.AddDate(0, 1, 0)}, nil
}

func buildMonth(r *Resolver, m []string, today time.Time) (models.DateRange, error) {
	start := r.mostRecent(monthNames[m[1]], today)
	return models.DateRange{Start: start, End: start.AddDate(0, 1, 0)}, nil
}

// buildFiscalYear handles FY2024, FY 24, FY 2024-25: the fiscal year is
// named by the calendar year it starts in.
func buildFiscalYear(r *Resolver, m []string, _ time.Time) (models.DateRange, error) {
	y, err := parseYear(m[1])
	if err != nil {
		return models.DateRange{}, err
	}
	if m[2] != "" {
		next, err := strconv.Atoi(m[2])
		if err != nil {
			return models.DateRange{}, err
		}
		if len(m[2]) == 2 {
			next = y/100*100 + next
			if next < y {
				next += 100
			}
		}
		if next != y+1 {
			return models.DateRange{}, fmt.Errorf("fiscal year %s-%s does not span consecutive years", m[1], m[2])
		}
	}
	start := r.day(y, r.fyStart, 1)
	return models.DateRange{Start: start, End: start.AddDate(1, 0, 0), Label: r.fiscalLabel(start)}, nil
}

func buildFiscalRelative(r *Resolver, m []string, today time.Time) (models.DateRange, error) {
	var (
		dr  models.DateRange
		err error
	)
	if m[1] == "this" || m[1] == "current" {
		dr, err = r.current("fiscal", today)
		if err == nil {
			dr.Label = "this fiscal year"
		}
	} else {
		dr, err = r.previous("fiscal", today)
		if err == nil {
			dr.Label = "last fiscal year"
		}
	}
	return dr, err
}

// buildToDate treats YTD as fiscal year to date.
func buildToDate(r *Resolver, m []string, today time.Time) (models.DateRange, error) {
	var (
		dr  models.DateRange
		err error
	)
	switch m[1] {
	case "ytd", "year to date":
		dr, err = r.current("fiscal", today)
		dr.Label = "year to date"
	case "mtd", "month to date":
		dr, err = r.current("month", today)
		dr.Label = "month to date"
	default:
		dr, err = r.current("quarter", today)
		dr.Label = "quarter to date"
	}
	return clip(dr, today), err
}

func buildPeriodRelative(r *Resolver, m []string, today time.Time) (models.DateRange, error) {
	var (
		dr  models.DateRange
		err error
	)
	switch m[1] {
	case "this", "current":
		dr, err = r.current(m[2], today)
		dr.Label = "this " + m[2]
	default:
		dr, err = r.previous(m[2], today)
		dr.Label = "last " + m[2]
	}
	return dr, err
}

// buildTrailing handles "last N days|weeks|months". Day and week windows end
// today inclusive; month windows start on the first of the month N months
// back.
func buildTrailing(r *Resolver, m []string, today time.Time) (models.DateRange, error) {
	n, ok := numberWords[m[1]]
	if !ok {
		var err error
		if n, err = strconv.Atoi(m[1]); err != nil {
			return models.DateRange{}, err
		}
	}
	if n <= 0 {
		return models.DateRange{}, fmt.Errorf("window must be positive")
	}
	end := today.AddDate(0, 0, 1)
	unit := strings.TrimSuffix(m[2], "s")
	var start time.Time
	switch unit {
	case "day":
		start = end.AddDate(0, 0, -n)
	case "week":
		start = end.AddDate(0, 0, -7*n)
	default:
		start = r.monthStart(today).AddDate(0, -n, 0)
	}
	return models.DateRange{Start: start, End: end, Label: fmt.Sprintf("last %d %ss", n, unit)}, nil
}

func buildDay(r *Resolver, m []string, today time.Time) (models.DateRange, error) {
	d := today
	if m[1] == "yesterday" {
		d = today.AddDate(0, 0, -1)
	}
	return models.DateRange{Start: d, End: d.AddDate(0, 0, 1), Label: m[1]}, nil
}
