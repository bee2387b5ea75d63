package conversation

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"sales-assistant/internal/catalog"
	"sales-assistant/internal/entity"
	"sales-assistant/internal/models"
)

const numberPattern = `(\d{1,3}|one|two|three|four|five|six|seven|eight|nine|ten)`

var (
	rankCountRe     = regexp.MustCompile(`\b(top|bottom|best|worst|highest|lowest|first)\s+` + numberPattern + `\b`)
	showCountRe     = regexp.MustCompile(`\b(?:show|list|give|display|get)(?:\s+me)?(?:\s+the)?\s+` + numberPattern + `\b`)
	nounCountRe     = regexp.MustCompile(`\b` + numberPattern + `\s+(?:salespeople|salespersons|salesmen|people|reps|states|regions|categories|segments|results|rows|names|entries)\b`)
	ordinalRankRe   = regexp.MustCompile(`\b(second|third|fourth|fifth|2nd|3rd|4th|5th)\s+(highest|lowest|best|worst|top|bottom|largest|smallest)\b`)
	reverseRe       = regexp.MustCompile(`\b(?:reverse|flip|opposite|other\s+way\s+(?:round|around)|other\s+end)\b`)
	exportRe        = regexp.MustCompile(`\b(?:exports?|exported|exporting|overseas)\b`)
	domesticRe      = regexp.MustCompile(`\b(?:domestic|domestically)\b`)
	allCategoriesRe = regexp.MustCompile(`\ball\s+(?:the\s+)?(?:business\s+)?categories\b`)
	cueRe           = regexp.MustCompile(`^\s*(?:what|how)\s+about\b|\bsame\s+(?:for|but|in|with)\b|\bnow\s+(?:for|in|show)\b|\binstead\b|^\s*(?:and|but|only|just)\b`)
	dateishRe       = regexp.MustCompile(`\b(?:fy|fiscal|financial|quarter|quarters|q[1-4]|month|months|week|weeks|fortnight|year|years|days|ytd|mtd|qtd|yesterday|today|tomorrow|since|between|\d{4})\b`)
)

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

var ordinalCounts = map[string]int{
	"second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"2nd": 2, "3rd": 3, "4th": 4, "5th": 5,
}

var directionWords = map[string]models.Direction{
	"top": models.Descending, "best": models.Descending, "highest": models.Descending,
	"most": models.Descending, "maximum": models.Descending, "greatest": models.Descending,
	"strongest": models.Descending, "largest": models.Descending, "biggest": models.Descending,
	"bottom": models.Ascending, "worst": models.Ascending, "lowest": models.Ascending,
	"least": models.Ascending, "minimum": models.Ascending, "poorest": models.Ascending,
	"weakest": models.Ascending, "smallest": models.Ascending,
}

// subjectNouns maps the words users use for what a report is about onto
// template subjects.
var subjectNouns = map[string]string{
	"salesperson": "salesperson", "salespeople": "salesperson", "salespersons": "salesperson",
	"salesman": "salesperson", "salesmen": "salesperson", "seller": "salesperson",
	"sellers": "salesperson", "rep": "salesperson", "reps": "salesperson",
	"person": "salesperson", "people": "salesperson", "executive": "salesperson",
	"executives": "salesperson",
	"category": "category", "categories": "category",
	"state": "state", "states": "state", "region": "state", "regions": "state",
	"segment": "segment", "segments": "segment",
	"cso": "cso", "csos": "cso", "cluster": "cluster", "clusters": "cluster",
	"month": "month", "monthly": "month",
	"total": "total", "overall": "total",
}

// nounEntity is the entity type that explains a subject noun used as a
// filter ("FMEG category", "in the state of Kerala").
var nounEntity = map[string]models.ParamType{
	"salesperson": models.ParamSalesperson,
	"category":    models.ParamCategory,
	"state":       models.ParamRegion,
	"cso":         models.ParamCSO,
	"cluster":     models.ParamCluster,
}

// fillers carry no intent of their own.
var fillers = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "for": true, "in": true, "on": true,
	"by": true, "to": true, "at": true, "from": true, "with": true, "without": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"me": true, "my": true, "our": true, "we": true, "us": true, "i": true, "you": true,
	"your": true, "it": true, "its": true, "this": true, "that": true, "these": true,
	"those": true, "there": true, "them": true, "they": true, "their": true,
	"what": true, "what's": true, "whats": true, "who": true, "who's": true, "whos": true,
	"which": true, "how": true, "much": true, "many": true, "about": true,
	"show": true, "give": true, "tell": true, "list": true, "display": true, "get": true,
	"let": true, "lets": true, "let's": true, "see": true, "know": true, "find": true,
	"want": true, "need": true, "would": true, "could": true, "can": true, "will": true,
	"please": true, "now": true, "same": true, "also": true, "only": true, "just": true,
	"and": true, "but": true, "or": true, "so": true, "then": true, "instead": true,
	"did": true, "do": true, "does": true, "done": true, "doing": true,
	"has": true, "have": true, "had": true, "not": true, "any": true, "some": true,
	"each": true, "every": true, "per": true, "all": true, "one": true, "ones": true,
	"sales": true, "sale": true, "sold": true, "sell": true, "selling": true, "sells": true,
	"revenue": true, "revenues": true, "performance": true, "performing": true,
	"performer": true, "performers": true, "perform": true, "performed": true,
	"wise": true, "value": true, "amount": true, "figure": true, "figures": true,
	"numbers": true, "number": true, "data": true, "report": true, "details": true,
	"breakdown": true, "rank": true, "ranked": true, "ranking": true, "look": true,
	"check": true, "last": true, "next": true, "previous": true,
	"current": true, "past": true, "business": true, "period": true, "time": true,
	"ok": true, "okay": true, "hey": true, "yes": true, "no": true, "than": true,
	"under": true, "within": true, "product": true, "products": true,
}

type foundEntity struct {
	Type       models.ParamType
	Resolution entity.Resolution
}

// extraction is everything a turn states, independent of the session.
type extraction struct {
	hasDate       bool
	dateRange     models.DateRange
	dateish       bool
	direction     models.Direction
	count         int
	reverse       bool
	allCategories bool
	channel       models.Channel
	cue           bool
	entities      []foundEntity
	words         []string
	nouns         []string
}

// extracted reports whether the turn carried any parameter value.
func (e extraction) extracted() bool {
	return e.hasDate || e.direction != "" || e.count > 0 || e.reverse || e.allCategories ||
		e.channel != "" || len(e.entities) > 0
}

func (e extraction) entityTypes() []models.ParamType {
	var out []models.ParamType
	seen := make(map[models.ParamType]bool)
	for _, f := range e.entities {
		if !seen[f.Type] {
			seen[f.Type] = true
			out = append(out, f.Type)
		}
	}
	if e.allCategories && !seen[models.ParamCategory] {
		out = append(out, models.ParamCategory)
	}
	return out
}

// without drops the entities of type t, e.g. the mention a pick answers.
func (e extraction) without(t models.ParamType) extraction {
	var kept []foundEntity
	for _, f := range e.entities {
		if f.Type != t {
			kept = append(kept, f)
		}
	}
	e.entities = kept
	return e
}

func (e extraction) rankingTypes() []models.ParamType {
	var out []models.ParamType
	if e.direction != "" || e.reverse {
		out = append(out, models.ParamDirection)
	}
	if e.count > 0 {
		out = append(out, models.ParamCount)
	}
	return out
}

func (e extraction) hasEntity(t models.ParamType) bool {
	for _, pt := range e.entityTypes() {
		if pt == t {
			return true
		}
	}
	return false
}

// names reports whether the turn used a noun for subject.
func (e extraction) names(subject string) bool {
	for _, n := range e.nouns {
		if n == subject {
			return true
		}
	}
	return false
}

// unexplained returns what the turn says that t does not account for:
// words outside the filler vocabulary and subject nouns other than t's own.
func (e extraction) unexplained(t models.Template) []string {
	out := append([]string(nil), e.words...)
	subject := subjectOf(t)
	for _, n := range e.nouns {
		if n == subject {
			continue
		}
		if et, ok := nounEntity[n]; ok && (e.hasEntity(et) || t.Accepts(et)) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// evidence is unexplained text plus entity and ranking types t cannot
// take. It is what justifies matching a turn as a new question while
// collecting.
func (e extraction) evidence(t models.Template) []string {
	out := e.unexplained(t)
	for _, pt := range append(e.entityTypes(), e.rankingTypes()...) {
		if !t.Accepts(pt) {
			out = append(out, string(pt))
		}
	}
	return out
}

func subjectOf(t models.Template) string {
	fields := strings.Fields(t.Subject)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// extract pulls dates, ranking, channel, entities and residual words out of an
// utterance. Each recognized span is blanked before the next pass so no
// text is read twice.
func (m *Machine) extract(utterance string, now time.Time) extraction {
	var ex extraction
	work := []byte(utterance)
	lowerOf := func() string { return asciiLower(string(work)) }

	ex.cue = cueRe.MatchString(asciiLower(utterance))

	if dr, text, ok := m.dates.Extract(string(work), now); ok {
		ex.hasDate = true
		ex.dateRange = dr
		blankText(work, text)
	}

	lower := lowerOf()
	if idx := ordinalRankRe.FindStringSubmatchIndex(lower); idx != nil {
		ex.count = ordinalCounts[lower[idx[2]:idx[3]]]
		ex.direction = directionWords[lower[idx[4]:idx[5]]]
		blank(work, idx[0], idx[1])
	}

	if ex.count == 0 {
		lower = lowerOf()
		if idx := rankCountRe.FindStringSubmatchIndex(lower); idx != nil {
			ex.count = parseCount(lower[idx[4]:idx[5]])
			if d, ok := directionWords[lower[idx[2]:idx[3]]]; ok {
				ex.direction = d
			}
			blank(work, idx[0], idx[1])
		}
	}
	for _, re := range []*regexp.Regexp{showCountRe, nounCountRe} {
		if ex.count != 0 {
			break
		}
		lower = lowerOf()
		if idx := re.FindStringSubmatchIndex(lower); idx != nil {
			ex.count = parseCount(lower[idx[2]:idx[3]])
			blank(work, idx[2], idx[3])
		}
	}

	lower = lowerOf()
	if loc := reverseRe.FindStringIndex(lower); loc != nil {
		ex.reverse = true
		blank(work, loc[0], loc[1])
	}
	lower = lowerOf()
	if loc := allCategoriesRe.FindStringIndex(lower); loc != nil {
		ex.allCategories = true
		blank(work, loc[0], loc[1])
	}
	for _, c := range []struct {
		channel models.Channel
		re      *regexp.Regexp
	}{{models.ChannelDomestic, domesticRe}, {models.ChannelExport, exportRe}} {
		lower = lowerOf()
		for _, loc := range c.re.FindAllStringIndex(lower, -1) {
			ex.channel = c.channel
			blank(work, loc[0], loc[1])
		}
	}

	for _, f := range strings.FieldsFunc(lowerOf(), notWordRune) {
		if d, ok := directionWords[f]; ok && ex.direction == "" {
			ex.direction = d
		}
	}

	remaining := append([]models.ParamType(nil), models.EntityTypes...)
	if ex.allCategories {
		remaining = removeType(remaining, models.ParamCategory)
	}
	for len(remaining) > 0 {
		var (
			best  foundEntity
			found bool
		)
		for _, t := range remaining {
			res, ok := m.entities.Find(string(work), t)
			if !ok {
				continue
			}
			if !found || res.Score > best.Resolution.Score {
				best, found = foundEntity{Type: t, Resolution: res}, true
			}
		}
		if !found {
			break
		}
		ex.entities = append(ex.entities, best)
		blankMention(work, best.Resolution.Mention)
		remaining = removeType(remaining, best.Type)
	}

	for _, f := range strings.FieldsFunc(string(work), notWordRune) {
		norm := strings.ToLower(f)
		switch {
		case fillers[norm], directionWords[norm] != "", isNumber(norm):
		case subjectNouns[norm] != "":
			ex.nouns = append(ex.nouns, subjectNouns[norm])
		case dateishRe.MatchString(norm):
			ex.dateish = true
		default:
			ex.words = append(ex.words, f)
		}
	}
	if ex.hasDate {
		ex.dateish = false
	}
	return ex
}

func parseCount(s string) int {
	n, ok := numberWords[s]
	if !ok {
		var err error
		if n, err = strconv.Atoi(s); err != nil {
			return 0
		}
	}
	if n < 1 {
		return 0
	}
	if n > catalog.MaxCount {
		return catalog.MaxCount
	}
	return n
}

func isNumber(s string) bool {
	if _, ok := numberWords[s]; ok {
		return true
	}
	_, err := strconv.Atoi(s)
	return err == nil
}

func notWordRune(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
}

func removeType(types []models.ParamType, t models.ParamType) []models.ParamType {
	out := types[:0]
	for _, pt := range types {
		if pt != t {
			out = append(out, pt)
		}
	}
	return out
}

// asciiLower lowercases ASCII letters only so byte offsets stay valid.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

func blank(work []byte, start, end int) {
	for i := start; i < end && i < len(work); i++ {
		work[i] = ' '
	}
}

func blankText(work []byte, text string) {
	if text == "" {
		return
	}
	if i := strings.Index(string(work), text); i >= 0 {
		blank(work, i, i+len(text))
	}
}

// blankMention removes a mention found by the entity resolver, which trims
// punctuation and collapses spacing between its words.
func blankMention(work []byte, mention string) {
	words := strings.Fields(mention)
	if len(words) == 0 {
		return
	}
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = regexp.QuoteMeta(w)
	}
	re, err := regexp.Compile(`(?i)` + strings.Join(parts, `[^\pL\pN]+`))
	if err != nil {
		return
	}
	if loc := re.FindIndex(work); loc != nil {
		blank(work, loc[0], loc[1])
	}
}
