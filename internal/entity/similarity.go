package entity

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

const (
	// containmentScore is awarded when every significant mention token
	// matches a token of the key.
	containmentScore = 0.9
	tokenMatchRatio  = 0.8
	minTokenLength   = 3
	shortKeyLength   = 3
)

// normalize lowercases s, keeps letters, digits and "&", and maps the word
// "and" to "&" so "wires and cables" equals "Wires & Cables".
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '&':
			b.WriteString(" & ")
		default:
			b.WriteRune(' ')
		}
	}
	fields := strings.Fields(b.String())
	for i, f := range fields {
		if f == "and" {
			fields[i] = "&"
		}
	}
	return strings.Join(fields, " ")
}

// ratio is the Levenshtein similarity of a and b in [0,1].
func ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(fuzzy.LevenshteinDistance(a, b))/float64(longest)
}

func significant(tokens []string) []string {
	var out []string
	for _, t := range tokens {
		if utf8.RuneCountInString(t) >= minTokenLength {
			out = append(out, t)
		}
	}
	return out
}

func tokenMatches(m, k string) bool {
	return m == k ||
		(utf8.RuneCountInString(m) >= 4 && strings.HasPrefix(k, m)) ||
		ratio(m, k) >= tokenMatchRatio
}

// tokenScore is containmentScore scaled by the share of significant mention
// tokens that match some key token.
func tokenScore(mention, key []string) float64 {
	sig := significant(mention)
	if len(sig) == 0 {
		return 0
	}
	matched := 0
	for _, m := range sig {
		for _, k := range key {
			if tokenMatches(m, k) {
				matched++
				break
			}
		}
	}
	return containmentScore * float64(matched) / float64(len(sig))
}

type indexKey struct {
	raw    string
	norm   string
	tokens []string
	short  bool
}

func newIndexKey(raw string) indexKey {
	norm := normalize(raw)
	return indexKey{
		raw:    strings.TrimSpace(raw),
		norm:   norm,
		tokens: strings.Fields(norm),
		short:  utf8.RuneCountInString(norm) <= shortKeyLength,
	}
}

// score compares a mention with one key. Short keys such as state codes
// only match the exact uppercase form, so "up" in a sentence is not Uttar
// Pradesh.
func (k indexKey) score(mention string, norm string, tokens []string) float64 {
	if k.short {
		if strings.TrimSpace(mention) == strings.ToUpper(k.raw) {
			return 1
		}
		return 0
	}
	if norm == k.norm {
		return 1
	}
	s := ratio(norm, k.norm)
	if t := tokenScore(tokens, k.tokens); t > s {
		s = t
	}
	return s
}
