package entity

import (
	"strconv"
	"strings"

	"sales-assistant/internal/models"
)

// choiceMargin is how far the named candidate must lead the runner-up.
const choiceMargin = 0.05

var ordinals = map[string]int{
	"first": 1, "1st": 1, "one": 1,
	"second": 2, "2nd": 2, "two": 2,
	"third": 3, "3rd": 3, "three": 3,
	"fourth": 4, "4th": 4, "four": 4,
	"fifth": 5, "5th": 5, "five": 5,
}

var choiceFillers = map[string]bool{
	"one": true, "option": true, "choice": true, "number": true, "no": true,
	"pick": true, "mean": true, "meant": true, "select": true, "go": true,
	"yes": true, "that": true, "ok": true, "okay": true,
}

// positionFillers may surround a positional pick ("I meant the second one").
var positionFillers = map[string]bool{
	"the": true, "i": true, "it's": true, "its": true, "is": true, "it": true,
	"with": true, "please": true, "want": true, "take": true, "choose": true,
	"candidate": true, "person": true, "entry": true, "name": true,
}

// Choose picks one of candidates from a reply to a "which one did you
// mean" question. The reply can name the candidate ("Ramesh Shah",
// "Shah") or point at it by position ("2", "the second one", "last one").
// A positional pick counts only when the whole reply is about the choice,
// so "top 2 states last quarter" is not read as a pick.
func Choose(utterance string, candidates []models.Candidate) (models.Entity, bool) {
	if len(candidates) == 0 {
		return models.Entity{}, false
	}
	tokens := tokenize(utterance)

	if e, ok := chooseByName(tokens, candidates); ok {
		return e, true
	}

	n, ok := position(tokens, len(candidates))
	if !ok || n < 1 || n > len(candidates) {
		return models.Entity{}, false
	}
	return candidates[n-1].Entity, true
}

// position reads a reply made only of fillers and a single position. It
// returns 1-based positions; "last" is the final candidate.
func position(tokens []token, count int) (int, bool) {
	var positions []int
	ones := 0
	for _, tok := range tokens {
		norm := strings.TrimPrefix(tok.norm, "#")
		switch {
		case norm == "last":
			positions = append(positions, count)
		case norm == "one":
			ones++
		case ordinals[norm] > 0:
			positions = append(positions, ordinals[norm])
		case positionFillers[norm], choiceFillers[norm]:
		default:
			v, err := strconv.Atoi(norm)
			if err != nil {
				return 0, false
			}
			positions = append(positions, v)
		}
	}
	switch {
	case len(positions) == 1:
		return positions[0], true
	case len(positions) == 0 && ones == 1:
		return 1, true
	}
	return 0, false
}

func chooseByName(tokens []token, candidates []models.Candidate) (models.Entity, bool) {
	var parts []string
	for _, tok := range tokens {
		if stopwords[tok.norm] || choiceFillers[tok.norm] {
			continue
		}
		if _, ok := ordinals[tok.norm]; ok {
			continue
		}
		parts = append(parts, tok.raw)
	}
	if len(parts) == 0 {
		return models.Entity{}, false
	}
	mention := strings.Join(parts, " ")
	norm := normalize(mention)
	if norm == "" {
		return models.Entity{}, false
	}
	words := strings.Fields(norm)

	best, second := -1.0, -1.0
	var chosen models.Entity
	for _, c := range candidates {
		keys := []indexKey{newIndexKey(c.Entity.Name)}
		if c.Entity.ID != "" && !strings.EqualFold(c.Entity.ID, c.Entity.Name) {
			keys = append(keys, newIndexKey(c.Entity.ID))
		}
		for _, a := range c.Entity.Aliases {
			keys = append(keys, newIndexKey(a))
		}
		s := 0.0
		for _, k := range keys {
			if v := k.score(mention, norm, words); v > s {
				s = v
			}
		}
		switch {
		case s > best:
			second, best, chosen = best, s, c.Entity
		case s > second:
			second = s
		}
	}
	if best < 0.75 || best-second <= choiceMargin {
		return models.Entity{}, false
	}
	return chosen, true
}
