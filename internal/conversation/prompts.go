package conversation

import (
	"fmt"
	"strings"

	"sales-assistant/internal/common/errors"
	"sales-assistant/internal/format"
	"sales-assistant/internal/intent"
	"sales-assistant/internal/models"
)

const (
	greetingReply        = "Hello! Ask me about sales, for example \"top salesperson this month\" or \"category wise sales last quarter\"."
	thanksReply          = "You're welcome. Ask me anything else about sales."
	goodbyeReply         = "Goodbye! Come back any time you need sales numbers."
	resetReply           = "Okay, let's start over. What would you like to know about sales?"
	giveUpReply          = "I still couldn't work out the details, so let's start over. What would you like to know about sales?"
	noTableReply         = "I don't have any previous result to display as a table."
	nothingToChangeReply = "What would you like to change? For example \"show bottom 5\" or \"same for last quarter\"."
	emptyResultReply     = "The last result didn't have any rows."
)

func paramNoun(t models.ParamType) string {
	switch t {
	case models.ParamCategory:
		return "business category"
	case models.ParamRegion:
		return "state"
	case models.ParamSalesperson:
		return "salesperson"
	}
	return t.Label()
}

func pluralNoun(t models.ParamType) string {
	switch t {
	case models.ParamCategory:
		return "business categories"
	case models.ParamRegion:
		return "states"
	case models.ParamSalesperson:
		return "salespeople"
	}
	return t.Label() + "s"
}

// joinWords renders "a", "a and b", "a, b and c".
func joinWords(words []string) string {
	switch len(words) {
	case 0:
		return ""
	case 1:
		return words[0]
	}
	return strings.Join(words[:len(words)-1], ", ") + " and " + words[len(words)-1]
}

func promptFor(p models.Parameter) string {
	if p.Prompt != "" {
		return p.Prompt
	}
	return "Which " + paramNoun(p.Type) + "?"
}

// missingPrompt asks for the first missing parameter, naming the others
// when there are several.
func missingPrompt(missing []models.Parameter) string {
	if len(missing) == 0 {
		return ""
	}
	if len(missing) == 1 {
		return promptFor(missing[0])
	}
	names := make([]string, len(missing))
	for i, p := range missing {
		names[i] = "the " + paramNoun(p.Type)
	}
	lead := "I need a few more details"
	if len(missing) == 2 {
		lead = "I need two more details"
	}
	return fmt.Sprintf("%s: %s. %s", lead, joinWords(names), promptFor(missing[0]))
}

func ambiguityPrompt(p *models.PendingChoice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\"%s\" matches more than one %s. Which one did you mean?", p.Mention, paramNoun(p.Type))
	for i, c := range p.Candidates {
		fmt.Fprintf(&b, "\n%d. %s", i+1, c.Entity.Name)
	}
	return b.String()
}

func notFoundPrompt(mention string, t models.ParamType) string {
	return fmt.Sprintf("I couldn't find \"%s\" among the %s. Which %s did you mean?", mention, pluralNoun(t), paramNoun(t))
}

func unsupportedPrompt(types []models.ParamType) string {
	if len(types) == 0 {
		return errors.UserMessage(errors.ErrCodeUnsupportedFilter)
	}
	nouns := make([]string, len(types))
	for i, t := range types {
		nouns[i] = paramNoun(t)
	}
	return "That report can't be filtered by " + joinWords(nouns) + "."
}

func channelPrompt(ch models.Channel) string {
	return fmt.Sprintf("That report can't be limited to %s sales.", ch)
}

// noIntentPrompt asks the user to rephrase, offering example questions from
// the closest templates.
func noIntentPrompt(match intent.Match) string {
	msg := errors.UserMessage(errors.ErrCodeNoConfidentIntent)
	var examples []string
	for _, c := range match.Candidates {
		if c.Score <= 0 {
			continue
		}
		ex := c.Template.Description
		if len(c.Template.Examples) > 0 {
			ex = c.Template.Examples[0]
		}
		examples = append(examples, ex)
	}
	if len(examples) == 0 {
		return msg + " For example: \"top salesperson this month\"."
	}
	return msg + " You could ask, for example:\n- " + strings.Join(examples, "\n- ")
}

// resultAnswer answers "was that the highest?" from the remembered result.
// asked is empty for "highest or lowest?".
func resultAnswer(asked models.Direction, last *models.ResultSummary, t models.Template) string {
	lead := format.Lead(last.Columns, last.Rows, t)
	if lead == "" {
		return emptyResultReply
	}
	actual := models.Descending
	if v, ok := last.Params.OfType(models.ParamDirection); ok {
		actual = v.Direction
	}
	switch {
	case asked == "":
		return "That was the " + actual.Superlative() + ": " + lead
	case asked == actual:
		return "Yes, that was the " + actual.Superlative() + ": " + lead
	}
	return fmt.Sprintf("No, that was the %s: %s Say \"show %s\" to see the %s.",
		actual.Superlative(), lead, asked.Word(), asked.Superlative())
}
