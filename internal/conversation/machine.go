// Package conversation holds the per-conversation state machine that turns
// an utterance into either a reply or a fully bound template to execute.
package conversation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"sales-assistant/internal/catalog"
	"sales-assistant/internal/common/errors"
	"sales-assistant/internal/common/logger"
	"sales-assistant/internal/entity"
	"sales-assistant/internal/intent"
	"sales-assistant/internal/models"
)

// Matcher ranks catalog templates against an utterance.
type Matcher interface {
	Match(ctx context.Context, utterance string, topK int) (intent.Match, error)
}

// Entities finds and lists reference entities.
type Entities interface {
	Find(utterance string, t models.ParamType) (entity.Resolution, bool)
	All(t models.ParamType) []models.Entity
}

// Dates finds a date expression inside an utterance.
type Dates interface {
	Extract(utterance string, ref time.Time) (models.DateRange, string, bool)
}

// Config holds the conversation policy.
type Config struct {
	SwitchMargin          float64
	MaxCollectionAttempts int
	MaxRows               int
	TopK                  int
}

// Action tells the caller what to do with a decision.
type Action int

const (
	ActionReply Action = iota
	ActionExecute
)

// Kind classifies a decision for logging and metrics.
type Kind string

const (
	KindNewQuery       Kind = "new_query"
	KindFill           Kind = "fill"
	KindRefine         Kind = "refine"
	KindChoice         Kind = "choice"
	KindClarify        Kind = "clarify"
	KindReset          Kind = "reset"
	KindGreeting       Kind = "greeting"
	KindAck            Kind = "ack"
	KindResultQuestion Kind = "result_question"
	KindShowTable      Kind = "show_table"
)

// Decision is the outcome of one turn. ActionExecute carries a template
// whose parameters are all bound; ActionReply carries the text to send and,
// for show_table, the remembered result.
type Decision struct {
	Action   Action
	Kind     Kind
	Reply    string
	Template models.Template
	Params   models.ParameterSet
	Table    *models.ResultSummary
	Code     errors.ErrorCode
}

var (
	resetRe    = regexp.MustCompile(`\b(?:start\s+over|reset|begin\s+again|start\s+again|clear|new\s+question|forget\s+it|cancel)\b`)
	greetingRe = regexp.MustCompile(`^\s*(?:hi|hello|hey|hiya|namaste|good\s+(?:morning|afternoon|evening))(?:\s+there)?\s*[!.]*\s*$`)
	thanksRe   = regexp.MustCompile(`^\s*(?:thanks|thank\s+you|thx|ty|cool|great|ok|okay|got\s+it|nice|perfect)(?:\s+(?:so\s+much|a\s+lot))?\s*[!.]*\s*$`)
	byeRe      = regexp.MustCompile(`^\s*(?:bye|goodbye|see\s+you|that'?s\s+all)\b`)
	tableRe    = regexp.MustCompile(`\b(?:show|display|give|see|view|put)\b.*\btable\b|\bas\s+a\s+table\b|\btabular\b|^\s*table\s*[?.!]*\s*$`)
	eitherRe   = regexp.MustCompile(`\b(?:highest\s+or\s+(?:the\s+)?lowest|lowest\s+or\s+(?:the\s+)?highest|top\s+or\s+(?:the\s+)?bottom|bottom\s+or\s+(?:the\s+)?top)\b`)
	wasItRe    = regexp.MustCompile(`\b(?:was|is)\s+(?:that|this|it|he|she)\s+(?:the\s+)?(highest|top|best|most|lowest|bottom|worst|least)\b`)
)

// Machine decides what each turn means given the session it belongs to.
type Machine struct {
	catalog  *catalog.Catalog
	matcher  Matcher
	entities Entities
	dates    Dates
	cfg      Config
	logger   logger.Logger
}

func NewMachine(cat *catalog.Catalog, matcher Matcher, entities Entities, dates Dates, cfg Config, log logger.Logger) *Machine {
	if cfg.SwitchMargin < 0 {
		cfg.SwitchMargin = 0
	}
	if cfg.MaxCollectionAttempts <= 0 {
		cfg.MaxCollectionAttempts = 3
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 50
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	return &Machine{
		catalog:  cat,
		matcher:  matcher,
		entities: entities,
		dates:    dates,
		cfg:      cfg,
		logger:   logger.ForComponent(log, "conversation"),
	}
}

// Decide advances sess by one utterance. The session is mutated in place;
// the caller persists it. Errors are infrastructure failures only, every
// conversational outcome is a Decision.
func (m *Machine) Decide(ctx context.Context, sess *models.Session, utterance string, now time.Time) (Decision, error) {
	sess.Turn++
	sess.UpdatedAt = now
	if sess.Params == nil {
		sess.Params = make(models.ParameterSet)
	}

	text := strings.TrimSpace(utterance)
	lower := asciiLower(text)

	d, err := m.decide(ctx, sess, text, lower, now)
	if err != nil {
		return Decision{}, err
	}
	m.logger.Debug("Turn decided", map[string]interface{}{
		"conversationId": sess.ConversationID,
		"turn":           sess.Turn,
		"kind":           string(d.Kind),
		"state":          string(sess.State),
		"templateId":     d.Template.ID,
		"code":           string(d.Code),
	})
	return d, nil
}

func (m *Machine) decide(ctx context.Context, sess *models.Session, text, lower string, now time.Time) (Decision, error) {
	if resetRe.MatchString(lower) {
		sess.Reset()
		return reply(KindReset, resetReply, ""), nil
	}

	if sess.Pending != nil {
		if d, ok := m.choose(sess, text, now); ok {
			return d, nil
		}
	}

	switch {
	case greetingRe.MatchString(lower):
		return reply(KindGreeting, greetingReply, ""), nil
	case thanksRe.MatchString(lower):
		return reply(KindAck, thanksReply, ""), nil
	case byeRe.MatchString(lower):
		return reply(KindAck, goodbyeReply, ""), nil
	}

	if tableRe.MatchString(lower) {
		if sess.LastResult == nil {
			return reply(KindShowTable, noTableReply, ""), nil
		}
		return Decision{
			Action: ActionReply,
			Kind:   KindShowTable,
			Reply:  "Here is the last result:",
			Table:  sess.LastResult,
		}, nil
	}

	if asked, ok := resultQuestion(lower); ok && sess.LastResult != nil {
		if t, err := m.catalog.Get(sess.LastResult.TemplateID); err == nil {
			return reply(KindResultQuestion, resultAnswer(asked, sess.LastResult, t), ""), nil
		}
	}

	ex := m.extract(text, now)
	switch {
	case sess.TemplateID == "" && sess.LastResult == nil:
		return m.idle(ctx, sess, text, ex)
	case sess.State == models.StateCollecting || sess.LastResult == nil:
		return m.collecting(ctx, sess, text, ex)
	default:
		return m.answered(ctx, sess, text, ex)
	}
}

func reply(kind Kind, text string, code errors.ErrorCode) Decision {
	return Decision{Action: ActionReply, Kind: kind, Reply: text, Code: code}
}

func resultQuestion(lower string) (models.Direction, bool) {
	if eitherRe.MatchString(lower) {
		return "", true
	}
	if m := wasItRe.FindStringSubmatch(lower); m != nil {
		return directionWords[m[1]], true
	}
	return "", false
}

// choose settles a pending ambiguity from the user's pick. Anything else
// the reply states, such as a period, is applied as well.
func (m *Machine) choose(sess *models.Session, text string, now time.Time) (Decision, bool) {
	p := sess.Pending
	picked, ok := entity.Choose(text, p.Candidates)
	if !ok {
		return Decision{}, false
	}
	t, err := m.catalog.Get(sess.TemplateID)
	if err != nil {
		sess.Pending = nil
		return Decision{}, false
	}
	sess.Params[p.Parameter] = models.EntityValue(p.Type, picked)
	sess.Pending = nil
	sess.Attempts = 0

	ex := m.extract(text, now).without(p.Type)
	a := m.apply(t, sess.Params, ex)
	if !a.rejected() {
		t = a.template
		sess.TemplateID = t.ID
		sess.Params = a.params
		if a.pending != nil {
			sess.Pending = a.pending
			sess.State = models.StateCollecting
			return reply(KindChoice, ambiguityPrompt(a.pending), errors.ErrCodeAmbiguousEntity), true
		}
	}
	return m.proceed(sess, t, KindChoice, ex, models.StateReady), true
}

func (m *Machine) idle(ctx context.Context, sess *models.Session, text string, ex extraction) (Decision, error) {
	match, err := m.matcher.Match(ctx, text, m.cfg.TopK)
	if err != nil {
		return Decision{}, err
	}
	best, err := match.Best()
	if err != nil {
		return reply(KindClarify, noIntentPrompt(match), errors.CodeOf(err)), nil
	}
	return m.startNew(sess, best.Template, ex, nil, KindNewQuery), nil
}

// collecting fills the open template. A turn that says something the
// template cannot explain is matched afresh and may switch to a clearly
// better template.
func (m *Machine) collecting(ctx context.Context, sess *models.Session, text string, ex extraction) (Decision, error) {
	t, err := m.catalog.Get(sess.TemplateID)
	if err != nil {
		sess.Reset()
		return m.idle(ctx, sess, text, ex)
	}

	if len(ex.evidence(t)) > 0 {
		match, err := m.matcher.Match(ctx, text, m.cfg.TopK)
		if err != nil {
			return Decision{}, err
		}
		if best, err := match.Best(); err == nil && m.switches(match, best, t) {
			return m.startNew(sess, best.Template, ex, sess.Params, KindNewQuery), nil
		}
	}

	a := m.apply(t, sess.Params, ex)
	if a.rejected() {
		return reply(KindFill, a.rejection(), errors.ErrCodeUnsupportedFilter), nil
	}
	sess.TemplateID = a.template.ID
	sess.Params = a.params
	if a.pending != nil {
		sess.Pending = a.pending
		sess.Attempts = 0
		return reply(KindFill, ambiguityPrompt(a.pending), errors.ErrCodeAmbiguousEntity), nil
	}

	if a.changed {
		sess.Attempts = 0
	} else {
		sess.Attempts++
		if sess.Attempts >= m.cfg.MaxCollectionAttempts {
			sess.Reset()
			return reply(KindReset, giveUpReply, errors.ErrCodeIncompleteParameters), nil
		}
	}
	if sess.Pending != nil {
		return reply(KindFill, ambiguityPrompt(sess.Pending), errors.ErrCodeAmbiguousEntity), nil
	}
	return m.proceed(sess, a.template, KindFill, ex, models.StateReady), nil
}

// answered handles a turn after a result: a refinement of it, a new
// question, or something to clarify. The matcher is always consulted so a
// turn that fits the last answer can still be a clearly different question.
func (m *Machine) answered(ctx context.Context, sess *models.Session, text string, ex extraction) (Decision, error) {
	prev := sess.LastResult
	t, err := m.catalog.Get(prev.TemplateID)
	if err != nil {
		sess.Reset()
		return m.idle(ctx, sess, text, ex)
	}

	extracted := ex.extracted()
	a := m.apply(t, prev.Params, ex)
	refinable := extracted && len(ex.unexplained(t)) == 0 && !a.rejected()

	match, err := m.matcher.Match(ctx, text, m.cfg.TopK)
	if err != nil {
		return Decision{}, err
	}
	if best, err := match.Best(); err == nil {
		// A refinable turn moves to another template only when it also
		// names what that template reports on.
		switched := m.switches(match, best, t, a.template) && (!refinable || ex.names(subjectOf(best.Template)))
		if switched || (!refinable && (!ex.cue || a.rejected())) {
			return m.startNew(sess, best.Template, ex, prev.Params, KindNewQuery), nil
		}
	}
	if extracted || ex.cue {
		return m.refine(sess, a, ex), nil
	}
	return reply(KindClarify, noIntentPrompt(match), errors.ErrCodeNoConfidentIntent), nil
}

// switches reports whether best is a different template that beats every
// one of current by the switch margin.
func (m *Machine) switches(match intent.Match, best intent.Score, current ...models.Template) bool {
	floor := 0.0
	for _, t := range current {
		if best.Template.ID == t.ID {
			return false
		}
		if s := match.ScoreOf(t.ID); s > floor {
			floor = s
		}
	}
	return best.Score >= floor+m.cfg.SwitchMargin
}

// startNew opens template t for a new question. Filters and the period
// carry over from carry by type; ranking starts from t's defaults.
func (m *Machine) startNew(sess *models.Session, t models.Template, ex extraction, carry models.ParameterSet, kind Kind) Decision {
	params := catalog.Defaults(t)
	for _, p := range t.Parameters {
		if p.Type == models.ParamDirection || p.Type == models.ParamCount {
			continue
		}
		if v, ok := carry.OfType(p.Type); ok {
			params[p.Name] = v
		}
	}

	a := m.apply(t, params, ex)
	if a.rejected() {
		return reply(kind, a.rejection(), errors.ErrCodeUnsupportedFilter)
	}

	sess.TemplateID = a.template.ID
	sess.Params = a.params
	sess.Pending = a.pending
	sess.Attempts = 0
	sess.State = models.StateCollecting
	if a.pending != nil {
		return reply(kind, ambiguityPrompt(a.pending), errors.ErrCodeAmbiguousEntity)
	}
	return m.proceed(sess, a.template, kind, ex, models.StateReady)
}

// refine re-runs the last answer with the turn's changes applied.
func (m *Machine) refine(sess *models.Session, a applied, ex extraction) Decision {
	if a.rejected() {
		return reply(KindRefine, a.rejection(), errors.ErrCodeUnsupportedFilter)
	}
	if !a.changed && a.pending == nil {
		switch {
		case len(a.ignored) > 0:
			return reply(KindRefine, "That report isn't ranked, so I can't change its order or length.", errors.ErrCodeUnsupportedFilter)
		case len(ex.words) > 0:
			return reply(KindRefine, fmt.Sprintf("I couldn't match \"%s\" to any salesperson, state, business category, CSO or cluster.",
				strings.Join(ex.words, " ")), errors.ErrCodeEntityNotFound)
		}
		return reply(KindRefine, nothingToChangeReply, "")
	}

	sess.TemplateID = a.template.ID
	sess.Params = a.params
	sess.Attempts = 0
	if a.pending != nil {
		sess.Pending = a.pending
		sess.State = models.StateCollecting
		return reply(KindRefine, ambiguityPrompt(a.pending), errors.ErrCodeAmbiguousEntity)
	}
	return m.proceed(sess, a.template, KindRefine, ex, models.StateRefining)
}

// proceed executes t when every parameter is bound and otherwise asks for
// what is missing.
func (m *Machine) proceed(sess *models.Session, t models.Template, kind Kind, ex extraction, ready models.State) Decision {
	missing := sess.Params.Missing(t)
	if len(missing) == 0 {
		sess.State = ready
		return Decision{Action: ActionExecute, Kind: kind, Template: t, Params: sess.Params.Clone()}
	}
	sess.State = models.StateCollecting

	needsDate := false
	for _, p := range missing {
		if p.Type == models.ParamDateRange {
			needsDate = true
		}
	}
	switch {
	case needsDate && ex.dateish:
		return reply(kind, errors.UserMessage(errors.ErrCodeUnparseableDate), errors.ErrCodeUnparseableDate)
	case len(missing) == 1 && missing[0].Type.IsEntity() && len(ex.words) > 0 && len(ex.words) <= 3:
		return reply(kind, notFoundPrompt(strings.Join(ex.words, " "), missing[0].Type), errors.ErrCodeEntityNotFound)
	}
	return reply(kind, missingPrompt(missing), "")
}

// Complete records a successful execution on the session.
func (m *Machine) Complete(sess *models.Session, t models.Template, params models.ParameterSet, result models.QueryResult, now time.Time) {
	sess.LastResult = result.Summarize(t, params, m.cfg.MaxRows, now)
	sess.TemplateID = t.ID
	sess.Params = params.Clone()
	sess.State = models.StateAnswered
	sess.Pending = nil
	sess.Attempts = 0
	sess.UpdatedAt = now
}

// Fail returns the session to collecting after a failed execution so the
// user can retry or change the question. Bound parameters are kept.
func (m *Machine) Fail(sess *models.Session) {
	sess.State = models.StateCollecting
}

// applied is the result of applying one turn's extraction to a template.
// unsupported and channel record what no template in reach can take.
type applied struct {
	template    models.Template
	params      models.ParameterSet
	changed     bool
	pending     *models.PendingChoice
	unsupported []models.ParamType
	channel     models.Channel
	ignored     []models.ParamType
}

func (a applied) rejected() bool {
	return len(a.unsupported) > 0 || a.channel != ""
}

func (a applied) rejection() string {
	if len(a.unsupported) > 0 {
		return unsupportedPrompt(a.unsupported)
	}
	return channelPrompt(a.channel)
}

// apply binds the extraction onto t and params without touching the
// session. Entity filters t cannot take upgrade it to a template that can,
// and a sales channel moves it to the variant over that channel; ranking
// values t cannot take are ignored.
func (m *Machine) apply(t models.Template, params models.ParameterSet, ex extraction) applied {
	out := applied{template: t, params: params.Clone()}

	var need []models.ParamType
	for _, pt := range ex.entityTypes() {
		if !t.Accepts(pt) {
			need = append(need, pt)
		}
	}
	if len(need) > 0 {
		var ranking []models.ParamType
		for _, pt := range ex.rankingTypes() {
			if !t.Accepts(pt) {
				ranking = append(ranking, pt)
			}
		}
		up, ok := m.catalog.Upgrade(t, append(append([]models.ParamType(nil), need...), ranking...))
		if !ok {
			up, ok = m.catalog.Upgrade(t, need)
		}
		if !ok {
			out.unsupported = need
			return out
		}
		out.template = up
		out.params = params.Retain(up)
		for name, v := range catalog.Defaults(up) {
			if _, set := out.params[name]; !set {
				out.params[name] = v
			}
		}
		out.changed = true
	}
	t = out.template

	if ex.channel != "" && ex.channel != t.Channel {
		v, ok := m.catalog.Variant(t, ex.channel)
		if !ok {
			out.channel = ex.channel
			return out
		}
		out.template = v
		out.params = out.params.Retain(v)
		out.changed = true
		t = v
	}

	set := func(pt models.ParamType, v models.Value) {
		p, ok := t.ParameterOfType(pt)
		if !ok {
			out.ignored = append(out.ignored, pt)
			return
		}
		if cur, ok := out.params[p.Name]; !ok || !cur.Equal(v) {
			out.params[p.Name] = v
			out.changed = true
		}
	}

	if ex.hasDate {
		set(models.ParamDateRange, models.RangeValue(ex.dateRange))
	}
	dir := ex.direction
	if ex.reverse && dir == "" {
		cur := models.Descending
		if v, ok := out.params.OfType(models.ParamDirection); ok {
			cur = v.Direction
		}
		dir = cur.Reverse()
	}
	if dir != "" {
		set(models.ParamDirection, models.DirectionValue(dir))
	}
	if ex.count > 0 {
		set(models.ParamCount, models.CountValue(ex.count))
	}

	for _, f := range ex.entities {
		p, ok := t.ParameterOfType(f.Type)
		if !ok {
			continue
		}
		switch f.Resolution.Status {
		case entity.Resolved:
			set(f.Type, models.EntityValue(f.Type, f.Resolution.Entity))
		case entity.Ambiguous:
			delete(out.params, p.Name)
			out.changed = true
			if out.pending == nil {
				out.pending = &models.PendingChoice{
					Parameter:  p.Name,
					Type:       f.Type,
					Mention:    f.Resolution.Mention,
					Candidates: f.Resolution.Candidates,
				}
			}
		}
	}

	if ex.allCategories {
		if all := m.entities.All(models.ParamCategory); len(all) > 0 {
			set(models.ParamCategory, models.EntityValue(models.ParamCategory, all...))
		}
	}
	return out
}
