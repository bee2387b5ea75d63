// Package orchestrator runs one conversation turn end to end: it loads the
// session, lets the state machine decide, executes the chosen template and
// formats the answer.
package orchestrator

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sales-assistant/internal/catalog"
	"sales-assistant/internal/common/errors"
	"sales-assistant/internal/common/logger"
	"sales-assistant/internal/common/metrics"
	"sales-assistant/internal/common/observability"
	"sales-assistant/internal/conversation"
	"sales-assistant/internal/format"
	"sales-assistant/internal/models"
)

var ErrEmptyConversationID = stderrors.New("conversation id is empty")

// Executor runs a fully bound template.
type Executor interface {
	Execute(ctx context.Context, t models.Template, params models.ParameterSet) (models.QueryResult, error)
}

// Config holds the turn policy.
type Config struct {
	RetryBackoff time.Duration
	IdleTimeout  time.Duration
	Format       format.Rules
}

// Response is what a transport sends back for one turn.
type Response struct {
	TurnID     string           `json:"turnId"`
	Text       string           `json:"text"`
	Table      *format.Table    `json:"table,omitempty"`
	State      models.State     `json:"state"`
	TemplateID string           `json:"templateId,omitempty"`
	Code       errors.ErrorCode `json:"code,omitempty"`
}

type Orchestrator struct {
	catalog  *catalog.Catalog
	machine  *conversation.Machine
	executor Executor
	store    conversation.Store
	errs     *errors.Handler
	obs      *observability.Observability
	cfg      Config
	logger   logger.Logger
	locks    *keyedMutex
}

func New(cat *catalog.Catalog, machine *conversation.Machine, executor Executor, store conversation.Store,
	obs *observability.Observability, cfg Config, log logger.Logger) *Orchestrator {
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if cfg.Format.MaxListRows <= 0 {
		cfg.Format = format.DefaultRules
	}
	log = logger.ForComponent(log, "orchestrator")
	return &Orchestrator{
		catalog:  cat,
		machine:  machine,
		executor: executor,
		store:    store,
		errs:     errors.NewHandler(log),
		obs:      obs,
		cfg:      cfg,
		logger:   log,
		locks:    newKeyedMutex(),
	}
}

// ProcessTurn handles one utterance of a conversation. Turns of the same
// conversation run one at a time. The returned Response always carries
// text fit for the user; a non-nil error additionally reports an
// infrastructure failure (session store or embedding backend).
func (o *Orchestrator) ProcessTurn(ctx context.Context, conversationID, utterance string, at time.Time) (Response, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Response{Text: errors.UserMessage(errors.ErrCodeInternal)}, ErrEmptyConversationID
	}
	if at.IsZero() {
		at = time.Now()
	}

	start := time.Now()
	turnID := uuid.NewString()
	ctx, span := o.obs.StartSpan(ctx, "assistant.turn",
		attribute.String("conversation.id", conversationID),
		attribute.String("turn.id", turnID),
	)
	defer span.End()

	unlock := o.locks.Lock(conversationID)
	defer unlock()

	fields := map[string]interface{}{
		"conversationId": conversationID,
		"turnId":         turnID,
	}

	sess, err := o.store.Get(ctx, conversationID)
	if err != nil {
		return o.failTurn(ctx, span, turnID, models.StateIdle, start, err, fields)
	}
	if sess == nil || sess.IsExpired(at, o.cfg.IdleTimeout) {
		sess = models.NewSession(conversationID, at)
	}

	decision, err := o.machine.Decide(ctx, sess, utterance, at)
	if err != nil {
		return o.failTurn(ctx, span, turnID, sess.State, start, err, fields)
	}

	var resp Response
	switch decision.Action {
	case conversation.ActionExecute:
		resp = o.execute(ctx, sess, decision, at, fields)
	default:
		resp = Response{Text: decision.Reply, Code: decision.Code}
		if decision.Table != nil {
			resp.Table = o.renderSummary(decision.Table)
		}
	}
	resp.TurnID = turnID
	resp.State = sess.State
	resp.TemplateID = sess.TemplateID

	if err := o.store.Save(ctx, sess); err != nil {
		return o.failTurn(ctx, span, turnID, sess.State, start, err, fields)
	}

	outcome := string(decision.Kind)
	if resp.Code != "" {
		outcome = string(resp.Code)
	}
	o.recordTurn(ctx, time.Since(start), sess.State, outcome)
	span.SetAttributes(
		attribute.String("turn.kind", string(decision.Kind)),
		attribute.String("session.state", string(sess.State)),
	)
	o.logger.Info("Turn processed", map[string]interface{}{
		"conversationId": conversationID,
		"turnId":         turnID,
		"turn":           sess.Turn,
		"kind":           string(decision.Kind),
		"state":          string(sess.State),
		"templateId":     sess.TemplateID,
		"code":           string(resp.Code),
		"durationMs":     time.Since(start).Milliseconds(),
	})
	return resp, nil
}

// Reset forgets a conversation.
func (o *Orchestrator) Reset(ctx context.Context, conversationID string) error {
	unlock := o.locks.Lock(conversationID)
	defer unlock()
	return o.store.Delete(ctx, conversationID)
}

// execute runs the decided template, retrying once after a timeout, and
// records the outcome on the session.
func (o *Orchestrator) execute(ctx context.Context, sess *models.Session, d conversation.Decision, at time.Time, fields map[string]interface{}) Response {
	if missing := d.Params.Missing(d.Template); len(missing) > 0 {
		o.machine.Fail(sess)
		o.logger.Error("Refusing to execute with missing parameters", map[string]interface{}{
			"templateId": d.Template.ID,
			"missing":    len(missing),
		})
		return Response{
			Text: errors.UserMessage(errors.ErrCodeIncompleteParameters),
			Code: errors.ErrCodeIncompleteParameters,
		}
	}

	ctx, span := o.obs.StartSpan(ctx, "assistant.execute", attribute.String("template.id", d.Template.ID))
	defer span.End()

	start := time.Now()
	result, err := o.executor.Execute(ctx, d.Template, d.Params)
	if err != nil && errors.CodeOf(err) == errors.ErrCodeExecutionTimeout {
		o.logger.Warn("Template execution timed out, retrying", map[string]interface{}{
			"templateId": d.Template.ID,
			"backoffMs":  o.cfg.RetryBackoff.Milliseconds(),
		})
		timer := time.NewTimer(o.cfg.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
			result, err = o.executor.Execute(ctx, d.Template, d.Params)
		}
	}

	status := "ok"
	if err != nil {
		status = string(errors.CodeOf(err))
	}
	o.obs.RecordExecution(ctx, time.Since(start), d.Template.ID, status)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		o.machine.Fail(sess)
		logFields := map[string]interface{}{"templateId": d.Template.ID}
		for k, v := range fields {
			logFields[k] = v
		}
		stdErr, msg := o.errs.Handle(ctx, err, logFields)
		return Response{Text: msg, Code: stdErr.Code}
	}

	o.machine.Complete(sess, d.Template, d.Params, result, at)
	out := format.Format(result, d.Template, d.Params, o.cfg.Format)
	return Response{Text: out.Text, Table: out.Table}
}

func (o *Orchestrator) renderSummary(s *models.ResultSummary) *format.Table {
	t, err := o.catalog.Get(s.TemplateID)
	if err != nil {
		t = models.Template{ID: s.TemplateID}
	}
	return format.Render(s.Columns, s.Rows, t)
}

func (o *Orchestrator) failTurn(ctx context.Context, span trace.Span, turnID string, state models.State, start time.Time, err error, fields map[string]interface{}) (Response, error) {
	stdErr, msg := o.errs.Handle(ctx, err, fields)
	span.RecordError(err)
	o.recordTurn(ctx, time.Since(start), state, string(stdErr.Code))
	return Response{TurnID: turnID, Text: msg, State: state, Code: stdErr.Code}, err
}

func (o *Orchestrator) recordTurn(ctx context.Context, d time.Duration, state models.State, outcome string) {
	metrics.TurnsProcessed.WithLabelValues(string(state), outcome).Inc()
	metrics.TurnDuration.WithLabelValues(outcome).Observe(d.Seconds())
	o.obs.RecordTurn(ctx, d, string(state), outcome)
}
