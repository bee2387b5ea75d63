package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sales-assistant/internal/catalog"
	"sales-assistant/internal/common/errors"
	"sales-assistant/internal/common/logger"
	"sales-assistant/internal/dates"
	"sales-assistant/internal/embedding"
	"sales-assistant/internal/entity"
	"sales-assistant/internal/intent"
	"sales-assistant/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

var testNow = time.Date(2026, 10, 18, 11, 30, 0, 0, time.FixedZone("IST", 5*3600+1800))

func testReferenceData() entity.StaticSource {
	return entity.StaticSource{
		models.ParamCategory: {
			{ID: "FMEG", Name: "FMEG", Aliases: []string{"fast moving electrical goods", "fast moving"}},
			{ID: "WC", Name: "Wires & Cables", Aliases: []string{"wires", "cables"}},
			{ID: "WDS", Name: "Wiring Devices & Switchgear", Aliases: []string{"switchgear", "switches"}},
		},
		models.ParamRegion: {
			{ID: "MH", Name: "Maharashtra"},
			{ID: "UP", Name: "Uttar Pradesh"},
			{ID: "TN", Name: "Tamil Nadu"},
			{ID: "KA", Name: "Karnataka"},
			{ID: "KL", Name: "Kerala"},
		},
		models.ParamSalesperson: {
			{ID: "S001", Name: "Ramesh Kumar"},
			{ID: "S002", Name: "Ramesh Shah"},
			{ID: "S003", Name: "Priya Sharma"},
			{ID: "S004", Name: "Anil Mehta"},
		},
		models.ParamCSO: {
			{ID: "DCBH01", Name: "Deepak Chauhan"},
			{ID: "MHCS02", Name: "Sunita Rao"},
		},
		models.ParamCluster: {
			{ID: "RJC01", Name: "Jaipur North"},
			{ID: "MHC05", Name: "Pune West"},
		},
	}
}

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	ctx := context.Background()
	log := logger.NewTestLogger(t)

	cat, err := catalog.Default()
	require.NoError(t, err)
	matcher, err := intent.NewMatcher(ctx, cat, embedding.NewHashingEmbedder(0),
		intent.Config{AcceptanceThreshold: 0.55, TopK: 3}, log)
	require.NoError(t, err)

	resolver := entity.NewResolver(testReferenceData(), entity.Config{MinSimilarity: 0.75, TieMargin: 0.05}, log)
	require.NoError(t, resolver.Refresh(ctx))

	dr, err := dates.NewResolver(4, "Asia/Kolkata")
	require.NoError(t, err)

	return NewMachine(cat, matcher, resolver, dr, Config{SwitchMargin: 0.10, MaxCollectionAttempts: 3, MaxRows: 50}, log)
}

func say(t *testing.T, m *Machine, sess *models.Session, utterance string) Decision {
	t.Helper()
	d, err := m.Decide(context.Background(), sess, utterance, testNow)
	require.NoError(t, err)
	return d
}

// answer completes an execute decision with rows shaped like the
// template's columns.
func answer(t *testing.T, m *Machine, sess *models.Session, d Decision, rows ...models.Row) {
	t.Helper()
	require.Equal(t, ActionExecute, d.Action, "expected an execute decision, got reply %q", d.Reply)
	columns := make([]string, len(d.Template.Columns))
	for i, c := range d.Template.Columns {
		columns[i] = c.Name
	}
	if rows == nil {
		rows = []models.Row{}
	}
	m.Complete(sess, d.Template, d.Params, models.QueryResult{Columns: columns, Rows: rows}, testNow)
}

func period(t *testing.T, d Decision) string {
	t.Helper()
	v, ok := d.Params.OfType(models.ParamDateRange)
	require.True(t, ok, "no period bound")
	return v.Range.Display()
}

func ranking(t *testing.T, d Decision) (models.Direction, int) {
	t.Helper()
	dir, ok := d.Params.OfType(models.ParamDirection)
	require.True(t, ok, "no direction bound")
	n, ok := d.Params.OfType(models.ParamCount)
	require.True(t, ok, "no count bound")
	return dir.Direction, n.Count
}

// ==========================
// Multi-turn conversations
// ==========================

func TestDecide_FollowUpConversation(t *testing.T) {
	m := newTestMachine(t)
	sess := models.NewSession("conv-1", testNow)

	d := say(t, m, sess, "Who is the top salesperson this month?")
	require.Equal(t, ActionExecute, d.Action)
	assert.Equal(t, KindNewQuery, d.Kind)
	assert.Equal(t, "top_salesperson_period", d.Template.ID)
	assert.Equal(t, "1 Oct 2026 to 31 Oct 2026", period(t, d))
	dir, n := ranking(t, d)
	assert.Equal(t, models.Descending, dir)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.StateReady, sess.State)
	answer(t, m, sess, d, models.Row{"salesperson": "Ramesh Kumar", "total_sales": 264450000.0})
	assert.Equal(t, models.StateAnswered, sess.State)

	d = say(t, m, sess, "What about for FMEG category?")
	require.Equal(t, ActionExecute, d.Action)
	assert.Equal(t, KindRefine, d.Kind)
	assert.Equal(t, "salesperson_by_category", d.Template.ID)
	assert.Equal(t, []string{"FMEG"}, d.Params["category"].IDs())
	assert.Equal(t, "1 Oct 2026 to 31 Oct 2026", period(t, d))
	assert.Equal(t, models.StateRefining, sess.State)
	answer(t, m, sess, d, models.Row{"salesperson": "Priya Sharma", "total_sales": 5500000.0})

	d = say(t, m, sess, "Show bottom 5")
	require.Equal(t, ActionExecute, d.Action)
	assert.Equal(t, "salesperson_by_category", d.Template.ID)
	dir, n = ranking(t, d)
	assert.Equal(t, models.Ascending, dir)
	assert.Equal(t, 5, n)
	assert.Equal(t, []string{"FMEG"}, d.Params["category"].IDs())
	answer(t, m, sess, d,
		models.Row{"salesperson": "Anil Mehta", "total_sales": 85000.0},
		models.Row{"salesperson": "Priya Sharma", "total_sales": 550000.0})

	d = say(t, m, sess, "How much did Ramesh sell last month?")
	assert.Equal(t, ActionReply, d.Action)
	assert.Equal(t, errors.ErrCodeAmbiguousEntity, d.Code)
	assert.Equal(t, "\"Ramesh\" matches more than one salesperson. Which one did you mean?\n1. Ramesh Kumar\n2. Ramesh Shah", d.Reply)
	assert.Equal(t, models.StateCollecting, sess.State)
	assert.Equal(t, "salesperson_total_sales", sess.TemplateID)
	require.NotNil(t, sess.Pending)
	assert.Len(t, sess.Pending.Candidates, 2)

	d = say(t, m, sess, "2")
	require.Equal(t, ActionExecute, d.Action)
	assert.Equal(t, KindChoice, d.Kind)
	assert.Equal(t, "salesperson_total_sales", d.Template.ID)
	assert.Equal(t, []string{"S002"}, d.Params["salesperson"].IDs())
	assert.Equal(t, "1 Sep 2026 to 30 Sep 2026", period(t, d))
	assert.Nil(t, sess.Pending)
	answer(t, m, sess, d, models.Row{"salesperson": "Ramesh Shah", "total_sales": 1234567.0, "invoices": int64(42)})

	d = say(t, m, sess, "state wise sales last quarter")
	require.Equal(t, ActionExecute, d.Action)
	assert.Equal(t, KindNewQuery, d.Kind)
	assert.Equal(t, "region_performance", d.Template.ID)
	assert.Equal(t, "1 Jul 2026 to 30 Sep 2026", period(t, d))
	dir, n = ranking(t, d)
	assert.Equal(t, models.Descending, dir)
	assert.Equal(t, 1, n)
	_, hasCategory := d.Params.OfType(models.ParamCategory)
	assert.False(t, hasCategory)
}

func TestDecide_CollectingFillsAndUpgrades(t *testing.T) {
	m := newTestMachine(t)
	sess := models.NewSession("conv-2", testNow)

	d := say(t, m, sess, "top salesperson")
	assert.Equal(t, ActionReply, d.Action)
	assert.Equal(t, models.StateCollecting, sess.State)
	assert.Equal(t, "top_salesperson_period", sess.TemplateID)
	assert.Contains(t, d.Reply, "For which time period?")

	d = say(t, m, sess, "for FMEG")
	assert.Equal(t, ActionReply, d.Action)
	assert.Equal(t, models.StateCollecting, sess.State)
	assert.Equal(t, "salesperson_by_category", sess.TemplateID)
	assert.Equal(t, []string{"FMEG"}, sess.Params["category"].IDs())
	assert.Contains(t, d.Reply, "For which time period?")

	d = say(t, m, sess, "last month")
	require.Equal(t, ActionExecute, d.Action)
	assert.Equal(t, KindFill, d.Kind)
	assert.Equal(t, "salesperson_by_category", d.Template.ID)
	assert.Equal(t, "1 Sep 2026 to 30 Sep 2026", period(t, d))
	assert.Equal(t, []string{"FMEG"}, d.Params["category"].IDs())
}

func TestDecide_GivesUpAfterRepeatedAttempts(t *testing.T) {
	m := newTestMachine(t)
	sess := models.NewSession("conv-3", testNow)

	say(t, m, sess, "top salesperson")
	require.Equal(t, models.StateCollecting, sess.State)

	d := say(t, m, sess, "hmm")
	assert.Equal(t, 1, sess.Attempts)
	assert.Contains(t, d.Reply, "For which time period?")

	say(t, m, sess, "hmm")
	assert.Equal(t, 2, sess.Attempts)

	d = say(t, m, sess, "hmm")
	assert.Equal(t, KindReset, d.Kind)
	assert.Equal(t, giveUpReply, d.Reply)
	assert.Equal(t, models.StateIdle, sess.State)
	assert.Empty(t, sess.TemplateID)
}

func TestDecide_PendingChoiceSurvivesUnrelatedReply(t *testing.T) {
	m := newTestMachine(t)
	sess := models.NewSession("conv-4", testNow)

	d := say(t, m, sess, "how much did Ramesh sell last month")
	require.Equal(t, errors.ErrCodeAmbiguousEntity, d.Code)

	d = say(t, m, sess, "hmm")
	assert.Equal(t, errors.ErrCodeAmbiguousEntity, d.Code)
	assert.Contains(t, d.Reply, "1. Ramesh Kumar")
	require.NotNil(t, sess.Pending)

	d = say(t, m, sess, "Ramesh Kumar")
	require.Equal(t, ActionExecute, d.Action)
	assert.Equal(t, []string{"S001"}, d.Params["salesperson"].IDs())
}

func TestDecide_PendingChoiceYieldsToNewQuestion(t *testing.T) {
	tests := []struct {
		name      string
		utterance string
		template  string
		period    string
	}{
		{"ranking question", "Who is the top salesperson last month?", "top_salesperson_period", "1 Sep 2026 to 30 Sep 2026"},
		{"different subject", "state wise sales last quarter", "region_performance", "1 Jul 2026 to 30 Sep 2026"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(t)
			sess := models.NewSession("conv-pending", testNow)

			d := say(t, m, sess, "How much did Ramesh sell?")
			require.Equal(t, errors.ErrCodeAmbiguousEntity, d.Code)
			require.NotNil(t, sess.Pending)

			d = say(t, m, sess, tt.utterance)
			require.Equal(t, ActionExecute, d.Action, "reply: %q", d.Reply)
			assert.Equal(t, KindNewQuery, d.Kind)
			assert.Equal(t, tt.template, d.Template.ID)
			assert.Equal(t, tt.period, period(t, d))
			_, bound := d.Params.OfType(models.ParamSalesperson)
			assert.False(t, bound)
			assert.Nil(t, sess.Pending)
		})
	}
}

func TestDecide_PendingChoiceIgnoresPositionInQuestion(t *testing.T) {
	m := newTestMachine(t)
	sess := models.NewSession("conv-pending", testNow)

	say(t, m, sess, "How much did Ramesh sell?")
	require.NotNil(t, sess.Pending)

	d := say(t, m, sess, "show me the top 2 states last quarter")
	assert.NotEqual(t, KindChoice, d.Kind)
	_, bound := sess.Params.OfType(models.ParamSalesperson)
	assert.False(t, bound)
}

func TestDecide_PickKeepsPeriodFromSameReply(t *testing.T) {
	m := newTestMachine(t)
	sess := models.NewSession("conv-pick", testNow)

	d := say(t, m, sess, "How much did Ramesh sell?")
	require.Equal(t, errors.ErrCodeAmbiguousEntity, d.Code)

	d = say(t, m, sess, "Ramesh Shah last month")
	require.Equal(t, ActionExecute, d.Action, "reply: %q", d.Reply)
	assert.Equal(t, KindChoice, d.Kind)
	assert.Equal(t, "salesperson_total_sales", d.Template.ID)
	assert.Equal(t, []string{"S002"}, d.Params["salesperson"].IDs())
	assert.Equal(t, "1 Sep 2026 to 30 Sep 2026", period(t, d))
	assert.Nil(t, sess.Pending)
}

func TestDecide_AnsweredSwitchesOnClearlyBetterTemplate(t *testing.T) {
	m := newTestMachine(t)
	sess := models.NewSession("conv-switch", testNow)

	d := say(t, m, sess, "Who is the top salesperson in FMEG this month?")
	require.Equal(t, ActionExecute, d.Action, "reply: %q", d.Reply)
	require.Equal(t, "salesperson_by_category", d.Template.ID)
	answer(t, m, sess, d, models.Row{"salesperson": "Priya Sharma", "total_sales": 5500000.0})

	d = say(t, m, sess, "Which category sold the most last month?")
	require.Equal(t, ActionExecute, d.Action, "reply: %q", d.Reply)
	assert.Equal(t, KindNewQuery, d.Kind)
	assert.Equal(t, "category_performance", d.Template.ID)
	assert.Equal(t, "1 Sep 2026 to 30 Sep 2026", period(t, d))
	_, hasCategory := d.Params.OfType(models.ParamCategory)
	assert.False(t, hasCategory)
	dir, n := ranking(t, d)
	assert.Equal(t, models.Descending, dir)
	assert.Equal(t, 1, n)
}

func TestDecide_Refinements(t *testing.T) {
	tests := []struct {
		name      string
		utterance string
		check     func(t *testing.T, d Decision)
	}{
		{
			name:      "reverse order",
			utterance: "reverse that",
			check: func(t *testing.T, d Decision) {
				dir, n := ranking(t, d)
				assert.Equal(t, models.Ascending, dir)
				assert.Equal(t, 1, n)
			},
		},
		{
			name:      "new period",
			utterance: "same for last quarter",
			check: func(t *testing.T, d Decision) {
				assert.Equal(t, "top_salesperson_period", d.Template.ID)
				assert.Equal(t, "1 Jul 2026 to 30 Sep 2026", period(t, d))
			},
		},
		{
			name:      "all categories",
			utterance: "same for all categories",
			check: func(t *testing.T, d Decision) {
				assert.Equal(t, "salesperson_by_category", d.Template.ID)
				assert.ElementsMatch(t, []string{"FMEG", "WC", "WDS"}, d.Params["category"].IDs())
			},
		},
		{
			name:      "top n with region",
			utterance: "top 3 in Maharashtra",
			check: func(t *testing.T, d Decision) {
				assert.Equal(t, "salesperson_by_region", d.Template.ID)
				assert.Equal(t, []string{"MH"}, d.Params["region"].IDs())
				dir, n := ranking(t, d)
				assert.Equal(t, models.Descending, dir)
				assert.Equal(t, 3, n)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(t)
			sess := models.NewSession("conv-refine", testNow)
			answer(t, m, sess, say(t, m, sess, "top salesperson this month"),
				models.Row{"salesperson": "Ramesh Kumar", "total_sales": 264450000.0})

			d := say(t, m, sess, tt.utterance)
			require.Equal(t, ActionExecute, d.Action, "reply: %q", d.Reply)
			tt.check(t, d)
		})
	}
}

func TestDecide_RefinementOutsideTemplate(t *testing.T) {
	m := newTestMachine(t)
	sess := models.NewSession("conv-5", testNow)

	d := say(t, m, sess, "what were total sales last month")
	require.Equal(t, "total_sales_period", d.Template.ID)
	answer(t, m, sess, d, models.Row{"total_sales": 123456789.0, "invoices": int64(1520)})

	d = say(t, m, sess, "what about in Maharashtra")
	assert.Equal(t, ActionReply, d.Action)
	assert.Equal(t, errors.ErrCodeUnsupportedFilter, d.Code)
	assert.Equal(t, "That report can't be filtered by state.", d.Reply)
	assert.Equal(t, models.StateAnswered, sess.State)

	d = say(t, m, sess, "show bottom 5")
	assert.Equal(t, errors.ErrCodeUnsupportedFilter, d.Code)
	assert.Equal(t, models.StateAnswered, sess.State)
}

func TestDecide_ChannelVariants(t *testing.T) {
	m := newTestMachine(t)
	sess := models.NewSession("conv-channel", testNow)

	d := say(t, m, sess, "domestic sales by product segment this month")
	require.Equal(t, ActionExecute, d.Action, "reply: %q", d.Reply)
	assert.Equal(t, "product_segment_domestic", d.Template.ID)
	answer(t, m, sess, d, models.Row{"segment": "Fans", "total_sales": 900000.0})

	d = say(t, m, sess, "what about export?")
	require.Equal(t, ActionExecute, d.Action, "reply: %q", d.Reply)
	assert.Equal(t, KindRefine, d.Kind)
	assert.Equal(t, "product_segment_export", d.Template.ID)
	assert.Equal(t, "1 Oct 2026 to 31 Oct 2026", period(t, d))
	answer(t, m, sess, d, models.Row{"segment": "Fans", "total_sales": 100000.0})

	d = say(t, m, sess, "for FMEG")
	require.Equal(t, ActionExecute, d.Action, "reply: %q", d.Reply)
	assert.Equal(t, "product_segment_export_by_category", d.Template.ID)
	assert.Equal(t, []string{"FMEG"}, d.Params["category"].IDs())
	answer(t, m, sess, d, models.Row{"segment": "Fans", "total_sales": 100000.0})

	d = say(t, m, sess, "domestic")
	require.Equal(t, ActionExecute, d.Action, "reply: %q", d.Reply)
	assert.Equal(t, "product_segment_domestic_by_category", d.Template.ID)
	assert.Equal(t, []string{"FMEG"}, d.Params["category"].IDs())
}

func TestDecide_ExportKeepsRankingFilters(t *testing.T) {
	m := newTestMachine(t)
	sess := models.NewSession("conv-export", testNow)

	d := say(t, m, sess, "Who is the top salesperson in FMEG this month?")
	require.Equal(t, "salesperson_by_category", d.Template.ID)
	answer(t, m, sess, d, models.Row{"salesperson": "Priya Sharma", "total_sales": 5500000.0})

	d = say(t, m, sess, "what about export?")
	require.Equal(t, ActionExecute, d.Action, "reply: %q", d.Reply)
	assert.Equal(t, KindRefine, d.Kind)
	assert.Equal(t, "export_salesperson_by_category", d.Template.ID)
	assert.Equal(t, []string{"FMEG"}, d.Params["category"].IDs())
	dir, n := ranking(t, d)
	assert.Equal(t, models.Descending, dir)
	assert.Equal(t, 1, n)
}

func TestDecide_ChannelWithoutVariant(t *testing.T) {
	m := newTestMachine(t)
	sess := models.NewSession("conv-no-variant", testNow)
	answer(t, m, sess, say(t, m, sess, "top salesperson this month"),
		models.Row{"salesperson": "Ramesh Kumar", "total_sales": 264450000.0})

	d := say(t, m, sess, "what about domestic?")
	assert.Equal(t, ActionReply, d.Action)
	assert.Equal(t, errors.ErrCodeUnsupportedFilter, d.Code)
	assert.Equal(t, "That report can't be limited to domestic sales.", d.Reply)
	assert.Equal(t, models.StateAnswered, sess.State)
	assert.Equal(t, "top_salesperson_period", sess.TemplateID)
}

func TestDecide_CSOAndClusterFilters(t *testing.T) {
	m := newTestMachine(t)
	sess := models.NewSession("conv-cso", testNow)

	d := say(t, m, sess, "top 3 salespeople under CSO DCBH01 this month")
	require.Equal(t, ActionExecute, d.Action, "reply: %q", d.Reply)
	assert.Equal(t, "salesperson_by_cso", d.Template.ID)
	assert.Equal(t, []string{"DCBH01"}, d.Params["cso"].IDs())
	_, n := ranking(t, d)
	assert.Equal(t, 3, n)
	answer(t, m, sess, d, models.Row{"salesperson": "Anil Mehta", "total_sales": 85000.0})

	d = say(t, m, sess, "for FMEG")
	require.Equal(t, ActionExecute, d.Action, "reply: %q", d.Reply)
	assert.Equal(t, "salesperson_by_cso_category", d.Template.ID)
	assert.Equal(t, []string{"DCBH01"}, d.Params["cso"].IDs())
	answer(t, m, sess, d, models.Row{"salesperson": "Anil Mehta", "total_sales": 85000.0})

	d = say(t, m, sess, "what about export?")
	require.Equal(t, ActionExecute, d.Action, "reply: %q", d.Reply)
	assert.Equal(t, "salesperson_by_cso_category_export", d.Template.ID)
	assert.Equal(t, []string{"FMEG"}, d.Params["category"].IDs())
	_, n = ranking(t, d)
	assert.Equal(t, 3, n)

	sess = models.NewSession("conv-cluster", testNow)
	d = say(t, m, sess, "top salesperson in cluster RJC01 last month")
	require.Equal(t, ActionExecute, d.Action, "reply: %q", d.Reply)
	assert.Equal(t, "salesperson_by_cluster", d.Template.ID)
	assert.Equal(t, []string{"RJC01"}, d.Params["cluster"].IDs())
	assert.Equal(t, "1 Sep 2026 to 30 Sep 2026", period(t, d))
}

// ==========================
// Single-turn replies
// ==========================

func TestDecide_SmallTalkLeavesStateAlone(t *testing.T) {
	tests := []struct {
		utterance string
		kind      Kind
		reply     string
	}{
		{"hello", KindGreeting, greetingReply},
		{"Good morning!", KindGreeting, greetingReply},
		{"thanks", KindAck, thanksReply},
		{"thank you so much", KindAck, thanksReply},
		{"bye", KindAck, goodbyeReply},
	}

	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			m := newTestMachine(t)
			sess := models.NewSession("conv-talk", testNow)
			say(t, m, sess, "top salesperson")
			require.Equal(t, models.StateCollecting, sess.State)

			d := say(t, m, sess, tt.utterance)
			assert.Equal(t, ActionReply, d.Action)
			assert.Equal(t, tt.kind, d.Kind)
			assert.Equal(t, tt.reply, d.Reply)
			assert.Equal(t, models.StateCollecting, sess.State)
			assert.Equal(t, "top_salesperson_period", sess.TemplateID)
		})
	}
}

func TestDecide_NoConfidentIntent(t *testing.T) {
	m := newTestMachine(t)
	sess := models.NewSession("conv-6", testNow)

	d := say(t, m, sess, "what is the weather today")
	assert.Equal(t, ActionReply, d.Action)
	assert.Equal(t, KindClarify, d.Kind)
	assert.Equal(t, errors.ErrCodeNoConfidentIntent, d.Code)
	assert.Contains(t, d.Reply, errors.UserMessage(errors.ErrCodeNoConfidentIntent))
	assert.Equal(t, models.StateIdle, sess.State)
	assert.Equal(t, 1, sess.Turn)
}

func TestDecide_UnparseableDate(t *testing.T) {
	m := newTestMachine(t)
	sess := models.NewSession("conv-7", testNow)

	d := say(t, m, sess, "top salesperson this fortnight")
	assert.Equal(t, ActionReply, d.Action)
	assert.Equal(t, errors.ErrCodeUnparseableDate, d.Code)
	assert.Equal(t, errors.UserMessage(errors.ErrCodeUnparseableDate), d.Reply)
	assert.Equal(t, models.StateCollecting, sess.State)
}

func TestDecide_ShowTable(t *testing.T) {
	m := newTestMachine(t)
	sess := models.NewSession("conv-8", testNow)

	d := say(t, m, sess, "show it as a table")
	assert.Equal(t, KindShowTable, d.Kind)
	assert.Equal(t, noTableReply, d.Reply)
	assert.Nil(t, d.Table)

	answer(t, m, sess, say(t, m, sess, "top salesperson this month"),
		models.Row{"salesperson": "Ramesh Kumar", "total_sales": 264450000.0})

	d = say(t, m, sess, "show me the table")
	assert.Equal(t, KindShowTable, d.Kind)
	require.NotNil(t, d.Table)
	assert.Equal(t, "top_salesperson_period", d.Table.TemplateID)
	assert.Equal(t, models.StateAnswered, sess.State)
}

func TestDecide_ResultQuestion(t *testing.T) {
	m := newTestMachine(t)
	sess := models.NewSession("conv-9", testNow)
	answer(t, m, sess, say(t, m, sess, "top salesperson this month"),
		models.Row{"salesperson": "Ramesh Kumar", "total_sales": 264450000.0})

	tests := []struct {
		utterance string
		expected  string
	}{
		{"was that the lowest?", "No, that was the highest: Ramesh Kumar with ₹26.45 Cr in sales. Say \"show bottom\" to see the lowest."},
		{"is that the highest", "Yes, that was the highest: Ramesh Kumar with ₹26.45 Cr in sales."},
		{"highest or lowest?", "That was the highest: Ramesh Kumar with ₹26.45 Cr in sales."},
	}
	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			d := say(t, m, sess, tt.utterance)
			assert.Equal(t, KindResultQuestion, d.Kind)
			assert.Equal(t, tt.expected, d.Reply)
			assert.Equal(t, models.StateAnswered, sess.State)
		})
	}
}

func TestDecide_ResetForgetsEverything(t *testing.T) {
	m := newTestMachine(t)
	sess := models.NewSession("conv-10", testNow)
	answer(t, m, sess, say(t, m, sess, "top salesperson this month"),
		models.Row{"salesperson": "Ramesh Kumar", "total_sales": 264450000.0})

	d := say(t, m, sess, "let's start over")
	assert.Equal(t, KindReset, d.Kind)
	assert.Equal(t, resetReply, d.Reply)
	assert.Equal(t, models.StateIdle, sess.State)
	assert.Nil(t, sess.LastResult)
	assert.Empty(t, sess.Params)
}

func TestFail_KeepsParameters(t *testing.T) {
	m := newTestMachine(t)
	sess := models.NewSession("conv-11", testNow)

	d := say(t, m, sess, "top salesperson this month")
	require.Equal(t, ActionExecute, d.Action)
	m.Fail(sess)

	assert.Equal(t, models.StateCollecting, sess.State)
	assert.Equal(t, "top_salesperson_period", sess.TemplateID)
	assert.True(t, sess.Params.Complete(d.Template))
}

// ==========================
// Extraction
// ==========================

func TestExtract(t *testing.T) {
	m := newTestMachine(t)

	tests := []struct {
		utterance string
		direction models.Direction
		count     int
		reverse   bool
		cue       bool
		hasDate   bool
		channel   models.Channel
		words     []string
		nouns     []string
		entities  []string
	}{
		{utterance: "Show bottom 5", direction: models.Ascending, count: 5},
		{utterance: "top 3 categories this quarter", direction: models.Descending, count: 3, hasDate: true, nouns: []string{"category"}},
		{utterance: "second highest", direction: models.Descending, count: 2},
		{utterance: "list ten salespeople", count: 10, nouns: []string{"salesperson"}},
		{utterance: "flip it", reverse: true},
		{utterance: "what about FMEG", cue: true, entities: []string{"FMEG"}},
		{utterance: "export sales for FMEG", channel: models.ChannelExport, entities: []string{"FMEG"}},
		{utterance: "what about domestic", cue: true, channel: models.ChannelDomestic},
		{utterance: "top 3 salespeople under CSO DCBH01", direction: models.Descending, count: 3, nouns: []string{"salesperson", "cso"}, entities: []string{"DCBH01"}},
		{utterance: "top salesperson in Kerala last month", direction: models.Descending, hasDate: true, nouns: []string{"salesperson"}, entities: []string{"KL"}},
		{utterance: "which state sold the least", direction: models.Ascending, nouns: []string{"state"}},
	}

	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			ex := m.extract(tt.utterance, testNow)
			assert.Equal(t, tt.direction, ex.direction)
			assert.Equal(t, tt.count, ex.count)
			assert.Equal(t, tt.reverse, ex.reverse)
			assert.Equal(t, tt.cue, ex.cue)
			assert.Equal(t, tt.hasDate, ex.hasDate)
			assert.Equal(t, tt.channel, ex.channel)
			assert.Equal(t, tt.words, ex.words)
			assert.Equal(t, tt.nouns, ex.nouns)

			var ids []string
			for _, f := range ex.entities {
				require.Equal(t, entity.Resolved, f.Resolution.Status)
				ids = append(ids, f.Resolution.Entity.ID)
			}
			assert.Equal(t, tt.entities, ids)
		})
	}
}

func TestParseCount(t *testing.T) {
	assert.Equal(t, 5, parseCount("5"))
	assert.Equal(t, 3, parseCount("three"))
	assert.Equal(t, 0, parseCount("0"))
	assert.Equal(t, catalog.MaxCount, parseCount("500"))
}
