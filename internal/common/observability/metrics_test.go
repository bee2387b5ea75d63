package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilObservabilityRecordsNothing(t *testing.T) {
	var o *Observability
	ctx := context.Background()

	spanCtx, span := o.StartSpan(ctx, "turn")
	assert.Equal(t, ctx, spanCtx)
	span.End()

	o.RecordTurn(ctx, time.Second, "answered", "ok")
	o.RecordExecution(ctx, time.Second, "top_salesperson_period", "ok")
	o.Shutdown()
}

func TestNew_RecordsAndShutsDown(t *testing.T) {
	o := New("sales-assistant-test")
	require.NotNil(t, o)
	ctx := context.Background()

	ctx, span := o.StartSpan(ctx, "turn")
	o.RecordTurn(ctx, 120*time.Millisecond, "answered", "ok")
	o.RecordExecution(ctx, 80*time.Millisecond, "top_salesperson_period", "ok")
	span.End()

	o.Shutdown()
}
