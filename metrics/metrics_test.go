package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/JorgeZavalaO/torno-app-sub000/tooling"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.UsageRecorded("LATHE-01", tooling.MustDecimal("10"))
	r.UsageRecorded("LATHE-01", tooling.MustDecimal("2.5"))
	r.ProvisionalCharged(tooling.MustDecimal("5.25"))
	r.ProvisionalCharged(tooling.MustDecimal("0"))
	r.ToolFinalized(tooling.StateBroken, 3, tooling.MustDecimal("45"))
	r.ToolFinalized(tooling.StateWorn, 1, tooling.MustDecimal("-5"))
	r.TransactionFailed("register production")
	r.AuditFinished(tooling.AuditCompleted, 2)
	r.AuditFinished(tooling.AuditFailed, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.usageRecords.WithLabelValues("LATHE-01")))
	assert.Equal(t, 12.5, testutil.ToFloat64(r.usageQuantity.WithLabelValues("LATHE-01")))
	assert.Equal(t, 5.25, testutil.ToFloat64(r.provisionalCost))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.finalized.WithLabelValues("BROKEN")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.appliedLines))
	assert.Equal(t, 40.0, testutil.ToFloat64(r.netAdjustment))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.txFailures.WithLabelValues("register production")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.auditRuns.WithLabelValues(tooling.AuditFailed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.auditFindings))

	count, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Positive(t, count)
}

func TestRecorder_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
