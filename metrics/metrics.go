/*
Package metrics exposes engine activity as Prometheus metrics.

METRICS:
  toolcost_usage_records_total{machine}        usage records written
  toolcost_usage_quantity_total{machine}       production units attributed to tools
  toolcost_provisional_cost_total              provisional cost charged to work orders
  toolcost_tools_finalized_total{state}        tools retired, by final state
  toolcost_adjustment_lines_applied_total      reconciliation lines applied
  toolcost_net_adjustment                      running sum of net adjustments (may go down)
  toolcost_transaction_failures_total{op}      engine transactions that failed
  toolcost_audit_runs_total{status}            integrity audit runs
  toolcost_audit_findings                      findings in the latest completed audit

Money is exported as float64. These series are for dashboards and alerts;
the database stays the source of truth for amounts.
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JorgeZavalaO/torno-app-sub000/tooling"
)

const namespace = "toolcost"

// Recorder implements tooling.Recorder.
type Recorder struct {
	usageRecords    *prometheus.CounterVec
	usageQuantity   *prometheus.CounterVec
	provisionalCost prometheus.Counter
	finalized       *prometheus.CounterVec
	appliedLines    prometheus.Counter
	netAdjustment   prometheus.Gauge
	txFailures      *prometheus.CounterVec
	auditRuns       *prometheus.CounterVec
	auditFindings   prometheus.Gauge
}

var _ tooling.Recorder = (*Recorder)(nil)

// New creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer to serve them from promhttp.Handler().
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		usageRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "usage_records_total",
			Help: "Usage records written, by machine.",
		}, []string{"machine"}),
		usageQuantity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "usage_quantity_total",
			Help: "Production units attributed to tools, by machine.",
		}, []string{"machine"}),
		provisionalCost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "provisional_cost_total",
			Help: "Provisional tool cost charged to work order overheads.",
		}),
		finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tools_finalized_total",
			Help: "Tools retired, by final state.",
		}, []string{"state"}),
		appliedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "adjustment_lines_applied_total",
			Help: "Reconciliation lines applied to work orders.",
		}),
		netAdjustment: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "net_adjustment",
			Help: "Running sum of net reconciliation adjustments.",
		}),
		txFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transaction_failures_total",
			Help: "Engine transactions that failed to commit, by operation.",
		}, []string{"op"}),
		auditRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "audit_runs_total",
			Help: "Integrity audit runs, by status.",
		}, []string{"status"}),
		auditFindings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "audit_findings",
			Help: "Invariant violations found by the latest completed audit.",
		}),
	}
	reg.MustRegister(
		r.usageRecords, r.usageQuantity, r.provisionalCost, r.finalized,
		r.appliedLines, r.netAdjustment, r.txFailures, r.auditRuns, r.auditFindings,
	)
	return r
}

func (r *Recorder) UsageRecorded(machineID tooling.MachineID, quantity tooling.Quantity) {
	r.usageRecords.WithLabelValues(string(machineID)).Inc()
	r.usageQuantity.WithLabelValues(string(machineID)).Add(quantity.InexactFloat64())
}

func (r *Recorder) ProvisionalCharged(amount tooling.Money) {
	if amount.IsPositive() {
		r.provisionalCost.Add(amount.InexactFloat64())
	}
}

func (r *Recorder) ToolFinalized(state tooling.ToolState, applied int, net tooling.Money) {
	r.finalized.WithLabelValues(string(state)).Inc()
	r.appliedLines.Add(float64(applied))
	r.netAdjustment.Add(net.InexactFloat64())
}

func (r *Recorder) TransactionFailed(op string) {
	r.txFailures.WithLabelValues(op).Inc()
}

// AuditFinished records one auditor pass. findings is only meaningful for
// completed runs.
func (r *Recorder) AuditFinished(status string, findings int) {
	r.auditRuns.WithLabelValues(status).Inc()
	if status == tooling.AuditCompleted {
		r.auditFindings.Set(float64(findings))
	}
}
