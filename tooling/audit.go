package tooling

import (
	"context"
	"fmt"
	"time"

	"github.com/JorgeZavalaO/torno-app-sub000/id"
)

// =============================================================================
// AUDIT - Read-only integrity checks
// =============================================================================
//
// The engine maintains these invariants transactionally; Audit re-derives them
// from persisted data so a background job can flag manual database edits or
// store bugs:
//
//   - accumulated life equals the sum of the tool's usage records
//   - RetiredAt is set iff the state is terminal
//   - only IN_USE tools are mounted
//   - retired tools with usage have adjustment lines whose real costs sum to
//     the initial cost

// Finding codes.
const (
	FindingLedgerImbalance   = "ledger_imbalance"
	FindingRetiredAtMismatch = "retired_at_mismatch"
	FindingMountedNotInUse   = "mounted_not_in_use"
	FindingCostNotConserved  = "cost_not_conserved"
)

// AuditFinding is one violated invariant.
type AuditFinding struct {
	ToolID  id.ID
	Code    string
	Message string
}

// AuditReport is the outcome of one Audit pass.
type AuditReport struct {
	ToolsChecked int
	Findings     []AuditFinding
}

// Audit checks every tool in s and returns the violations found.
func Audit(ctx context.Context, s Store) (*AuditReport, error) {
	tools, err := s.ListTools(ctx, ToolFilter{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	report := &AuditReport{}
	for _, t := range tools {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		found, err := auditTool(ctx, s, t)
		if err != nil {
			return report, err
		}
		report.ToolsChecked++
		report.Findings = append(report.Findings, found...)
	}
	return report, nil
}

func auditTool(ctx context.Context, s Store, t ToolInstance) ([]AuditFinding, error) {
	var out []AuditFinding
	add := func(code, format string, args ...any) {
		out = append(out, AuditFinding{ToolID: t.ID, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	usage, err := s.LoadUsage(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("load usage for %s: %w", t.ID, err)
	}
	if sum := SumUsage(usage); !sum.Equal(t.AccumulatedLife) {
		add(FindingLedgerImbalance, "accumulated life %s, usage sum %s", t.AccumulatedLife, sum)
	}

	if t.State.IsTerminal() != (t.RetiredAt != nil) {
		add(FindingRetiredAtMismatch, "state %s with retiredAt set=%t", t.State, t.RetiredAt != nil)
	}
	if t.IsMounted() && t.State != StateInUse {
		add(FindingMountedNotInUse, "mounted on %s in state %s", *t.MountedOn, t.State)
	}

	if t.State.IsTerminal() && t.AccumulatedLife.IsPositive() {
		adjs, err := s.LoadAdjustments(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("load adjustments for %s: %w", t.ID, err)
		}
		var charged Money
		for _, a := range adjs {
			charged = charged.Add(a.RealCost)
		}
		if charged.Sub(t.InitialCost).Abs().GreaterThan(AdjustmentTolerance) {
			add(FindingCostNotConserved, "real costs sum to %s, initial cost %s", charged, t.InitialCost)
		}
	}
	return out, nil
}

// =============================================================================
// AUDIT RUNS - History of scheduled audits
// =============================================================================

// Audit run statuses.
const (
	AuditRunning   = "running"
	AuditCompleted = "completed"
	AuditFailed    = "failed"
)

// AuditRun records one pass of the integrity auditor.
type AuditRun struct {
	ID           string
	Status       string
	ToolsChecked int
	Findings     []AuditFinding
	Error        string
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// AuditRunStore persists audit runs. Optional: stores that don't implement
// it simply keep no history.
type AuditRunStore interface {
	// SaveAuditRun upserts by ID.
	SaveAuditRun(ctx context.Context, run AuditRun) error

	// ListAuditRuns returns the most recent runs first.
	ListAuditRuns(ctx context.Context, limit int) ([]AuditRun, error)
}
