/*
reconcile.go - Retirement-time cost redistribution

PURPOSE:
  While a tool is in service its cost is charged against an ESTIMATED life.
  When it retires the REAL life is known (its accumulated life), so every
  provisional charge can be corrected:

      realUnitCost     = initialCost / accumulatedLife
      realCost         = record.Quantity * realUnitCost
      originalEstimate = record.Quantity / record.EstimatedLife * initialCost
      adjustment       = realCost - originalEstimate

  Each adjustment above AdjustmentTolerance is applied to the work order that
  produced the usage, as a paired Overheads/Total increment.

CONSERVATION:
  sum(realCost) == initialCost, so after reconciliation the tool's whole
  cost has been charged exactly once across its work orders, whatever the
  original estimate was (within the per-line tolerance).

EDGE CASES:
  - Zero accumulated life: the tool never produced anything; nothing is
    redistributed. Its cost stays off every work order.
  - Records without an estimated life: their original estimate was zero,
    so the whole real cost is applied as the adjustment.

SEE ALSO:
  - estimator.go: where the original estimates were charged
*/
package tooling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JorgeZavalaO/torno-app-sub000/id"
)

// ErrLedgerImbalance means a tool's accumulated life disagrees with the sum
// of its usage records. Reconciling such a tool would misallocate its cost.
var ErrLedgerImbalance = errors.New("usage ledger out of balance")

// ReconciliationResult is the outcome of retiring a tool.
type ReconciliationResult struct {
	Tool          *ToolInstance
	FinalState    ToolState
	RealUnitCost  Money
	Lines         []CostAdjustment
	NetAdjustment Money // sum of applied adjustments
}

// AppliedLines returns the lines that moved a work order's cost.
func (r ReconciliationResult) AppliedLines() []CostAdjustment {
	var out []CostAdjustment
	for _, l := range r.Lines {
		if l.Applied {
			out = append(out, l)
		}
	}
	return out
}

// ComputeReconciliation prices every usage record of tool at the real unit
// cost. Pure function, no I/O. Line IDs are left Nil.
func ComputeReconciliation(tool ToolInstance, usage []UsageRecord, finalState ToolState) (*ReconciliationResult, error) {
	res := &ReconciliationResult{Tool: &tool, FinalState: finalState}

	if !tool.AccumulatedLife.IsPositive() {
		return res, nil
	}
	if sum := SumUsage(usage); !sum.Equal(tool.AccumulatedLife) {
		return nil, fmt.Errorf("%w: tool %s accumulated %s, usage records sum to %s",
			ErrLedgerImbalance, tool.ID, tool.AccumulatedLife, sum)
	}

	res.RealUnitCost = tool.InitialCost.Div(tool.AccumulatedLife)

	for _, rec := range usage {
		realCost := rec.Quantity.Mul(res.RealUnitCost)
		original := ProvisionalCost(tool.InitialCost, rec.Quantity, rec.EstimatedLife)
		adj := realCost.Sub(original)

		line := CostAdjustment{
			ToolID:           tool.ID,
			UsageID:          rec.ID,
			WorkOrderID:      rec.WorkOrderID,
			Quantity:         rec.Quantity,
			RealCost:         realCost,
			OriginalEstimate: original,
			Adjustment:       adj,
			Applied:          adj.Abs().GreaterThan(AdjustmentTolerance),
			FinalState:       finalState,
		}
		if line.Applied {
			res.NetAdjustment = res.NetAdjustment.Add(adj)
		}
		res.Lines = append(res.Lines, line)
	}
	return res, nil
}

// =============================================================================
// RECONCILER
// =============================================================================

// Reconciler retires tools and applies their cost adjustments.
type Reconciler struct {
	now func() time.Time
}

func NewReconciler(now func() time.Time) *Reconciler {
	return &Reconciler{now: now}
}

// FinalizeToolLife moves a tool to a terminal state and redistributes its
// cost across the work orders that used it. Everything happens against s,
// which must be a transactional view for the result to be atomic.
func (r *Reconciler) FinalizeToolLife(ctx context.Context, s Store, toolID id.ID, finalState ToolState) (*ReconciliationResult, error) {
	if !finalState.IsTerminal() {
		return nil, &ValidationError{
			Field:   "finalState",
			Message: fmt.Sprintf("%q is not a terminal state (BROKEN, WORN, LOST)", finalState),
		}
	}

	tool, err := s.LockTool(ctx, toolID)
	if err != nil {
		return nil, err
	}
	if tool.State.IsTerminal() {
		return nil, &StateTransitionError{
			ToolID: tool.ID.String(),
			From:   tool.State,
			To:     finalState,
			Op:     "finalize",
		}
	}

	usage, err := s.LoadUsage(ctx, toolID)
	if err != nil {
		return nil, err
	}

	res, err := ComputeReconciliation(*tool, usage, finalState)
	if err != nil {
		return nil, err
	}

	now := r.now()
	for i := range res.Lines {
		res.Lines[i].ID = id.NewAdjustmentID()
		res.Lines[i].CreatedAt = now
	}

	// Applied lines are summed per work order: one paired increment each.
	for _, wo := range groupByWorkOrder(res.AppliedLines()) {
		if err := s.IncrementOverheads(ctx, wo.id, wo.amount); err != nil {
			return nil, err
		}
	}
	if len(res.Lines) > 0 {
		if err := s.AppendAdjustments(ctx, res.Lines); err != nil {
			return nil, err
		}
	}

	tool.State = finalState
	tool.MountedOn = nil
	tool.RetiredAt = &now
	tool.UpdatedAt = now
	if err := s.UpdateTool(ctx, *tool); err != nil {
		return nil, err
	}

	res.Tool = tool
	return res, nil
}

type workOrderAmount struct {
	id     WorkOrderID
	amount Money
}

// groupByWorkOrder sums adjustments per work order, in first-seen order.
func groupByWorkOrder(lines []CostAdjustment) []workOrderAmount {
	var out []workOrderAmount
	index := make(map[WorkOrderID]int)
	for _, l := range lines {
		i, ok := index[l.WorkOrderID]
		if !ok {
			index[l.WorkOrderID] = len(out)
			out = append(out, workOrderAmount{id: l.WorkOrderID, amount: decimal.Zero})
			i = len(out) - 1
		}
		out[i].amount = out[i].amount.Add(l.Adjustment)
	}
	return out
}
