package tooling

import (
	"context"
	"time"

	"github.com/JorgeZavalaO/torno-app-sub000/id"
)

// =============================================================================
// USAGE LEDGER - Append-only wear log
// =============================================================================
//
// Every unit of wear a tool accumulates is backed by exactly one usage record:
//
//     tool.AccumulatedLife == sum(record.Quantity for record in usage(tool))
//
// The ledger keeps both sides of that equation in step inside the caller's
// transaction. Records are never updated or deleted.

// UsageLedger appends usage records and advances accumulated life.
type UsageLedger struct {
	now func() time.Time
}

func NewUsageLedger(now func() time.Time) *UsageLedger {
	return &UsageLedger{now: now}
}

// RecordUsage locks the tool, appends one usage record and adds quantity to
// its accumulated life. The tool must be mounted and not retired.
// Returns the new record and the updated tool.
func (l *UsageLedger) RecordUsage(ctx context.Context, s Store, toolID id.ID, workOrderID WorkOrderID, quantity Quantity) (*UsageRecord, *ToolInstance, error) {
	if !quantity.IsPositive() {
		return nil, nil, &ValidationError{Field: "quantity", Message: "must be positive"}
	}
	if workOrderID == "" {
		return nil, nil, &ValidationError{Field: "workOrderId", Message: "must not be empty"}
	}

	tool, err := s.LockTool(ctx, toolID)
	if err != nil {
		return nil, nil, err
	}
	if tool.State.IsTerminal() {
		return nil, nil, &StateTransitionError{
			ToolID: tool.ID.String(),
			From:   tool.State,
			To:     tool.State,
			Op:     "record usage on",
		}
	}
	if !tool.IsMounted() {
		return nil, nil, &StateTransitionError{
			ToolID: tool.ID.String(),
			From:   tool.State,
			To:     tool.State,
			Op:     "record usage on",
			Reason: "tool is not mounted on a machine",
		}
	}

	rec := UsageRecord{
		ID:          id.NewUsageID(),
		ToolID:      tool.ID,
		WorkOrderID: workOrderID,
		Quantity:    quantity,
		StateBefore: tool.State,
		StateAfter:  tool.State,
		RecordedAt:  l.now(),
	}
	if tool.EstimatedLife != nil {
		life := *tool.EstimatedLife
		rec.EstimatedLife = &life
	}

	tool.AccumulatedLife = tool.AccumulatedLife.Add(quantity)
	tool.UpdatedAt = rec.RecordedAt

	if err := s.AppendUsage(ctx, rec); err != nil {
		return nil, nil, err
	}
	if err := s.UpdateTool(ctx, *tool); err != nil {
		return nil, nil, err
	}
	return &rec, tool, nil
}

// History returns all usage records of a tool in insertion order.
func (l *UsageLedger) History(ctx context.Context, s Store, toolID id.ID) ([]UsageRecord, error) {
	if _, err := s.GetTool(ctx, toolID); err != nil {
		return nil, err
	}
	return s.LoadUsage(ctx, toolID)
}

// SumUsage totals the quantity of a set of records.
func SumUsage(records []UsageRecord) Quantity {
	var total Quantity
	for _, r := range records {
		total = total.Add(r.Quantity)
	}
	return total
}
