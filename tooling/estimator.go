package tooling

import (
	"context"
	"strings"
)

// =============================================================================
// ESTIMATOR - Provisional costing at production time
// =============================================================================
//
// When a machine produces N units for a work order, every tool mounted on it
// wears by N and the work order is charged each tool's estimated share:
//
//     provisional(tool) = N / estimatedLife * initialCost
//
// Tools without an estimated life still wear, but charge nothing until they
// are reconciled.

// ProductionResult is the outcome of one production event.
type ProductionResult struct {
	WorkOrderID     WorkOrderID
	MachineID       MachineID
	Quantity        Quantity
	Usage           []UsageRecord
	ProvisionalCost Money
}

// Estimator turns production events into usage records and overhead charges.
type Estimator struct {
	ledger *UsageLedger
}

func NewEstimator(ledger *UsageLedger) *Estimator {
	return &Estimator{ledger: ledger}
}

// RegisterMachineProduction records quantity units of wear on every tool
// mounted on machineID and charges the summed provisional cost to the work
// order's overheads in one paired increment.
//
// A non-positive quantity, or a machine with nothing mounted, is a no-op.
func (e *Estimator) RegisterMachineProduction(ctx context.Context, s Store, workOrderID WorkOrderID, machineID MachineID, quantity Quantity) (*ProductionResult, error) {
	res := &ProductionResult{
		WorkOrderID: workOrderID,
		MachineID:   machineID,
		Quantity:    quantity,
	}
	if !quantity.IsPositive() {
		return res, nil
	}
	if strings.TrimSpace(string(workOrderID)) == "" {
		return nil, &ValidationError{Field: "workOrderId", Message: "must not be empty"}
	}
	if strings.TrimSpace(string(machineID)) == "" {
		return nil, &ValidationError{Field: "machineId", Message: "must not be empty"}
	}

	if _, err := s.GetWorkOrderCost(ctx, workOrderID); err != nil {
		return nil, err
	}

	tools, err := s.LockMountedTools(ctx, machineID)
	if err != nil {
		return nil, err
	}

	for _, t := range tools {
		rec, tool, err := e.ledger.RecordUsage(ctx, s, t.ID, workOrderID, quantity)
		if err != nil {
			return nil, err
		}
		res.Usage = append(res.Usage, *rec)
		res.ProvisionalCost = res.ProvisionalCost.Add(ProvisionalCost(tool.InitialCost, quantity, rec.EstimatedLife))
	}

	if !res.ProvisionalCost.IsZero() {
		if err := s.IncrementOverheads(ctx, workOrderID, res.ProvisionalCost); err != nil {
			return nil, err
		}
	}
	return res, nil
}
