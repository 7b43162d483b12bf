/*
Package tooling is the tool lifecycle cost reconciliation engine.

PURPOSE:
  Tracks wear of physical cutting-tool instances mounted on machines,
  provisionally charges their cost to the work orders that consume them,
  and, once a tool is retired (broken, worn out or lost), recomputes the
  true per-unit cost and redistributes the difference across every work
  order that used the tool during its life.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money / Quantity: decimal amounts (never float64)
  - ToolInstance: a physical, trackable cutting tool
  - UsageRecord: an immutable "tool produced N units for work order W" entry
  - WorkOrderCost: the external cost accumulator of a work order
  - CostAdjustment: one line of a retirement reconciliation

COMPONENTS:
  Registry    (registry.go)  - tool creation and lifecycle state machine
  UsageLedger (ledger.go)    - append-only usage log, accumulated life
  Estimator   (estimator.go) - provisional cost at production time
  Reconciler  (reconcile.go) - retirement-time redistribution
  Engine      (engine.go)    - transactional facade used by callers

COST MODEL:
  While in service a tool is charged optimistically:
      provisional = quantity / estimatedLife * initialCost
  When it retires its real life is known:
      realUnitCost = initialCost / accumulatedLife
      adjustment   = quantity * realUnitCost - provisional
  The adjustment is applied to each work order that used the tool, so the
  tool's whole initial cost ends up charged exactly once.

SEE ALSO:
  - store.go: persistence interfaces
  - tooling/store/memory.go: in-memory store for tests
  - store/sqlite, store/postgres: relational stores
*/
package tooling

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/JorgeZavalaO/torno-app-sub000/id"
)

// =============================================================================
// AMOUNTS
// =============================================================================

// Money is a monetary amount in the shop currency.
type Money = decimal.Decimal

// Quantity is an amount of tool life (pieces, meters, hours...).
// The unit is defined by the catalog item.
type Quantity = decimal.Decimal

// AdjustmentTolerance is the smallest reconciliation adjustment that is
// applied to a work order. Smaller differences are rounding noise.
var AdjustmentTolerance = decimal.New(1, -2)

// MustDecimal parses a decimal literal and panics on malformed input.
// Intended for constants and tests.
func MustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// ProvisionalCost prices quantity units of tool life against an estimated
// life. Returns zero when the estimated life is absent or not positive.
func ProvisionalCost(initialCost Money, quantity Quantity, estimatedLife *Quantity) Money {
	if estimatedLife == nil || !estimatedLife.IsPositive() {
		return decimal.Zero
	}
	return quantity.Mul(initialCost).Div(*estimatedLife)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// External identifiers. Machines, work orders and catalog items are owned by
// other subsystems; the engine only references them.
type (
	MachineID   string
	WorkOrderID string
	CatalogRef  string
)

// =============================================================================
// TOOL INSTANCE
// =============================================================================

// ToolInstance is a specific, trackable physical cutting tool.
//
// INVARIANTS:
//   - AccumulatedLife never decreases.
//   - RetiredAt is set iff State is terminal.
//   - MountedOn is only set while State is IN_USE.
type ToolInstance struct {
	ID         id.ID
	Code       string
	CatalogRef CatalogRef
	Location   string

	InitialCost     Money
	EstimatedLife   *Quantity // nil when unknown
	AccumulatedLife Quantity

	State     ToolState
	MountedOn *MachineID
	RetiredAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsMounted reports whether the tool is currently on a machine.
func (t ToolInstance) IsMounted() bool {
	return t.MountedOn != nil
}

// Clone returns a deep copy so callers can't alias pointer fields.
func (t ToolInstance) Clone() ToolInstance {
	c := t
	if t.EstimatedLife != nil {
		life := *t.EstimatedLife
		c.EstimatedLife = &life
	}
	if t.MountedOn != nil {
		m := *t.MountedOn
		c.MountedOn = &m
	}
	if t.RetiredAt != nil {
		r := *t.RetiredAt
		c.RetiredAt = &r
	}
	return c
}

// ToolFilter narrows ListTools. Zero fields match everything.
type ToolFilter struct {
	State     ToolState
	MachineID MachineID
}

// Matches reports whether t passes the filter.
func (f ToolFilter) Matches(t ToolInstance) bool {
	if f.State != "" && t.State != f.State {
		return false
	}
	if f.MachineID != "" && (t.MountedOn == nil || *t.MountedOn != f.MachineID) {
		return false
	}
	return true
}

// =============================================================================
// USAGE RECORD - Append-only wear log
// =============================================================================

// UsageRecord is one wear event. Immutable once written.
//
// EstimatedLife is a snapshot of the tool's estimated life when the record
// was written. The provisional charge for the record was priced with it, so
// reconciliation reconstructs the original estimate from this value rather
// than from the tool's current estimate.
type UsageRecord struct {
	ID          id.ID
	ToolID      id.ID
	WorkOrderID WorkOrderID
	Quantity    Quantity

	StateBefore   ToolState
	StateAfter    ToolState
	EstimatedLife *Quantity

	RecordedAt time.Time
}

// =============================================================================
// WORK ORDER COST - External accumulator
// =============================================================================

// WorkOrderCost is the running cost of a work order.
// Total == Materials + Labor + Overheads at all times.
type WorkOrderCost struct {
	ID        WorkOrderID
	Materials Money
	Labor     Money
	Overheads Money
	Total     Money
	UpdatedAt time.Time
}

// NewWorkOrderCost builds a snapshot with a consistent total.
func NewWorkOrderCost(workOrderID WorkOrderID, materials, labor, overheads Money) WorkOrderCost {
	return WorkOrderCost{
		ID:        workOrderID,
		Materials: materials,
		Labor:     labor,
		Overheads: overheads,
		Total:     materials.Add(labor).Add(overheads),
	}
}

// Balanced reports whether Total equals the sum of its parts.
func (w WorkOrderCost) Balanced() bool {
	return w.Total.Equal(w.Materials.Add(w.Labor).Add(w.Overheads))
}

// =============================================================================
// CATALOG
// =============================================================================

// CatalogItem is the read-only product definition a tool instance is made from.
type CatalogItem struct {
	Ref                  CatalogRef
	Name                 string
	DefaultEstimatedLife *Quantity
	UnitCostHint         Money
}

// =============================================================================
// COST ADJUSTMENT - Reconciliation line
// =============================================================================

// CostAdjustment is one usage record's share of a tool reconciliation.
// Lines below AdjustmentTolerance are kept for audit with Applied=false.
type CostAdjustment struct {
	ID          id.ID
	ToolID      id.ID
	UsageID     id.ID
	WorkOrderID WorkOrderID
	Quantity    Quantity

	RealCost         Money
	OriginalEstimate Money
	Adjustment       Money
	Applied          bool

	FinalState ToolState
	CreatedAt  time.Time
}
