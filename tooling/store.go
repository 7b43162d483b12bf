/*
store.go - Persistence interfaces for tools, usage and work order costs

PURPOSE:
  Defines the boundary between the costing logic and the database.
  Different implementations can use PostgreSQL, SQLite, or in-memory storage.

KEY INTERFACES:
  ToolStore:       Tool instances, with row locking
  UsageStore:      Usage records (append-only)
  CatalogStore:    Catalog items referenced by tools
  WorkOrderStore:  Work order cost accumulators
  AdjustmentStore: Reconciliation lines (append-only)
  TxStore:         Runs a function inside one atomic transaction

LOCKING:
  LockTool and LockMountedTools take exclusive row locks that are held until
  the surrounding transaction ends. Outside WithTx they behave like reads.
  LockMountedTools returns tools ordered by ID so that two transactions
  locking overlapping sets always acquire locks in the same order.

PAIRED UPDATE:
  IncrementOverheads adds delta to both Overheads and Total in a single
  statement. There is deliberately no way to touch one without the other.

IMPLEMENTATIONS:
  - store/postgres: production PostgreSQL (SELECT ... FOR UPDATE)
  - store/sqlite:   single-node SQLite (BEGIN IMMEDIATE)
  - tooling/store:  in-memory, for tests

SEE ALSO:
  - engine.go: WithTx callers
*/
package tooling

import (
	"context"

	"github.com/JorgeZavalaO/torno-app-sub000/id"
)

// =============================================================================
// STORE - Per-aggregate persistence
// =============================================================================

type ToolStore interface {
	// CreateTool inserts a tool. Returns *DuplicateCodeError if the code is taken.
	CreateTool(ctx context.Context, tool ToolInstance) error

	// GetTool returns a tool or *NotFoundError.
	GetTool(ctx context.Context, toolID id.ID) (*ToolInstance, error)

	// LockTool is GetTool plus an exclusive row lock.
	LockTool(ctx context.Context, toolID id.ID) (*ToolInstance, error)

	// LockMountedTools locks every IN_USE tool mounted on machineID,
	// ordered by ID.
	LockMountedTools(ctx context.Context, machineID MachineID) ([]ToolInstance, error)

	// UpdateTool overwrites the mutable fields of an existing tool.
	UpdateTool(ctx context.Context, tool ToolInstance) error

	// ListTools returns tools matching filter, oldest first.
	ListTools(ctx context.Context, filter ToolFilter) ([]ToolInstance, error)
}

// UsageStore is APPEND-ONLY. No Update, no Delete.
type UsageStore interface {
	AppendUsage(ctx context.Context, rec UsageRecord) error

	// LoadUsage returns a tool's usage records in insertion order.
	LoadUsage(ctx context.Context, toolID id.ID) ([]UsageRecord, error)
}

type CatalogStore interface {
	GetCatalogItem(ctx context.Context, ref CatalogRef) (*CatalogItem, error)

	// SaveCatalogItem upserts by Ref.
	SaveCatalogItem(ctx context.Context, item CatalogItem) error
}

type WorkOrderStore interface {
	GetWorkOrderCost(ctx context.Context, workOrderID WorkOrderID) (*WorkOrderCost, error)

	// SaveWorkOrder upserts a work order cost snapshot. Used by seeding and by
	// the subsystem that owns materials and labor.
	SaveWorkOrder(ctx context.Context, wo WorkOrderCost) error

	// IncrementOverheads adds delta (may be negative) to Overheads and Total.
	// Returns *NotFoundError for unknown work orders.
	IncrementOverheads(ctx context.Context, workOrderID WorkOrderID, delta Money) error
}

// AdjustmentStore is APPEND-ONLY.
type AdjustmentStore interface {
	AppendAdjustments(ctx context.Context, adjs []CostAdjustment) error
	LoadAdjustments(ctx context.Context, toolID id.ID) ([]CostAdjustment, error)
}

// Store is the full persistence surface used by the engine.
type Store interface {
	ToolStore
	UsageStore
	CatalogStore
	WorkOrderStore
	AdjustmentStore
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, or ctx is done before commit, the transaction is
	// rolled back. Otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
