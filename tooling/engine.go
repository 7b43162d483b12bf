/*
engine.go - Transactional facade over the costing components

PURPOSE:
  Engine is what callers (HTTP handlers, the CLI, tests) use. Each mutating
  method runs exactly one store transaction with a bounded timeout:

    CreateToolInstance         Registry.Create
    MountOnMachine             Registry.Mount
    UnmountFromMachine         Registry.Unmount
    SetState                   Registry.SetState (terminal -> Reconciler)
    UpdateEstimatedLife        Registry.UpdateEstimatedLife
    RegisterMachineProduction  Estimator (-> UsageLedger per tool)
    FinalizeToolLife           Reconciler

  If any step fails the whole transaction rolls back: no usage record, no
  state change and no cost increment survives a failed operation.

TIMEOUTS:
  Every transaction gets a context deadline (default 10s). A transaction that
  times out, deadlocks or fails to commit is reported as *TransactionError,
  which callers may retry.
*/
package tooling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/JorgeZavalaO/torno-app-sub000/id"
)

// DefaultTxTimeout bounds every engine transaction unless overridden.
const DefaultTxTimeout = 10 * time.Second

// Recorder receives operational events. Implemented by the metrics package.
type Recorder interface {
	UsageRecorded(machineID MachineID, quantity Quantity)
	ProvisionalCharged(amount Money)
	ToolFinalized(state ToolState, applied int, net Money)
	TransactionFailed(op string)
}

type nopRecorder struct{}

func (nopRecorder) UsageRecorded(MachineID, Quantity)   {}
func (nopRecorder) ProvisionalCharged(Money)            {}
func (nopRecorder) ToolFinalized(ToolState, int, Money) {}
func (nopRecorder) TransactionFailed(string)            {}

// Engine wires the registry, ledger, estimator and reconciler to a store.
type Engine struct {
	store TxStore

	Registry   *Registry
	Ledger     *UsageLedger
	Estimator  *Estimator
	Reconciler *Reconciler

	log       *slog.Logger
	recorder  Recorder
	txTimeout time.Duration
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

// WithTxTimeout sets the per-transaction deadline. Non-positive values are ignored.
func WithTxTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.txTimeout = d
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		log:       slog.Default(),
		recorder:  nopRecorder{},
		txTimeout: DefaultTxTimeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}

	e.Reconciler = NewReconciler(e.now)
	e.Registry = NewRegistry(e.now, e.Reconciler)
	e.Ledger = NewUsageLedger(e.now)
	e.Estimator = NewEstimator(e.Ledger)
	return e
}

// Store exposes the underlying store for read-only collaborators.
func (e *Engine) Store() TxStore { return e.store }

// =============================================================================
// TRANSACTIONS
// =============================================================================

// withTx runs fn in one store transaction bounded by the engine timeout.
// Domain errors pass through unchanged; anything else, including a deadline
// hit, becomes a *TransactionError.
func (e *Engine) withTx(ctx context.Context, op string, fn func(ctx context.Context, s Store) error) error {
	txCtx, cancel := context.WithTimeout(ctx, e.txTimeout)
	defer cancel()

	err := e.store.WithTx(txCtx, func(s Store) error { return fn(txCtx, s) })
	if err == nil {
		return nil
	}

	kind := KindOf(err)
	switch {
	case kind == KindTransaction:
	case txCtx.Err() != nil:
		err = &TransactionError{Op: op, Err: err}
	case errors.Is(err, ErrLedgerImbalance):
		e.log.Error("ledger imbalance", "op", op, "error", err)
		return err
	case kind == KindInternal:
		err = &TransactionError{Op: op, Err: err}
	default:
		return err
	}

	e.recorder.TransactionFailed(op)
	e.log.Warn("transaction failed", "op", op, "error", err)
	return err
}

// =============================================================================
// REGISTRY OPERATIONS
// =============================================================================

func (e *Engine) CreateToolInstance(ctx context.Context, in CreateToolInput) (*ToolInstance, error) {
	var tool *ToolInstance
	err := e.withTx(ctx, "create tool", func(ctx context.Context, s Store) error {
		var err error
		tool, err = e.Registry.Create(ctx, s, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("tool created", "tool_id", tool.ID, "code", tool.Code, "catalog_ref", tool.CatalogRef)
	return tool, nil
}

func (e *Engine) MountOnMachine(ctx context.Context, toolID id.ID, machineID MachineID) (*ToolInstance, error) {
	var tool *ToolInstance
	err := e.withTx(ctx, "mount tool", func(ctx context.Context, s Store) error {
		var err error
		tool, err = e.Registry.Mount(ctx, s, toolID, machineID)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("tool mounted", "tool_id", toolID, "machine_id", machineID)
	return tool, nil
}

// UnmountFromMachine takes a tool off its machine. An empty resulting state
// means SHARPENED.
func (e *Engine) UnmountFromMachine(ctx context.Context, toolID id.ID, resulting ToolState) (*ToolInstance, error) {
	var tool *ToolInstance
	err := e.withTx(ctx, "unmount tool", func(ctx context.Context, s Store) error {
		var err error
		tool, err = e.Registry.Unmount(ctx, s, toolID, resulting)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("tool unmounted", "tool_id", toolID, "state", tool.State)
	return tool, nil
}

func (e *Engine) SetState(ctx context.Context, toolID id.ID, state ToolState) (*StateChange, error) {
	var change *StateChange
	err := e.withTx(ctx, "set tool state", func(ctx context.Context, s Store) error {
		var err error
		change, err = e.Registry.SetState(ctx, s, toolID, state)
		return err
	})
	if err != nil {
		return nil, err
	}
	if change.Reconciliation != nil {
		e.finalized(change.Reconciliation)
	} else {
		e.log.Info("tool state set", "tool_id", toolID, "state", state)
	}
	return change, nil
}

func (e *Engine) UpdateEstimatedLife(ctx context.Context, toolID id.ID, life *Quantity) (*ToolInstance, error) {
	var tool *ToolInstance
	err := e.withTx(ctx, "update estimated life", func(ctx context.Context, s Store) error {
		var err error
		tool, err = e.Registry.UpdateEstimatedLife(ctx, s, toolID, life)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("estimated life updated", "tool_id", toolID, "estimated_life", life)
	return tool, nil
}

// =============================================================================
// COSTING OPERATIONS
// =============================================================================

// RegisterMachineProduction records wear on every tool mounted on machineID
// and charges the provisional cost to workOrderID. A non-positive quantity
// returns an empty result without touching the store.
func (e *Engine) RegisterMachineProduction(ctx context.Context, workOrderID WorkOrderID, machineID MachineID, quantity Quantity) (*ProductionResult, error) {
	if !quantity.IsPositive() {
		return &ProductionResult{WorkOrderID: workOrderID, MachineID: machineID, Quantity: quantity}, nil
	}

	var res *ProductionResult
	err := e.withTx(ctx, "register production", func(ctx context.Context, s Store) error {
		var err error
		res, err = e.Estimator.RegisterMachineProduction(ctx, s, workOrderID, machineID, quantity)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, u := range res.Usage {
		e.recorder.UsageRecorded(machineID, u.Quantity)
	}
	e.recorder.ProvisionalCharged(res.ProvisionalCost)
	e.log.Debug("production registered",
		"work_order_id", workOrderID,
		"machine_id", machineID,
		"quantity", quantity,
		"tools", len(res.Usage),
		"provisional_cost", res.ProvisionalCost,
	)
	return res, nil
}

// FinalizeToolLife retires a tool and redistributes its real cost.
func (e *Engine) FinalizeToolLife(ctx context.Context, toolID id.ID, finalState ToolState) (*ReconciliationResult, error) {
	var res *ReconciliationResult
	err := e.withTx(ctx, "finalize tool", func(ctx context.Context, s Store) error {
		var err error
		res, err = e.Reconciler.FinalizeToolLife(ctx, s, toolID, finalState)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.finalized(res)
	return res, nil
}

func (e *Engine) finalized(res *ReconciliationResult) {
	applied := len(res.AppliedLines())
	e.recorder.ToolFinalized(res.FinalState, applied, res.NetAdjustment)
	e.log.Info("tool finalized",
		"tool_id", res.Tool.ID,
		"state", res.FinalState,
		"real_unit_cost", res.RealUnitCost,
		"lines", len(res.Lines),
		"applied", applied,
		"net_adjustment", res.NetAdjustment,
	)
}

// =============================================================================
// QUERIES - No transaction, no locks
// =============================================================================

func (e *Engine) GetTool(ctx context.Context, toolID id.ID) (*ToolInstance, error) {
	return e.store.GetTool(ctx, toolID)
}

func (e *Engine) ListTools(ctx context.Context, filter ToolFilter) ([]ToolInstance, error) {
	if filter.State != "" && !filter.State.Valid() {
		return nil, &ValidationError{Field: "state", Message: "unknown tool state"}
	}
	return e.store.ListTools(ctx, filter)
}

func (e *Engine) UsageHistory(ctx context.Context, toolID id.ID) ([]UsageRecord, error) {
	return e.Ledger.History(ctx, e.store, toolID)
}

// Adjustments returns the reconciliation lines written when the tool retired.
func (e *Engine) Adjustments(ctx context.Context, toolID id.ID) ([]CostAdjustment, error) {
	if _, err := e.store.GetTool(ctx, toolID); err != nil {
		return nil, err
	}
	return e.store.LoadAdjustments(ctx, toolID)
}

func (e *Engine) WorkOrderCost(ctx context.Context, workOrderID WorkOrderID) (*WorkOrderCost, error) {
	return e.store.GetWorkOrderCost(ctx, workOrderID)
}

// PreviewReconciliation computes what retiring the tool now would adjust,
// without writing anything. Works for in-service tools only.
func (e *Engine) PreviewReconciliation(ctx context.Context, toolID id.ID, finalState ToolState) (*ReconciliationResult, error) {
	if finalState == "" {
		finalState = StateWorn
	}
	if !finalState.IsTerminal() {
		return nil, &ValidationError{Field: "finalState", Message: "must be BROKEN, WORN or LOST"}
	}
	tool, err := e.store.GetTool(ctx, toolID)
	if err != nil {
		return nil, err
	}
	if tool.State.IsTerminal() {
		return nil, &StateTransitionError{ToolID: toolID.String(), From: tool.State, To: finalState, Op: "preview"}
	}
	usage, err := e.store.LoadUsage(ctx, toolID)
	if err != nil {
		return nil, err
	}
	return ComputeReconciliation(*tool, usage, finalState)
}

// Audit re-checks the persisted invariants of every tool.
func (e *Engine) Audit(ctx context.Context) (*AuditReport, error) {
	return Audit(ctx, e.store)
}
