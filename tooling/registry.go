package tooling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JorgeZavalaO/torno-app-sub000/id"
)

// =============================================================================
// REGISTRY - Tool creation and lifecycle
// =============================================================================

// Registry creates tool instances and drives their state machine.
// Every method runs against the Store it is given, so the caller decides the
// transaction boundary.
type Registry struct {
	now       func() time.Time
	finalizer *Reconciler
}

// NewRegistry returns a registry that delegates terminal transitions to r.
func NewRegistry(now func() time.Time, r *Reconciler) *Registry {
	return &Registry{now: now, finalizer: r}
}

// CreateToolInput is the request for a new tool instance.
type CreateToolInput struct {
	CatalogRef    CatalogRef
	Code          string
	Location      string
	InitialCost   Money
	EstimatedLife *Quantity // nil: take the catalog default
}

// Validate checks field-level constraints that don't need the store.
func (in CreateToolInput) Validate() error {
	if strings.TrimSpace(string(in.CatalogRef)) == "" {
		return &ValidationError{Field: "catalogRef", Message: "must not be empty"}
	}
	if strings.TrimSpace(in.Code) == "" {
		return &ValidationError{Field: "code", Message: "must not be empty"}
	}
	if in.InitialCost.IsNegative() {
		return &ValidationError{Field: "initialCost", Message: "must not be negative"}
	}
	if in.EstimatedLife != nil && !in.EstimatedLife.IsPositive() {
		return &ValidationError{Field: "estimatedLife", Message: "must be positive"}
	}
	return nil
}

// Create registers a new tool in state NEW with zero accumulated life.
func (r *Registry) Create(ctx context.Context, s Store, in CreateToolInput) (*ToolInstance, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	item, err := s.GetCatalogItem(ctx, in.CatalogRef)
	if err != nil {
		return nil, err
	}

	life := in.EstimatedLife
	if life == nil && item.DefaultEstimatedLife != nil && item.DefaultEstimatedLife.IsPositive() {
		d := *item.DefaultEstimatedLife
		life = &d
	}

	now := r.now()
	tool := ToolInstance{
		ID:              id.NewToolID(),
		Code:            strings.TrimSpace(in.Code),
		CatalogRef:      in.CatalogRef,
		Location:        strings.TrimSpace(in.Location),
		InitialCost:     in.InitialCost,
		EstimatedLife:   life,
		AccumulatedLife: Quantity{},
		State:           StateNew,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.CreateTool(ctx, tool); err != nil {
		return nil, err
	}
	return &tool, nil
}

// Mount puts a tool on a machine and marks it IN_USE.
// Mounting an already mounted tool moves it; the last mount wins.
func (r *Registry) Mount(ctx context.Context, s Store, toolID id.ID, machineID MachineID) (*ToolInstance, error) {
	if strings.TrimSpace(string(machineID)) == "" {
		return nil, &ValidationError{Field: "machineId", Message: "must not be empty"}
	}

	tool, err := s.LockTool(ctx, toolID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(*tool, StateInUse, "mount"); err != nil {
		return nil, err
	}

	m := machineID
	tool.MountedOn = &m
	tool.State = StateInUse
	tool.UpdatedAt = r.now()
	if err := s.UpdateTool(ctx, *tool); err != nil {
		return nil, err
	}
	return tool, nil
}

// Unmount removes a tool from its machine. resulting defaults to SHARPENED
// and must be NEW or SHARPENED; retirement goes through SetState.
func (r *Registry) Unmount(ctx context.Context, s Store, toolID id.ID, resulting ToolState) (*ToolInstance, error) {
	if resulting == "" {
		resulting = StateSharpened
	}
	if !resulting.Valid() || resulting.IsTerminal() || resulting == StateInUse {
		return nil, &ValidationError{
			Field:   "state",
			Message: fmt.Sprintf("unmount cannot leave a tool in %s", resulting),
		}
	}

	tool, err := s.LockTool(ctx, toolID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(*tool, resulting, "unmount"); err != nil {
		return nil, err
	}

	tool.MountedOn = nil
	tool.State = resulting
	tool.UpdatedAt = r.now()
	if err := s.UpdateTool(ctx, *tool); err != nil {
		return nil, err
	}
	return tool, nil
}

// StateChange is the outcome of SetState. Reconciliation is set when the
// target state was terminal.
type StateChange struct {
	Tool           *ToolInstance
	Reconciliation *ReconciliationResult
}

// SetState moves a tool to any state. Terminal targets run the full
// retirement reconciliation; non-terminal targets are direct corrections.
func (r *Registry) SetState(ctx context.Context, s Store, toolID id.ID, target ToolState) (*StateChange, error) {
	if !target.Valid() {
		return nil, &ValidationError{Field: "state", Message: fmt.Sprintf("unknown tool state %q", target)}
	}

	if target.IsTerminal() {
		res, err := r.finalizer.FinalizeToolLife(ctx, s, toolID, target)
		if err != nil {
			return nil, err
		}
		return &StateChange{Tool: res.Tool, Reconciliation: res}, nil
	}

	tool, err := s.LockTool(ctx, toolID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(*tool, target, "set state of"); err != nil {
		return nil, err
	}
	if target == StateInUse && !tool.IsMounted() {
		return nil, &StateTransitionError{
			ToolID: tool.ID.String(),
			From:   tool.State,
			To:     target,
			Op:     "set state of",
			Reason: "a tool can only be IN_USE while mounted; use mount",
		}
	}

	tool.State = target
	tool.RetiredAt = nil
	if target != StateInUse {
		tool.MountedOn = nil
	}
	tool.UpdatedAt = r.now()
	if err := s.UpdateTool(ctx, *tool); err != nil {
		return nil, err
	}
	return &StateChange{Tool: tool}, nil
}

// UpdateEstimatedLife changes the life used to price future usage.
// Usage already recorded keeps the estimate it was charged with.
func (r *Registry) UpdateEstimatedLife(ctx context.Context, s Store, toolID id.ID, life *Quantity) (*ToolInstance, error) {
	if life != nil && !life.IsPositive() {
		return nil, &ValidationError{Field: "estimatedLife", Message: "must be positive"}
	}

	tool, err := s.LockTool(ctx, toolID)
	if err != nil {
		return nil, err
	}
	if tool.State.IsTerminal() {
		return nil, &StateTransitionError{
			ToolID: tool.ID.String(),
			From:   tool.State,
			To:     tool.State,
			Op:     "update estimated life of",
		}
	}

	if life != nil {
		l := *life
		life = &l
	}
	tool.EstimatedLife = life
	tool.UpdatedAt = r.now()
	if err := s.UpdateTool(ctx, *tool); err != nil {
		return nil, err
	}
	return tool, nil
}
