// Package store provides an in-memory tooling.TxStore.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/JorgeZavalaO/torno-app-sub000/id"
	"github.com/JorgeZavalaO/torno-app-sub000/tooling"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps everything in maps guarded by one RWMutex. Transactions hold
// the write lock for their whole duration, so they are fully serialized and
// Lock* methods need no extra bookkeeping.
type Memory struct {
	mu   sync.RWMutex
	data *memoryData

	runMu sync.Mutex
	runs  []tooling.AuditRun
}

type memoryData struct {
	tools       map[string]tooling.ToolInstance
	toolOrder   []string          // tool IDs in creation order
	codes       map[string]string // code -> tool ID
	usage       map[string][]tooling.UsageRecord
	catalog     map[tooling.CatalogRef]tooling.CatalogItem
	workOrders  map[tooling.WorkOrderID]tooling.WorkOrderCost
	adjustments map[string][]tooling.CostAdjustment
}

func newMemoryData() *memoryData {
	return &memoryData{
		tools:       make(map[string]tooling.ToolInstance),
		codes:       make(map[string]string),
		usage:       make(map[string][]tooling.UsageRecord),
		catalog:     make(map[tooling.CatalogRef]tooling.CatalogItem),
		workOrders:  make(map[tooling.WorkOrderID]tooling.WorkOrderCost),
		adjustments: make(map[string][]tooling.CostAdjustment),
	}
}

func NewMemory() *Memory {
	return &Memory{data: newMemoryData()}
}

var (
	_ tooling.TxStore       = (*Memory)(nil)
	_ tooling.AuditRunStore = (*Memory)(nil)
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(tooling.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()

	if err := fn(m.data); err != nil {
		m.data = snapshot
		return err
	}

	// A transaction that outlived its deadline does not commit.
	if err := ctx.Err(); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (d *memoryData) clone() *memoryData {
	c := newMemoryData()
	for k, v := range d.tools {
		c.tools[k] = v.Clone()
	}
	c.toolOrder = append([]string(nil), d.toolOrder...)
	for k, v := range d.codes {
		c.codes[k] = v
	}
	for k, v := range d.usage {
		c.usage[k] = append([]tooling.UsageRecord(nil), v...)
	}
	for k, v := range d.catalog {
		c.catalog[k] = v
	}
	for k, v := range d.workOrders {
		c.workOrders[k] = v
	}
	for k, v := range d.adjustments {
		c.adjustments[k] = append([]tooling.CostAdjustment(nil), v...)
	}
	return c
}

// =============================================================================
// LOCKED ACCESSORS - Public methods take the lock, memoryData does the work
// =============================================================================

func (m *Memory) CreateTool(ctx context.Context, tool tooling.ToolInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CreateTool(ctx, tool)
}

func (m *Memory) GetTool(ctx context.Context, toolID id.ID) (*tooling.ToolInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetTool(ctx, toolID)
}

func (m *Memory) LockTool(ctx context.Context, toolID id.ID) (*tooling.ToolInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.LockTool(ctx, toolID)
}

func (m *Memory) LockMountedTools(ctx context.Context, machineID tooling.MachineID) ([]tooling.ToolInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.LockMountedTools(ctx, machineID)
}

func (m *Memory) UpdateTool(ctx context.Context, tool tooling.ToolInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateTool(ctx, tool)
}

func (m *Memory) ListTools(ctx context.Context, filter tooling.ToolFilter) ([]tooling.ToolInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListTools(ctx, filter)
}

func (m *Memory) AppendUsage(ctx context.Context, rec tooling.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.AppendUsage(ctx, rec)
}

func (m *Memory) LoadUsage(ctx context.Context, toolID id.ID) ([]tooling.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.LoadUsage(ctx, toolID)
}

func (m *Memory) GetCatalogItem(ctx context.Context, ref tooling.CatalogRef) (*tooling.CatalogItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetCatalogItem(ctx, ref)
}

func (m *Memory) SaveCatalogItem(ctx context.Context, item tooling.CatalogItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveCatalogItem(ctx, item)
}

func (m *Memory) GetWorkOrderCost(ctx context.Context, workOrderID tooling.WorkOrderID) (*tooling.WorkOrderCost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetWorkOrderCost(ctx, workOrderID)
}

func (m *Memory) SaveWorkOrder(ctx context.Context, wo tooling.WorkOrderCost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveWorkOrder(ctx, wo)
}

func (m *Memory) IncrementOverheads(ctx context.Context, workOrderID tooling.WorkOrderID, delta tooling.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.IncrementOverheads(ctx, workOrderID, delta)
}

func (m *Memory) AppendAdjustments(ctx context.Context, adjs []tooling.CostAdjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.AppendAdjustments(ctx, adjs)
}

func (m *Memory) LoadAdjustments(ctx context.Context, toolID id.ID) ([]tooling.CostAdjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.LoadAdjustments(ctx, toolID)
}

// =============================================================================
// DATA - Unlocked implementation, also the transactional view
// =============================================================================

func (d *memoryData) CreateTool(_ context.Context, tool tooling.ToolInstance) error {
	if _, taken := d.codes[tool.Code]; taken {
		return &tooling.DuplicateCodeError{Code: tool.Code}
	}
	key := tool.ID.String()
	d.tools[key] = tool.Clone()
	d.toolOrder = append(d.toolOrder, key)
	d.codes[tool.Code] = key
	return nil
}

func (d *memoryData) GetTool(_ context.Context, toolID id.ID) (*tooling.ToolInstance, error) {
	t, ok := d.tools[toolID.String()]
	if !ok {
		return nil, &tooling.NotFoundError{Entity: "tool", ID: toolID.String()}
	}
	c := t.Clone()
	return &c, nil
}

func (d *memoryData) LockTool(ctx context.Context, toolID id.ID) (*tooling.ToolInstance, error) {
	return d.GetTool(ctx, toolID)
}

func (d *memoryData) LockMountedTools(_ context.Context, machineID tooling.MachineID) ([]tooling.ToolInstance, error) {
	var out []tooling.ToolInstance
	for _, t := range d.tools {
		if t.MountedOn != nil && *t.MountedOn == machineID && t.State == tooling.StateInUse {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (d *memoryData) UpdateTool(_ context.Context, tool tooling.ToolInstance) error {
	key := tool.ID.String()
	if _, ok := d.tools[key]; !ok {
		return &tooling.NotFoundError{Entity: "tool", ID: key}
	}
	d.tools[key] = tool.Clone()
	return nil
}

func (d *memoryData) ListTools(_ context.Context, filter tooling.ToolFilter) ([]tooling.ToolInstance, error) {
	var out []tooling.ToolInstance
	for _, key := range d.toolOrder {
		t := d.tools[key]
		if filter.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (d *memoryData) AppendUsage(_ context.Context, rec tooling.UsageRecord) error {
	key := rec.ToolID.String()
	if _, ok := d.tools[key]; !ok {
		return &tooling.NotFoundError{Entity: "tool", ID: key}
	}
	if rec.EstimatedLife != nil {
		life := *rec.EstimatedLife
		rec.EstimatedLife = &life
	}
	d.usage[key] = append(d.usage[key], rec)
	return nil
}

func (d *memoryData) LoadUsage(_ context.Context, toolID id.ID) ([]tooling.UsageRecord, error) {
	recs := d.usage[toolID.String()]
	return append([]tooling.UsageRecord(nil), recs...), nil
}

func (d *memoryData) GetCatalogItem(_ context.Context, ref tooling.CatalogRef) (*tooling.CatalogItem, error) {
	item, ok := d.catalog[ref]
	if !ok {
		return nil, &tooling.NotFoundError{Entity: "catalog item", ID: string(ref)}
	}
	return &item, nil
}

func (d *memoryData) SaveCatalogItem(_ context.Context, item tooling.CatalogItem) error {
	d.catalog[item.Ref] = item
	return nil
}

func (d *memoryData) GetWorkOrderCost(_ context.Context, workOrderID tooling.WorkOrderID) (*tooling.WorkOrderCost, error) {
	wo, ok := d.workOrders[workOrderID]
	if !ok {
		return nil, &tooling.NotFoundError{Entity: "work order", ID: string(workOrderID)}
	}
	return &wo, nil
}

func (d *memoryData) SaveWorkOrder(_ context.Context, wo tooling.WorkOrderCost) error {
	d.workOrders[wo.ID] = wo
	return nil
}

func (d *memoryData) IncrementOverheads(_ context.Context, workOrderID tooling.WorkOrderID, delta tooling.Money) error {
	wo, ok := d.workOrders[workOrderID]
	if !ok {
		return &tooling.NotFoundError{Entity: "work order", ID: string(workOrderID)}
	}
	wo.Overheads = wo.Overheads.Add(delta)
	wo.Total = wo.Total.Add(delta)
	d.workOrders[workOrderID] = wo
	return nil
}

func (d *memoryData) AppendAdjustments(_ context.Context, adjs []tooling.CostAdjustment) error {
	for _, a := range adjs {
		key := a.ToolID.String()
		d.adjustments[key] = append(d.adjustments[key], a)
	}
	return nil
}

func (d *memoryData) LoadAdjustments(_ context.Context, toolID id.ID) ([]tooling.CostAdjustment, error) {
	return append([]tooling.CostAdjustment(nil), d.adjustments[toolID.String()]...), nil
}

// =============================================================================
// AUDIT RUNS
// =============================================================================

func (m *Memory) SaveAuditRun(_ context.Context, run tooling.AuditRun) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListAuditRuns(_ context.Context, limit int) ([]tooling.AuditRun, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	var out []tooling.AuditRun
	for i := len(m.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, m.runs[i])
	}
	return out, nil
}
