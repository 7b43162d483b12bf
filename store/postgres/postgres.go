/*
Package postgres provides a PostgreSQL-backed implementation of the tooling store.

PURPOSE:
  Implements tooling.TxStore and tooling.AuditRunStore on a pgx connection
  pool. This is the multi-node store: several engine processes may share one
  database.

LOCKING:
  Transactions run at READ COMMITTED. LockTool and LockMountedTools use
  SELECT ... FOR UPDATE; LockMountedTools orders by id so overlapping
  production events acquire row locks in the same order. Work order costs are
  changed with a single relative UPDATE (overheads + delta, total + delta), so
  concurrent increments never lose an update.

DECIMALS:
  Columns are NUMERIC. Values cross the wire as text ($n::numeric on the way
  in, col::text on the way out) and are parsed with shopspring/decimal, so no
  float ever touches a cost.

ERRORS:
  unique_violation on tool code        -> *tooling.DuplicateCodeError
  foreign_key_violation                -> *tooling.NotFoundError
  serialization_failure, deadlock      -> *tooling.TransactionError (retryable)

MIGRATIONS:
  Versioned goose migrations are embedded from migrations/*.sql. Run them with
  Migrate (or `server migrate`) before New.

SEE ALSO:
  - tooling/store.go: Interface definitions
  - store/sqlite: single-node variant
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JorgeZavalaO/torno-app-sub000/id"
	"github.com/JorgeZavalaO/torno-app-sub000/tooling"
)

// PostgreSQL error codes handled by the store.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// Store implements tooling.TxStore using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	conn
}

var (
	_ tooling.TxStore       = (*Store)(nil)
	_ tooling.AuditRunStore = (*Store)(nil)
)

// New connects a pool to dsn and verifies it with a ping.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewWithPool(pool), nil
}

// NewWithPool wraps an existing pool. The caller keeps ownership of it.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, conn: conn{q: pool}}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// =============================================================================
// TRANSACTIONAL STORE (tooling.TxStore interface)
// =============================================================================

// WithTx executes fn within a READ COMMITTED transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store tooling.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(conn{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

// =============================================================================
// CONN - Queries shared by the pool and its transactions
// =============================================================================

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// conn runs queries against either *pgxpool.Pool or pgx.Tx.
type conn struct {
	q querier
}

const toolColumns = `id, code, catalog_ref, location, initial_cost::text, estimated_life::text,
	accumulated_life::text, state, mounted_on, retired_at, created_at, updated_at`

func (c conn) CreateTool(ctx context.Context, t tooling.ToolInstance) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO tool_instances
		(id, code, catalog_ref, location, initial_cost, estimated_life, accumulated_life,
		 state, mounted_on, retired_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11, $12)`,
		t.ID, t.Code, string(t.CatalogRef), t.Location,
		t.InitialCost.String(), nullDecimal(t.EstimatedLife), t.AccumulatedLife.String(),
		string(t.State), nullMachine(t.MountedOn), t.RetiredAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isConstraint(err, codeUniqueViolation, "tool_instances_code_key") {
			return &tooling.DuplicateCodeError{Code: t.Code}
		}
		if isConstraint(err, codeForeignKeyViolation, "") {
			return &tooling.NotFoundError{Entity: "catalog item", ID: string(t.CatalogRef)}
		}
		return classify("insert tool", err)
	}
	return nil
}

func (c conn) GetTool(ctx context.Context, toolID id.ID) (*tooling.ToolInstance, error) {
	return c.oneTool(ctx, `SELECT `+toolColumns+` FROM tool_instances WHERE id = $1`, toolID)
}

func (c conn) LockTool(ctx context.Context, toolID id.ID) (*tooling.ToolInstance, error) {
	return c.oneTool(ctx, `SELECT `+toolColumns+` FROM tool_instances WHERE id = $1 FOR UPDATE`, toolID)
}

func (c conn) oneTool(ctx context.Context, query string, toolID id.ID) (*tooling.ToolInstance, error) {
	t, err := scanTool(c.q.QueryRow(ctx, query, toolID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &tooling.NotFoundError{Entity: "tool", ID: toolID.String()}
	}
	if err != nil {
		return nil, classify("get tool", err)
	}
	return t, nil
}

func (c conn) LockMountedTools(ctx context.Context, machineID tooling.MachineID) ([]tooling.ToolInstance, error) {
	return c.queryTools(ctx,
		`SELECT `+toolColumns+` FROM tool_instances
		WHERE mounted_on = $1 AND state = $2
		ORDER BY id
		FOR UPDATE`,
		string(machineID), string(tooling.StateInUse),
	)
}

func (c conn) UpdateTool(ctx context.Context, t tooling.ToolInstance) error {
	tag, err := c.q.Exec(ctx, `
		UPDATE tool_instances SET
			location = $2, estimated_life = $3::numeric, accumulated_life = $4::numeric,
			state = $5, mounted_on = $6, retired_at = $7, updated_at = $8
		WHERE id = $1`,
		t.ID, t.Location, nullDecimal(t.EstimatedLife), t.AccumulatedLife.String(),
		string(t.State), nullMachine(t.MountedOn), t.RetiredAt, t.UpdatedAt,
	)
	if err != nil {
		return classify("update tool", err)
	}
	if tag.RowsAffected() == 0 {
		return &tooling.NotFoundError{Entity: "tool", ID: t.ID.String()}
	}
	return nil
}

func (c conn) ListTools(ctx context.Context, f tooling.ToolFilter) ([]tooling.ToolInstance, error) {
	query := `SELECT ` + toolColumns + ` FROM tool_instances WHERE 1=1`
	var args []any
	if f.State != "" {
		args = append(args, string(f.State))
		query += fmt.Sprintf(` AND state = $%d`, len(args))
	}
	if f.MachineID != "" {
		args = append(args, string(f.MachineID))
		query += fmt.Sprintf(` AND mounted_on = $%d`, len(args))
	}
	query += ` ORDER BY seq`
	return c.queryTools(ctx, query, args...)
}

func (c conn) queryTools(ctx context.Context, query string, args ...any) ([]tooling.ToolInstance, error) {
	rows, err := c.q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("query tools", err)
	}
	defer rows.Close()

	var tools []tooling.ToolInstance
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		tools = append(tools, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query tools", err)
	}
	return tools, nil
}

func scanTool(row pgx.Row) (*tooling.ToolInstance, error) {
	var (
		t                    tooling.ToolInstance
		catalogRef, state    string
		initialCost, accLife string
		estimatedLife        *string
		mountedOn            *string
	)
	err := row.Scan(
		&t.ID, &t.Code, &catalogRef, &t.Location, &initialCost, &estimatedLife,
		&accLife, &state, &mountedOn, &t.RetiredAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.CatalogRef = tooling.CatalogRef(catalogRef)
	t.State = tooling.ToolState(state)
	if mountedOn != nil {
		m := tooling.MachineID(*mountedOn)
		t.MountedOn = &m
	}

	var errs []error
	t.InitialCost, err = decimal.NewFromString(initialCost)
	errs = append(errs, err)
	t.AccumulatedLife, err = decimal.NewFromString(accLife)
	errs = append(errs, err)
	t.EstimatedLife, err = parseNullDecimal(estimatedLife)
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("corrupt tool row %s: %w", t.ID, err)
	}
	return &t, nil
}

// =============================================================================
// USAGE RECORDS (append-only)
// =============================================================================

func (c conn) AppendUsage(ctx context.Context, r tooling.UsageRecord) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO usage_records
		(id, tool_id, work_order_id, quantity, state_before, state_after, estimated_life, recorded_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7::numeric, $8)`,
		r.ID, r.ToolID, string(r.WorkOrderID), r.Quantity.String(),
		string(r.StateBefore), string(r.StateAfter), nullDecimal(r.EstimatedLife), r.RecordedAt,
	)
	if err != nil {
		if isConstraint(err, codeForeignKeyViolation, "") {
			return &tooling.NotFoundError{Entity: "work order", ID: string(r.WorkOrderID)}
		}
		return classify("append usage", err)
	}
	return nil
}

func (c conn) LoadUsage(ctx context.Context, toolID id.ID) ([]tooling.UsageRecord, error) {
	rows, err := c.q.Query(ctx, `
		SELECT id, tool_id, work_order_id, quantity::text, state_before, state_after,
		       estimated_life::text, recorded_at
		FROM usage_records
		WHERE tool_id = $1
		ORDER BY seq`,
		toolID,
	)
	if err != nil {
		return nil, classify("query usage", err)
	}
	defer rows.Close()

	var records []tooling.UsageRecord
	for rows.Next() {
		var (
			r                       tooling.UsageRecord
			workOrder, qty          string
			stateBefore, stateAfter string
			estimatedLife           *string
		)
		if err := rows.Scan(&r.ID, &r.ToolID, &workOrder, &qty, &stateBefore, &stateAfter, &estimatedLife, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		r.WorkOrderID = tooling.WorkOrderID(workOrder)
		r.StateBefore = tooling.ToolState(stateBefore)
		r.StateAfter = tooling.ToolState(stateAfter)

		var errs []error
		r.Quantity, err = decimal.NewFromString(qty)
		errs = append(errs, err)
		r.EstimatedLife, err = parseNullDecimal(estimatedLife)
		errs = append(errs, err)
		if err := errors.Join(errs...); err != nil {
			return nil, fmt.Errorf("corrupt usage row %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query usage", err)
	}
	return records, nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (c conn) GetCatalogItem(ctx context.Context, ref tooling.CatalogRef) (*tooling.CatalogItem, error) {
	var (
		item        tooling.CatalogItem
		defaultLife *string
		hint        string
	)
	err := c.q.QueryRow(ctx,
		`SELECT name, default_estimated_life::text, unit_cost_hint::text FROM catalog_items WHERE ref = $1`,
		string(ref),
	).Scan(&item.Name, &defaultLife, &hint)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &tooling.NotFoundError{Entity: "catalog item", ID: string(ref)}
	}
	if err != nil {
		return nil, classify("get catalog item", err)
	}

	item.Ref = ref
	if item.DefaultEstimatedLife, err = parseNullDecimal(defaultLife); err != nil {
		return nil, err
	}
	if item.UnitCostHint, err = decimal.NewFromString(hint); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c conn) SaveCatalogItem(ctx context.Context, item tooling.CatalogItem) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO catalog_items (ref, name, default_estimated_life, unit_cost_hint)
		VALUES ($1, $2, $3::numeric, $4::numeric)
		ON CONFLICT (ref) DO UPDATE SET
			name = EXCLUDED.name,
			default_estimated_life = EXCLUDED.default_estimated_life,
			unit_cost_hint = EXCLUDED.unit_cost_hint`,
		string(item.Ref), item.Name, nullDecimal(item.DefaultEstimatedLife), item.UnitCostHint.String(),
	)
	if err != nil {
		return classify("save catalog item", err)
	}
	return nil
}

// =============================================================================
// WORK ORDERS
// =============================================================================

func (c conn) GetWorkOrderCost(ctx context.Context, workOrderID tooling.WorkOrderID) (*tooling.WorkOrderCost, error) {
	var materials, labor, overheads, total string
	wo := tooling.WorkOrderCost{ID: workOrderID}
	err := c.q.QueryRow(ctx, `
		SELECT cost_materials::text, cost_labor::text, cost_overheads::text, cost_total::text, updated_at
		FROM work_orders WHERE id = $1`,
		string(workOrderID),
	).Scan(&materials, &labor, &overheads, &total, &wo.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &tooling.NotFoundError{Entity: "work order", ID: string(workOrderID)}
	}
	if err != nil {
		return nil, classify("get work order", err)
	}

	var errs []error
	wo.Materials, err = decimal.NewFromString(materials)
	errs = append(errs, err)
	wo.Labor, err = decimal.NewFromString(labor)
	errs = append(errs, err)
	wo.Overheads, err = decimal.NewFromString(overheads)
	errs = append(errs, err)
	wo.Total, err = decimal.NewFromString(total)
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("corrupt work order row %s: %w", workOrderID, err)
	}
	return &wo, nil
}

func (c conn) SaveWorkOrder(ctx context.Context, wo tooling.WorkOrderCost) error {
	updatedAt := wo.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := c.q.Exec(ctx, `
		INSERT INTO work_orders (id, cost_materials, cost_labor, cost_overheads, cost_total, updated_at)
		VALUES ($1, $2::numeric, $3::numeric, $4::numeric, $5::numeric, $6)
		ON CONFLICT (id) DO UPDATE SET
			cost_materials = EXCLUDED.cost_materials,
			cost_labor = EXCLUDED.cost_labor,
			cost_overheads = EXCLUDED.cost_overheads,
			cost_total = EXCLUDED.cost_total,
			updated_at = EXCLUDED.updated_at`,
		string(wo.ID), wo.Materials.String(), wo.Labor.String(),
		wo.Overheads.String(), wo.Total.String(), updatedAt,
	)
	if err != nil {
		return classify("save work order", err)
	}
	return nil
}

// IncrementOverheads is a single relative UPDATE; safe outside a transaction.
func (c conn) IncrementOverheads(ctx context.Context, workOrderID tooling.WorkOrderID, delta tooling.Money) error {
	tag, err := c.q.Exec(ctx, `
		UPDATE work_orders SET
			cost_overheads = cost_overheads + $2::numeric,
			cost_total = cost_total + $2::numeric,
			updated_at = now()
		WHERE id = $1`,
		string(workOrderID), delta.String(),
	)
	if err != nil {
		return classify("increment overheads", err)
	}
	if tag.RowsAffected() == 0 {
		return &tooling.NotFoundError{Entity: "work order", ID: string(workOrderID)}
	}
	return nil
}

// =============================================================================
// COST ADJUSTMENTS (append-only)
// =============================================================================

func (c conn) AppendAdjustments(ctx context.Context, adjs []tooling.CostAdjustment) error {
	for _, a := range adjs {
		_, err := c.q.Exec(ctx, `
			INSERT INTO cost_adjustments
			(id, tool_id, usage_id, work_order_id, quantity, real_cost, original_estimate,
			 adjustment, applied, final_state, created_at)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11)`,
			a.ID, a.ToolID, a.UsageID, string(a.WorkOrderID), a.Quantity.String(),
			a.RealCost.String(), a.OriginalEstimate.String(), a.Adjustment.String(),
			a.Applied, string(a.FinalState), a.CreatedAt,
		)
		if err != nil {
			return classify("append adjustment", err)
		}
	}
	return nil
}

func (c conn) LoadAdjustments(ctx context.Context, toolID id.ID) ([]tooling.CostAdjustment, error) {
	rows, err := c.q.Query(ctx, `
		SELECT id, tool_id, usage_id, work_order_id, quantity::text, real_cost::text,
		       original_estimate::text, adjustment::text, applied, final_state, created_at
		FROM cost_adjustments
		WHERE tool_id = $1
		ORDER BY seq`,
		toolID,
	)
	if err != nil {
		return nil, classify("query adjustments", err)
	}
	defer rows.Close()

	var out []tooling.CostAdjustment
	for rows.Next() {
		var (
			a                            tooling.CostAdjustment
			workOrder, finalState        string
			qty, realCost, original, adj string
		)
		if err := rows.Scan(
			&a.ID, &a.ToolID, &a.UsageID, &workOrder, &qty, &realCost, &original,
			&adj, &a.Applied, &finalState, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		a.WorkOrderID = tooling.WorkOrderID(workOrder)
		a.FinalState = tooling.ToolState(finalState)

		var errs []error
		a.Quantity, err = decimal.NewFromString(qty)
		errs = append(errs, err)
		a.RealCost, err = decimal.NewFromString(realCost)
		errs = append(errs, err)
		a.OriginalEstimate, err = decimal.NewFromString(original)
		errs = append(errs, err)
		a.Adjustment, err = decimal.NewFromString(adj)
		errs = append(errs, err)
		if err := errors.Join(errs...); err != nil {
			return nil, fmt.Errorf("corrupt adjustment row %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query adjustments", err)
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullDecimal(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseNullDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullMachine(m *tooling.MachineID) *string {
	if m == nil {
		return nil
	}
	s := string(*m)
	return &s
}

// isConstraint reports a PostgreSQL error with the given SQLSTATE and, when
// constraint is non-empty, that constraint name.
func isConstraint(err error, code, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != code {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// classify turns lock contention failures into retryable transaction errors
// and wraps everything else with op.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return &tooling.TransactionError{Op: op, Err: err}
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
