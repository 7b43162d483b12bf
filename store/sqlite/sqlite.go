/*
Package sqlite provides a SQLite-backed implementation of the tooling store.

PURPOSE:
  Implements tooling.TxStore and tooling.AuditRunStore on a single SQLite
  file. Suitable for one-node deployments, development and tests. Multi-node
  deployments use store/postgres.

KEY TABLES:
  catalog_items:    Read-only tool definitions (seeded)
  work_orders:      Work order cost accumulators (materials/labor/overheads/total)
  tool_instances:   Physical tools and their lifecycle state
  usage_records:    Immutable wear log (append-only, enforced by trigger)
  cost_adjustments: Reconciliation lines (append-only, enforced by trigger)
  audit_runs:       History of integrity audits

DECIMALS:
  Money and quantities are stored as TEXT in decimal notation, never REAL.
  Increments are read-modify-write in Go under the transaction's write lock.

CONCURRENCY:
  The database is opened with _txlock=immediate, so every WithTx starts with
  BEGIN IMMEDIATE and holds the single SQLite write lock until commit. That
  is coarser than row locks but gives the same guarantee: no other writer
  touches a tool between LockTool and commit. An in-process mutex serializes
  WithTx calls so writers queue in Go instead of spinning on SQLITE_BUSY.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/tooling.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := tooling.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). PostgreSQL uses versioned goose
  migrations instead (store/postgres/migrations).

SEE ALSO:
  - tooling/store.go: Interface definitions
  - tooling/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/JorgeZavalaO/torno-app-sub000/id"
	"github.com/JorgeZavalaO/torno-app-sub000/tooling"
)

// Store implements tooling.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes WithTx
	conn
}

var (
	_ tooling.TxStore       = (*Store)(nil)
	_ tooling.AuditRunStore = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, conn: conn{q: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS catalog_items (
		ref TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		default_estimated_life TEXT,
		unit_cost_hint TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS work_orders (
		id TEXT PRIMARY KEY,
		cost_materials TEXT NOT NULL DEFAULT '0',
		cost_labor TEXT NOT NULL DEFAULT '0',
		cost_overheads TEXT NOT NULL DEFAULT '0',
		cost_total TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tool_instances (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		catalog_ref TEXT NOT NULL REFERENCES catalog_items(ref),
		location TEXT NOT NULL DEFAULT '',
		initial_cost TEXT NOT NULL,
		estimated_life TEXT,
		accumulated_life TEXT NOT NULL DEFAULT '0',
		state TEXT NOT NULL,
		mounted_on TEXT,
		retired_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Hot path: tools mounted on a machine at production time
	CREATE INDEX IF NOT EXISTS idx_tool_instances_mounted
		ON tool_instances(mounted_on, state) WHERE mounted_on IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_tool_instances_state
		ON tool_instances(state);

	-- Usage records (append-only wear log)
	CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		tool_id TEXT NOT NULL REFERENCES tool_instances(id),
		work_order_id TEXT NOT NULL REFERENCES work_orders(id),
		quantity TEXT NOT NULL,
		state_before TEXT NOT NULL,
		state_after TEXT NOT NULL,
		estimated_life TEXT,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_records_tool
		ON usage_records(tool_id);
	CREATE INDEX IF NOT EXISTS idx_usage_records_work_order
		ON usage_records(work_order_id);

	CREATE TRIGGER IF NOT EXISTS usage_records_no_update
		BEFORE UPDATE ON usage_records
		BEGIN SELECT RAISE(ABORT, 'usage_records is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS usage_records_no_delete
		BEFORE DELETE ON usage_records
		BEGIN SELECT RAISE(ABORT, 'usage_records is append-only'); END;

	-- Reconciliation lines
	CREATE TABLE IF NOT EXISTS cost_adjustments (
		id TEXT PRIMARY KEY,
		tool_id TEXT NOT NULL REFERENCES tool_instances(id),
		usage_id TEXT NOT NULL REFERENCES usage_records(id),
		work_order_id TEXT NOT NULL REFERENCES work_orders(id),
		quantity TEXT NOT NULL,
		real_cost TEXT NOT NULL,
		original_estimate TEXT NOT NULL,
		adjustment TEXT NOT NULL,
		applied BOOLEAN NOT NULL,
		final_state TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cost_adjustments_tool
		ON cost_adjustments(tool_id);

	CREATE TRIGGER IF NOT EXISTS cost_adjustments_no_update
		BEFORE UPDATE ON cost_adjustments
		BEGIN SELECT RAISE(ABORT, 'cost_adjustments is append-only'); END;

	-- Integrity audit runs
	CREATE TABLE IF NOT EXISTS audit_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		tools_checked INTEGER NOT NULL DEFAULT 0,
		findings_json TEXT,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (tooling.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store tooling.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(conn{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// IncrementOverheads outside a transaction runs in its own, so the
// read-modify-write can't interleave with another writer.
func (s *Store) IncrementOverheads(ctx context.Context, workOrderID tooling.WorkOrderID, delta tooling.Money) error {
	return s.WithTx(ctx, func(tx tooling.Store) error {
		return tx.IncrementOverheads(ctx, workOrderID, delta)
	})
}

// =============================================================================
// CONN - Queries shared by the store and its transactions
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs queries against either *sql.DB or *sql.Tx.
type conn struct {
	q querier
}

const toolColumns = `id, code, catalog_ref, location, initial_cost, estimated_life,
	accumulated_life, state, mounted_on, retired_at, created_at, updated_at`

func (c conn) CreateTool(ctx context.Context, t tooling.ToolInstance) error {
	query := `INSERT INTO tool_instances (` + toolColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := c.q.ExecContext(ctx, query,
		t.ID, t.Code, string(t.CatalogRef), t.Location,
		t.InitialCost.String(), nullDecimal(t.EstimatedLife), t.AccumulatedLife.String(),
		string(t.State), nullMachine(t.MountedOn), nullTime(t.RetiredAt),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "tool_instances.code") {
			return &tooling.DuplicateCodeError{Code: t.Code}
		}
		if isForeignKeyViolation(err) {
			return &tooling.NotFoundError{Entity: "catalog item", ID: string(t.CatalogRef)}
		}
		return fmt.Errorf("failed to insert tool: %w", err)
	}
	return nil
}

func (c conn) GetTool(ctx context.Context, toolID id.ID) (*tooling.ToolInstance, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+toolColumns+` FROM tool_instances WHERE id = ?`, toolID)
	t, err := scanTool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &tooling.NotFoundError{Entity: "tool", ID: toolID.String()}
	}
	return t, err
}

// LockTool relies on BEGIN IMMEDIATE: the transaction already holds the
// database write lock.
func (c conn) LockTool(ctx context.Context, toolID id.ID) (*tooling.ToolInstance, error) {
	return c.GetTool(ctx, toolID)
}

func (c conn) LockMountedTools(ctx context.Context, machineID tooling.MachineID) ([]tooling.ToolInstance, error) {
	return c.queryTools(ctx,
		`SELECT `+toolColumns+` FROM tool_instances
		WHERE mounted_on = ? AND state = ?
		ORDER BY id`,
		string(machineID), string(tooling.StateInUse),
	)
}

func (c conn) UpdateTool(ctx context.Context, t tooling.ToolInstance) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE tool_instances SET
			location = ?, estimated_life = ?, accumulated_life = ?, state = ?,
			mounted_on = ?, retired_at = ?, updated_at = ?
		WHERE id = ?`,
		t.Location, nullDecimal(t.EstimatedLife), t.AccumulatedLife.String(), string(t.State),
		nullMachine(t.MountedOn), nullTime(t.RetiredAt), formatTime(t.UpdatedAt),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update tool: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &tooling.NotFoundError{Entity: "tool", ID: t.ID.String()}
	}
	return nil
}

func (c conn) ListTools(ctx context.Context, f tooling.ToolFilter) ([]tooling.ToolInstance, error) {
	query := `SELECT ` + toolColumns + ` FROM tool_instances WHERE 1=1`
	var args []any
	if f.State != "" {
		query += ` AND state = ?`
		args = append(args, string(f.State))
	}
	if f.MachineID != "" {
		query += ` AND mounted_on = ?`
		args = append(args, string(f.MachineID))
	}
	query += ` ORDER BY rowid`
	return c.queryTools(ctx, query, args...)
}

func (c conn) queryTools(ctx context.Context, query string, args ...any) ([]tooling.ToolInstance, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tools: %w", err)
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
	return tools, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTool(row scanner) (*tooling.ToolInstance, error) {
	var (
		t                    tooling.ToolInstance
		catalogRef, state    string
		initialCost, accLife string
		estimatedLife        sql.NullString
		mountedOn, retiredAt sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&t.ID, &t.Code, &catalogRef, &t.Location, &initialCost, &estimatedLife,
		&accLife, &state, &mountedOn, &retiredAt, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan tool: %w", err)
	}

	t.CatalogRef = tooling.CatalogRef(catalogRef)
	t.State = tooling.ToolState(state)
	if mountedOn.Valid {
		m := tooling.MachineID(mountedOn.String)
		t.MountedOn = &m
	}

	var errs []error
	t.InitialCost, err = decimal.NewFromString(initialCost)
	errs = append(errs, err)
	t.AccumulatedLife, err = decimal.NewFromString(accLife)
	errs = append(errs, err)
	t.EstimatedLife, err = parseNullDecimal(estimatedLife)
	errs = append(errs, err)
	t.RetiredAt, err = parseNullTime(retiredAt)
	errs = append(errs, err)
	t.CreatedAt, err = parseTime(createdAt)
	errs = append(errs, err)
	t.UpdatedAt, err = parseTime(updatedAt)
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
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO usage_records
		(id, tool_id, work_order_id, quantity, state_before, state_after, estimated_life, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ToolID, string(r.WorkOrderID), r.Quantity.String(),
		string(r.StateBefore), string(r.StateAfter), nullDecimal(r.EstimatedLife),
		formatTime(r.RecordedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return &tooling.NotFoundError{Entity: "work order", ID: string(r.WorkOrderID)}
		}
		return fmt.Errorf("failed to append usage: %w", err)
	}
	return nil
}

func (c conn) LoadUsage(ctx context.Context, toolID id.ID) ([]tooling.UsageRecord, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, tool_id, work_order_id, quantity, state_before, state_after, estimated_life, recorded_at
		FROM usage_records
		WHERE tool_id = ?
		ORDER BY rowid`,
		toolID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var records []tooling.UsageRecord
	for rows.Next() {
		var (
			r                       tooling.UsageRecord
			workOrder, qty          string
			stateBefore, stateAfter string
			estimatedLife           sql.NullString
			recordedAt              string
		)
		if err := rows.Scan(&r.ID, &r.ToolID, &workOrder, &qty, &stateBefore, &stateAfter, &estimatedLife, &recordedAt); err != nil {
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
		r.RecordedAt, err = parseTime(recordedAt)
		errs = append(errs, err)
		if err := errors.Join(errs...); err != nil {
			return nil, fmt.Errorf("corrupt usage row %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// =============================================================================
// CATALOG
// =============================================================================

func (c conn) GetCatalogItem(ctx context.Context, ref tooling.CatalogRef) (*tooling.CatalogItem, error) {
	var (
		item        tooling.CatalogItem
		defaultLife sql.NullString
		hint        string
	)
	err := c.q.QueryRowContext(ctx,
		`SELECT name, default_estimated_life, unit_cost_hint FROM catalog_items WHERE ref = ?`,
		string(ref),
	).Scan(&item.Name, &defaultLife, &hint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &tooling.NotFoundError{Entity: "catalog item", ID: string(ref)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog item: %w", err)
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
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO catalog_items (ref, name, default_estimated_life, unit_cost_hint)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(ref) DO UPDATE SET
			name = excluded.name,
			default_estimated_life = excluded.default_estimated_life,
			unit_cost_hint = excluded.unit_cost_hint`,
		string(item.Ref), item.Name, nullDecimal(item.DefaultEstimatedLife), item.UnitCostHint.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save catalog item: %w", err)
	}
	return nil
}

// =============================================================================
// WORK ORDERS
// =============================================================================

func (c conn) GetWorkOrderCost(ctx context.Context, workOrderID tooling.WorkOrderID) (*tooling.WorkOrderCost, error) {
	var materials, labor, overheads, total, updatedAt string
	err := c.q.QueryRowContext(ctx, `
		SELECT cost_materials, cost_labor, cost_overheads, cost_total, updated_at
		FROM work_orders WHERE id = ?`,
		string(workOrderID),
	).Scan(&materials, &labor, &overheads, &total, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &tooling.NotFoundError{Entity: "work order", ID: string(workOrderID)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work order: %w", err)
	}

	wo := tooling.WorkOrderCost{ID: workOrderID}
	var errs []error
	wo.Materials, err = decimal.NewFromString(materials)
	errs = append(errs, err)
	wo.Labor, err = decimal.NewFromString(labor)
	errs = append(errs, err)
	wo.Overheads, err = decimal.NewFromString(overheads)
	errs = append(errs, err)
	wo.Total, err = decimal.NewFromString(total)
	errs = append(errs, err)
	wo.UpdatedAt, err = parseTime(updatedAt)
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
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO work_orders (id, cost_materials, cost_labor, cost_overheads, cost_total, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cost_materials = excluded.cost_materials,
			cost_labor = excluded.cost_labor,
			cost_overheads = excluded.cost_overheads,
			cost_total = excluded.cost_total,
			updated_at = excluded.updated_at`,
		string(wo.ID), wo.Materials.String(), wo.Labor.String(),
		wo.Overheads.String(), wo.Total.String(), formatTime(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save work order: %w", err)
	}
	return nil
}

// IncrementOverheads adds delta to overheads and total. It reads the row,
// adds in Go and writes both columns back, so it must run under the
// transaction's write lock; Store.IncrementOverheads opens one.
func (c conn) IncrementOverheads(ctx context.Context, workOrderID tooling.WorkOrderID, delta tooling.Money) error {
	wo, err := c.GetWorkOrderCost(ctx, workOrderID)
	if err != nil {
		return err
	}

	_, err = c.q.ExecContext(ctx, `
		UPDATE work_orders SET cost_overheads = ?, cost_total = ?, updated_at = ?
		WHERE id = ?`,
		wo.Overheads.Add(delta).String(), wo.Total.Add(delta).String(), formatTime(time.Now()),
		string(workOrderID),
	)
	if err != nil {
		return fmt.Errorf("failed to increment overheads: %w", err)
	}
	return nil
}

// =============================================================================
// COST ADJUSTMENTS (append-only)
// =============================================================================

func (c conn) AppendAdjustments(ctx context.Context, adjs []tooling.CostAdjustment) error {
	for _, a := range adjs {
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO cost_adjustments
			(id, tool_id, usage_id, work_order_id, quantity, real_cost, original_estimate,
			 adjustment, applied, final_state, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.ToolID, a.UsageID, string(a.WorkOrderID), a.Quantity.String(),
			a.RealCost.String(), a.OriginalEstimate.String(), a.Adjustment.String(),
			a.Applied, string(a.FinalState), formatTime(a.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to append adjustment: %w", err)
		}
	}
	return nil
}

func (c conn) LoadAdjustments(ctx context.Context, toolID id.ID) ([]tooling.CostAdjustment, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, tool_id, usage_id, work_order_id, quantity, real_cost, original_estimate,
		       adjustment, applied, final_state, created_at
		FROM cost_adjustments
		WHERE tool_id = ?
		ORDER BY rowid`,
		toolID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjustments: %w", err)
	}
	defer rows.Close()

	var out []tooling.CostAdjustment
	for rows.Next() {
		var (
			a                                tooling.CostAdjustment
			workOrder, finalState, createdAt string
			qty, realCost, original, adj     string
		)
		if err := rows.Scan(
			&a.ID, &a.ToolID, &a.UsageID, &workOrder, &qty, &realCost, &original,
			&adj, &a.Applied, &finalState, &createdAt,
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
		a.CreatedAt, err = parseTime(createdAt)
		errs = append(errs, err)
		if err := errors.Join(errs...); err != nil {
			return nil, fmt.Errorf("corrupt adjustment row %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed-width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullMachine(m *tooling.MachineID) sql.NullString {
	if m == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*m), Valid: true}
}

// isUniqueViolation reports a UNIQUE failure on column ("table.column").
func isUniqueViolation(err error, column string) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.ExtendedCode != sqlite3.ErrConstraintUnique {
		return false
	}
	return column == "" || strings.Contains(se.Error(), column)
}

func isForeignKeyViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
