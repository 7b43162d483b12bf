package sqlite_test

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JorgeZavalaO/torno-app-sub000/id"
	"github.com/JorgeZavalaO/torno-app-sub000/store/sqlite"
	"github.com/JorgeZavalaO/torno-app-sub000/tooling"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	estimated := decimal.RequireFromString("100")
	require.NoError(t, store.SaveCatalogItem(ctx, tooling.CatalogItem{
		Ref: "INS-1", Name: "Carbide insert", DefaultEstimatedLife: &estimated, UnitCostHint: decimal.RequireFromString("50"),
	}))
	require.NoError(t, store.SaveWorkOrder(ctx, tooling.NewWorkOrderCost("OT-1", decimal.Zero, decimal.Zero, decimal.Zero)))
	require.NoError(t, store.SaveWorkOrder(ctx, tooling.NewWorkOrderCost("OT-2", decimal.RequireFromString("10.5"), decimal.Zero, decimal.Zero)))
	return store
}

func newTestEngine(t *testing.T, store tooling.TxStore) *tooling.Engine {
	return tooling.NewEngine(store, tooling.WithLogger(slog.New(slog.DiscardHandler)))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// ENGINE ON SQLITE
// =============================================================================

func TestSQLite_EndToEnd(t *testing.T) {
	// GIVEN: A tool costing 50, estimated 100 units, mounted on LATHE-01
	// WHEN: 10 units are produced and the tool breaks
	// THEN: The work order carries the full 50 and the rows persist

	store := newTestStore(t)
	e := newTestEngine(t, store)
	ctx := context.Background()

	tool, err := e.CreateToolInstance(ctx, tooling.CreateToolInput{
		CatalogRef: "INS-1", Code: "T-001", Location: "Crib A", InitialCost: dec("50"),
	})
	require.NoError(t, err)
	require.NotNil(t, tool.EstimatedLife)
	assert.True(t, dec("100").Equal(*tool.EstimatedLife))

	_, err = e.MountOnMachine(ctx, tool.ID, "LATHE-01")
	require.NoError(t, err)

	prod, err := e.RegisterMachineProduction(ctx, "OT-1", "LATHE-01", dec("10"))
	require.NoError(t, err)
	assert.True(t, dec("5").Equal(prod.ProvisionalCost))

	wo, err := store.GetWorkOrderCost(ctx, "OT-1")
	require.NoError(t, err)
	assert.True(t, dec("5").Equal(wo.Overheads))

	res, err := e.FinalizeToolLife(ctx, tool.ID, tooling.StateBroken)
	require.NoError(t, err)
	assert.True(t, dec("45").Equal(res.NetAdjustment))

	wo, err = store.GetWorkOrderCost(ctx, "OT-1")
	require.NoError(t, err)
	assert.True(t, dec("50").Equal(wo.Overheads), "overheads %s", wo.Overheads)
	assert.True(t, dec("50").Equal(wo.Total))

	got, err := store.GetTool(ctx, tool.ID)
	require.NoError(t, err)
	assert.Equal(t, tooling.StateBroken, got.State)
	assert.Nil(t, got.MountedOn)
	require.NotNil(t, got.RetiredAt)
	assert.Equal(t, "Crib A", got.Location)
	assert.True(t, dec("10").Equal(got.AccumulatedLife))

	usage, err := store.LoadUsage(ctx, tool.ID)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, tooling.WorkOrderID("OT-1"), usage[0].WorkOrderID)
	require.NotNil(t, usage[0].EstimatedLife)
	assert.True(t, dec("100").Equal(*usage[0].EstimatedLife))

	adjs, err := store.LoadAdjustments(ctx, tool.ID)
	require.NoError(t, err)
	require.Len(t, adjs, 1)
	assert.True(t, adjs[0].Applied)
	assert.Equal(t, usage[0].ID, adjs[0].UsageID)
	assert.True(t, dec("45").Equal(adjs[0].Adjustment))

	report, err := e.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Findings)
}

func TestSQLite_DuplicateCode(t *testing.T) {
	store := newTestStore(t)
	e := newTestEngine(t, store)
	ctx := context.Background()

	in := tooling.CreateToolInput{CatalogRef: "INS-1", Code: "DUP", InitialCost: dec("1")}
	_, err := e.CreateToolInstance(ctx, in)
	require.NoError(t, err)

	_, err = e.CreateToolInstance(ctx, in)
	var dup *tooling.DuplicateCodeError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "DUP", dup.Code)
}

func TestSQLite_NotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetTool(ctx, id.NewToolID())
	assert.True(t, tooling.IsNotFound(err))

	_, err = store.GetCatalogItem(ctx, "MISSING")
	assert.True(t, tooling.IsNotFound(err))

	_, err = store.GetWorkOrderCost(ctx, "MISSING")
	assert.True(t, tooling.IsNotFound(err))

	err = store.IncrementOverheads(ctx, "MISSING", dec("1"))
	assert.True(t, tooling.IsNotFound(err))

	err = store.UpdateTool(ctx, tooling.ToolInstance{ID: id.NewToolID(), State: tooling.StateNew})
	assert.True(t, tooling.IsNotFound(err))
}

func TestSQLite_DecimalPrecisionSurvivesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.IncrementOverheads(ctx, "OT-2", dec("0.1")))
	require.NoError(t, store.IncrementOverheads(ctx, "OT-2", dec("0.2")))
	require.NoError(t, store.IncrementOverheads(ctx, "OT-2", dec("1.1428571428571429")))

	wo, err := store.GetWorkOrderCost(ctx, "OT-2")
	require.NoError(t, err)
	assert.Equal(t, "1.4428571428571429", wo.Overheads.String())
	assert.Equal(t, "11.9428571428571429", wo.Total.String())
	assert.True(t, wo.Balanced())
}

func TestSQLite_RollbackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx tooling.Store) error {
		require.NoError(t, tx.IncrementOverheads(ctx, "OT-1", dec("99")))
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	wo, err := store.GetWorkOrderCost(ctx, "OT-1")
	require.NoError(t, err)
	assert.True(t, wo.Overheads.IsZero())
}

func TestSQLite_ListToolsAndMountedOrder(t *testing.T) {
	store := newTestStore(t)
	e := newTestEngine(t, store)
	ctx := context.Background()

	var ids []id.ID
	for _, code := range []string{"A", "B", "C"} {
		tool, err := e.CreateToolInstance(ctx, tooling.CreateToolInput{CatalogRef: "INS-1", Code: code, InitialCost: dec("1")})
		require.NoError(t, err)
		ids = append(ids, tool.ID)
	}
	_, err := e.MountOnMachine(ctx, ids[2], "M1")
	require.NoError(t, err)
	_, err = e.MountOnMachine(ctx, ids[0], "M1")
	require.NoError(t, err)

	all, err := store.ListTools(ctx, tooling.ToolFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "A", all[0].Code)
	assert.Equal(t, "C", all[2].Code)

	newOnly, err := store.ListTools(ctx, tooling.ToolFilter{State: tooling.StateNew})
	require.NoError(t, err)
	require.Len(t, newOnly, 1)
	assert.Equal(t, "B", newOnly[0].Code)

	mounted, err := store.LockMountedTools(ctx, "M1")
	require.NoError(t, err)
	require.Len(t, mounted, 2)
	assert.Less(t, mounted[0].ID.String(), mounted[1].ID.String())
}

func TestSQLite_ConcurrentProductionOnFile(t *testing.T) {
	// GIVEN: A file-backed database shared by concurrent producers
	// THEN: No wear and no charge is lost

	store, err := sqlite.New(filepath.Join(t.TempDir(), "tooling.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	require.NoError(t, store.SaveCatalogItem(ctx, tooling.CatalogItem{Ref: "DRILL"}))
	require.NoError(t, store.SaveWorkOrder(ctx, tooling.NewWorkOrderCost("OT-9", decimal.Zero, decimal.Zero, decimal.Zero)))

	e := newTestEngine(t, store)
	estimated := dec("40")
	tool, err := e.CreateToolInstance(ctx, tooling.CreateToolInput{CatalogRef: "DRILL", Code: "D-1", InitialCost: dec("20"), EstimatedLife: &estimated})
	require.NoError(t, err)
	_, err = e.MountOnMachine(ctx, tool.ID, "DRILL-PRESS")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.RegisterMachineProduction(ctx, "OT-9", "DRILL-PRESS", dec("2"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.GetTool(ctx, tool.ID)
	require.NoError(t, err)
	assert.True(t, dec("20").Equal(got.AccumulatedLife), "accumulated %s", got.AccumulatedLife)

	wo, err := store.GetWorkOrderCost(ctx, "OT-9")
	require.NoError(t, err)
	assert.True(t, dec("10").Equal(wo.Overheads), "overheads %s", wo.Overheads)
}

func TestSQLite_FinalizeRacingProductionOnFile(t *testing.T) {
	// GIVEN: A charged, mounted tool in a file-backed database
	// WHEN: It is finalized while concurrent production targets its machine
	// THEN: Every usage record predates retirement and the cost is conserved

	store, err := sqlite.New(filepath.Join(t.TempDir(), "tooling.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	require.NoError(t, store.SaveCatalogItem(ctx, tooling.CatalogItem{Ref: "DRILL"}))
	require.NoError(t, store.SaveWorkOrder(ctx, tooling.NewWorkOrderCost("OT-9", decimal.Zero, decimal.Zero, decimal.Zero)))

	e := newTestEngine(t, store)
	estimated := dec("30")
	tool, err := e.CreateToolInstance(ctx, tooling.CreateToolInput{CatalogRef: "DRILL", Code: "D-1", InitialCost: dec("50"), EstimatedLife: &estimated})
	require.NoError(t, err)
	_, err = e.MountOnMachine(ctx, tool.ID, "DRILL-PRESS")
	require.NoError(t, err)
	_, err = e.RegisterMachineProduction(ctx, "OT-9", "DRILL-PRESS", dec("3"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == 6 {
				_, err := e.FinalizeToolLife(ctx, tool.ID, tooling.StateBroken)
				assert.NoError(t, err)
			}
			_, err := e.RegisterMachineProduction(ctx, "OT-9", "DRILL-PRESS", dec("3"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := store.GetTool(ctx, tool.ID)
	require.NoError(t, err)
	require.Equal(t, tooling.StateBroken, got.State)
	require.NotNil(t, got.RetiredAt)
	assert.Nil(t, got.MountedOn)

	hist, err := e.UsageHistory(ctx, tool.ID)
	require.NoError(t, err)
	assert.True(t, tooling.SumUsage(hist).Equal(got.AccumulatedLife), "usage sum %s, accumulated %s", tooling.SumUsage(hist), got.AccumulatedLife)
	for _, rec := range hist {
		assert.False(t, rec.RecordedAt.After(*got.RetiredAt), "usage %s recorded after retirement", rec.ID)
	}

	report, err := e.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Findings)

	wo, err := store.GetWorkOrderCost(ctx, "OT-9")
	require.NoError(t, err)
	slack := tooling.AdjustmentTolerance.Mul(decimal.NewFromInt(int64(len(hist))))
	drift := wo.Overheads.Sub(dec("50")).Abs()
	assert.True(t, drift.LessThanOrEqual(slack), "overheads %s, drift %s exceeds %s", wo.Overheads, drift, slack)
}

func TestSQLite_AuditRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	run := tooling.AuditRun{ID: "run-1", Status: tooling.AuditRunning, StartedAt: started}
	require.NoError(t, store.SaveAuditRun(ctx, run))

	done := started.Add(2 * time.Second)
	run.Status = tooling.AuditCompleted
	run.ToolsChecked = 3
	run.CompletedAt = &done
	run.Findings = []tooling.AuditFinding{{ToolID: id.NewToolID(), Code: tooling.FindingLedgerImbalance, Message: "off by 1"}}
	require.NoError(t, store.SaveAuditRun(ctx, run))

	later := tooling.AuditRun{ID: "run-2", Status: tooling.AuditRunning, StartedAt: started.Add(time.Hour)}
	require.NoError(t, store.SaveAuditRun(ctx, later))

	runs, err := store.ListAuditRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, tooling.AuditCompleted, runs[1].Status)
	assert.Equal(t, 3, runs[1].ToolsChecked)
	require.Len(t, runs[1].Findings, 1)
	assert.Equal(t, tooling.FindingLedgerImbalance, runs[1].Findings[0].Code)
	require.NotNil(t, runs[1].CompletedAt)
	assert.True(t, done.Equal(*runs[1].CompletedAt))

	limited, err := store.ListAuditRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
