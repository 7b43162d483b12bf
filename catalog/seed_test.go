package catalog_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JorgeZavalaO/torno-app-sub000/catalog"
	"github.com/JorgeZavalaO/torno-app-sub000/tooling"
	"github.com/JorgeZavalaO/torno-app-sub000/tooling/store"
)

const seedYAML = `
catalog:
  - ref: INS-1
    name: Carbide insert
    default_estimated_life: "100"
    unit_cost_hint: 50
work_orders:
  - id: OT-1
    materials: "120.50"
    labor: "80"
tools:
  - code: T-1
    catalog_ref: INS-1
    location: Crib A
    initial_cost: "50"
    mounted_on: LATHE-01
  - code: T-2
    catalog_ref: INS-1
    initial_cost: "30"
    estimated_life: "60"
`

func TestParse(t *testing.T) {
	seed, err := catalog.Parse([]byte(seedYAML))
	require.NoError(t, err)

	require.Len(t, seed.Items, 1)
	assert.Equal(t, tooling.CatalogRef("INS-1"), seed.Items[0].Ref)
	require.NotNil(t, seed.Items[0].DefaultEstimatedLife)
	assert.Equal(t, "100", seed.Items[0].DefaultEstimatedLife.String())
	assert.Equal(t, "50", seed.Items[0].UnitCostHint.String())

	require.Len(t, seed.WorkOrders, 1)
	wo := seed.WorkOrders[0]
	assert.Equal(t, "200.5", wo.Total.String())
	assert.True(t, wo.Overheads.IsZero())
	assert.True(t, wo.Balanced())

	require.Len(t, seed.Tools, 2)
	assert.Equal(t, tooling.MachineID("LATHE-01"), seed.Tools[0].MountedOn)
	assert.Nil(t, seed.Tools[0].Input.EstimatedLife)
	require.NotNil(t, seed.Tools[1].Input.EstimatedLife)
	assert.Equal(t, "60", seed.Tools[1].Input.EstimatedLife.String())
}

func TestParse_ReportsEveryProblem(t *testing.T) {
	bad := `
catalog:
  - name: no ref
  - ref: X
    default_estimated_life: "0"
work_orders:
  - id: OT-1
    labor: "-5"
tools:
  - code: T-1
    catalog_ref: MISSING
    initial_cost: "1"
  - code: ""
    catalog_ref: X
    initial_cost: abc
`
	_, err := catalog.Parse([]byte(bad))
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "catalog[0]: ref is required")
	assert.Contains(t, msg, "catalog[1].default_estimated_life: must be positive")
	assert.Contains(t, msg, "work_orders[0].labor: must not be negative")
	assert.Contains(t, msg, `tools[0]: catalog_ref "MISSING" is not in this seed`)
	assert.Contains(t, msg, `tools[1].initial_cost: "abc" is not a decimal`)
	assert.Contains(t, msg, "tools[1]: invalid code")
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := catalog.Parse([]byte("catalog: [unterminated"))
	assert.ErrorContains(t, err, "decode seed")
}

func TestApply_IsIdempotent(t *testing.T) {
	// GIVEN: A seed applied once and 10 units produced on LATHE-01
	// WHEN: The same seed is applied again
	// THEN: Tools are created once and the work order keeps its charge

	ctx := context.Background()
	st := store.NewMemory()
	e := tooling.NewEngine(st, tooling.WithLogger(slog.New(slog.DiscardHandler)))

	seed, err := catalog.Parse([]byte(seedYAML))
	require.NoError(t, err)

	res, err := catalog.Apply(ctx, e, seed)
	require.NoError(t, err)
	assert.Equal(t, &catalog.Result{Items: 1, WorkOrders: 1, ToolsCreated: 2}, res)

	prod, err := e.RegisterMachineProduction(ctx, "OT-1", "LATHE-01", decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.Equal(t, "5", prod.ProvisionalCost.String())

	res, err = catalog.Apply(ctx, e, seed)
	require.NoError(t, err)
	assert.Equal(t, &catalog.Result{Items: 1, WorkOrdersSkipped: 1, ToolsSkipped: 2}, res)

	tools, err := e.ListTools(ctx, tooling.ToolFilter{})
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, tooling.StateInUse, tools[0].State)
	require.NotNil(t, tools[0].EstimatedLife)
	assert.Equal(t, "100", tools[0].EstimatedLife.String())
	assert.Equal(t, "10", tools[0].AccumulatedLife.String())
	assert.Equal(t, tooling.StateNew, tools[1].State)

	wo, err := e.WorkOrderCost(ctx, "OT-1")
	require.NoError(t, err)
	assert.Equal(t, "5", wo.Overheads.String(), "provisional charge must survive a reseed")
	assert.Equal(t, "205.5", wo.Total.String())
}

func TestLoadFile_Example(t *testing.T) {
	seed, err := catalog.LoadFile("../config/seed.example.yaml")
	require.NoError(t, err)
	assert.Len(t, seed.Items, 3)
	assert.Len(t, seed.WorkOrders, 2)
	assert.Len(t, seed.Tools, 3)
}
