package report_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JorgeZavalaO/torno-app-sub000/id"
	"github.com/JorgeZavalaO/torno-app-sub000/report"
	"github.com/JorgeZavalaO/torno-app-sub000/tooling"
)

func TestWriteReconciliation(t *testing.T) {
	retired := time.Date(2025, 5, 2, 14, 30, 0, 0, time.UTC)
	tool := tooling.ToolInstance{
		ID:              id.NewToolID(),
		Code:            "T-001",
		CatalogRef:      "INS-1",
		InitialCost:     tooling.MustDecimal("50"),
		AccumulatedLife: tooling.MustDecimal("10"),
		State:           tooling.StateBroken,
		RetiredAt:       &retired,
	}
	lines := []tooling.CostAdjustment{
		{
			UsageID: id.NewUsageID(), WorkOrderID: "OT-1",
			Quantity: tooling.MustDecimal("9.99"), RealCost: tooling.MustDecimal("49.95"),
			OriginalEstimate: tooling.MustDecimal("4.995"), Adjustment: tooling.MustDecimal("44.955"),
			Applied: true, FinalState: tooling.StateBroken, CreatedAt: retired,
		},
		{
			UsageID: id.NewUsageID(), WorkOrderID: "OT-2",
			Quantity: tooling.MustDecimal("0.01"), RealCost: tooling.MustDecimal("0.05"),
			OriginalEstimate: tooling.MustDecimal("0.045"), Adjustment: tooling.MustDecimal("0.005"),
			Applied: false, FinalState: tooling.StateBroken, CreatedAt: retired,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, report.WriteReconciliation(&buf, tool, lines))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Summary", "Adjustments"}, f.GetSheetList())

	summary, err := f.GetRows("Summary")
	require.NoError(t, err)
	values := make(map[string]string)
	for _, row := range summary {
		// Trailing empty cells are dropped by GetRows.
		if len(row) == 2 {
			values[row[0]] = row[1]
		} else {
			values[row[0]] = ""
		}
	}
	assert.Equal(t, "T-001", values["code"])
	assert.Equal(t, "BROKEN", values["state"])
	assert.Equal(t, "", values["estimated_life"])
	assert.Equal(t, "2025-05-02 14:30:00", values["retired_at"])
	assert.Equal(t, "50", values["real_cost_total"])
	assert.Equal(t, "44.955", values["net_adjustment"])
	assert.Equal(t, "1", values["applied_lines"])

	rows, err := f.GetRows("Adjustments")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "work_order_id", rows[0][1])
	assert.Equal(t, "OT-1", rows[1][1])
	assert.Equal(t, "44.955", rows[1][5])
	assert.Equal(t, "TRUE", rows[1][6])
	assert.Equal(t, "FALSE", rows[2][6])
}

func TestWriteReconciliation_NoLines(t *testing.T) {
	var buf bytes.Buffer
	tool := tooling.ToolInstance{ID: id.NewToolID(), Code: "T-2", State: tooling.StateLost}
	require.NoError(t, report.WriteReconciliation(&buf, tool, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Adjustments")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
