// Package report renders reconciliation audit lines as an XLSX workbook.
//
// Amounts are written as decimal text, exactly as stored, so the sheet
// never shows a float rounding artefact.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/JorgeZavalaO/torno-app-sub000/tooling"
)

const (
	summarySheet = "Summary"
	linesSheet   = "Adjustments"
)

var lineHeader = []any{
	"usage_id",
	"work_order_id",
	"quantity",
	"real_cost",
	"original_estimate",
	"adjustment",
	"applied",
	"final_state",
	"created_at",
}

// WriteReconciliation writes a two-sheet workbook for one tool: a summary of
// the tool and its reconciliation, and one row per adjustment line.
func WriteReconciliation(w io.Writer, tool tooling.ToolInstance, lines []tooling.CostAdjustment) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(linesSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	var realTotal, net tooling.Money
	applied := 0
	for _, l := range lines {
		realTotal = realTotal.Add(l.RealCost)
		if l.Applied {
			net = net.Add(l.Adjustment)
			applied++
		}
	}

	estimated := ""
	if tool.EstimatedLife != nil {
		estimated = tool.EstimatedLife.String()
	}
	retired := ""
	if tool.RetiredAt != nil {
		retired = tool.RetiredAt.UTC().Format("2006-01-02 15:04:05")
	}

	summary := [][]any{
		{"tool_id", tool.ID.String()},
		{"code", tool.Code},
		{"catalog_ref", string(tool.CatalogRef)},
		{"state", string(tool.State)},
		{"initial_cost", tool.InitialCost.String()},
		{"estimated_life", estimated},
		{"accumulated_life", tool.AccumulatedLife.String()},
		{"retired_at", retired},
		{"lines", len(lines)},
		{"applied_lines", applied},
		{"real_cost_total", realTotal.String()},
		{"net_adjustment", net.String()},
	}
	if err := setRows(f, summarySheet, summary); err != nil {
		return err
	}

	rows := make([][]any, 0, len(lines)+1)
	rows = append(rows, lineHeader)
	for _, l := range lines {
		rows = append(rows, []any{
			l.UsageID.String(),
			string(l.WorkOrderID),
			l.Quantity.String(),
			l.RealCost.String(),
			l.OriginalEstimate.String(),
			l.Adjustment.String(),
			l.Applied,
			string(l.FinalState),
			l.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	if err := setRows(f, linesSheet, rows); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
