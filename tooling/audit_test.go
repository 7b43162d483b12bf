package tooling_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JorgeZavalaO/torno-app-sub000/tooling"
)

func TestAudit_CleanAfterNormalLifecycle(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	a := mountedTool(t, e, "AU-1", "40", life("20"), machineLathe)
	mountedTool(t, e, "AU-2", "40", nil, machineLathe)
	_, err := e.RegisterMachineProduction(ctx, orderA, machineLathe, dec("8"))
	require.NoError(t, err)
	_, err = e.FinalizeToolLife(ctx, a.ID, tooling.StateWorn)
	require.NoError(t, err)

	report, err := tooling.Audit(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 2, report.ToolsChecked)
	assert.Empty(t, report.Findings)
}

func TestAudit_DetectsTampering(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	tool := mountedTool(t, e, "AU-3", "40", life("20"), machineLathe)

	tampered := *tool
	tampered.AccumulatedLife = dec("7")
	tampered.State = tooling.StateSharpened
	retired := time.Now()
	tampered.RetiredAt = &retired
	require.NoError(t, st.UpdateTool(ctx, tampered))

	report, err := tooling.Audit(ctx, st)
	require.NoError(t, err)

	codes := make(map[string]bool)
	for _, f := range report.Findings {
		assert.Equal(t, tool.ID, f.ToolID)
		codes[f.Code] = true
	}
	assert.True(t, codes[tooling.FindingLedgerImbalance])
	assert.True(t, codes[tooling.FindingRetiredAtMismatch])
	assert.True(t, codes[tooling.FindingMountedNotInUse])
}
