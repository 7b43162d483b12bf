/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Full tool lifecycle over HTTP (create, mount, produce, finalize)
- Error kind to status mapping
- XLSX export
- Integrity auditor endpoints and background loop
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JorgeZavalaO/torno-app-sub000/id"
	"github.com/JorgeZavalaO/torno-app-sub000/metrics"
	"github.com/JorgeZavalaO/torno-app-sub000/tooling"
	"github.com/JorgeZavalaO/torno-app-sub000/tooling/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	router  http.Handler
	engine  *tooling.Engine
	store   *store.Memory
	auditor *IntegrityAuditor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.DiscardHandler)

	st := store.NewMemory()
	life := decimal.RequireFromString("100")
	require.NoError(t, st.SaveCatalogItem(ctx, tooling.CatalogItem{Ref: "INS-1", Name: "Insert", DefaultEstimatedLife: &life}))
	require.NoError(t, st.SaveWorkOrder(ctx, tooling.NewWorkOrderCost("OT-1", decimal.Zero, decimal.Zero, decimal.Zero)))

	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	engine := tooling.NewEngine(st, tooling.WithLogger(log), tooling.WithRecorder(rec))

	h := NewHandler(engine, log)
	h.Auditor = NewIntegrityAuditor(engine, st, log)
	h.Auditor.Observer = rec

	router := NewRouter(h, RouterOptions{Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})})
	return &testServer{router: router, engine: engine, store: st, auditor: h.Auditor}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func (s *testServer) createTool(t *testing.T, code string) ToolDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/tools", CreateToolRequest{CatalogRef: "INS-1", Code: code, InitialCost: "50"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[ToolDTO](t, rec)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestAPI_ToolLifecycle(t *testing.T) {
	// GIVEN: A tool costing 50 with the catalog's 100-unit life
	// WHEN: It is mounted, produces 10 units and breaks
	// THEN: The work order ends with 50 in overheads

	s := newTestServer(t)
	tool := s.createTool(t, "T-001")
	assert.Equal(t, "NEW", tool.State)
	require.NotNil(t, tool.EstimatedLife)
	assert.Equal(t, "100", *tool.EstimatedLife)

	rec := s.do(t, http.MethodPost, "/api/tools/"+tool.ID+"/mount", MountRequest{MachineID: "LATHE-01"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	mounted := decode[ToolDTO](t, rec)
	assert.Equal(t, "IN_USE", mounted.State)
	require.NotNil(t, mounted.MountedOn)
	assert.Equal(t, "LATHE-01", *mounted.MountedOn)

	rec = s.do(t, http.MethodPost, "/api/production", ProductionRequest{WorkOrderID: "OT-1", MachineID: "LATHE-01", Quantity: "10"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	prod := decode[ProductionResponse](t, rec)
	assert.Equal(t, "5", prod.ProvisionalCost)
	require.Len(t, prod.Usage, 1)
	assert.Equal(t, tool.ID, prod.Usage[0].ToolID)

	rec = s.do(t, http.MethodGet, "/api/work-orders/OT-1/cost", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", decode[WorkOrderCostDTO](t, rec).Overheads)

	rec = s.do(t, http.MethodGet, "/api/tools/"+tool.ID+"/reconciliation/preview?final_state=BROKEN", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "45", decode[ReconciliationDTO](t, rec).NetAdjustment)

	rec = s.do(t, http.MethodPost, "/api/tools/"+tool.ID+"/finalize", FinalizeRequest{FinalState: "broken"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[ReconciliationDTO](t, rec)
	assert.Equal(t, "BROKEN", res.FinalState)
	assert.Equal(t, "5", res.RealUnitCost)
	assert.Equal(t, "45", res.NetAdjustment)
	require.Len(t, res.Lines, 1)
	assert.True(t, res.Lines[0].Applied)
	assert.NotNil(t, res.Tool.RetiredAt)

	rec = s.do(t, http.MethodGet, "/api/work-orders/OT-1/cost", nil)
	wo := decode[WorkOrderCostDTO](t, rec)
	assert.Equal(t, "50", wo.Overheads)
	assert.Equal(t, "50", wo.Total)

	rec = s.do(t, http.MethodGet, "/api/tools/"+tool.ID+"/usage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]UsageRecordDTO](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/api/tools/"+tool.ID+"/adjustments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	adjs := decode[[]AdjustmentDTO](t, rec)
	require.Len(t, adjs, 1)
	assert.Equal(t, "45", adjs[0].Adjustment)

	// Retired tools can't be mounted again.
	rec = s.do(t, http.MethodPost, "/api/tools/"+tool.ID+"/mount", MountRequest{MachineID: "LATHE-01"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "retired")

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `toolcost_tools_finalized_total{state="BROKEN"} 1`)
}

func TestAPI_UnmountSetStateAndEstimatedLife(t *testing.T) {
	s := newTestServer(t)
	tool := s.createTool(t, "T-002")
	path := "/api/tools/" + tool.ID

	rec := s.do(t, http.MethodPost, path+"/mount", MountRequest{MachineID: "MILL-02"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, path+"/unmount", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmounted := decode[ToolDTO](t, rec)
	assert.Equal(t, "SHARPENED", unmounted.State)
	assert.Nil(t, unmounted.MountedOn)

	rec = s.do(t, http.MethodPut, path+"/estimated-life", map[string]any{"estimated_life": "80"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "80", *decode[ToolDTO](t, rec).EstimatedLife)

	rec = s.do(t, http.MethodPut, path+"/estimated-life", map[string]any{"estimated_life": nil})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[ToolDTO](t, rec).EstimatedLife)

	rec = s.do(t, http.MethodPost, path+"/state", SetStateRequest{State: "LOST"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	change := decode[StateChangeResponse](t, rec)
	assert.Equal(t, "LOST", change.Tool.State)
	require.NotNil(t, change.Reconciliation)
	assert.Empty(t, change.Reconciliation.Lines)

	rec = s.do(t, http.MethodPost, path+"/state", SetStateRequest{State: "NEW"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_ListTools(t *testing.T) {
	s := newTestServer(t)
	a := s.createTool(t, "A")
	s.createTool(t, "B")
	rec := s.do(t, http.MethodPost, "/api/tools/"+a.ID+"/mount", MountRequest{MachineID: "LATHE-01"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ToolDTO](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/api/tools?state=in_use", nil)
	inUse := decode[[]ToolDTO](t, rec)
	require.Len(t, inUse, 1)
	assert.Equal(t, "A", inUse[0].Code)

	rec = s.do(t, http.MethodGet, "/api/tools?machine=MILL-02", nil)
	assert.Empty(t, decode[[]ToolDTO](t, rec))

	rec = s.do(t, http.MethodGet, "/api/tools?state=MELTED", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestAPI_Errors(t *testing.T) {
	s := newTestServer(t)
	tool := s.createTool(t, "T-ERR")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"malformed tool id", http.MethodGet, "/api/tools/not-an-id", nil, http.StatusBadRequest},
		{"unknown tool", http.MethodGet, "/api/tools/" + id.NewToolID().String(), nil, http.StatusNotFound},
		{"duplicate code", http.MethodPost, "/api/tools", CreateToolRequest{CatalogRef: "INS-1", Code: "T-ERR", InitialCost: "1"}, http.StatusConflict},
		{"unknown catalog item", http.MethodPost, "/api/tools", CreateToolRequest{CatalogRef: "NOPE", Code: "X", InitialCost: "1"}, http.StatusNotFound},
		{"bad decimal", http.MethodPost, "/api/tools", CreateToolRequest{CatalogRef: "INS-1", Code: "X", InitialCost: "12,5"}, http.StatusBadRequest},
		{"negative cost", http.MethodPost, "/api/tools", CreateToolRequest{CatalogRef: "INS-1", Code: "X", InitialCost: "-1"}, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/api/tools", `{"code":`, http.StatusBadRequest},
		{"empty machine", http.MethodPost, "/api/tools/" + tool.ID + "/mount", MountRequest{}, http.StatusBadRequest},
		{"unmount into terminal state", http.MethodPost, "/api/tools/" + tool.ID + "/unmount", UnmountRequest{ResultingState: "WORN"}, http.StatusBadRequest},
		{"finalize to non-terminal", http.MethodPost, "/api/tools/" + tool.ID + "/finalize", FinalizeRequest{FinalState: "SHARPENED"}, http.StatusBadRequest},
		{"unknown state", http.MethodPost, "/api/tools/" + tool.ID + "/state", SetStateRequest{State: "MELTED"}, http.StatusBadRequest},
		{"unknown work order", http.MethodPost, "/api/production", ProductionRequest{WorkOrderID: "OT-X", MachineID: "M", Quantity: "1"}, http.StatusNotFound},
		{"work order cost not found", http.MethodGet, "/api/work-orders/OT-X/cost", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(&tooling.ValidationError{Field: "f", Message: "m"}))
	assert.Equal(t, http.StatusNotFound, statusFor(&tooling.NotFoundError{Entity: "tool", ID: "x"}))
	assert.Equal(t, http.StatusConflict, statusFor(&tooling.DuplicateCodeError{Code: "c"}))
	assert.Equal(t, http.StatusConflict, statusFor(&tooling.StateTransitionError{From: tooling.StateWorn, To: tooling.StateInUse, Op: "mount"}))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(&tooling.TransactionError{Op: "x", Err: context.DeadlineExceeded}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestWriteDomainError_TransactionSetsRetryAfter(t *testing.T) {
	h := NewHandler(nil, slog.New(slog.DiscardHandler))
	rec := httptest.NewRecorder()
	h.writeDomainError(rec, &tooling.TransactionError{Op: "register production", Err: context.DeadlineExceeded})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestAPI_ZeroQuantityProductionIsNoOp(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/production", ProductionRequest{WorkOrderID: "OT-X", MachineID: "M", Quantity: "0"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[ProductionResponse](t, rec)
	assert.Equal(t, "0", res.ProvisionalCost)
	assert.Empty(t, res.Usage)
}

// =============================================================================
// EXPORT
// =============================================================================

func TestAPI_ExportReconciliation(t *testing.T) {
	s := newTestServer(t)
	tool := s.createTool(t, "T-XLS")
	s.do(t, http.MethodPost, "/api/tools/"+tool.ID+"/mount", MountRequest{MachineID: "LATHE-01"})
	s.do(t, http.MethodPost, "/api/production", ProductionRequest{WorkOrderID: "OT-1", MachineID: "LATHE-01", Quantity: "4"})
	rec := s.do(t, http.MethodPost, "/api/tools/"+tool.ID+"/finalize", FinalizeRequest{FinalState: "WORN"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/tools/"+tool.ID+"/reconciliation.xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "T-XLS-reconciliation.xlsx")

	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Adjustments")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

// =============================================================================
// AUDIT & HEALTH
// =============================================================================

func TestAPI_AuditRuns(t *testing.T) {
	s := newTestServer(t)
	s.createTool(t, "T-AUD")

	rec := s.do(t, http.MethodPost, "/api/audit/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[AuditRunDTO](t, rec)
	assert.Equal(t, tooling.AuditCompleted, run.Status)
	assert.Equal(t, 1, run.ToolsChecked)
	assert.Empty(t, run.Findings)
	assert.True(t, strings.HasPrefix(run.ID, "audit_"))

	rec = s.do(t, http.MethodGet, "/api/audit/runs?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]AuditRunDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	rec = s.do(t, http.MethodGet, "/api/audit/runs?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Contains(t, rec.Body.String(), `toolcost_audit_runs_total{status="completed"} 1`)
}

func TestIntegrityAuditor_BackgroundLoop(t *testing.T) {
	s := newTestServer(t)
	s.auditor.Interval = 10 * time.Millisecond
	s.auditor.Start()
	s.auditor.Start()

	require.Eventually(t, func() bool {
		runs, err := s.store.ListAuditRuns(context.Background(), 0)
		return err == nil && len(runs) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	s.auditor.Stop()
	s.auditor.Stop()

	runs, err := s.store.ListAuditRuns(context.Background(), 0)
	require.NoError(t, err)
	for _, r := range runs {
		assert.NotEqual(t, tooling.AuditRunning, r.Status, "run %s left unfinished", r.ID)
		assert.NotNil(t, r.CompletedAt)
	}
}

func TestIntegrityAuditor_Disabled(t *testing.T) {
	s := newTestServer(t)
	s.auditor.Enabled = false
	s.auditor.Start()
	s.auditor.Stop()

	runs, err := s.store.ListAuditRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestAPI_Health(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}
