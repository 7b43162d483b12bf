/*
handlers.go - HTTP API handlers for the tool costing engine

PURPOSE:
  Exposes tooling.Engine via REST API. Handlers parse the request, call one
  engine operation and serialize the result. No costing logic lives here.

ENDPOINTS:
  Tools:
    GET    /api/tools                          List tools (?state=, ?machine=)
    POST   /api/tools                          Register a tool instance
    GET    /api/tools/{id}                     Tool details
    POST   /api/tools/{id}/mount               Mount on a machine
    POST   /api/tools/{id}/unmount             Take off its machine
    POST   /api/tools/{id}/state               Set lifecycle state
    POST   /api/tools/{id}/finalize            Retire and reconcile
    PUT    /api/tools/{id}/estimated-life      Change the life estimate
    GET    /api/tools/{id}/usage               Usage history
    GET    /api/tools/{id}/adjustments         Reconciliation lines
    GET    /api/tools/{id}/reconciliation/preview  What finalize would adjust
    GET    /api/tools/{id}/reconciliation.xlsx Reconciliation workbook

  Production:
    POST   /api/production                     Register machine production

  Work orders:
    GET    /api/work-orders/{id}/cost          Cost snapshot

  Audit:
    GET    /api/audit/runs                     Recent integrity audits
    POST   /api/audit/run                      Run an audit now

ERROR HANDLING:
  Errors are returned as ErrorResponse with a status picked by error kind:
  - 400: Validation errors, malformed input
  - 404: Tool, catalog item or work order not found
  - 409: Duplicate tool code, forbidden state transition
  - 503: Transaction timeout/contention (retryable, Retry-After set)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. The API is meant to sit behind the
  plant's internal gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - tooling/engine.go: The operations called here
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/JorgeZavalaO/torno-app-sub000/id"
	"github.com/JorgeZavalaO/torno-app-sub000/report"
	"github.com/JorgeZavalaO/torno-app-sub000/tooling"
)

// Handler holds the API dependencies.
type Handler struct {
	Engine  *tooling.Engine
	Auditor *IntegrityAuditor // nil: audit endpoints answer 404
	Log     *slog.Logger
}

func NewHandler(engine *tooling.Engine, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Engine: engine, Log: log}
}

// =============================================================================
// TOOL ENDPOINTS
// =============================================================================

// ListTools returns tools, optionally filtered.
// GET /api/tools?state=IN_USE&machine=LATHE-01
func (h *Handler) ListTools(w http.ResponseWriter, r *http.Request) {
	var filter tooling.ToolFilter
	if s := r.URL.Query().Get("state"); s != "" {
		state, err := tooling.ParseToolState(s)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		filter.State = state
	}
	filter.MachineID = tooling.MachineID(r.URL.Query().Get("machine"))

	tools, err := h.Engine.ListTools(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]ToolDTO, 0, len(tools))
	for _, t := range tools {
		dtos = append(dtos, toToolDTO(t))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTool registers a new tool instance.
// POST /api/tools
func (h *Handler) CreateTool(w http.ResponseWriter, r *http.Request) {
	var req CreateToolRequest
	if !decodeBody(w, r, &req) {
		return
	}

	in := tooling.CreateToolInput{
		CatalogRef: tooling.CatalogRef(req.CatalogRef),
		Code:       req.Code,
		Location:   req.Location,
	}
	var err error
	if in.InitialCost, err = parseDecimal("initial_cost", req.InitialCost); err != nil {
		h.writeDomainError(w, err)
		return
	}
	if in.EstimatedLife, err = parseOptionalDecimal("estimated_life", req.EstimatedLife); err != nil {
		h.writeDomainError(w, err)
		return
	}

	tool, err := h.Engine.CreateToolInstance(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toToolDTO(*tool))
}

// GetTool returns one tool.
// GET /api/tools/{id}
func (h *Handler) GetTool(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.toolID(w, r)
	if !ok {
		return
	}
	tool, err := h.Engine.GetTool(r.Context(), toolID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toToolDTO(*tool))
}

// MountTool puts a tool on a machine.
// POST /api/tools/{id}/mount
func (h *Handler) MountTool(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.toolID(w, r)
	if !ok {
		return
	}
	var req MountRequest
	if !decodeBody(w, r, &req) {
		return
	}

	tool, err := h.Engine.MountOnMachine(r.Context(), toolID, tooling.MachineID(req.MachineID))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toToolDTO(*tool))
}

// UnmountTool takes a tool off its machine.
// POST /api/tools/{id}/unmount
func (h *Handler) UnmountTool(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.toolID(w, r)
	if !ok {
		return
	}
	var req UnmountRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	var resulting tooling.ToolState
	if req.ResultingState != "" {
		var err error
		if resulting, err = tooling.ParseToolState(req.ResultingState); err != nil {
			h.writeDomainError(w, err)
			return
		}
	}

	tool, err := h.Engine.UnmountFromMachine(r.Context(), toolID, resulting)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toToolDTO(*tool))
}

// SetToolState moves a tool to any state. Terminal states reconcile.
// POST /api/tools/{id}/state
func (h *Handler) SetToolState(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.toolID(w, r)
	if !ok {
		return
	}
	var req SetStateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	state, err := tooling.ParseToolState(req.State)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	change, err := h.Engine.SetState(r.Context(), toolID, state)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := StateChangeResponse{Tool: toToolDTO(*change.Tool)}
	if change.Reconciliation != nil {
		resp.Reconciliation = toReconciliationDTO(change.Reconciliation)
	}
	writeJSON(w, http.StatusOK, resp)
}

// FinalizeTool retires a tool and redistributes its real cost.
// POST /api/tools/{id}/finalize
func (h *Handler) FinalizeTool(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.toolID(w, r)
	if !ok {
		return
	}
	var req FinalizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	state, err := tooling.ParseToolState(req.FinalState)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	res, err := h.Engine.FinalizeToolLife(r.Context(), toolID, state)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(res))
}

// UpdateEstimatedLife changes (or clears, with null) the life estimate.
// PUT /api/tools/{id}/estimated-life
func (h *Handler) UpdateEstimatedLife(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.toolID(w, r)
	if !ok {
		return
	}
	var req EstimatedLifeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	life, err := parseOptionalDecimal("estimated_life", req.EstimatedLife)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	tool, err := h.Engine.UpdateEstimatedLife(r.Context(), toolID, life)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toToolDTO(*tool))
}

// GetUsage returns a tool's usage history in recording order.
// GET /api/tools/{id}/usage
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.toolID(w, r)
	if !ok {
		return
	}
	records, err := h.Engine.UsageHistory(r.Context(), toolID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUsageDTOs(records))
}

// GetAdjustments returns the reconciliation lines of a retired tool.
// GET /api/tools/{id}/adjustments
func (h *Handler) GetAdjustments(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.toolID(w, r)
	if !ok {
		return
	}
	adjs, err := h.Engine.Adjustments(r.Context(), toolID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdjustmentDTOs(adjs))
}

// PreviewReconciliation shows what retiring the tool now would adjust.
// GET /api/tools/{id}/reconciliation/preview?final_state=BROKEN
func (h *Handler) PreviewReconciliation(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.toolID(w, r)
	if !ok {
		return
	}
	var state tooling.ToolState
	if s := r.URL.Query().Get("final_state"); s != "" {
		var err error
		if state, err = tooling.ParseToolState(s); err != nil {
			h.writeDomainError(w, err)
			return
		}
	}

	res, err := h.Engine.PreviewReconciliation(r.Context(), toolID, state)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(res))
}

// ExportReconciliation streams the reconciliation lines as XLSX.
// GET /api/tools/{id}/reconciliation.xlsx
func (h *Handler) ExportReconciliation(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.toolID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	tool, err := h.Engine.GetTool(ctx, toolID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	adjs, err := h.Engine.Adjustments(ctx, toolID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteReconciliation(&buf, *tool, adjs); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-reconciliation.xlsx"`, tool.Code))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// =============================================================================
// PRODUCTION & WORK ORDERS
// =============================================================================

// RegisterProduction charges wear of every tool on a machine to a work order.
// POST /api/production
func (h *Handler) RegisterProduction(w http.ResponseWriter, r *http.Request) {
	var req ProductionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	qty, err := parseDecimal("quantity", req.Quantity)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	res, err := h.Engine.RegisterMachineProduction(r.Context(),
		tooling.WorkOrderID(req.WorkOrderID), tooling.MachineID(req.MachineID), qty)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProductionResponse{
		WorkOrderID:     string(res.WorkOrderID),
		MachineID:       string(res.MachineID),
		Quantity:        res.Quantity.String(),
		ProvisionalCost: res.ProvisionalCost.String(),
		Usage:           toUsageDTOs(res.Usage),
	})
}

// GetWorkOrderCost returns the cost snapshot of a work order.
// GET /api/work-orders/{id}/cost
func (h *Handler) GetWorkOrderCost(w http.ResponseWriter, r *http.Request) {
	wo, err := h.Engine.WorkOrderCost(r.Context(), tooling.WorkOrderID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkOrderDTO(wo))
}

// =============================================================================
// AUDIT ENDPOINTS
// =============================================================================

// ListAuditRuns returns recent integrity audits, newest first.
// GET /api/audit/runs?limit=20
func (h *Handler) ListAuditRuns(w http.ResponseWriter, r *http.Request) {
	if h.Auditor == nil || h.Auditor.Runs == nil {
		writeError(w, http.StatusNotFound, "audit history is not enabled", nil)
		return
	}
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Auditor.Runs.ListAuditRuns(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]AuditRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toAuditRunDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RunAudit runs the integrity audit synchronously.
// POST /api/audit/run
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	if h.Auditor == nil {
		writeError(w, http.StatusNotFound, "auditor is not enabled", nil)
		return
	}
	run, err := h.Auditor.RunNow(r.Context())
	if err != nil && run == nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditRunDTO(*run))
}

// Health reports liveness and, when the store supports it, database reachability.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Engine.Store().(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) toolID(w http.ResponseWriter, r *http.Request) (id.ID, bool) {
	raw := chi.URLParam(r, "id")
	toolID, err := id.ParseToolID(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tool id", err)
		return id.Nil, false
	}
	return toolID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &tooling.ValidationError{Field: field, Message: fmt.Sprintf("%q is not a decimal", s)}
	}
	return d, nil
}

func parseOptionalDecimal(field string, s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := parseDecimal(field, *s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch tooling.KindOf(err) {
	case tooling.KindValidation:
		return http.StatusBadRequest
	case tooling.KindNotFound:
		return http.StatusNotFound
	case tooling.KindDuplicateCode, tooling.KindStateTransition:
		return http.StatusConflict
	case tooling.KindTransaction:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		h.Log.Error("request failed", "error", err)
		writeError(w, status, "internal error", err)
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		writeError(w, status, err.Error(), nil)
	default:
		writeError(w, status, err.Error(), nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
