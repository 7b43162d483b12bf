/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model in package tooling from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Composite response wrappers

DECIMALS:
  Every money and quantity field is a JSON string ("12.50"), in both
  directions. Clients never see or send floats.

VALIDATION:
  Validation is done in handlers (parseDecimal) and in package tooling, not in
  DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/JorgeZavalaO/torno-app-sub000/tooling"
)

// =============================================================================
// TOOLS
// =============================================================================

// ToolDTO represents a tool instance in API responses.
type ToolDTO struct {
	ID              string  `json:"id"`
	Code            string  `json:"code"`
	CatalogRef      string  `json:"catalog_ref"`
	Location        string  `json:"location,omitempty"`
	InitialCost     string  `json:"initial_cost"`
	EstimatedLife   *string `json:"estimated_life"`
	AccumulatedLife string  `json:"accumulated_life"`
	State           string  `json:"state"`
	MountedOn       *string `json:"mounted_on"`
	RetiredAt       *string `json:"retired_at,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

// CreateToolRequest is the request to register a tool instance.
type CreateToolRequest struct {
	CatalogRef    string  `json:"catalog_ref"`
	Code          string  `json:"code"`
	Location      string  `json:"location"`
	InitialCost   string  `json:"initial_cost"`
	EstimatedLife *string `json:"estimated_life,omitempty"` // omitted: catalog default
}

type MountRequest struct {
	MachineID string `json:"machine_id"`
}

// UnmountRequest: empty resulting_state means SHARPENED.
type UnmountRequest struct {
	ResultingState string `json:"resulting_state,omitempty"`
}

type SetStateRequest struct {
	State string `json:"state"`
}

type FinalizeRequest struct {
	FinalState string `json:"final_state"`
}

// EstimatedLifeRequest: null clears the estimate.
type EstimatedLifeRequest struct {
	EstimatedLife *string `json:"estimated_life"`
}

// StateChangeResponse is returned by POST /tools/{id}/state. Reconciliation
// is present only when the new state retired the tool.
type StateChangeResponse struct {
	Tool           ToolDTO            `json:"tool"`
	Reconciliation *ReconciliationDTO `json:"reconciliation,omitempty"`
}

// =============================================================================
// USAGE & PRODUCTION
// =============================================================================

type UsageRecordDTO struct {
	ID            string  `json:"id"`
	ToolID        string  `json:"tool_id"`
	WorkOrderID   string  `json:"work_order_id"`
	Quantity      string  `json:"quantity"`
	StateBefore   string  `json:"state_before"`
	StateAfter    string  `json:"state_after"`
	EstimatedLife *string `json:"estimated_life"`
	RecordedAt    string  `json:"recorded_at"`
}

type ProductionRequest struct {
	WorkOrderID string `json:"work_order_id"`
	MachineID   string `json:"machine_id"`
	Quantity    string `json:"quantity"`
}

type ProductionResponse struct {
	WorkOrderID     string           `json:"work_order_id"`
	MachineID       string           `json:"machine_id"`
	Quantity        string           `json:"quantity"`
	ProvisionalCost string           `json:"provisional_cost"`
	Usage           []UsageRecordDTO `json:"usage"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

type AdjustmentDTO struct {
	ID               string `json:"id,omitempty"`
	UsageID          string `json:"usage_id"`
	WorkOrderID      string `json:"work_order_id"`
	Quantity         string `json:"quantity"`
	RealCost         string `json:"real_cost"`
	OriginalEstimate string `json:"original_estimate"`
	Adjustment       string `json:"adjustment"`
	Applied          bool   `json:"applied"`
	FinalState       string `json:"final_state"`
	CreatedAt        string `json:"created_at,omitempty"`
}

type ReconciliationDTO struct {
	Tool          ToolDTO         `json:"tool"`
	FinalState    string          `json:"final_state"`
	RealUnitCost  string          `json:"real_unit_cost"`
	NetAdjustment string          `json:"net_adjustment"`
	Lines         []AdjustmentDTO `json:"lines"`
}

// =============================================================================
// WORK ORDERS
// =============================================================================

type WorkOrderCostDTO struct {
	ID        string `json:"id"`
	Materials string `json:"materials"`
	Labor     string `json:"labor"`
	Overheads string `json:"overheads"`
	Total     string `json:"total"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditFindingDTO struct {
	ToolID  string `json:"tool_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type AuditRunDTO struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	ToolsChecked int               `json:"tools_checked"`
	Findings     []AuditFindingDTO `json:"findings"`
	Error        string            `json:"error,omitempty"`
	StartedAt    string            `json:"started_at"`
	CompletedAt  *string           `json:"completed_at,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func optTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func optDecimal(d *tooling.Quantity) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func toToolDTO(t tooling.ToolInstance) ToolDTO {
	var mounted *string
	if t.MountedOn != nil {
		m := string(*t.MountedOn)
		mounted = &m
	}
	return ToolDTO{
		ID:              t.ID.String(),
		Code:            t.Code,
		CatalogRef:      string(t.CatalogRef),
		Location:        t.Location,
		InitialCost:     t.InitialCost.String(),
		EstimatedLife:   optDecimal(t.EstimatedLife),
		AccumulatedLife: t.AccumulatedLife.String(),
		State:           string(t.State),
		MountedOn:       mounted,
		RetiredAt:       optTime(t.RetiredAt),
		CreatedAt:       formatTime(t.CreatedAt),
		UpdatedAt:       formatTime(t.UpdatedAt),
	}
}

func toUsageDTOs(records []tooling.UsageRecord) []UsageRecordDTO {
	out := make([]UsageRecordDTO, 0, len(records))
	for _, r := range records {
		out = append(out, UsageRecordDTO{
			ID:            r.ID.String(),
			ToolID:        r.ToolID.String(),
			WorkOrderID:   string(r.WorkOrderID),
			Quantity:      r.Quantity.String(),
			StateBefore:   string(r.StateBefore),
			StateAfter:    string(r.StateAfter),
			EstimatedLife: optDecimal(r.EstimatedLife),
			RecordedAt:    formatTime(r.RecordedAt),
		})
	}
	return out
}

func toAdjustmentDTOs(lines []tooling.CostAdjustment) []AdjustmentDTO {
	out := make([]AdjustmentDTO, 0, len(lines))
	for _, a := range lines {
		dto := AdjustmentDTO{
			ID:               a.ID.String(),
			UsageID:          a.UsageID.String(),
			WorkOrderID:      string(a.WorkOrderID),
			Quantity:         a.Quantity.String(),
			RealCost:         a.RealCost.String(),
			OriginalEstimate: a.OriginalEstimate.String(),
			Adjustment:       a.Adjustment.String(),
			Applied:          a.Applied,
			FinalState:       string(a.FinalState),
		}
		if !a.CreatedAt.IsZero() {
			dto.CreatedAt = formatTime(a.CreatedAt)
		}
		out = append(out, dto)
	}
	return out
}

func toReconciliationDTO(res *tooling.ReconciliationResult) *ReconciliationDTO {
	return &ReconciliationDTO{
		Tool:          toToolDTO(*res.Tool),
		FinalState:    string(res.FinalState),
		RealUnitCost:  res.RealUnitCost.String(),
		NetAdjustment: res.NetAdjustment.String(),
		Lines:         toAdjustmentDTOs(res.Lines),
	}
}

func toWorkOrderDTO(wo *tooling.WorkOrderCost) WorkOrderCostDTO {
	dto := WorkOrderCostDTO{
		ID:        string(wo.ID),
		Materials: wo.Materials.String(),
		Labor:     wo.Labor.String(),
		Overheads: wo.Overheads.String(),
		Total:     wo.Total.String(),
	}
	if !wo.UpdatedAt.IsZero() {
		dto.UpdatedAt = formatTime(wo.UpdatedAt)
	}
	return dto
}

func toAuditRunDTO(r tooling.AuditRun) AuditRunDTO {
	findings := make([]AuditFindingDTO, 0, len(r.Findings))
	for _, f := range r.Findings {
		findings = append(findings, AuditFindingDTO{ToolID: f.ToolID.String(), Code: f.Code, Message: f.Message})
	}
	return AuditRunDTO{
		ID:           r.ID,
		Status:       r.Status,
		ToolsChecked: r.ToolsChecked,
		Findings:     findings,
		Error:        r.Error,
		StartedAt:    formatTime(r.StartedAt),
		CompletedAt:  optTime(r.CompletedAt),
	}
}
