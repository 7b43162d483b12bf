/*
Package catalog loads catalog items, work orders and tool instances from a
YAML seed file.

PURPOSE:
  The catalog and work order tables belong to other subsystems (inventory and
  production planning). For local runs and demos this package fills them from
  a file, and can register an initial set of tools through the engine so their
  creation follows the same rules as the API.

YAML SCHEMA:
  catalog:
    - ref: INS-CNMG-120408
      name: Carbide insert CNMG 120408
      default_estimated_life: "100"   # optional, units of production
      unit_cost_hint: "50"
  work_orders:
    - id: OT-1001
      materials: "120"
      labor: "80"
  tools:
    - code: T-0001
      catalog_ref: INS-CNMG-120408
      location: Crib A
      initial_cost: "50"
      estimated_life: "120"           # optional, defaults to the catalog value
      mounted_on: LATHE-01            # optional

  Decimals are written as strings; unquoted numbers are accepted too.

IDEMPOTENCY:
  Catalog items are upserted. Work orders and tools are created only when
  absent: an existing work order keeps its accumulated overheads and an
  existing tool code is skipped, so a seed can be applied on every start.

SEE ALSO:
  - tooling/registry.go: CreateToolInput validation
  - cmd/server: `server seed`
*/
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/JorgeZavalaO/torno-app-sub000/tooling"
)

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

// Seed is the root of a seed file.
type Seed struct {
	Catalog    []ItemYAML      `yaml:"catalog"`
	WorkOrders []WorkOrderYAML `yaml:"work_orders"`
	Tools      []ToolYAML      `yaml:"tools"`
}

type ItemYAML struct {
	Ref                  string `yaml:"ref"`
	Name                 string `yaml:"name"`
	DefaultEstimatedLife string `yaml:"default_estimated_life,omitempty"`
	UnitCostHint         string `yaml:"unit_cost_hint,omitempty"`
}

type WorkOrderYAML struct {
	ID        string `yaml:"id"`
	Materials string `yaml:"materials,omitempty"`
	Labor     string `yaml:"labor,omitempty"`
	Overheads string `yaml:"overheads,omitempty"`
}

type ToolYAML struct {
	Code          string `yaml:"code"`
	CatalogRef    string `yaml:"catalog_ref"`
	Location      string `yaml:"location,omitempty"`
	InitialCost   string `yaml:"initial_cost"`
	EstimatedLife string `yaml:"estimated_life,omitempty"`
	MountedOn     string `yaml:"mounted_on,omitempty"`
}

// =============================================================================
// PARSING
// =============================================================================

// Parsed is a validated seed with decimals resolved.
type Parsed struct {
	Items      []tooling.CatalogItem
	WorkOrders []tooling.WorkOrderCost
	Tools      []ToolSeed
}

// ToolSeed is a tool to create, optionally mounted right away.
type ToolSeed struct {
	Input     tooling.CreateToolInput
	MountedOn tooling.MachineID
}

// LoadFile reads and parses a seed file.
func LoadFile(path string) (*Parsed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and validates every entry. All problems are reported
// together.
func Parse(data []byte) (*Parsed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	var (
		out  Parsed
		errs []error
	)
	p := parser{errs: &errs}

	refs := make(map[string]bool, len(s.Catalog))
	for i, it := range s.Catalog {
		at := fmt.Sprintf("catalog[%d]", i)
		if it.Ref == "" {
			errs = append(errs, fmt.Errorf("%s: ref is required", at))
			continue
		}
		refs[it.Ref] = true
		out.Items = append(out.Items, tooling.CatalogItem{
			Ref:                  tooling.CatalogRef(it.Ref),
			Name:                 it.Name,
			DefaultEstimatedLife: p.optionalPositive(at+".default_estimated_life", it.DefaultEstimatedLife),
			UnitCostHint:         p.amount(at+".unit_cost_hint", it.UnitCostHint),
		})
	}

	for i, wo := range s.WorkOrders {
		at := fmt.Sprintf("work_orders[%d]", i)
		if wo.ID == "" {
			errs = append(errs, fmt.Errorf("%s: id is required", at))
			continue
		}
		out.WorkOrders = append(out.WorkOrders, tooling.NewWorkOrderCost(
			tooling.WorkOrderID(wo.ID),
			p.amount(at+".materials", wo.Materials),
			p.amount(at+".labor", wo.Labor),
			p.amount(at+".overheads", wo.Overheads),
		))
	}

	for i, t := range s.Tools {
		at := fmt.Sprintf("tools[%d]", i)
		in := tooling.CreateToolInput{
			CatalogRef:    tooling.CatalogRef(t.CatalogRef),
			Code:          t.Code,
			Location:      t.Location,
			InitialCost:   p.amount(at+".initial_cost", t.InitialCost),
			EstimatedLife: p.optionalPositive(at+".estimated_life", t.EstimatedLife),
		}
		if err := in.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", at, err))
			continue
		}
		if len(s.Catalog) > 0 && !refs[t.CatalogRef] {
			errs = append(errs, fmt.Errorf("%s: catalog_ref %q is not in this seed", at, t.CatalogRef))
			continue
		}
		out.Tools = append(out.Tools, ToolSeed{Input: in, MountedOn: tooling.MachineID(t.MountedOn)})
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &out, nil
}

type parser struct {
	errs *[]error
}

// amount parses a non-negative decimal; empty means zero.
func (p parser) amount(field, s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s: %q is not a decimal", field, s))
		return decimal.Zero
	}
	if d.IsNegative() {
		*p.errs = append(*p.errs, fmt.Errorf("%s: must not be negative", field))
	}
	return d
}

// optionalPositive parses a strictly positive decimal; empty means unknown.
func (p parser) optionalPositive(field, s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s: %q is not a decimal", field, s))
		return nil
	}
	if !d.IsPositive() {
		*p.errs = append(*p.errs, fmt.Errorf("%s: must be positive", field))
		return nil
	}
	return &d
}

// =============================================================================
// APPLYING
// =============================================================================

// Result counts what Apply wrote.
type Result struct {
	Items             int
	WorkOrders        int
	WorkOrdersSkipped int
	ToolsCreated      int
	ToolsSkipped      int
}

// Apply upserts catalog items and creates missing work orders in one
// transaction, then creates the seed's tools through the engine. Work orders
// that already exist are left untouched; their costs only move through
// paired increments.
func Apply(ctx context.Context, e *tooling.Engine, seed *Parsed) (*Result, error) {
	res := &Result{}
	err := e.Store().WithTx(ctx, func(s tooling.Store) error {
		for _, item := range seed.Items {
			if err := s.SaveCatalogItem(ctx, item); err != nil {
				return fmt.Errorf("catalog item %s: %w", item.Ref, err)
			}
		}
		for _, wo := range seed.WorkOrders {
			_, err := s.GetWorkOrderCost(ctx, wo.ID)
			if err == nil {
				res.WorkOrdersSkipped++
				continue
			}
			if !tooling.IsNotFound(err) {
				return fmt.Errorf("work order %s: %w", wo.ID, err)
			}
			if err := s.SaveWorkOrder(ctx, wo); err != nil {
				return fmt.Errorf("work order %s: %w", wo.ID, err)
			}
			res.WorkOrders++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Items = len(seed.Items)

	for _, ts := range seed.Tools {
		tool, err := e.CreateToolInstance(ctx, ts.Input)
		var dup *tooling.DuplicateCodeError
		if errors.As(err, &dup) {
			res.ToolsSkipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("tool %s: %w", ts.Input.Code, err)
		}
		res.ToolsCreated++

		if ts.MountedOn != "" {
			if _, err := e.MountOnMachine(ctx, tool.ID, ts.MountedOn); err != nil {
				return res, fmt.Errorf("mount tool %s: %w", ts.Input.Code, err)
			}
		}
	}
	return res, nil
}
