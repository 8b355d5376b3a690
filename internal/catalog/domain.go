package catalog

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ComponentType distinguishes the parts of a composite material.
type ComponentType string

const (
	// ComponentTypeContainer is the physical vessel, e.g. a drum.
	ComponentTypeContainer ComponentType = "container"
	// ComponentTypeContent is what the vessel holds, e.g. waste oil.
	ComponentTypeContent ComponentType = "content"
)

// IsValid checks if the component type is valid.
func (t ComponentType) IsValid() bool {
	return t == ComponentTypeContainer || t == ComponentTypeContent
}

// Material describes a tradeable material.
type Material struct {
	ID               int64           `json:"id"`
	Code             string          `json:"code"`
	Name             string          `json:"name"`
	IsComposite      bool            `json:"is_composite"`
	IsDisposable     bool            `json:"is_disposable"`
	DefaultWasteType string          `json:"default_waste_type"`
	StandardPrice    decimal.Decimal `json:"standard_price"`
	IsActive         bool            `json:"is_active"`
}

// Component is one part of a composite material's breakdown. Components are
// ordered; the receiving split gives each component the full composite
// quantity, not a fractional share.
type Component struct {
	ComponentMaterialID int64         `json:"component_material_id"`
	ComponentType       ComponentType `json:"component_type"`
	SortOrder           int           `json:"sort_order"`
}

// ErrMaterialNotFound indicates an unknown material id.
var ErrMaterialNotFound = errors.New("catalog: material not found")
