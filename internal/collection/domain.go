package collection

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus represents the lifecycle of a collection order.
type OrderStatus string

const (
	StatusScheduled  OrderStatus = "scheduled"
	StatusInTransit  OrderStatus = "in_transit"
	StatusCollecting OrderStatus = "collecting"
	StatusCompleted  OrderStatus = "completed"
	StatusCancelled  OrderStatus = "cancelled"
	StatusFailed     OrderStatus = "failed"
)

var statusRank = map[OrderStatus]int{
	StatusScheduled:  1,
	StatusInTransit:  2,
	StatusCollecting: 3,
	StatusCompleted:  4,
}

// IsValid checks if the status is a member of the enum.
func (s OrderStatus) IsValid() bool {
	switch s {
	case StatusScheduled, StatusInTransit, StatusCollecting, StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further status change is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// CanTransitionTo reports whether the status may advance to next. Progress is
// strictly forward through the enum; cancelled and failed are reachable from
// any non-terminal status.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if !next.IsValid() || s.IsTerminal() {
		return false
	}
	if next == StatusCancelled || next == StatusFailed {
		return true
	}
	return statusRank[next] > statusRank[s]
}

// CollectionOrder is the header of a scheduled material collection.
type CollectionOrder struct {
	ID                 int64            `json:"id"`
	OrderNumber        string           `json:"order_number"`
	ContractID         int64            `json:"contract_id"`
	SupplierID         int64            `json:"supplier_id"`
	LocationID         int64            `json:"location_id"`
	Status             OrderStatus      `json:"status"`
	IsFinalized        bool             `json:"is_finalized"`
	WCNNumber          *string          `json:"wcn_number,omitempty"`
	WCNDate            *time.Time       `json:"wcn_date,omitempty"`
	FinalizedAt        *time.Time       `json:"finalized_at,omitempty"`
	FinalizedBy        *int64           `json:"finalized_by,omitempty"`
	PurchaseOrderID    *int64           `json:"purchase_order_id,omitempty"`
	TotalValue         decimal.Decimal  `json:"total_value"`
	TotalExpenses      decimal.Decimal  `json:"total_expenses"`
	RectificationCount int              `json:"rectification_count"`
	ScheduledFor       time.Time        `json:"scheduled_for"`
	CreatedBy          int64            `json:"created_by"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	Items              []CollectionItem `json:"items,omitempty"`
}

// CollectionItem is one material line on a collection order.
type CollectionItem struct {
	ID                        int64            `json:"id"`
	CollectionOrderID         int64            `json:"collection_order_id"`
	MaterialID                int64            `json:"material_id"`
	AvailableQuantity         decimal.Decimal  `json:"available_quantity"`
	EstimatedQuantity         decimal.Decimal  `json:"estimated_quantity"`
	CollectedQuantity         decimal.Decimal  `json:"collected_quantity"`
	OriginalCollectedQuantity *decimal.Decimal `json:"original_collected_quantity,omitempty"`
	ContractRate              decimal.Decimal  `json:"contract_rate"`
	TotalValue                decimal.Decimal  `json:"total_value"`
	QualityGrade              string           `json:"quality_grade"`
	QualityVerified           bool             `json:"quality_verified"`
	MaterialCondition         string           `json:"material_condition"`
}

var (
	// ErrOrderNotFound indicates an unknown collection order id.
	ErrOrderNotFound = errors.New("collection: order not found")
	// ErrItemNotFound indicates an unknown collection item id.
	ErrItemNotFound = errors.New("collection: item not found")
	// ErrInvalidStatus indicates a status outside the enum.
	ErrInvalidStatus = errors.New("collection: invalid status")
	// ErrInvalidTransition occurs when a status change violates the workflow.
	ErrInvalidTransition = errors.New("collection: invalid status transition")
	// ErrNoCollectableItems blocks completion without any collected quantity.
	ErrNoCollectableItems = errors.New("collection: at least one item with collected quantity required")
	// ErrOrderFinalized blocks mutation of a finalized order.
	ErrOrderFinalized = errors.New("collection: order already finalized")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("collection: invalid input")
)
