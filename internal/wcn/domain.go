package wcn

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// QuantitySource records which rule produced a finalized quantity, so the
// reconciliation decision is observable in logs and tests.
type QuantitySource string

const (
	// SourceVerified means the caller supplied the quantity during
	// physical verification.
	SourceVerified QuantitySource = "verified"
	// SourceStored means the operator-entered collected quantity was kept.
	SourceStored QuantitySource = "stored"
	// SourceFallback means the planned available/estimated quantity filled
	// in for a line nobody verified or collected.
	SourceFallback QuantitySource = "fallback"
)

// VerifiedItem is one caller-supplied verification line.
type VerifiedItem struct {
	MaterialID       int64            `json:"material_id" validate:"required,gt=0"`
	VerifiedQuantity decimal.Decimal  `json:"verified_quantity"`
	AgreedRate       *decimal.Decimal `json:"agreed_rate,omitempty"`
	IsNewItem        bool             `json:"is_new_item"`
	QualityGrade     string           `json:"quality_grade"`
	QualityVerified  bool             `json:"quality_verified"`
	ActualCondition  string           `json:"actual_condition"`
}

// FinalizeRequest turns a completed collection order into a WCN.
type FinalizeRequest struct {
	OrderID int64          `json:"-"`
	WCNDate *time.Time     `json:"wcn_date,omitempty"`
	Notes   string         `json:"notes"`
	Items   []VerifiedItem `json:"items" validate:"omitempty,dive"`
}

// WastageSummary reports one disposable line routed to the wastage queue.
type WastageSummary struct {
	MaterialID int64           `json:"material_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	WasteType  string          `json:"waste_type"`
}

// FinalizeResult summarizes a successful finalization.
type FinalizeResult struct {
	WCNNumber       string           `json:"wcn_number"`
	PurchaseOrderID int64            `json:"purchase_order_id"`
	ItemsProcessed  int              `json:"items_processed"`
	NewItemsAdded   int              `json:"new_items_added"`
	Wastage         []WastageSummary `json:"wastage,omitempty"`
}

// ItemAdjustment corrects one finalized line. The reason is part of the
// permanent audit trail, so a throwaway value is rejected.
type ItemAdjustment struct {
	ItemID      int64           `json:"item_id" validate:"required,gt=0"`
	NewQuantity decimal.Decimal `json:"new_quantity"`
	Reason      string          `json:"reason" validate:"required,min=10"`
}

// RectifyRequest corrects quantities on a finalized order.
type RectifyRequest struct {
	OrderID     int64            `json:"-"`
	Adjustments []ItemAdjustment `json:"adjustments" validate:"required,min=1,dive"`
	Notes       string           `json:"notes"`
}

// RectifyResult summarizes a successful rectification.
type RectifyResult struct {
	RectificationID int64           `json:"rectification_id"`
	Sequence        int             `json:"sequence"`
	ItemsAdjusted   int             `json:"items_adjusted"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Total           decimal.Decimal `json:"total"`
}

// RectificationChange is one before/after line inside a rectification.
type RectificationChange struct {
	ItemID     int64           `json:"item_id"`
	MaterialID int64           `json:"material_id"`
	Before     decimal.Decimal `json:"before"`
	After      decimal.Decimal `json:"after"`
	Delta      decimal.Decimal `json:"delta"`
	Reason     string          `json:"reason"`
}

// RectificationEntry is one ordered, structured correction record. Text
// rendering happens at the presentation boundary only.
type RectificationEntry struct {
	ID                int64                 `json:"id"`
	CollectionOrderID int64                 `json:"collection_order_id"`
	Sequence          int                   `json:"sequence"`
	Notes             string                `json:"notes"`
	PerformedBy       int64                 `json:"performed_by"`
	PerformedAt       time.Time             `json:"performed_at"`
	Changes           []RectificationChange `json:"changes"`
}

var (
	// ErrNotFinalizable covers an unknown order, a not-completed order and
	// an already finalized one. The causes are deliberately
	// indistinguishable at the boundary.
	ErrNotFinalizable = errors.New("wcn: order not found or not finalizable")
	// ErrNoCollectedItems means reconciliation left nothing to finalize.
	ErrNoCollectedItems = errors.New("wcn: no items with positive collected quantity")
	// ErrNotFinalized blocks rectification of a non-finalized order.
	ErrNotFinalized = errors.New("wcn: order not finalized")
	// ErrItemNotFound indicates an adjustment referencing an unknown item.
	ErrItemNotFound = errors.New("wcn: item not found on order")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("wcn: invalid input")
)
