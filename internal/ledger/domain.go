package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovementType enumerates supported batch movements.
type MovementType string

const (
	// MovementReceipt represents goods entering a batch.
	MovementReceipt MovementType = "receipt"
	// MovementAdjustment indicates a post-receipt correction.
	MovementAdjustment MovementType = "adjustment"
	// MovementIssue represents consumption out of a batch.
	MovementIssue MovementType = "issue"
)

// Batch is one receipt lot of a material. RemainingQuantity is a
// materialized cache of the movement log, never written without a
// corresponding movement.
type Batch struct {
	ID                int64           `json:"id"`
	MaterialID        int64           `json:"material_id"`
	BatchNumber       string          `json:"batch_number"`
	QuantityReceived  decimal.Decimal `json:"quantity_received"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	IsDepleted        bool            `json:"is_depleted"`
	PurchaseOrderID   *int64          `json:"purchase_order_id,omitempty"`
	Location          string          `json:"location"`
	Condition         string          `json:"condition"`
	ReceivedAt        time.Time       `json:"received_at"`
}

// Movement is an append-only record of one quantity change on a batch.
type Movement struct {
	ID            int64           `json:"id"`
	UID           uuid.UUID       `json:"uid"`
	BatchID       int64           `json:"batch_id"`
	Type          MovementType    `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   int64           `json:"reference_id"`
	MovementDate  time.Time       `json:"movement_date"`
	Notes         string          `json:"notes"`
	PerformedBy   int64           `json:"performed_by"`
}

// BatchNumber derives the deterministic batch key for a material received
// under a WCN. Unique per material.
func BatchNumber(wcnNumber string, materialID int64) string {
	return fmt.Sprintf("%s-M%d", wcnNumber, materialID)
}

var (
	// ErrBatchNotFound indicates a missing batch row.
	ErrBatchNotFound = errors.New("ledger: batch not found")
	// ErrInvalidQuantity indicates a non-positive receipt quantity.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")
)
