package purchasing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// StatusReceived marks orders whose goods are already in stock.
	// Auto-generated orders are born received.
	StatusReceived = "received"
	// SourceWCNAuto marks orders projected from a collection finalization.
	SourceWCNAuto = "wcn_auto"
)

// PurchaseOrder is the billing projection of a finalized collection.
type PurchaseOrder struct {
	ID                int64           `json:"id"`
	PONumber          string          `json:"po_number"`
	SupplierID        int64           `json:"supplier_id"`
	Status            string          `json:"status"`
	SourceType        string          `json:"source_type"`
	CollectionOrderID int64           `json:"collection_order_id"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	TaxAmount         decimal.Decimal `json:"tax_amount"`
	ShippingCost      decimal.Decimal `json:"shipping_cost"`
	Total             decimal.Decimal `json:"total"`
	OrderDate         time.Time       `json:"order_date"`
	CreatedBy         int64           `json:"created_by"`
}

// PurchaseOrderItem is one billable line. BatchNumber mirrors the inventory
// batch so rectification can find both sides.
type PurchaseOrderItem struct {
	ID               int64           `json:"id"`
	PurchaseOrderID  int64           `json:"purchase_order_id"`
	MaterialID       int64           `json:"material_id"`
	QuantityOrdered  decimal.Decimal `json:"quantity_ordered"`
	QuantityReceived decimal.Decimal `json:"quantity_received"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	TotalPrice       decimal.Decimal `json:"total_price"`
	BatchNumber      string          `json:"batch_number"`
}

// Totals is the money summary derived from order items.
type Totals struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	Total        decimal.Decimal `json:"total"`
}

// ComputeTotals sums item line totals and applies tax and shipping.
func ComputeTotals(items []PurchaseOrderItem, taxRate, shipping decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.TotalPrice)
	}
	tax := subtotal.Mul(taxRate)
	return Totals{
		Subtotal:     subtotal,
		TaxAmount:    tax,
		ShippingCost: shipping,
		Total:        subtotal.Add(tax).Add(shipping),
	}
}

// PONumber derives the purchase order number from its WCN, so the pair is
// traceable in both directions.
func PONumber(wcnNumber string) string {
	return fmt.Sprintf("PO-%s", wcnNumber)
}

var (
	// ErrOrderNotFound indicates a missing purchase order.
	ErrOrderNotFound = errors.New("purchasing: order not found")
	// ErrItemNotFound indicates a missing purchase order item.
	ErrItemNotFound = errors.New("purchasing: item not found")
)
