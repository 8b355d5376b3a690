package purchasing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ferrous-erp/ferrous/internal/platform/db"
)

// Store persists purchase orders. Methods take a db.Querier so the
// finalize and rectify transactions can compose purchasing writes.
type Store struct{}

// NewStore constructs Store.
func NewStore() *Store {
	return &Store{}
}

const orderColumns = `id, po_number, supplier_id, status, source_type, collection_order_id,
subtotal::text, tax_amount::text, shipping_cost::text, total::text, order_date, created_by`

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var (
		po                             PurchaseOrder
		subtotal, tax, shipping, total string
	)
	err := row.Scan(&po.ID, &po.PONumber, &po.SupplierID, &po.Status, &po.SourceType, &po.CollectionOrderID,
		&subtotal, &tax, &shipping, &total, &po.OrderDate, &po.CreatedBy)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if po.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return PurchaseOrder{}, err
	}
	if po.TaxAmount, err = decimal.NewFromString(tax); err != nil {
		return PurchaseOrder{}, err
	}
	if po.ShippingCost, err = decimal.NewFromString(shipping); err != nil {
		return PurchaseOrder{}, err
	}
	if po.Total, err = decimal.NewFromString(total); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// InsertOrder creates the order header and returns its id.
func (s *Store) InsertOrder(ctx context.Context, q db.Querier, po PurchaseOrder) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `INSERT INTO purchase_orders
(po_number, supplier_id, status, source_type, collection_order_id, subtotal, tax_amount, shipping_cost, total, order_date, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		po.PONumber, po.SupplierID, po.Status, po.SourceType, po.CollectionOrderID,
		po.Subtotal.String(), po.TaxAmount.String(), po.ShippingCost.String(), po.Total.String(),
		po.OrderDate, po.CreatedBy).Scan(&id)
	return id, err
}

// InsertItem creates one billable line and returns its id.
func (s *Store) InsertItem(ctx context.Context, q db.Querier, item PurchaseOrderItem) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `INSERT INTO purchase_order_items
(purchase_order_id, material_id, quantity_ordered, quantity_received, unit_price, total_price, batch_number)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		item.PurchaseOrderID, item.MaterialID, item.QuantityOrdered.String(), item.QuantityReceived.String(),
		item.UnitPrice.String(), item.TotalPrice.String(), item.BatchNumber).Scan(&id)
	return id, err
}

// GetOrder loads one order header.
func (s *Store) GetOrder(ctx context.Context, q db.Querier, id int64) (PurchaseOrder, error) {
	row := q.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1`, id)
	po, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrOrderNotFound
		}
		return PurchaseOrder{}, err
	}
	return po, nil
}

const itemColumns = `id, purchase_order_id, material_id, quantity_ordered::text, quantity_received::text,
unit_price::text, total_price::text, batch_number`

func scanItem(row pgx.Row) (PurchaseOrderItem, error) {
	var (
		it                             PurchaseOrderItem
		ordered, received, unit, total string
	)
	err := row.Scan(&it.ID, &it.PurchaseOrderID, &it.MaterialID, &ordered, &received, &unit, &total, &it.BatchNumber)
	if err != nil {
		return PurchaseOrderItem{}, err
	}
	if it.QuantityOrdered, err = decimal.NewFromString(ordered); err != nil {
		return PurchaseOrderItem{}, err
	}
	if it.QuantityReceived, err = decimal.NewFromString(received); err != nil {
		return PurchaseOrderItem{}, err
	}
	if it.UnitPrice, err = decimal.NewFromString(unit); err != nil {
		return PurchaseOrderItem{}, err
	}
	if it.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return PurchaseOrderItem{}, err
	}
	return it, nil
}

// ListItems loads all lines of one order.
func (s *Store) ListItems(ctx context.Context, q db.Querier, orderID int64) ([]PurchaseOrderItem, error) {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM purchase_order_items WHERE purchase_order_id=$1 ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []PurchaseOrderItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// FindItemByMaterial locates the line for a material on an order.
func (s *Store) FindItemByMaterial(ctx context.Context, q db.Querier, orderID, materialID int64) (PurchaseOrderItem, error) {
	row := q.QueryRow(ctx, `SELECT `+itemColumns+` FROM purchase_order_items
WHERE purchase_order_id=$1 AND material_id=$2`, orderID, materialID)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrderItem{}, ErrItemNotFound
		}
		return PurchaseOrderItem{}, err
	}
	return item, nil
}

// UpdateItemQuantity resets a line to the corrected quantity. Ordered and
// received track together because auto-generated orders are born received.
func (s *Store) UpdateItemQuantity(ctx context.Context, q db.Querier, itemID int64, qty decimal.Decimal) error {
	tag, err := q.Exec(ctx, `UPDATE purchase_order_items
SET quantity_ordered=$2, quantity_received=$2, total_price=($2::numeric * unit_price) WHERE id=$1`,
		itemID, qty.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// UpdateTotals rewrites the money summary on the header.
func (s *Store) UpdateTotals(ctx context.Context, q db.Querier, orderID int64, t Totals) error {
	tag, err := q.Exec(ctx, `UPDATE purchase_orders
SET subtotal=$2, tax_amount=$3, shipping_cost=$4, total=$5 WHERE id=$1`,
		orderID, t.Subtotal.String(), t.TaxAmount.String(), t.ShippingCost.String(), t.Total.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}
