package collection

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ferrous-erp/ferrous/internal/platform/db"
)

// Repository persists collection orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertOrder(ctx context.Context, order CollectionOrder) (int64, error)
	InsertItem(ctx context.Context, item CollectionItem) (int64, error)
	UpdateStatus(ctx context.Context, orderID int64, status OrderStatus) error
	UpdateItemQuantity(ctx context.Context, itemID int64, qty, totalValue decimal.Decimal) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("collection repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const orderColumns = `id, order_number, contract_id, supplier_id, location_id, status, is_finalized,
wcn_number, wcn_date, finalized_at, finalized_by, purchase_order_id,
total_value::text, total_expenses::text, rectification_count, scheduled_for, created_by, created_at, updated_at`

func scanOrder(row pgx.Row) (CollectionOrder, error) {
	var (
		o                      CollectionOrder
		totalValue, totalSpent string
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.ContractID, &o.SupplierID, &o.LocationID, &o.Status, &o.IsFinalized,
		&o.WCNNumber, &o.WCNDate, &o.FinalizedAt, &o.FinalizedBy, &o.PurchaseOrderID,
		&totalValue, &totalSpent, &o.RectificationCount, &o.ScheduledFor, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return CollectionOrder{}, err
	}
	if o.TotalValue, err = decimal.NewFromString(totalValue); err != nil {
		return CollectionOrder{}, fmt.Errorf("collection: parse total value: %w", err)
	}
	if o.TotalExpenses, err = decimal.NewFromString(totalSpent); err != nil {
		return CollectionOrder{}, fmt.Errorf("collection: parse total expenses: %w", err)
	}
	return o, nil
}

// GetOrder loads an order header by id.
func (r *Repository) GetOrder(ctx context.Context, id int64) (CollectionOrder, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM collection_orders WHERE id=$1`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CollectionOrder{}, ErrOrderNotFound
		}
		return CollectionOrder{}, err
	}
	return order, nil
}

// ListOrders returns orders filtered by status, newest first.
func (r *Repository) ListOrders(ctx context.Context, status OrderStatus, limit int) ([]CollectionOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM collection_orders
WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC, id DESC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	orders := []CollectionOrder{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

const itemColumns = `id, collection_order_id, material_id, available_quantity::text, estimated_quantity::text,
collected_quantity::text, original_collected_quantity::text, contract_rate::text, total_value::text,
COALESCE(quality_grade, ''), quality_verified, COALESCE(material_condition, '')`

func scanItem(row pgx.Row) (CollectionItem, error) {
	var (
		it                                        CollectionItem
		available, estimated, collected, rate, tv string
		original                                  *string
	)
	err := row.Scan(&it.ID, &it.CollectionOrderID, &it.MaterialID, &available, &estimated,
		&collected, &original, &rate, &tv, &it.QualityGrade, &it.QualityVerified, &it.MaterialCondition)
	if err != nil {
		return CollectionItem{}, err
	}
	if it.AvailableQuantity, err = decimal.NewFromString(available); err != nil {
		return CollectionItem{}, err
	}
	if it.EstimatedQuantity, err = decimal.NewFromString(estimated); err != nil {
		return CollectionItem{}, err
	}
	if it.CollectedQuantity, err = decimal.NewFromString(collected); err != nil {
		return CollectionItem{}, err
	}
	if original != nil {
		orig, err := decimal.NewFromString(*original)
		if err != nil {
			return CollectionItem{}, err
		}
		it.OriginalCollectedQuantity = &orig
	}
	if it.ContractRate, err = decimal.NewFromString(rate); err != nil {
		return CollectionItem{}, err
	}
	if it.TotalValue, err = decimal.NewFromString(tv); err != nil {
		return CollectionItem{}, err
	}
	return it, nil
}

// GetOrderItems loads all items of one order.
func (r *Repository) GetOrderItems(ctx context.Context, orderID int64) ([]CollectionItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM collection_items WHERE collection_order_id=$1 ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []CollectionItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetItem loads one item by id.
func (r *Repository) GetItem(ctx context.Context, itemID int64) (CollectionItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM collection_items WHERE id=$1`, itemID)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CollectionItem{}, ErrItemNotFound
		}
		return CollectionItem{}, err
	}
	return item, nil
}

func (r *txRepository) InsertOrder(ctx context.Context, order CollectionOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO collection_orders
(order_number, contract_id, supplier_id, location_id, status, is_finalized, total_value, total_expenses, rectification_count, scheduled_for, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,false,$6,$7,0,$8,$9,NOW(),NOW()) RETURNING id`,
		order.OrderNumber, order.ContractID, order.SupplierID, order.LocationID, string(order.Status),
		order.TotalValue.String(), order.TotalExpenses.String(), order.ScheduledFor, order.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertItem(ctx context.Context, item CollectionItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO collection_items
(collection_order_id, material_id, available_quantity, estimated_quantity, collected_quantity, contract_rate, total_value, quality_grade, quality_verified, material_condition)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		item.CollectionOrderID, item.MaterialID, item.AvailableQuantity.String(), item.EstimatedQuantity.String(),
		item.CollectedQuantity.String(), item.ContractRate.String(), item.TotalValue.String(),
		item.QualityGrade, item.QualityVerified, item.MaterialCondition).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateStatus(ctx context.Context, orderID int64, status OrderStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE collection_orders SET status=$2, updated_at=NOW() WHERE id=$1`, orderID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *txRepository) UpdateItemQuantity(ctx context.Context, itemID int64, qty, totalValue decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE collection_items SET collected_quantity=$2, total_value=$3 WHERE id=$1`,
		itemID, qty.String(), totalValue.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}
