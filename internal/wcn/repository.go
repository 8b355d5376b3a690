package wcn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ferrous-erp/ferrous/internal/collection"
	"github.com/ferrous-erp/ferrous/internal/ledger"
	"github.com/ferrous-erp/ferrous/internal/platform/db"
	"github.com/ferrous-erp/ferrous/internal/purchasing"
	"github.com/ferrous-erp/ferrous/internal/wastage"
)

// Repository is the PostgreSQL unit-of-work behind finalize and rectify.
// Ledger, purchasing and wastage writes share the wcn transaction through
// their Querier-based stores.
type Repository struct {
	pool       *pgxpool.Pool
	ledger     *ledger.Store
	purchasing *purchasing.Store
	wastage    *wastage.Store
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool:       pool,
		ledger:     ledger.NewStore(),
		purchasing: purchasing.NewStore(),
		wastage:    wastage.NewStore(),
	}
}

type txRepository struct {
	tx   pgx.Tx
	repo *Repository
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("wcn repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, repo: r})
	})
}

const orderColumns = `id, order_number, contract_id, supplier_id, location_id, status, is_finalized,
wcn_number, wcn_date, finalized_at, finalized_by, purchase_order_id,
total_value::text, total_expenses::text, rectification_count, scheduled_for, created_by, created_at, updated_at`

func scanOrder(row pgx.Row) (collection.CollectionOrder, error) {
	var (
		o                      collection.CollectionOrder
		totalValue, totalSpent string
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.ContractID, &o.SupplierID, &o.LocationID, &o.Status, &o.IsFinalized,
		&o.WCNNumber, &o.WCNDate, &o.FinalizedAt, &o.FinalizedBy, &o.PurchaseOrderID,
		&totalValue, &totalSpent, &o.RectificationCount, &o.ScheduledFor, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return collection.CollectionOrder{}, err
	}
	if o.TotalValue, err = decimal.NewFromString(totalValue); err != nil {
		return collection.CollectionOrder{}, fmt.Errorf("wcn: parse total value: %w", err)
	}
	if o.TotalExpenses, err = decimal.NewFromString(totalSpent); err != nil {
		return collection.CollectionOrder{}, fmt.Errorf("wcn: parse total expenses: %w", err)
	}
	return o, nil
}

const itemColumns = `id, collection_order_id, material_id, available_quantity::text, estimated_quantity::text,
collected_quantity::text, original_collected_quantity::text, contract_rate::text, total_value::text,
COALESCE(quality_grade, ''), quality_verified, COALESCE(material_condition, '')`

func scanItem(row pgx.Row) (collection.CollectionItem, error) {
	var (
		it                                        collection.CollectionItem
		available, estimated, collected, rate, tv string
		original                                  *string
	)
	err := row.Scan(&it.ID, &it.CollectionOrderID, &it.MaterialID, &available, &estimated,
		&collected, &original, &rate, &tv, &it.QualityGrade, &it.QualityVerified, &it.MaterialCondition)
	if err != nil {
		return collection.CollectionItem{}, err
	}
	if it.AvailableQuantity, err = decimal.NewFromString(available); err != nil {
		return collection.CollectionItem{}, err
	}
	if it.EstimatedQuantity, err = decimal.NewFromString(estimated); err != nil {
		return collection.CollectionItem{}, err
	}
	if it.CollectedQuantity, err = decimal.NewFromString(collected); err != nil {
		return collection.CollectionItem{}, err
	}
	if original != nil {
		orig, err := decimal.NewFromString(*original)
		if err != nil {
			return collection.CollectionItem{}, err
		}
		it.OriginalCollectedQuantity = &orig
	}
	if it.ContractRate, err = decimal.NewFromString(rate); err != nil {
		return collection.CollectionItem{}, err
	}
	if it.TotalValue, err = decimal.NewFromString(tv); err != nil {
		return collection.CollectionItem{}, err
	}
	return it, nil
}

func getOrder(ctx context.Context, q db.Querier, id int64, forUpdate bool) (collection.CollectionOrder, error) {
	sql := `SELECT ` + orderColumns + ` FROM collection_orders WHERE id=$1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	order, err := scanOrder(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return collection.CollectionOrder{}, collection.ErrOrderNotFound
		}
		return collection.CollectionOrder{}, err
	}
	return order, nil
}

func getOrderItems(ctx context.Context, q db.Querier, orderID int64) ([]collection.CollectionItem, error) {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM collection_items WHERE collection_order_id=$1 ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []collection.CollectionItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetOrder loads the order header without locking.
func (r *Repository) GetOrder(ctx context.Context, id int64) (collection.CollectionOrder, error) {
	return getOrder(ctx, r.pool, id, false)
}

// GetOrderItems loads the items of one order.
func (r *Repository) GetOrderItems(ctx context.Context, orderID int64) ([]collection.CollectionItem, error) {
	return getOrderItems(ctx, r.pool, orderID)
}

// ListRectifications returns the correction history of one order,
// oldest first.
func (r *Repository) ListRectifications(ctx context.Context, orderID int64) ([]RectificationEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, collection_order_id, sequence, COALESCE(notes, ''), performed_by, performed_at, changes
FROM wcn_rectifications WHERE collection_order_id=$1 ORDER BY sequence ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []RectificationEntry{}
	for rows.Next() {
		var (
			entry RectificationEntry
			raw   []byte
		)
		if err := rows.Scan(&entry.ID, &entry.CollectionOrderID, &entry.Sequence, &entry.Notes,
			&entry.PerformedBy, &entry.PerformedAt, &raw); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &entry.Changes); err != nil {
				return nil, fmt.Errorf("wcn: decode rectification changes: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListWastages returns the disposal records queued from one order.
func (r *Repository) ListWastages(ctx context.Context, orderID int64) ([]wastage.Wastage, error) {
	return r.wastage.ListByOrder(ctx, r.pool, orderID)
}

// ListBatches exposes ledger batches for reads outside a transaction.
func (r *Repository) ListBatches(ctx context.Context, materialID int64, limit int) ([]ledger.Batch, error) {
	return r.ledger.ListBatches(ctx, r.pool, materialID, limit)
}

func (t *txRepository) GetOrderForUpdate(ctx context.Context, orderID int64) (collection.CollectionOrder, error) {
	return getOrder(ctx, t.tx, orderID, true)
}

func (t *txRepository) GetOrderItems(ctx context.Context, orderID int64) ([]collection.CollectionItem, error) {
	return getOrderItems(ctx, t.tx, orderID)
}

func (t *txRepository) GetItem(ctx context.Context, itemID int64) (collection.CollectionItem, error) {
	item, err := scanItem(t.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM collection_items WHERE id=$1 FOR UPDATE`, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return collection.CollectionItem{}, collection.ErrItemNotFound
		}
		return collection.CollectionItem{}, err
	}
	return item, nil
}

// NextWCNSequence reserves the next per-year sequence number atomically.
func (t *txRepository) NextWCNSequence(ctx context.Context, year int) (int64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `INSERT INTO wcn_sequences (year, last_seq) VALUES ($1, 1)
ON CONFLICT (year) DO UPDATE SET last_seq = wcn_sequences.last_seq + 1
RETURNING last_seq`, year).Scan(&seq)
	return seq, err
}

func (t *txRepository) UpdateFinalizedItem(ctx context.Context, item collection.CollectionItem) error {
	var original *string
	if item.OriginalCollectedQuantity != nil {
		s := item.OriginalCollectedQuantity.String()
		original = &s
	}
	tag, err := t.tx.Exec(ctx, `UPDATE collection_items
SET collected_quantity=$2, original_collected_quantity=COALESCE(original_collected_quantity, $3::numeric),
contract_rate=$4, total_value=$5, quality_grade=$6, quality_verified=$7, material_condition=$8
WHERE id=$1`,
		item.ID, item.CollectedQuantity.String(), original, item.ContractRate.String(),
		item.TotalValue.String(), item.QualityGrade, item.QualityVerified, item.MaterialCondition)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return collection.ErrItemNotFound
	}
	return nil
}

func (t *txRepository) InsertItem(ctx context.Context, item collection.CollectionItem) (int64, error) {
	var original *string
	if item.OriginalCollectedQuantity != nil {
		s := item.OriginalCollectedQuantity.String()
		original = &s
	}
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO collection_items
(collection_order_id, material_id, available_quantity, estimated_quantity, collected_quantity, original_collected_quantity, contract_rate, total_value, quality_grade, quality_verified, material_condition)
VALUES ($1,$2,0,0,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		item.CollectionOrderID, item.MaterialID, item.CollectedQuantity.String(), original,
		item.ContractRate.String(), item.TotalValue.String(),
		item.QualityGrade, item.QualityVerified, item.MaterialCondition).Scan(&id)
	return id, err
}

func (t *txRepository) UpdateItemQuantity(ctx context.Context, itemID int64, qty, totalValue decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE collection_items SET collected_quantity=$2, total_value=$3 WHERE id=$1`,
		itemID, qty.String(), totalValue.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return collection.ErrItemNotFound
	}
	return nil
}

func (t *txRepository) MarkFinalized(ctx context.Context, mark FinalizationMark) error {
	tag, err := t.tx.Exec(ctx, `UPDATE collection_orders
SET is_finalized=true, wcn_number=$2, wcn_date=$3, finalized_at=NOW(), finalized_by=$4,
purchase_order_id=$5, total_value=$6, updated_at=NOW()
WHERE id=$1 AND is_finalized=false`,
		mark.OrderID, mark.WCNNumber, mark.WCNDate, mark.FinalizedBy, mark.PurchaseOrderID, mark.TotalValue.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFinalizable
	}
	return nil
}

func (t *txRepository) IncrementRectificationCount(ctx context.Context, orderID int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE collection_orders
SET rectification_count = rectification_count + 1, updated_at=NOW() WHERE id=$1`, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return collection.ErrOrderNotFound
	}
	return nil
}

func (t *txRepository) ReceiveIntoBatch(ctx context.Context, in ledger.ReceiptInput) (ledger.Batch, error) {
	return t.repo.ledger.ReceiveIntoBatch(ctx, t.tx, in)
}

func (t *txRepository) AdjustBatch(ctx context.Context, in ledger.AdjustmentInput) (ledger.Batch, ledger.Movement, error) {
	return t.repo.ledger.AdjustBatch(ctx, t.tx, in)
}

func (t *txRepository) CreateBatchFromAdjustment(ctx context.Context, in ledger.ReceiptInput) (ledger.Batch, error) {
	return t.repo.ledger.CreateBatchFromAdjustment(ctx, t.tx, in)
}

func (t *txRepository) InsertPurchaseOrder(ctx context.Context, po purchasing.PurchaseOrder) (int64, error) {
	return t.repo.purchasing.InsertOrder(ctx, t.tx, po)
}

func (t *txRepository) InsertPurchaseOrderItem(ctx context.Context, item purchasing.PurchaseOrderItem) (int64, error) {
	return t.repo.purchasing.InsertItem(ctx, t.tx, item)
}

func (t *txRepository) ListPurchaseOrderItems(ctx context.Context, poID int64) ([]purchasing.PurchaseOrderItem, error) {
	return t.repo.purchasing.ListItems(ctx, t.tx, poID)
}

func (t *txRepository) FindPurchaseOrderItem(ctx context.Context, poID, materialID int64) (purchasing.PurchaseOrderItem, error) {
	return t.repo.purchasing.FindItemByMaterial(ctx, t.tx, poID, materialID)
}

func (t *txRepository) UpdatePurchaseOrderItemQuantity(ctx context.Context, itemID int64, qty decimal.Decimal) error {
	return t.repo.purchasing.UpdateItemQuantity(ctx, t.tx, itemID, qty)
}

func (t *txRepository) UpdatePurchaseOrderTotals(ctx context.Context, poID int64, totals purchasing.Totals) error {
	return t.repo.purchasing.UpdateTotals(ctx, t.tx, poID, totals)
}

func (t *txRepository) GetPurchaseOrder(ctx context.Context, poID int64) (purchasing.PurchaseOrder, error) {
	return t.repo.purchasing.GetOrder(ctx, t.tx, poID)
}

func (t *txRepository) InsertWastage(ctx context.Context, w wastage.Wastage) (int64, error) {
	return t.repo.wastage.Insert(ctx, t.tx, w)
}

func (t *txRepository) InsertRectification(ctx context.Context, entry RectificationEntry) (int64, error) {
	raw, err := json.Marshal(entry.Changes)
	if err != nil {
		return 0, fmt.Errorf("wcn: encode rectification changes: %w", err)
	}
	var id int64
	err = t.tx.QueryRow(ctx, `INSERT INTO wcn_rectifications
(collection_order_id, sequence, notes, performed_by, performed_at, changes)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		entry.CollectionOrderID, entry.Sequence, entry.Notes, entry.PerformedBy, entry.PerformedAt, raw).Scan(&id)
	return id, err
}
