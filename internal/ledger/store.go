package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ferrous-erp/ferrous/internal/platform/db"
)

// Store persists inventory batches and their movement log. All methods
// take a db.Querier so callers can run them on the pool or compose them
// into an enclosing transaction.
type Store struct{}

// NewStore constructs Store.
func NewStore() *Store {
	return &Store{}
}

// ReceiptInput describes one receipt into a batch.
type ReceiptInput struct {
	MaterialID      int64
	BatchNumber     string
	Quantity        decimal.Decimal
	UnitCost        decimal.Decimal
	PurchaseOrderID *int64
	Location        string
	Condition       string
	ReferenceType   string
	ReferenceID     int64
	Notes           string
	PerformedBy     int64
}

// AdjustmentInput describes a signed correction against an existing batch.
type AdjustmentInput struct {
	BatchNumber   string
	Delta         decimal.Decimal
	ReferenceType string
	ReferenceID   int64
	Notes         string
	PerformedBy   int64
}

const batchColumns = `id, material_id, batch_number, quantity_received::text, remaining_quantity::text,
unit_cost::text, is_depleted, purchase_order_id, COALESCE(location, ''), COALESCE(condition, ''), received_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var (
		b                         Batch
		received, remaining, cost string
	)
	err := row.Scan(&b.ID, &b.MaterialID, &b.BatchNumber, &received, &remaining,
		&cost, &b.IsDepleted, &b.PurchaseOrderID, &b.Location, &b.Condition, &b.ReceivedAt)
	if err != nil {
		return Batch{}, err
	}
	if b.QuantityReceived, err = decimal.NewFromString(received); err != nil {
		return Batch{}, err
	}
	if b.RemainingQuantity, err = decimal.NewFromString(remaining); err != nil {
		return Batch{}, err
	}
	if b.UnitCost, err = decimal.NewFromString(cost); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// GetBatch loads a batch by its deterministic batch number.
func (s *Store) GetBatch(ctx context.Context, q db.Querier, batchNumber string) (Batch, error) {
	row := q.QueryRow(ctx, `SELECT `+batchColumns+` FROM inventory_batches WHERE batch_number=$1`, batchNumber)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, err
	}
	return batch, nil
}

// GetBatchForUpdate loads a batch with a row lock. Must run inside a
// transaction.
func (s *Store) GetBatchForUpdate(ctx context.Context, q db.Querier, batchNumber string) (Batch, error) {
	row := q.QueryRow(ctx, `SELECT `+batchColumns+` FROM inventory_batches WHERE batch_number=$1 FOR UPDATE`, batchNumber)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, err
	}
	return batch, nil
}

// ReceiveIntoBatch records a receipt. When the batch number already exists
// for the material the quantities merge into the existing lot, otherwise a
// new batch row is created. Either way a receipt movement is appended.
func (s *Store) ReceiveIntoBatch(ctx context.Context, q db.Querier, in ReceiptInput) (Batch, error) {
	if !in.Quantity.IsPositive() {
		return Batch{}, ErrInvalidQuantity
	}
	batch, err := s.GetBatchForUpdate(ctx, q, in.BatchNumber)
	switch {
	case errors.Is(err, ErrBatchNotFound):
		batch, err = s.insertBatch(ctx, q, in)
		if err != nil {
			return Batch{}, err
		}
	case err != nil:
		return Batch{}, err
	default:
		batch.QuantityReceived = batch.QuantityReceived.Add(in.Quantity)
		batch.RemainingQuantity = batch.RemainingQuantity.Add(in.Quantity)
		batch.IsDepleted = false
		if err := s.updateBalance(ctx, q, batch); err != nil {
			return Batch{}, err
		}
	}
	_, err = s.insertMovement(ctx, q, Movement{
		BatchID:       batch.ID,
		Type:          MovementReceipt,
		Quantity:      in.Quantity,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		Notes:         in.Notes,
		PerformedBy:   in.PerformedBy,
	})
	if err != nil {
		return Batch{}, err
	}
	return batch, nil
}

// AdjustBatch applies a signed correction to an existing batch and appends
// an adjustment movement carrying the applied delta. The remaining quantity
// clamps at zero; when clamping truncates the delta the movement records
// the truncated value so the log still sums to the balance.
func (s *Store) AdjustBatch(ctx context.Context, q db.Querier, in AdjustmentInput) (Batch, Movement, error) {
	batch, err := s.GetBatchForUpdate(ctx, q, in.BatchNumber)
	if err != nil {
		return Batch{}, Movement{}, err
	}
	res := applyDelta(batch, in.Delta)
	batch.QuantityReceived = res.QuantityReceived
	batch.RemainingQuantity = res.RemainingQuantity
	batch.IsDepleted = res.IsDepleted
	if err := s.updateBalance(ctx, q, batch); err != nil {
		return Batch{}, Movement{}, err
	}
	mv, err := s.insertMovement(ctx, q, Movement{
		BatchID:       batch.ID,
		Type:          MovementAdjustment,
		Quantity:      res.AppliedDelta,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		Notes:         in.Notes,
		PerformedBy:   in.PerformedBy,
	})
	if err != nil {
		return Batch{}, Movement{}, err
	}
	return batch, mv, nil
}

// CreateBatchFromAdjustment repairs a missing batch during rectification.
// The batch starts at the corrected quantity and the opening movement is
// recorded as an adjustment so the log explains where the stock came from.
func (s *Store) CreateBatchFromAdjustment(ctx context.Context, q db.Querier, in ReceiptInput) (Batch, error) {
	if !in.Quantity.IsPositive() {
		return Batch{}, ErrInvalidQuantity
	}
	batch, err := s.insertBatch(ctx, q, in)
	if err != nil {
		return Batch{}, err
	}
	_, err = s.insertMovement(ctx, q, Movement{
		BatchID:       batch.ID,
		Type:          MovementAdjustment,
		Quantity:      in.Quantity,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		Notes:         in.Notes,
		PerformedBy:   in.PerformedBy,
	})
	if err != nil {
		return Batch{}, err
	}
	return batch, nil
}

func (s *Store) insertBatch(ctx context.Context, q db.Querier, in ReceiptInput) (Batch, error) {
	batch := Batch{
		MaterialID:        in.MaterialID,
		BatchNumber:       in.BatchNumber,
		QuantityReceived:  in.Quantity,
		RemainingQuantity: in.Quantity,
		UnitCost:          in.UnitCost,
		PurchaseOrderID:   in.PurchaseOrderID,
		Location:          in.Location,
		Condition:         in.Condition,
		ReceivedAt:        time.Now().UTC(),
	}
	err := q.QueryRow(ctx, `INSERT INTO inventory_batches
(material_id, batch_number, quantity_received, remaining_quantity, unit_cost, is_depleted, purchase_order_id, location, condition, received_at)
VALUES ($1,$2,$3,$4,$5,false,$6,$7,$8,$9) RETURNING id`,
		batch.MaterialID, batch.BatchNumber, batch.QuantityReceived.String(), batch.RemainingQuantity.String(),
		batch.UnitCost.String(), batch.PurchaseOrderID, batch.Location, batch.Condition, batch.ReceivedAt).Scan(&batch.ID)
	if err != nil {
		return Batch{}, err
	}
	return batch, nil
}

func (s *Store) updateBalance(ctx context.Context, q db.Querier, batch Batch) error {
	tag, err := q.Exec(ctx, `UPDATE inventory_batches
SET quantity_received=$2, remaining_quantity=$3, is_depleted=$4 WHERE id=$1`,
		batch.ID, batch.QuantityReceived.String(), batch.RemainingQuantity.String(), batch.IsDepleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (s *Store) insertMovement(ctx context.Context, q db.Querier, mv Movement) (Movement, error) {
	mv.UID = uuid.New()
	mv.MovementDate = time.Now().UTC()
	err := q.QueryRow(ctx, `INSERT INTO batch_movements
(uid, batch_id, movement_type, quantity, reference_type, reference_id, movement_date, notes, performed_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		mv.UID, mv.BatchID, string(mv.Type), mv.Quantity.String(), mv.ReferenceType, mv.ReferenceID,
		mv.MovementDate, mv.Notes, mv.PerformedBy).Scan(&mv.ID)
	if err != nil {
		return Movement{}, err
	}
	return mv, nil
}

// SumMovements returns the signed sum of all movements on a batch. Receipts
// and adjustments carry their sign in the quantity column.
func (s *Store) SumMovements(ctx context.Context, q db.Querier, batchID int64) (decimal.Decimal, error) {
	var raw string
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0)::text FROM batch_movements WHERE batch_id=$1`, batchID).Scan(&raw)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

// ListBatches returns batches for a material, newest first. A zero material
// id lists across all materials.
func (s *Store) ListBatches(ctx context.Context, q db.Querier, materialID int64, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.Query(ctx, `SELECT `+batchColumns+` FROM inventory_batches
WHERE ($1 = 0 OR material_id = $1) ORDER BY received_at DESC, id DESC LIMIT $2`, materialID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	batches := []Batch{}
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// ListMovements returns the movement log of one batch, oldest first.
func (s *Store) ListMovements(ctx context.Context, q db.Querier, batchID int64) ([]Movement, error) {
	rows, err := q.Query(ctx, `SELECT id, uid, batch_id, movement_type, quantity::text, reference_type, reference_id, movement_date, COALESCE(notes, ''), performed_by
FROM batch_movements WHERE batch_id=$1 ORDER BY id ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var (
			mv  Movement
			qty string
		)
		if err := rows.Scan(&mv.ID, &mv.UID, &mv.BatchID, &mv.Type, &qty, &mv.ReferenceType, &mv.ReferenceID,
			&mv.MovementDate, &mv.Notes, &mv.PerformedBy); err != nil {
			return nil, err
		}
		if mv.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}

// BalanceMismatch reports a batch whose cached balance disagrees with its
// movement log.
type BalanceMismatch struct {
	BatchID     int64           `json:"batch_id"`
	BatchNumber string          `json:"batch_number"`
	Cached      decimal.Decimal `json:"cached"`
	LogSum      decimal.Decimal `json:"log_sum"`
}

// FindBalanceMismatches scans for batches where remaining_quantity differs
// from the movement sum. Used by the integrity job.
func (s *Store) FindBalanceMismatches(ctx context.Context, q db.Querier, limit int) ([]BalanceMismatch, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.Query(ctx, `SELECT b.id, b.batch_number, b.remaining_quantity::text, COALESCE(SUM(m.quantity), 0)::text
FROM inventory_batches b
LEFT JOIN batch_movements m ON m.batch_id = b.id
GROUP BY b.id, b.batch_number, b.remaining_quantity
HAVING b.remaining_quantity <> COALESCE(SUM(m.quantity), 0)
ORDER BY b.id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	mismatches := []BalanceMismatch{}
	for rows.Next() {
		var (
			m              BalanceMismatch
			cached, logSum string
		)
		if err := rows.Scan(&m.BatchID, &m.BatchNumber, &cached, &logSum); err != nil {
			return nil, err
		}
		if m.Cached, err = decimal.NewFromString(cached); err != nil {
			return nil, err
		}
		if m.LogSum, err = decimal.NewFromString(logSum); err != nil {
			return nil, err
		}
		mismatches = append(mismatches, m)
	}
	return mismatches, rows.Err()
}
