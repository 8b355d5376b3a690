package wastage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ferrous-erp/ferrous/internal/platform/db"
)

// StatusPending marks records awaiting the external approval workflow.
const StatusPending = "pending"

// Wastage is one disposal record queued for approval. Disposable material
// routes here in full and never reaches inventory or billing.
type Wastage struct {
	ID                int64           `json:"id"`
	MaterialID        int64           `json:"material_id"`
	CollectionOrderID int64           `json:"collection_order_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	WasteType         string          `json:"waste_type"`
	Status            string          `json:"status"`
	Notes             string          `json:"notes"`
	CreatedBy         int64           `json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Store persists wastage records. Approval lives in another system, so
// the only writes are inserts.
type Store struct{}

// NewStore constructs Store.
func NewStore() *Store {
	return &Store{}
}

// Insert queues one pending wastage record and returns its id.
func (s *Store) Insert(ctx context.Context, q db.Querier, w Wastage) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `INSERT INTO wastages
(material_id, collection_order_id, quantity, waste_type, status, notes, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id`,
		w.MaterialID, w.CollectionOrderID, w.Quantity.String(), w.WasteType, StatusPending, w.Notes, w.CreatedBy).Scan(&id)
	return id, err
}

// ListByOrder returns wastage queued from one collection order.
func (s *Store) ListByOrder(ctx context.Context, q db.Querier, orderID int64) ([]Wastage, error) {
	rows, err := q.Query(ctx, `SELECT id, material_id, collection_order_id, quantity::text, waste_type, status, COALESCE(notes, ''), created_by, created_at
FROM wastages WHERE collection_order_id=$1 ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []Wastage{}
	for rows.Next() {
		var (
			w   Wastage
			qty string
		)
		if err := rows.Scan(&w.ID, &w.MaterialID, &w.CollectionOrderID, &qty, &w.WasteType, &w.Status,
			&w.Notes, &w.CreatedBy, &w.CreatedAt); err != nil {
			return nil, err
		}
		if w.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		records = append(records, w)
	}
	return records, rows.Err()
}
