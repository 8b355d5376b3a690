package wcn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/ferrous-erp/ferrous/internal/catalog"
	"github.com/ferrous-erp/ferrous/internal/collection"
	"github.com/ferrous-erp/ferrous/internal/ledger"
	"github.com/ferrous-erp/ferrous/internal/purchasing"
	"github.com/ferrous-erp/ferrous/internal/shared"
	"github.com/ferrous-erp/ferrous/internal/wastage"
)

// fakeStore implements RepositoryPort and TxRepository in memory with
// transactional rollback, so finalize/rectify semantics are testable
// without a database.
type fakeStore struct {
	orders         map[int64]collection.CollectionOrder
	items          map[int64]collection.CollectionItem
	nextItemID     int64
	sequences      map[int]int64
	batches        map[string]ledger.Batch
	nextBatchID    int64
	movements      []ledger.Movement
	nextMovementID int64
	pos            map[int64]purchasing.PurchaseOrder
	poItems        map[int64]purchasing.PurchaseOrderItem
	nextPOID       int64
	nextPOItemID   int64
	wastages       []wastage.Wastage
	rects          map[int64]RectificationEntry
	nextRectID     int64

	failMarkFinalized     bool
	failWastage           bool
	failPOTotals          bool
	serializationFailures int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:    map[int64]collection.CollectionOrder{},
		items:     map[int64]collection.CollectionItem{},
		sequences: map[int]int64{},
		batches:   map[string]ledger.Batch{},
		pos:       map[int64]purchasing.PurchaseOrder{},
		poItems:   map[int64]purchasing.PurchaseOrderItem{},
		rects:     map[int64]RectificationEntry{},
	}
}

func (f *fakeStore) snapshot() *fakeStore {
	c := newFakeStore()
	for k, v := range f.orders {
		c.orders[k] = v
	}
	for k, v := range f.items {
		c.items[k] = v
	}
	for k, v := range f.sequences {
		c.sequences[k] = v
	}
	for k, v := range f.batches {
		c.batches[k] = v
	}
	for k, v := range f.pos {
		c.pos[k] = v
	}
	for k, v := range f.poItems {
		c.poItems[k] = v
	}
	for k, v := range f.rects {
		c.rects[k] = v
	}
	c.movements = append([]ledger.Movement{}, f.movements...)
	c.wastages = append([]wastage.Wastage{}, f.wastages...)
	c.nextItemID, c.nextBatchID, c.nextMovementID = f.nextItemID, f.nextBatchID, f.nextMovementID
	c.nextPOID, c.nextPOItemID, c.nextRectID = f.nextPOID, f.nextPOItemID, f.nextRectID
	return c
}

func (f *fakeStore) restore(c *fakeStore) {
	f.orders, f.items, f.sequences = c.orders, c.items, c.sequences
	f.batches, f.movements = c.batches, c.movements
	f.pos, f.poItems = c.pos, c.poItems
	f.wastages, f.rects = c.wastages, c.rects
	f.nextItemID, f.nextBatchID, f.nextMovementID = c.nextItemID, c.nextBatchID, c.nextMovementID
	f.nextPOID, f.nextPOItemID, f.nextRectID = c.nextPOID, c.nextPOItemID, c.nextRectID
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if f.serializationFailures > 0 {
		f.serializationFailures--
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"}
	}
	before := f.snapshot()
	if err := fn(ctx, f); err != nil {
		f.restore(before)
		return err
	}
	return nil
}

func (f *fakeStore) GetOrder(ctx context.Context, id int64) (collection.CollectionOrder, error) {
	order, ok := f.orders[id]
	if !ok {
		return collection.CollectionOrder{}, collection.ErrOrderNotFound
	}
	return order, nil
}

func (f *fakeStore) GetOrderForUpdate(ctx context.Context, id int64) (collection.CollectionOrder, error) {
	return f.GetOrder(ctx, id)
}

func (f *fakeStore) GetOrderItems(ctx context.Context, orderID int64) ([]collection.CollectionItem, error) {
	items := []collection.CollectionItem{}
	for id := int64(1); id <= f.nextItemID; id++ {
		if item, ok := f.items[id]; ok && item.CollectionOrderID == orderID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *fakeStore) GetItem(ctx context.Context, itemID int64) (collection.CollectionItem, error) {
	item, ok := f.items[itemID]
	if !ok {
		return collection.CollectionItem{}, collection.ErrItemNotFound
	}
	return item, nil
}

func (f *fakeStore) NextWCNSequence(ctx context.Context, year int) (int64, error) {
	f.sequences[year]++
	return f.sequences[year], nil
}

func (f *fakeStore) UpdateFinalizedItem(ctx context.Context, item collection.CollectionItem) error {
	stored, ok := f.items[item.ID]
	if !ok {
		return collection.ErrItemNotFound
	}
	if stored.OriginalCollectedQuantity != nil {
		item.OriginalCollectedQuantity = stored.OriginalCollectedQuantity
	}
	f.items[item.ID] = item
	return nil
}

func (f *fakeStore) InsertItem(ctx context.Context, item collection.CollectionItem) (int64, error) {
	f.nextItemID++
	item.ID = f.nextItemID
	f.items[item.ID] = item
	return item.ID, nil
}

func (f *fakeStore) UpdateItemQuantity(ctx context.Context, itemID int64, qty, totalValue decimal.Decimal) error {
	item, ok := f.items[itemID]
	if !ok {
		return collection.ErrItemNotFound
	}
	item.CollectedQuantity = qty
	item.TotalValue = totalValue
	f.items[itemID] = item
	return nil
}

func (f *fakeStore) MarkFinalized(ctx context.Context, mark FinalizationMark) error {
	if f.failMarkFinalized {
		return errors.New("mark finalized failed")
	}
	order, ok := f.orders[mark.OrderID]
	if !ok || order.IsFinalized {
		return ErrNotFinalizable
	}
	order.IsFinalized = true
	order.WCNNumber = &mark.WCNNumber
	order.WCNDate = &mark.WCNDate
	now := time.Now()
	order.FinalizedAt = &now
	order.FinalizedBy = &mark.FinalizedBy
	order.PurchaseOrderID = &mark.PurchaseOrderID
	order.TotalValue = mark.TotalValue
	f.orders[mark.OrderID] = order
	return nil
}

func (f *fakeStore) IncrementRectificationCount(ctx context.Context, orderID int64) error {
	order, ok := f.orders[orderID]
	if !ok {
		return collection.ErrOrderNotFound
	}
	order.RectificationCount++
	f.orders[orderID] = order
	return nil
}

func (f *fakeStore) ReceiveIntoBatch(ctx context.Context, in ledger.ReceiptInput) (ledger.Batch, error) {
	batch, ok := f.batches[in.BatchNumber]
	if ok {
		batch.QuantityReceived = batch.QuantityReceived.Add(in.Quantity)
		batch.RemainingQuantity = batch.RemainingQuantity.Add(in.Quantity)
		batch.IsDepleted = false
	} else {
		f.nextBatchID++
		batch = ledger.Batch{
			ID:                f.nextBatchID,
			MaterialID:        in.MaterialID,
			BatchNumber:       in.BatchNumber,
			QuantityReceived:  in.Quantity,
			RemainingQuantity: in.Quantity,
			UnitCost:          in.UnitCost,
			PurchaseOrderID:   in.PurchaseOrderID,
			Condition:         in.Condition,
			ReceivedAt:        time.Now(),
		}
	}
	f.batches[in.BatchNumber] = batch
	f.appendMovement(batch.ID, ledger.MovementReceipt, in.Quantity, in.ReferenceType, in.ReferenceID)
	return batch, nil
}

func (f *fakeStore) AdjustBatch(ctx context.Context, in ledger.AdjustmentInput) (ledger.Batch, ledger.Movement, error) {
	batch, ok := f.batches[in.BatchNumber]
	if !ok {
		return ledger.Batch{}, ledger.Movement{}, ledger.ErrBatchNotFound
	}
	remaining := batch.RemainingQuantity.Add(in.Delta)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	applied := remaining.Sub(batch.RemainingQuantity)
	if in.Delta.IsPositive() {
		batch.QuantityReceived = batch.QuantityReceived.Add(in.Delta)
	}
	batch.RemainingQuantity = remaining
	batch.IsDepleted = !remaining.IsPositive()
	f.batches[in.BatchNumber] = batch
	mv := f.appendMovement(batch.ID, ledger.MovementAdjustment, applied, in.ReferenceType, in.ReferenceID)
	return batch, mv, nil
}

func (f *fakeStore) CreateBatchFromAdjustment(ctx context.Context, in ledger.ReceiptInput) (ledger.Batch, error) {
	f.nextBatchID++
	batch := ledger.Batch{
		ID:                f.nextBatchID,
		MaterialID:        in.MaterialID,
		BatchNumber:       in.BatchNumber,
		QuantityReceived:  in.Quantity,
		RemainingQuantity: in.Quantity,
		UnitCost:          in.UnitCost,
		PurchaseOrderID:   in.PurchaseOrderID,
		ReceivedAt:        time.Now(),
	}
	f.batches[in.BatchNumber] = batch
	f.appendMovement(batch.ID, ledger.MovementAdjustment, in.Quantity, in.ReferenceType, in.ReferenceID)
	return batch, nil
}

func (f *fakeStore) appendMovement(batchID int64, typ ledger.MovementType, qty decimal.Decimal, refType string, refID int64) ledger.Movement {
	f.nextMovementID++
	mv := ledger.Movement{
		ID:            f.nextMovementID,
		BatchID:       batchID,
		Type:          typ,
		Quantity:      qty,
		ReferenceType: refType,
		ReferenceID:   refID,
		MovementDate:  time.Now(),
	}
	f.movements = append(f.movements, mv)
	return mv
}

func (f *fakeStore) InsertPurchaseOrder(ctx context.Context, po purchasing.PurchaseOrder) (int64, error) {
	f.nextPOID++
	po.ID = f.nextPOID
	f.pos[po.ID] = po
	return po.ID, nil
}

func (f *fakeStore) InsertPurchaseOrderItem(ctx context.Context, item purchasing.PurchaseOrderItem) (int64, error) {
	f.nextPOItemID++
	item.ID = f.nextPOItemID
	f.poItems[item.ID] = item
	return item.ID, nil
}

func (f *fakeStore) ListPurchaseOrderItems(ctx context.Context, poID int64) ([]purchasing.PurchaseOrderItem, error) {
	items := []purchasing.PurchaseOrderItem{}
	for id := int64(1); id <= f.nextPOItemID; id++ {
		if item, ok := f.poItems[id]; ok && item.PurchaseOrderID == poID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *fakeStore) FindPurchaseOrderItem(ctx context.Context, poID, materialID int64) (purchasing.PurchaseOrderItem, error) {
	for id := int64(1); id <= f.nextPOItemID; id++ {
		if item, ok := f.poItems[id]; ok && item.PurchaseOrderID == poID && item.MaterialID == materialID {
			return item, nil
		}
	}
	return purchasing.PurchaseOrderItem{}, purchasing.ErrItemNotFound
}

func (f *fakeStore) UpdatePurchaseOrderItemQuantity(ctx context.Context, itemID int64, qty decimal.Decimal) error {
	item, ok := f.poItems[itemID]
	if !ok {
		return purchasing.ErrItemNotFound
	}
	item.QuantityOrdered = qty
	item.QuantityReceived = qty
	item.TotalPrice = qty.Mul(item.UnitPrice)
	f.poItems[itemID] = item
	return nil
}

func (f *fakeStore) UpdatePurchaseOrderTotals(ctx context.Context, poID int64, totals purchasing.Totals) error {
	if f.failPOTotals {
		return errors.New("update totals failed")
	}
	po, ok := f.pos[poID]
	if !ok {
		return purchasing.ErrOrderNotFound
	}
	po.Subtotal = totals.Subtotal
	po.TaxAmount = totals.TaxAmount
	po.ShippingCost = totals.ShippingCost
	po.Total = totals.Total
	f.pos[poID] = po
	return nil
}

func (f *fakeStore) GetPurchaseOrder(ctx context.Context, poID int64) (purchasing.PurchaseOrder, error) {
	po, ok := f.pos[poID]
	if !ok {
		return purchasing.PurchaseOrder{}, purchasing.ErrOrderNotFound
	}
	return po, nil
}

func (f *fakeStore) InsertWastage(ctx context.Context, w wastage.Wastage) (int64, error) {
	if f.failWastage {
		return 0, errors.New("wastage insert failed")
	}
	w.ID = int64(len(f.wastages) + 1)
	w.Status = wastage.StatusPending
	f.wastages = append(f.wastages, w)
	return w.ID, nil
}

func (f *fakeStore) InsertRectification(ctx context.Context, entry RectificationEntry) (int64, error) {
	f.nextRectID++
	entry.ID = f.nextRectID
	f.rects[entry.ID] = entry
	return entry.ID, nil
}

func (f *fakeStore) ListRectifications(ctx context.Context, orderID int64) ([]RectificationEntry, error) {
	entries := []RectificationEntry{}
	for id := int64(1); id <= f.nextRectID; id++ {
		if entry, ok := f.rects[id]; ok && entry.CollectionOrderID == orderID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (f *fakeStore) ListWastages(ctx context.Context, orderID int64) ([]wastage.Wastage, error) {
	records := []wastage.Wastage{}
	for _, w := range f.wastages {
		if w.CollectionOrderID == orderID {
			records = append(records, w)
		}
	}
	return records, nil
}

func (f *fakeStore) ListBatches(ctx context.Context, materialID int64, limit int) ([]ledger.Batch, error) {
	batches := []ledger.Batch{}
	for _, batch := range f.batches {
		if materialID == 0 || batch.MaterialID == materialID {
			batches = append(batches, batch)
		}
	}
	return batches, nil
}

type fakeCatalog struct {
	materials    map[int64]catalog.Material
	compositions map[int64][]catalog.Component
}

func (c *fakeCatalog) GetMaterial(ctx context.Context, id int64) (catalog.Material, error) {
	m, ok := c.materials[id]
	if !ok {
		return catalog.Material{}, catalog.ErrMaterialNotFound
	}
	return m, nil
}

func (c *fakeCatalog) GetComposition(ctx context.Context, materialID int64) ([]catalog.Component, error) {
	return c.compositions[materialID], nil
}

type fakeIdempotency struct {
	keys map[string]bool
}

func (f *fakeIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if f.keys == nil {
		f.keys = map[string]bool{}
	}
	if f.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = true
	return nil
}

func (f *fakeIdempotency) Delete(ctx context.Context, key string) error {
	delete(f.keys, key)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
