package wcn

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ferrous-erp/ferrous/internal/catalog"
	"github.com/ferrous-erp/ferrous/internal/collection"
	"github.com/ferrous-erp/ferrous/internal/ledger"
	"github.com/ferrous-erp/ferrous/internal/purchasing"
	"github.com/ferrous-erp/ferrous/internal/shared"
	"github.com/ferrous-erp/ferrous/internal/wastage"
)

// CatalogPort provides the material reads finalization plans from.
type CatalogPort interface {
	GetMaterial(ctx context.Context, id int64) (catalog.Material, error)
	GetComposition(ctx context.Context, materialID int64) ([]catalog.Component, error)
}

// IdempotencyPort guards against double submits.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// FinalizationMark carries everything MarkFinalized stamps onto the order.
type FinalizationMark struct {
	OrderID         int64
	WCNNumber       string
	WCNDate         time.Time
	FinalizedBy     int64
	PurchaseOrderID int64
	TotalValue      decimal.Decimal
}

// RepositoryPort abstracts persistence for the finalize/rectify service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (collection.CollectionOrder, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]collection.CollectionItem, error)
	ListRectifications(ctx context.Context, orderID int64) ([]RectificationEntry, error)
	ListWastages(ctx context.Context, orderID int64) ([]wastage.Wastage, error)
	ListBatches(ctx context.Context, materialID int64, limit int) ([]ledger.Batch, error)
}

// TxRepository is the unit of work for one finalize or rectify call. Every
// write it exposes lands in the same database transaction.
type TxRepository interface {
	GetOrderForUpdate(ctx context.Context, orderID int64) (collection.CollectionOrder, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]collection.CollectionItem, error)
	GetItem(ctx context.Context, itemID int64) (collection.CollectionItem, error)
	NextWCNSequence(ctx context.Context, year int) (int64, error)
	UpdateFinalizedItem(ctx context.Context, item collection.CollectionItem) error
	InsertItem(ctx context.Context, item collection.CollectionItem) (int64, error)
	UpdateItemQuantity(ctx context.Context, itemID int64, qty, totalValue decimal.Decimal) error
	MarkFinalized(ctx context.Context, mark FinalizationMark) error
	IncrementRectificationCount(ctx context.Context, orderID int64) error

	ReceiveIntoBatch(ctx context.Context, in ledger.ReceiptInput) (ledger.Batch, error)
	AdjustBatch(ctx context.Context, in ledger.AdjustmentInput) (ledger.Batch, ledger.Movement, error)
	CreateBatchFromAdjustment(ctx context.Context, in ledger.ReceiptInput) (ledger.Batch, error)

	InsertPurchaseOrder(ctx context.Context, po purchasing.PurchaseOrder) (int64, error)
	InsertPurchaseOrderItem(ctx context.Context, item purchasing.PurchaseOrderItem) (int64, error)
	ListPurchaseOrderItems(ctx context.Context, poID int64) ([]purchasing.PurchaseOrderItem, error)
	FindPurchaseOrderItem(ctx context.Context, poID, materialID int64) (purchasing.PurchaseOrderItem, error)
	UpdatePurchaseOrderItemQuantity(ctx context.Context, itemID int64, qty decimal.Decimal) error
	UpdatePurchaseOrderTotals(ctx context.Context, poID int64, totals purchasing.Totals) error
	GetPurchaseOrder(ctx context.Context, poID int64) (purchasing.PurchaseOrder, error)

	InsertWastage(ctx context.Context, w wastage.Wastage) (int64, error)
	InsertRectification(ctx context.Context, entry RectificationEntry) (int64, error)
}
