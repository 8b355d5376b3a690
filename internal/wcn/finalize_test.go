package wcn

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ferrous-erp/ferrous/internal/catalog"
	"github.com/ferrous-erp/ferrous/internal/collection"
	"github.com/ferrous-erp/ferrous/internal/ledger"
)

const (
	matRegular    int64 = 1
	matDisposable int64 = 2
	matComposite  int64 = 3
	matContainer  int64 = 4
	matContent    int64 = 5
)

func testCatalog() *fakeCatalog {
	return &fakeCatalog{
		materials: map[int64]catalog.Material{
			matRegular:    {ID: matRegular, Code: "SCRAP", StandardPrice: decimal.NewFromInt(2), IsActive: true},
			matDisposable: {ID: matDisposable, Code: "SLUDGE", IsDisposable: true, DefaultWasteType: "hazardous", IsActive: true},
			matComposite:  {ID: matComposite, Code: "DRUM-OIL", IsComposite: true, StandardPrice: decimal.NewFromInt(9), IsActive: true},
			matContainer:  {ID: matContainer, Code: "DRUM", StandardPrice: decimal.NewFromInt(3), IsActive: true},
			matContent:    {ID: matContent, Code: "OIL", StandardPrice: decimal.NewFromInt(6), IsActive: true},
		},
		compositions: map[int64][]catalog.Component{
			matComposite: {
				{ComponentMaterialID: matContainer, ComponentType: catalog.ComponentTypeContainer, SortOrder: 1},
				{ComponentMaterialID: matContent, ComponentType: catalog.ComponentTypeContent, SortOrder: 2},
			},
		},
	}
}

func newTestService(store *fakeStore, idem IdempotencyPort) *Service {
	return NewService(discardLogger(), store, testCatalog(), idem, nil, decimal.Zero)
}

func seedCompletedOrder(store *fakeStore, orderID int64, items ...collection.CollectionItem) {
	store.orders[orderID] = collection.CollectionOrder{
		ID:            orderID,
		OrderNumber:   fmt.Sprintf("CO-%d", orderID),
		SupplierID:    2,
		Status:        collection.StatusCompleted,
		TotalValue:    decimal.Zero,
		TotalExpenses: decimal.Zero,
	}
	for _, item := range items {
		item.CollectionOrderID = orderID
		store.nextItemID++
		item.ID = store.nextItemID
		store.items[item.ID] = item
	}
}

func regularItem(qty int64) collection.CollectionItem {
	return collection.CollectionItem{
		MaterialID:        matRegular,
		CollectedQuantity: decimal.NewFromInt(qty),
		ContractRate:      decimal.NewFromInt(2),
		TotalValue:        decimal.NewFromInt(qty * 2),
	}
}

func TestFinalizeExampleScenario(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeIdempotency{})
	seedCompletedOrder(store, 1,
		regularItem(10),
		collection.CollectionItem{MaterialID: matDisposable, CollectedQuantity: decimal.NewFromInt(5)},
	)

	result, err := svc.Finalize(context.Background(), FinalizeRequest{OrderID: 1}, 7)
	require.NoError(t, err)
	require.Equal(t, 2, result.ItemsProcessed)
	require.Equal(t, 0, result.NewItemsAdded)

	// regular line: one batch with the full quantity
	batch, ok := store.batches[ledger.BatchNumber(result.WCNNumber, matRegular)]
	require.True(t, ok)
	require.True(t, batch.RemainingQuantity.Equal(decimal.NewFromInt(10)))
	require.NotNil(t, batch.PurchaseOrderID)
	require.Equal(t, result.PurchaseOrderID, *batch.PurchaseOrderID)

	// disposable line: one pending wastage, no batch, no billing
	require.Len(t, store.wastages, 1)
	require.True(t, store.wastages[0].Quantity.Equal(decimal.NewFromInt(5)))
	require.Equal(t, "pending", store.wastages[0].Status)
	require.Equal(t, "hazardous", store.wastages[0].WasteType)
	_, disposableBatched := store.batches[ledger.BatchNumber(result.WCNNumber, matDisposable)]
	require.False(t, disposableBatched)

	po := store.pos[result.PurchaseOrderID]
	require.True(t, po.Subtotal.Equal(decimal.NewFromInt(20)))
	poItems, _ := store.ListPurchaseOrderItems(context.Background(), result.PurchaseOrderID)
	require.Len(t, poItems, 1)
	require.True(t, poItems[0].QuantityReceived.Equal(decimal.NewFromInt(10)))
	require.True(t, poItems[0].TotalPrice.Equal(decimal.NewFromInt(20)))

	order := store.orders[1]
	require.True(t, order.IsFinalized)
	require.NotNil(t, order.WCNNumber)
	require.Equal(t, result.WCNNumber, *order.WCNNumber)
}

func TestFinalizeAtMostOnce(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeIdempotency{})
	seedCompletedOrder(store, 1, regularItem(10))

	_, err := svc.Finalize(context.Background(), FinalizeRequest{OrderID: 1}, 7)
	require.NoError(t, err)

	movementsBefore := len(store.movements)
	poBefore := len(store.pos)

	_, err = svc.Finalize(context.Background(), FinalizeRequest{OrderID: 1}, 7)
	require.ErrorIs(t, err, ErrNotFinalizable)
	require.Len(t, store.movements, movementsBefore)
	require.Len(t, store.pos, poBefore)
}

func TestFinalizeDoubleSubmitGuard(t *testing.T) {
	store := newFakeStore()
	idem := &fakeIdempotency{keys: map[string]bool{"WCN:1": true}}
	svc := newTestService(store, idem)
	seedCompletedOrder(store, 1, regularItem(10))

	_, err := svc.Finalize(context.Background(), FinalizeRequest{OrderID: 1}, 7)
	require.ErrorIs(t, err, ErrNotFinalizable)
	require.False(t, store.orders[1].IsFinalized)
}

func TestFinalizeCompositeSplit(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeIdempotency{})
	seedCompletedOrder(store, 1, collection.CollectionItem{
		MaterialID:        matComposite,
		CollectedQuantity: decimal.NewFromInt(4),
		ContractRate:      decimal.NewFromInt(9),
	})

	result, err := svc.Finalize(context.Background(), FinalizeRequest{OrderID: 1}, 7)
	require.NoError(t, err)

	// each component gets the full composite quantity, not a share
	container := store.batches[ledger.BatchNumber(result.WCNNumber, matContainer)]
	content := store.batches[ledger.BatchNumber(result.WCNNumber, matContent)]
	require.True(t, container.RemainingQuantity.Equal(decimal.NewFromInt(4)))
	require.True(t, content.RemainingQuantity.Equal(decimal.NewFromInt(4)))

	// no batch for the composite itself; billing is on the composite line
	_, compositeBatched := store.batches[ledger.BatchNumber(result.WCNNumber, matComposite)]
	require.False(t, compositeBatched)
	poItems, _ := store.ListPurchaseOrderItems(context.Background(), result.PurchaseOrderID)
	require.Len(t, poItems, 1)
	require.Equal(t, matComposite, poItems[0].MaterialID)
	require.True(t, poItems[0].TotalPrice.Equal(decimal.NewFromInt(36)))
}

func TestFinalizeQuantitySources(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeIdempotency{})
	seedCompletedOrder(store, 1,
		// verified entry overrides the stored quantity
		regularItem(10),
		// no verified entry, stored quantity kept
		collection.CollectionItem{MaterialID: matContent, CollectedQuantity: decimal.NewFromInt(3), ContractRate: decimal.NewFromInt(6)},
		// nothing collected or verified, planned quantity fills in
		collection.CollectionItem{MaterialID: matContainer, AvailableQuantity: decimal.NewFromInt(6), ContractRate: decimal.NewFromInt(3)},
	)

	_, err := svc.Finalize(context.Background(), FinalizeRequest{
		OrderID: 1,
		Items:   []VerifiedItem{{MaterialID: matRegular, VerifiedQuantity: decimal.NewFromInt(8)}},
	}, 7)
	require.NoError(t, err)

	require.True(t, store.items[1].CollectedQuantity.Equal(decimal.NewFromInt(8)))
	require.True(t, store.items[2].CollectedQuantity.Equal(decimal.NewFromInt(3)))
	require.True(t, store.items[3].CollectedQuantity.Equal(decimal.NewFromInt(6)))
}

func TestFinalizeFallbackNeverOverridesStored(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeIdempotency{})
	item := regularItem(10)
	item.AvailableQuantity = decimal.NewFromInt(99)
	seedCompletedOrder(store, 1, item)

	_, err := svc.Finalize(context.Background(), FinalizeRequest{OrderID: 1}, 7)
	require.NoError(t, err)
	require.True(t, store.items[1].CollectedQuantity.Equal(decimal.NewFromInt(10)))
}

func TestFinalizeSnapshotsOriginalQuantityOnce(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeIdempotency{})
	seedCompletedOrder(store, 1, regularItem(10))

	_, err := svc.Finalize(context.Background(), FinalizeRequest{OrderID: 1}, 7)
	require.NoError(t, err)

	item := store.items[1]
	require.NotNil(t, item.OriginalCollectedQuantity)
	require.True(t, item.OriginalCollectedQuantity.Equal(decimal.NewFromInt(10)))
}

func TestFinalizeNewItemAppended(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeIdempotency{})
	seedCompletedOrder(store, 1, regularItem(10))

	rate := decimal.NewFromInt(6)
	result, err := svc.Finalize(context.Background(), FinalizeRequest{
		OrderID: 1,
		Items: []VerifiedItem{{
			MaterialID:       matContent,
			VerifiedQuantity: decimal.NewFromInt(2),
			AgreedRate:       &rate,
			IsNewItem:        true,
		}},
	}, 7)
	require.NoError(t, err)
	require.Equal(t, 1, result.NewItemsAdded)
	require.Equal(t, 2, result.ItemsProcessed)

	items, _ := store.GetOrderItems(context.Background(), 1)
	require.Len(t, items, 2)
	po := store.pos[result.PurchaseOrderID]
	require.True(t, po.Subtotal.Equal(decimal.NewFromInt(32)))
}

func TestFinalizeVerifiedUnknownMaterialRejected(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeIdempotency{})
	seedCompletedOrder(store, 1, regularItem(10))

	_, err := svc.Finalize(context.Background(), FinalizeRequest{
		OrderID: 1,
		Items:   []VerifiedItem{{MaterialID: matContent, VerifiedQuantity: decimal.NewFromInt(2)}},
	}, 7)
	require.ErrorIs(t, err, ErrValidation)
}

func TestFinalizeNoCollectedItems(t *testing.T) {
	store := newFakeStore()
	idem := &fakeIdempotency{}
	svc := newTestService(store, idem)
	seedCompletedOrder(store, 1, collection.CollectionItem{MaterialID: matRegular, ContractRate: decimal.NewFromInt(2)})

	_, err := svc.Finalize(context.Background(), FinalizeRequest{OrderID: 1}, 7)
	require.ErrorIs(t, err, ErrNoCollectedItems)
	require.Empty(t, store.batches)
	require.Empty(t, store.pos)
	// guard key is released so a corrected retry can proceed
	require.Empty(t, idem.keys)
}

func TestFinalizeRequiresCompletedOrder(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeIdempotency{})
	seedCompletedOrder(store, 1, regularItem(10))
	order := store.orders[1]
	order.Status = collection.StatusCollecting
	store.orders[1] = order

	_, err := svc.Finalize(context.Background(), FinalizeRequest{OrderID: 1}, 7)
	require.ErrorIs(t, err, ErrNotFinalizable)

	_, err = svc.Finalize(context.Background(), FinalizeRequest{OrderID: 99}, 7)
	require.ErrorIs(t, err, ErrNotFinalizable)
}

func TestFinalizeWCNNumberSequence(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeIdempotency{})
	seedCompletedOrder(store, 1, regularItem(10))
	seedCompletedOrder(store, 2, regularItem(4))

	first, err := svc.Finalize(context.Background(), FinalizeRequest{OrderID: 1}, 7)
	require.NoError(t, err)
	second, err := svc.Finalize(context.Background(), FinalizeRequest{OrderID: 2}, 7)
	require.NoError(t, err)

	year := time.Now().UTC().Year()
	require.Equal(t, fmt.Sprintf("WCN-%d-0001", year), first.WCNNumber)
	require.Equal(t, fmt.Sprintf("WCN-%d-0002", year), second.WCNNumber)
}

func TestFinalizeRetriesSerializationConflict(t *testing.T) {
	store := newFakeStore()
	store.serializationFailures = 1
	idem := &fakeIdempotency{}
	svc := newTestService(store, idem)
	seedCompletedOrder(store, 1, regularItem(10))

	result, err := svc.Finalize(context.Background(), FinalizeRequest{OrderID: 1}, 7)
	require.NoError(t, err)
	require.True(t, store.orders[1].IsFinalized)
	require.Equal(t, fmt.Sprintf("WCN-%d-0001", time.Now().UTC().Year()), result.WCNNumber)
}

func TestFinalizePersistentSerializationConflictSurfaces(t *testing.T) {
	store := newFakeStore()
	store.serializationFailures = serializationRetries
	idem := &fakeIdempotency{}
	svc := newTestService(store, idem)
	seedCompletedOrder(store, 1, regularItem(10))

	_, err := svc.Finalize(context.Background(), FinalizeRequest{OrderID: 1}, 7)
	require.Error(t, err)
	require.False(t, store.orders[1].IsFinalized)
	// guard key is released so the caller can retry
	require.Empty(t, idem.keys)
}

func TestFinalizeFailureRollsBackEverything(t *testing.T) {
	store := newFakeStore()
	store.failWastage = true
	idem := &fakeIdempotency{}
	svc := newTestService(store, idem)
	seedCompletedOrder(store, 1,
		regularItem(10),
		collection.CollectionItem{MaterialID: matDisposable, CollectedQuantity: decimal.NewFromInt(5)},
	)

	_, err := svc.Finalize(context.Background(), FinalizeRequest{OrderID: 1}, 7)
	require.Error(t, err)

	require.Empty(t, store.batches)
	require.Empty(t, store.movements)
	require.Empty(t, store.pos)
	require.Empty(t, store.wastages)
	require.False(t, store.orders[1].IsFinalized)
	require.Empty(t, idem.keys)
}

func TestListWastagesAfterFinalize(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeIdempotency{})
	seedCompletedOrder(store, 1,
		regularItem(10),
		collection.CollectionItem{MaterialID: matDisposable, CollectedQuantity: decimal.NewFromInt(5)},
	)

	_, err := svc.Finalize(context.Background(), FinalizeRequest{OrderID: 1}, 7)
	require.NoError(t, err)

	records, err := svc.ListWastages(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, matDisposable, records[0].MaterialID)

	_, err = svc.ListWastages(context.Background(), 99)
	require.ErrorIs(t, err, collection.ErrOrderNotFound)
}

func TestFinalizeLedgerConservation(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeIdempotency{})
	seedCompletedOrder(store, 1, regularItem(10), collection.CollectionItem{
		MaterialID:        matComposite,
		CollectedQuantity: decimal.NewFromInt(4),
		ContractRate:      decimal.NewFromInt(9),
	})

	_, err := svc.Finalize(context.Background(), FinalizeRequest{OrderID: 1}, 7)
	require.NoError(t, err)

	for _, batch := range store.batches {
		sum := decimal.Zero
		for _, mv := range store.movements {
			if mv.BatchID == batch.ID {
				sum = sum.Add(mv.Quantity)
			}
		}
		require.True(t, sum.Equal(batch.RemainingQuantity), "batch %s", batch.BatchNumber)
	}
}
