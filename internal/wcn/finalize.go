package wcn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ferrous-erp/ferrous/internal/catalog"
	"github.com/ferrous-erp/ferrous/internal/collection"
	"github.com/ferrous-erp/ferrous/internal/ledger"
	"github.com/ferrous-erp/ferrous/internal/platform/db"
	"github.com/ferrous-erp/ferrous/internal/purchasing"
	"github.com/ferrous-erp/ferrous/internal/shared"
	"github.com/ferrous-erp/ferrous/internal/wastage"
)

// Service turns completed collection orders into waste consignment notes
// and applies post-finalization corrections.
type Service struct {
	logger  *slog.Logger
	repo    RepositoryPort
	catalog CatalogPort
	idem    IdempotencyPort
	audit   AuditPort
	taxRate decimal.Decimal
}

// NewService builds Service.
func NewService(logger *slog.Logger, repo RepositoryPort, cat CatalogPort, idem IdempotencyPort, audit AuditPort, taxRate decimal.Decimal) *Service {
	return &Service{logger: logger, repo: repo, catalog: cat, idem: idem, audit: audit, taxRate: taxRate}
}

// materialPlan is the catalog data finalization needs for one material,
// loaded before the transaction opens.
type materialPlan struct {
	Material   catalog.Material
	Components []catalog.Component
	// component material records, for unit costing
	ComponentMaterials map[int64]catalog.Material
}

// Finalize converts a completed order into a WCN inside one transaction:
// reconciled quantities are persisted, inventory batches and the purchase
// order are created, disposable lines are queued as wastage, and the order
// is stamped finalized. Any failure rolls everything back.
func (s *Service) Finalize(ctx context.Context, req FinalizeRequest, actorID int64) (_ FinalizeResult, err error) {
	if req.OrderID <= 0 {
		return FinalizeResult{}, fmt.Errorf("%w: order id required", ErrValidation)
	}
	for _, v := range req.Items {
		if v.VerifiedQuantity.IsNegative() {
			return FinalizeResult{}, fmt.Errorf("%w: verified quantity must be >= 0", ErrValidation)
		}
	}

	idemKey := fmt.Sprintf("WCN:%d", req.OrderID)
	if s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idemKey, "wcn"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return FinalizeResult{}, ErrNotFinalizable
			}
			return FinalizeResult{}, err
		}
		defer func() {
			if err != nil {
				_ = s.idem.Delete(ctx, idemKey)
			}
		}()
	}

	order, err := s.repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, collection.ErrOrderNotFound) {
			return FinalizeResult{}, ErrNotFinalizable
		}
		return FinalizeResult{}, err
	}
	if order.Status != collection.StatusCompleted || order.IsFinalized {
		return FinalizeResult{}, ErrNotFinalizable
	}
	items, err := s.repo.GetOrderItems(ctx, req.OrderID)
	if err != nil {
		return FinalizeResult{}, err
	}

	// catalog reads happen before the transaction opens; no cache I/O
	// while rows are locked
	plans, err := s.loadPlans(ctx, items, req.Items)
	if err != nil {
		return FinalizeResult{}, err
	}

	wcnDate := time.Now().UTC()
	if req.WCNDate != nil {
		wcnDate = req.WCNDate.UTC()
	}

	var result FinalizeResult
	finalizeTx := func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetOrderForUpdate(ctx, req.OrderID)
		if err != nil {
			if errors.Is(err, collection.ErrOrderNotFound) {
				return ErrNotFinalizable
			}
			return err
		}
		if locked.Status != collection.StatusCompleted || locked.IsFinalized {
			return ErrNotFinalizable
		}
		txItems, err := tx.GetOrderItems(ctx, req.OrderID)
		if err != nil {
			return err
		}
		lines, err := reconcileItems(txItems, req.Items)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrNoCollectedItems
		}

		seq, err := tx.NextWCNSequence(ctx, wcnDate.Year())
		if err != nil {
			return fmt.Errorf("wcn sequence: %w", err)
		}
		wcnNumber := fmt.Sprintf("WCN-%d-%04d", wcnDate.Year(), seq)

		newItems := 0
		orderValue := decimal.Zero
		poItems := []purchasing.PurchaseOrderItem{}
		pendingWastage := []wastage.Wastage{}
		type receipt struct {
			in ledger.ReceiptInput
		}
		receipts := []receipt{}

		for _, line := range lines {
			plan, ok := plans[line.MaterialID]
			if !ok {
				return fmt.Errorf("%w: unknown material %d", ErrValidation, line.MaterialID)
			}
			rate := line.Rate
			if !line.RateAgreed && line.Existing == nil {
				rate = plan.Material.StandardPrice
			}
			lineValue := line.Quantity.Mul(rate)
			orderValue = orderValue.Add(lineValue)

			s.logger.Info("quantity reconciled",
				slog.Int64("order_id", req.OrderID),
				slog.Int64("material_id", line.MaterialID),
				slog.String("quantity", line.Quantity.String()),
				slog.String("source", string(line.Source)))

			if line.Existing != nil {
				item := *line.Existing
				item.CollectedQuantity = line.Quantity
				if item.OriginalCollectedQuantity == nil {
					snapshot := line.Quantity
					item.OriginalCollectedQuantity = &snapshot
				}
				item.ContractRate = rate
				item.TotalValue = lineValue
				item.QualityGrade = line.QualityGrade
				item.QualityVerified = line.QualityVerified
				item.MaterialCondition = line.Condition
				if err := tx.UpdateFinalizedItem(ctx, item); err != nil {
					return fmt.Errorf("update item %d: %w", item.ID, err)
				}
			} else {
				snapshot := line.Quantity
				item := collection.CollectionItem{
					CollectionOrderID:         req.OrderID,
					MaterialID:                line.MaterialID,
					CollectedQuantity:         line.Quantity,
					OriginalCollectedQuantity: &snapshot,
					ContractRate:              rate,
					TotalValue:                lineValue,
					QualityGrade:              line.QualityGrade,
					QualityVerified:           line.QualityVerified,
					MaterialCondition:         line.Condition,
				}
				if _, err := tx.InsertItem(ctx, item); err != nil {
					return fmt.Errorf("insert item for material %d: %w", line.MaterialID, err)
				}
				newItems++
			}

			switch {
			case plan.Material.IsDisposable:
				// full quantity to the wastage queue; never stocked or billed
				pendingWastage = append(pendingWastage, wastage.Wastage{
					MaterialID:        line.MaterialID,
					CollectionOrderID: req.OrderID,
					Quantity:          line.Quantity,
					WasteType:         plan.Material.DefaultWasteType,
					CreatedBy:         actorID,
				})
			case plan.Material.IsComposite:
				// each component receives the full composite quantity
				for _, comp := range plan.Components {
					unitCost := decimal.Zero
					if m, ok := plan.ComponentMaterials[comp.ComponentMaterialID]; ok {
						unitCost = m.StandardPrice
					}
					receipts = append(receipts, receipt{in: ledger.ReceiptInput{
						MaterialID:    comp.ComponentMaterialID,
						BatchNumber:   ledger.BatchNumber(wcnNumber, comp.ComponentMaterialID),
						Quantity:      line.Quantity,
						UnitCost:      unitCost,
						Condition:     line.Condition,
						ReferenceType: "collection_order",
						ReferenceID:   req.OrderID,
						PerformedBy:   actorID,
					}})
				}
				// billing stays on the composite line; its batch number is a
				// label only, the stock lives in the component batches
				poItems = append(poItems, purchasing.PurchaseOrderItem{
					MaterialID:       line.MaterialID,
					QuantityOrdered:  line.Quantity,
					QuantityReceived: line.Quantity,
					UnitPrice:        rate,
					TotalPrice:       lineValue,
					BatchNumber:      ledger.BatchNumber(wcnNumber, line.MaterialID),
				})
			default:
				receipts = append(receipts, receipt{in: ledger.ReceiptInput{
					MaterialID:    line.MaterialID,
					BatchNumber:   ledger.BatchNumber(wcnNumber, line.MaterialID),
					Quantity:      line.Quantity,
					UnitCost:      rate,
					Condition:     line.Condition,
					ReferenceType: "collection_order",
					ReferenceID:   req.OrderID,
					PerformedBy:   actorID,
				}})
				poItems = append(poItems, purchasing.PurchaseOrderItem{
					MaterialID:       line.MaterialID,
					QuantityOrdered:  line.Quantity,
					QuantityReceived: line.Quantity,
					UnitPrice:        rate,
					TotalPrice:       lineValue,
					BatchNumber:      ledger.BatchNumber(wcnNumber, line.MaterialID),
				})
			}
		}

		totals := purchasing.ComputeTotals(poItems, s.taxRate, locked.TotalExpenses)
		poID, err := tx.InsertPurchaseOrder(ctx, purchasing.PurchaseOrder{
			PONumber:          purchasing.PONumber(wcnNumber),
			SupplierID:        locked.SupplierID,
			Status:            purchasing.StatusReceived,
			SourceType:        purchasing.SourceWCNAuto,
			CollectionOrderID: req.OrderID,
			Subtotal:          totals.Subtotal,
			TaxAmount:         totals.TaxAmount,
			ShippingCost:      totals.ShippingCost,
			Total:             totals.Total,
			OrderDate:         wcnDate,
			CreatedBy:         actorID,
		})
		if err != nil {
			return fmt.Errorf("insert purchase order: %w", err)
		}
		for _, item := range poItems {
			item.PurchaseOrderID = poID
			if _, err := tx.InsertPurchaseOrderItem(ctx, item); err != nil {
				return fmt.Errorf("insert purchase order item: %w", err)
			}
		}

		for _, rc := range receipts {
			rc.in.PurchaseOrderID = &poID
			if _, err := tx.ReceiveIntoBatch(ctx, rc.in); err != nil {
				return fmt.Errorf("receive material %d: %w", rc.in.MaterialID, err)
			}
		}

		wastageSummaries := make([]WastageSummary, 0, len(pendingWastage))
		for _, w := range pendingWastage {
			if _, err := tx.InsertWastage(ctx, w); err != nil {
				return fmt.Errorf("queue wastage for material %d: %w", w.MaterialID, err)
			}
			wastageSummaries = append(wastageSummaries, WastageSummary{
				MaterialID: w.MaterialID,
				Quantity:   w.Quantity,
				WasteType:  w.WasteType,
			})
		}

		if err := tx.MarkFinalized(ctx, FinalizationMark{
			OrderID:         req.OrderID,
			WCNNumber:       wcnNumber,
			WCNDate:         wcnDate,
			FinalizedBy:     actorID,
			PurchaseOrderID: poID,
			TotalValue:      orderValue,
		}); err != nil {
			return fmt.Errorf("mark finalized: %w", err)
		}

		result = FinalizeResult{
			WCNNumber:       wcnNumber,
			PurchaseOrderID: poID,
			ItemsProcessed:  len(lines),
			NewItemsAdded:   newItems,
			Wastage:         wastageSummaries,
		}
		return nil
	}
	err = s.withSerializationRetry(func() error { return s.repo.WithTx(ctx, finalizeTx) })
	if err != nil {
		return FinalizeResult{}, err
	}

	s.recordAudit(ctx, actorID, "WCN_FINALIZE", req.OrderID, map[string]any{
		"wcn_number":        result.WCNNumber,
		"purchase_order_id": result.PurchaseOrderID,
	})
	s.logger.Info("order finalized",
		slog.Int64("order_id", req.OrderID),
		slog.String("wcn_number", result.WCNNumber),
		slog.Int64("purchase_order_id", result.PurchaseOrderID),
		slog.Int("items", result.ItemsProcessed))
	return result, nil
}

// serializationRetries bounds re-runs of a transaction that lost a
// RepeatableRead conflict, e.g. two finalizes racing on the same
// wcn_sequences year row.
const serializationRetries = 3

func (s *Service) withSerializationRetry(fn func() error) error {
	var err error
	for attempt := 1; attempt <= serializationRetries; attempt++ {
		if err = fn(); err == nil || !db.IsSerializationFailure(err) {
			return err
		}
		if attempt < serializationRetries {
			s.logger.Warn("transaction serialization conflict, retrying", slog.Int("attempt", attempt))
		}
	}
	return err
}

func (s *Service) loadPlans(ctx context.Context, items []collection.CollectionItem, verified []VerifiedItem) (map[int64]materialPlan, error) {
	ids := map[int64]bool{}
	for _, item := range items {
		ids[item.MaterialID] = true
	}
	for _, v := range verified {
		ids[v.MaterialID] = true
	}
	plans := make(map[int64]materialPlan, len(ids))
	for id := range ids {
		material, err := s.catalog.GetMaterial(ctx, id)
		if err != nil {
			if errors.Is(err, catalog.ErrMaterialNotFound) {
				return nil, fmt.Errorf("%w: unknown material %d", ErrValidation, id)
			}
			return nil, err
		}
		plan := materialPlan{Material: material}
		if material.IsComposite {
			components, err := s.catalog.GetComposition(ctx, id)
			if err != nil {
				return nil, err
			}
			if len(components) == 0 {
				return nil, fmt.Errorf("%w: composite material %d has no composition", ErrValidation, id)
			}
			plan.Components = components
			plan.ComponentMaterials = make(map[int64]catalog.Material, len(components))
			for _, comp := range components {
				cm, err := s.catalog.GetMaterial(ctx, comp.ComponentMaterialID)
				if err != nil {
					if errors.Is(err, catalog.ErrMaterialNotFound) {
						return nil, fmt.Errorf("%w: unknown component material %d", ErrValidation, comp.ComponentMaterialID)
					}
					return nil, err
				}
				plan.ComponentMaterials[comp.ComponentMaterialID] = cm
			}
		}
		plans[id] = plan
	}
	return plans, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "collection_order",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
