package collection

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ferrous-erp/ferrous/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (CollectionOrder, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]CollectionItem, error)
	GetItem(ctx context.Context, itemID int64) (CollectionItem, error)
	ListOrders(ctx context.Context, status OrderStatus, limit int) ([]CollectionOrder, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates collection order operations. It is the only path that
// may mutate collected quantities before finalization.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// CreateOrderRequest describes a scheduling payload.
type CreateOrderRequest struct {
	ContractID    int64            `json:"contract_id" validate:"required,gt=0"`
	SupplierID    int64            `json:"supplier_id" validate:"required,gt=0"`
	LocationID    int64            `json:"location_id" validate:"required,gt=0"`
	ScheduledFor  time.Time        `json:"scheduled_for" validate:"required"`
	TotalExpenses decimal.Decimal  `json:"total_expenses"`
	Items         []OrderItemInput `json:"items" validate:"required,min=1,dive"`
}

// OrderItemInput describes one planned material line.
type OrderItemInput struct {
	MaterialID        int64           `json:"material_id" validate:"required,gt=0"`
	AvailableQuantity decimal.Decimal `json:"available_quantity"`
	EstimatedQuantity decimal.Decimal `json:"estimated_quantity"`
	ContractRate      decimal.Decimal `json:"contract_rate"`
}

// CreateOrder schedules a new collection order with its planned items.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest, createdBy int64) (CollectionOrder, error) {
	if len(req.Items) == 0 {
		return CollectionOrder{}, fmt.Errorf("%w: at least one item required", ErrValidation)
	}
	for _, item := range req.Items {
		if item.MaterialID <= 0 {
			return CollectionOrder{}, fmt.Errorf("%w: material id required", ErrValidation)
		}
		if item.ContractRate.IsNegative() {
			return CollectionOrder{}, fmt.Errorf("%w: contract rate must be >= 0", ErrValidation)
		}
	}
	order := CollectionOrder{
		OrderNumber:   generateOrderNumber(),
		ContractID:    req.ContractID,
		SupplierID:    req.SupplierID,
		LocationID:    req.LocationID,
		Status:        StatusScheduled,
		TotalValue:    decimal.Zero,
		TotalExpenses: req.TotalExpenses,
		ScheduledFor:  req.ScheduledFor,
		CreatedBy:     createdBy,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		order.ID = id
		for _, input := range req.Items {
			item := CollectionItem{
				CollectionOrderID: id,
				MaterialID:        input.MaterialID,
				AvailableQuantity: input.AvailableQuantity,
				EstimatedQuantity: input.EstimatedQuantity,
				CollectedQuantity: decimal.Zero,
				ContractRate:      input.ContractRate,
				TotalValue:        decimal.Zero,
			}
			if _, err := tx.InsertItem(ctx, item); err != nil {
				return fmt.Errorf("insert item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return CollectionOrder{}, err
	}
	s.recordAudit(ctx, createdBy, "ORDER_CREATE", order.ID, map[string]any{"order_number": order.OrderNumber})
	return order, nil
}

// AdvanceStatus moves the order forward through its lifecycle. Completion
// requires at least one item with a positive collected quantity.
func (s *Service) AdvanceStatus(ctx context.Context, orderID int64, newStatus OrderStatus, actorID int64) error {
	if !newStatus.IsValid() {
		return ErrInvalidStatus
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.IsFinalized {
		return ErrOrderFinalized
	}
	if !order.Status.CanTransitionTo(newStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, newStatus)
	}
	if newStatus == StatusCompleted {
		items, err := s.repo.GetOrderItems(ctx, orderID)
		if err != nil {
			return err
		}
		if !hasCollectedQuantity(items) {
			return ErrNoCollectableItems
		}
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, orderID, newStatus)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "ORDER_STATUS", orderID, map[string]any{
		"from": string(order.Status),
		"to":   string(newStatus),
	})
	return nil
}

// UpdateItemQuantity records a collected quantity on a pre-finalization item.
func (s *Service) UpdateItemQuantity(ctx context.Context, orderID, itemID int64, qty decimal.Decimal, actorID int64) (CollectionItem, error) {
	if qty.IsNegative() {
		return CollectionItem{}, fmt.Errorf("%w: quantity must be >= 0", ErrValidation)
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return CollectionItem{}, err
	}
	if order.IsFinalized {
		return CollectionItem{}, ErrOrderFinalized
	}
	if order.Status == StatusCancelled || order.Status == StatusFailed {
		return CollectionItem{}, fmt.Errorf("%w: order is %s", ErrInvalidTransition, order.Status)
	}
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return CollectionItem{}, err
	}
	if item.CollectionOrderID != orderID {
		return CollectionItem{}, ErrItemNotFound
	}
	totalValue := qty.Mul(item.ContractRate)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateItemQuantity(ctx, itemID, qty, totalValue)
	})
	if err != nil {
		return CollectionItem{}, err
	}
	item.CollectedQuantity = qty
	item.TotalValue = totalValue
	s.recordAudit(ctx, actorID, "ITEM_QUANTITY", itemID, map[string]any{
		"order_id": orderID,
		"quantity": qty.String(),
	})
	return item, nil
}

// GetOrder returns the order header.
func (s *Service) GetOrder(ctx context.Context, id int64) (CollectionOrder, error) {
	return s.repo.GetOrder(ctx, id)
}

// GetOrderWithItems returns the order including its items.
func (s *Service) GetOrderWithItems(ctx context.Context, id int64) (CollectionOrder, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return CollectionOrder{}, err
	}
	items, err := s.repo.GetOrderItems(ctx, id)
	if err != nil {
		return CollectionOrder{}, err
	}
	order.Items = items
	return order, nil
}

// ListOrders lists orders, optionally filtered by status.
func (s *Service) ListOrders(ctx context.Context, status OrderStatus, limit int) ([]CollectionOrder, error) {
	if status != "" && !status.IsValid() {
		return nil, ErrInvalidStatus
	}
	return s.repo.ListOrders(ctx, status, limit)
}

func hasCollectedQuantity(items []CollectionItem) bool {
	for _, item := range items {
		if item.CollectedQuantity.IsPositive() {
			return true
		}
	}
	return false
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

func generateOrderNumber() string {
	return fmt.Sprintf("CO-%d", time.Now().UnixNano())
}
