package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tcg-inventory/internal/broker"
	"tcg-inventory/internal/models"
	"tcg-inventory/internal/store"
	"tcg-inventory/internal/util"

	"go.uber.org/zap"
)

// OrderService handles operator actions on ingested orders
type OrderService struct {
	orders    OrderStore
	cards     CardStore
	ledger    *InventoryLedger
	publisher broker.Publisher
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	orders OrderStore,
	cards CardStore,
	ledger *InventoryLedger,
	publisher broker.Publisher,
) *OrderService {
	if publisher == nil {
		publisher = broker.NopPublisher{}
	}
	return &OrderService{
		orders:    orders,
		cards:     cards,
		ledger:    ledger,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// MarkSoldResult summarises an order fulfillment sweep
type MarkSoldResult struct {
	OrderID        int64  `json:"order_id"`
	MatchedItems   int    `json:"matched_items"`
	UnmatchedItems int    `json:"unmatched_items"`
	UnitsSold      int    `json:"units_sold"`
	Message        string `json:"message"`
}

// ListOrders returns the orders with the given status, newest first,
// together with their items
func (s *OrderService) ListOrders(ctx context.Context, status string) (orders []models.OrderWithItems, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer func() { util.EndSpan(span, err) }()

	if status != models.OrderStatusOpen && status != models.OrderStatusSold {
		return nil, fmt.Errorf("%w: unknown order status %q", ErrInvalidField, status)
	}

	list, err := s.orders.ListOrdersByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	ids := make([]int64, len(list))
	for i := range list {
		ids[i] = list[i].ID
	}
	items, err := s.orders.GetOrderItemsByOrderIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	orders = make([]models.OrderWithItems, 0, len(list))
	for _, o := range list {
		orderItems := items[o.ID]
		if orderItems == nil {
			orderItems = []models.OrderItem{}
		}
		orders = append(orders, models.OrderWithItems{Order: o, Items: orderItems})
	}
	return orders, nil
}

// ListOpenOrders returns the orders still waiting to be shipped
func (s *OrderService) ListOpenOrders(ctx context.Context) ([]models.OrderWithItems, error) {
	return s.ListOrders(ctx, models.OrderStatusOpen)
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.OrderWithItems, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, orderErr(orderID, err)
	}

	items, err := s.orders.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	return &models.OrderWithItems{Order: *order, Items: items}, nil
}

// DeleteOrder removes an order and, by cascade, its items
func (s *OrderService) DeleteOrder(ctx context.Context, orderID int64) error {
	if err := s.orders.DeleteOrder(ctx, orderID); err != nil {
		return orderErr(orderID, err)
	}
	s.logger.Info("Order deleted", zap.Int64("order_id", orderID))
	return nil
}

// MarkSold closes an open order and then sells the inventory behind each
// of its items. Items without a matching card are skipped and counted.
// The open to sold update is the claim: only the caller that wins it runs
// the sweep, so an order never sells its cards twice. A sweep that fails
// partway leaves the order sold with the units sold so far.
func (s *OrderService) MarkSold(ctx context.Context, orderID int64, actor string) (result *MarkSoldResult, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.MarkSold")
	defer func() { util.EndSpan(span, err) }()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, orderErr(orderID, err)
	}
	if !models.CanTransitionOrder(order.Status, models.OrderStatusSold) {
		return nil, fmt.Errorf("order %d is %s: %w", orderID, order.Status, ErrInvalidTransition)
	}

	items, err := s.orders.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	claimed, err := s.orders.CompleteOrder(ctx, orderID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to complete order: %w", err)
	}
	if !claimed {
		return nil, fmt.Errorf("order %d was closed concurrently: %w", orderID, ErrInvalidTransition)
	}

	result = &MarkSoldResult{OrderID: orderID}
	for _, item := range items {
		sold, matched, err := s.sellItem(ctx, item, actor)
		result.UnitsSold += sold
		if err != nil {
			s.logger.Error("Order sweep stopped partway",
				zap.Int64("order_id", orderID),
				zap.Int("units_sold", result.UnitsSold),
				zap.Error(err))
			return result, err
		}
		if matched {
			result.MatchedItems++
		} else {
			result.UnmatchedItems++
		}
	}

	util.OrdersSoldTotal.Inc()

	result.Message = fmt.Sprintf("Order %d marked as sold: %d item(s) matched, %d unmatched, %d unit(s) sold",
		orderID, result.MatchedItems, result.UnmatchedItems, result.UnitsSold)

	s.logger.Info("Order marked sold",
		zap.Int64("order_id", orderID),
		zap.Int("matched_items", result.MatchedItems),
		zap.Int("unmatched_items", result.UnmatchedItems),
		zap.Int("units_sold", result.UnitsSold))

	event := &models.OrderSoldEvent{
		BaseEvent:      broker.NewBaseEvent(models.EventTypeOrderSold),
		OrderID:        orderID,
		MatchedItems:   result.MatchedItems,
		UnmatchedItems: result.UnmatchedItems,
		UnitsSold:      result.UnitsSold,
	}
	if err := s.publisher.PublishOrderSold(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderSold event", zap.Error(err))
	}

	return result, nil
}

// sellItem sells one unit per ordered quantity, stopping early once the card
// has been archived
func (s *OrderService) sellItem(ctx context.Context, item models.OrderItem, actor string) (int, bool, error) {
	card, err := s.cards.FindCardByName(ctx, item.CardName)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("No inventory card for order item",
			zap.Int64("order_id", item.OrderID),
			zap.String("card_name", item.CardName))
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to find card %q: %w", item.CardName, err)
	}

	sold := 0
	for sold < item.Quantity {
		res, err := s.ledger.Sell(ctx, card.ID, actor)
		if err != nil {
			return sold, true, fmt.Errorf("failed to sell card %d: %w", card.ID, err)
		}
		sold++
		if res.Archived {
			break
		}
	}
	return sold, true, nil
}
