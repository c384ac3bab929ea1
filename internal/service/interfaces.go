package service

import (
	"context"
	"time"

	"tcg-inventory/internal/mailclient"
	"tcg-inventory/internal/models"
	"tcg-inventory/internal/store"
)

// CardStore is the inventory persistence used by the matcher and the ledger
type CardStore interface {
	CreateCard(ctx context.Context, card *models.Card) error
	GetCard(ctx context.Context, id int64) (*models.Card, error)
	ListCards(ctx context.Context, f store.CardFilter) ([]models.Card, error)
	FindCardByName(ctx context.Context, name string) (*models.Card, error)
	FindCardByNameLike(ctx context.Context, name string) (*models.Card, error)
	UpdateCardTx(ctx context.Context, cardID int64, mutate store.CardMutation) (*models.Card, error)
	DeleteCard(ctx context.Context, id int64) error
	ListAuditEntries(ctx context.Context, cardID int64) ([]models.AuditEntry, error)
}

// SlotAllocator hands out physical binder pockets
type SlotAllocator interface {
	ReserveSlot(ctx context.Context, setCode string) (string, error)
	ReleaseSlot(ctx context.Context, code string) error
	CreateBinder(ctx context.Context, setCode string, pages int) (int, error)
}

// OrderStore is the order persistence
type OrderStore interface {
	CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) (bool, error)
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	ListOrdersByStatus(ctx context.Context, status string) ([]models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetOrderItemsByOrderIDs(ctx context.Context, orderIDs []int64) (map[int64][]models.OrderItem, error)
	CompleteOrder(ctx context.Context, orderID int64, completedAt time.Time) (bool, error)
	DeleteOrder(ctx context.Context, orderID int64) error
}

// Transport is the mailbox the ingestion cycle reads order notifications from
type Transport interface {
	ListCandidateMessages(ctx context.Context, f mailclient.Filter) ([]string, error)
	GetMessage(ctx context.Context, id string) (*mailclient.Message, error)
	MarkHandled(ctx context.Context, id string) error
}

// ImageCatalog is the read-only reference catalog
type ImageCatalog interface {
	LookupImage(ctx context.Context, name string) (string, bool, error)
}
