package models

import "time"

// Event types
const (
	EventTypeOrderIngested = "ORDER_INGESTED"
	EventTypeOrderSold     = "ORDER_SOLD"
	EventTypeCardArchived  = "CARD_ARCHIVED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderIngestedEvent published when an email became a persisted order
type OrderIngestedEvent struct {
	BaseEvent
	OrderID   int64           `json:"order_id"`
	MessageID string          `json:"message_id"`
	BuyerName string          `json:"buyer_name"`
	Items     []OrderItemData `json:"items"`
}

// OrderSoldEvent published when an operator marked an order sold
type OrderSoldEvent struct {
	BaseEvent
	OrderID        int64 `json:"order_id"`
	MatchedItems   int   `json:"matched_items"`
	UnmatchedItems int   `json:"unmatched_items"`
	UnitsSold      int   `json:"units_sold"`
}

// CardArchivedEvent published when a card's quantity reached zero
type CardArchivedEvent struct {
	BaseEvent
	CardID int64  `json:"card_id"`
	Name   string `json:"name"`
	Actor  string `json:"actor"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	CardName    string `json:"card_name"`
	Quantity    int    `json:"quantity"`
	StorageCode string `json:"storage_code,omitempty"`
}
