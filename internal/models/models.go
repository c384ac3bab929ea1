package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Card represents one inventory line
type Card struct {
	ID           int64           `db:"id" json:"id"`
	Name         string          `db:"name" json:"name"`
	SetCode      string          `db:"set_code" json:"set_code"`
	Language     string          `db:"language" json:"language"`
	Condition    string          `db:"condition" json:"condition"`
	Price        decimal.Decimal `db:"price" json:"price"`
	Quantity     int             `db:"quantity" json:"quantity"`
	StorageCode  *string         `db:"storage_code" json:"storage_code,omitempty"`
	CardmarketID *string         `db:"cardmarket_id" json:"cardmarket_id,omitempty"`
	ImageURL     *string         `db:"image_url" json:"image_url,omitempty"`
	Status       string          `db:"status" json:"status"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Order represents a buyer's purchase derived from one notification email
type Order struct {
	ID          int64      `db:"id" json:"id"`
	MessageID   string     `db:"message_id" json:"message_id"`
	BuyerName   string     `db:"buyer_name" json:"buyer_name"`
	ReceivedAt  time.Time  `db:"received_at" json:"received_at"`
	SourceDate  *time.Time `db:"source_date" json:"source_date,omitempty"`
	Status      string     `db:"status" json:"status"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// OrderItem represents one card line within an order
type OrderItem struct {
	ID          int64   `db:"id" json:"id"`
	OrderID     int64   `db:"order_id" json:"order_id"`
	CardName    string  `db:"card_name" json:"card_name"`
	Quantity    int     `db:"quantity" json:"quantity"`
	ImageURL    *string `db:"image_url" json:"image_url,omitempty"`
	StorageCode *string `db:"storage_code" json:"storage_code,omitempty"`
}

// OrderWithItems bundles an order and its items for listing
type OrderWithItems struct {
	Order
	Items []OrderItem `json:"items"`
}

// AuditEntry is an immutable record of one card field change
type AuditEntry struct {
	ID        int64     `db:"id" json:"id"`
	CardID    int64     `db:"card_id" json:"card_id"`
	Actor     string    `db:"actor" json:"actor"`
	Action    string    `db:"action" json:"action"`
	Field     string    `db:"field" json:"field"`
	OldValue  string    `db:"old_value" json:"old_value"`
	NewValue  string    `db:"new_value" json:"new_value"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// StorageSlot is one physical binder pocket
type StorageSlot struct {
	Code       string `db:"code" json:"code"`
	IsOccupied bool   `db:"is_occupied" json:"is_occupied"`
}

// Card statuses
const (
	CardStatusAvailable = "available"
	CardStatusReserved  = "reserved"
	CardStatusSold      = "sold"
	CardStatusArchived  = "archived"
)

// Order statuses
const (
	OrderStatusOpen = "open"
	OrderStatusSold = "sold"
)

// Audit actions
const (
	AuditActionUpdate      = "update"
	AuditActionSell        = "sell"
	AuditActionAutoArchive = "auto-archive"
)

// ValidCardStatus reports whether s is a known card status
func ValidCardStatus(s string) bool {
	switch s {
	case CardStatusAvailable, CardStatusReserved, CardStatusSold, CardStatusArchived:
		return true
	}
	return false
}

var validOrderTransitions = map[string]map[string]bool{
	OrderStatusOpen: {OrderStatusSold: true},
	OrderStatusSold: {},
}

// CanTransitionOrder reports whether an order may move from one status to another
func CanTransitionOrder(from, to string) bool {
	return validOrderTransitions[from][to]
}
