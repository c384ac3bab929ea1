package broker

import (
	"context"
	"fmt"
	"time"

	"tcg-inventory/internal/models"

	"github.com/google/uuid"
)

// Publisher is what the services need to announce domain events
type Publisher interface {
	PublishOrderIngested(ctx context.Context, event *models.OrderIngestedEvent) error
	PublishOrderSold(ctx context.Context, event *models.OrderSoldEvent) error
	PublishCardArchived(ctx context.Context, event *models.CardArchivedEvent) error
}

// NewBaseEvent fills the event envelope
func NewBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderIngested publishes OrderIngested event
func (ep *EventPublisher) PublishOrderIngested(ctx context.Context, event *models.OrderIngestedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishOrderSold publishes OrderSold event
func (ep *EventPublisher) PublishOrderSold(ctx context.Context, event *models.OrderSoldEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishCardArchived publishes CardArchived event
func (ep *EventPublisher) PublishCardArchived(ctx context.Context, event *models.CardArchivedEvent) error {
	key := fmt.Sprintf("card-%d", event.CardID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// NopPublisher drops every event; used when no brokers are configured
type NopPublisher struct{}

func (NopPublisher) PublishOrderIngested(context.Context, *models.OrderIngestedEvent) error {
	return nil
}

func (NopPublisher) PublishOrderSold(context.Context, *models.OrderSoldEvent) error { return nil }

func (NopPublisher) PublishCardArchived(context.Context, *models.CardArchivedEvent) error {
	return nil
}
