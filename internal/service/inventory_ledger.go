package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"tcg-inventory/internal/broker"
	"tcg-inventory/internal/models"
	"tcg-inventory/internal/store"
	"tcg-inventory/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxBinderPages = 99

// updatableFields lists the fields UpdateFields accepts, in the order they
// are applied
var updatableFields = []string{
	"name", "set_code", "language", "condition", "price",
	"quantity", "storage_code", "cardmarket_id", "image_url", "status",
}

var auditedFields = map[string]bool{"quantity": true, "price": true, "status": true}

// InventoryLedger owns every change to a card's quantity, price and status
// and writes the audit trail for them
type InventoryLedger struct {
	cards     CardStore
	slots     SlotAllocator
	publisher broker.Publisher
	logger    *zap.Logger
}

// NewInventoryLedger creates a new inventory ledger
func NewInventoryLedger(cards CardStore, slots SlotAllocator, publisher broker.Publisher) *InventoryLedger {
	if publisher == nil {
		publisher = broker.NopPublisher{}
	}
	return &InventoryLedger{
		cards:     cards,
		slots:     slots,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// AddCardRequest represents a request to add a card to the inventory
type AddCardRequest struct {
	Name         string          `json:"name" binding:"required"`
	SetCode      string          `json:"set_code"`
	Language     string          `json:"language"`
	Condition    string          `json:"condition"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
	StorageCode  string          `json:"storage_code"`
	CardmarketID string          `json:"cardmarket_id"`
	ImageURL     string          `json:"image_url"`
	Status       string          `json:"status"`
}

// SellResult is the card state after selling one unit
type SellResult struct {
	CardID   int64 `json:"card_id"`
	Quantity int   `json:"quantity"`
	Archived bool  `json:"archived"`
}

// AddCard creates an inventory line. Without a storage code the card gets
// the next free binder slot of its set.
func (l *InventoryLedger) AddCard(ctx context.Context, req *AddCardRequest) (card *models.Card, err error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.AddCard")
	defer func() { util.EndSpan(span, err) }()

	card = &models.Card{
		Name:         strings.TrimSpace(req.Name),
		SetCode:      strings.ToUpper(strings.TrimSpace(req.SetCode)),
		Language:     req.Language,
		Condition:    req.Condition,
		Price:        req.Price,
		Quantity:     req.Quantity,
		StorageCode:  optionalString(req.StorageCode),
		CardmarketID: optionalString(req.CardmarketID),
		ImageURL:     optionalString(req.ImageURL),
		Status:       req.Status,
	}
	if card.Quantity == 0 {
		card.Quantity = 1
	}
	if card.Status == "" {
		card.Status = models.CardStatusAvailable
	}

	switch {
	case card.Name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidField)
	case card.Quantity < 0:
		return nil, fmt.Errorf("%w: quantity must not be negative", ErrInvalidField)
	case card.Price.IsNegative():
		return nil, fmt.Errorf("%w: price must not be negative", ErrInvalidField)
	case !models.ValidCardStatus(card.Status):
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidField, card.Status)
	}

	reserved := false
	if card.StorageCode == nil && card.SetCode != "" {
		code, err := l.slots.ReserveSlot(ctx, card.SetCode)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("set %s: %w", card.SetCode, ErrNoFreeSlot)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to reserve slot: %w", err)
		}
		card.StorageCode = &code
		reserved = true
	}

	if err := l.cards.CreateCard(ctx, card); err != nil {
		if reserved {
			if relErr := l.slots.ReleaseSlot(ctx, *card.StorageCode); relErr != nil {
				l.logger.Error("Failed to release slot after failed insert",
					zap.String("storage_code", *card.StorageCode),
					zap.Error(relErr))
			}
		}
		return nil, fmt.Errorf("failed to create card: %w", err)
	}

	l.logger.Info("Card added",
		zap.Int64("card_id", card.ID),
		zap.String("name", card.Name),
		zap.Stringp("storage_code", card.StorageCode))
	return card, nil
}

// UpdateFields applies a partial update. Keys outside the allow-list fail
// the whole request before anything is written. Changes to quantity, price
// and status are audited in the same transaction as the row update, and a
// card whose quantity ends at zero is archived.
func (l *InventoryLedger) UpdateFields(ctx context.Context, cardID int64, actor string, fields map[string]interface{}) (card *models.Card, err error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.UpdateFields")
	defer func() { util.EndSpan(span, err) }()

	if err := validateFieldNames(fields); err != nil {
		return nil, err
	}

	if len(fields) == 0 {
		card, err := l.cards.GetCard(ctx, cardID)
		if err != nil {
			return nil, cardErr(cardID, err)
		}
		return card, nil
	}

	var written []models.AuditEntry
	archivedNow := false

	card, err = l.cards.UpdateCardTx(ctx, cardID, func(c *models.Card) ([]models.AuditEntry, error) {
		wasArchived := c.Status == models.CardStatusArchived
		var entries []models.AuditEntry

		for _, field := range updatableFields {
			value, ok := fields[field]
			if !ok {
				continue
			}
			oldValue, newValue, err := applyField(c, field, value)
			if err != nil {
				return nil, err
			}
			if auditedFields[field] && oldValue != newValue {
				entries = append(entries, models.AuditEntry{
					Actor:    actor,
					Action:   models.AuditActionUpdate,
					Field:    field,
					OldValue: oldValue,
					NewValue: newValue,
				})
			}
		}

		if c.Quantity == 0 && c.Status != models.CardStatusArchived {
			entries = append(entries, archiveEntry(c, actor))
			c.Status = models.CardStatusArchived
		}

		archivedNow = !wasArchived && c.Status == models.CardStatusArchived
		written = entries
		return entries, nil
	})
	if err != nil {
		return nil, cardErr(cardID, err)
	}

	l.recordAudit(written)
	if archivedNow {
		l.archived(ctx, card, actor)
	}
	return card, nil
}

// Sell removes one unit of a card. The last unit zeroes the quantity and
// archives the card.
func (l *InventoryLedger) Sell(ctx context.Context, cardID int64, actor string) (result *SellResult, err error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Sell")
	defer func() { util.EndSpan(span, err) }()

	var written []models.AuditEntry
	archivedNow := false

	card, err := l.cards.UpdateCardTx(ctx, cardID, func(c *models.Card) ([]models.AuditEntry, error) {
		oldQuantity := c.Quantity
		newQuantity := 0
		if oldQuantity > 1 {
			newQuantity = oldQuantity - 1
		}

		entries := []models.AuditEntry{{
			Actor:    actor,
			Action:   models.AuditActionSell,
			Field:    "quantity",
			OldValue: strconv.Itoa(oldQuantity),
			NewValue: strconv.Itoa(newQuantity),
		}}
		c.Quantity = newQuantity

		if newQuantity == 0 {
			archivedNow = c.Status != models.CardStatusArchived
			entries = append(entries, archiveEntry(c, actor))
			c.Status = models.CardStatusArchived
		}

		written = entries
		return entries, nil
	})
	if err != nil {
		return nil, cardErr(cardID, err)
	}

	util.CardsSoldTotal.Inc()
	l.recordAudit(written)
	if archivedNow {
		l.archived(ctx, card, actor)
	}

	l.logger.Info("Card sold",
		zap.Int64("card_id", card.ID),
		zap.Int("quantity", card.Quantity),
		zap.String("actor", actor))

	return &SellResult{
		CardID:   card.ID,
		Quantity: card.Quantity,
		Archived: card.Status == models.CardStatusArchived,
	}, nil
}

// Delete frees the card's storage slot and removes the row. Deletions are
// logged but not audited.
func (l *InventoryLedger) Delete(ctx context.Context, cardID int64) (err error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Delete")
	defer func() { util.EndSpan(span, err) }()

	card, err := l.cards.GetCard(ctx, cardID)
	if err != nil {
		return cardErr(cardID, err)
	}

	if code := nonEmpty(card.StorageCode); code != nil {
		if err := l.slots.ReleaseSlot(ctx, *code); err != nil {
			return fmt.Errorf("failed to release slot %s: %w", *code, err)
		}
	}

	if err := l.cards.DeleteCard(ctx, cardID); err != nil {
		return cardErr(cardID, err)
	}

	l.logger.Info("Card deleted",
		zap.Int64("card_id", cardID),
		zap.String("name", card.Name),
		zap.Stringp("storage_code", card.StorageCode))
	return nil
}

// GetCard returns a single inventory line
func (l *InventoryLedger) GetCard(ctx context.Context, cardID int64) (*models.Card, error) {
	card, err := l.cards.GetCard(ctx, cardID)
	if err != nil {
		return nil, cardErr(cardID, err)
	}
	return card, nil
}

// ListCards returns the inventory, optionally narrowed to one status and set
func (l *InventoryLedger) ListCards(ctx context.Context, status, setCode string) (cards []models.Card, err error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.ListCards")
	defer func() { util.EndSpan(span, err) }()

	if status != "" && !models.ValidCardStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidField, status)
	}

	cards, err = l.cards.ListCards(ctx, store.CardFilter{
		Status:  status,
		SetCode: strings.TrimSpace(setCode),
	})
	if err != nil {
		return nil, err
	}
	return cards, nil
}

// History returns the audit trail of a card, newest first
func (l *InventoryLedger) History(ctx context.Context, cardID int64) ([]models.AuditEntry, error) {
	entries, err := l.cards.ListAuditEntries(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

// CreateBinder registers the pockets of a new binder for a set
func (l *InventoryLedger) CreateBinder(ctx context.Context, setCode string, pages int) (int, error) {
	setCode = strings.ToUpper(strings.TrimSpace(setCode))
	if setCode == "" {
		return 0, fmt.Errorf("%w: set_code is required", ErrInvalidField)
	}
	if pages < 1 || pages > maxBinderPages {
		return 0, fmt.Errorf("%w: pages must be between 1 and %d", ErrInvalidField, maxBinderPages)
	}

	created, err := l.slots.CreateBinder(ctx, setCode, pages)
	if err != nil {
		return 0, fmt.Errorf("failed to create binder: %w", err)
	}

	l.logger.Info("Binder created",
		zap.String("set_code", setCode),
		zap.Int("pages", pages),
		zap.Int("new_slots", created))
	return created, nil
}

func (l *InventoryLedger) recordAudit(entries []models.AuditEntry) {
	for _, e := range entries {
		util.AuditEntriesTotal.WithLabelValues(e.Action).Inc()
	}
}

func (l *InventoryLedger) archived(ctx context.Context, card *models.Card, actor string) {
	util.CardsArchivedTotal.Inc()

	event := &models.CardArchivedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeCardArchived),
		CardID:    card.ID,
		Name:      card.Name,
		Actor:     actor,
	}
	if err := l.publisher.PublishCardArchived(ctx, event); err != nil {
		l.logger.Error("Failed to publish CardArchived event",
			zap.Int64("card_id", card.ID),
			zap.Error(err))
	}
}

func archiveEntry(c *models.Card, actor string) models.AuditEntry {
	return models.AuditEntry{
		Actor:    actor,
		Action:   models.AuditActionAutoArchive,
		Field:    "status",
		OldValue: c.Status,
		NewValue: models.CardStatusArchived,
	}
}

func validateFieldNames(fields map[string]interface{}) error {
	allowed := make(map[string]bool, len(updatableFields))
	for _, f := range updatableFields {
		allowed[f] = true
	}

	var unknown []string
	for k := range fields {
		if !allowed[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: unknown field(s) %s", ErrInvalidField, strings.Join(unknown, ", "))
	}
	return nil
}

// applyField sets one field on c and returns the old and new value as text
func applyField(c *models.Card, field string, value interface{}) (string, string, error) {
	switch field {
	case "name":
		s, err := stringValue(field, value)
		if err != nil {
			return "", "", err
		}
		if strings.TrimSpace(s) == "" {
			return "", "", fmt.Errorf("%w: name must not be empty", ErrInvalidField)
		}
		old := c.Name
		c.Name = strings.TrimSpace(s)
		return old, c.Name, nil

	case "set_code", "language", "condition":
		s, err := stringValue(field, value)
		if err != nil {
			return "", "", err
		}
		target := map[string]*string{"set_code": &c.SetCode, "language": &c.Language, "condition": &c.Condition}[field]
		old := *target
		*target = s
		return old, s, nil

	case "storage_code", "cardmarket_id", "image_url":
		var s string
		if value != nil {
			v, err := stringValue(field, value)
			if err != nil {
				return "", "", err
			}
			s = v
		}
		target := map[string]**string{"storage_code": &c.StorageCode, "cardmarket_id": &c.CardmarketID, "image_url": &c.ImageURL}[field]
		old := derefString(*target)
		*target = optionalString(s)
		return old, s, nil

	case "price":
		d, err := decimalValue(value)
		if err != nil {
			return "", "", err
		}
		if d.IsNegative() {
			return "", "", fmt.Errorf("%w: price must not be negative", ErrInvalidField)
		}
		old := c.Price
		c.Price = d
		if old.Equal(d) {
			return old.StringFixed(2), old.StringFixed(2), nil
		}
		return old.StringFixed(2), d.StringFixed(2), nil

	case "quantity":
		n, err := intValue(value)
		if err != nil {
			return "", "", err
		}
		if n < 0 {
			return "", "", fmt.Errorf("%w: quantity must not be negative", ErrInvalidField)
		}
		old := c.Quantity
		c.Quantity = n
		return strconv.Itoa(old), strconv.Itoa(n), nil

	case "status":
		s, err := stringValue(field, value)
		if err != nil {
			return "", "", err
		}
		if !models.ValidCardStatus(s) {
			return "", "", fmt.Errorf("%w: unknown status %q", ErrInvalidField, s)
		}
		old := c.Status
		c.Status = s
		return old, s, nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrInvalidField, field)
}

func stringValue(field string, value interface{}) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidField, field)
	}
	return s, nil
}

func decimalValue(value interface{}) (decimal.Decimal, error) {
	switch v := value.(type) {
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: price %q is not a number", ErrInvalidField, v)
		}
		return d, nil
	case string:
		d, err := decimal.NewFromString(strings.Replace(strings.TrimSpace(v), ",", ".", 1))
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: price %q is not a number", ErrInvalidField, v)
		}
		return d, nil
	case decimal.Decimal:
		return v, nil
	}
	return decimal.Zero, fmt.Errorf("%w: price must be a number", ErrInvalidField)
}

func intValue(value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: quantity must be a whole number", ErrInvalidField)
		}
		return int(v), nil
	case json.Number:
		n, err := strconv.Atoi(v.String())
		if err != nil {
			return 0, fmt.Errorf("%w: quantity must be a whole number", ErrInvalidField)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: quantity must be a number", ErrInvalidField)
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
