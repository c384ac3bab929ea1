package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tcg-inventory/internal/models"
)

// CardMutation changes a locked card in place and returns the audit entries
// describing the change. Returning an error aborts the transaction.
type CardMutation func(card *models.Card) ([]models.AuditEntry, error)

// CreateCard inserts a new inventory line
func (s *Store) CreateCard(ctx context.Context, card *models.Card) error {
	query := `
		INSERT INTO cards (name, set_code, language, condition, price, quantity,
			storage_code, cardmarket_id, image_url, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, card, query,
		card.Name, card.SetCode, card.Language, card.Condition, card.Price, card.Quantity,
		card.StorageCode, card.CardmarketID, card.ImageURL, card.Status)
}

// GetCard retrieves a card by ID
func (s *Store) GetCard(ctx context.Context, id int64) (*models.Card, error) {
	var card models.Card
	err := s.db.GetContext(ctx, &card, "SELECT * FROM cards WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// CardFilter narrows ListCards. Empty fields match every card.
type CardFilter struct {
	Status  string
	SetCode string
}

// ListCards returns the inventory lines matching f, oldest first
func (s *Store) ListCards(ctx context.Context, f CardFilter) ([]models.Card, error) {
	cards := []models.Card{}
	err := s.db.SelectContext(ctx, &cards, `
		SELECT * FROM cards
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR UPPER(set_code) = UPPER($2))
		ORDER BY id`, f.Status, f.SetCode)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	return cards, nil
}

// FindCardByName returns the card whose name equals name ignoring case.
// Non-archived rows win over archived ones.
func (s *Store) FindCardByName(ctx context.Context, name string) (*models.Card, error) {
	var card models.Card
	err := s.db.GetContext(ctx, &card, `
		SELECT * FROM cards
		WHERE LOWER(name) = LOWER($1)
		ORDER BY (status = 'archived'), id
		LIMIT 1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// FindCardByNameLike returns a card whose name contains name ignoring case.
// Rows carrying an image are preferred.
func (s *Store) FindCardByNameLike(ctx context.Context, name string) (*models.Card, error) {
	var card models.Card
	err := s.db.GetContext(ctx, &card, `
		SELECT * FROM cards
		WHERE LOWER(name) LIKE $1
		ORDER BY (COALESCE(image_url, '') = ''), (status = 'archived'), id
		LIMIT 1`, containsPattern(name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card like %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// UpdateCardTx locks a card row, applies mutate, writes the returned audit
// entries and the new row state in a single transaction.
func (s *Store) UpdateCardTx(ctx context.Context, cardID int64, mutate CardMutation) (*models.Card, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var card models.Card
	err = tx.GetContext(ctx, &card, "SELECT * FROM cards WHERE id = $1 FOR UPDATE", cardID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %d: %w", cardID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock card: %w", err)
	}

	entries, err := mutate(&card)
	if err != nil {
		return nil, err
	}

	for i := range entries {
		entries[i].CardID = card.ID
		err = tx.GetContext(ctx, &entries[i], `
			INSERT INTO audit_log (card_id, actor, action, field, old_value, new_value)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at`,
			entries[i].CardID, entries[i].Actor, entries[i].Action,
			entries[i].Field, entries[i].OldValue, entries[i].NewValue)
		if err != nil {
			return nil, fmt.Errorf("failed to write audit entry: %w", err)
		}
	}

	err = tx.GetContext(ctx, &card.UpdatedAt, `
		UPDATE cards SET name = $1, set_code = $2, language = $3, condition = $4, price = $5,
			quantity = $6, storage_code = $7, cardmarket_id = $8, image_url = $9, status = $10,
			updated_at = NOW()
		WHERE id = $11
		RETURNING updated_at`,
		card.Name, card.SetCode, card.Language, card.Condition, card.Price,
		card.Quantity, card.StorageCode, card.CardmarketID, card.ImageURL, card.Status,
		card.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update card: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit card update: %w", err)
	}
	return &card, nil
}

// DeleteCard removes a card row
func (s *Store) DeleteCard(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM cards WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("card %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListAuditEntries returns the history of a card, newest first
func (s *Store) ListAuditEntries(ctx context.Context, cardID int64) ([]models.AuditEntry, error) {
	entries := []models.AuditEntry{}
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM audit_log WHERE card_id = $1 ORDER BY created_at DESC, id DESC", cardID)
	return entries, err
}
