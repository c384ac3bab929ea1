package service

import (
	"errors"
	"fmt"

	"tcg-inventory/internal/store"
)

var (
	ErrCardNotFound      = fmt.Errorf("card not found: %w", store.ErrNotFound)
	ErrOrderNotFound     = fmt.Errorf("order not found: %w", store.ErrNotFound)
	ErrInvalidField      = errors.New("invalid field")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrNoFreeSlot        = errors.New("no free storage slot")
)

// cardErr maps a store not-found error for a card onto ErrCardNotFound
func cardErr(cardID int64, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("card %d: %w", cardID, ErrCardNotFound)
	}
	return err
}

func orderErr(orderID int64, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("order %d: %w", orderID, ErrOrderNotFound)
	}
	return err
}
