package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tcg-inventory/internal/models"
	"tcg-inventory/internal/store"
	"tcg-inventory/internal/util"

	"go.uber.org/zap"
)

// Location is where an ordered card lives and what it looks like.
// A nil field means nothing was found for it.
type Location struct {
	ImageURL    *string
	StorageCode *string
}

// imageTier is one step of the image fallback chain
type imageTier struct {
	name   string
	lookup func(ctx context.Context, cardName string) (string, bool, error)
}

// CardMatcher resolves ordered card names against the inventory and the
// reference catalog
type CardMatcher struct {
	cards   CardStore
	catalog ImageCatalog
	tiers   []imageTier
	logger  *zap.Logger
}

// NewCardMatcher creates a new card matcher. catalog may be nil.
func NewCardMatcher(cards CardStore, catalog ImageCatalog) *CardMatcher {
	m := &CardMatcher{
		cards:   cards,
		catalog: catalog,
		logger:  util.GetLogger(),
	}
	m.tiers = []imageTier{
		{name: "inventory-substring", lookup: m.inventorySubstringImage},
		{name: "catalog", lookup: m.catalogImage},
	}
	return m
}

// Locate finds the storage location and display image for a card name.
// The location only ever comes from the inventory. An exact row decides it;
// a substring row is used only when no exact row exists.
func (m *CardMatcher) Locate(ctx context.Context, cardName string) (loc Location, err error) {
	ctx, span := util.StartSpan(ctx, "CardMatcher.Locate")
	defer func() { util.EndSpan(span, err) }()

	exact, err := m.find(ctx, m.cards.FindCardByName, cardName)
	if err != nil {
		return Location{}, err
	}

	if exact != nil {
		loc.StorageCode = nonEmpty(exact.StorageCode)
		loc.ImageURL = nonEmpty(exact.ImageURL)
	} else {
		partial, err := m.find(ctx, m.cards.FindCardByNameLike, cardName)
		if err != nil {
			return Location{}, err
		}
		if partial != nil {
			loc.StorageCode = nonEmpty(partial.StorageCode)
		}
	}

	if loc.ImageURL != nil {
		return loc, nil
	}

	for _, tier := range m.tiers {
		url, found, err := tier.lookup(ctx, cardName)
		if err != nil {
			return Location{}, err
		}
		if found {
			m.logger.Debug("Image resolved",
				zap.String("card_name", cardName),
				zap.String("tier", tier.name))
			loc.ImageURL = &url
			break
		}
	}
	return loc, nil
}

func (m *CardMatcher) find(
	ctx context.Context,
	lookup func(context.Context, string) (*models.Card, error),
	cardName string,
) (*models.Card, error) {
	card, err := lookup(ctx, cardName)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to match card %q: %w", cardName, err)
	}
	return card, nil
}

func (m *CardMatcher) inventorySubstringImage(ctx context.Context, cardName string) (string, bool, error) {
	card, err := m.find(ctx, m.cards.FindCardByNameLike, cardName)
	if err != nil || card == nil {
		return "", false, err
	}
	if url := nonEmpty(card.ImageURL); url != nil {
		return *url, true, nil
	}
	return "", false, nil
}

// catalogImage never fails the match; the catalog is a display nicety
func (m *CardMatcher) catalogImage(ctx context.Context, cardName string) (string, bool, error) {
	if m.catalog == nil {
		return "", false, nil
	}
	url, found, err := m.catalog.LookupImage(ctx, cardName)
	if err != nil {
		m.logger.Warn("Catalog lookup failed",
			zap.String("card_name", cardName),
			zap.Error(err))
		return "", false, nil
	}
	return url, found && url != "", nil
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := *s
	return &v
}
