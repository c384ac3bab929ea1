package catalog

import (
	"context"
	"time"

	"tcg-inventory/internal/util"

	"go.uber.org/zap"
)

// ImageSource resolves a card name to a display image
type ImageSource interface {
	LookupImage(ctx context.Context, name string) (string, bool, error)
}

// ImageCache stores lookup results; an empty url marks a known miss
type ImageCache interface {
	GetCatalogImage(ctx context.Context, name string) (string, bool, error)
	SetCatalogImage(ctx context.Context, name, url string, ttl time.Duration) error
}

// CachedCatalog puts a cache in front of an ImageSource. Cache errors are
// logged and the source is consulted directly.
type CachedCatalog struct {
	source ImageSource
	cache  ImageCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedCatalog creates a new CachedCatalog
func NewCachedCatalog(source ImageSource, cache ImageCache, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{
		source: source,
		cache:  cache,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// LookupImage returns the cached result or asks the source and caches it
func (c *CachedCatalog) LookupImage(ctx context.Context, name string) (string, bool, error) {
	url, found, err := c.cache.GetCatalogImage(ctx, name)
	if err != nil {
		c.logger.Warn("Catalog cache read failed", zap.String("card_name", name), zap.Error(err))
	} else if found {
		util.CatalogCacheHitsTotal.Inc()
		return url, url != "", nil
	}

	url, ok, err := c.source.LookupImage(ctx, name)
	if err != nil {
		return "", false, err
	}

	if err := c.cache.SetCatalogImage(ctx, name, url, c.ttl); err != nil {
		c.logger.Warn("Catalog cache write failed", zap.String("card_name", name), zap.Error(err))
	}
	return url, ok, nil
}
