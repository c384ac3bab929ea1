package catalog

import (
	"context"
	"fmt"
	"sync"
)

// OnDemand opens the catalog directory read-only for each lookup and closes
// it again, so a long-running reader sees every finished import and holds
// the directory lock only while a lookup runs. A lookup made while an import
// holds the lock fails; callers treat that as a miss.
type OnDemand struct {
	dir string

	// pebble allows one open per directory per process
	mu sync.Mutex
}

// NewOnDemand checks that dir holds a catalog and returns a reader for it
func NewOnDemand(dir string) (*OnDemand, error) {
	c, err := Open(dir, true)
	if err != nil {
		return nil, err
	}
	if err := c.Close(); err != nil {
		return nil, fmt.Errorf("pebble close: %w", err)
	}
	return &OnDemand{dir: dir}, nil
}

// LookupImage opens the catalog, looks name up and closes it
func (o *OnDemand) LookupImage(ctx context.Context, name string) (url string, ok bool, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	c, err := Open(o.dir, true)
	if err != nil {
		return "", false, err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("pebble close: %w", cerr)
		}
	}()

	return c.LookupImage(ctx, name)
}
