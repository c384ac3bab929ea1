package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/pebble"
)

const (
	namePrefix = "name/"
	// keyEnd sorts after every "name/..." key
	keyEnd    = "name0"
	nameSep   = "\x00"
	batchSize = 1000
)

// Entry is one printing in the reference catalog
type Entry struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	SetCode         string `json:"set_code"`
	Language        string `json:"lang"`
	CollectorNumber string `json:"collector_number"`
	CardmarketID    string `json:"cardmarket_id"`
	ImageURL        string `json:"image_url"`
}

// Catalog is a read-mostly card index stored in Pebble
type Catalog struct {
	db *pebble.DB
}

// Open opens (or creates) a catalog directory
func Open(dir string, readOnly bool) (*Catalog, error) {
	opts := &pebble.Options{ReadOnly: readOnly}
	db, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close closes the underlying store
func (c *Catalog) Close() error { return c.db.Close() }

func nameKey(name, id string) []byte {
	return []byte(namePrefix + strings.ToLower(name) + nameSep + id)
}

func exactBounds(name string) (lower, upper []byte) {
	lower = []byte(namePrefix + strings.ToLower(name) + nameSep)
	upper = append(append([]byte(nil), lower[:len(lower)-1]...), nameSep[0]+1)
	return lower, upper
}

// nameOf extracts the lower-cased card name from a key
func nameOf(key []byte) string {
	rest := bytes.TrimPrefix(key, []byte(namePrefix))
	if i := bytes.IndexByte(rest, nameSep[0]); i >= 0 {
		rest = rest[:i]
	}
	return string(rest)
}

// Put stores a single entry
func (c *Catalog) Put(e Entry) error {
	val, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.db.Set(nameKey(e.Name, e.ID), val, pebble.Sync)
}

// LookupImage returns the image of the first printing whose name equals
// name ignoring case, falling back to the first whose name contains it.
func (c *Catalog) LookupImage(ctx context.Context, name string) (string, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false, nil
	}

	lower, upper := exactBounds(name)
	url, ok, err := c.firstImage(ctx, lower, upper, nil)
	if err != nil || ok {
		return url, ok, err
	}

	needle := strings.ToLower(name)
	return c.firstImage(ctx, []byte(namePrefix), []byte(keyEnd), func(key []byte) bool {
		return strings.Contains(nameOf(key), needle)
	})
}

func (c *Catalog) firstImage(ctx context.Context, lower, upper []byte, match func([]byte) bool) (string, bool, error) {
	it, err := c.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return "", false, err
	}
	defer it.Close()

	scanned := 0
	for it.First(); it.Valid(); it.Next() {
		scanned++
		if scanned%batchSize == 0 {
			if err := ctx.Err(); err != nil {
				return "", false, err
			}
		}
		if match != nil && !match(it.Key()) {
			continue
		}
		var e Entry
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			return "", false, fmt.Errorf("decode catalog entry: %w", err)
		}
		if e.ImageURL != "" {
			return e.ImageURL, true, nil
		}
	}
	return "", false, it.Error()
}

// Count returns the number of stored printings
func (c *Catalog) Count() (int, error) {
	it, err := c.db.NewIter(&pebble.IterOptions{LowerBound: []byte(namePrefix), UpperBound: []byte(keyEnd)})
	if err != nil {
		return 0, err
	}
	defer it.Close()

	n := 0
	for it.First(); it.Valid(); it.Next() {
		n++
	}
	return n, it.Error()
}

type scryfallCard struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Set             string `json:"set"`
	Lang            string `json:"lang"`
	CollectorNumber string `json:"collector_number"`
	CardmarketID    *int64 `json:"cardmarket_id"`
	ImageURIs       *struct {
		Normal string `json:"normal"`
		Small  string `json:"small"`
	} `json:"image_uris"`
}

func (s scryfallCard) entry() Entry {
	e := Entry{
		ID:              s.ID,
		Name:            s.Name,
		SetCode:         s.Set,
		Language:        s.Lang,
		CollectorNumber: s.CollectorNumber,
	}
	if s.CardmarketID != nil {
		e.CardmarketID = strconv.FormatInt(*s.CardmarketID, 10)
	}
	if s.ImageURIs != nil {
		e.ImageURL = s.ImageURIs.Normal
		if e.ImageURL == "" {
			e.ImageURL = s.ImageURIs.Small
		}
	}
	return e
}

// Import replaces the catalog with the cards of a Scryfall bulk JSON array
func (c *Catalog) Import(ctx context.Context, r io.Reader) (int, error) {
	if err := c.db.DeleteRange([]byte(namePrefix), []byte(keyEnd), pebble.Sync); err != nil {
		return 0, fmt.Errorf("clear catalog: %w", err)
	}

	dec := json.NewDecoder(r)
	if _, err := dec.Token(); err != nil {
		return 0, fmt.Errorf("read array start: %w", err)
	}

	wb := c.db.NewBatch()
	defer func() { _ = wb.Close() }()

	imported := 0
	for dec.More() {
		var card scryfallCard
		if err := dec.Decode(&card); err != nil {
			return imported, fmt.Errorf("decode card %d: %w", imported, err)
		}
		if card.ID == "" || card.Name == "" {
			continue
		}
		val, err := json.Marshal(card.entry())
		if err != nil {
			return imported, err
		}
		if err := wb.Set(nameKey(card.Name, card.ID), val, nil); err != nil {
			return imported, err
		}
		imported++

		if wb.Count() >= batchSize {
			if err := wb.Commit(pebble.NoSync); err != nil {
				return imported, err
			}
			_ = wb.Close()
			wb = c.db.NewBatch()
			if err := ctx.Err(); err != nil {
				return imported, err
			}
		}
	}

	if err := wb.Commit(pebble.Sync); err != nil {
		return imported, err
	}
	return imported, nil
}
