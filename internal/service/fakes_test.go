package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tcg-inventory/internal/mailclient"
	"tcg-inventory/internal/models"
	"tcg-inventory/internal/store"
)

// memStore is an in-memory CardStore, SlotAllocator and OrderStore
type memStore struct {
	mu sync.Mutex

	nextCardID  int64
	cards       map[int64]models.Card
	audit       []models.AuditEntry
	slots       map[string]bool
	released    []string
	createErr   error
	findErr     error
	nextOrderID int64
	orders      map[int64]models.Order
	items       map[int64][]models.OrderItem
	persistErr  error
}

func newMemStore() *memStore {
	return &memStore{
		cards:  map[int64]models.Card{},
		slots:  map[string]bool{},
		orders: map[int64]models.Order{},
		items:  map[int64][]models.OrderItem{},
	}
}

func strp(s string) *string { return &s }

func (m *memStore) addCard(c models.Card) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCardID++
	c.ID = m.nextCardID
	if c.Status == "" {
		c.Status = models.CardStatusAvailable
	}
	m.cards[c.ID] = c
	return c.ID
}

func (m *memStore) card(id int64) models.Card {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cards[id]
}

func (m *memStore) CreateCard(_ context.Context, card *models.Card) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCardID++
	card.ID = m.nextCardID
	card.CreatedAt = time.Now()
	card.UpdatedAt = card.CreatedAt
	m.cards[card.ID] = *card
	return nil
}

func (m *memStore) GetCard(_ context.Context, id int64) (*models.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[id]
	if !ok {
		return nil, fmt.Errorf("card %d: %w", id, store.ErrNotFound)
	}
	return &c, nil
}

func (m *memStore) ListCards(_ context.Context, f store.CardFilter) ([]models.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Card{}
	for _, c := range m.sortedCards() {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.SetCode != "" && !strings.EqualFold(c.SetCode, f.SetCode) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memStore) sortedCards() []models.Card {
	out := make([]models.Card, 0, len(m.cards))
	for _, c := range m.cards {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) FindCardByName(_ context.Context, name string) (*models.Card, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var archived *models.Card
	for _, c := range m.sortedCards() {
		c := c
		if !strings.EqualFold(c.Name, name) {
			continue
		}
		if c.Status != models.CardStatusArchived {
			return &c, nil
		}
		if archived == nil {
			archived = &c
		}
	}
	if archived != nil {
		return archived, nil
	}
	return nil, fmt.Errorf("card %q: %w", name, store.ErrNotFound)
}

func (m *memStore) FindCardByNameLike(_ context.Context, name string) (*models.Card, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var first *models.Card
	for _, c := range m.sortedCards() {
		c := c
		if !strings.Contains(strings.ToLower(c.Name), strings.ToLower(name)) {
			continue
		}
		if c.ImageURL != nil && *c.ImageURL != "" {
			return &c, nil
		}
		if first == nil {
			first = &c
		}
	}
	if first != nil {
		return first, nil
	}
	return nil, fmt.Errorf("card like %q: %w", name, store.ErrNotFound)
}

func (m *memStore) UpdateCardTx(_ context.Context, cardID int64, mutate store.CardMutation) (*models.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[cardID]
	if !ok {
		return nil, fmt.Errorf("card %d: %w", cardID, store.ErrNotFound)
	}
	entries, err := mutate(&c)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].ID = int64(len(m.audit) + 1)
		entries[i].CardID = cardID
		entries[i].CreatedAt = time.Now()
		m.audit = append(m.audit, entries[i])
	}
	c.UpdatedAt = time.Now()
	m.cards[cardID] = c
	return &c, nil
}

func (m *memStore) DeleteCard(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cards[id]; !ok {
		return fmt.Errorf("card %d: %w", id, store.ErrNotFound)
	}
	delete(m.cards, id)
	return nil
}

func (m *memStore) ListAuditEntries(_ context.Context, cardID int64) ([]models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.AuditEntry{}
	for i := len(m.audit) - 1; i >= 0; i-- {
		if m.audit[i].CardID == cardID {
			out = append(out, m.audit[i])
		}
	}
	return out, nil
}

func (m *memStore) auditFor(cardID int64) []models.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditEntry
	for _, e := range m.audit {
		if e.CardID == cardID {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) ReserveSlot(_ context.Context, setCode string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := make([]string, 0, len(m.slots))
	for code := range m.slots {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		if strings.HasPrefix(code, setCode+"-") && !m.slots[code] {
			m.slots[code] = true
			return code, nil
		}
	}
	return "", fmt.Errorf("free slot for set %q: %w", setCode, store.ErrNotFound)
}

func (m *memStore) ReleaseSlot(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, code)
	if _, ok := m.slots[code]; ok {
		m.slots[code] = false
	}
	return nil
}

func (m *memStore) CreateBinder(_ context.Context, setCode string, pages int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := 0
	for p := 1; p <= pages; p++ {
		for s := 1; s <= store.SlotsPerPage; s++ {
			code := store.SlotCode(setCode, p, s)
			if _, ok := m.slots[code]; !ok {
				m.slots[code] = false
				created++
			}
		}
	}
	return created, nil
}

func (m *memStore) CreateOrderWithItems(_ context.Context, order *models.Order, items []models.OrderItem) (bool, error) {
	if m.persistErr != nil {
		return false, m.persistErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.MessageID == order.MessageID {
			return false, nil
		}
	}
	m.nextOrderID++
	order.ID = m.nextOrderID
	order.CreatedAt = time.Now()
	m.orders[order.ID] = *order
	stored := make([]models.OrderItem, len(items))
	for i := range items {
		items[i].ID = int64(i + 1)
		items[i].OrderID = order.ID
		stored[i] = items[i]
	}
	m.items[order.ID] = stored
	return true, nil
}

func (m *memStore) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	return &o, nil
}

func (m *memStore) ListOrdersByStatus(_ context.Context, status string) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Order{}
	for _, o := range m.orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) GetOrderItemsByOrderID(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OrderItem{}, m.items[orderID]...), nil
}

func (m *memStore) GetOrderItemsByOrderIDs(_ context.Context, orderIDs []int64) (map[int64][]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64][]models.OrderItem{}
	for _, id := range orderIDs {
		if items, ok := m.items[id]; ok {
			out[id] = append([]models.OrderItem{}, items...)
		}
	}
	return out, nil
}

func (m *memStore) CompleteOrder(_ context.Context, orderID int64, completedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.Status != models.OrderStatusOpen {
		return false, nil
	}
	o.Status = models.OrderStatusSold
	o.CompletedAt = &completedAt
	m.orders[orderID] = o
	return true, nil
}

func (m *memStore) DeleteOrder(_ context.Context, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; !ok {
		return fmt.Errorf("order %d: %w", orderID, store.ErrNotFound)
	}
	delete(m.orders, orderID)
	delete(m.items, orderID)
	return nil
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// fakeTransport is an in-memory mailbox
type fakeTransport struct {
	mu       sync.Mutex
	ids      []string
	messages map[string]*mailclient.Message
	listErr  error
	getErr   map[string]error
	markErr  error
	marked   []string
	listed   int
	fetched  []string
	filter   mailclient.Filter
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		messages: map[string]*mailclient.Message{},
		getErr:   map[string]error{},
	}
}

func (f *fakeTransport) add(id, subject, body string) {
	f.ids = append(f.ids, id)
	f.messages[id] = &mailclient.Message{
		ID:         id,
		Subject:    subject,
		Body:       body,
		ReceivedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeTransport) ListCandidateMessages(_ context.Context, filter mailclient.Filter) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed++
	f.filter = filter
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]string{}, f.ids...), nil
}

func (f *fakeTransport) GetMessage(_ context.Context, id string) (*mailclient.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, id)
	if err := f.getErr[id]; err != nil {
		return nil, err
	}
	m, ok := f.messages[id]
	if !ok {
		return nil, errors.New("message not found")
	}
	return m, nil
}

func (f *fakeTransport) MarkHandled(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, id)
	return nil
}

// fakeCatalog is a name to image map with exact then substring lookup
type fakeCatalog struct {
	images map[string]string
	err    error
	calls  int
}

func (f *fakeCatalog) LookupImage(_ context.Context, name string) (string, bool, error) {
	f.calls++
	if f.err != nil {
		return "", false, f.err
	}
	for n, url := range f.images {
		if strings.EqualFold(n, name) {
			return url, true, nil
		}
	}
	for n, url := range f.images {
		if strings.Contains(strings.ToLower(n), strings.ToLower(name)) {
			return url, true, nil
		}
	}
	return "", false, nil
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu       sync.Mutex
	ingested []*models.OrderIngestedEvent
	sold     []*models.OrderSoldEvent
	archived []*models.CardArchivedEvent
}

func (p *recordingPublisher) PublishOrderIngested(_ context.Context, e *models.OrderIngestedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ingested = append(p.ingested, e)
	return nil
}

func (p *recordingPublisher) PublishOrderSold(_ context.Context, e *models.OrderSoldEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sold = append(p.sold, e)
	return nil
}

func (p *recordingPublisher) PublishCardArchived(_ context.Context, e *models.CardArchivedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.archived = append(p.archived, e)
	return nil
}
