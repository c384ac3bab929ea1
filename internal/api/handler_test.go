package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tcg-inventory/internal/models"
	"tcg-inventory/internal/service"
	"tcg-inventory/internal/store"
	"tcg-inventory/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrders struct {
	orders     map[int64]*models.OrderWithItems
	lastStatus string
	lastActor  string
	markErr    error
}

func (f *fakeOrders) ListOrders(_ context.Context, status string) ([]models.OrderWithItems, error) {
	f.lastStatus = status
	if status != models.OrderStatusOpen && status != models.OrderStatusSold {
		return nil, fmt.Errorf("%w: unknown order status %q", service.ErrInvalidField, status)
	}
	var out []models.OrderWithItems
	for _, o := range f.orders {
		if o.Status == status {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrders) GetOrder(_ context.Context, id int64) (*models.OrderWithItems, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, service.ErrOrderNotFound)
	}
	return o, nil
}

func (f *fakeOrders) DeleteOrder(_ context.Context, id int64) error {
	if _, ok := f.orders[id]; !ok {
		return fmt.Errorf("order %d: %w", id, service.ErrOrderNotFound)
	}
	delete(f.orders, id)
	return nil
}

func (f *fakeOrders) MarkSold(_ context.Context, id int64, actor string) (*service.MarkSoldResult, error) {
	f.lastActor = actor
	if f.markErr != nil {
		return nil, f.markErr
	}
	return &service.MarkSoldResult{OrderID: id, MatchedItems: 1, UnmatchedItems: 1, UnitsSold: 2, Message: "done"}, nil
}

type fakeInventory struct {
	fields     map[string]interface{}
	lastActor  string
	lastStatus string
	lastSet    string
	added      *service.AddCardRequest
}

func (f *fakeInventory) GetCard(_ context.Context, id int64) (*models.Card, error) {
	if id == 404 {
		return nil, fmt.Errorf("card %d: %w", id, service.ErrCardNotFound)
	}
	return &models.Card{ID: id, Name: "Opt", Quantity: 2, Status: models.CardStatusAvailable}, nil
}

func (f *fakeInventory) ListCards(_ context.Context, status, setCode string) ([]models.Card, error) {
	f.lastStatus, f.lastSet = status, setCode
	if status == "lost" {
		return nil, fmt.Errorf("%w: unknown status %q", service.ErrInvalidField, status)
	}
	return []models.Card{
		{ID: 1, Name: "Opt", SetCode: "DOM", Status: models.CardStatusAvailable},
		{ID: 2, Name: "Shock", SetCode: "M21", Status: models.CardStatusAvailable},
	}, nil
}

func (f *fakeInventory) AddCard(_ context.Context, req *service.AddCardRequest) (*models.Card, error) {
	f.added = req
	if req.SetCode == "FULL" {
		return nil, fmt.Errorf("set FULL: %w", service.ErrNoFreeSlot)
	}
	return &models.Card{ID: 1, Name: req.Name, Quantity: req.Quantity, Status: models.CardStatusAvailable}, nil
}

func (f *fakeInventory) UpdateFields(_ context.Context, id int64, actor string, fields map[string]interface{}) (*models.Card, error) {
	f.fields = fields
	f.lastActor = actor
	if _, ok := fields["owner"]; ok {
		return nil, fmt.Errorf("%w: unknown field(s) owner", service.ErrInvalidField)
	}
	return &models.Card{ID: id, Name: "Opt"}, nil
}

func (f *fakeInventory) Sell(_ context.Context, id int64, actor string) (*service.SellResult, error) {
	f.lastActor = actor
	if id == 404 {
		return nil, fmt.Errorf("card %d: %w", id, store.ErrNotFound)
	}
	return &service.SellResult{CardID: id, Quantity: 0, Archived: true}, nil
}

func (f *fakeInventory) Delete(context.Context, int64) error { return nil }

func (f *fakeInventory) History(_ context.Context, id int64) ([]models.AuditEntry, error) {
	return []models.AuditEntry{{CardID: id, Action: models.AuditActionSell}}, nil
}

func (f *fakeInventory) CreateBinder(_ context.Context, _ string, pages int) (int, error) {
	return pages * store.SlotsPerPage, nil
}

type fakeSyncer struct{ result service.SyncResult }

func (f *fakeSyncer) SyncNow(context.Context) service.SyncResult { return f.result }

type fakeScheduler struct{ enabled bool }

func (f *fakeScheduler) Enable()         { f.enabled = true }
func (f *fakeScheduler) Disable()        { f.enabled = false }
func (f *fakeScheduler) IsEnabled() bool { return f.enabled }
func (f *fakeScheduler) Status() worker.Status {
	return worker.Status{Enabled: f.enabled, Window: "11:00-22:00"}
}

type testEnv struct {
	router    *gin.Engine
	orders    *fakeOrders
	inventory *fakeInventory
	syncer    *fakeSyncer
	scheduler *fakeScheduler
}

func newTestEnv(ready func(context.Context) error) *testEnv {
	gin.SetMode(gin.TestMode)
	env := &testEnv{
		router: gin.New(),
		orders: &fakeOrders{orders: map[int64]*models.OrderWithItems{
			1: {Order: models.Order{ID: 1, BuyerName: "KohlkopfKlaus", Status: models.OrderStatusOpen},
				Items: []models.OrderItem{{OrderID: 1, CardName: "Opt", Quantity: 2}}},
		}},
		inventory: &fakeInventory{},
		syncer:    &fakeSyncer{result: service.SyncResult{OK: true, Message: "No new orders found"}},
		scheduler: &fakeScheduler{enabled: true},
	}
	NewHandler(env.orders, env.inventory, env.syncer, env.scheduler, ready, "order-sync").SetupRoutes(env.router)
	return env
}

func (e *testEnv) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(nil)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/ready", "").Code)

	down := newTestEnv(func(context.Context) error { return errors.New("dial tcp: refused") })
	w := down.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSyncEndpoints(t *testing.T) {
	env := newTestEnv(nil)

	w := env.do(http.MethodPost, "/api/v1/sync", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "No new orders found", body["message"])
	assert.Equal(t, float64(0), body["new_orders"])

	env.syncer.result = service.SyncResult{OK: false, Message: "Error syncing orders: timeout"}
	assert.Equal(t, http.StatusBadGateway, env.do(http.MethodPost, "/api/v1/sync", "").Code)

	w = env.do(http.MethodPost, "/api/v1/sync/disable", "")
	assert.Equal(t, false, decode(t, w)["enabled"])
	assert.False(t, env.scheduler.enabled)

	w = env.do(http.MethodPost, "/api/v1/sync/enable", "")
	assert.Equal(t, true, decode(t, w)["enabled"])

	w = env.do(http.MethodGet, "/api/v1/sync/status", "")
	assert.Equal(t, "11:00-22:00", decode(t, w)["window"])
}

func TestListOrdersDefaultsToOpen(t *testing.T) {
	env := newTestEnv(nil)

	w := env.do(http.MethodGet, "/api/v1/orders", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.OrderStatusOpen, env.orders.lastStatus)
	orders := decode(t, w)["orders"].([]interface{})
	require.Len(t, orders, 1)
	assert.Equal(t, "KohlkopfKlaus", orders[0].(map[string]interface{})["buyer_name"])

	w = env.do(http.MethodGet, "/api/v1/orders?status=shipped", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderByID(t *testing.T) {
	env := newTestEnv(nil)

	w := env.do(http.MethodGet, "/api/v1/orders/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["items"], 1)

	w = env.do(http.MethodGet, "/api/v1/orders/9", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Order not found", body["error"])
	assert.Contains(t, body["details"], "order not found")

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/orders/abc", "").Code)
}

func TestDeleteOrder(t *testing.T) {
	env := newTestEnv(nil)

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/api/v1/orders/1", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/api/v1/orders/1", "").Code)
}

func TestMarkSoldUsesActorHeader(t *testing.T) {
	env := newTestEnv(nil)

	w := env.do(http.MethodPost, "/api/v1/orders/1/mark-sold", "", ActorHeader, "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", env.orders.lastActor)
	assert.Equal(t, float64(1), decode(t, w)["unmatched_items"])

	env.do(http.MethodPost, "/api/v1/orders/1/mark-sold", "")
	assert.Equal(t, "order-sync", env.orders.lastActor)

	env.orders.markErr = fmt.Errorf("order 1 is sold: %w", service.ErrInvalidTransition)
	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/api/v1/orders/1/mark-sold", "").Code)
}

func TestListCards(t *testing.T) {
	env := newTestEnv(nil)

	w := env.do(http.MethodGet, "/api/v1/cards?status=available&set_code=M21", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.CardStatusAvailable, env.inventory.lastStatus)
	assert.Equal(t, "M21", env.inventory.lastSet)
	cards := decode(t, w)["cards"].([]interface{})
	require.Len(t, cards, 2)
	assert.Equal(t, "Opt", cards[0].(map[string]interface{})["name"])

	env.do(http.MethodGet, "/api/v1/cards", "")
	assert.Empty(t, env.inventory.lastStatus)
	assert.Empty(t, env.inventory.lastSet)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/cards?status=lost", "").Code)
}

func TestGetCard(t *testing.T) {
	env := newTestEnv(nil)

	w := env.do(http.MethodGet, "/api/v1/cards/7", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(7), body["id"])
	assert.Equal(t, "Opt", body["name"])

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/v1/cards/404", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/cards/x", "").Code)
}

func TestAddCard(t *testing.T) {
	env := newTestEnv(nil)

	w := env.do(http.MethodPost, "/api/v1/cards", `{"name":"Opt","set_code":"DOM","price":"0.25","quantity":4}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "0.25", env.inventory.added.Price.String())
	assert.Equal(t, 4, env.inventory.added.Quantity)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/v1/cards", `{"set_code":"DOM"}`).Code)
	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/api/v1/cards", `{"name":"Opt","set_code":"FULL"}`).Code)
}

func TestUpdateCardKeepsNumbersExact(t *testing.T) {
	env := newTestEnv(nil)

	w := env.do(http.MethodPatch, "/api/v1/cards/3", `{"quantity": 2, "price": 1.10}`, ActorHeader, "bob")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, json.Number("2"), env.inventory.fields["quantity"])
	assert.Equal(t, json.Number("1.10"), env.inventory.fields["price"])
	assert.Equal(t, "bob", env.inventory.lastActor)

	w = env.do(http.MethodPatch, "/api/v1/cards/3", `{"owner": "bob"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPatch, "/api/v1/cards/3", `not json`).Code)
}

func TestSellCard(t *testing.T) {
	env := newTestEnv(nil)

	w := env.do(http.MethodPost, "/api/v1/cards/5/sell", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(0), body["quantity"])
	assert.Equal(t, true, body["archived"])

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/v1/cards/404/sell", "").Code)
}

func TestCardAuditAndDelete(t *testing.T) {
	env := newTestEnv(nil)

	w := env.do(http.MethodGet, "/api/v1/cards/5/audit", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["entries"], 1)

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/api/v1/cards/5", "").Code)
}

func TestCreateBinder(t *testing.T) {
	env := newTestEnv(nil)

	w := env.do(http.MethodPost, "/api/v1/storage/binders", `{"set_code":"DOM","pages":2}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, float64(18), decode(t, w)["created_slots"])

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/v1/storage/binders", `{"set_code":"DOM","pages":0}`).Code)
}
