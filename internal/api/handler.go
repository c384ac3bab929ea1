package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"tcg-inventory/internal/models"
	"tcg-inventory/internal/service"
	"tcg-inventory/internal/store"
	"tcg-inventory/internal/util"
	"tcg-inventory/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ActorHeader names the operator performing a change
const ActorHeader = "X-User"

// OrderManager is the order side of the service layer
type OrderManager interface {
	ListOrders(ctx context.Context, status string) ([]models.OrderWithItems, error)
	GetOrder(ctx context.Context, orderID int64) (*models.OrderWithItems, error)
	DeleteOrder(ctx context.Context, orderID int64) error
	MarkSold(ctx context.Context, orderID int64, actor string) (*service.MarkSoldResult, error)
}

// Inventory is the card side of the service layer
type Inventory interface {
	GetCard(ctx context.Context, cardID int64) (*models.Card, error)
	ListCards(ctx context.Context, status, setCode string) ([]models.Card, error)
	AddCard(ctx context.Context, req *service.AddCardRequest) (*models.Card, error)
	UpdateFields(ctx context.Context, cardID int64, actor string, fields map[string]interface{}) (*models.Card, error)
	Sell(ctx context.Context, cardID int64, actor string) (*service.SellResult, error)
	Delete(ctx context.Context, cardID int64) error
	History(ctx context.Context, cardID int64) ([]models.AuditEntry, error)
	CreateBinder(ctx context.Context, setCode string, pages int) (int, error)
}

// Syncer runs a manual ingestion cycle
type Syncer interface {
	SyncNow(ctx context.Context) service.SyncResult
}

// Scheduler controls the background ingestion
type Scheduler interface {
	Enable()
	Disable()
	IsEnabled() bool
	Status() worker.Status
}

// Handler contains HTTP handlers
type Handler struct {
	orders       OrderManager
	inventory    Inventory
	syncer       Syncer
	scheduler    Scheduler
	ready        func(ctx context.Context) error
	defaultActor string
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders OrderManager,
	inventory Inventory,
	syncer Syncer,
	scheduler Scheduler,
	ready func(ctx context.Context) error,
	defaultActor string,
) *Handler {
	return &Handler{
		orders:       orders,
		inventory:    inventory,
		syncer:       syncer,
		scheduler:    scheduler,
		ready:        ready,
		defaultActor: defaultActor,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	// PATCH bodies are decoded into a field map; keep numbers as json.Number
	binding.EnableDecoderUseNumber = true

	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/sync", h.syncNow)
		v1.GET("/sync/status", h.syncStatus)
		v1.POST("/sync/enable", h.enableSync)
		v1.POST("/sync/disable", h.disableSync)

		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.DELETE("/orders/:id", h.deleteOrder)
		v1.POST("/orders/:id/mark-sold", h.markSold)

		v1.GET("/cards", h.listCards)
		v1.GET("/cards/:id", h.getCard)
		v1.POST("/cards", h.addCard)
		v1.PATCH("/cards/:id", h.updateCard)
		v1.POST("/cards/:id/sell", h.sellCard)
		v1.DELETE("/cards/:id", h.deleteCard)
		v1.GET("/cards/:id/audit", h.cardAudit)

		v1.POST("/storage/binders", h.createBinder)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports whether the database is reachable
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"details": err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) syncNow(c *gin.Context) {
	result := h.syncer.SyncNow(c.Request.Context())
	status := http.StatusOK
	if !result.OK {
		status = http.StatusBadGateway
	}
	c.JSON(status, result)
}

func (h *Handler) syncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Status())
}

func (h *Handler) enableSync(c *gin.Context) {
	h.scheduler.Enable()
	c.JSON(http.StatusOK, gin.H{"enabled": h.scheduler.IsEnabled()})
}

func (h *Handler) disableSync(c *gin.Context) {
	h.scheduler.Disable()
	c.JSON(http.StatusOK, gin.H{"enabled": h.scheduler.IsEnabled()})
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), c.DefaultQuery("status", models.OrderStatusOpen))
	if err != nil {
		writeError(c, "Failed to list orders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c, "Invalid order ID")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, "Order not found", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) deleteOrder(c *gin.Context) {
	orderID, ok := pathID(c, "Invalid order ID")
	if !ok {
		return
	}

	if err := h.orders.DeleteOrder(c.Request.Context(), orderID); err != nil {
		writeError(c, "Failed to delete order", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) markSold(c *gin.Context) {
	orderID, ok := pathID(c, "Invalid order ID")
	if !ok {
		return
	}

	result, err := h.orders.MarkSold(c.Request.Context(), orderID, h.actor(c))
	if err != nil {
		writeError(c, "Failed to mark order sold", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) listCards(c *gin.Context) {
	cards, err := h.inventory.ListCards(c.Request.Context(), c.Query("status"), c.Query("set_code"))
	if err != nil {
		writeError(c, "Failed to list cards", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cards": cards})
}

func (h *Handler) getCard(c *gin.Context) {
	cardID, ok := pathID(c, "Invalid card ID")
	if !ok {
		return
	}

	card, err := h.inventory.GetCard(c.Request.Context(), cardID)
	if err != nil {
		writeError(c, "Card not found", err)
		return
	}
	c.JSON(http.StatusOK, card)
}

func (h *Handler) addCard(c *gin.Context) {
	var req service.AddCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	card, err := h.inventory.AddCard(c.Request.Context(), &req)
	if err != nil {
		writeError(c, "Failed to add card", err)
		return
	}
	c.JSON(http.StatusCreated, card)
}

func (h *Handler) updateCard(c *gin.Context) {
	cardID, ok := pathID(c, "Invalid card ID")
	if !ok {
		return
	}

	fields := map[string]interface{}{}
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	card, err := h.inventory.UpdateFields(c.Request.Context(), cardID, h.actor(c), fields)
	if err != nil {
		writeError(c, "Failed to update card", err)
		return
	}
	c.JSON(http.StatusOK, card)
}

func (h *Handler) sellCard(c *gin.Context) {
	cardID, ok := pathID(c, "Invalid card ID")
	if !ok {
		return
	}

	result, err := h.inventory.Sell(c.Request.Context(), cardID, h.actor(c))
	if err != nil {
		writeError(c, "Failed to sell card", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) deleteCard(c *gin.Context) {
	cardID, ok := pathID(c, "Invalid card ID")
	if !ok {
		return
	}

	if err := h.inventory.Delete(c.Request.Context(), cardID); err != nil {
		writeError(c, "Failed to delete card", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) cardAudit(c *gin.Context) {
	cardID, ok := pathID(c, "Invalid card ID")
	if !ok {
		return
	}

	entries, err := h.inventory.History(c.Request.Context(), cardID)
	if err != nil {
		writeError(c, "Failed to load audit history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// CreateBinderRequest represents a request to register a new binder
type CreateBinderRequest struct {
	SetCode string `json:"set_code" binding:"required"`
	Pages   int    `json:"pages" binding:"required,min=1"`
}

func (h *Handler) createBinder(c *gin.Context) {
	var req CreateBinderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	created, err := h.inventory.CreateBinder(c.Request.Context(), req.SetCode, req.Pages)
	if err != nil {
		writeError(c, "Failed to create binder", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"set_code":      req.SetCode,
		"pages":         req.Pages,
		"created_slots": created,
	})
}

func (h *Handler) actor(c *gin.Context) string {
	if user := c.GetHeader(ActorHeader); user != "" {
		return user
	}
	return h.defaultActor
}

func pathID(c *gin.Context, message string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": message})
		return 0, false
	}
	return id, true
}

// writeError maps service errors onto HTTP status codes
func writeError(c *gin.Context, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidField):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrNoFreeSlot):
		status = http.StatusConflict
	}

	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
