package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tcg-inventory/internal/broker"
	"tcg-inventory/internal/mailclient"
	"tcg-inventory/internal/models"
	"tcg-inventory/internal/parser"
	"tcg-inventory/internal/util"

	"go.uber.org/zap"
)

// Cycle results as reported by Stats and the cycle metric
const (
	CycleResultOK      = "ok"
	CycleResultError   = "error"
	CycleResultSkipped = "skipped"
)

type messageOutcome int

const (
	outcomeSkipped messageOutcome = iota
	outcomeEmpty
	outcomeDuplicate
	outcomeCreated
)

// CycleResult counts what one ingestion cycle did
type CycleResult struct {
	Listed     int `json:"listed"`
	NewOrders  int `json:"new_orders"`
	Duplicates int `json:"duplicates"`
	Empty      int `json:"empty"`
	Skipped    int `json:"skipped"`
}

// SyncResult is the outcome of a manually triggered cycle
type SyncResult struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message"`
	NewOrders int    `json:"new_orders"`
}

// IngestionStats is an advisory snapshot of the ingestion progress
type IngestionStats struct {
	ProcessedIDs   int        `json:"processed_ids"`
	LastCycleAt    *time.Time `json:"last_cycle_at,omitempty"`
	LastResult     string     `json:"last_result,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	LastNewOrders  int        `json:"last_new_orders"`
	TotalCycles    int        `json:"total_cycles"`
	TotalNewOrders int        `json:"total_new_orders"`
}

// IngestionService turns order notification emails into persisted orders.
// The order table's message id constraint is the idempotency guard; the
// processed set only saves transport calls within one process.
type IngestionService struct {
	transport Transport
	orders    OrderStore
	matcher   *CardMatcher
	parser    *parser.Parser
	publisher broker.Publisher
	filter    mailclient.Filter
	logger    *zap.Logger

	cycleMu sync.Mutex

	mu        sync.RWMutex
	processed map[string]struct{}
	stats     IngestionStats
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(
	transport Transport,
	orders OrderStore,
	matcher *CardMatcher,
	publisher broker.Publisher,
	filter mailclient.Filter,
) *IngestionService {
	if publisher == nil {
		publisher = broker.NopPublisher{}
	}
	return &IngestionService{
		transport: transport,
		orders:    orders,
		matcher:   matcher,
		parser:    parser.NewDefault(),
		publisher: publisher,
		filter:    filter,
		logger:    util.GetLogger(),
		processed: make(map[string]struct{}),
	}
}

// RunCycle fetches the candidate messages once and ingests each of them in
// listing order. A transport or store failure abandons the rest of the
// cycle; unhandled messages are picked up again next time.
func (s *IngestionService) RunCycle(ctx context.Context) (res CycleResult, err error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	ctx, span := util.StartSpan(ctx, "IngestionService.RunCycle")
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingestion cycle panicked: %v", r)
		}

		result := CycleResultOK
		if err != nil {
			result = CycleResultError
			s.logger.Error("Ingestion cycle failed", zap.Error(err))
		}
		util.IngestionCyclesTotal.WithLabelValues(result).Inc()
		util.IngestionCycleLatency.Observe(time.Since(start).Seconds())
		s.recordCycle(start, res, err)
		util.EndSpan(span, err)
	}()

	ids, err := s.transport.ListCandidateMessages(ctx, s.filter)
	if err != nil {
		return res, fmt.Errorf("failed to list messages: %w", err)
	}

	for _, id := range ids {
		if s.isProcessed(id) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Listed++

		outcome, err := s.processMessage(ctx, id)
		if err != nil {
			return res, err
		}

		switch outcome {
		case outcomeCreated:
			res.NewOrders++
		case outcomeDuplicate:
			res.Duplicates++
		case outcomeEmpty:
			res.Empty++
		case outcomeSkipped:
			res.Skipped++
		}
	}

	if res.Listed > 0 {
		s.logger.Info("Ingestion cycle finished",
			zap.Int("messages", res.Listed),
			zap.Int("new_orders", res.NewOrders),
			zap.Int("duplicates", res.Duplicates),
			zap.Int("empty", res.Empty),
			zap.Int("skipped", res.Skipped))
	}
	return res, nil
}

// SyncNow runs one cycle regardless of schedule and reports the outcome in
// operator-readable form
func (s *IngestionService) SyncNow(ctx context.Context) SyncResult {
	res, err := s.RunCycle(ctx)
	if err != nil {
		return SyncResult{
			OK:        false,
			Message:   fmt.Sprintf("Error syncing orders: %v", err),
			NewOrders: res.NewOrders,
		}
	}
	if res.NewOrders > 0 {
		return SyncResult{
			OK:        true,
			Message:   fmt.Sprintf("Successfully imported %d new order(s)", res.NewOrders),
			NewOrders: res.NewOrders,
		}
	}
	return SyncResult{OK: true, Message: "No new orders found"}
}

// Stats returns a snapshot of the ingestion progress
func (s *IngestionService) Stats() IngestionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.stats
	stats.ProcessedIDs = len(s.processed)
	return stats
}

// RecordSkipped notes a scheduled cycle that did not run
func (s *IngestionService) RecordSkipped() {
	util.IngestionCyclesTotal.WithLabelValues(CycleResultSkipped).Inc()
}

func (s *IngestionService) processMessage(ctx context.Context, id string) (messageOutcome, error) {
	logger := s.logger.With(zap.String("message_id", id))

	msg, err := s.transport.GetMessage(ctx, id)
	if errors.Is(err, mailclient.ErrEmptyBody) {
		logger.Warn("Skipping message without readable body")
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeSkipped, fmt.Errorf("failed to fetch message %s: %w", id, err)
	}

	parsed := s.parser.Parse(msg.Body, msg.ID, msg.Subject, optionalTime(msg.ReceivedAt))

	if len(parsed.Items) == 0 {
		util.EmptyMessagesTotal.Inc()
		logger.Info("Message contains no order items", zap.String("subject", msg.Subject))
		s.markHandled(ctx, id)
		return outcomeEmpty, nil
	}

	items := make([]models.OrderItem, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		loc, err := s.matcher.Locate(ctx, it.CardName)
		if err != nil {
			return outcomeSkipped, err
		}
		items = append(items, models.OrderItem{
			CardName:    it.CardName,
			Quantity:    it.Quantity,
			ImageURL:    loc.ImageURL,
			StorageCode: loc.StorageCode,
		})
	}

	order := &models.Order{
		MessageID:  id,
		BuyerName:  parsed.BuyerName,
		ReceivedAt: time.Now().UTC(),
		SourceDate: parsed.SourceDate,
		Status:     models.OrderStatusOpen,
	}

	created, err := s.orders.CreateOrderWithItems(ctx, order, items)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("failed to persist order for message %s: %w", id, err)
	}

	if !created {
		util.DuplicateMessagesTotal.Inc()
		logger.Info("Order already ingested for message")
		s.markHandled(ctx, id)
		return outcomeDuplicate, nil
	}

	util.OrdersIngestedTotal.Inc()
	logger.Info("Order ingested",
		zap.Int64("order_id", order.ID),
		zap.String("buyer", order.BuyerName),
		zap.Int("items", len(items)))

	s.publishIngested(ctx, order, items)
	s.markHandled(ctx, id)
	return outcomeCreated, nil
}

// markHandled labels the message at the transport and remembers the id.
// A failure leaves the id unrecorded so a later cycle retries the mark.
func (s *IngestionService) markHandled(ctx context.Context, id string) {
	if err := s.transport.MarkHandled(ctx, id); err != nil {
		s.logger.Warn("Failed to mark message handled",
			zap.String("message_id", id),
			zap.Error(err))
		return
	}

	s.mu.Lock()
	s.processed[id] = struct{}{}
	s.mu.Unlock()
}

func (s *IngestionService) isProcessed(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processed[id]
	return ok
}

func (s *IngestionService) recordCycle(start time.Time, res CycleResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := start
	s.stats.LastCycleAt = &at
	s.stats.TotalCycles++
	s.stats.LastNewOrders = res.NewOrders
	s.stats.TotalNewOrders += res.NewOrders
	s.stats.LastError = ""
	s.stats.LastResult = CycleResultOK
	if err != nil {
		s.stats.LastResult = CycleResultError
		s.stats.LastError = err.Error()
	}
}

func (s *IngestionService) publishIngested(ctx context.Context, order *models.Order, items []models.OrderItem) {
	data := make([]models.OrderItemData, 0, len(items))
	for _, it := range items {
		data = append(data, models.OrderItemData{
			CardName:    it.CardName,
			Quantity:    it.Quantity,
			StorageCode: derefString(it.StorageCode),
		})
	}

	event := &models.OrderIngestedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeOrderIngested),
		OrderID:   order.ID,
		MessageID: order.MessageID,
		BuyerName: order.BuyerName,
		Items:     data,
	}
	if err := s.publisher.PublishOrderIngested(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderIngested event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
