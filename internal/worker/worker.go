package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tcg-inventory/internal/service"
	"tcg-inventory/internal/util"

	"go.uber.org/zap"
)

// Cycle is one ingestion pass plus its progress snapshot
type Cycle interface {
	RunCycle(ctx context.Context) (service.CycleResult, error)
	RecordSkipped()
	Stats() service.IngestionStats
}

// Config controls the poll schedule
type Config struct {
	Interval      time.Duration
	WindowStart   string
	WindowEnd     string
	ErrorCooldown time.Duration
	Enabled       bool
}

// Status is an advisory view of the worker for operators
type Status struct {
	Enabled  bool                   `json:"enabled"`
	Running  bool                   `json:"running"`
	Window   string                 `json:"window"`
	Interval string                 `json:"interval"`
	Stats    service.IngestionStats `json:"stats"`
}

// IngestionWorker runs ingestion cycles in the background on a fixed
// interval, inside a daily operating window
type IngestionWorker struct {
	cycle       Cycle
	cfg         Config
	windowStart int
	windowEnd   int
	now         func() time.Time
	logger      *zap.Logger

	enabled atomic.Bool
	running atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewIngestionWorker creates a new ingestion worker
func NewIngestionWorker(cycle Cycle, cfg Config) (*IngestionWorker, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", cfg.Interval)
	}
	start, err := parseClock(cfg.WindowStart)
	if err != nil {
		return nil, fmt.Errorf("invalid window start: %w", err)
	}
	end, err := parseClock(cfg.WindowEnd)
	if err != nil {
		return nil, fmt.Errorf("invalid window end: %w", err)
	}

	w := &IngestionWorker{
		cycle:       cycle,
		cfg:         cfg,
		windowStart: start,
		windowEnd:   end,
		now:         time.Now,
		logger:      util.GetLogger(),
		stopCh:      make(chan struct{}),
	}
	w.enabled.Store(cfg.Enabled)
	return w, nil
}

// parseClock turns "HH:MM" into minutes after midnight
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Start launches the poll loop. The first catch-up cycle runs immediately,
// ignoring both the enabled flag and the operating window.
func (w *IngestionWorker) Start(ctx context.Context) {
	w.done = make(chan struct{})
	w.running.Store(true)

	go w.loop(ctx)

	w.logger.Info("Ingestion worker started",
		zap.Duration("interval", w.cfg.Interval),
		zap.String("window", w.window()),
		zap.Bool("enabled", w.IsEnabled()))
}

// Stop asks the loop to finish its current cycle and waits up to timeout
func (w *IngestionWorker) Stop(timeout time.Duration) error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	if w.done == nil {
		return nil
	}

	select {
	case <-w.done:
		w.logger.Info("Ingestion worker stopped")
		return nil
	case <-time.After(timeout):
		return errors.New("ingestion worker did not stop in time")
	}
}

// Enable turns scheduled cycles on
func (w *IngestionWorker) Enable() {
	w.enabled.Store(true)
	w.logger.Info("Ingestion enabled")
}

// Disable turns scheduled cycles off; a cycle in flight still completes
func (w *IngestionWorker) Disable() {
	w.enabled.Store(false)
	w.logger.Info("Ingestion disabled")
}

// IsEnabled reports whether scheduled cycles run
func (w *IngestionWorker) IsEnabled() bool {
	return w.enabled.Load()
}

// Status returns the current worker state
func (w *IngestionWorker) Status() Status {
	return Status{
		Enabled:  w.IsEnabled(),
		Running:  w.running.Load(),
		Window:   w.window(),
		Interval: w.cfg.Interval.String(),
		Stats:    w.cycle.Stats(),
	}
}

func (w *IngestionWorker) loop(ctx context.Context) {
	defer close(w.done)
	defer w.running.Store(false)

	if err := w.safeRun(ctx); err != nil {
		w.cooldown(ctx)
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			ran, err := w.tick(ctx)
			if ran && err != nil {
				w.cooldown(ctx)
			}
		}
	}
}

// tick runs one scheduled cycle if the worker is enabled and inside its
// operating window
func (w *IngestionWorker) tick(ctx context.Context) (bool, error) {
	if !w.IsEnabled() {
		w.cycle.RecordSkipped()
		return false, nil
	}
	if !w.inWindow(w.now()) {
		w.logger.Debug("Outside operating window, skipping cycle", zap.String("window", w.window()))
		w.cycle.RecordSkipped()
		return false, nil
	}
	return true, w.safeRun(ctx)
}

func (w *IngestionWorker) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingestion cycle panicked: %v", r)
			w.logger.Error("Recovered from panic in ingestion cycle", zap.Any("panic", r))
		}
	}()

	_, err = w.cycle.RunCycle(ctx)
	return err
}

func (w *IngestionWorker) cooldown(ctx context.Context) {
	w.logger.Warn("Ingestion cycle failed, cooling down", zap.Duration("cooldown", w.cfg.ErrorCooldown))

	timer := time.NewTimer(w.cfg.ErrorCooldown)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-timer.C:
	}
}

// inWindow reports whether t falls inside the inclusive operating window.
// A window whose end is before its start spans midnight.
func (w *IngestionWorker) inWindow(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	if w.windowStart <= w.windowEnd {
		return m >= w.windowStart && m <= w.windowEnd
	}
	return m >= w.windowStart || m <= w.windowEnd
}

func (w *IngestionWorker) window() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d",
		w.windowStart/60, w.windowStart%60, w.windowEnd/60, w.windowEnd%60)
}
