package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AtRiskMedia/presence-go/internal/domain/presence"
	"github.com/AtRiskMedia/presence-go/internal/infrastructure/customer"
)

// EMAStore is the subset of the presence store the EMA engine needs:
// sampling the active count and persisting the smoothed value.
type EMAStore interface {
	GetActiveCount(ctx context.Context, customerID string) (int, error)
	GetEMA(ctx context.Context, customerID string) (float64, bool, error)
	SetEMA(ctx context.Context, customerID string, value float64) error
}

// MetricsPublisher publishes a metrics sample for horizontally scaled
// deployments to pick up.
type MetricsPublisher interface {
	PublishMetrics(ctx context.Context, customerID string, timestamp time.Time, count int, ema float64) error
}

// Broadcaster is the websocket fleet's fan-out surface, as consumed
// by the EMA engine.
type Broadcaster interface {
	BroadcastMetrics(customerID string, count int, ema float64)
}

// EMAEngine periodically samples each known customer's active count
// and computes the customer's exponentially smoothed live count,
// fanning the result out over the websocket fleet and the pub/sub
// channel.
type EMAEngine struct {
	store       EMAStore
	publisher   MetricsPublisher
	fleet       Broadcaster
	registry    *customer.Registry
	defaultAlpha float64
	interval    time.Duration
	logger      *slog.Logger

	tickMu   sync.Mutex
	lastTick map[string]time.Time
}

// NewEMAEngine creates an engine ticking at interval with the given
// default smoothing factor; per-customer overrides come from the
// registry.
func NewEMAEngine(store EMAStore, publisher MetricsPublisher, fleet Broadcaster, registry *customer.Registry, defaultAlpha float64, interval time.Duration, logger *slog.Logger) *EMAEngine {
	return &EMAEngine{
		store:        store,
		publisher:    publisher,
		fleet:        fleet,
		registry:     registry,
		defaultAlpha: defaultAlpha,
		interval:     interval,
		logger:       logger,
		lastTick:     make(map[string]time.Time),
	}
}

// LastTick reports when a customer's EMA was last advanced, if ever.
func (e *EMAEngine) LastTick(customerID string) (time.Time, bool) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	t, ok := e.lastTick[customerID]
	return t, ok
}

// Run ticks until ctx is canceled, sampling every known customer on
// each tick.
func (e *EMAEngine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tickAll(ctx)
		}
	}
}

func (e *EMAEngine) tickAll(ctx context.Context) {
	for _, customerID := range e.registry.Known() {
		if err := e.Tick(ctx, customerID); err != nil && e.logger != nil {
			e.logger.Error("ema tick failed", "customerId", customerID, "error", err)
		}
	}
}

// Tick samples a single customer's active count, advances its EMA,
// persists it, and fans the result out.
func (e *EMAEngine) Tick(ctx context.Context, customerID string) error {
	count, err := e.store.GetActiveCount(ctx, customerID)
	if err != nil {
		return err
	}

	prevValue, hasPrev, err := e.store.GetEMA(ctx, customerID)
	if err != nil {
		return err
	}

	alpha := e.defaultAlpha
	if e.registry != nil {
		alpha = e.registry.EMAAlpha(customerID, e.defaultAlpha)
	}

	var prevPtr *float64
	if hasPrev {
		prevPtr = &prevValue
	}
	ema := presence.NextEMA(prevPtr, float64(count), alpha)

	if err := e.store.SetEMA(ctx, customerID, ema); err != nil {
		return err
	}

	now := time.Now().UTC()

	e.tickMu.Lock()
	e.lastTick[customerID] = now
	e.tickMu.Unlock()

	if e.publisher != nil {
		if err := e.publisher.PublishMetrics(ctx, customerID, now, count, ema); err != nil && e.logger != nil {
			e.logger.Error("ema publish failed", "customerId", customerID, "error", err)
		}
	}
	if e.fleet != nil {
		e.fleet.BroadcastMetrics(customerID, count, ema)
	}

	return nil
}
