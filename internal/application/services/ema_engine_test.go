package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/AtRiskMedia/presence-go/internal/domain/presence"
	"github.com/AtRiskMedia/presence-go/internal/infrastructure/customer"
)

type recordingBroadcaster struct {
	counts []int
	emas   []float64
}

func (b *recordingBroadcaster) BroadcastMetrics(customerID string, count int, ema float64) {
	b.counts = append(b.counts, count)
	b.emas = append(b.emas, ema)
}

func setActiveCount(store *fakeStore, customerID string, count int) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for k, r := range store.records {
		if r.CustomerID == customerID {
			delete(store.records, k)
		}
	}
	for i := 0; i < count; i++ {
		sessionID := fmt.Sprintf("sess-%d", i)
		store.records[key(customerID, sessionID)] = presence.Record{
			CustomerID: customerID,
			SessionID:  sessionID,
		}
	}
}

func TestEMAEngineTickStream(t *testing.T) {
	store := newFakeStore()
	broadcaster := &recordingBroadcaster{}
	registry := customer.NewRegistry()

	engine := NewEMAEngine(store, nil, broadcaster, registry, 0.2, time.Second, nil)

	samples := []int{10, 10, 10, 20, 20}
	want := []float64{10, 10, 10, 12, 13.6}

	for i, s := range samples {
		setActiveCount(store, "acme", s)

		if err := engine.Tick(context.Background(), "acme"); err != nil {
			t.Fatalf("tick %d: unexpected error: %v", i, err)
		}

		got := broadcaster.emas[i]
		if diff := got - want[i]; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("tick %d: got ema %v, want %v", i, got, want[i])
		}
	}
}

func TestEMAEngineRespectsPerCustomerOverride(t *testing.T) {
	store := newFakeStore()
	broadcaster := &recordingBroadcaster{}
	registry := customer.NewRegistry()
	registry.SetEMAAlpha("acme", 0.5)

	engine := NewEMAEngine(store, nil, broadcaster, registry, 0.2, time.Second, nil)

	setActiveCount(store, "acme", 10)
	engine.Tick(context.Background(), "acme")
	setActiveCount(store, "acme", 20)
	engine.Tick(context.Background(), "acme")

	want := 0.5*20 + 0.5*10
	got := broadcaster.emas[1]
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected override alpha to apply: got %v want %v", got, want)
	}
}
