package services

import (
	"context"
	"testing"

	"github.com/AtRiskMedia/presence-go/internal/domain/presence"
	"github.com/AtRiskMedia/presence-go/internal/infrastructure/customer"
)

func newTestService() (*PresenceService, *fakeStore, *fakeResolver) {
	store := newFakeStore()
	resolver := newFakeResolver()
	registry := customer.NewRegistry()
	return NewPresenceService(store, resolver, registry, nil), store, resolver
}

func TestJoinRejectsMissingFields(t *testing.T) {
	svc, _, _ := newTestService()
	err := svc.Join(context.Background(), JoinRequest{CustomerID: "acme"})
	if err != ErrMissingFields {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
}

func TestJoinCreatesRecordWithActiveMode(t *testing.T) {
	svc, store, _ := newTestService()
	req := JoinRequest{CustomerID: "acme", SessionID: "s1", TabID: "t1"}
	if err := svc.Join(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, ok, _ := store.Get(context.Background(), "acme", "s1")
	if !ok {
		t.Fatalf("expected record to exist")
	}
	if rec.SessionMode != presence.ModeActive {
		t.Fatalf("expected default active mode, got %s", rec.SessionMode)
	}
}

func TestJoinPreservesDeviceFieldsOnOmission(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	first := JoinRequest{
		CustomerID: "acme", SessionID: "s1", TabID: "t1",
		Device: presence.DeviceMobile, TotalTabQuantity: 2,
	}
	if err := svc.Join(ctx, first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := JoinRequest{
		CustomerID: "acme", SessionID: "s1", TabID: "t1",
		SessionMode: presence.ModePassiveActive,
	}
	if err := svc.Join(ctx, second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, _, _ := store.Get(ctx, "acme", "s1")
	if rec.Device != presence.DeviceMobile {
		t.Fatalf("expected device to be preserved from first join, got %q", rec.Device)
	}
	if rec.TotalTabQuantity != 2 {
		t.Fatalf("expected tab quantity to be preserved, got %d", rec.TotalTabQuantity)
	}
	if rec.SessionMode != presence.ModePassiveActive {
		t.Fatalf("expected mode to update to passive_active, got %s", rec.SessionMode)
	}
}

func TestJoinCancelsDisconnectTimer(t *testing.T) {
	svc, _, resolver := newTestService()
	resolver.Schedule("acme", "s1")

	if err := svc.Join(context.Background(), JoinRequest{CustomerID: "acme", SessionID: "s1", TabID: "t1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolver.isScheduled("acme", "s1") {
		t.Fatalf("expected JOIN to cancel the pending disconnect timer")
	}
}

func TestLeaveRemovesExistingRecord(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	svc.Join(ctx, JoinRequest{CustomerID: "acme", SessionID: "s1", TabID: "t1"})

	outcome, err := svc.Leave(ctx, LeaveRequest{CustomerID: "acme", SessionID: "s1", TabID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != LeaveProcessed {
		t.Fatalf("expected LeaveProcessed, got %v", outcome)
	}
	if _, ok, _ := store.Get(ctx, "acme", "s1"); ok {
		t.Fatalf("expected record to be removed")
	}
}

func TestLeaveOnAbsentRecordWritesTombstone(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	outcome, err := svc.Leave(ctx, LeaveRequest{CustomerID: "acme", SessionID: "s1", TabID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != LeaveProcessed {
		t.Fatalf("expected LeaveProcessed, got %v", outcome)
	}
	has, _ := store.HasLeaveTombstone(ctx, "acme", "s1", "t1")
	if !has {
		t.Fatalf("expected a leave tombstone for an absent record")
	}
}

func TestLeaveMissingIdentifiersIsDismissalSafe(t *testing.T) {
	svc, _, _ := newTestService()
	outcome, err := svc.Leave(context.Background(), LeaveRequest{})
	if err != ErrDismissalSafe {
		t.Fatalf("expected ErrDismissalSafe, got %v", err)
	}
	if outcome != LeaveDismissed {
		t.Fatalf("expected LeaveDismissed, got %v", outcome)
	}
}

func TestLeaveDuplicateViaLeaveIDIsAbsorbed(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	svc.Join(ctx, JoinRequest{CustomerID: "acme", SessionID: "s1", TabID: "t1"})

	req := LeaveRequest{CustomerID: "acme", SessionID: "s1", TabID: "t1", LeaveID: "lv-1"}
	outcome, err := svc.Leave(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != LeaveProcessed {
		t.Fatalf("expected first leave to be LeaveProcessed, got %v", outcome)
	}

	svc.Join(ctx, JoinRequest{CustomerID: "acme", SessionID: "s1", TabID: "t1"})
	outcome, err = svc.Leave(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error on duplicate leave: %v", err)
	}
	if outcome != LeaveDismissed {
		t.Fatalf("expected duplicate leave to be LeaveDismissed, got %v", outcome)
	}
	if _, ok, _ := store.Get(ctx, "acme", "s1"); !ok {
		t.Fatalf("duplicate LEAVE must be absorbed, not reprocessed")
	}
}

func TestRefreshTTLCreatesFreshRecordWhenMissing(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	if err := svc.RefreshTTL(ctx, "acme", "s1", "t1", presence.ModeActive); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "acme", "s1"); !ok {
		t.Fatalf("expected a fresh record to be created on ttl refresh for a missing key")
	}
}
