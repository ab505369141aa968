package presence

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AtRiskMedia/presence-go/internal/infrastructure/config"
)

// RemoveFunc removes a presence record; GetTTLFunc reads its
// remaining TTL. The resolver is decoupled from the store's concrete
// type so it can be unit tested against a fake.
type RemoveFunc func(ctx context.Context, customerID, sessionID string) error
type GetTTLFunc func(ctx context.Context, customerID, sessionID string) (time.Duration, error)

// DisconnectResolver implements the two-stage timer that defeats
// transient mobile/tablet reconnects: a short grace window to absorb
// an immediate re-JOIN, followed by a verify-then-remove pass that
// only deletes the key if nothing reset its TTL in the meantime.
// Desktop sessions never reach this resolver; TTL alone governs them.
type DisconnectResolver struct {
	mu     sync.Mutex
	timers map[string]*time.Timer

	getTTL GetTTLFunc
	remove RemoveFunc
	logger *slog.Logger
}

// NewDisconnectResolver creates a resolver backed by the given store
// operations.
func NewDisconnectResolver(getTTL GetTTLFunc, remove RemoveFunc, logger *slog.Logger) *DisconnectResolver {
	return &DisconnectResolver{
		timers: make(map[string]*time.Timer),
		getTTL: getTTL,
		remove: remove,
		logger: logger,
	}
}

func sessionKey(customerID, sessionID string) string {
	return customerID + ":" + sessionID
}

// Schedule starts (or restarts) the two-stage disconnect sequence for
// a session. Any previously pending timer for the same session is
// replaced.
func (r *DisconnectResolver) Schedule(customerID, sessionID string) {
	key := sessionKey(customerID, sessionID)

	r.mu.Lock()
	if existing, ok := r.timers[key]; ok {
		existing.Stop()
	}
	timer := time.AfterFunc(config.DisconnectGraceWindow, func() {
		r.verifyAndRemove(customerID, sessionID)
	})
	r.timers[key] = timer
	r.mu.Unlock()
}

// Cancel aborts any pending disconnect sequence for a session,
// called when a JOIN or auth arrives before the grace window lapses.
func (r *DisconnectResolver) Cancel(customerID, sessionID string) {
	key := sessionKey(customerID, sessionID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if timer, ok := r.timers[key]; ok {
		timer.Stop()
		delete(r.timers, key)
	}
}

func (r *DisconnectResolver) verifyAndRemove(customerID, sessionID string) {
	key := sessionKey(customerID, sessionID)

	r.mu.Lock()
	delete(r.timers, key)
	verifyTimer := time.AfterFunc(config.DisconnectVerifyDelay, func() {
		r.finalize(customerID, sessionID)
	})
	r.timers[key] = verifyTimer
	r.mu.Unlock()
}

func (r *DisconnectResolver) finalize(customerID, sessionID string) {
	key := sessionKey(customerID, sessionID)

	r.mu.Lock()
	delete(r.timers, key)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ttl, err := r.getTTL(ctx, customerID, sessionID)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("disconnect resolver failed to read ttl", "error", err, "customerId", customerID, "sessionId", sessionID)
		}
		return
	}

	if ttl > config.DisconnectTTLThreshold {
		// A JOIN must have reset the TTL in the meantime; the user
		// reconnected.
		return
	}

	if err := r.remove(ctx, customerID, sessionID); err != nil && r.logger != nil {
		r.logger.Error("disconnect resolver failed to remove record", "error", err, "customerId", customerID, "sessionId", sessionID)
	}
}

// Pending reports whether a disconnect sequence is currently running
// for a session, for diagnostics and tests.
func (r *DisconnectResolver) Pending(customerID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[sessionKey(customerID, sessionID)]
	return ok
}

// PendingCount returns the number of sessions currently mid-disconnect
// for a customer, for the admin snapshot endpoint.
func (r *DisconnectResolver) PendingCount(customerID string) int {
	prefix := customerID + ":"

	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for key := range r.timers {
		if strings.HasPrefix(key, prefix) {
			count++
		}
	}
	return count
}
