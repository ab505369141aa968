// Package services holds the application-layer orchestration that
// sits between the HTTP/WebSocket boundary and the presence store:
// JOIN/BEAT/LEAVE handling, TTL refresh, and disconnect cleanup.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AtRiskMedia/presence-go/internal/domain/presence"
	"github.com/AtRiskMedia/presence-go/internal/infrastructure/config"
	"github.com/AtRiskMedia/presence-go/internal/infrastructure/customer"
)

// ErrMissingFields is returned when a JOIN request omits one of the
// required identifiers; handlers map it to 400.
var ErrMissingFields = errors.New("missing required fields")

// ErrDismissalSafe is returned when a LEAVE request cannot be parsed
// or is missing identifiers; handlers map it to 204 rather than an
// error page, since LEAVE must stay dismissal-safe during unload
// races.
var ErrDismissalSafe = errors.New("dismissal safe: unparseable or missing identifiers")

// LeaveOutcome tells the caller whether a LEAVE actually did
// anything, so the REST handler can distinguish a processed request
// (200) from one that was absorbed without effect (204): a duplicate
// X-Leave-Id, or missing/unparseable identifiers.
type LeaveOutcome int

const (
	LeaveDismissed LeaveOutcome = iota
	LeaveProcessed
)

// Store is the presence-service's view of the presence store. It is
// satisfied structurally by *presenceinfra.Store and by the
// in-memory fake used in tests.
type Store interface {
	Set(ctx context.Context, record presence.Record) error
	Get(ctx context.Context, customerID, sessionID string) (presence.Record, bool, error)
	Update(ctx context.Context, record presence.Record) error
	RefreshTTL(ctx context.Context, customerID, sessionID string, newMode presence.SessionMode) (bool, error)
	Remove(ctx context.Context, customerID, sessionID string) error
	GetKeyTTL(ctx context.Context, customerID, sessionID string) (time.Duration, error)
	GetActiveSessions(ctx context.Context, customerID string) ([]string, error)
	GetActiveCount(ctx context.Context, customerID string) (int, error)
	SetEMA(ctx context.Context, customerID string, value float64) error
	GetEMA(ctx context.Context, customerID string) (float64, bool, error)
	MarkLeaveSeen(ctx context.Context, leaveID string, ttl time.Duration) (bool, error)
	SetLeaveTombstone(ctx context.Context, customerID, sessionID, tabID string, ttl time.Duration) error
	HasLeaveTombstone(ctx context.Context, customerID, sessionID, tabID string) (bool, error)
}

// DisconnectScheduler is the two-stage timer resolver's surface, as
// consumed by the service.
type DisconnectScheduler interface {
	Schedule(customerID, sessionID string)
	Cancel(customerID, sessionID string)
}

// JoinRequest mirrors the REST/WebSocket JOIN payload.
type JoinRequest struct {
	CustomerID                 string
	SessionID                  string
	TabID                      string
	Platform                   string
	Browser                    string
	Device                     presence.Device
	DesktopMode                bool
	TotalTabQuantity           int
	TotalBackgroundTabQuantity int
	SessionMode                presence.SessionMode
}

// LeaveRequest mirrors the REST LEAVE payload.
type LeaveRequest struct {
	CustomerID string
	SessionID  string
	TabID      string
	Mode       presence.LeaveMode
	Reason     presence.LeaveReason
	LeaveID    string
}

// PresenceService implements JOIN, BEAT, LEAVE, TTL refresh, and
// disconnect cleanup on top of the presence store. It also satisfies
// the websocket fleet's AuthHandler interface, so one service
// instance backs both transports.
type PresenceService struct {
	store      Store
	resolver   DisconnectScheduler
	registry   *customer.Registry
	logger     *slog.Logger
}

// NewPresenceService wires a store, disconnect resolver, and
// customer registry into a presence service.
func NewPresenceService(store Store, resolver DisconnectScheduler, registry *customer.Registry, logger *slog.Logger) *PresenceService {
	return &PresenceService{store: store, resolver: resolver, registry: registry, logger: logger}
}

// Join handles JOIN: it merges the incoming payload over any
// existing record (preserving device/tab-count fields the payload
// omits), cancels a pending disconnect timer, and writes with a full
// TTL reset.
func (s *PresenceService) Join(ctx context.Context, req JoinRequest) error {
	if req.CustomerID == "" || req.SessionID == "" || req.TabID == "" {
		return ErrMissingFields
	}

	s.resolver.Cancel(req.CustomerID, req.SessionID)
	if s.registry != nil {
		s.registry.Observe(req.CustomerID)
	}

	incoming := presence.Record{
		CustomerID:                 req.CustomerID,
		SessionID:                  req.SessionID,
		TabID:                      req.TabID,
		IsLeader:                   true,
		Platform:                   req.Platform,
		Browser:                    req.Browser,
		Device:                     req.Device,
		DesktopMode:                req.DesktopMode,
		TotalTabQuantity:           req.TotalTabQuantity,
		TotalBackgroundTabQuantity: req.TotalBackgroundTabQuantity,
		SessionMode:                req.SessionMode,
	}

	existing, ok, err := s.store.Get(ctx, req.CustomerID, req.SessionID)
	if err != nil {
		return fmt.Errorf("join: read existing record: %w", err)
	}

	var merged presence.Record
	if ok {
		merged = existing.Merge(incoming)
	} else {
		merged = incoming
		merged.CreatedAt = time.Now().UTC()
	}
	if merged.SessionMode == "" {
		merged.SessionMode = presence.ModeActive
	}

	return s.store.Set(ctx, merged)
}

// Beat handles the legacy BEAT operation: update-keep-ttl if a
// record exists, otherwise create one with the default TTL.
func (s *PresenceService) Beat(ctx context.Context, req JoinRequest) error {
	if req.CustomerID == "" || req.SessionID == "" || req.TabID == "" {
		return ErrMissingFields
	}

	record := presence.Record{
		CustomerID:  req.CustomerID,
		SessionID:   req.SessionID,
		TabID:       req.TabID,
		IsLeader:    true,
		SessionMode: req.SessionMode,
	}
	if record.SessionMode == "" {
		record.SessionMode = presence.ModeActive
	}

	return s.store.Update(ctx, record)
}

// Leave handles LEAVE: duplicate suppression via X-Leave-Id, removal
// of an existing record, or a short tombstone if none exists so a
// stale late JOIN can be recognized. The returned outcome tells the
// caller whether the request actually did anything (LeaveProcessed)
// or was absorbed as a duplicate or dismissal-safe no-op
// (LeaveDismissed).
func (s *PresenceService) Leave(ctx context.Context, req LeaveRequest) (LeaveOutcome, error) {
	if req.LeaveID != "" {
		alreadySeen, err := s.store.MarkLeaveSeen(ctx, req.LeaveID, config.SeenLeaveTTL)
		if err != nil {
			return LeaveDismissed, fmt.Errorf("leave: mark leave seen: %w", err)
		}
		if alreadySeen {
			return LeaveDismissed, nil
		}
	}

	if req.CustomerID == "" || req.SessionID == "" {
		return LeaveDismissed, ErrDismissalSafe
	}

	_, ok, err := s.store.Get(ctx, req.CustomerID, req.SessionID)
	if err != nil {
		return LeaveDismissed, fmt.Errorf("leave: read record: %w", err)
	}

	if ok {
		if err := s.store.Remove(ctx, req.CustomerID, req.SessionID); err != nil {
			return LeaveDismissed, fmt.Errorf("leave: remove record: %w", err)
		}
		if s.logger != nil {
			s.logger.Debug("leave removed record", "customerId", req.CustomerID, "sessionId", req.SessionID, "mode", req.Mode, "reason", req.Reason)
		}
		return LeaveProcessed, nil
	}

	if err := s.store.SetLeaveTombstone(ctx, req.CustomerID, req.SessionID, req.TabID, config.LeaveTombstoneTTL); err != nil {
		return LeaveDismissed, fmt.Errorf("leave: set tombstone: %w", err)
	}
	return LeaveProcessed, nil
}

// RefreshTTL handles both the WebSocket ttl_refresh message and the
// polling-mode TTL refresh carried as a JOIN body. If the payload
// carries a new session_mode it is persisted first; the key's TTL is
// then extended to that mode's policy value. A missing record is not
// an error: a fresh one is created from whatever the payload carries
// rather than failing the caller.
func (s *PresenceService) RefreshTTL(ctx context.Context, customerID, sessionID, tabID string, mode presence.SessionMode) error {
	ok, err := s.store.RefreshTTL(ctx, customerID, sessionID, mode)
	if err != nil {
		return fmt.Errorf("refresh ttl: %w", err)
	}
	if ok {
		return nil
	}

	if s.logger != nil {
		s.logger.Warn("ttl refresh for missing record, creating fresh record", "customerId", customerID, "sessionId", sessionID)
	}

	fresh := presence.Record{
		CustomerID:  customerID,
		SessionID:   sessionID,
		TabID:       tabID,
		IsLeader:    true,
		SessionMode: mode,
		CreatedAt:   time.Now().UTC(),
	}
	if fresh.SessionMode == "" {
		fresh.SessionMode = presence.ModeActive
	}
	return s.store.Set(ctx, fresh)
}

// Authenticate satisfies the websocket fleet's AuthHandler: it looks
// up the record's device tag (if one exists yet) so the fleet can
// decide disconnect policy on close.
func (s *PresenceService) Authenticate(ctx context.Context, customerID, sessionID, tabID string) (presence.Device, error) {
	record, ok, err := s.store.Get(ctx, customerID, sessionID)
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}
	if !ok {
		return "", nil
	}
	return record.Device, nil
}

// CancelDisconnect satisfies the fleet's AuthHandler.
func (s *PresenceService) CancelDisconnect(customerID, sessionID string) {
	s.resolver.Cancel(customerID, sessionID)
}

// ScheduleDisconnect satisfies the fleet's AuthHandler. The fleet has
// already filtered to mobile/tablet devices before calling this;
// desktop sessions rely on TTL alone.
func (s *PresenceService) ScheduleDisconnect(customerID, sessionID string, device presence.Device) {
	s.resolver.Schedule(customerID, sessionID)
}

// Metrics returns the current count and EMA for a customer, used by
// the polling REST endpoint.
func (s *PresenceService) Metrics(ctx context.Context, customerID string) (count int, ema float64, err error) {
	count, err = s.store.GetActiveCount(ctx, customerID)
	if err != nil {
		return 0, 0, fmt.Errorf("metrics: %w", err)
	}
	value, ok, err := s.store.GetEMA(ctx, customerID)
	if err != nil {
		return 0, 0, fmt.Errorf("metrics: %w", err)
	}
	if ok {
		ema = value
	} else {
		ema = float64(count)
	}
	return count, ema, nil
}
