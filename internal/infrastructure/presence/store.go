// Package presence implements the Redis-backed presence store, the
// websocket fan-out fleet, and the disconnect resolver described by
// the presence domain package's policies.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AtRiskMedia/presence-go/internal/domain/presence"
	"github.com/AtRiskMedia/presence-go/internal/infrastructure/security"
)

const (
	presenceKeyPrefix    = "presence"
	emaKeyPrefix         = "ema"
	metricsChannelPrefix = "metrics"
	seenLeavePrefix      = "SEEN_LEAVE"
	leaveTombstonePrefix = "LEAVE_TOMBSTONE"
)

func presenceKey(customerID, sessionID string) string {
	return fmt.Sprintf("%s:%s:%s", presenceKeyPrefix, customerID, sessionID)
}

func presenceScanPattern(customerID string) string {
	return fmt.Sprintf("%s:%s:*", presenceKeyPrefix, customerID)
}

func emaKey(customerID string) string {
	return fmt.Sprintf("%s:%s", emaKeyPrefix, customerID)
}

func metricsChannel(customerID string) string {
	return fmt.Sprintf("%s:%s", metricsChannelPrefix, customerID)
}

func seenLeaveKey(leaveID string) string {
	return fmt.Sprintf("%s:%s", seenLeavePrefix, leaveID)
}

func leaveTombstoneKey(customerID, sessionID, tabID string) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", leaveTombstonePrefix, presenceKeyPrefix, customerID, sessionID, tabID)
}

// Store is the Redis-backed implementation of the presence store
// contract: set-with-ttl, update-keep-ttl, extend-ttl-only, delete,
// and cursor-based scan-by-customer.
type Store struct {
	rdb *redis.Client
}

// NewStore wraps a ready Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Set writes a full record, resetting its TTL to the mode's policy
// value, stamping UpdatedAt and LastActivity.
func (s *Store) Set(ctx context.Context, record presence.Record) error {
	record.UpdatedAt = time.Now().UTC()
	record.LastActivity = "just now"

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal presence record: %w", err)
	}

	ttl := presence.ClampTTL(presence.ModeTTL(record.SessionMode))
	if err := s.rdb.Set(ctx, presenceKey(record.CustomerID, record.SessionID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("set presence record: %w", err)
	}
	return nil
}

// Get fetches a record, returning (zero, false, nil) if absent.
func (s *Store) Get(ctx context.Context, customerID, sessionID string) (presence.Record, bool, error) {
	val, err := s.rdb.Get(ctx, presenceKey(customerID, sessionID)).Result()
	if err == redis.Nil {
		return presence.Record{}, false, nil
	}
	if err != nil {
		return presence.Record{}, false, fmt.Errorf("get presence record: %w", err)
	}

	var record presence.Record
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		return presence.Record{}, false, fmt.Errorf("unmarshal presence record: %w", err)
	}
	return record, true, nil
}

// Update merges an incoming record over the stored one, preserving
// CreatedAt and remaining TTL. If no record exists, it creates one
// with the mode's default TTL (the spec's "missing key -> create
// anew" contract).
func (s *Store) Update(ctx context.Context, incoming presence.Record) error {
	key := presenceKey(incoming.CustomerID, incoming.SessionID)

	existing, ok, err := s.Get(ctx, incoming.CustomerID, incoming.SessionID)
	if err != nil {
		return err
	}

	var merged presence.Record
	if ok {
		merged = existing.Merge(incoming)
	} else {
		merged = incoming
		merged.CreatedAt = time.Now().UTC()
	}
	merged.UpdatedAt = time.Now().UTC()
	merged.LastActivity = "just now"

	payload, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal presence record: %w", err)
	}

	if !ok {
		ttl := presence.ClampTTL(presence.ModeTTL(merged.SessionMode))
		return s.rdb.Set(ctx, key, payload, ttl).Err()
	}

	ttl, err := s.rdb.TTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("read ttl before keep-ttl update: %w", err)
	}
	if ttl < 0 {
		ttl = presence.ClampTTL(presence.ModeTTL(merged.SessionMode))
	}
	return s.rdb.Set(ctx, key, payload, ttl).Err()
}

// RefreshTTL extends a key's TTL to the policy value for its current
// (or newly supplied) session mode. A missing key is a no-op; the
// caller is expected to log the warning this implies.
func (s *Store) RefreshTTL(ctx context.Context, customerID, sessionID string, newMode presence.SessionMode) (bool, error) {
	key := presenceKey(customerID, sessionID)

	existing, ok, err := s.Get(ctx, customerID, sessionID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if newMode != "" && newMode != existing.SessionMode {
		existing.SessionMode = newMode
		existing.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(existing)
		if err != nil {
			return false, fmt.Errorf("marshal presence record: %w", err)
		}
		ttl := presence.ClampTTL(presence.ModeTTL(existing.SessionMode))
		if err := s.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
			return false, fmt.Errorf("persist mode change: %w", err)
		}
		return true, nil
	}

	ttl := presence.ClampTTL(presence.ModeTTL(existing.SessionMode))
	if err := s.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return false, fmt.Errorf("extend ttl: %w", err)
	}
	return true, nil
}

// Remove deletes a record. A missing key is a no-op.
func (s *Store) Remove(ctx context.Context, customerID, sessionID string) error {
	if err := s.rdb.Del(ctx, presenceKey(customerID, sessionID)).Err(); err != nil {
		return fmt.Errorf("remove presence record: %w", err)
	}
	return nil
}

// GetKeyTTL returns the key's remaining TTL as a time.Duration. A
// negative value is Redis's marker for a key with no TTL (-1) or an
// absent key (-2).
func (s *Store) GetKeyTTL(ctx context.Context, customerID, sessionID string) (time.Duration, error) {
	ttl, err := s.rdb.TTL(ctx, presenceKey(customerID, sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("read ttl: %w", err)
	}
	return ttl, nil
}

// GetActiveSessions scans for every session key belonging to a
// customer using a non-blocking cursor, returning unique session ids.
func (s *Store) GetActiveSessions(ctx context.Context, customerID string) ([]string, error) {
	var sessions []string
	seen := make(map[string]struct{})
	var cursor uint64
	pattern := presenceScanPattern(customerID)
	prefix := fmt.Sprintf("%s:%s:", presenceKeyPrefix, customerID)

	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, fmt.Errorf("scan presence keys: %w", err)
		}
		for _, key := range keys {
			sessionID := strings.TrimPrefix(key, prefix)
			if _, dup := seen[sessionID]; dup {
				continue
			}
			seen[sessionID] = struct{}{}
			sessions = append(sessions, sessionID)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return sessions, nil
}

// GetActiveCount returns the number of unique active sessions for a
// customer.
func (s *Store) GetActiveCount(ctx context.Context, customerID string) (int, error) {
	sessions, err := s.GetActiveSessions(ctx, customerID)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

// SetEMA persists the current EMA value for a customer.
func (s *Store) SetEMA(ctx context.Context, customerID string, value float64) error {
	if err := s.rdb.Set(ctx, emaKey(customerID), strconv.FormatFloat(value, 'f', -1, 64), 0).Err(); err != nil {
		return fmt.Errorf("set ema: %w", err)
	}
	return nil
}

// GetEMA returns the persisted EMA value, or (0, false, nil) if none
// has been recorded yet.
func (s *Store) GetEMA(ctx context.Context, customerID string) (float64, bool, error) {
	val, err := s.rdb.Get(ctx, emaKey(customerID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get ema: %w", err)
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse ema: %w", err)
	}
	return parsed, true, nil
}

// MetricsUpdate is the payload published on a customer's metrics
// channel for horizontally scaled deployments to pick up.
type MetricsUpdate struct {
	CustomerID string    `json:"customerId"`
	Timestamp  time.Time `json:"timestamp"`
	Count      int       `json:"count"`
	EMA        float64   `json:"ema"`
}

// PublishMetrics publishes a metrics update on the customer's
// pub/sub channel, for horizontally scaled fleet instances to pick
// up.
func (s *Store) PublishMetrics(ctx context.Context, customerID string, timestamp time.Time, count int, ema float64) error {
	update := MetricsUpdate{CustomerID: customerID, Timestamp: timestamp, Count: count, EMA: ema}
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal metrics update: %w", err)
	}
	if err := s.rdb.Publish(ctx, metricsChannel(customerID), payload).Err(); err != nil {
		return fmt.Errorf("publish metrics: %w", err)
	}
	return nil
}

// SubscribeMetrics returns a subscription to a customer's metrics
// channel, used by horizontally scaled fleet instances to learn of
// updates computed on another process.
func (s *Store) SubscribeMetrics(ctx context.Context, customerID string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, metricsChannel(customerID))
}

// MarkLeaveSeen records a client-provided X-Leave-Id for a bounded
// window, returning true if it had already been seen (and should
// therefore be treated as a duplicate).
func (s *Store) MarkLeaveSeen(ctx context.Context, leaveID string, ttl time.Duration) (alreadySeen bool, err error) {
	ok, err := s.rdb.SetNX(ctx, seenLeaveKey(leaveID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark leave seen: %w", err)
	}
	return !ok, nil
}

// SetLeaveTombstone records that a (customer, session, tab) recently
// left, so a late JOIN within the window can be recognized as stale.
// The stored value is a ULID, minted fresh per call, so the tombstone
// can be correlated against the log line that created it without a
// second round trip to Redis.
func (s *Store) SetLeaveTombstone(ctx context.Context, customerID, sessionID, tabID string, ttl time.Duration) error {
	key := leaveTombstoneKey(customerID, sessionID, tabID)
	if err := s.rdb.Set(ctx, key, security.GenerateULID(), ttl).Err(); err != nil {
		return fmt.Errorf("set leave tombstone: %w", err)
	}
	return nil
}

// HasLeaveTombstone reports whether a leave tombstone is still live
// for (customer, session, tab).
func (s *Store) HasLeaveTombstone(ctx context.Context, customerID, sessionID, tabID string) (bool, error) {
	exists, err := s.rdb.Exists(ctx, leaveTombstoneKey(customerID, sessionID, tabID)).Result()
	if err != nil {
		return false, fmt.Errorf("check leave tombstone: %w", err)
	}
	return exists > 0, nil
}
