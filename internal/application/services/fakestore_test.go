package services

import (
	"context"
	"sync"
	"time"

	"github.com/AtRiskMedia/presence-go/internal/domain/presence"
)

// fakeStore is an in-memory stand-in for the Redis-backed presence
// store, used to exercise the service layer without Redis.
type fakeStore struct {
	mu          sync.Mutex
	records     map[string]presence.Record
	ttls        map[string]time.Duration
	ema         map[string]float64
	seenLeaves  map[string]bool
	tombstones  map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:    make(map[string]presence.Record),
		ttls:       make(map[string]time.Duration),
		ema:        make(map[string]float64),
		seenLeaves: make(map[string]bool),
		tombstones: make(map[string]bool),
	}
}

func key(customerID, sessionID string) string { return customerID + ":" + sessionID }

func (f *fakeStore) Set(ctx context.Context, record presence.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[key(record.CustomerID, record.SessionID)] = record
	f.ttls[key(record.CustomerID, record.SessionID)] = presence.ModeTTL(record.SessionMode)
	return nil
}

func (f *fakeStore) Get(ctx context.Context, customerID, sessionID string) (presence.Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[key(customerID, sessionID)]
	return r, ok, nil
}

func (f *fakeStore) Update(ctx context.Context, record presence.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(record.CustomerID, record.SessionID)
	if existing, ok := f.records[k]; ok {
		f.records[k] = existing.Merge(record)
		return nil
	}
	f.records[k] = record
	f.ttls[k] = presence.ModeTTL(record.SessionMode)
	return nil
}

func (f *fakeStore) RefreshTTL(ctx context.Context, customerID, sessionID string, newMode presence.SessionMode) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(customerID, sessionID)
	r, ok := f.records[k]
	if !ok {
		return false, nil
	}
	if newMode != "" && newMode != r.SessionMode {
		r.SessionMode = newMode
		f.records[k] = r
	}
	f.ttls[k] = presence.ModeTTL(r.SessionMode)
	return true, nil
}

func (f *fakeStore) Remove(ctx context.Context, customerID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(customerID, sessionID)
	delete(f.records, k)
	delete(f.ttls, k)
	return nil
}

func (f *fakeStore) GetKeyTTL(ctx context.Context, customerID, sessionID string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ttl, ok := f.ttls[key(customerID, sessionID)]
	if !ok {
		return -2 * time.Second, nil
	}
	return ttl, nil
}

func (f *fakeStore) GetActiveSessions(ctx context.Context, customerID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.records {
		if r.CustomerID == customerID {
			out = append(out, r.SessionID)
		}
	}
	return out, nil
}

func (f *fakeStore) GetActiveCount(ctx context.Context, customerID string) (int, error) {
	sessions, _ := f.GetActiveSessions(ctx, customerID)
	return len(sessions), nil
}

func (f *fakeStore) SetEMA(ctx context.Context, customerID string, value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ema[customerID] = value
	return nil
}

func (f *fakeStore) GetEMA(ctx context.Context, customerID string) (float64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.ema[customerID]
	return v, ok, nil
}

func (f *fakeStore) MarkLeaveSeen(ctx context.Context, leaveID string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seenLeaves[leaveID] {
		return true, nil
	}
	f.seenLeaves[leaveID] = true
	return false, nil
}

func (f *fakeStore) SetLeaveTombstone(ctx context.Context, customerID, sessionID, tabID string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tombstones[customerID+":"+sessionID+":"+tabID] = true
	return nil
}

func (f *fakeStore) HasLeaveTombstone(ctx context.Context, customerID, sessionID, tabID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tombstones[customerID+":"+sessionID+":"+tabID], nil
}

// fakeResolver is an in-memory stand-in for the disconnect resolver.
type fakeResolver struct {
	mu        sync.Mutex
	scheduled map[string]bool
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{scheduled: make(map[string]bool)}
}

func (r *fakeResolver) Schedule(customerID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled[key(customerID, sessionID)] = true
}

func (r *fakeResolver) Cancel(customerID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled[key(customerID, sessionID)] = false
}

func (r *fakeResolver) isScheduled(customerID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scheduled[key(customerID, sessionID)]
}
