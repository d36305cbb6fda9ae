package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Compile-time interface check.
var _ ContentStore = (*MemStore)(nil)

// memEntry is a stored value plus its bookkeeping.
type memEntry struct {
	payload   []byte
	isJSON    bool
	createdAt time.Time
}

// MemStore is a volatile in-memory [ContentStore]. It exists for tests and
// for callers that explicitly opt out of persistence; production code should
// use [SQLiteStore].
//
// Safe for concurrent use.
type MemStore struct {
	mu      sync.RWMutex
	regions map[Region]map[string]memEntry
	closed  bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	regions := make(map[Region]map[string]memEntry, len(Regions))
	for _, r := range Regions {
		regions[r] = make(map[string]memEntry)
	}
	return &MemStore{regions: regions}
}

func (m *MemStore) put(region Region, key string, payload []byte, isJSON bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrNotReady
	}
	bucket, ok := m.regions[region]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidRegion, region)
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	bucket[key] = memEntry{payload: cp, isJSON: isJSON, createdAt: time.Now()}
	return nil
}

// PutBytes writes or overwrites a binary entry.
func (m *MemStore) PutBytes(_ context.Context, region Region, key string, payload []byte) error {
	return m.put(region, key, payload, false)
}

// PutJSON marshals value and writes or overwrites the entry.
func (m *MemStore) PutJSON(_ context.Context, region Region, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: marshal %s/%s: %w", region, key, err)
	}
	return m.put(region, key, data, true)
}

// GetBytes returns the payload under (region, key), or false when absent.
func (m *MemStore) GetBytes(_ context.Context, region Region, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrNotReady
	}
	e, ok := m.regions[region][key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(e.payload))
	copy(cp, e.payload)
	return cp, true, nil
}

// GetJSON unmarshals the stored JSON value into out, or returns false when
// the key is absent.
func (m *MemStore) GetJSON(ctx context.Context, region Region, key string, out any) (bool, error) {
	payload, ok, err := m.GetBytes(ctx, region, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return false, fmt.Errorf("store: unmarshal %s/%s: %w", region, key, err)
	}
	return true, nil
}

// Delete removes the entry under (region, key). Absent keys succeed silently.
func (m *MemStore) Delete(_ context.Context, region Region, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrNotReady
	}
	delete(m.regions[region], key)
	return nil
}

// Keys returns all keys present in region.
func (m *MemStore) Keys(_ context.Context, region Region) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrNotReady
	}
	keys := []string{}
	for k := range m.regions[region] {
		keys = append(keys, k)
	}
	return keys, nil
}

// ClearAll wipes every region.
func (m *MemStore) ClearAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrNotReady
	}
	for _, r := range Regions {
		m.regions[r] = make(map[string]memEntry)
	}
	return nil
}

// Usage reports the summed payload sizes as UsedBytes. QuotaBytes is always
// zero — a volatile store has no meaningful quota.
func (m *MemStore) Usage(_ context.Context) (Usage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Usage{}, ErrNotReady
	}
	var used uint64
	for _, bucket := range m.regions {
		for _, e := range bucket {
			used += uint64(len(e.payload))
		}
	}
	return Usage{UsedBytes: used}, nil
}

// Close marks the store unusable. Idempotent.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
