package store

import (
	"context"
	"time"

	"github.com/adnsalim/murattil/internal/observe"
)

// Compile-time interface check.
var _ ContentStore = (*InstrumentedStore)(nil)

// InstrumentedStore decorates a [ContentStore] with latency and error metrics
// for every operation. It is transparent otherwise: all calls delegate to the
// wrapped store unchanged.
type InstrumentedStore struct {
	inner   ContentStore
	metrics *observe.Metrics
}

// Instrument wraps st so every operation is recorded through
// [observe.Metrics.RecordStoreOp]. When m is nil the default metrics
// instance is used.
func Instrument(st ContentStore, m *observe.Metrics) *InstrumentedStore {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &InstrumentedStore{inner: st, metrics: m}
}

// PutBytes implements [ContentStore].
func (s *InstrumentedStore) PutBytes(ctx context.Context, region Region, key string, payload []byte) error {
	start := time.Now()
	err := s.inner.PutBytes(ctx, region, key, payload)
	s.metrics.RecordStoreOp(ctx, "put_bytes", string(region), time.Since(start), err)
	return err
}

// PutJSON implements [ContentStore].
func (s *InstrumentedStore) PutJSON(ctx context.Context, region Region, key string, value any) error {
	start := time.Now()
	err := s.inner.PutJSON(ctx, region, key, value)
	s.metrics.RecordStoreOp(ctx, "put_json", string(region), time.Since(start), err)
	return err
}

// GetBytes implements [ContentStore].
func (s *InstrumentedStore) GetBytes(ctx context.Context, region Region, key string) ([]byte, bool, error) {
	start := time.Now()
	payload, found, err := s.inner.GetBytes(ctx, region, key)
	s.metrics.RecordStoreOp(ctx, "get_bytes", string(region), time.Since(start), err)
	return payload, found, err
}

// GetJSON implements [ContentStore].
func (s *InstrumentedStore) GetJSON(ctx context.Context, region Region, key string, out any) (bool, error) {
	start := time.Now()
	found, err := s.inner.GetJSON(ctx, region, key, out)
	s.metrics.RecordStoreOp(ctx, "get_json", string(region), time.Since(start), err)
	return found, err
}

// Delete implements [ContentStore].
func (s *InstrumentedStore) Delete(ctx context.Context, region Region, key string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, region, key)
	s.metrics.RecordStoreOp(ctx, "delete", string(region), time.Since(start), err)
	return err
}

// Keys implements [ContentStore].
func (s *InstrumentedStore) Keys(ctx context.Context, region Region) ([]string, error) {
	start := time.Now()
	keys, err := s.inner.Keys(ctx, region)
	s.metrics.RecordStoreOp(ctx, "keys", string(region), time.Since(start), err)
	return keys, err
}

// ClearAll implements [ContentStore].
func (s *InstrumentedStore) ClearAll(ctx context.Context) error {
	start := time.Now()
	err := s.inner.ClearAll(ctx)
	s.metrics.RecordStoreOp(ctx, "clear_all", "all", time.Since(start), err)
	return err
}

// Usage implements [ContentStore]. Usage is telemetry itself and is not
// re-measured here.
func (s *InstrumentedStore) Usage(ctx context.Context) (Usage, error) {
	return s.inner.Usage(ctx)
}

// Close implements [ContentStore].
func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
