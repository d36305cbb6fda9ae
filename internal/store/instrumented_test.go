package store

import (
	"bytes"
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/adnsalim/murattil/internal/observe"
)

func newInstrumented(t *testing.T) (*InstrumentedStore, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	inner := NewMemStore()
	t.Cleanup(func() { _ = inner.Close() })
	return Instrument(inner, m), reader
}

func collectMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestInstrumentedStoreDelegates(t *testing.T) {
	st, _ := newInstrumented(t)
	ctx := context.Background()

	if err := st.PutBytes(ctx, RegionAudio, "rec1", []byte{1, 2, 3}); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	payload, found, err := st.GetBytes(ctx, RegionAudio, "rec1")
	if err != nil || !found {
		t.Fatalf("GetBytes = (found=%v, err=%v)", found, err)
	}
	if !bytes.Equal(payload, []byte{1, 2, 3}) {
		t.Errorf("payload = %v, want [1 2 3]", payload)
	}
}

func TestInstrumentedStoreRecordsOpLatency(t *testing.T) {
	st, reader := newInstrumented(t)
	ctx := context.Background()

	if err := st.PutBytes(ctx, RegionAudio, "rec1", []byte{1}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := st.GetBytes(ctx, RegionAudio, "rec1"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Keys(ctx, RegionAudio); err != nil {
		t.Fatal(err)
	}

	met := collectMetric(t, reader, "murattil.store.op.duration")
	if met == nil {
		t.Fatal("store op duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("store op duration is not a histogram")
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	// One data point per (op, region) attribute pair, one sample each.
	if total != 3 {
		t.Errorf("total samples = %d, want 3", total)
	}
}

func TestInstrumentedStoreCountsErrors(t *testing.T) {
	st, reader := newInstrumented(t)
	ctx := context.Background()

	err := st.PutBytes(ctx, Region("bogus"), "key", []byte{1})
	if err == nil {
		t.Fatal("PutBytes into an invalid region succeeded, want error")
	}

	met := collectMetric(t, reader, "murattil.store.errors")
	if met == nil {
		t.Fatal("store error metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("store error metric is not a sum")
	}
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("error counter = %+v, want one data point of 1", sum.DataPoints)
	}
}
