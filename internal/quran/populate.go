package quran

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/adnsalim/murattil/internal/connectivity"
	"github.com/adnsalim/murattil/internal/observe"
)

// ErrSyncUnavailable is returned by [Populator.Populate] when the
// connectivity tracker reports that background synchronization is not
// currently permitted.
var ErrSyncUnavailable = errors.New("quran: sync unavailable while offline")

// Populator fills the local text cache from a remote fetcher in the
// background. Every run consults the connectivity tracker before touching
// the network and brackets itself with the tracker's caching flag so the
// status surface reflects population in progress.
type Populator struct {
	cache       *CachingLookup
	fetcher     Fetcher
	tracker     *connectivity.Tracker
	concurrency int
	metrics     *observe.Metrics
}

// PopulatorOption is a functional option for configuring a [Populator].
type PopulatorOption func(*Populator)

// WithConcurrency bounds parallel fetches. Default: 4.
func WithConcurrency(n int) PopulatorOption {
	return func(p *Populator) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithMetrics overrides the metrics instance. Intended for tests; production
// code uses [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) PopulatorOption {
	return func(p *Populator) {
		p.metrics = m
	}
}

// NewPopulator creates a cache populator.
func NewPopulator(cache *CachingLookup, fetcher Fetcher, tracker *connectivity.Tracker, opts ...PopulatorOption) *Populator {
	p := &Populator{
		cache:       cache,
		fetcher:     fetcher,
		tracker:     tracker,
		concurrency: 4,
		metrics:     observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Populate fetches and caches the canonical text for every ayah covered by
// refs, skipping ayahs already cached. Returns [ErrSyncUnavailable] without
// side effects when the tracker forbids syncing. The caching flag is cleared
// on every exit path.
//
// On full success the tracker records the sync time and refreshes its usage
// snapshot.
func (p *Populator) Populate(ctx context.Context, refs []Reference) error {
	if !p.tracker.Status().CanSync {
		return ErrSyncUnavailable
	}

	p.tracker.BeginCaching()
	defer p.tracker.EndCaching()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	var fetched, skipped atomic.Int64
	for _, ayah := range expand(refs) {
		g.Go(func() error {
			cached, err := p.cache.Cached(ctx, ayah)
			if err != nil {
				return err
			}
			if cached {
				skipped.Add(1)
				p.metrics.CacheFetches.Add(ctx, 1,
					metric.WithAttributes(observe.Attr("status", "skipped")))
				return nil
			}
			fetchStart := time.Now()
			text, err := p.fetcher.Fetch(ctx, ayah)
			if err != nil {
				p.metrics.RecordCacheFetch(ctx, time.Since(fetchStart), "error")
				return fmt.Errorf("quran: populate %s: %w", ayah, err)
			}
			p.metrics.RecordCacheFetch(ctx, time.Since(fetchStart), "ok")
			if err := p.cache.Put(ctx, ayah, text); err != nil {
				return err
			}
			fetched.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	p.tracker.MarkSynced(time.Now())
	if err := p.tracker.RefreshUsage(ctx); err != nil {
		slog.Warn("usage refresh after population", "err", err)
	}
	slog.Info("cache population complete",
		"fetched", fetched.Load(), "skipped", skipped.Load())
	return nil
}

// expand flattens references into deduplicated single-ayah references.
func expand(refs []Reference) []Reference {
	seen := make(map[string]struct{})
	var out []Reference
	for _, ref := range refs {
		end := ref.EndAyah
		if end == 0 {
			end = ref.Ayah
		}
		for ayah := ref.Ayah; ayah <= end; ayah++ {
			single := Reference{Surah: ref.Surah, Ayah: ayah}
			if _, ok := seen[single.Key()]; ok {
				continue
			}
			seen[single.Key()] = struct{}{}
			out = append(out, single)
		}
	}
	return out
}
