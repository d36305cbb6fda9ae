package quran

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/adnsalim/murattil/internal/store"
)

// CachingLookup is a [Lookup] that resolves from the content store first, so
// practice keeps working fully offline once text has been cached. On a miss
// it falls through to an optional seed lookup, then to an optional remote
// fetcher with write-through into the store.
//
// Texts are cached per ayah under [Reference.Key] in the store's data region;
// ranges are assembled from their ayahs so overlapping ranges share cache
// entries.
type CachingLookup struct {
	store   store.ContentStore
	seed    Lookup
	fetcher Fetcher
}

// Compile-time interface check.
var _ Lookup = (*CachingLookup)(nil)

// CacheOption is a functional option for configuring a [CachingLookup].
type CacheOption func(*CachingLookup)

// WithSeed sets a local lookup consulted on cache misses before the network.
func WithSeed(seed Lookup) CacheOption {
	return func(c *CachingLookup) {
		c.seed = seed
	}
}

// WithFetcher sets a remote fetcher used as the last resort on cache misses.
// Without one the lookup is strictly offline.
func WithFetcher(f Fetcher) CacheOption {
	return func(c *CachingLookup) {
		c.fetcher = f
	}
}

// NewCachingLookup creates a store-backed lookup.
func NewCachingLookup(st store.ContentStore, opts ...CacheOption) *CachingLookup {
	c := &CachingLookup{store: st}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Resolve implements [Lookup].
func (c *CachingLookup) Resolve(ctx context.Context, ref Reference) (string, bool, error) {
	if err := ref.Validate(); err != nil {
		return "", false, nil
	}

	end := ref.EndAyah
	if end == 0 {
		end = ref.Ayah
	}
	parts := make([]string, 0, end-ref.Ayah+1)
	for ayah := ref.Ayah; ayah <= end; ayah++ {
		text, found, err := c.resolveOne(ctx, Reference{Surah: ref.Surah, Ayah: ayah})
		if err != nil {
			return "", false, err
		}
		if !found {
			return "", false, nil
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " "), true, nil
}

// resolveOne resolves a single ayah: cache, then seed, then fetch.
func (c *CachingLookup) resolveOne(ctx context.Context, ref Reference) (string, bool, error) {
	cached, found, err := c.store.GetBytes(ctx, store.RegionData, ref.Key())
	if err != nil {
		return "", false, fmt.Errorf("quran: cache read %s: %w", ref, err)
	}
	if found {
		return string(cached), true, nil
	}

	if c.seed != nil {
		text, found, err := c.seed.Resolve(ctx, ref)
		if err != nil {
			return "", false, err
		}
		if found {
			return text, true, nil
		}
	}

	if c.fetcher == nil {
		return "", false, nil
	}
	text, err := c.fetcher.Fetch(ctx, ref)
	if err != nil {
		// Network trouble degrades to "not found" so correction still
		// produces a result instead of an error.
		slog.Warn("reference fetch failed", "ref", ref.String(), "err", err)
		return "", false, nil
	}
	if err := c.Put(ctx, ref, text); err != nil {
		slog.Warn("caching fetched text", "ref", ref.String(), "err", err)
	}
	return text, true, nil
}

// Put writes the canonical text for a single ayah into the cache.
func (c *CachingLookup) Put(ctx context.Context, ref Reference, text string) error {
	if err := c.store.PutBytes(ctx, store.RegionData, ref.Key(), []byte(text)); err != nil {
		return fmt.Errorf("quran: cache write %s: %w", ref, err)
	}
	return nil
}

// Cached reports whether the single ayah ref is already present in the store.
func (c *CachingLookup) Cached(ctx context.Context, ref Reference) (bool, error) {
	_, found, err := c.store.GetBytes(ctx, store.RegionData, ref.Key())
	if err != nil {
		return false, fmt.Errorf("quran: cache read %s: %w", ref, err)
	}
	return found, nil
}
