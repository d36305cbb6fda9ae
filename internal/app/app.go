// Package app wires all Murattil subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and background loops until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithDevice,
// etc.). When an option is not provided, New creates real implementations
// from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adnsalim/murattil/internal/api"
	"github.com/adnsalim/murattil/internal/config"
	"github.com/adnsalim/murattil/internal/connectivity"
	"github.com/adnsalim/murattil/internal/correction"
	"github.com/adnsalim/murattil/internal/quran"
	"github.com/adnsalim/murattil/internal/recorder"
	"github.com/adnsalim/murattil/internal/store"
	"github.com/adnsalim/murattil/pkg/capture"
	"github.com/adnsalim/murattil/pkg/capture/wsdevice"
)

// shutdownTimeout bounds the HTTP server's graceful drain during Run teardown.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes for the Murattil server.
type App struct {
	cfg *config.Config

	store     store.ContentStore
	device    capture.Device
	tracker   *connectivity.Tracker
	pipeline  *recorder.Pipeline
	cache     *quran.CachingLookup
	fetcher   quran.Fetcher
	engine    *correction.Engine
	history   *correction.History
	populator *quran.Populator
	passages  []quran.Reference

	httpSrv *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a content store instead of creating one from config.
func WithStore(st store.ContentStore) Option {
	return func(a *App) { a.store = st }
}

// WithDevice injects a capture device instead of creating the websocket one.
func WithDevice(d capture.Device) Option {
	return func(a *App) { a.device = d }
}

// WithFetcher injects a text fetcher instead of creating one from config.
func WithFetcher(f quran.Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: store open, tracker and
// pipeline construction, cached lookup assembly, and history load.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStore(); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	a.initTracker()
	a.initCapture()
	a.initCorrection()

	history, err := correction.NewHistory(ctx, a.store)
	if err != nil {
		return nil, fmt.Errorf("app: load history: %w", err)
	}
	a.history = history

	a.initHTTP()
	return a, nil
}

// initStore opens the configured content store unless one was injected.
// Either way the store is wrapped so every operation lands in the latency
// and error metrics.
func (a *App) initStore() error {
	if a.store == nil {
		st, err := config.DefaultRegistry().CreateStore(a.cfg.Storage)
		if err != nil {
			return err
		}
		a.store = st
	}
	a.store = store.Instrument(a.store, nil)
	a.closers = append(a.closers, a.store.Close)
	return nil
}

// initTracker builds the connectivity tracker from config.
func (a *App) initTracker() {
	var opts []connectivity.Option
	if iv := a.cfg.Connectivity.RefreshInterval; iv > 0 {
		opts = append(opts, connectivity.WithRefreshInterval(iv))
	}
	if assume := a.cfg.Connectivity.AssumeOnline; assume != nil {
		opts = append(opts, connectivity.WithInitialOnline(*assume))
	}
	a.tracker = connectivity.New(a.store, opts...)
}

// initCapture builds the websocket capture device (unless injected) and the
// recording pipeline on top of it.
func (a *App) initCapture() {
	if a.device == nil {
		var opts []wsdevice.Option
		if a.cfg.Recording.OpusDecode {
			opts = append(opts, wsdevice.WithOpusDecode())
		}
		if n := a.cfg.Recording.BufferChunks; n > 0 {
			opts = append(opts, wsdevice.WithBuffer(n))
		}
		a.device = wsdevice.New(opts...)
	}
	a.pipeline = recorder.New(a.device, a.store)
}

// initCorrection assembles the cached lookup, the fetcher behind it, and the
// scoring engine. Without a configured source URL the server runs entirely on
// cached and seeded text.
func (a *App) initCorrection() {
	if a.fetcher == nil && a.cfg.Cache.SourceURL != "" {
		a.fetcher = quran.NewHTTPFetcher(quran.HTTPFetcherConfig{
			BaseURL: a.cfg.Cache.SourceURL,
			Edition: a.cfg.Cache.Edition,
		})
	}

	cacheOpts := []quran.CacheOption{quran.WithSeed(quran.Fatiha())}
	if a.fetcher != nil {
		cacheOpts = append(cacheOpts, quran.WithFetcher(a.fetcher))
	}
	a.cache = quran.NewCachingLookup(a.store, cacheOpts...)

	var engineOpts []correction.EngineOption
	if t := a.cfg.Correction.Threshold; t > 0 {
		engineOpts = append(engineOpts, correction.WithThreshold(t))
	}
	a.engine = correction.NewEngine(a.cache, engineOpts...)

	if a.fetcher != nil {
		var popOpts []quran.PopulatorOption
		if c := a.cfg.Cache.Concurrency; c > 0 {
			popOpts = append(popOpts, quran.WithConcurrency(c))
		}
		a.populator = quran.NewPopulator(a.cache, a.fetcher, a.tracker, popOpts...)
	}

	for _, p := range a.cfg.Cache.Passages {
		a.passages = append(a.passages, p.Reference())
	}
}

// initHTTP builds the API server. The capture device doubles as the websocket
// ingest handler when it serves HTTP (the default wsdevice does).
func (a *App) initHTTP() {
	captureHandler, _ := a.device.(http.Handler)

	srv := api.New(api.Config{
		Store:     a.store,
		Tracker:   a.tracker,
		Pipeline:  a.pipeline,
		Engine:    a.engine,
		History:   a.history,
		Populator: a.populator,
		Passages:  a.passages,
		Capture:   captureHandler,
	})

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler exposes the routed HTTP handler. Intended for tests.
func (a *App) Handler() http.Handler {
	return a.httpSrv.Handler
}

// Run serves HTTP and runs background loops until ctx is cancelled. When the
// cache has configured passages and a fetcher, an initial population pass is
// kicked off at startup; its failure is logged, not fatal.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.tracker.Run(ctx)
	})

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.httpSrv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.httpSrv.Shutdown(drainCtx); err != nil {
			slog.Warn("http server drain failed", "err", err)
		}
		return ctx.Err()
	})

	if a.populator != nil && len(a.passages) > 0 {
		g.Go(func() error {
			if err := a.populator.Populate(ctx, a.passages); err != nil {
				slog.Warn("initial cache population failed", "err", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// ApplyDiff applies a hot-reloadable configuration change. Settings outside
// the diff (storage backend, listen address) require a restart and are
// ignored here.
func (a *App) ApplyDiff(d config.ConfigDiff) {
	if !d.Any() {
		return
	}
	if d.ThresholdChanged {
		a.engine.SetThreshold(d.NewThreshold)
		slog.Info("correction threshold updated", "threshold", d.NewThreshold)
	}
	if d.CacheChanged {
		slog.Info("cache passage set changed; will apply on next refresh")
	}
	if d.RefreshIntervalChanged {
		slog.Info("connectivity refresh interval change requires restart")
	}
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
