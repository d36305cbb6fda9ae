// Package connectivity tracks the application's online/offline state and
// gates network-backed cache population.
//
// The [Tracker] does not probe the network itself: transitions are driven by
// an external platform adapter calling [Tracker.SetOnline] (for the HTTP
// surface that adapter is the connectivity endpoint; a desktop shell would
// wire its own notifications). Orthogonal to connectivity, the tracker
// carries a caching flag bracketing in-flight background population, and
// best-effort storage telemetry pulled from the content store on demand.
//
// Subscribers receive a read-only [Status] snapshot on every transition and
// on every usage refresh. Fan-out is synchronous; a panicking listener is
// isolated (recovered and logged) and never prevents the remaining listeners
// from being notified.
//
// All methods are safe for concurrent use.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adnsalim/murattil/internal/store"
)

// Status is a point-in-time connectivity snapshot. Values are copies —
// mutating a received Status has no effect on the tracker.
type Status struct {
	// Online reports the last platform-notified connectivity state.
	Online bool `json:"is_online"`

	// CanSync is true only while Online is true. Network-backed cache
	// population must check this before fetching.
	CanSync bool `json:"can_sync"`

	// LastSync is when the last background population pass completed
	// successfully. Zero when no pass has completed yet.
	LastSync time.Time `json:"last_sync_time"`

	// CacheSizeBytes is the content-store usage as of the last refresh.
	// Not guaranteed fresh between refreshes.
	CacheSizeBytes uint64 `json:"cache_size_bytes"`

	// Caching is true only while a background population operation is
	// in flight.
	Caching bool `json:"is_caching"`
}

// UsageReporter is the narrow slice of the content store the tracker needs
// for size telemetry.
type UsageReporter interface {
	Usage(ctx context.Context) (store.Usage, error)
}

// Listener receives status snapshots. Listeners are reporting-only hooks;
// panics are recovered at the call site and discarded after logging.
type Listener func(Status)

// Option is a functional option for configuring a [Tracker].
type Option func(*Tracker)

// WithRefreshInterval enables the optional background usage refresh loop run
// by [Tracker.Run]. Zero (the default) disables periodic refresh entirely;
// usage is then refreshed only on explicit [Tracker.RefreshUsage] calls.
func WithRefreshInterval(d time.Duration) Option {
	return func(t *Tracker) {
		t.refreshInterval = d
	}
}

// WithInitialOnline sets the assumed connectivity state before the first
// platform notification arrives. Default: true.
func WithInitialOnline(online bool) Option {
	return func(t *Tracker) {
		t.status.Online = online
		t.status.CanSync = online
	}
}

// Tracker owns the [Status] record. It is the only mutator; everyone else
// sees copies.
type Tracker struct {
	usage           UsageReporter
	refreshInterval time.Duration

	mu        sync.Mutex
	status    Status
	listeners map[int]Listener
	nextID    int
}

// New creates a Tracker reading size telemetry from usage.
func New(usage UsageReporter, opts ...Option) *Tracker {
	t := &Tracker{
		usage:     usage,
		status:    Status{Online: true, CanSync: true},
		listeners: make(map[int]Listener),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Status returns a copy of the current snapshot.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetOnline records a platform connectivity notification. A genuine
// transition notifies subscribers immediately — offline transitions are
// deliberately not debounced so the loss of connectivity is visible without
// delay, even at the cost of flapping on unstable links. Redundant
// notifications (same state) are ignored.
func (t *Tracker) SetOnline(online bool) {
	t.mu.Lock()
	if t.status.Online == online {
		t.mu.Unlock()
		return
	}
	t.status.Online = online
	t.status.CanSync = online
	snapshot := t.status
	listeners := t.listenersLocked()
	t.mu.Unlock()

	slog.Info("connectivity changed", "online", online)
	notify(listeners, snapshot)
}

// BeginCaching marks a background population operation as in flight and
// notifies subscribers. Pair every call with [Tracker.EndCaching], typically
// via defer, so the flag cannot stick on a failed pass.
func (t *Tracker) BeginCaching() {
	t.setCaching(true)
}

// EndCaching clears the caching flag and notifies subscribers. It must run
// on every exit path of a population operation, success or not.
func (t *Tracker) EndCaching() {
	t.setCaching(false)
}

func (t *Tracker) setCaching(caching bool) {
	t.mu.Lock()
	if t.status.Caching == caching {
		t.mu.Unlock()
		return
	}
	t.status.Caching = caching
	snapshot := t.status
	listeners := t.listenersLocked()
	t.mu.Unlock()

	notify(listeners, snapshot)
}

// MarkSynced records the completion time of a successful population pass and
// notifies subscribers.
func (t *Tracker) MarkSynced(at time.Time) {
	t.mu.Lock()
	t.status.LastSync = at
	snapshot := t.status
	listeners := t.listenersLocked()
	t.mu.Unlock()

	notify(listeners, snapshot)
}

// RefreshUsage pulls current storage usage into the snapshot and notifies
// subscribers. Telemetry failures are logged and leave the previous value in
// place; the error is returned for callers that care.
func (t *Tracker) RefreshUsage(ctx context.Context) error {
	u, err := t.usage.Usage(ctx)
	if err != nil {
		slog.Warn("usage refresh failed", "err", err)
		return err
	}

	t.mu.Lock()
	t.status.CacheSizeBytes = u.UsedBytes
	snapshot := t.status
	listeners := t.listenersLocked()
	t.mu.Unlock()

	notify(listeners, snapshot)
	return nil
}

// Subscribe registers listener and returns its unsubscribe function. The
// listener receives a snapshot on every transition and usage refresh.
// Calling the returned function removes exactly that listener; calling it
// again is a harmless no-op.
func (t *Tracker) Subscribe(listener Listener) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = listener
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.listeners, id)
			t.mu.Unlock()
		})
	}
}

// Run executes the optional periodic usage refresh loop until ctx is done.
// It is a no-op when no refresh interval is configured. Refreshes are
// best-effort and never block foreground operations.
func (t *Tracker) Run(ctx context.Context) error {
	if t.refreshInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(t.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = t.RefreshUsage(ctx)
		}
	}
}

// listenersLocked snapshots the fan-out set. Caller must hold t.mu.
func (t *Tracker) listenersLocked() []Listener {
	out := make([]Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		out = append(out, l)
	}
	return out
}

// notify invokes every listener with the snapshot, isolating panics so one
// failing listener cannot starve the rest or corrupt tracker state.
func notify(listeners []Listener, snapshot Status) {
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("connectivity listener panicked", "panic", r)
				}
			}()
			l(snapshot)
		}()
	}
}
