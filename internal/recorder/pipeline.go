// Package recorder implements the recording pipeline: it acquires the audio
// capture device, accumulates captured chunks while a recitation is in
// progress, and on stop writes the assembled payload plus session metadata
// into the content store.
//
// The pipeline is a small state machine:
//
//	Idle → Requesting → Idle        (access request, granted or denied)
//	Idle → Capturing → Finalizing → Idle   (successful recording)
//	Capturing → Idle                (release/cancellation)
//
// At most one capture is active at a time; a second [Pipeline.Start] while
// capturing is rejected rather than queued.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adnsalim/murattil/internal/observe"
	"github.com/adnsalim/murattil/internal/quran"
	"github.com/adnsalim/murattil/internal/store"
	"github.com/adnsalim/murattil/pkg/capture"
)

// metaKeyPrefix namespaces session metadata within the data region so it can
// coexist with other persisted values (correction history, cached text).
const metaKeyPrefix = "recording:"

// ErrPartialDelete is returned by [Pipeline.Delete] when exactly one of the
// paired audio/metadata deletions failed, leaving the store inconsistent for
// that recording.
var ErrPartialDelete = errors.New("recorder: partial delete, store inconsistent")

// State identifies the pipeline's position in its capture lifecycle.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateCapturing
	StateFinalizing
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateCapturing:
		return "capturing"
	case StateFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Metadata describes one completed recording session. Immutable once written;
// the only mutation is the paired deletion in [Pipeline.Delete].
type Metadata struct {
	// ID is the recording identifier, also the audio payload's store key.
	ID string `json:"id"`

	// StartedAt is when capture began.
	StartedAt time.Time `json:"started_at"`

	// DurationSeconds is the wall-clock capture length. Clock-based, not
	// derived from sample counts.
	DurationSeconds uint32 `json:"duration_seconds"`

	// Reference is the passage the user practiced, when one was supplied at
	// start.
	Reference *quran.Reference `json:"reference,omitempty"`

	// AudioKey is the key of the audio payload in the store's audio region.
	AudioKey string `json:"audio_key"`
}

// Recording pairs a session's metadata with its audio payload for playback.
type Recording struct {
	Metadata Metadata
	Audio    []byte
}

// Pipeline drives the capture device and persists finished recordings.
//
// Safe for concurrent use; all lifecycle methods serialize on an internal
// mutex.
type Pipeline struct {
	device  capture.Device
	store   store.ContentStore
	now     func() time.Time
	metrics *observe.Metrics

	mu      sync.Mutex
	state   State
	granted bool
	active  *activeCapture
}

// activeCapture holds the in-flight session between Start and Stop.
type activeCapture struct {
	id        string
	startedAt time.Time
	ref       *quran.Reference
	stream    capture.Stream

	// chunks is written only by the collector goroutine; reading it is safe
	// once done is closed.
	chunks [][]byte
	done   chan struct{}
}

// Option is a functional option for configuring a [Pipeline].
type Option func(*Pipeline)

// WithClock overrides the pipeline's time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithMetrics overrides the metrics instance. Intended for tests; production
// code uses [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New creates a recording pipeline over the given capture device and store.
func New(device capture.Device, st store.ContentStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		device:  device,
		store:   st,
		now:     time.Now,
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// State returns the pipeline's current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// AccessGranted reports whether capture access has been granted.
func (p *Pipeline) AccessGranted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted
}

// RequestAccess asks the capture device for access by briefly opening it.
// Returns true when access is available. Idempotent: once granted, later
// calls return true without touching the device again, so the user is never
// re-prompted.
func (p *Pipeline) RequestAccess(ctx context.Context) bool {
	p.mu.Lock()
	if p.granted {
		p.mu.Unlock()
		return true
	}
	if p.state != StateIdle {
		p.mu.Unlock()
		return false
	}
	p.state = StateRequesting
	p.mu.Unlock()

	stream, err := p.device.Open(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateIdle
	if err != nil {
		if errors.Is(err, capture.ErrPermissionDenied) {
			slog.Info("capture access denied")
		} else {
			slog.Warn("capture access probe failed", "err", err)
		}
		return false
	}
	if cerr := stream.Close(); cerr != nil {
		slog.Warn("closing access probe stream", "err", cerr)
	}
	p.granted = true
	return true
}

// Start begins a new capture. When id is empty a default of the form
// "recording_<unix-ts>" is generated. Returns false, leaving the pipeline
// Idle, when access has not been granted, a capture is already in progress,
// or the device cannot be opened.
func (p *Pipeline) Start(ctx context.Context, id string, ref *quran.Reference) bool {
	p.mu.Lock()
	if p.state != StateIdle || !p.granted {
		p.mu.Unlock()
		return false
	}
	start := p.now()
	if id == "" {
		id = fmt.Sprintf("recording_%d", start.Unix())
	}
	// Hold Capturing through the device open so a racing Start is rejected.
	p.state = StateCapturing
	p.mu.Unlock()

	stream, err := p.device.Open(ctx)
	if err != nil {
		p.mu.Lock()
		p.state = StateIdle
		if errors.Is(err, capture.ErrPermissionDenied) {
			// Access was revoked since the original grant.
			p.granted = false
		}
		p.mu.Unlock()
		slog.Warn("capture open failed", "recording", id, "err", err)
		return false
	}

	ac := &activeCapture{
		id:        id,
		startedAt: start,
		ref:       ref,
		stream:    stream,
		done:      make(chan struct{}),
	}
	go ac.collect()

	p.mu.Lock()
	if p.state != StateCapturing {
		// Release ran while the device was opening and reset the pipeline;
		// honor it by discarding the just-opened stream.
		p.mu.Unlock()
		if cerr := stream.Close(); cerr != nil {
			slog.Warn("closing aborted capture stream", "recording", id, "err", cerr)
		}
		<-ac.done
		slog.Info("recording aborted by release", "recording", id)
		return false
	}
	p.active = ac
	// Tracked under the lock so the gauge moves with the state machine.
	p.metrics.ActiveCaptures.Add(ctx, 1)
	p.mu.Unlock()

	slog.Info("recording started", "recording", id)
	return true
}

// collect drains the stream's chunk channel in arrival order, keeping only
// non-empty chunks. Runs until the channel closes.
func (ac *activeCapture) collect() {
	defer close(ac.done)
	for chunk := range ac.stream.Chunks() {
		if len(chunk.Data) == 0 {
			continue
		}
		ac.chunks = append(ac.chunks, chunk.Data)
	}
}

// Stop finalizes the active capture: the stream is closed, accumulated
// chunks are concatenated in arrival order into one payload, and payload
// plus metadata are written to the store.
//
// ok is false when no capture was active. When persistence fails, the
// session's metadata is still returned with ok=true alongside the error:
// the capture itself completed, and the caller keeps the id for a retry.
func (p *Pipeline) Stop(ctx context.Context) (meta Metadata, ok bool, err error) {
	p.mu.Lock()
	if p.state != StateCapturing || p.active == nil {
		p.mu.Unlock()
		return Metadata{}, false, nil
	}
	p.state = StateFinalizing
	ac := p.active
	p.active = nil
	p.metrics.ActiveCaptures.Add(ctx, -1)
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.state = StateIdle
		p.mu.Unlock()
	}()

	if cerr := ac.stream.Close(); cerr != nil {
		slog.Warn("closing capture stream", "recording", ac.id, "err", cerr)
	}
	<-ac.done

	var total int
	for _, c := range ac.chunks {
		total += len(c)
	}
	payload := make([]byte, 0, total)
	for _, c := range ac.chunks {
		payload = append(payload, c...)
	}

	meta = Metadata{
		ID:              ac.id,
		StartedAt:       ac.startedAt,
		DurationSeconds: uint32(p.now().Sub(ac.startedAt).Seconds()),
		Reference:       ac.ref,
		AudioKey:        ac.id,
	}

	if perr := p.store.PutBytes(ctx, store.RegionAudio, ac.id, payload); perr != nil {
		slog.Error("persisting recording audio", "recording", ac.id, "err", perr)
		return meta, true, fmt.Errorf("recorder: persist audio %q: %w", ac.id, perr)
	}
	if perr := p.store.PutJSON(ctx, store.RegionData, metaKeyPrefix+ac.id, meta); perr != nil {
		slog.Error("persisting recording metadata", "recording", ac.id, "err", perr)
		return meta, true, fmt.Errorf("recorder: persist metadata %q: %w", ac.id, perr)
	}

	slog.Info("recording stored", "recording", ac.id,
		"bytes", len(payload), "duration_s", meta.DurationSeconds)
	return meta, true, nil
}

// Release forcibly stops any active capture and discards its chunks without
// persisting anything. Always safe to call; the pipeline ends up Idle.
func (p *Pipeline) Release() {
	p.mu.Lock()
	ac := p.active
	p.active = nil
	p.state = StateIdle
	if ac != nil {
		p.metrics.ActiveCaptures.Add(context.Background(), -1)
	}
	p.mu.Unlock()

	if ac == nil {
		return
	}
	if err := ac.stream.Close(); err != nil {
		slog.Warn("releasing capture stream", "recording", ac.id, "err", err)
	}
	<-ac.done
	slog.Info("recording released", "recording", ac.id)
}

// Delete removes a recording's audio payload and metadata entry. Deleting a
// recording that does not exist succeeds. When exactly one of the two
// deletions fails the error wraps [ErrPartialDelete] so the caller can
// surface the inconsistency.
func (p *Pipeline) Delete(ctx context.Context, id string) error {
	audioErr := p.store.Delete(ctx, store.RegionAudio, id)
	metaErr := p.store.Delete(ctx, store.RegionData, metaKeyPrefix+id)

	switch {
	case audioErr == nil && metaErr == nil:
		return nil
	case audioErr != nil && metaErr != nil:
		return fmt.Errorf("recorder: delete %q: %w", id, errors.Join(audioErr, metaErr))
	case audioErr != nil:
		return fmt.Errorf("recorder: delete %q: audio payload not removed: %w (%w)", id, audioErr, ErrPartialDelete)
	default:
		return fmt.Errorf("recorder: delete %q: metadata not removed: %w (%w)", id, metaErr, ErrPartialDelete)
	}
}

// Load reads one stored recording for playback. found is false when no
// metadata exists for the id.
func (p *Pipeline) Load(ctx context.Context, id string) (Recording, bool, error) {
	var meta Metadata
	found, err := p.store.GetJSON(ctx, store.RegionData, metaKeyPrefix+id, &meta)
	if err != nil {
		return Recording{}, false, fmt.Errorf("recorder: load metadata %q: %w", id, err)
	}
	if !found {
		return Recording{}, false, nil
	}

	audio, found, err := p.store.GetBytes(ctx, store.RegionAudio, meta.AudioKey)
	if err != nil {
		return Recording{}, false, fmt.Errorf("recorder: load audio %q: %w", id, err)
	}
	if !found {
		// Metadata without audio: report it, still return what we have.
		slog.Warn("recording audio missing", "recording", id, "audio_key", meta.AudioKey)
	}
	return Recording{Metadata: meta, Audio: audio}, true, nil
}

// List enumerates stored recording sessions, newest first.
func (p *Pipeline) List(ctx context.Context) ([]Metadata, error) {
	keys, err := p.store.Keys(ctx, store.RegionData)
	if err != nil {
		return nil, fmt.Errorf("recorder: list: %w", err)
	}

	sessions := make([]Metadata, 0, len(keys))
	for _, key := range keys {
		if !strings.HasPrefix(key, metaKeyPrefix) {
			continue
		}
		var meta Metadata
		found, err := p.store.GetJSON(ctx, store.RegionData, key, &meta)
		if err != nil {
			return nil, fmt.Errorf("recorder: list: read %q: %w", key, err)
		}
		if found {
			sessions = append(sessions, meta)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
	return sessions, nil
}
