// Package api exposes Murattil's HTTP surface.
//
// The server is a thin JSON layer over the core subsystems: the recording
// pipeline, the correction engine with its history, the connectivity tracker,
// and the cached verse lookup. It owns no state of its own — every endpoint
// delegates to a subsystem and translates the result to JSON.
//
// Routes are registered on a standard [http.ServeMux] using method-qualified
// patterns, wrapped in the observability middleware so every request gets a
// span, a correlation ID, and a duration metric.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adnsalim/murattil/internal/connectivity"
	"github.com/adnsalim/murattil/internal/correction"
	"github.com/adnsalim/murattil/internal/health"
	"github.com/adnsalim/murattil/internal/observe"
	"github.com/adnsalim/murattil/internal/quran"
	"github.com/adnsalim/murattil/internal/recorder"
	"github.com/adnsalim/murattil/internal/store"
)

// Config carries the subsystems the server delegates to. Store, Tracker,
// Pipeline, Engine and History are required; the rest are optional and their
// routes are simply not registered when absent.
type Config struct {
	Store    store.ContentStore
	Tracker  *connectivity.Tracker
	Pipeline *recorder.Pipeline
	Engine   *correction.Engine
	History  *correction.History

	// Populator drives POST /v1/cache/refresh. Nil disables the route.
	Populator *quran.Populator

	// Passages is the configured passage set handed to the populator on a
	// cache refresh.
	Passages []quran.Reference

	// Capture is the websocket ingest handler mounted at /v1/capture.
	// Nil disables the route.
	Capture http.Handler

	// Metrics defaults to [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics
}

// Server handles Murattil's HTTP API.
type Server struct {
	cfg     Config
	metrics *observe.Metrics
	health  *health.Handler

	// refreshMu serialises cache refresh runs; a second refresh request
	// while one is in flight is rejected with 409.
	refreshMu  sync.Mutex
	refreshing bool
}

// New creates a Server. The health handler probes the content store and the
// recording device grant.
func New(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Server{
		cfg:     cfg,
		metrics: m,
		health: health.New(
			health.StoreChecker(cfg.Store),
			health.DeviceChecker(cfg.Pipeline.AccessGranted),
		),
	}
}

// Handler returns the fully-routed HTTP handler, wrapped in the
// observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/connectivity", s.handleConnectivity)

	mux.HandleFunc("POST /v1/recordings/access", s.handleRequestAccess)
	mux.HandleFunc("POST /v1/recordings/start", s.handleStart)
	mux.HandleFunc("POST /v1/recordings/stop", s.handleStop)
	mux.HandleFunc("POST /v1/recordings/release", s.handleRelease)
	mux.HandleFunc("GET /v1/recordings", s.handleListRecordings)
	mux.HandleFunc("GET /v1/recordings/{id}", s.handleGetRecording)
	mux.HandleFunc("GET /v1/recordings/{id}/audio", s.handleGetAudio)
	mux.HandleFunc("DELETE /v1/recordings/{id}", s.handleDeleteRecording)

	mux.HandleFunc("POST /v1/corrections", s.handleCorrect)
	mux.HandleFunc("GET /v1/corrections/history", s.handleHistory)
	mux.HandleFunc("GET /v1/stats", s.handleStats)

	if s.cfg.Populator != nil {
		mux.HandleFunc("POST /v1/cache/refresh", s.handleCacheRefresh)
	}
	if s.cfg.Capture != nil {
		mux.Handle("GET /v1/capture", s.cfg.Capture)
	}

	mux.HandleFunc("DELETE /v1/content", s.handleClearAll)

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

// ── Status + connectivity ────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	// Refresh usage opportunistically so the snapshot is current; failures
	// degrade to the last known value.
	_ = s.cfg.Tracker.RefreshUsage(r.Context())
	writeJSON(w, http.StatusOK, s.cfg.Tracker.Status())
}

type connectivityRequest struct {
	Online bool `json:"online"`
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req connectivityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.cfg.Tracker.SetOnline(req.Online)
	writeJSON(w, http.StatusOK, s.cfg.Tracker.Status())
}

// ── Recordings ───────────────────────────────────────────────────────────────

type accessResponse struct {
	Granted bool `json:"granted"`
}

func (s *Server) handleRequestAccess(w http.ResponseWriter, r *http.Request) {
	granted := s.cfg.Pipeline.RequestAccess(r.Context())
	status := http.StatusOK
	if !granted {
		status = http.StatusForbidden
	}
	writeJSON(w, status, accessResponse{Granted: granted})
}

type startRequest struct {
	ID        string           `json:"id,omitempty"`
	Reference *quran.Reference `json:"reference,omitempty"`
}

type startResponse struct {
	Started bool   `json:"started"`
	State   string `json:"state"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Reference != nil {
		if err := req.Reference.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if !s.cfg.Pipeline.Start(r.Context(), req.ID, req.Reference) {
		s.metrics.RecordRecording(r.Context(), "rejected")
		writeError(w, http.StatusConflict, "capture already in progress or access not granted")
		return
	}
	s.metrics.RecordRecording(r.Context(), "started")
	writeJSON(w, http.StatusOK, startResponse{Started: true, State: s.cfg.Pipeline.State().String()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	meta, ok, err := s.cfg.Pipeline.Stop(r.Context())
	if !ok {
		writeError(w, http.StatusConflict, "no capture in progress")
		return
	}
	if err != nil {
		// Capture completed but persisting failed. The metadata (with its ID)
		// is still returned so the client can retry or discard explicitly.
		s.metrics.RecordRecording(r.Context(), "persist_failed")
		slog.Warn("recording persisted with errors", "id", meta.ID, "err", err)
		writeJSON(w, http.StatusInternalServerError, struct {
			recorder.Metadata
			Error string `json:"error"`
		}{Metadata: meta, Error: err.Error()})
		return
	}
	s.metrics.RecordRecording(r.Context(), "stopped")
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	s.cfg.Pipeline.Release()
	s.metrics.RecordRecording(r.Context(), "released")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	metas, err := s.cfg.Pipeline.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, metas)
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	rec, found, err := s.cfg.Pipeline.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "recording not found")
		return
	}
	writeJSON(w, http.StatusOK, rec.Metadata)
}

func (s *Server) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	rec, found, err := s.cfg.Pipeline.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found || len(rec.Audio) == 0 {
		writeError(w, http.StatusNotFound, "recording not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rec.Audio)
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Pipeline.Delete(r.Context(), r.PathValue("id")); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, recorder.ErrPartialDelete) {
			// One of the two entries is gone; the other write failed.
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Corrections ──────────────────────────────────────────────────────────────

type correctionRequest struct {
	Reference    quran.Reference `json:"reference"`
	RecordedText string          `json:"recorded_text"`
}

func (s *Server) handleCorrect(w http.ResponseWriter, r *http.Request) {
	var req correctionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result := s.cfg.Engine.Correct(r.Context(), req.Reference, req.RecordedText)

	outcome := "incorrect"
	if result.Correct {
		outcome = "correct"
	}
	s.metrics.RecordCorrection(r.Context(), result.Score, outcome)

	if err := s.cfg.History.Record(r.Context(), correction.Session{
		Reference:    req.Reference.String(),
		RecordedText: req.RecordedText,
		Score:        result.Score,
		Correct:      result.Correct,
	}); err != nil {
		// The correction itself succeeded; history persistence is secondary.
		slog.Warn("failed to record correction session", "err", err)
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.History.Sessions())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.History.Statistics())
}

// ── Cache refresh ────────────────────────────────────────────────────────────

type refreshResponse struct {
	Accepted bool `json:"accepted"`
	Passages int  `json:"passages"`
}

// handleCacheRefresh kicks off a background population pass over the
// configured passages. The pass outlives the request: it runs on a detached
// context so a client disconnect does not abort a half-finished download.
func (s *Server) handleCacheRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Tracker.Status().CanSync {
		writeError(w, http.StatusConflict, quran.ErrSyncUnavailable.Error())
		return
	}

	s.refreshMu.Lock()
	if s.refreshing {
		s.refreshMu.Unlock()
		writeError(w, http.StatusConflict, "cache refresh already in progress")
		return
	}
	s.refreshing = true
	s.refreshMu.Unlock()

	go func() {
		defer func() {
			s.refreshMu.Lock()
			s.refreshing = false
			s.refreshMu.Unlock()
		}()
		if err := s.cfg.Populator.Populate(context.WithoutCancel(r.Context()), s.cfg.Passages); err != nil {
			slog.Warn("cache refresh failed", "err", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, refreshResponse{Accepted: true, Passages: len(s.cfg.Passages)})
}

// ── Content reset ────────────────────────────────────────────────────────────

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.ClearAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── JSON helpers ─────────────────────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
}

// decodeJSON decodes the request body into out. On failure it writes a 400
// response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}
