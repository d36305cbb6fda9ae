// Package wsdevice implements [capture.Device] on top of a websocket
// endpoint: a client application (typically a browser holding the real
// microphone) connects and streams binary audio frames, which become the
// chunks of the active capture stream.
//
// The server accepts one client at a time. Frames that arrive while no
// capture is active, or after the active stream's buffer is full, are
// dropped rather than blocking the websocket read loop.
package wsdevice

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/adnsalim/murattil/pkg/capture"
	"github.com/adnsalim/murattil/pkg/capture/opusutil"
)

// ErrStreamActive is returned by [Server.Open] while a previous stream has
// not been closed. The recording pipeline never does this; it enforces a
// single active capture.
var ErrStreamActive = errors.New("wsdevice: capture stream already open")

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithOpusDecode makes the server treat incoming binary frames as Opus
// packets and decode them to PCM before delivery. By default frames are
// passed through unmodified (raw PCM clients).
func WithOpusDecode() Option {
	return func(s *Server) {
		s.opus = true
	}
}

// WithBuffer sets the chunk channel capacity of streams created by Open.
// Default: 256.
func WithBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// Server is a websocket-fed [capture.Device]. Mount it on the HTTP mux and
// hand the same value to the recording pipeline as its device.
//
// Safe for concurrent use.
type Server struct {
	opus   bool
	buffer int

	mu        sync.Mutex
	stream    *wsStream
	connected bool
}

// Compile-time interface check.
var _ capture.Device = (*Server)(nil)

// New creates a websocket capture device.
func New(opts ...Option) *Server {
	s := &Server{buffer: 256}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open implements [capture.Device]. Access is considered granted as soon as
// a client is connected; with no client there is no microphone to acquire
// and Open fails with [capture.ErrPermissionDenied].
func (s *Server) Open(_ context.Context) (capture.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil && !s.stream.isClosed() {
		return nil, ErrStreamActive
	}
	if !s.connected {
		return nil, capture.ErrPermissionDenied
	}
	s.stream = newWSStream(s.buffer)
	return s.stream, nil
}

// ServeHTTP upgrades the request to a websocket and pumps binary frames into
// the active capture stream until the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("capture websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		conn.Close(websocket.StatusPolicyViolation, "another capture client is connected")
		return
	}
	s.connected = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
	}()

	var dec *opusutil.Decoder
	if s.opus {
		dec, err = opusutil.NewDecoder()
		if err != nil {
			slog.Error("capture websocket decoder init failed", "err", err)
			conn.Close(websocket.StatusInternalError, "decoder init failed")
			return
		}
	}

	slog.Info("capture client connected", "remote", r.RemoteAddr)

	for {
		typ, data, err := conn.Read(r.Context())
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				slog.Info("capture client disconnected")
			} else if !errors.Is(err, context.Canceled) {
				slog.Warn("capture websocket read failed", "err", err)
			}
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		if dec != nil {
			data, err = dec.Decode(data)
			if err != nil {
				slog.Warn("dropping undecodable frame", "err", err)
				continue
			}
		}
		s.deliver(data)
	}
}

// deliver hands one frame to the active stream. Frames are dropped when no
// capture is running or the stream buffer is full.
func (s *Server) deliver(data []byte) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return
	}
	stream.push(data)
}

// ─── wsStream ─────────────────────────────────────────────────────────────────

// wsStream is the [capture.Stream] handed to the recording pipeline.
//
// The mutex guards both the closed flag and the channel close, and push sends
// while holding it: a frame racing a concurrent Close must either land before
// the close or be dropped, never hit a closed channel.
type wsStream struct {
	chunks   chan capture.Chunk
	openedAt time.Time

	mu     sync.Mutex
	closed bool
}

func newWSStream(buffer int) *wsStream {
	return &wsStream{
		chunks:   make(chan capture.Chunk, buffer),
		openedAt: time.Now(),
	}
}

// Chunks implements [capture.Stream].
func (w *wsStream) Chunks() <-chan capture.Chunk {
	return w.chunks
}

// Close implements [capture.Stream]. Idempotent.
func (w *wsStream) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.chunks)
	return nil
}

func (w *wsStream) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// push enqueues one chunk, dropping it when the stream is closed or full.
// The non-blocking send happens under the mutex so it can never race a
// concurrent Close of the channel.
func (w *wsStream) push(data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	select {
	case w.chunks <- capture.Chunk{Data: data, Timestamp: time.Since(w.openedAt)}:
	default:
		slog.Warn("capture stream buffer full, dropping frame")
	}
}
