// Package mock provides in-memory mock implementations of the
// [capture.Device] and [capture.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts, and they expose exported fields the
// test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	stream, _ := dev.Open(ctx)
//	dev.Push([]byte{1, 2, 3})
//	dev.EndStream()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/adnsalim/murattil/pkg/capture"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [capture.Stream] fed by its owning
// [Device] via [Device.Push]. The mutex guards both the closed flag and the
// channel close, so a Push racing a Close can never hit a closed channel.
type Stream struct {
	mu       sync.Mutex
	chunks   chan capture.Chunk
	openedAt time.Time
	closed   bool

	// CloseError is returned by the first [Stream.Close] call.
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Chunks implements [capture.Stream].
func (s *Stream) Chunks() <-chan capture.Chunk {
	return s.chunks
}

// Close implements [capture.Stream]. The chunk channel is closed on the
// first call; subsequent calls are no-ops and return nil.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.chunks)
	return s.CloseError
}

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [capture.Device].
// Set the exported fields before use; inspect the Call* fields after.
type Device struct {
	mu sync.Mutex

	// OpenError is returned by [Device.Open] when non-nil. Set it to
	// [capture.ErrPermissionDenied] to simulate a refused prompt.
	OpenError error

	// Buffer is the chunk channel capacity for streams created by Open.
	// Defaults to 64 when zero.
	Buffer int

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	stream *Stream
}

// Open implements [capture.Device]. Each successful call replaces the
// device's active stream.
func (d *Device) Open(_ context.Context) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	buf := d.Buffer
	if buf == 0 {
		buf = 64
	}
	d.stream = &Stream{
		chunks:   make(chan capture.Chunk, buf),
		openedAt: time.Now(),
	}
	return d.stream, nil
}

// Push delivers data as the next chunk on the active stream. It is a no-op
// when no stream is open or the stream has been closed. The send happens
// under the stream mutex so it cannot race [Stream.Close].
func (d *Device) Push(data []byte) {
	d.mu.Lock()
	s := d.stream
	d.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.chunks <- capture.Chunk{Data: data, Timestamp: time.Since(s.openedAt)}
}

// EndStream terminates the active stream from the device side, closing its
// chunk channel as a real device does when capture stops externally.
func (d *Device) EndStream() {
	d.mu.Lock()
	s := d.stream
	d.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.chunks)
}

// ActiveStream returns the stream created by the most recent successful Open,
// or nil.
func (d *Device) ActiveStream() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}
