// Package capture defines the interfaces and types for audio-input
// connectivity within Murattil.
//
// The two primary abstractions are:
//
//   - [Device] — an audio-input capability that can be opened for capture.
//   - [Stream] — an active capture session delivering ordered audio chunks.
//
// Implementations are provided by adapter packages (e.g. capture/wsdevice for
// browser microphones streaming over a websocket). The interfaces are
// intentionally narrow so the recording pipeline stays decoupled from the
// input source.
//
// This package lives under pkg/ because external code (alternative input
// adapters) is expected to implement [Device] and [Stream].
package capture

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned by [Device.Open] when the user or platform
// refused access to the input device. The condition is recoverable — the
// caller may prompt again.
var ErrPermissionDenied = errors.New("capture: permission denied")

// Chunk is one segment of captured audio as produced by the device.
// Chunks arrive in capture order and must be concatenated in that order to
// reconstruct the recording.
type Chunk struct {
	// Data is PCM audio (little-endian int16 samples). Sample rate and
	// channel count are fixed by the device configuration.
	Data []byte

	// Timestamp marks when this chunk was captured, relative to stream start.
	Timestamp time.Duration
}

// Stream is an active capture session.
//
// A Stream is obtained from [Device.Open] and remains valid until
// [Stream.Close] is called. The chunks channel is closed when the stream
// ends, whether by Close or by the underlying device going away.
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// Chunks returns the read-only channel delivering captured audio in
	// arrival order. The channel is closed when the stream terminates.
	Chunks() <-chan Chunk

	// Close stops the capture and releases the device. It is safe to call
	// Close more than once; subsequent calls are no-ops and return nil.
	Close() error
}

// Device is an audio-input capability.
//
// Implementations must be safe for concurrent use, but at most one [Stream]
// is open at a time — the recording pipeline enforces single ownership.
type Device interface {
	// Open acquires the input device and starts capture. The supplied ctx
	// governs the acquisition attempt only; once open, the Stream lives
	// until [Stream.Close].
	//
	// Returns [ErrPermissionDenied] when access is refused, or another error
	// when the device cannot be acquired.
	Open(ctx context.Context) (Stream, error)
}
