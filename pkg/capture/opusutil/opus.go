// Package opusutil decodes Opus-framed microphone audio into raw PCM before
// it is persisted. Browser MediaRecorder clients typically deliver Opus
// packets; the content store holds plain little-endian int16 PCM so playback
// and duration math stay codec-agnostic.
package opusutil

import (
	"fmt"

	"layeh.com/gopus"
)

// Recitation capture uses 16 kHz mono at 20 ms frame size — the common
// speech-capture configuration, and what the websocket capture clients send.
const (
	SampleRate  = 16000
	Channels    = 1
	frameSizeMs = 20
	// frameSize is the number of samples per channel per 20 ms frame.
	frameSize = SampleRate * frameSizeMs / 1000 // 320
)

// Decoder wraps a gopus Opus decoder for a single capture stream. Each
// stream gets its own decoder so decoder state carries correctly across
// consecutive frames.
//
// Not safe for concurrent use; a decoder belongs to exactly one stream.
type Decoder struct {
	dec *gopus.Decoder
}

// NewDecoder creates a decoder configured for recitation capture audio.
func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("opusutil: create decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// Decode decodes one Opus packet into PCM and returns the result as
// little-endian int16 bytes.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opusutil: decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// int16sToBytes converts int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
