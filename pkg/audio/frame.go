// Package audio defines the audio frame type and the capture stream
// abstraction shared by the microphone hosts and the level sampler.
//
// Frames carry little-endian signed 16-bit PCM. Hosts differ in where the
// samples come from (a browser relaying AudioWorklet output over WebSocket,
// a local capture device) but all of them hand out a [Stream] once
// microphone access has been granted.
//
// This package lives under pkg/ because host adapters outside this module
// are expected to produce [AudioFrame] values and implement [Stream].
package audio

import (
	"fmt"
	"time"
)

// AudioFrame is a single chunk of captured PCM audio.
type AudioFrame struct {
	// Data is interleaved little-endian int16 PCM.
	Data []byte

	// SampleRate in Hz (48000 for most browsers, 44100 on some Safari builds).
	SampleRate int

	// Channels is 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel carried by the frame.
func (f AudioFrame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / (2 * f.Channels)
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// Format describes the sample rate and channel count of a stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Validate reports whether f describes a stream the sampler can consume.
func (f Format) Validate() error {
	if f.SampleRate < 8000 || f.SampleRate > 192000 {
		return fmt.Errorf("audio: sample rate %d out of range [8000, 192000]", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("audio: unsupported channel count %d", f.Channels)
	}
	return nil
}

// String returns a human-readable form such as "48000Hz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
