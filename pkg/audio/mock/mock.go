// Package mock provides an in-memory [audio.Stream] for unit tests.
//
// The mock records Stop calls so tests can assert that a capture was released
// exactly when expected. Frames are delivered through the exported FramesCh,
// which the test owns.
//
// Typical usage:
//
//	s := mock.NewStream(audio.Format{SampleRate: 48000, Channels: 1}, 16)
//	s.FramesCh <- audio.AudioFrame{Data: pcm, SampleRate: 48000, Channels: 1}
//	s.Stop()
//	if s.StopCount() != 1 { … }
package mock

import (
	"sync"

	"github.com/MrWong99/lastecho/pkg/audio"
)

// Stream is a mock implementation of [audio.Stream].
type Stream struct {
	mu sync.Mutex

	// FormatResult is returned by [Stream.Format].
	FormatResult audio.Format

	// FramesCh is returned by [Stream.Frames]. The first Stop closes it.
	FramesCh chan audio.AudioFrame

	stopCount int
}

var _ audio.Stream = (*Stream)(nil)

// NewStream returns a mock with a buffered frame channel.
func NewStream(format audio.Format, buffer int) *Stream {
	return &Stream{
		FormatResult: format,
		FramesCh:     make(chan audio.AudioFrame, buffer),
	}
}

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FormatResult
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FramesCh
}

// Stop implements [audio.Stream]. It records the call and closes FramesCh on
// the first invocation.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCount++
	if s.stopCount == 1 && s.FramesCh != nil {
		close(s.FramesCh)
	}
}

// StopCount returns how many times Stop was called. Thread-safe.
func (s *Stream) StopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCount
}
