// Package stt defines the Provider interface for speech-to-text backends that
// feed the live combat transcript.
//
// A provider wraps whatever recognition capability the host offers: the
// browser's own Web Speech API relayed over the combat socket, a streaming
// service such as Deepgram, or nothing at all. The central abstraction is
// SessionHandle: once opened, a session accepts raw PCM audio frames and emits
// two streams of Transcript values: interim partials that overwrite each other
// and finals that are authoritative for their utterance segment.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by optional session operations the backend
// cannot perform.
var ErrNotSupported = errors.New("stt: operation not supported")

// ErrClosed is returned by SendAudio after the session was closed.
var ErrClosed = errors.New("stt: session closed")

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz (48000 for most browsers).
	SampleRate int

	// Channels is the number of audio channels. Most providers expect 1.
	Channels int

	// Language is the BCP-47 language tag for recognition. Combat phrases are
	// Korean, so callers normally pass "ko" or "ko-KR".
	Language string

	// Keywords lists phrases whose recognition should be boosted, typically
	// every phrase in the active keyword catalog.
	Keywords []KeywordBoost
}

// SessionHandle represents an open STT streaming session. It is an interface so
// that test code can provide mock implementations without a live provider.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider.
	// Providers that do not consume audio (relay, none) discard it.
	// Calling SendAudio after Close returns ErrClosed.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel of interim transcripts.
	// The channel is closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel of authoritative transcripts.
	// The channel is closed when the session ends.
	Finals() <-chan Transcript

	// SetKeywords replaces the active keyword boost list without restarting the
	// session. Providers that cannot do this return ErrNotSupported.
	SetKeywords(keywords []KeywordBoost) error

	// Close terminates the session and releases its resources. After Close
	// returns, the Partials and Finals channels are closed. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The caller owns
	// the returned SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
