// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to check which StreamConfig the listening session opened with
// (language, keyword boosts from the catalog). Use Session to feed scripted
// interim and final transcripts and to inspect the PCM chunks forwarded from
// the microphone.
//
// Example:
//
//	sess := mock.NewSession(8)
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess.Emit("소닉", false)
//	sess.Emit("소닉 펀치!", true)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lastecho/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil, StartStream
	// returns a fresh Session from NewSession(16).
	Session stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(16), nil
}

// CallCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Session is a mock implementation of stt.SessionHandle. Close closes the
// transcript channels exactly once, like a real backend.
type Session struct {
	mu sync.Mutex

	partials chan stt.Transcript
	finals   chan stt.Transcript
	closed   bool
	seq      uint64

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SetKeywordsErr, if non-nil, is returned by every SetKeywords call.
	SetKeywordsErr error

	// chunks holds copies of every chunk passed to SendAudio.
	chunks [][]byte

	// keywords holds the last list passed to SetKeywords.
	keywords []stt.KeywordBoost

	closeCount int
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns a session whose transcript channels hold buffer results.
func NewSession(buffer int) *Session {
	return &Session{
		partials: make(chan stt.Transcript, buffer),
		finals:   make(chan stt.Transcript, buffer),
	}
}

// Emit queues a transcript as if the backend had produced it, numbered in
// emission order. It reports false when the session is closed or the buffer
// is full.
func (s *Session) Emit(text string, final bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	ch := s.partials
	if final {
		ch = s.finals
	}
	s.seq++
	select {
	case ch <- stt.Transcript{Text: text, IsFinal: final, Seq: s.seq}:
		return true
	default:
		return false
	}
}

// SendAudio records a copy of chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrClosed
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.chunks = append(s.chunks, cp)
	return s.SendAudioErr
}

// Partials implements stt.SessionHandle.
func (s *Session) Partials() <-chan stt.Transcript { return s.partials }

// Finals implements stt.SessionHandle.
func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

// SetKeywords records keywords and returns SetKeywordsErr.
func (s *Session) SetKeywords(keywords []stt.KeywordBoost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywords = append([]stt.KeywordBoost(nil), keywords...)
	return s.SetKeywordsErr
}

// Close records the call and closes the transcript channels once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	if !s.closed {
		s.closed = true
		close(s.partials)
		close(s.finals)
	}
	return nil
}

// AudioChunks returns the number of chunks received by SendAudio. Thread-safe.
func (s *Session) AudioChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// Keywords returns the last keyword list passed to SetKeywords. Thread-safe.
func (s *Session) Keywords() []stt.KeywordBoost {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stt.KeywordBoost(nil), s.keywords...)
}

// CloseCount returns how many times Close was called. Thread-safe.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}
