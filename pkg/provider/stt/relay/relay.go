// Package relay provides an STT provider fed by transcripts the client already
// recognised on its side, typically the browser's Web Speech API running with
// continuous interim results in ko-KR.
//
// The combat socket calls [Provider.Publish] for every recognition result the
// client sends; the provider forwards it to the currently open session. Audio
// sent to a relay session is discarded because recognition already happened
// on the client.
package relay

import (
	"context"
	"sync"

	"github.com/MrWong99/lastecho/pkg/provider/stt"
)

// bufferSize bounds the number of undelivered results per channel. Older
// interim results are expendable because each one overwrites the previous.
const bufferSize = 32

// Provider implements [stt.Provider] for client-side recognition. One
// Provider serves one client connection; at most one session is live at a time
// and opening a new one closes the previous session.
type Provider struct {
	mu      sync.Mutex
	current *session
}

var _ stt.Provider = (*Provider)(nil)

// New returns a relay provider with no open session.
func New() *Provider { return &Provider{} }

// StartStream implements [stt.Provider].
func (p *Provider) StartStream(ctx context.Context, _ stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &session{
		owner:    p,
		partials: make(chan stt.Transcript, bufferSize),
		finals:   make(chan stt.Transcript, bufferSize),
	}

	p.mu.Lock()
	prev := p.current
	p.current = s
	p.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return s, nil
}

// Publish forwards a client-side recognition result to the open session.
// It reports false when no session is open or the result had to be dropped.
func (p *Provider) Publish(t stt.Transcript) bool {
	p.mu.Lock()
	s := p.current
	p.mu.Unlock()
	if s == nil {
		return false
	}
	return s.deliver(t)
}

// detach clears s as the current session if it still is.
func (p *Provider) detach(s *session) {
	p.mu.Lock()
	if p.current == s {
		p.current = nil
	}
	p.mu.Unlock()
}

// session is the handle returned by [Provider.StartStream].
type session struct {
	owner    *Provider
	partials chan stt.Transcript
	finals   chan stt.Transcript

	mu     sync.Mutex
	closed bool
	seq    uint64
}

func (s *session) deliver(t stt.Transcript) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.seq++
	t.Seq = s.seq
	ch := s.partials
	if t.IsFinal {
		ch = s.finals
	}
	select {
	case ch <- t:
		return true
	default:
		return false
	}
}

func (s *session) SendAudio([]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrClosed
	}
	return nil
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }
func (s *session) Finals() <-chan stt.Transcript   { return s.finals }

// SetKeywords is not supported: the browser recogniser takes no hints.
func (s *session) SetKeywords([]stt.KeywordBoost) error { return stt.ErrNotSupported }

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.partials)
	close(s.finals)
	s.mu.Unlock()

	s.owner.detach(s)
	return nil
}
