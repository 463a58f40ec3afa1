package stt

import (
	"context"
	"sync"
)

// None is the provider used when the host has no speech recognition at all.
// Its sessions accept and discard audio and never emit a transcript, so every
// keyword attack resolves to the no-keyword outcome while the echo attack
// keeps working.
type None struct{}

var _ Provider = None{}

// StartStream implements [Provider].
func (None) StartStream(ctx context.Context, _ StreamConfig) (SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &silentSession{
		partials: make(chan Transcript),
		finals:   make(chan Transcript),
	}, nil
}

// silentSession is the SessionHandle returned by [None].
type silentSession struct {
	partials chan Transcript
	finals   chan Transcript

	mu     sync.Mutex
	closed bool
}

func (s *silentSession) SendAudio([]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *silentSession) Partials() <-chan Transcript { return s.partials }
func (s *silentSession) Finals() <-chan Transcript   { return s.finals }

func (s *silentSession) SetKeywords([]KeywordBoost) error { return nil }

func (s *silentSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.partials)
	close(s.finals)
	return nil
}
