// Package transcript keeps the latest recognised phrase of a listening
// session up to date.
//
// Recognisers deliver two kinds of results: interim guesses that are revised
// as the player keeps talking, and final results that close a segment. Both
// overwrite the session's transcript in the order the recogniser produced
// them; the attack resolver reads whatever is there at the moment the player
// attacks.
package transcript

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MrWong99/lastecho/pkg/provider/stt"
)

// TextSink receives the current transcript.
type TextSink interface {
	SetTranscript(text string)
}

// Observer is notified of every non-empty result after the sink was updated.
type Observer func(stt.Transcript)

// Stream pumps recognition results from a session handle into a sink.
type Stream struct {
	observers []Observer
}

// Option configures a [Stream].
type Option func(*Stream)

// WithObserver registers fn to see each applied result, for metrics or for
// forwarding transcripts to the client.
func WithObserver(fn Observer) Option {
	return func(s *Stream) { s.observers = append(s.observers, fn) }
}

// New returns a stream.
func New(opts ...Option) *Stream {
	s := &Stream{}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run forwards results from handle to sink until both result channels are
// closed or ctx is cancelled. Each result replaces the transcript with its
// trimmed text. Results that are empty after trimming are skipped: streaming
// recognisers emit them on silence and they would wipe a phrase the player
// just said.
//
// Interim and final results arrive on separate channels, so a buffered
// interim can be read after a later final. Numbered results older than the
// last applied one are dropped, which keeps a final from being overwritten
// by an interim it already superseded.
//
// Run returns nil when the handle's channels close and ctx.Err() on
// cancellation.
func (s *Stream) Run(ctx context.Context, handle stt.SessionHandle, sink TextSink) error {
	partials := handle.Partials()
	finals := handle.Finals()
	var last uint64
	for partials != nil || finals != nil {
		var (
			t  stt.Transcript
			ok bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok = <-partials:
			if !ok {
				partials = nil
				continue
			}
		case t, ok = <-finals:
			if !ok {
				finals = nil
				continue
			}
		}
		if t.Seq != 0 {
			if t.Seq < last {
				slog.Debug("stale transcript dropped", "seq", t.Seq, "last", last)
				continue
			}
			last = t.Seq
		}
		s.apply(t, sink)
	}
	return nil
}

func (s *Stream) apply(t stt.Transcript, sink TextSink) {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return
	}
	sink.SetTranscript(text)
	slog.Debug("transcript updated", "text", text, "final", t.IsFinal)
	for _, fn := range s.observers {
		fn(t)
	}
}
