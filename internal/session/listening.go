// Package session owns one combat view's listening pipeline: the microphone,
// the level sampler and the transcript stream, plus the small piece of state
// they write into and the attack resolver reads.
package session

import (
	"sync"

	"github.com/MrWong99/lastecho/internal/sampler"
)

// Snapshot is a consistent copy of the listening state.
type Snapshot struct {
	Active       bool    `json:"active"`
	CurrentLevel float64 `json:"current"`
	PeakLevel    float64 `json:"peak"`
	Transcript   string  `json:"transcript"`
}

// Listening is the state shared by the producers (sampler, transcript stream)
// and the consumers (attack resolution, trials). All fields are read together
// under one lock so a resolver never sees a peak from one moment and a
// transcript from another.
type Listening struct {
	mu         sync.Mutex
	active     bool
	current    float64
	peak       float64
	transcript string
}

var _ sampler.LevelSink = (*Listening)(nil)

// SetLevel records a reading. The peak only ever grows until the next
// [Listening.Begin].
func (l *Listening) SetLevel(level float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = level
	if level > l.peak {
		l.peak = level
	}
}

// Observe implements [sampler.LevelSink].
func (l *Listening) Observe(s sampler.Sample) { l.SetLevel(s.Level) }

// SetTranscript replaces the transcript.
func (l *Listening) SetTranscript(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transcript = text
}

// ClearTranscript empties the transcript without touching levels.
func (l *Listening) ClearTranscript() { l.SetTranscript("") }

// Snapshot returns a copy of the state.
func (l *Listening) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		Active:       l.active,
		CurrentLevel: l.current,
		PeakLevel:    l.peak,
		Transcript:   l.transcript,
	}
}

// Begin marks the session active and clears the peak and transcript.
func (l *Listening) Begin() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = true
	l.current = 0
	l.peak = 0
	l.transcript = ""
}

// End marks the session inactive and zeroes the current level. Peak and
// transcript are kept so an attack can still be resolved after stopping.
func (l *Listening) End() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = false
	l.current = 0
}

// Reset clears everything, as after an attack has been resolved.
func (l *Listening) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = 0
	l.peak = 0
	l.transcript = ""
}
