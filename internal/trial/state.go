package trial

import (
	"math"
	"strings"

	"github.com/MrWong99/lastecho/internal/lexicon"
)

// Status is the lifecycle stage of a trial attempt.
type Status string

const (
	StatusIdle    Status = "IDLE"
	StatusPlaying Status = "PLAYING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// sustainPenalty is subtracted from SUSTAIN progress on every tick spent
// below the target.
const sustainPenalty = 2

// Reading is what the trial sees of the listening session on each tick.
type Reading struct {
	CurrentLevel float64
	PeakLevel    float64
	Transcript   string
}

// Snapshot is the externally visible state of an attempt.
type Snapshot struct {
	TrialID       string  `json:"trial_id"`
	Status        Status  `json:"status"`
	Progress      float64 `json:"progress"`
	Remaining     int     `json:"remaining_seconds"`
	SequenceIndex int     `json:"sequence_index,omitempty"`
	NextKeyword   string  `json:"next_keyword,omitempty"`
}

// State is the pure trial state machine. It is not safe for concurrent use;
// [Runner] serialises access.
type State struct {
	def       Definition
	status    Status
	progress  float64
	remaining int
	seqIdx    int
}

// NewState returns an idle attempt at def.
func NewState(def Definition) *State {
	return &State{def: def, status: StatusIdle, remaining: int(def.TimeLimit().Seconds())}
}

// Start begins (or restarts) the attempt: progress and sequence position go
// back to zero and the clock is reset to the time limit.
func (s *State) Start() {
	s.status = StatusPlaying
	s.progress = 0
	s.seqIdx = 0
	s.remaining = int(s.def.TimeLimit().Seconds())
}

// Status returns the current lifecycle stage.
func (s *State) Status() Status { return s.status }

// Tick evaluates one 100 ms step. It reports whether the transcript was
// consumed (a SEQUENCE keyword was recognised) and should be cleared.
func (s *State) Tick(r Reading) (consumed bool) {
	if s.status != StatusPlaying {
		return false
	}
	switch s.def.Type {
	case TypeSustain:
		if r.CurrentLevel >= s.def.TargetDB {
			s.progress += 100 / float64(s.def.DurationSeconds*10)
			if s.progress >= 100 {
				s.succeed()
			}
		} else {
			s.progress = math.Max(0, s.progress-sustainPenalty)
		}
	case TypeZenith:
		if r.PeakLevel >= s.def.TargetDB {
			s.succeed()
		} else {
			s.progress = math.Max(0, r.PeakLevel/s.def.TargetDB*100)
		}
	case TypeSequence:
		if r.Transcript == "" || s.seqIdx >= len(s.def.Sequence) {
			return false
		}
		target := lexicon.Clean(s.def.Sequence[s.seqIdx])
		if !strings.Contains(lexicon.Clean(r.Transcript), target) {
			return false
		}
		s.seqIdx++
		s.progress = float64(s.seqIdx) / float64(len(s.def.Sequence)) * 100
		if s.seqIdx >= len(s.def.Sequence) {
			s.succeed()
		}
		return true
	}
	return false
}

// Second counts down one second of the time limit. The attempt fails when
// the clock would reach zero.
func (s *State) Second() {
	if s.status != StatusPlaying {
		return
	}
	if s.remaining <= 1 {
		s.remaining = 0
		s.status = StatusFailed
		return
	}
	s.remaining--
}

func (s *State) succeed() {
	s.progress = 100
	s.status = StatusSuccess
}

// Snapshot returns the visible state.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		TrialID:   s.def.ID,
		Status:    s.status,
		Progress:  s.progress,
		Remaining: s.remaining,
	}
	if s.def.Type == TypeSequence {
		snap.SequenceIndex = s.seqIdx
		if s.seqIdx < len(s.def.Sequence) {
			snap.NextKeyword = s.def.Sequence[s.seqIdx]
		}
	}
	return snap
}
