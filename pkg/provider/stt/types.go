package stt

import "time"

// Transcript is one recognition result. Interim and final results share the
// type; IsFinal tells them apart.
type Transcript struct {
	// Text is the recognised utterance as returned by the backend, including
	// any punctuation it chose to add.
	Text string

	// IsFinal marks a result the backend will not revise any further.
	IsFinal bool

	// Confidence is the backend's score in [0, 1], or 0 when not reported.
	Confidence float64

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Seq numbers the results of one session in the order the backend
	// produced them, starting at 1. Interim and final results travel on
	// separate channels, so consumers use Seq to restore that order. Zero
	// means the handle does not number its results.
	Seq uint64
}

// KeywordBoost asks the backend to favour a phrase during recognition.
// Combat incantations are long and unusual, so boosting them noticeably
// improves recall for ultimate phrases.
type KeywordBoost struct {
	// Keyword is the phrase to boost (e.g., "소닉 펀치").
	Keyword string

	// Boost is the intensity on the backend's own scale.
	Boost float64
}
