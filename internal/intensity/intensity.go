// Package intensity turns the loudness of a shout into the number that feeds
// the damage formula.
//
// Levels arrive on the sampler's 0–100 scale. The amount a player rose above
// their calibrated room noise is first scaled for the device class (phone
// microphones apply aggressive automatic gain) and then compressed
// logarithmically above [Threshold] so that screaming into the microphone
// stops paying off linearly.
package intensity

import "math"

const (
	// Threshold is the adjusted delta above which compression applies.
	Threshold = 50.0

	// K is the logarithmic compression coefficient.
	K = 20.0

	// MobileFactor scales raw deltas measured on mobile devices.
	MobileFactor = 0.65
)

// Normalizer maps raw loudness deltas to effective intensity. The zero value
// is a desktop normaliser.
type Normalizer struct {
	// Mobile selects the mobile scaling factor. It is decided once per client
	// from its hello message and does not change mid-session.
	Mobile bool
}

// Normalize returns the effective intensity for a raw delta. Non-positive
// input yields 0; values at or below [Threshold] pass through after device
// scaling; values above are compressed as Threshold + K*log10(1 + x - Threshold).
func (n Normalizer) Normalize(raw float64) float64 {
	if raw <= 0 || math.IsNaN(raw) {
		return 0
	}
	adjusted := raw
	if n.Mobile {
		adjusted *= MobileFactor
	}
	if adjusted > Threshold {
		return Threshold + K*math.Log10(1+adjusted-Threshold)
	}
	return adjusted
}

// RawDelta is the loudness above baseline, never negative.
func RawDelta(peak, baseline float64) float64 {
	return math.Max(0, peak-baseline)
}
