// Package sampler measures microphone loudness on the game's 0–100 scale.
//
// The scale is defined by a frequency analyser equivalent to the one browsers
// expose to web pages: a 256-point Blackman-windowed FFT whose magnitudes are
// smoothed over time, converted to decibels and mapped onto a byte range. The
// mean of those bytes, times 1.5 and clamped to 100, is the level. Keeping the
// exact pipeline matters because calibration baselines and ultimate-phrase
// thresholds are expressed on this scale.
package sampler

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// DefaultFFTSize is the analysis window in samples.
	DefaultFFTSize = 256

	// DefaultSmoothing is the time constant applied to bin magnitudes.
	DefaultSmoothing = 0.8

	// DefaultMinDB and DefaultMaxDB bound the byte mapping.
	DefaultMinDB = -100.0
	DefaultMaxDB = -30.0

	// levelGain scales the mean byte value onto the level range.
	levelGain = 1.5

	// MaxLevel is the top of the level scale.
	MaxLevel = 100.0
)

// Analyser keeps the most recent FFT window of mono samples and computes
// smoothed byte frequency data from it. It is not safe for concurrent use.
type Analyser struct {
	size      int
	smoothing float64
	minDB     float64
	maxDB     float64

	fft      *fourier.FFT
	window   []float64
	buf      []float64 // last size samples, oldest first
	scratch  []float64
	coeffs   []complex128
	smoothed []float64
	bytes    []byte
}

// AnalyserOption configures an [Analyser].
type AnalyserOption func(*Analyser)

// WithFFTSize sets the window length. It must be a power of two of at least
// 32; other values are ignored.
func WithFFTSize(n int) AnalyserOption {
	return func(a *Analyser) {
		if n >= 32 && n&(n-1) == 0 {
			a.size = n
		}
	}
}

// WithSmoothing sets the smoothing time constant in [0, 1).
func WithSmoothing(s float64) AnalyserOption {
	return func(a *Analyser) {
		if s >= 0 && s < 1 {
			a.smoothing = s
		}
	}
}

// NewAnalyser returns an analyser with browser-default parameters.
func NewAnalyser(opts ...AnalyserOption) *Analyser {
	a := &Analyser{
		size:      DefaultFFTSize,
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDB,
		maxDB:     DefaultMaxDB,
	}
	for _, o := range opts {
		o(a)
	}
	a.fft = fourier.NewFFT(a.size)
	a.window = blackman(a.size)
	a.buf = make([]float64, a.size)
	a.scratch = make([]float64, a.size)
	a.coeffs = make([]complex128, a.size/2+1)
	a.smoothed = make([]float64, a.size/2)
	a.bytes = make([]byte, a.size/2)
	return a
}

// Size returns the FFT window length.
func (a *Analyser) Size() int { return a.size }

// Write appends samples to the time-domain window, discarding the oldest.
func (a *Analyser) Write(samples []float64) {
	if len(samples) >= a.size {
		copy(a.buf, samples[len(samples)-a.size:])
		return
	}
	copy(a.buf, a.buf[len(samples):])
	copy(a.buf[a.size-len(samples):], samples)
}

// ByteFrequencyData computes one smoothed spectrum and returns it as bytes,
// one per bin (size/2 bins). The returned slice is reused by the next call.
func (a *Analyser) ByteFrequencyData() []byte {
	for i, v := range a.buf {
		a.scratch[i] = v * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.scratch)

	n := float64(a.size)
	scale := 255 / (a.maxDB - a.minDB)
	for k := range a.smoothed {
		mag := cmplx.Abs(a.coeffs[k]) / n
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag

		db := a.minDB
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		v := math.Floor(scale * (db - a.minDB))
		a.bytes[k] = byte(max(0, min(255, v)))
	}
	return a.bytes
}

// Level computes the current loudness on the 0–100 scale.
func (a *Analyser) Level() float64 {
	data := a.ByteFrequencyData()
	var sum int
	for _, b := range data {
		sum += int(b)
	}
	mean := float64(sum) / float64(len(data))
	return max(0, min(MaxLevel, mean*levelGain))
}

// Reset clears the window and the smoothing history.
func (a *Analyser) Reset() {
	clear(a.buf)
	clear(a.smoothed)
}

// blackman returns the classic Blackman window (alpha 0.16).
func blackman(n int) []float64 {
	const (
		a0 = 0.42
		a1 = 0.5
		a2 = 0.08
	)
	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}
