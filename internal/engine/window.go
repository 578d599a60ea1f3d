package engine

import (
	"math"

	"RegimePull/internal/domain/models"
)

// AccelWindows keeps three rolling windows (micro/meso/base) over one slope
// stream and classifies the smoothed triple. The buffer is capped at the base
// span; insertion evicts the oldest sample.
type AccelWindows struct {
	micro, meso, base int
	noiseMult         float64
	buf               []float64
}

func NewAccelWindows(micro, meso, base int, noiseMult float64) *AccelWindows {
	return &AccelWindows{micro: micro, meso: meso, base: base, noiseMult: noiseMult}
}

// Add appends one slope sample, evicting the oldest when full.
func (w *AccelWindows) Add(s float64) {
	w.buf = append(w.buf, s)
	if len(w.buf) > w.base {
		w.buf = w.buf[len(w.buf)-w.base:]
	}
}

// Full reports whether the base window has been filled.
func (w *AccelWindows) Full() bool { return len(w.buf) >= w.base }

func (w *AccelWindows) meanLast(n int) float64 {
	if n > len(w.buf) {
		n = len(w.buf)
	}
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range w.buf[len(w.buf)-n:] {
		sum += v
	}
	return sum / float64(n)
}

// NoiseBand is the dispersion of the meso window scaled by the configured
// multiplier. Slope differences inside the band count as equal.
func (w *AccelWindows) NoiseBand() float64 {
	n := w.meso
	if n > len(w.buf) {
		n = len(w.buf)
	}
	if n < 2 {
		return 0
	}
	tail := w.buf[len(w.buf)-n:]
	mean := 0.0
	for _, v := range tail {
		mean += v
	}
	mean /= float64(n)
	ss := 0.0
	for _, v := range tail {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss/float64(n-1)) * w.noiseMult
}

// Means returns the micro/meso/base window means.
func (w *AccelWindows) Means() (micro, meso, base float64) {
	return w.meanLast(w.micro), w.meanLast(w.meso), w.meanLast(w.base)
}

// Classify evaluates the slope triple against the noise band.
func (w *AccelWindows) Classify() models.Acceleration {
	micro, meso, base := w.Means()
	return models.Acceleration{
		Pattern: classifySlopes(micro, meso, base, w.NoiseBand()),
		SMicro:  micro,
		SMeso:   meso,
		SBase:   base,
	}
}

// Reset clears the sample buffer for track reuse.
func (w *AccelWindows) Reset() { w.buf = w.buf[:0] }

// classifySlopes maps a slope triple onto exactly one acceleration pattern.
// Pure; evaluated in priority order, first match wins.
func classifySlopes(micro, meso, base, band float64) models.AccelPattern {
	greater := func(a, b float64) bool { return a-b > band }
	approx := func(a, b float64) bool { return math.Abs(a-b) <= band }

	switch {
	case greater(micro, meso) && greater(meso, base) && base > 0 && meso >= 0:
		return models.AccelUp
	case greater(meso, micro) && greater(base, meso) && base < 0 && meso <= 0:
		return models.AccelDown
	case greater(meso, micro) && greater(meso, base):
		return models.RollingOver
	case greater(micro, meso) && greater(base, meso):
		return models.Bottoming
	case approx(micro, meso) && greater(micro, base) && greater(meso, base) && micro >= 0 && meso >= 0:
		return models.SteadyUp
	default:
		return models.Steady
	}
}

// isLiftPattern reports whether a classification counts as an EMA lift for
// S0->S1 confirmation: fully accelerating, or a steady lift with the meso
// slope non-negative.
func isLiftPattern(a models.Acceleration) bool {
	return a.Pattern == models.AccelUp || (a.Pattern == models.SteadyUp && a.SMeso >= 0)
}
