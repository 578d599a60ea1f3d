package engine

import "math"

// rollingBuf is a fixed-capacity rolling window of float samples with the
// lightweight statistics the score engine needs.
type rollingBuf struct {
	max int
	buf []float64
}

func newRollingBuf(max int) *rollingBuf {
	if max <= 0 {
		max = 16
	}
	return &rollingBuf{max: max}
}

func (r *rollingBuf) Add(v float64) {
	r.buf = append(r.buf, v)
	if len(r.buf) > r.max {
		r.buf = r.buf[len(r.buf)-r.max:]
	}
}

func (r *rollingBuf) Len() int { return len(r.buf) }

func (r *rollingBuf) Last() float64 {
	if len(r.buf) == 0 {
		return 0
	}
	return r.buf[len(r.buf)-1]
}

func (r *rollingBuf) Mean() float64 {
	if len(r.buf) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range r.buf {
		sum += v
	}
	return sum / float64(len(r.buf))
}

func (r *rollingBuf) Std() float64 {
	n := len(r.buf)
	if n < 2 {
		return 0
	}
	mean := r.Mean()
	ss := 0.0
	for _, v := range r.buf {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// ZScore is the standard score of the latest sample against the window.
func (r *rollingBuf) ZScore() float64 {
	std := r.Std()
	if std == 0 {
		return 0
	}
	return (r.Last() - r.Mean()) / std
}

// Slope fits a least-squares line over the last `lookback` samples.
func (r *rollingBuf) Slope(lookback int) float64 {
	n := len(r.buf)
	if n < 2 {
		return 0
	}
	if lookback >= n {
		lookback = n - 1
	}
	start := n - lookback - 1
	if start < 0 {
		start = 0
	}
	sumX, sumY, sumXY, sumXX := 0.0, 0.0, 0.0, 0.0
	idx := 0
	for i := start; i < n; i++ {
		x := float64(idx)
		y := r.buf[i]
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
		idx++
	}
	count := float64(idx)
	den := count*sumXX - sumX*sumX
	if den == 0 {
		return 0
	}
	return (count*sumXY - sumX*sumY) / den
}

func (r *rollingBuf) Reset() { r.buf = r.buf[:0] }

// rsi is an incrementally updated Wilder RSI.
type rsi struct {
	period   int
	avgGain  float64
	avgLoss  float64
	prev     float64
	seen     int
	hasPrev  bool
	sumGain  float64
	sumLoss  float64
}

func newRSI(period int) *rsi { return &rsi{period: period} }

func (r *rsi) Update(close float64) {
	if !r.hasPrev {
		r.prev = close
		r.hasPrev = true
		return
	}
	change := close - r.prev
	r.prev = close
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}
	r.seen++
	if r.seen <= r.period {
		r.sumGain += gain
		r.sumLoss += loss
		if r.seen == r.period {
			r.avgGain = r.sumGain / float64(r.period)
			r.avgLoss = r.sumLoss / float64(r.period)
		}
		return
	}
	n := float64(r.period)
	r.avgGain = (r.avgGain*(n-1) + gain) / n
	r.avgLoss = (r.avgLoss*(n-1) + loss) / n
}

func (r *rsi) Value() float64 {
	if r.seen < r.period {
		return 50
	}
	if r.avgLoss == 0 {
		if r.avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := r.avgGain / r.avgLoss
	return 100 - 100/(1+rs)
}

func (r *rsi) Reset() {
	r.avgGain, r.avgLoss, r.prev = 0, 0, 0
	r.seen, r.sumGain, r.sumLoss = 0, 0, 0
	r.hasPrev = false
}

// emaSmoother is the short secondary average applied to each raw score. It
// seeds to the first raw value, so a pooled track never inherits smoothing
// state from a previous instrument.
type emaSmoother struct {
	alpha float64
	v     float64
	init  bool
}

func newEMASmoother(period int) emaSmoother {
	return emaSmoother{alpha: 2.0 / float64(period+1)}
}

func (s *emaSmoother) Apply(raw float64) float64 {
	if !s.init {
		s.v = raw
		s.init = true
		return s.v
	}
	s.v = s.alpha*raw + (1-s.alpha)*s.v
	return s.v
}

func (s *emaSmoother) Reset() { s.init = false; s.v = 0 }

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

const degenerateEps = 1e-12

// safeRatio divides num by den, degrading to the neutral value and recording
// a diagnostic marker when the denominator is degenerate. Score computation
// never aborts on bad input.
func safeRatio(num, den, neutral float64, diag map[string]float64, term string) float64 {
	if math.Abs(den) < degenerateEps {
		diag["degenerate_"+term] = 1
		return neutral
	}
	return num / den
}
