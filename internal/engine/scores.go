package engine

import (
	"math"

	"RegimePull/internal/domain/models"
)

// Rail weights for the overextension score, shortest period first. Short
// rails dominate: price stretched far from its fast averages is the earliest
// overextension signal.
var railWeights = []float64{0.30, 0.25, 0.20, 0.15, 0.06, 0.04}

// computeScores produces the five raw composite scores for the current bar.
// Expansion Decay runs first because it modulates Overextension and
// Deep-Zone Buy. Every sub-term is recorded in diag for auditing.
func (t *InstrumentTrack) computeScores(bar *models.Bar, p *Params, diag map[string]float64) models.ScoreSet {
	atr := t.trBuf.Mean()

	edx := t.scoreEDX(atr, p, diag)
	ti := t.scoreTI(bar, atr, p, diag)
	ts := t.scoreTS(p, diag)
	ox := t.scoreOX(bar, atr, edx, p, diag)
	dx := t.scoreDX(bar, atr, edx, p, diag)

	return models.ScoreSet{TI: ti, TS: ts, OX: ox, DX: dx, EDX: edx}
}

// scoreTI measures how well the trend structure is holding together around
// the baseline (third-shortest) average.
func (t *InstrumentTrack) scoreTI(bar *models.Bar, atr float64, p *Params, diag map[string]float64) float64 {
	w := p.Weights.TI
	emas := t.bank.Values()
	baseline := emas[baselineIdx]
	halo := p.HaloMult * atr

	// support persistence over the last three bars against the baseline as
	// it stood on each bar
	look := 3
	if len(t.bars) < look {
		look = len(t.bars)
	}
	above, reaction, wick := 0.0, 0.0, 0.0
	for i := 0; i < look; i++ {
		b := t.bars[len(t.bars)-1-i]
		ref := t.ema20Hist.buf[len(t.ema20Hist.buf)-1-i]
		if b.Close > ref {
			above++
		}
		r := b.Range()
		reaction += safeRatio(b.Close-b.Low, r, 0.5, diag, "ti_reaction")
		lower := math.Min(b.Open, b.Close) - b.Low
		wick += safeRatio(lower, r, 0.5, diag, "ti_wick")
	}
	if look > 0 {
		above /= float64(look)
		reaction /= float64(look)
		wick /= float64(look)
	}
	touch := 0.0
	if halo > degenerateEps {
		touch = clamp01(1 - math.Abs(bar.Close-baseline)/(2*halo))
	}
	supportRaw := 0.35*above + 0.25*reaction + 0.20*wick + 0.20*touch
	support := sigmoid(4 * (supportRaw - 0.5))

	// stack alignment plus lift classification on the baseline stream
	ordered := 0.0
	for i := 0; i < len(emas)-1; i++ {
		if emas[i] > emas[i+1] {
			ordered++
		}
	}
	ordered /= float64(len(emas) - 1)
	lift := 0.0
	if isLiftPattern(t.streams[baselineIdx].Classify()) {
		lift = 1
	}
	align := sigmoid(4 * (0.75*ordered + 0.25*lift - 0.5))

	// volatility coherence: calm or contracting ATR supports the trend
	atrRatio := safeRatio(atr, t.atrHist.Mean(), 1, diag, "ti_atr")
	coherence := sigmoid(2 * (1.2 - atrRatio))

	ti := w.Support*support + w.Alignment*align + w.Coherence*coherence

	// optional structural-level boost: additive, never a gate
	if bar.StructuralLevel > 0 && halo > degenerateEps && math.Abs(bar.StructuralLevel-baseline) <= halo {
		ti += w.StructuralBoost
		diag["ti_structural_boost"] = 1
	}

	diag["ti_support"] = support
	diag["ti_alignment"] = align
	diag["ti_coherence"] = coherence
	return clamp01(ti)
}

// scoreTS is the momentum composite and the primary entry gate: normalized
// meso slopes of the momentum oscillator and of directional strength.
func (t *InstrumentTrack) scoreTS(p *Params, diag map[string]float64) float64 {
	w := p.Weights.TS

	oscSlope := t.oscBuf.Slope(5)
	osc := sigmoid(1.2 * oscSlope)

	dirSlope := t.dirBuf.Slope(5)
	dir := sigmoid(12 * dirSlope)

	diag["ts_osc_slope"] = oscSlope
	diag["ts_dir_slope"] = dirSlope
	return clamp01(w.Oscillator*osc + w.Directional*dir)
}

// scoreOX measures how stretched price is above its rails, boosted when
// expansion decay says the move is running on fumes.
func (t *InstrumentTrack) scoreOX(bar *models.Bar, atr, edx float64, p *Params, diag map[string]float64) float64 {
	w := p.Weights.OX
	emas := t.bank.Values()

	rails := 0.0
	for i, v := range emas {
		dist := safeRatio(bar.Close-v, atr, 0, diag, "ox_rail")
		rails += railWeights[i] * sigmoid(dist-2)
	}

	sep := t.sepBuf.Last()
	bands := sigmoid(sep - t.sepBuf.Mean())

	atrRatio := safeRatio(atr, t.atrHist.Mean(), 1, diag, "ox_atr")
	surge := sigmoid(3 * (atrRatio - 1))

	ox := w.Rails*rails + w.Bands*bands + w.Surge*surge
	if edx > 0.5 {
		ox *= 1 + w.DecayBoost*clamp01((edx-0.5)/0.5)
		diag["ox_decay_boost"] = 1
	}

	diag["ox_rails"] = rails
	diag["ox_bands"] = bands
	diag["ox_surge"] = surge
	return clamp01(ox)
}

// scoreDX rates a deep pullback into the moving-average hallway as a buy
// location, suppressed when expansion decay marks the structure as failing.
func (t *InstrumentTrack) scoreDX(bar *models.Bar, atr, edx float64, p *Params, diag map[string]float64) float64 {
	w := p.Weights.DX
	emas := t.bank.Values()

	low, high := emas[0], emas[0]
	for _, v := range emas[1:] {
		if v < low {
			low = v
		}
		if v > high {
			high = v
		}
	}
	width := high - low
	pos := safeRatio(bar.Close-low, width, 0.5, diag, "dx_pos")
	location := sigmoid(4 * (0.5 - pos))
	widthATR := safeRatio(width, atr, 6, diag, "dx_width")
	compression := 1 + 0.5*clamp01(1-widthATR/6)
	locTerm := clamp01(location * compression)

	exhaustion := sigmoid(-t.volBuf.ZScore())

	atrRatio := safeRatio(atr, t.atrHist.Mean(), 1, diag, "dx_atr")
	relief := 0.5*sigmoid((35-t.osc.Value())/8) + 0.5*sigmoid(2*(1-atrRatio))

	curl := 0.0
	shortest := t.streams[0].Classify()
	switch {
	case shortest.Pattern == models.Bottoming:
		curl = 1
	case shortest.SMicro > shortest.SMeso:
		curl = 0.3
	}

	dx := w.Location*locTerm + w.Exhaustion*exhaustion + w.Relief*relief + w.Curl*curl
	if edx > 0.6 {
		dx *= 1 - w.DecaySuppress*clamp01((edx-0.6)/0.4)
		diag["dx_decay_suppress"] = 1
	}
	if pos <= 0.5 {
		diag["dx_in_zone"] = 1
	}

	diag["dx_location"] = locTerm
	diag["dx_exhaustion"] = exhaustion
	diag["dx_relief"] = relief
	diag["dx_curl"] = curl
	return clamp01(dx)
}

// scoreEDX detects a maturing expansion losing thrust: the two slowest
// averages flattening, structure failing, participation fading, downside
// volatility dominating, and band separation rolling over.
func (t *InstrumentTrack) scoreEDX(atr float64, p *Params, diag map[string]float64) float64 {
	w := p.Weights.EDX

	// slow-curvature decay of the two longest averages: micro window mean
	// falling below the base window mean means deceleration
	curv := 0.0
	slow := t.streams[len(t.streams)-2:]
	for _, s := range slow {
		micro, _, base := s.Means()
		band := s.NoiseBand()
		curv += sigmoid(-safeRatio(micro-base, band, 0, diag, "edx_curv"))
	}
	curv /= float64(len(slow))

	// structural failure: closes below the mid (fourth) average over the
	// lookback
	fails, total := 0.0, 0.0
	n := len(t.bars)
	look := structLook
	if look > n {
		look = n
	}
	for i := 0; i < look; i++ {
		b := t.bars[n-1-i]
		ref := t.ema50Hist.buf[len(t.ema50Hist.buf)-1-i]
		if b.Close < ref {
			fails++
		}
		total++
	}
	failRatio := 0.0
	if total > 0 {
		failRatio = fails / total
	}
	structure := sigmoid(6 * (failRatio - 0.35))

	// participation decay via the volume z-score and its drift
	volZ := t.volBuf.ZScore()
	participation := sigmoid(-volZ - 2*t.volZHist.Slope(5))

	// volatility asymmetry between up-bars and down-bars
	asymRatio := safeRatio(t.downRange.Mean(), t.upRange.Mean(), 1, diag, "edx_asym")
	asymmetry := sigmoid(2 * (asymRatio - 1))

	// geometric band-separation rollover
	rollover := sigmoid(-10 * t.sepBuf.Slope(10))

	edx := w.Curvature*curv + w.Structure*structure + w.Participation*participation +
		w.Asymmetry*asymmetry + w.Rollover*rollover

	diag["edx_curvature"] = curv
	diag["edx_structure"] = structure
	diag["edx_participation"] = participation
	diag["edx_asymmetry"] = asymmetry
	diag["edx_rollover"] = rollover
	return clamp01(edx)
}
