package engine

import (
	"fmt"
	"math"

	"RegimePull/pkg/config"
)

// Params is the compiled, immutable form of config.EngineConfig. One Params
// value is shared read-only by every track; the tracker replaces it via
// atomic swap so no evaluation ever observes a torn configuration.
type Params struct {
	Periods []int
	Alphas  []float64

	MicroWin []int // per period
	MesoWin  []int
	BaseWin  []int

	NoiseBandMult float64
	HaloMult      float64

	ConfirmBars  int
	SmoothPeriod int

	GateTI float64
	GateTS float64

	CooldownBars int
	RelaxS1Entry bool

	Weights config.ScoreWeights
}

// NewParams compiles and re-validates an engine configuration. Validation
// failures here are fatal at load time, never during live evaluation.
func NewParams(e *config.EngineConfig) (*Params, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	p := &Params{
		Periods:       append([]int(nil), e.Periods...),
		NoiseBandMult: e.NoiseBandMult,
		HaloMult:      e.HaloMult,
		ConfirmBars:   e.ConfirmBars,
		SmoothPeriod:  e.SmoothPeriod,
		GateTI:        e.GateTI,
		GateTS:        e.GateTS,
		CooldownBars:  e.CooldownBars,
		RelaxS1Entry:  e.RelaxS1Entry,
		Weights:       e.Weights,
	}
	for _, n := range p.Periods {
		p.Alphas = append(p.Alphas, 2.0/float64(n+1))
		p.MicroWin = append(p.MicroWin, windowSize(n, e.MicroDiv, e.MicroMin))
		p.MesoWin = append(p.MesoWin, windowSize(n, e.MesoDiv, e.MesoMin))
		p.BaseWin = append(p.BaseWin, windowSize(n, e.BaseDiv, e.BaseMin))
	}
	return p, nil
}

func windowSize(period, div, min int) int {
	w := int(math.Round(float64(period) / float64(div)))
	if w < min {
		w = min
	}
	return w
}

// MinHistory is the number of bars a track must absorb before it classifies:
// the base window of the slowest stream plus one bar for the first slope.
// The restart contract rebuilds a track from exactly this many stored bars.
func (p *Params) MinHistory() int {
	max := 0
	for _, w := range p.BaseWin {
		if w > max {
			max = w
		}
	}
	return max + 1
}

// Longest returns the longest EMA period.
func (p *Params) Longest() int { return p.Periods[len(p.Periods)-1] }
