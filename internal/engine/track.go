package engine

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"RegimePull/internal/domain/models"
)

// ErrStaleBar marks a bar whose timestamp is not strictly greater than the
// track's last processed timestamp. Stale bars are dropped, never applied.
var ErrStaleBar = errors.New("stale bar")

// errTrackRebound marks a track that was recycled to another identity between
// lookup and lock acquisition. The caller re-resolves the track and retries;
// the rebound track is never mutated with the foreign bar.
var errTrackRebound = errors.New("track rebound")

// InstrumentTrack owns all mutable evaluation state for one instrument and
// timeframe: the EMA bank, the acceleration windows, the score smoothers, and
// the regime machine. It mutates exactly once per closed bar and is never
// shared across instruments. At most one evaluation is in flight per track.
type InstrumentTrack struct {
	mu sync.Mutex

	instrument string
	timeframe  string

	bank     *EMABank
	streams  []*AccelWindows
	prevEMA  []float64
	havePrev bool

	// rolling features feeding the quality scores
	bars      []models.Bar // bar tail, capped at histCap
	ema20Hist *rollingBuf  // baseline average, per bar
	ema50Hist *rollingBuf
	trBuf     *rollingBuf // true ranges (ATR window)
	atrHist   *rollingBuf // ATR per bar
	volBuf    *rollingBuf // volumes (z-score window)
	volZHist  *rollingBuf // volume z-scores
	sepBuf    *rollingBuf // (shortest-longest)/ATR band separation
	upRange   *rollingBuf // up-bar ranges
	downRange *rollingBuf // down-bar ranges
	osc       *rsi
	oscBuf    *rollingBuf // oscillator values
	dirBuf    *rollingBuf // directional strength values

	smoothTI, smoothTS, smoothOX, smoothDX, smoothEDX emaSmoother

	machine machineState

	histCap  int
	barsSeen int
	lastTS   time.Time
	lastSnap *models.RegimeSnapshot
}

const (
	atrPeriod  = 14
	volPeriod  = 20
	oscPeriod  = 14
	structLook = 50
)

// NewInstrumentTrack builds a fresh track for one instrument/timeframe pair.
func NewInstrumentTrack(instrument, timeframe string, p *Params) *InstrumentTrack {
	t := &InstrumentTrack{}
	t.init(instrument, timeframe, p)
	return t
}

func (t *InstrumentTrack) init(instrument, timeframe string, p *Params) {
	t.instrument = instrument
	t.timeframe = timeframe
	t.bank = NewEMABank(p)
	t.streams = make([]*AccelWindows, len(p.Periods))
	for i := range p.Periods {
		t.streams[i] = NewAccelWindows(p.MicroWin[i], p.MesoWin[i], p.BaseWin[i], p.NoiseBandMult)
	}
	t.prevEMA = make([]float64, len(p.Periods))
	t.histCap = p.MinHistory()
	if t.histCap < structLook {
		t.histCap = structLook
	}
	t.ema20Hist = newRollingBuf(structLook)
	t.ema50Hist = newRollingBuf(structLook)
	t.trBuf = newRollingBuf(atrPeriod)
	t.atrHist = newRollingBuf(structLook)
	t.volBuf = newRollingBuf(volPeriod)
	t.volZHist = newRollingBuf(volPeriod)
	t.sepBuf = newRollingBuf(structLook)
	t.upRange = newRollingBuf(volPeriod)
	t.downRange = newRollingBuf(volPeriod)
	t.osc = newRSI(oscPeriod)
	t.oscBuf = newRollingBuf(volPeriod)
	t.dirBuf = newRollingBuf(volPeriod)
	t.smoothTI = newEMASmoother(p.SmoothPeriod)
	t.smoothTS = newEMASmoother(p.SmoothPeriod)
	t.smoothOX = newEMASmoother(p.SmoothPeriod)
	t.smoothDX = newEMASmoother(p.SmoothPeriod)
	t.smoothEDX = newEMASmoother(p.SmoothPeriod)
	t.machine = newMachineState()
	t.barsSeen = 0
	t.havePrev = false
	t.lastTS = time.Time{}
	t.lastSnap = nil
	t.bars = t.bars[:0]
}

// Reset rebinds a pooled track to a new identity. Every smoother and buffer
// restarts from scratch so no score carries over between instruments.
func (t *InstrumentTrack) Reset(instrument, timeframe string, p *Params) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.init(instrument, timeframe, p)
}

// Instrument returns the bound instrument id.
func (t *InstrumentTrack) Instrument() string { return t.instrument }

// Timeframe returns the bound timeframe.
func (t *InstrumentTrack) Timeframe() string { return t.timeframe }

// LastSnapshot exposes the most recent emitted snapshot as a read-only view.
func (t *InstrumentTrack) LastSnapshot() *models.RegimeSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSnap
}

// LastTimestamp returns the close time of the last applied bar.
func (t *InstrumentTrack) LastTimestamp() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTS
}

// Apply folds one closed bar through the full pipeline: bank update, window
// recompute, score recompute, machine step, snapshot assembly. It returns
// ErrStaleBar for duplicate or out-of-order timestamps without mutating
// anything (the idempotency guarantee).
func (t *InstrumentTrack) Apply(bar *models.Bar, p *Params) (*models.RegimeSnapshot, []models.Transition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.apply(bar, p, true)
}

// Warm replays a historical bar without producing a snapshot. Used for the
// restart rebuild: state advances, nothing is re-emitted.
func (t *InstrumentTrack) Warm(bar *models.Bar, p *Params) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _, err := t.apply(bar, p, false)
	return err
}

func (t *InstrumentTrack) apply(bar *models.Bar, p *Params, emit bool) (*models.RegimeSnapshot, []models.Transition, error) {
	if bar.InstrumentID != t.instrument || bar.Timeframe != t.timeframe {
		return nil, nil, fmt.Errorf("%w: %s/%s bar on %s/%s track",
			errTrackRebound, bar.InstrumentID, bar.Timeframe, t.instrument, t.timeframe)
	}
	if !bar.CloseTime.After(t.lastTS) {
		return nil, nil, fmt.Errorf("%w: %s at %s (last %s)",
			ErrStaleBar, t.instrument, bar.CloseTime.Format(time.RFC3339), t.lastTS.Format(time.RFC3339))
	}
	t.lastTS = bar.CloseTime
	t.barsSeen++

	// 1. moving-average bank
	t.bank.Update(bar.Close)
	emas := t.bank.Values()

	// 2. acceleration windows over each average's first difference
	if t.havePrev {
		for i, w := range t.streams {
			w.Add(emas[i] - t.prevEMA[i])
		}
	}
	copy(t.prevEMA, emas)
	t.havePrev = true

	// rolling features
	t.updateFeatures(bar, emas)

	diag := make(map[string]float64, 16)

	warm := t.barsSeen < p.MinHistory()
	if warm {
		diag["insufficient_history"] = 1
		snap := t.buildSnapshot(bar, models.StateS0, models.Flags{WatchOnly: true}, models.ScoreSet{}, diag)
		if emit {
			t.lastSnap = snap
			return snap, nil, nil
		}
		return nil, nil, nil
	}

	// 3. quality scores (raw, then smoothed)
	raw := t.computeScores(bar, p, diag)
	scores := models.ScoreSet{
		TI:  t.smoothTI.Apply(raw.TI),
		TS:  t.smoothTS.Apply(raw.TS),
		OX:  t.smoothOX.Apply(raw.OX),
		DX:  t.smoothDX.Apply(raw.DX),
		EDX: t.smoothEDX.Apply(raw.EDX),
	}

	// 4. regime state machine
	atr := t.trBuf.Mean()
	in := machineInputs{
		Close:      bar.Close,
		EMAs:       emas,
		Accel:      t.streams[baselineIdx].Classify(),
		Meso50:     t.streams[baselineIdx+1].Classify().SMeso,
		Halo:       p.HaloMult * atr,
		Scores:     scores,
		Structural: bar.StructuralLevel,
	}
	events := t.machine.Step(in, p)

	if bearStack(emas) {
		diag["bear_stack"] = 1
	}

	flags := t.machine.Flags(in)
	flags.EntryZone = t.inBuyZone(bar.Close, emas)
	snap := t.buildSnapshot(bar, t.machine.state, flags, scores, diag)

	var transitions []models.Transition
	for _, ev := range events {
		transitions = append(transitions, models.Transition{
			InstrumentID: t.instrument,
			Timeframe:    t.timeframe,
			From:         ev.From,
			To:           ev.To,
			Rule:         ev.Rule,
			Scores:       scores,
			BarTime:      bar.CloseTime,
		})
	}

	if !emit {
		return nil, nil, nil
	}
	t.lastSnap = snap
	return snap, transitions, nil
}

func (t *InstrumentTrack) updateFeatures(bar *models.Bar, emas []float64) {
	// true range needs the prior close
	tr := bar.Range()
	if n := len(t.bars); n > 0 {
		prevClose := t.bars[n-1].Close
		if hi := bar.High - prevClose; hi > tr {
			tr = hi
		}
		if lo := prevClose - bar.Low; lo > tr {
			tr = lo
		}
	}
	t.trBuf.Add(tr)
	atr := t.trBuf.Mean()
	t.atrHist.Add(atr)

	t.bars = append(t.bars, *bar)
	if len(t.bars) > t.histCap {
		t.bars = t.bars[len(t.bars)-t.histCap:]
	}

	t.ema20Hist.Add(emas[baselineIdx])
	t.ema50Hist.Add(emas[baselineIdx+1])

	t.volBuf.Add(bar.Volume)
	t.volZHist.Add(t.volBuf.ZScore())

	if atr > degenerateEps {
		t.sepBuf.Add((emas[0] - emas[len(emas)-1]) / atr)
		t.dirBuf.Add((emas[baselineIdx] - emas[baselineIdx+1]) / atr)
	} else {
		t.sepBuf.Add(0)
		t.dirBuf.Add(0)
	}

	if r := bar.Range(); r > 0 {
		if bar.IsUp() {
			t.upRange.Add(r)
		} else {
			t.downRange.Add(r)
		}
	}

	t.osc.Update(bar.Close)
	t.oscBuf.Add(t.osc.Value())
}

// inBuyZone reports whether price sits on the buy side (lower half) of the
// widest moving-average hallway.
func (t *InstrumentTrack) inBuyZone(close float64, emas []float64) bool {
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
	if width < degenerateEps {
		return false
	}
	return (close-low)/width <= 0.5
}

func (t *InstrumentTrack) buildSnapshot(bar *models.Bar, state models.RegimeState, flags models.Flags, scores models.ScoreSet, diag map[string]float64) *models.RegimeSnapshot {
	accel := make(map[string]models.Acceleration, len(t.streams))
	for i, w := range t.streams {
		accel["ema"+strconv.Itoa(t.bank.periods[i])] = w.Classify()
	}
	return &models.RegimeSnapshot{
		InstrumentID: t.instrument,
		Timeframe:    t.timeframe,
		BarTime:      bar.CloseTime,
		State:        state,
		Flags:        flags,
		Scores:       scores,
		Acceleration: accel,
		Levels:       t.bank.Levels(),
		Diagnostics:  diag,
	}
}
