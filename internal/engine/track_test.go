package engine

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/creasty/defaults"

	"RegimePull/internal/domain/models"
	"RegimePull/pkg/config"
)

// genBars produces a deterministic rising series with mild oscillation. Close
// times step one hour apart starting from a fixed epoch.
func genBars(n int) []models.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.Bar, n)
	price := 100.0
	for i := 0; i < n; i++ {
		drift := 0.4
		if i%7 == 3 {
			drift = -0.3
		}
		price += drift
		open := price - 0.2
		bars[i] = models.Bar{
			InstrumentID: "TEST:AAA",
			Timeframe:    "1h",
			CloseTime:    start.Add(time.Duration(i) * time.Hour),
			Open:         open,
			High:         price + 0.5,
			Low:          open - 0.5,
			Close:        price,
			Volume:       1000 + float64(i%10)*37,
		}
	}
	return bars
}

func TestTrackWarmupWatchOnly(t *testing.T) {
	p := testParams(t)
	tk := NewInstrumentTrack("TEST:AAA", "1h", p)
	bars := genBars(p.MinHistory() + 5)

	for i := range bars {
		snap, trans, err := tk.Apply(&bars[i], p)
		if err != nil {
			t.Fatalf("bar %d: %v", i, err)
		}
		if i < p.MinHistory()-1 {
			if !snap.Flags.WatchOnly {
				t.Fatalf("bar %d: WatchOnly not set during warm-up", i)
			}
			if snap.Diagnostics["insufficient_history"] != 1 {
				t.Fatalf("bar %d: missing insufficient_history diagnostic", i)
			}
			if len(trans) != 0 {
				t.Fatalf("bar %d: transitions emitted during warm-up", i)
			}
		} else if snap.Flags.WatchOnly {
			t.Fatalf("bar %d: WatchOnly still set past warm-up", i)
		}
	}
}

func TestTrackScoresBounded(t *testing.T) {
	p := testParams(t)
	tk := NewInstrumentTrack("TEST:AAA", "1h", p)
	for _, bar := range genBars(p.MinHistory() + 50) {
		snap, _, err := tk.Apply(&bar, p)
		if err != nil {
			t.Fatal(err)
		}
		for name, v := range map[string]float64{
			"ti": snap.Scores.TI, "ts": snap.Scores.TS, "ox": snap.Scores.OX,
			"dx": snap.Scores.DX, "edx": snap.Scores.EDX,
		} {
			if v < 0 || v > 1 {
				t.Fatalf("%s = %v out of [0,1] at %s", name, v, snap.BarTime)
			}
		}
	}
}

func TestTrackStaleBarRejected(t *testing.T) {
	p := testParams(t)
	tk := NewInstrumentTrack("TEST:AAA", "1h", p)
	bars := genBars(10)
	for i := range bars {
		if _, _, err := tk.Apply(&bars[i], p); err != nil {
			t.Fatal(err)
		}
	}
	before := tk.LastSnapshot()

	// duplicate
	if _, _, err := tk.Apply(&bars[9], p); !isStale(err) {
		t.Fatalf("duplicate bar err = %v, want ErrStaleBar", err)
	}
	// out of order
	if _, _, err := tk.Apply(&bars[4], p); !isStale(err) {
		t.Fatalf("out-of-order bar err = %v, want ErrStaleBar", err)
	}

	if tk.LastSnapshot() != before {
		t.Fatal("stale bar mutated the last snapshot")
	}
	if !tk.LastTimestamp().Equal(bars[9].CloseTime) {
		t.Fatalf("lastTS = %v, want %v", tk.LastTimestamp(), bars[9].CloseTime)
	}
}

func isStale(err error) bool { return errors.Is(err, ErrStaleBar) }

func TestTrackDeterminism(t *testing.T) {
	p := testParams(t)
	a := NewInstrumentTrack("TEST:AAA", "1h", p)
	b := NewInstrumentTrack("TEST:AAA", "1h", p)
	bars := genBars(p.MinHistory() + 30)

	for i := range bars {
		if _, _, err := a.Apply(&bars[i], p); err != nil {
			t.Fatal(err)
		}
		if _, _, err := b.Apply(&bars[i], p); err != nil {
			t.Fatal(err)
		}
	}

	ja, _ := json.Marshal(a.LastSnapshot())
	jb, _ := json.Marshal(b.LastSnapshot())
	if string(ja) != string(jb) {
		t.Fatalf("same input produced different snapshots:\n%s\n%s", ja, jb)
	}
}

func TestTrackWarmReplayEmitsNothing(t *testing.T) {
	p := testParams(t)
	tk := NewInstrumentTrack("TEST:AAA", "1h", p)
	bars := genBars(p.MinHistory() + 10)

	for i := range bars {
		if err := tk.Warm(&bars[i], p); err != nil {
			t.Fatal(err)
		}
	}
	if tk.LastSnapshot() != nil {
		t.Fatal("warm replay stored a snapshot")
	}

	// replaying the tail again is a no-op, not an error path for the caller
	if err := tk.Warm(&bars[len(bars)-1], p); !isStale(err) {
		t.Fatalf("replayed tail err = %v, want ErrStaleBar", err)
	}

	// the next live bar emits immediately with full scores
	next := genBars(len(bars) + 1)[len(bars)]
	snap, _, err := tk.Apply(&next, p)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Flags.WatchOnly {
		t.Fatal("live bar after full warm replay still WatchOnly")
	}
}

func TestTrackResetClearsState(t *testing.T) {
	p := testParams(t)
	tk := NewInstrumentTrack("TEST:AAA", "1h", p)
	for _, bar := range genBars(20) {
		if _, _, err := tk.Apply(&bar, p); err != nil {
			t.Fatal(err)
		}
	}

	tk.Reset("TEST:BBB", "4h", p)
	if tk.Instrument() != "TEST:BBB" || tk.Timeframe() != "4h" {
		t.Fatalf("identity = %s/%s after reset", tk.Instrument(), tk.Timeframe())
	}
	if tk.LastSnapshot() != nil {
		t.Fatal("snapshot survived reset")
	}
	if !tk.LastTimestamp().IsZero() {
		t.Fatal("timestamp survived reset")
	}

	// old timestamps are acceptable again
	old := genBars(1)[0]
	old.InstrumentID = "TEST:BBB"
	old.Timeframe = "4h"
	if _, _, err := tk.Apply(&old, p); err != nil {
		t.Fatalf("apply after reset: %v", err)
	}
}

// relaxedParams opens the score gates and widens the halo so a synthetic
// series exercises the machine rules rather than the exact gate thresholds.
func relaxedParams(t *testing.T) *Params {
	t.Helper()
	var e config.EngineConfig
	if err := defaults.Set(&e); err != nil {
		t.Fatalf("defaults: %v", err)
	}
	e.GateTI = 0.01
	e.GateTS = 0.01
	e.HaloMult = 50
	p, err := NewParams(&e)
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	return p
}

// A sustained geometric uptrend must walk the machine through the whole
// bullish lifecycle on raw bars: cross, primer confirmation, entry, full
// stack, then a single crash bar flips the emergency flag and a single
// reclaim above the longest average clears it.
func TestTrackUptrendLifecycle(t *testing.T) {
	p := relaxedParams(t)
	tk := NewInstrumentTrack("TEST:AAA", "1h", p)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mkBar := func(i int, open, close float64) *models.Bar {
		hi, lo := close, open
		if open > close {
			hi, lo = open, close
		}
		return &models.Bar{
			InstrumentID: "TEST:AAA",
			Timeframe:    "1h",
			CloseTime:    start.Add(time.Duration(i) * time.Hour),
			Open:         open,
			High:         hi * 1.001,
			Low:          lo * 0.999,
			Close:        close,
			Volume:       1000,
		}
	}

	var rules []string
	apply := func(i int, b *models.Bar) *models.RegimeSnapshot {
		snap, trans, err := tk.Apply(b, p)
		if err != nil {
			t.Fatalf("bar %d: %v", i, err)
		}
		for _, ev := range trans {
			rules = append(rules, ev.Rule)
		}
		return snap
	}

	// rising leg: warm-up plus six scored bars
	upBars := p.MinHistory() + 6
	price := 100.0
	prev := price
	for i := 0; i < upBars; i++ {
		prev = price
		price *= 1.1
		snap := apply(i, mkBar(i, prev, price))
		if i < p.MinHistory()-1 && !snap.Flags.WatchOnly {
			t.Fatalf("bar %d: scored during warm-up", i)
		}
	}
	peak := price

	if tk.LastSnapshot().State != models.StateS3 {
		t.Fatalf("state after uptrend = %s, want %s", tk.LastSnapshot().State, models.StateS3)
	}

	// one crash bar closes far below every average
	crash := mkBar(upBars, peak, 1)
	snap := apply(upBars, crash)
	if snap.State != models.StateS3 {
		t.Fatalf("emergency state = %s, want %s", snap.State, models.StateS3)
	}
	if !snap.Flags.EmergencyExit.Active {
		t.Fatal("emergency flag not raised on crash bar")
	}
	if snap.Flags.EmergencyExit.Reason != "close_below_longest" {
		t.Fatalf("emergency reason = %q", snap.Flags.EmergencyExit.Reason)
	}

	// one reclaim above the longest average clears the flag
	snap = apply(upBars+1, mkBar(upBars+1, 1, peak))
	if snap.Flags.EmergencyExit.Active {
		t.Fatal("emergency flag survived the reclaim bar")
	}
	if !snap.Flags.FakeoutRecovery {
		t.Fatal("fakeout recovery flag not set on the reclaim bar")
	}

	// the recovery marker is single-bar
	snap = apply(upBars+2, mkBar(upBars+2, peak, peak*1.01))
	if snap.Flags.FakeoutRecovery {
		t.Fatal("fakeout recovery flag persisted past its bar")
	}
	if snap.State != models.StateS3 {
		t.Fatalf("state after recovery = %s, want %s", snap.State, models.StateS3)
	}

	want := []string{"s0_s1_cross", "s1_s2_entry", "s2_s3_stack", "s3_emergency", "s3_fakeout_recovery"}
	if len(rules) != len(want) {
		t.Fatalf("rule sequence = %v, want %v", rules, want)
	}
	for i := range want {
		if rules[i] != want[i] {
			t.Fatalf("rule %d = %s, want %s (full: %v)", i, rules[i], want[i], rules)
		}
	}
}

// A track recycled to a new identity must refuse bars addressed to the old
// one: the caller holds a reference from before the rebind and would otherwise
// fold a foreign bar into the new instrument's state.
func TestTrackReboundRejectsForeignBar(t *testing.T) {
	p := testParams(t)
	tk := NewInstrumentTrack("TEST:AAA", "1h", p)
	bars := genBars(10)
	for i := range bars {
		if _, _, err := tk.Apply(&bars[i], p); err != nil {
			t.Fatal(err)
		}
	}

	tk.Reset("TEST:BBB", "1h", p)

	stray := genBars(11)[10]
	snap, trans, err := tk.Apply(&stray, p)
	if !errors.Is(err, errTrackRebound) {
		t.Fatalf("foreign bar err = %v, want errTrackRebound", err)
	}
	if snap != nil || trans != nil {
		t.Fatal("foreign bar produced output")
	}
	if tk.LastSnapshot() != nil {
		t.Fatal("foreign bar stored a snapshot on the rebound track")
	}
	if !tk.LastTimestamp().IsZero() {
		t.Fatalf("foreign bar advanced lastTS to %v", tk.LastTimestamp())
	}
}

func TestInBuyZone(t *testing.T) {
	p := testParams(t)
	tk := NewInstrumentTrack("TEST:AAA", "1h", p)
	emas := []float64{10, 9, 8, 7, 6, 5}

	if !tk.inBuyZone(6.5, emas) {
		t.Fatal("lower half of the hallway not recognized")
	}
	if tk.inBuyZone(9.5, emas) {
		t.Fatal("upper half of the hallway counted as buy zone")
	}
	// degenerate hallway
	if tk.inBuyZone(5, []float64{5, 5, 5, 5, 5, 5}) {
		t.Fatal("zero-width hallway counted as buy zone")
	}
}
