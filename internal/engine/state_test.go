package engine

import (
	"testing"

	"RegimePull/internal/domain/models"
)

// crossIn is a bar where both short averages sit above the baseline. The
// close stays far outside the halo so no entry can fire accidentally.
func crossIn(accel models.Acceleration) machineInputs {
	return machineInputs{
		Close:  20,
		EMAs:   []float64{12, 11, 10, 9, 8, 7},
		Accel:  accel,
		Halo:   0.5,
		Scores: models.ScoreSet{TS: 0.7, TI: 0.6},
	}
}

func liftIn() machineInputs {
	return crossIn(models.Acceleration{Pattern: models.AccelUp, SMicro: 3, SMeso: 2, SBase: 1})
}

func steadyIn() machineInputs {
	return crossIn(models.Acceleration{Pattern: models.Steady})
}

// crossDownIn puts both short averages back under the baseline.
func crossDownIn() machineInputs {
	in := steadyIn()
	in.EMAs = []float64{8, 9, 10, 11, 12, 13}
	in.Close = 7
	return in
}

// entryIn is a valid pullback entry: close just above the baseline, inside
// the halo, with both quality gates passing.
func entryIn(ts, ti float64) machineInputs {
	return machineInputs{
		Close:  10.2,
		EMAs:   []float64{10.6, 10.5, 10, 9, 8, 7},
		Accel:  models.Acceleration{Pattern: models.SteadyUp, SMicro: 0.5, SMeso: 0.5, SBase: 0.1},
		Meso50: 0.1,
		Halo:   0.5,
		Scores: models.ScoreSet{TS: ts, TI: ti},
	}
}

func stepOne(t *testing.T, m *machineState, in machineInputs, p *Params, wantRule string) {
	t.Helper()
	evs := m.Step(in, p)
	if wantRule == "" {
		if len(evs) != 0 {
			t.Fatalf("unexpected events %+v", evs)
		}
		return
	}
	if len(evs) != 1 || evs[0].Rule != wantRule {
		t.Fatalf("events = %+v, want one %q", evs, wantRule)
	}
}

func TestS0ToS1Cross(t *testing.T) {
	p := testParams(t)
	m := newMachineState()

	// bear stack: no transition
	bear := steadyIn()
	bear.EMAs = []float64{7, 8, 9, 10, 11, 12}
	stepOne(t, &m, bear, p, "")
	if m.state != models.StateS0 {
		t.Fatalf("state = %v, want S0", m.state)
	}

	stepOne(t, &m, steadyIn(), p, "s0_s1_cross")
	if m.state != models.StateS1 {
		t.Fatalf("state = %v, want S1", m.state)
	}
}

func TestS1LiftPersistence(t *testing.T) {
	p := testParams(t)
	m := newMachineState()
	stepOne(t, &m, steadyIn(), p, "s0_s1_cross")

	// interrupted run: 2 lifts, a break, 2 lifts. Never 3 straight.
	for _, in := range []machineInputs{liftIn(), liftIn(), steadyIn(), liftIn(), liftIn()} {
		stepOne(t, &m, in, p, "")
		if m.s1Valid {
			t.Fatal("s1Valid before 3 consecutive lift bars")
		}
	}

	stepOne(t, &m, liftIn(), p, "")
	if !m.s1Valid {
		t.Fatal("s1Valid not set after 3 consecutive lift bars")
	}
	if f := m.Flags(liftIn()); !f.S1Valid {
		t.Fatal("S1Valid flag not published")
	}
}

func TestS1EntryBarCountsTowardConfirm(t *testing.T) {
	p := testParams(t)
	m := newMachineState()
	// lift pattern on the cross bar itself seeds the counter at 1
	stepOne(t, &m, liftIn(), p, "s0_s1_cross")
	stepOne(t, &m, liftIn(), p, "")
	stepOne(t, &m, liftIn(), p, "")
	if !m.s1Valid {
		t.Fatal("s1Valid not set; entry bar lift should count")
	}
}

func TestS1Cancel(t *testing.T) {
	p := testParams(t)
	m := newMachineState()
	stepOne(t, &m, steadyIn(), p, "s0_s1_cross")

	// 2 cancel bars then a recovery bar resets the counter
	stepOne(t, &m, crossDownIn(), p, "")
	stepOne(t, &m, crossDownIn(), p, "")
	stepOne(t, &m, steadyIn(), p, "")
	if m.cancelConfirm != 0 {
		t.Fatalf("cancelConfirm = %d after recovery bar, want 0", m.cancelConfirm)
	}

	stepOne(t, &m, crossDownIn(), p, "")
	stepOne(t, &m, crossDownIn(), p, "")
	stepOne(t, &m, crossDownIn(), p, "s1_cancel")
	if m.state != models.StateS0 {
		t.Fatalf("state = %v, want S0", m.state)
	}
}

func TestS1CancelOnRollingOver(t *testing.T) {
	p := testParams(t)
	m := newMachineState()
	stepOne(t, &m, steadyIn(), p, "s0_s1_cross")

	roll := crossIn(models.Acceleration{Pattern: models.RollingOver, SMicro: -1, SMeso: -0.5, SBase: 1})
	stepOne(t, &m, roll, p, "")
	stepOne(t, &m, roll, p, "")
	stepOne(t, &m, roll, p, "s1_cancel")
	if m.state != models.StateS0 {
		t.Fatalf("state = %v, want S0", m.state)
	}
}

func TestS1ToS2EntryGates(t *testing.T) {
	p := testParams(t)
	m := newMachineState()
	stepOne(t, &m, steadyIn(), p, "s0_s1_cross")
	for i := 0; i < 3; i++ {
		stepOne(t, &m, liftIn(), p, "")
	}
	if !m.s1Valid {
		t.Fatal("setup: s1Valid expected")
	}

	// strength gate fails
	stepOne(t, &m, entryIn(0.5, 0.6), p, "")
	// integrity gate fails
	stepOne(t, &m, entryIn(0.6, 0.4), p, "")
	if m.state != models.StateS1 {
		t.Fatalf("state = %v, want S1 while gates fail", m.state)
	}

	stepOne(t, &m, entryIn(0.6, 0.5), p, "s1_s2_entry")
	if m.state != models.StateS2 {
		t.Fatalf("state = %v, want S2", m.state)
	}
	if f := m.Flags(entryIn(0.6, 0.5)); !f.BuySignal {
		t.Fatal("BuySignal flag not published in S2")
	}
}

func TestS1EntryRequiresValidPrimer(t *testing.T) {
	p := testParams(t)
	m := newMachineState()
	stepOne(t, &m, steadyIn(), p, "s0_s1_cross")

	// perfect entry bar, but no lift confirmation yet
	stepOne(t, &m, entryIn(0.9, 0.9), p, "")
	if m.state != models.StateS1 {
		t.Fatalf("state = %v, want S1 without confirmed primer", m.state)
	}
}

func TestS1EntryHaloBound(t *testing.T) {
	p := testParams(t)
	m := machineState{state: models.StateS1, s1Valid: true}

	in := entryIn(0.7, 0.6)
	in.Close = 12 // far above the baseline hallway
	stepOne(t, &m, in, p, "")
	if m.state != models.StateS1 {
		t.Fatalf("state = %v, want S1 when close is outside the halo", m.state)
	}
}

func TestS1EntryBlockedByCooldown(t *testing.T) {
	p := testParams(t)
	m := machineState{state: models.StateS1, s1Valid: true, cooldown: 2}

	stepOne(t, &m, entryIn(0.7, 0.6), p, "") // cooldown 2 -> 1
	stepOne(t, &m, entryIn(0.7, 0.6), p, "") // cooldown 1 -> 0
	stepOne(t, &m, entryIn(0.7, 0.6), p, "s1_s2_entry")
}

func TestS2Reset(t *testing.T) {
	p := testParams(t)
	m := machineState{state: models.StateS2}

	// flicker: 2 bad bars then recovery (longest not yet cleared, so no stack)
	recovery := steadyIn()
	recovery.EMAs = []float64{12, 11, 10, 9, 7, 7}
	stepOne(t, &m, crossDownIn(), p, "")
	stepOne(t, &m, crossDownIn(), p, "")
	stepOne(t, &m, recovery, p, "")
	if m.resetConfirm != 0 {
		t.Fatalf("resetConfirm = %d after recovery, want 0", m.resetConfirm)
	}

	stepOne(t, &m, crossDownIn(), p, "")
	stepOne(t, &m, crossDownIn(), p, "")
	stepOne(t, &m, crossDownIn(), p, "s2_reset")
	if m.state != models.StateS0 {
		t.Fatalf("state = %v, want S0", m.state)
	}
}

func TestS2ToS3Stack(t *testing.T) {
	p := testParams(t)
	m := machineState{state: models.StateS2}

	// one shorter average still at the longest: no stack
	in := steadyIn()
	in.EMAs = []float64{10, 9, 8, 7, 5, 5}
	stepOne(t, &m, in, p, "")
	if m.state != models.StateS2 {
		t.Fatalf("state = %v, want S2", m.state)
	}

	in.EMAs = []float64{10, 9, 8, 7, 6, 5}
	stepOne(t, &m, in, p, "s2_s3_stack")
	if m.state != models.StateS3 {
		t.Fatalf("state = %v, want S3", m.state)
	}
	if f := m.Flags(in); !f.Trending {
		t.Fatal("Trending flag not published in S3")
	}
}

func TestS3EmergencyExit(t *testing.T) {
	p := testParams(t)
	m := machineState{state: models.StateS3}

	in := steadyIn()
	in.EMAs = []float64{10, 9, 8, 7, 6, 5}
	in.Close = 4.9
	evs := m.Step(in, p)
	if len(evs) != 1 || evs[0].Rule != "s3_emergency" {
		t.Fatalf("events = %+v, want s3_emergency", evs)
	}
	if evs[0].From != models.StateS3 || evs[0].To != models.StateS3 {
		t.Fatalf("emergency transition %v -> %v, want S3 -> S3", evs[0].From, evs[0].To)
	}
	if m.state != models.StateS3 {
		t.Fatalf("state = %v, want S3 (formal state unchanged)", m.state)
	}
	f := m.Flags(in)
	if !f.EmergencyExit.Active || f.EmergencyExit.Reason != "close_below_longest" {
		t.Fatalf("emergency flags = %+v", f.EmergencyExit)
	}

	// still below: no repeat event
	stepOne(t, &m, in, p, "")
}

func TestS3FakeoutRecovery(t *testing.T) {
	p := testParams(t)
	m := machineState{state: models.StateS3, emergency: true, emergencyReason: "close_below_longest"}

	in := steadyIn()
	in.EMAs = []float64{10, 9, 8, 7, 6, 5}
	in.Close = 5.2

	// reclose above the longest but gates not intact: flag stays
	weak := in
	weak.Scores = models.ScoreSet{TS: 0.5, TI: 0.6}
	stepOne(t, &m, weak, p, "")
	if !m.emergency {
		t.Fatal("emergency cleared without intact gates")
	}

	stepOne(t, &m, in, p, "s3_fakeout_recovery")
	if m.emergency {
		t.Fatal("emergency still set after recovery")
	}
	if f := m.Flags(in); !f.FakeoutRecovery {
		t.Fatal("FakeoutRecovery flag not published on the recovery bar")
	}

	// flag is single-bar
	stepOne(t, &m, in, p, "")
	if f := m.Flags(in); f.FakeoutRecovery {
		t.Fatal("FakeoutRecovery flag persisted past the recovery bar")
	}
}

func TestS3FullReset(t *testing.T) {
	p := testParams(t)
	m := machineState{state: models.StateS3, emergency: true, emergencyReason: "close_below_longest"}

	in := steadyIn()
	in.EMAs = []float64{1, 2, 3, 4, 4.5, 5}
	in.Close = 0.9
	stepOne(t, &m, in, p, "s3_full_reset")
	if m.state != models.StateS0 {
		t.Fatalf("state = %v, want S0", m.state)
	}
	if m.emergency {
		t.Fatal("emergency flag survived the full reset")
	}
}

func TestBearStack(t *testing.T) {
	if !bearStack([]float64{7, 8, 9, 10, 11, 12}) {
		t.Fatal("ascending stack not recognized as bear stack")
	}
	if bearStack([]float64{7, 8, 9, 10, 12, 11}) {
		t.Fatal("broken ordering recognized as bear stack")
	}
}
