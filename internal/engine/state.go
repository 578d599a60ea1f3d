package engine

import (
	"math"

	"RegimePull/internal/domain/models"
)

// baselineIdx is the third-shortest average: the entry baseline every
// primer/entry rule pivots on.
const baselineIdx = 2

// machineInputs is everything one machine step may read. All comparisons are
// evaluated strictly on bar close.
type machineInputs struct {
	Close  float64
	EMAs   []float64 // ascending period order
	Accel  models.Acceleration
	Meso50 float64 // meso slope of the next-longer average
	Halo   float64
	Scores models.ScoreSet
	// Structural is the optional external level; nonzero and inside the
	// halo it raises TI upstream, it never gates here.
	Structural float64
}

// event records one transition (or orthogonal flag flip, From==To) for the
// audit stream.
type event struct {
	From models.RegimeState
	To   models.RegimeState
	Rule string
}

// machineState is the explicit regime machine: an enum plus the persistence
// counters that make the multi-bar rules unit-testable. Counters reset to
// zero on any single bar of recovery; there is no partial credit.
type machineState struct {
	state models.RegimeState

	s1Confirm     int
	s1Valid       bool
	cancelConfirm int
	resetConfirm  int
	cooldown      int

	emergency       bool
	emergencyReason string
	fakeoutBar      bool // true only on the bar the recovery fired
}

func newMachineState() machineState {
	return machineState{state: models.StateS0}
}

// Step advances the machine by one closed bar and returns the audit events.
func (m *machineState) Step(in machineInputs, p *Params) []event {
	m.fakeoutBar = false

	switch m.state {
	case models.StateS0:
		return m.stepS0(in)
	case models.StateS1:
		return m.stepS1(in, p)
	case models.StateS2:
		return m.stepS2(in, p)
	case models.StateS3:
		return m.stepS3(in, p)
	}
	return nil
}

func (m *machineState) stepS0(in machineInputs) []event {
	e := in.EMAs
	// first violation of the bear stack: both short averages close above
	// the baseline
	if e[0] > e[baselineIdx] && e[1] > e[baselineIdx] {
		m.state = models.StateS1
		m.s1Valid = false
		m.s1Confirm = 0
		if isLiftPattern(in.Accel) {
			m.s1Confirm = 1
		}
		m.cancelConfirm = 0
		return []event{{From: models.StateS0, To: models.StateS1, Rule: "s0_s1_cross"}}
	}
	return nil
}

func (m *machineState) stepS1(in machineInputs, p *Params) []event {
	e := in.EMAs

	// lift confirmation: the provisional primer only becomes valid after
	// ConfirmBars consecutive lift-pattern bars
	if !m.s1Valid {
		if isLiftPattern(in.Accel) {
			m.s1Confirm++
			if m.s1Confirm >= p.ConfirmBars {
				m.s1Valid = true
			}
		} else {
			m.s1Confirm = 0
		}
	}

	// cancel check: rolling over with downward micro thrust, or both short
	// averages back under the baseline
	rolling := in.Accel.Pattern == models.RollingOver && in.Accel.SMeso <= 0 && in.Accel.SMicro < 0
	crossDown := e[0] < e[baselineIdx] && e[1] < e[baselineIdx]
	if rolling || crossDown {
		m.cancelConfirm++
		if m.cancelConfirm >= p.ConfirmBars {
			m.toS0()
			return []event{{From: models.StateS1, To: models.StateS0, Rule: "s1_cancel"}}
		}
		// entry is blocked while a cancel is pending
		return nil
	}
	m.cancelConfirm = 0

	// the cooldown ticks down here so it blocks entry for exactly
	// CooldownBars closed bars after an S2 reset
	if m.cooldown > 0 {
		m.cooldown--
		return nil
	}
	if !m.s1Valid {
		return nil
	}

	entry := in.Close > e[baselineIdx] &&
		e[0] > e[baselineIdx] && e[1] > e[baselineIdx] &&
		math.Abs(in.Close-e[baselineIdx]) <= in.Halo &&
		(in.Accel.SMeso > 0 || in.Meso50 >= 0) &&
		in.Scores.TS >= p.GateTS &&
		(p.RelaxS1Entry || in.Scores.TI >= p.GateTI)
	if entry {
		m.state = models.StateS2
		m.resetConfirm = 0
		return []event{{From: models.StateS1, To: models.StateS2, Rule: "s1_s2_entry"}}
	}
	return nil
}

func (m *machineState) stepS2(in machineInputs, p *Params) []event {
	e := in.EMAs

	// flicker-proof reset: either short average back under the baseline for
	// ConfirmBars straight
	if e[0] < e[baselineIdx] || e[1] < e[baselineIdx] {
		m.resetConfirm++
		if m.resetConfirm >= p.ConfirmBars {
			m.toS0()
			m.cooldown = p.CooldownBars
			return []event{{From: models.StateS2, To: models.StateS0, Rule: "s2_reset"}}
		}
		return nil
	}
	m.resetConfirm = 0

	if allAboveLongest(e) {
		m.state = models.StateS3
		return []event{{From: models.StateS2, To: models.StateS3, Rule: "s2_s3_stack"}}
	}
	return nil
}

func (m *machineState) stepS3(in machineInputs, p *Params) []event {
	e := in.EMAs

	if allBelowLongest(e) {
		from := m.state
		m.toS0()
		return []event{{From: from, To: models.StateS0, Rule: "s3_full_reset"}}
	}

	longest := e[len(e)-1]
	if m.emergency {
		// fakeout recovery: reclose above the longest average with both
		// quality gates intact clears the flag on a single bar
		if in.Close > longest && in.Scores.TS >= p.GateTS && in.Scores.TI >= p.GateTI {
			m.emergency = false
			m.emergencyReason = ""
			m.fakeoutBar = true
			return []event{{From: models.StateS3, To: models.StateS3, Rule: "s3_fakeout_recovery"}}
		}
		return nil
	}

	// emergency exit fires on a single close below the longest average; the
	// instrument formally stays in S3
	if in.Close < longest {
		m.emergency = true
		m.emergencyReason = "close_below_longest"
		return []event{{From: models.StateS3, To: models.StateS3, Rule: "s3_emergency"}}
	}
	return nil
}

// toS0 is the common reset: all persistence counters and the emergency flag
// are cleared.
func (m *machineState) toS0() {
	m.state = models.StateS0
	m.s1Confirm = 0
	m.s1Valid = false
	m.cancelConfirm = 0
	m.resetConfirm = 0
	m.emergency = false
	m.emergencyReason = ""
}

// Flags renders the machine's orthogonal booleans for the snapshot.
func (m *machineState) Flags(in machineInputs) models.Flags {
	return models.Flags{
		S1Valid:   m.s1Valid && m.state == models.StateS1,
		BuySignal: m.state == models.StateS2,
		Trending:  m.state == models.StateS3,
		EmergencyExit: models.EmergencyExit{
			Active: m.emergency,
			Reason: m.emergencyReason,
		},
		FakeoutRecovery: m.fakeoutBar,
	}
}

// allAboveLongest holds when every shorter average closes above the
// longest-period average; intra-stack order is not required.
func allAboveLongest(e []float64) bool {
	longest := e[len(e)-1]
	for _, v := range e[:len(e)-1] {
		if v <= longest {
			return false
		}
	}
	return true
}

func allBelowLongest(e []float64) bool {
	longest := e[len(e)-1]
	for _, v := range e[:len(e)-1] {
		if v >= longest {
			return false
		}
	}
	return true
}

// bearStack reports the strict long-to-short ordering that defines the S0
// base/downtrend structure. Diagnostic only.
func bearStack(e []float64) bool {
	for i := len(e) - 1; i > 0; i-- {
		if e[i] <= e[i-1] {
			return false
		}
	}
	return true
}
