package models

import "time"

// RegimeState is the regime ladder position of an instrument.
type RegimeState string

const (
	StateS0 RegimeState = "S0" // base / downtrend
	StateS1 RegimeState = "S1" // primer
	StateS2 RegimeState = "S2" // entry-ready
	StateS3 RegimeState = "S3" // trending
)

// AccelPattern is the label produced by the acceleration window classifier.
type AccelPattern string

const (
	AccelUp     AccelPattern = "accel_up"
	AccelDown   AccelPattern = "accel_down"
	RollingOver AccelPattern = "rolling_over"
	Bottoming   AccelPattern = "bottoming"
	SteadyUp    AccelPattern = "steady_up"
	Steady      AccelPattern = "steady"
)

// ScoreSet holds the five smoothed composite quality scores, each in [0,1].
type ScoreSet struct {
	TI  float64 `json:"ti"`  // trend integrity
	TS  float64 `json:"ts"`  // trend strength (primary entry gate)
	OX  float64 `json:"ox"`  // overextension
	DX  float64 `json:"dx"`  // deep-zone buy
	EDX float64 `json:"edx"` // expansion decay
}

// EmergencyExit carries the orthogonal S3 emergency flag.
type EmergencyExit struct {
	Active bool   `json:"active"`
	Reason string `json:"reason,omitempty"`
}

// Flags are the orthogonal booleans published alongside the regime state.
type Flags struct {
	WatchOnly       bool          `json:"watch_only"`
	S1Valid         bool          `json:"s1_valid"`
	BuySignal       bool          `json:"buy_signal"`
	EntryZone       bool          `json:"entry_zone"`
	Trending        bool          `json:"trending"`
	EmergencyExit   EmergencyExit `json:"emergency_exit"`
	FakeoutRecovery bool          `json:"fakeout_recovery"`
}

// Acceleration is the per-stream slope triple plus its classification.
type Acceleration struct {
	Pattern AccelPattern `json:"pattern"`
	SMicro  float64      `json:"s_micro"`
	SMeso   float64      `json:"s_meso"`
	SBase   float64      `json:"s_base"`
}

// RegimeSnapshot is the single structured record emitted once per instrument
// per closed bar. Diagnostics is a free-form map of named sub-term values for
// auditing; it never drives control flow.
type RegimeSnapshot struct {
	InstrumentID string                  `json:"instrument_id"`
	Timeframe    string                  `json:"timeframe"`
	BarTime      time.Time               `json:"bar_timestamp"`
	State        RegimeState             `json:"state"`
	Flags        Flags                   `json:"flags"`
	Scores       ScoreSet                `json:"scores"`
	Acceleration map[string]Acceleration `json:"acceleration"`
	Levels       map[int]float64         `json:"levels"`
	Diagnostics  map[string]float64      `json:"diagnostics,omitempty"`
}

// Transition is one append-only audit record written on every state change
// and on emergency/fakeout flag flips. The state machine never reads it back.
type Transition struct {
	InstrumentID string      `json:"instrument_id"`
	Timeframe    string      `json:"timeframe"`
	From         RegimeState `json:"prior_state"`
	To           RegimeState `json:"new_state"`
	Rule         string      `json:"triggering_rule"`
	Scores       ScoreSet    `json:"scores"`
	BarTime      time.Time   `json:"bar_timestamp"`
}
