package models

import "time"

// Bar is one closed OHLCV sample delivered by the ingestion side.
// Bars arrive in close-timestamp order per instrument; the engine drops
// anything at or before the last processed timestamp.
type Bar struct {
	InstrumentID string
	Timeframe    string
	CloseTime    time.Time
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
	// StructuralLevel is an optional externally computed support level near
	// the current price. Zero means absent. It only boosts Trend Integrity,
	// it never gates a transition.
	StructuralLevel float64
}

// Range returns the high-low span of the bar.
func (b Bar) Range() float64 { return b.High - b.Low }

// Body returns the absolute open-close span.
func (b Bar) Body() float64 {
	if b.Close >= b.Open {
		return b.Close - b.Open
	}
	return b.Open - b.Close
}

// IsUp reports whether the bar closed above its open.
func (b Bar) IsUp() bool { return b.Close > b.Open }
