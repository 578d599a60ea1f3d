package engine

// EMABank maintains the fixed hierarchy of six exponential moving averages.
// Each value is derivable purely from the previous value and the new close;
// the first close seeds every average.
type EMABank struct {
	periods []int
	alphas  []float64
	values  []float64
	seeded  bool
}

func NewEMABank(p *Params) *EMABank {
	return &EMABank{
		periods: p.Periods,
		alphas:  p.Alphas,
		values:  make([]float64, len(p.Periods)),
	}
}

// Update folds one closing price into all six averages in O(1).
func (b *EMABank) Update(close float64) {
	if !b.seeded {
		for i := range b.values {
			b.values[i] = close
		}
		b.seeded = true
		return
	}
	for i, a := range b.alphas {
		b.values[i] = a*close + (1-a)*b.values[i]
	}
}

// Value returns the average at index i (ascending period order).
func (b *EMABank) Value(i int) float64 { return b.values[i] }

// Values returns the live slice in ascending period order. Callers must not
// mutate it.
func (b *EMABank) Values() []float64 { return b.values }

// Levels copies the averages keyed by period for snapshot publication.
func (b *EMABank) Levels() map[int]float64 {
	m := make(map[int]float64, len(b.periods))
	for i, p := range b.periods {
		m[p] = b.values[i]
	}
	return m
}

// Reset clears the bank for track reuse.
func (b *EMABank) Reset() {
	b.seeded = false
	for i := range b.values {
		b.values[i] = 0
	}
}
