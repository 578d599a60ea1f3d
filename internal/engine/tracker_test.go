package engine

import (
	"context"
	"testing"

	"RegimePull/internal/domain/models"
	domrepo "RegimePull/internal/domain/repository"
	applogger "RegimePull/pkg/logger"
)

// nopMetrics keeps tests off the process-global Prometheus registry.
type nopMetrics struct{}

func (nopMetrics) RecordBarProcessed(string, string)       {}
func (nopMetrics) RecordBarDropped(string, string)         {}
func (nopMetrics) RecordTransition(string, string, string) {}
func (nopMetrics) RecordScore(string, string, float64)     {}
func (nopMetrics) RecordError(string)                      {}
func (nopMetrics) RecordLatency(string, float64)           {}

var _ domrepo.Metrics = nopMetrics{}

// memHistory is an in-memory BarHistory for restore tests.
type memHistory struct {
	bars []models.Bar
}

func (h *memHistory) Store(_ context.Context, b *models.Bar) error {
	h.bars = append(h.bars, *b)
	return nil
}

func (h *memHistory) LatestN(_ context.Context, instrument string, tf domrepo.Timeframe, n int) ([]models.Bar, error) {
	var out []models.Bar
	for _, b := range h.bars {
		if b.InstrumentID == instrument && b.Timeframe == string(tf) {
			out = append(out, b)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (h *memHistory) Close() error { return nil }

func newTestTracker(t *testing.T) (*Tracker, *Params) {
	t.Helper()
	p := testParams(t)
	return NewTracker(p, applogger.Nop(), nopMetrics{}), p
}

func TestTrackerApplyRouting(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	bars := genBars(5)
	other := genBars(5)
	for i := range other {
		other[i].InstrumentID = "TEST:BBB"
	}

	for i := range bars {
		if _, _, err := tr.Apply(ctx, &bars[i]); err != nil {
			t.Fatal(err)
		}
		if _, _, err := tr.Apply(ctx, &other[i]); err != nil {
			t.Fatal(err)
		}
	}

	keys := tr.Instruments()
	if len(keys) != 2 || keys[0] != "TEST:AAA|1h" || keys[1] != "TEST:BBB|1h" {
		t.Fatalf("instruments = %v", keys)
	}

	// a stale bar for one instrument does not affect the other
	if _, _, err := tr.Apply(ctx, &bars[0]); !isStale(err) {
		t.Fatalf("err = %v, want ErrStaleBar", err)
	}
	next := genBars(6)[5]
	next.InstrumentID = "TEST:BBB"
	if _, _, err := tr.Apply(ctx, &next); err != nil {
		t.Fatal(err)
	}
}

func TestTrackerSnapshotLookup(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	if _, ok := tr.Snapshot("TEST:AAA", "1h"); ok {
		t.Fatal("snapshot reported before any bar")
	}

	bar := genBars(1)[0]
	if _, _, err := tr.Apply(ctx, &bar); err != nil {
		t.Fatal(err)
	}
	snap, ok := tr.Snapshot("TEST:AAA", "1h")
	if !ok || snap.InstrumentID != "TEST:AAA" {
		t.Fatalf("snapshot = %+v ok=%v", snap, ok)
	}
}

func TestTrackerSwapParams(t *testing.T) {
	tr, p := newTestTracker(t)
	if tr.Params() != p {
		t.Fatal("initial params not returned")
	}
	p2 := testParams(t)
	tr.SwapParams(p2)
	if tr.Params() != p2 {
		t.Fatal("swapped params not returned")
	}
}

func TestTrackerUnregisterRecyclesTrack(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	for _, bar := range genBars(10) {
		if _, _, err := tr.Apply(ctx, &bar); err != nil {
			t.Fatal(err)
		}
	}
	tr.Unregister("TEST:AAA", "1h")
	if len(tr.Instruments()) != 0 {
		t.Fatalf("instruments after unregister = %v", tr.Instruments())
	}
	tr.Unregister("TEST:AAA", "1h") // double unregister is a no-op

	// the recycled track must accept old timestamps again
	bar := genBars(1)[0]
	if _, _, err := tr.Apply(ctx, &bar); err != nil {
		t.Fatalf("apply on recycled track: %v", err)
	}
}

func TestTrackerRestore(t *testing.T) {
	tr, p := newTestTracker(t)
	ctx := context.Background()

	all := genBars(p.MinHistory() + 20)
	hist := &memHistory{}
	for i := range all {
		if err := hist.Store(ctx, &all[i]); err != nil {
			t.Fatal(err)
		}
	}

	if err := tr.Restore(ctx, hist, "TEST:AAA", domrepo.TF1h); err != nil {
		t.Fatal(err)
	}

	// nothing was emitted during the replay
	if _, ok := tr.Snapshot("TEST:AAA", "1h"); ok {
		t.Fatal("restore emitted a snapshot")
	}

	// bars at or before the stored tail are stale
	if _, _, err := tr.Apply(ctx, &all[len(all)-1]); !isStale(err) {
		t.Fatalf("err = %v, want ErrStaleBar", err)
	}

	// the next live bar scores immediately
	next := genBars(len(all) + 1)[len(all)]
	snap, _, err := tr.Apply(ctx, &next)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Flags.WatchOnly {
		t.Fatal("restored track still warming up on the next live bar")
	}
}

func TestTrackerRestoreEmptyHistory(t *testing.T) {
	tr, _ := newTestTracker(t)
	if err := tr.Restore(context.Background(), &memHistory{}, "TEST:AAA", domrepo.TF1h); err != nil {
		t.Fatal(err)
	}
	if len(tr.Instruments()) != 0 {
		t.Fatal("empty restore registered a track")
	}
}

func TestTrackerContextCancelled(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bar := genBars(1)[0]
	if _, _, err := tr.Apply(ctx, &bar); err == nil {
		t.Fatal("expected context error")
	}
}
