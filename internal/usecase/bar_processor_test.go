package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/creasty/defaults"

	"RegimePull/internal/domain/models"
	domrepo "RegimePull/internal/domain/repository"
	"RegimePull/internal/engine"
	"RegimePull/pkg/config"
	applogger "RegimePull/pkg/logger"
)

type nopMetrics struct{}

func (nopMetrics) RecordBarProcessed(string, string)       {}
func (nopMetrics) RecordBarDropped(string, string)         {}
func (nopMetrics) RecordTransition(string, string, string) {}
func (nopMetrics) RecordScore(string, string, float64)     {}
func (nopMetrics) RecordError(string)                      {}
func (nopMetrics) RecordLatency(string, float64)           {}

type memHistory struct {
	bars     []models.Bar
	storeErr error
}

func (h *memHistory) Store(_ context.Context, b *models.Bar) error {
	if h.storeErr != nil {
		return h.storeErr
	}
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

type capturePublisher struct {
	snaps []*models.RegimeSnapshot
	err   error
}

func (p *capturePublisher) Publish(_ context.Context, s *models.RegimeSnapshot) error {
	if p.err != nil {
		return p.err
	}
	p.snaps = append(p.snaps, s)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

type memAudit struct {
	transitions []models.Transition
	snaps       []*models.RegimeSnapshot
}

func (a *memAudit) Append(_ context.Context, ts []models.Transition) error {
	a.transitions = append(a.transitions, ts...)
	return nil
}

func (a *memAudit) StoreSnapshot(_ context.Context, s *models.RegimeSnapshot) error {
	a.snaps = append(a.snaps, s)
	return nil
}

func (a *memAudit) Transitions(_ context.Context, _ string, _ domrepo.Timeframe, _ int) ([]models.Transition, error) {
	return a.transitions, nil
}

func (a *memAudit) LatestSnapshot(_ context.Context, _ string, _ domrepo.Timeframe) (*models.RegimeSnapshot, error) {
	if len(a.snaps) == 0 {
		return nil, nil
	}
	return a.snaps[len(a.snaps)-1], nil
}

func (a *memAudit) Close() error { return nil }

func newTestTracker(t *testing.T) *engine.Tracker {
	t.Helper()
	var e config.EngineConfig
	if err := defaults.Set(&e); err != nil {
		t.Fatal(err)
	}
	p, err := engine.NewParams(&e)
	if err != nil {
		t.Fatal(err)
	}
	return engine.NewTracker(p, applogger.Nop(), nopMetrics{})
}

func testBars(n int) []models.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.Bar, n)
	price := 100.0
	for i := 0; i < n; i++ {
		price += 0.3
		bars[i] = models.Bar{
			InstrumentID: "TEST:AAA",
			Timeframe:    "1h",
			CloseTime:    start.Add(time.Duration(i) * time.Hour),
			Open:         price - 0.2,
			High:         price + 0.4,
			Low:          price - 0.6,
			Close:        price,
			Volume:       1000,
		}
	}
	return bars
}

func TestBarProcessorFanOut(t *testing.T) {
	hist := &memHistory{}
	pub := &capturePublisher{}
	audit := &memAudit{}
	proc := NewBarProcessor(newTestTracker(t), hist, pub, audit, nil, nopMetrics{})
	ctx := context.Background()

	bars := testBars(5)
	for i := range bars {
		if err := proc.Process(ctx, &bars[i]); err != nil {
			t.Fatal(err)
		}
	}

	if len(hist.bars) != 5 {
		t.Fatalf("stored bars = %d, want 5", len(hist.bars))
	}
	if len(pub.snaps) != 5 || len(audit.snaps) != 5 {
		t.Fatalf("published/audited = %d/%d, want 5/5", len(pub.snaps), len(audit.snaps))
	}
}

func TestBarProcessorAbsorbsStale(t *testing.T) {
	pub := &capturePublisher{}
	proc := NewBarProcessor(newTestTracker(t), nil, pub, nil, nil, nopMetrics{})
	ctx := context.Background()

	bar := testBars(1)[0]
	if err := proc.Process(ctx, &bar); err != nil {
		t.Fatal(err)
	}
	// the duplicate is dropped silently: nothing republished, no error
	if err := proc.Process(ctx, &bar); err != nil {
		t.Fatalf("duplicate bar err = %v, want nil", err)
	}
	if len(pub.snaps) != 1 {
		t.Fatalf("published = %d, want 1", len(pub.snaps))
	}
}

func TestBarProcessorStoreErrorStopsEvaluation(t *testing.T) {
	hist := &memHistory{storeErr: fmt.Errorf("disk full")}
	pub := &capturePublisher{}
	proc := NewBarProcessor(newTestTracker(t), hist, pub, nil, nil, nopMetrics{})

	bar := testBars(1)[0]
	if err := proc.Process(context.Background(), &bar); err == nil {
		t.Fatal("expected store error")
	}
	if len(pub.snaps) != 0 {
		t.Fatal("snapshot published despite store failure")
	}
}

func TestBarProcessorNilBar(t *testing.T) {
	proc := NewBarProcessor(newTestTracker(t), nil, nil, nil, nil, nopMetrics{})
	if err := proc.Process(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil bar")
	}
}

func TestBarProcessorRestore(t *testing.T) {
	tracker := newTestTracker(t)
	hist := &memHistory{}
	ctx := context.Background()

	warm := testBars(tracker.Params().MinHistory() + 5)
	for i := range warm {
		if err := hist.Store(ctx, &warm[i]); err != nil {
			t.Fatal(err)
		}
	}

	proc := NewBarProcessor(tracker, hist, nil, nil, nil, nopMetrics{})
	if err := proc.Restore(ctx, []string{"TEST:AAA"}, []domrepo.Timeframe{domrepo.TF1h}); err != nil {
		t.Fatal(err)
	}

	// replaying the stored tail is a silent no-op
	tail := warm[len(warm)-1]
	if err := proc.Process(ctx, &tail); err != nil {
		t.Fatalf("replayed tail err = %v, want nil", err)
	}

	next := testBars(len(warm) + 1)[len(warm)]
	if err := proc.Process(ctx, &next); err != nil {
		t.Fatal(err)
	}
	snap, ok := tracker.Snapshot("TEST:AAA", "1h")
	if !ok || snap.Flags.WatchOnly {
		t.Fatalf("restored track snapshot = %+v ok=%v", snap, ok)
	}
}

func TestKafkaBarsHandler(t *testing.T) {
	tracker := newTestTracker(t)
	proc := NewBarProcessor(tracker, nil, nil, nil, nil, nopMetrics{})
	h := NewKafkaBarsHandler("regimepull.bars", proc, nopMetrics{})
	ctx := context.Background()

	if h.Topic() != "regimepull.bars" {
		t.Fatalf("topic = %q", h.Topic())
	}

	msg := []byte(`{"s":"BINANCE:BTCUSDT","tf":"1h","t":1704067200000,"o":42000,"h":42500,"l":41800,"c":42400,"v":1234.5}`)
	if err := h.Handle(ctx, msg); err != nil {
		t.Fatal(err)
	}
	snap, ok := tracker.Snapshot("BINANCE:BTCUSDT", "1h")
	if !ok {
		t.Fatal("no snapshot after handled message")
	}
	want := time.UnixMilli(1704067200000).UTC()
	if !snap.BarTime.Equal(want) {
		t.Fatalf("bar time = %v, want %v", snap.BarTime, want)
	}

	// second-resolution timestamps are normalized to the same instant
	sec := []byte(`{"s":"BINANCE:BTCUSDT","tf":"1h","t":1704070800,"o":42400,"h":42600,"l":42200,"c":42500,"v":900}`)
	if err := h.Handle(ctx, sec); err != nil {
		t.Fatal(err)
	}
	snap, _ = tracker.Snapshot("BINANCE:BTCUSDT", "1h")
	if !snap.BarTime.Equal(time.Unix(1704070800, 0).UTC()) {
		t.Fatalf("normalized bar time = %v", snap.BarTime)
	}

	if err := h.Handle(ctx, []byte(`{broken`)); err == nil {
		t.Fatal("expected unmarshal error")
	}
}
