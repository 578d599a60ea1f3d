package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"RegimePull/internal/domain/models"
	domrepo "RegimePull/internal/domain/repository"
	applogger "RegimePull/pkg/logger"
)

// Tracker owns every instrument track. Evaluations across instruments run in
// parallel; within one instrument they serialize on the track's own lock.
// The compiled parameters are shared read-only and swapped atomically, so no
// evaluation observes a torn configuration mid-cycle.
type Tracker struct {
	mu     sync.RWMutex
	tracks map[string]*InstrumentTrack
	pool   []*InstrumentTrack

	params  atomic.Pointer[Params]
	log     *applogger.Logger
	metrics domrepo.Metrics
}

func NewTracker(p *Params, log *applogger.Logger, metrics domrepo.Metrics) *Tracker {
	t := &Tracker{
		tracks:  make(map[string]*InstrumentTrack),
		log:     log,
		metrics: metrics,
	}
	t.params.Store(p)
	return t
}

func trackKey(instrument, tf string) string { return instrument + "|" + tf }

// Params returns the currently active compiled parameters.
func (tr *Tracker) Params() *Params { return tr.params.Load() }

// SwapParams atomically replaces the shared configuration. In-flight
// evaluations finish on the old parameters; the next bar sees the new ones.
func (tr *Tracker) SwapParams(p *Params) { tr.params.Store(p) }

// track returns the track for the pair, creating (or recycling) one on the
// first bar.
func (tr *Tracker) track(instrument, tf string) *InstrumentTrack {
	key := trackKey(instrument, tf)

	tr.mu.RLock()
	t, ok := tr.tracks[key]
	tr.mu.RUnlock()
	if ok {
		return t
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if t, ok = tr.tracks[key]; ok {
		return t
	}
	p := tr.params.Load()
	if n := len(tr.pool); n > 0 {
		t = tr.pool[n-1]
		tr.pool = tr.pool[:n-1]
		t.Reset(instrument, tf, p)
	} else {
		t = NewInstrumentTrack(instrument, tf, p)
	}
	tr.tracks[key] = t
	return t
}

// Apply routes one closed bar to its track. Stale bars (timestamp at or
// before the last processed one) are dropped and reported as such.
func (tr *Tracker) Apply(ctx context.Context, bar *models.Bar) (*models.RegimeSnapshot, []models.Transition, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	// a concurrent Unregister can pool the track between lookup and lock
	// acquisition, and a new instrument can recycle it; the identity check
	// inside Apply catches that and we re-resolve
	var (
		snap        *models.RegimeSnapshot
		transitions []models.Transition
		err         error
	)
	for {
		t := tr.track(bar.InstrumentID, bar.Timeframe)
		snap, transitions, err = t.Apply(bar, tr.params.Load())
		if !errors.Is(err, errTrackRebound) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, ErrStaleBar) {
			tr.metrics.RecordBarDropped(bar.InstrumentID, "stale")
			tr.log.Debug("bar dropped",
				applogger.String("instrument", bar.InstrumentID),
				applogger.String("tf", bar.Timeframe),
				applogger.Error(err),
			)
			return nil, nil, err
		}
		tr.metrics.RecordError("apply")
		return nil, nil, fmt.Errorf("apply bar: %w", err)
	}
	tr.metrics.RecordBarProcessed(bar.InstrumentID, bar.Timeframe)
	for _, ev := range transitions {
		tr.metrics.RecordTransition(bar.InstrumentID, string(ev.From), string(ev.To))
	}
	return snap, transitions, nil
}

// Restore rebuilds a track from stored history after restart: the last
// MinHistory bars replay in warm-up mode, so state is reconstructed without
// re-emitting snapshots or transitions, and duplicate suppression resumes
// from the last stored timestamp.
func (tr *Tracker) Restore(ctx context.Context, hist domrepo.BarHistory, instrument string, tf domrepo.Timeframe) error {
	p := tr.params.Load()
	bars, err := hist.LatestN(ctx, instrument, tf, p.MinHistory())
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(bars) == 0 {
		return nil
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].CloseTime.Before(bars[j].CloseTime) })

	t := tr.track(instrument, string(tf))
	for i := 0; i < len(bars); {
		err := t.Warm(&bars[i], p)
		switch {
		case err == nil:
			i++
		case errors.Is(err, ErrStaleBar):
			i++
		case errors.Is(err, errTrackRebound):
			// track was recycled out from under us; re-resolve and
			// retry the same bar
			t = tr.track(instrument, string(tf))
		default:
			return fmt.Errorf("warm replay: %w", err)
		}
	}
	tr.log.Info("track restored",
		applogger.String("instrument", instrument),
		applogger.String("tf", string(tf)),
		applogger.Int("bars", len(bars)),
	)
	return nil
}

// Unregister removes a track. Any in-flight evaluation completes first (it
// holds the track lock); afterwards the track is recycled into the pool and
// no further state mutation occurs.
func (tr *Tracker) Unregister(instrument, tf string) {
	key := trackKey(instrument, tf)

	tr.mu.Lock()
	t, ok := tr.tracks[key]
	if ok {
		delete(tr.tracks, key)
	}
	tr.mu.Unlock()
	if !ok {
		return
	}

	// wait out any in-flight evaluation before pooling
	t.mu.Lock()
	t.mu.Unlock()

	tr.mu.Lock()
	tr.pool = append(tr.pool, t)
	tr.mu.Unlock()
}

// Snapshot returns the last emitted snapshot for a pair, if any.
func (tr *Tracker) Snapshot(instrument, tf string) (*models.RegimeSnapshot, bool) {
	tr.mu.RLock()
	t, ok := tr.tracks[trackKey(instrument, tf)]
	tr.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s := t.LastSnapshot()
	return s, s != nil
}

// Instruments lists the currently tracked instrument|timeframe keys.
func (tr *Tracker) Instruments() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	keys := make([]string, 0, len(tr.tracks))
	for k := range tr.tracks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
