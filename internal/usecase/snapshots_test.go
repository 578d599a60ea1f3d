package usecase

import (
	"context"
	"testing"
	"time"

	"RegimePull/internal/domain/models"
	domrepo "RegimePull/internal/domain/repository"
	applogger "RegimePull/pkg/logger"
)

type memCache struct {
	snap *models.RegimeSnapshot
	err  error
}

func (c *memCache) Set(_ context.Context, s *models.RegimeSnapshot) error {
	c.snap = s
	return nil
}

func (c *memCache) Get(_ context.Context, _ string, _ domrepo.Timeframe) (*models.RegimeSnapshot, bool, error) {
	if c.err != nil {
		return nil, false, c.err
	}
	return c.snap, c.snap != nil, nil
}

func TestSnapshotQueryPrefersLiveTrack(t *testing.T) {
	tracker := newTestTracker(t)
	cache := &memCache{snap: &models.RegimeSnapshot{InstrumentID: "stale-cache"}}
	q := NewSnapshotQuery(tracker, cache, nil, applogger.Nop())
	ctx := context.Background()

	bar := testBars(1)[0]
	if _, _, err := tracker.Apply(ctx, &bar); err != nil {
		t.Fatal(err)
	}

	snap, err := q.Latest(ctx, "TEST:AAA", domrepo.TF1h)
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil || snap.InstrumentID != "TEST:AAA" {
		t.Fatalf("snapshot = %+v, want live track result", snap)
	}
}

func TestSnapshotQueryFallsBackToCache(t *testing.T) {
	cached := &models.RegimeSnapshot{
		InstrumentID: "TEST:AAA",
		Timeframe:    "1h",
		BarTime:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		State:        models.StateS2,
	}
	q := NewSnapshotQuery(newTestTracker(t), &memCache{snap: cached}, nil, applogger.Nop())

	snap, err := q.Latest(context.Background(), "TEST:AAA", domrepo.TF1h)
	if err != nil {
		t.Fatal(err)
	}
	if snap != cached {
		t.Fatalf("snapshot = %+v, want cached", snap)
	}
}

func TestSnapshotQueryFallsBackToAudit(t *testing.T) {
	audit := &memAudit{}
	stored := &models.RegimeSnapshot{InstrumentID: "TEST:AAA", Timeframe: "1h", State: models.StateS3}
	if err := audit.StoreSnapshot(context.Background(), stored); err != nil {
		t.Fatal(err)
	}

	// cache errors are degraded, not fatal: the durable store answers
	cache := &memCache{err: context.DeadlineExceeded}
	q := NewSnapshotQuery(newTestTracker(t), cache, audit, applogger.Nop())

	snap, err := q.Latest(context.Background(), "TEST:AAA", domrepo.TF1h)
	if err != nil {
		t.Fatal(err)
	}
	if snap != stored {
		t.Fatalf("snapshot = %+v, want audit store result", snap)
	}
}

func TestSnapshotQueryUnknownInstrument(t *testing.T) {
	q := NewSnapshotQuery(newTestTracker(t), nil, nil, applogger.Nop())
	snap, err := q.Latest(context.Background(), "TEST:NONE", domrepo.TF1h)
	if err != nil || snap != nil {
		t.Fatalf("snap=%+v err=%v, want nil/nil", snap, err)
	}
}
