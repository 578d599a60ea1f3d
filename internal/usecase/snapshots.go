package usecase

import (
	"context"

	"RegimePull/internal/domain/models"
	drepo "RegimePull/internal/domain/repository"
	"RegimePull/internal/engine"
	applogger "RegimePull/pkg/logger"
)

// SnapshotQuery is the read path behind the HTTP API: live track state first,
// then the Redis cache, then the durable ClickHouse store.
type SnapshotQuery struct {
	tracker *engine.Tracker
	cache   drepo.SnapshotCache
	audit   drepo.AuditLog
	l       *applogger.Logger
}

func NewSnapshotQuery(tracker *engine.Tracker, cache drepo.SnapshotCache, audit drepo.AuditLog, l *applogger.Logger) *SnapshotQuery {
	return &SnapshotQuery{tracker: tracker, cache: cache, audit: audit, l: l}
}

// Latest returns the most recent snapshot for the pair, or nil when the
// instrument has never been evaluated.
func (q *SnapshotQuery) Latest(ctx context.Context, instrument string, tf drepo.Timeframe) (*models.RegimeSnapshot, error) {
	if snap, ok := q.tracker.Snapshot(instrument, string(tf)); ok {
		return snap, nil
	}

	if q.cache != nil {
		snap, ok, err := q.cache.Get(ctx, instrument, tf)
		if err != nil {
			q.l.Warn("snapshot cache read failed",
				applogger.String("instrument", instrument),
				applogger.Error(err),
			)
		} else if ok {
			return snap, nil
		}
	}

	if q.audit != nil {
		return q.audit.LatestSnapshot(ctx, instrument, tf)
	}
	return nil, nil
}

// Transitions returns the most recent audit records for the pair, newest
// first.
func (q *SnapshotQuery) Transitions(ctx context.Context, instrument string, tf drepo.Timeframe, limit int) ([]models.Transition, error) {
	if q.audit == nil {
		return nil, nil
	}
	return q.audit.Transitions(ctx, instrument, tf, limit)
}

// Instruments lists the currently tracked instrument|timeframe keys.
func (q *SnapshotQuery) Instruments() []string {
	return q.tracker.Instruments()
}
