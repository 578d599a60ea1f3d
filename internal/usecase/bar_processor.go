package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RegimePull/internal/domain/models"
	drepo "RegimePull/internal/domain/repository"
	"RegimePull/internal/engine"
)

// BarProcessor is the write path: one closed bar in, one snapshot out. It
// persists the bar, runs the evaluation, and fans the snapshot out to the
// publisher, the audit store, and the cache. Stale bars are absorbed here so
// replayed input never poisons downstream offsets.
type BarProcessor struct {
	tracker *engine.Tracker
	history drepo.BarHistory
	pub     drepo.SnapshotPublisher
	audit   drepo.AuditLog
	cache   drepo.SnapshotCache
	metrics drepo.Metrics
}

func NewBarProcessor(
	tracker *engine.Tracker,
	history drepo.BarHistory,
	pub drepo.SnapshotPublisher,
	audit drepo.AuditLog,
	cache drepo.SnapshotCache,
	metrics drepo.Metrics,
) *BarProcessor {
	return &BarProcessor{
		tracker: tracker,
		history: history,
		pub:     pub,
		audit:   audit,
		cache:   cache,
		metrics: metrics,
	}
}

// Process runs one bar end to end. Storage errors on the fan-out side are
// reported but do not undo the evaluation: the engine state has already
// advanced and a replay of the same bar would be dropped as stale.
func (p *BarProcessor) Process(ctx context.Context, bar *models.Bar) error {
	if bar == nil {
		return fmt.Errorf("bar is nil")
	}
	start := time.Now()

	if p.history != nil {
		if err := p.history.Store(ctx, bar); err != nil {
			p.metrics.RecordError("history_store")
			return fmt.Errorf("store bar: %w", err)
		}
	}

	snap, transitions, err := p.tracker.Apply(ctx, bar)
	if err != nil {
		if errors.Is(err, engine.ErrStaleBar) {
			return nil
		}
		return err
	}
	if snap == nil {
		return nil
	}

	if err := p.emit(ctx, snap, transitions); err != nil {
		return err
	}

	p.metrics.RecordLatency("process_bar", time.Since(start).Seconds())
	return nil
}

func (p *BarProcessor) emit(ctx context.Context, snap *models.RegimeSnapshot, transitions []models.Transition) error {
	p.metrics.RecordScore(snap.InstrumentID, "ti", snap.Scores.TI)
	p.metrics.RecordScore(snap.InstrumentID, "ts", snap.Scores.TS)
	p.metrics.RecordScore(snap.InstrumentID, "ox", snap.Scores.OX)
	p.metrics.RecordScore(snap.InstrumentID, "dx", snap.Scores.DX)
	p.metrics.RecordScore(snap.InstrumentID, "edx", snap.Scores.EDX)

	if p.pub != nil {
		if err := p.pub.Publish(ctx, snap); err != nil {
			p.metrics.RecordError("publish_snapshot")
			return fmt.Errorf("publish snapshot: %w", err)
		}
	}
	if p.cache != nil {
		if err := p.cache.Set(ctx, snap); err != nil {
			p.metrics.RecordError("cache_set")
		}
	}
	if p.audit != nil {
		if err := p.audit.StoreSnapshot(ctx, snap); err != nil {
			p.metrics.RecordError("audit_snapshot")
			return fmt.Errorf("store snapshot: %w", err)
		}
		if len(transitions) > 0 {
			if err := p.audit.Append(ctx, transitions); err != nil {
				p.metrics.RecordError("audit_append")
				return fmt.Errorf("append transitions: %w", err)
			}
		}
	}
	return nil
}

// Restore rebuilds every tracked instrument from stored history.
func (p *BarProcessor) Restore(ctx context.Context, instruments []string, tfs []drepo.Timeframe) error {
	if p.history == nil {
		return nil
	}
	for _, inst := range instruments {
		for _, tf := range tfs {
			if err := p.tracker.Restore(ctx, p.history, inst, tf); err != nil {
				return fmt.Errorf("restore %s/%s: %w", inst, tf, err)
			}
		}
	}
	return nil
}

// Close closes owned downstream resources.
func (p *BarProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.audit != nil {
		_ = p.audit.Close()
	}
	if p.history != nil {
		_ = p.history.Close()
	}
}
