package repository

import (
	"context"

	"RegimePull/internal/domain/models"
)

// BarStream delivers closed bars from an external feed (WebSocket or Kafka).
type BarStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Bar, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// SnapshotPublisher pushes per-bar regime snapshots downstream.
type SnapshotPublisher interface {
	Publish(ctx context.Context, s *models.RegimeSnapshot) error
	Close() error
}

// AuditLog is the durable append-only transition log. Write-only from the
// core; reads serve the HTTP API and replay tooling.
type AuditLog interface {
	Append(ctx context.Context, ts []models.Transition) error
	StoreSnapshot(ctx context.Context, s *models.RegimeSnapshot) error
	Transitions(ctx context.Context, instrument string, tf Timeframe, limit int) ([]models.Transition, error)
	LatestSnapshot(ctx context.Context, instrument string, tf Timeframe) (*models.RegimeSnapshot, error)
	Close() error
}

// BarHistory stores closed bars and serves the tail needed to rebuild an
// instrument track after restart.
type BarHistory interface {
	Store(ctx context.Context, b *models.Bar) error
	LatestN(ctx context.Context, instrument string, tf Timeframe, n int) ([]models.Bar, error)
	Close() error
}

// SnapshotCache holds the most recent snapshot per instrument for cheap reads.
type SnapshotCache interface {
	Set(ctx context.Context, s *models.RegimeSnapshot) error
	Get(ctx context.Context, instrument string, tf Timeframe) (*models.RegimeSnapshot, bool, error)
}

// Metrics abstracts the Prometheus recorder for the evaluation path.
type Metrics interface {
	RecordBarProcessed(instrument, tf string)
	RecordBarDropped(instrument, reason string)
	RecordTransition(instrument, from, to string)
	RecordScore(instrument, score string, value float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
