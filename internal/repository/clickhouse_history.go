package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"RegimePull/internal/domain/models"
	domrepo "RegimePull/internal/domain/repository"
	pkgch "RegimePull/pkg/clickhouse"
)

// HistorySchema holds the idempotent DDL for the bar history table.
var HistorySchema = []string{
	`CREATE TABLE IF NOT EXISTS bars (
		instrument_id LowCardinality(String),
		timeframe     LowCardinality(String),
		close_time    DateTime64(3),
		open   Float64,
		high   Float64,
		low    Float64,
		close  Float64,
		volume Float64,
		structural_level Float64
	) ENGINE = ReplacingMergeTree
	ORDER BY (instrument_id, timeframe, close_time)`,
}

// CHBarHistory implements BarHistory backed by ClickHouse. The replacing
// engine absorbs the occasional duplicate insert on replayed input, which
// keeps the restart rebuild clean.
type CHBarHistory struct {
	db *sql.DB
}

func NewCHBarHistory(ch *pkgch.Client) *CHBarHistory {
	return &CHBarHistory{db: ch.DB()}
}

func (s *CHBarHistory) Store(ctx context.Context, b *models.Bar) error {
	const q = `INSERT INTO bars
		(instrument_id, timeframe, close_time, open, high, low, close, volume, structural_level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q,
		b.InstrumentID, b.Timeframe, b.CloseTime,
		b.Open, b.High, b.Low, b.Close, b.Volume, b.StructuralLevel,
	); err != nil {
		return fmt.Errorf("store bar: %w", err)
	}
	return nil
}

// LatestN returns the most recent n bars in ascending close-time order.
func (s *CHBarHistory) LatestN(ctx context.Context, instrument string, tf domrepo.Timeframe, n int) ([]models.Bar, error) {
	const q = `SELECT instrument_id, timeframe, close_time, open, high, low, close, volume, structural_level
		FROM bars
		WHERE instrument_id = ? AND timeframe = ?
		ORDER BY close_time DESC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, instrument, string(tf), n)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	out := make([]models.Bar, 0, n)
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.InstrumentID, &b.Timeframe, &b.CloseTime,
			&b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.StructuralLevel,
		); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CloseTime.Before(out[j].CloseTime) })
	return out, nil
}

func (s *CHBarHistory) Close() error {
	return nil // pool owned by pkg client
}
