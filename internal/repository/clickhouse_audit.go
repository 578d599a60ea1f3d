package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"RegimePull/internal/domain/models"
	domrepo "RegimePull/internal/domain/repository"
	pkgch "RegimePull/pkg/clickhouse"
	applogger "RegimePull/pkg/logger"
)

// AuditSchema holds the idempotent DDL for the audit tables.
var AuditSchema = []string{
	`CREATE TABLE IF NOT EXISTS regime_transitions (
		instrument_id LowCardinality(String),
		timeframe     LowCardinality(String),
		prior_state   LowCardinality(String),
		new_state     LowCardinality(String),
		rule          LowCardinality(String),
		ti  Float64,
		ts_ Float64,
		ox  Float64,
		dx  Float64,
		edx Float64,
		bar_time DateTime64(3)
	) ENGINE = MergeTree
	ORDER BY (instrument_id, timeframe, bar_time)`,
	`CREATE TABLE IF NOT EXISTS regime_snapshots (
		instrument_id LowCardinality(String),
		timeframe     LowCardinality(String),
		bar_time      DateTime64(3),
		state         LowCardinality(String),
		payload       String
	) ENGINE = ReplacingMergeTree
	ORDER BY (instrument_id, timeframe, bar_time)`,
}

// CHAuditLog implements AuditLog backed by ClickHouse. Appends are write-only
// from the evaluation path; reads serve the HTTP API.
type CHAuditLog struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHAuditLog(ch *pkgch.Client, l *applogger.Logger) *CHAuditLog {
	return &CHAuditLog{db: ch.DB(), l: l}
}

func (s *CHAuditLog) Append(ctx context.Context, ts []models.Transition) error {
	if len(ts) == 0 {
		return nil
	}
	const q = `INSERT INTO regime_transitions
		(instrument_id, timeframe, prior_state, new_state, rule, ti, ts_, ox, dx, edx, bar_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for i := range ts {
		t := &ts[i]
		if _, err := s.db.ExecContext(ctx, q,
			t.InstrumentID, t.Timeframe, string(t.From), string(t.To), t.Rule,
			t.Scores.TI, t.Scores.TS, t.Scores.OX, t.Scores.DX, t.Scores.EDX,
			t.BarTime,
		); err != nil {
			return fmt.Errorf("append transition: %w", err)
		}
	}
	return nil
}

func (s *CHAuditLog) StoreSnapshot(ctx context.Context, snap *models.RegimeSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	const q = `INSERT INTO regime_snapshots
		(instrument_id, timeframe, bar_time, state, payload)
		VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q,
		snap.InstrumentID, snap.Timeframe, snap.BarTime, string(snap.State), string(payload),
	); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

func (s *CHAuditLog) Transitions(ctx context.Context, instrument string, tf domrepo.Timeframe, limit int) ([]models.Transition, error) {
	start := time.Now()
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT instrument_id, timeframe, prior_state, new_state, rule,
			ti, ts_, ox, dx, edx, bar_time
		FROM regime_transitions
		WHERE instrument_id = ? AND timeframe = ?
		ORDER BY bar_time DESC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, instrument, string(tf), limit)
	if err != nil {
		s.l.Error("clickhouse transitions query error",
			applogger.String("instrument", instrument),
			applogger.String("tf", string(tf)),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	out := make([]models.Transition, 0, limit)
	for rows.Next() {
		var t models.Transition
		var from, to string
		if err := rows.Scan(&t.InstrumentID, &t.Timeframe, &from, &to, &t.Rule,
			&t.Scores.TI, &t.Scores.TS, &t.Scores.OX, &t.Scores.DX, &t.Scores.EDX,
			&t.BarTime,
		); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.From = models.RegimeState(from)
		t.To = models.RegimeState(to)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse transitions ok",
		applogger.String("instrument", instrument),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (s *CHAuditLog) LatestSnapshot(ctx context.Context, instrument string, tf domrepo.Timeframe) (*models.RegimeSnapshot, error) {
	const q = `SELECT payload
		FROM regime_snapshots
		WHERE instrument_id = ? AND timeframe = ?
		ORDER BY bar_time DESC
		LIMIT 1`
	var payload string
	err := s.db.QueryRowContext(ctx, q, instrument, string(tf)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	var snap models.RegimeSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *CHAuditLog) Close() error {
	return nil // pool owned by pkg client
}
