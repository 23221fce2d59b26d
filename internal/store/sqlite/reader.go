package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"signalbot/internal/indicator"
	"signalbot/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to stored bars for warm start and
// backtests. It implements model.HistoricalFeed.
type Reader struct {
	db *sql.DB
}

var _ model.HistoricalFeed = (*Reader)(nil)

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// Bars returns bars for symbol with from <= ts <= to, oldest first.
func (r *Reader) Bars(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, close FROM bars
		WHERE symbol = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC, id ASC
	`, symbol, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	return scanBars(rows)
}

// ReadRecent returns the newest n bars for symbol, oldest first.
func (r *Reader) ReadRecent(ctx context.Context, symbol string, n int) ([]model.Bar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, close FROM (
			SELECT id, ts, close FROM bars WHERE symbol = ? ORDER BY ts DESC, id DESC LIMIT ?
		) ORDER BY ts ASC, id ASC
	`, symbol, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite query recent bars: %w", err)
	}
	return scanBars(rows)
}

func scanBars(rows *sql.Rows) ([]model.Bar, error) {
	defer rows.Close()
	var bars []model.Bar
	for rows.Next() {
		var ms int64
		var c float64
		if err := rows.Scan(&ms, &c); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		bars = append(bars, model.BarFromMillis(ms, c))
	}
	return bars, rows.Err()
}

// ReadLatestSnapshot loads the most recent indicator snapshot for symbol.
// Returns ok=false when none is stored.
func (r *Reader) ReadLatestSnapshot(ctx context.Context, symbol string) (snap indicator.Snapshot, ts time.Time, ok bool, err error) {
	var data string
	var ms int64
	err = r.db.QueryRowContext(ctx, `
		SELECT ts, data FROM indicator_snapshots
		WHERE symbol = ?
		ORDER BY id DESC
		LIMIT 1
	`, symbol).Scan(&ms, &data)
	if err != nil {
		if err == sql.ErrNoRows {
			return snap, ts, false, nil
		}
		return snap, ts, false, fmt.Errorf("sqlite read snapshot: %w", err)
	}

	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return snap, ts, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, time.UnixMilli(ms).UTC(), true, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
