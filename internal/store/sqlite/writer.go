// Package sqlite persists bars and indicator snapshots so the engine can warm
// start after a restart and backtests can replay stored history.
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

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond

	snapshotsKeepPerSymbol = 500
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath     string        // path to SQLite database file, e.g. "data/bars.db"
	BatchSize  int           // default 100
	FlushDelay time.Duration // default 200ms
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db         *sql.DB
	batchSize  int
	flushDelay time.Duration

	// OnCommit is called after each batch commit (for metrics).
	OnCommit func(n int, d time.Duration)

	done chan struct{}
}

var _ model.BarWriter = (*Writer)(nil)

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	w := &Writer{db: db, batchSize: cfg.BatchSize, flushDelay: cfg.FlushDelay, done: make(chan struct{})}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.flushDelay <= 0 {
		w.flushDelay = defaultFlushDelay
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return w, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			id     INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			close  REAL    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_bars_symbol_ts ON bars(symbol, ts, id);

		CREATE TABLE IF NOT EXISTS indicator_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			data       TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_symbol ON indicator_snapshots(symbol, id);
	`)
	return err
}

// Done is closed when Run has flushed its last batch and returned.
func (w *Writer) Done() <-chan struct{} { return w.done }

// Run reads bars from barCh and inserts them in batched transactions.
// Flushes every batchSize bars OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or barCh is closed. Run must be called once.
func (w *Writer) Run(ctx context.Context, barCh <-chan model.BarEvent) {
	defer close(w.done)
	batch := make([]model.BarEvent, 0, w.batchSize)
	timer := time.NewTimer(w.flushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.WriteBars(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			d := time.Since(start)
			log.Printf("[sqlite] committed %d bars in %v", len(batch), d)
			if w.OnCommit != nil {
				w.OnCommit(len(batch), d)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case ev, ok := <-barCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= w.batchSize {
				flush()
				timer.Reset(w.flushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(w.flushDelay)
		}
	}
}

// WriteBars inserts bars in a single transaction. Bars sharing a timestamp
// are kept as separate rows in arrival order, the same way the engine
// buffers them.
func (w *Writer) WriteBars(events []model.BarEvent) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO bars (symbol, ts, close) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.Exec(ev.Symbol, ev.Bar.TS.UnixMilli(), ev.Bar.Close); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// GetLastTimestamp returns the last stored bar time for symbol.
// Returns the zero time if no bars exist.
func (w *Writer) GetLastTimestamp(symbol string) (time.Time, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(`SELECT MAX(ts) FROM bars WHERE symbol = ?`, symbol).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(ts.Int64).UTC(), nil
}

// SaveSnapshot stores an indicator snapshot for audit, keeping the most
// recent entries per symbol.
func (w *Writer) SaveSnapshot(symbol string, ts time.Time, snap indicator.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = w.db.Exec(`INSERT INTO indicator_snapshots (symbol, ts, data) VALUES (?, ?, ?)`,
		symbol, ts.UnixMilli(), string(data))
	if err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	_, err = w.db.Exec(`
		DELETE FROM indicator_snapshots
		WHERE symbol = ? AND id NOT IN (
			SELECT id FROM indicator_snapshots WHERE symbol = ? ORDER BY id DESC LIMIT ?
		)`, symbol, symbol, snapshotsKeepPerSymbol)
	if err != nil {
		log.Printf("[sqlite] prune snapshots warning: %v", err)
	}
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
