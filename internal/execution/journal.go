package execution

import (
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Journal persists order attempts to SQLite for analysis and audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id     TEXT NOT NULL DEFAULT '',
		symbol       TEXT NOT NULL,
		side         TEXT NOT NULL,
		qty          INTEGER NOT NULL,
		rule         TEXT,
		reason       TEXT,
		status       TEXT,
		error        TEXT,
		fill_price   REAL DEFAULT 0,
		submitted_at TEXT NOT NULL,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
	CREATE INDEX IF NOT EXISTS idx_orders_submitted_at ON orders(submitted_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened order journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// OrderRecord represents a row from the orders table.
type OrderRecord struct {
	ID          int64     `json:"id"`
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Qty         int64     `json:"qty"`
	Rule        string    `json:"rule"`
	Reason      string    `json:"reason"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	FillPrice   float64   `json:"fill_price"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// RecordOrder persists one order attempt.
func (j *Journal) RecordOrder(rec OrderRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO orders (order_id, symbol, side, qty, rule, reason, status, error, fill_price, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.OrderID, rec.Symbol, rec.Side, rec.Qty, rec.Rule, rec.Reason,
		rec.Status, rec.Error, rec.FillPrice,
		rec.SubmittedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetOrders returns the last N orders, newest first.
func (j *Journal) GetOrders(limit int) ([]OrderRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, order_id, symbol, side, qty, rule, reason, status, error, fill_price, submitted_at
		 FROM orders ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var r OrderRecord
		var rule, reason, status, errText sql.NullString
		var submitted string
		if err := rows.Scan(&r.ID, &r.OrderID, &r.Symbol, &r.Side, &r.Qty, &rule, &reason,
			&status, &errText, &r.FillPrice, &submitted); err != nil {
			return nil, err
		}
		r.Rule, r.Reason, r.Status, r.Error = rule.String, reason.String, status.String, errText.String
		r.SubmittedAt, _ = time.Parse(time.RFC3339Nano, submitted)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ping checks the database connection.
func (j *Journal) Ping() error {
	return j.db.Ping()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
