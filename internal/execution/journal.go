package execution

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"leverage-scanner/internal/model"
)

// Journal persists order results to SQLite for audit. It is write-mostly;
// nothing in the scan path reads it back.
type Journal struct {
	mu  sync.Mutex
	db  *sql.DB
	log *slog.Logger
}

// NewJournal opens (or creates) a SQLite order journal.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id       TEXT,
		inst_id        TEXT NOT NULL,
		side           TEXT NOT NULL,
		entry_price    TEXT NOT NULL,
		size           TEXT NOT NULL,
		tp_price       TEXT,
		sl_price       TEXT,
		status         TEXT NOT NULL,
		order_state    TEXT,
		exchange_code  TEXT,
		message        TEXT,
		bracket_error  TEXT,
		submitted_at   DATETIME NOT NULL,
		created_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_orders_inst ON orders(inst_id);
	CREATE INDEX IF NOT EXISTS idx_orders_submitted_at ON orders(submitted_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log := slog.Default().With("component", "journal")
	log.Info("opened order journal", "path", dbPath)
	return &Journal{db: db, log: log}, nil
}

// RecordOrder appends one order result.
func (j *Journal) RecordOrder(res model.OrderResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	submitted := res.SubmittedAt
	if submitted.IsZero() {
		submitted = time.Now().UTC()
	}
	_, err := j.db.Exec(
		`INSERT INTO orders (order_id, inst_id, side, entry_price, size, tp_price, sl_price,
		                     status, order_state, exchange_code, message, bracket_error, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.OrderID,
		res.InstID,
		res.Side,
		res.EntryPrice.String(),
		res.Size.String(),
		res.TPPrice.String(),
		res.SLPrice.String(),
		res.Status,
		res.OrderState,
		res.ExchangeCode,
		res.Message,
		res.BracketError,
		submitted.UTC().Format(time.RFC3339),
	)
	return err
}

// OrderRecord represents a row from the orders table.
type OrderRecord struct {
	ID           int64  `json:"id"`
	OrderID      string `json:"order_id"`
	InstID       string `json:"inst_id"`
	Side         string `json:"side"`
	EntryPrice   string `json:"entry_price"`
	Size         string `json:"size"`
	TPPrice      string `json:"tp_price"`
	SLPrice      string `json:"sl_price"`
	Status       string `json:"status"`
	OrderState   string `json:"order_state"`
	ExchangeCode string `json:"exchange_code"`
	Message      string `json:"message"`
	BracketError string `json:"bracket_error"`
	SubmittedAt  string `json:"submitted_at"`
}

// GetOrders returns the last N orders, newest first.
func (j *Journal) GetOrders(limit int) ([]OrderRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, order_id, inst_id, side, entry_price, size, tp_price, sl_price,
		        status, order_state, exchange_code, message, bracket_error, submitted_at
		 FROM orders ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []OrderRecord
	for rows.Next() {
		var o OrderRecord
		if err := rows.Scan(&o.ID, &o.OrderID, &o.InstID, &o.Side, &o.EntryPrice, &o.Size,
			&o.TPPrice, &o.SLPrice, &o.Status, &o.OrderState, &o.ExchangeCode, &o.Message,
			&o.BracketError, &o.SubmittedAt); err != nil {
			j.log.Warn("skipping unreadable order row", "err", err)
			continue
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Ping checks the database connection.
func (j *Journal) Ping() error {
	return j.db.Ping()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
