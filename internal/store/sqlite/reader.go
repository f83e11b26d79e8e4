package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"

	json "github.com/bytedance/sonic"
	_ "github.com/mattn/go-sqlite3"

	"leverage-scanner/internal/model"
)

const maxRecentLimit = 500

// Reader provides read-only access to the signal log for the dashboard.
type Reader struct {
	db  *sql.DB
	log *slog.Logger
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	// The writer may not have created the table yet.
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	log := slog.Default().With("component", "sqlite-reader")
	log.Info("opened signal log for reading", "path", dbPath)
	return &Reader{db: db, log: log}, nil
}

// RecentSignals returns up to limit signals, newest first. Limits outside
// (0, 500] are clamped.
func (r *Reader) RecentSignals(limit int) ([]model.SignalRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	rows, err := r.db.Query(`SELECT data FROM signals ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	out := make([]model.SignalRecord, 0, limit)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite scan signals: %w", err)
		}
		var rec model.SignalRecord
		if err := json.UnmarshalString(data, &rec); err != nil {
			r.log.Warn("skipping unreadable signal row", "err", err)
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
