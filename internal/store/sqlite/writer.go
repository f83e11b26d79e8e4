package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	json "github.com/bytedance/sonic"
	_ "github.com/mattn/go-sqlite3"

	"leverage-scanner/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
	defaultQueueSize  = 1024
)

// ErrQueueFull is returned by Emit when the writer cannot keep up.
var ErrQueueFull = errors.New("sqlite: signal queue full")

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath    string // path to SQLite database file, e.g. "data/signals.db"
	QueueSize int
}

// Writer is a single-goroutine SQLite signal log with transaction batching.
// Emit only enqueues; Run owns the connection.
type Writer struct {
	db  *sql.DB
	ch  chan model.SignalRecord
	log *slog.Logger
	now func() time.Time
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	log := slog.Default().With("component", "sqlite")
	log.Info("opened signal log", "path", cfg.DBPath)
	return &Writer{
		db:  db,
		ch:  make(chan model.SignalRecord, size),
		log: log,
		now: time.Now,
	}, nil
}

// The column set mirrors the signal sheet, with the full record
// kept as JSON so readers can rebuild it.
func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS signals (
			id                   INTEGER PRIMARY KEY AUTOINCREMENT,
			logged_at            INTEGER NOT NULL,
			candle_time          INTEGER NOT NULL,
			symbol               TEXT    NOT NULL,
			timeframe            TEXT    NOT NULL,
			reason               TEXT    NOT NULL,
			price                REAL,
			rsi                  REAL,
			ema21                REAL,
			ema50                REAL,
			confidence           INTEGER NOT NULL,
			price_from_breakout  REAL,
			ema_alignment        REAL,
			signal_age           REAL,
			label_type           TEXT    NOT NULL,
			momentum_score       INTEGER,
			is_1m_hint           INTEGER NOT NULL DEFAULT 0,
			early_hint_time      INTEGER,
			signal_delay_minutes REAL,
			data                 TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol, timeframe);
		CREATE INDEX IF NOT EXISTS idx_signals_logged_at ON signals(logged_at);
	`)
	return err
}

// Name implements model.SignalSink.
func (w *Writer) Name() string { return "sqlite" }

// Emit enqueues a record for the next batch. It never blocks on disk.
func (w *Writer) Emit(ctx context.Context, rec model.SignalRecord) error {
	select {
	case w.ch <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Run drains queued signals and inserts them in batched transactions.
// Flushes every batchSize records OR every flushDelay, whichever first.
// Blocks until ctx is cancelled; anything still queued is written first.
func (w *Writer) Run(ctx context.Context) {
	batch := make([]model.SignalRecord, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			w.log.Error("batch insert failed", "count", len(batch), "err", err)
		} else {
			w.log.Debug("committed signals", "count", len(batch), "took", time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case rec := <-w.ch:
					batch = append(batch, rec)
				default:
					flush()
					return
				}
			}

		case rec := <-w.ch:
			batch = append(batch, rec)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch inserts a batch of signals in a single transaction.
func (w *Writer) insertBatch(recs []model.SignalRecord) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO signals (logged_at, candle_time, symbol, timeframe, reason, price, rsi, ema21, ema50,
		                     confidence, price_from_breakout, ema_alignment, signal_age, label_type,
		                     momentum_score, is_1m_hint, early_hint_time, signal_delay_minutes, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	logged := w.now().UnixMilli()
	for _, r := range recs {
		data, err := json.Marshal(r)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal signal %s: %w", r.Key(), err)
		}
		var hintAt sql.NullInt64
		if r.EarlyHintTime != nil {
			hintAt = sql.NullInt64{Int64: r.EarlyHintTime.UnixMilli(), Valid: true}
		}
		_, err = stmt.Exec(
			logged, r.CandleTime.UnixMilli(), r.Symbol, r.Timeframe, r.Reason,
			r.Price, r.RSI, r.EMA21, r.EMA50,
			r.Confidence, nullFloat(r.PriceFromBreakoutPct), nullFloat(r.EMAAlignment), r.SignalAgeMinutes, r.LabelType,
			r.MomentumScore, r.Is1mHint, hintAt, nullFloat(r.SignalDelayMinutes), string(data),
		)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
