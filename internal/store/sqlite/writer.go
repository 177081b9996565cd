// Package sqlite journals closed bars, emitted signals and backtest runs.
// One writer goroutine owns the bar path; inserts are batched per
// transaction. The journal is a sink — the live pipeline never reads it on
// the hot path.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"solswing/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite journal.
type WriterConfig struct {
	DBPath string // e.g. "data/solswing.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
// Implements model.BarWriter, model.SignalWriter and model.BacktestWriter.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer discipline.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			tf        INTEGER NOT NULL,
			ts        INTEGER NOT NULL,
			open      REAL    NOT NULL,
			high      REAL    NOT NULL,
			low       REAL    NOT NULL,
			close     REAL    NOT NULL,
			volume    REAL    NOT NULL,
			synthetic INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (tf, ts)
		);

		CREATE TABLE IF NOT EXISTS signals (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			confirm_epoch INTEGER NOT NULL,
			side          TEXT    NOT NULL,
			entry         REAL    NOT NULL,
			stop_loss     REAL    NOT NULL,
			data          TEXT    NOT NULL,
			created_at    INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE TABLE IF NOT EXISTS backtest_runs (
			run_id     TEXT PRIMARY KEY,
			stats      TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE TABLE IF NOT EXISTS backtest_trades (
			run_id      TEXT    NOT NULL,
			seq         INTEGER NOT NULL,
			entry_epoch INTEGER NOT NULL,
			exit_epoch  INTEGER NOT NULL,
			side        TEXT    NOT NULL,
			entry_price REAL    NOT NULL,
			exit_price  REAL    NOT NULL,
			size        REAL    NOT NULL,
			exit_reason TEXT    NOT NULL,
			pnl_abs     REAL    NOT NULL,
			pnl_r       REAL    NOT NULL,
			bars_held   INTEGER NOT NULL,
			balance     REAL    NOT NULL,
			PRIMARY KEY (run_id, seq)
		);
	`)
	return err
}

// RunBars reads closed bars from barCh and inserts them in batched
// transactions. Flushes every defaultBatchSize bars or defaultFlushDelay,
// whichever first. Blocks until ctx is cancelled or barCh is closed.
func (w *Writer) RunBars(ctx context.Context, barCh <-chan model.TFBar) {
	batch := make([]model.TFBar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBars(batch); err != nil {
			log.Printf("[sqlite] bar batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d bars in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case b, ok := <-barCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, b)
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

func (w *Writer) insertBars(bars []model.TFBar) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO bars (tf, ts, open, high, low, close, volume, synthetic)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		syn := 0
		if b.Bar.Synthetic {
			syn = 1
		}
		_, err := stmt.Exec(int64(b.TF), b.Bar.Epoch, b.Bar.Open, b.Bar.High,
			b.Bar.Low, b.Bar.Close, b.Bar.Volume, syn)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// WriteSignal journals one emitted signal; the full record rides along as
// JSON next to the queryable key fields.
func (w *Writer) WriteSignal(ctx context.Context, sig model.Signal) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO signals (confirm_epoch, side, entry, stop_loss, data)
		VALUES (?, ?, ?, ?, ?)
	`, sig.ConfirmEpoch, string(sig.Side), sig.Entry, sig.StopLoss, string(sig.JSON()))
	if err != nil {
		return fmt.Errorf("sqlite insert signal: %w", err)
	}
	return nil
}

// WriteBacktest persists one run's stats and trades in a single transaction.
func (w *Writer) WriteBacktest(ctx context.Context, id string, statsJSON []byte, trades []model.Trade) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO backtest_runs (run_id, stats) VALUES (?, ?)`,
		id, string(statsJSON)); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite insert run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO backtest_trades
		(run_id, seq, entry_epoch, exit_epoch, side, entry_price, exit_price,
		 size, exit_reason, pnl_abs, pnl_r, bars_held, balance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i, t := range trades {
		_, err := stmt.Exec(id, i, t.EntryEpoch, t.ExitEpoch, string(t.Side),
			t.EntryPrice, t.ExitPrice, t.Size, string(t.ExitReason),
			t.PnLAbs, t.PnLR, t.BarsHeld, t.BalanceAfter)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert trade: %w", err)
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
