package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"

	"solswing/internal/model"
)

// Reader provides read-only access to the journal for warm starts and the
// backtest result endpoint.
type Reader struct {
	db *sql.DB
}

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

// ReadBars returns bars on tf with epoch > afterEpoch, oldest-first.
// limit <= 0 means no limit.
func (r *Reader) ReadBars(tf model.Timeframe, afterEpoch int64, limit int) ([]model.Bar, error) {
	q := `
		SELECT ts, open, high, low, close, volume, synthetic
		FROM bars WHERE tf = ? AND ts > ? ORDER BY ts ASC`
	args := []any{int64(tf), afterEpoch}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var syn int
		if err := rows.Scan(&b.Epoch, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &syn); err != nil {
			return nil, fmt.Errorf("sqlite scan bar: %w", err)
		}
		b.Synthetic = syn != 0
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ReadSignals returns the most recent signals, newest-first.
func (r *Reader) ReadSignals(limit int) ([]model.Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`SELECT data FROM signals ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	var sigs []model.Signal
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite scan signal: %w", err)
		}
		var s model.Signal
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			log.Printf("[sqlite-reader] bad signal row: %v", err)
			continue
		}
		sigs = append(sigs, s)
	}
	return sigs, rows.Err()
}

// ReadBacktest returns one run's stats JSON and trades. The boolean is
// false when the run does not exist.
func (r *Reader) ReadBacktest(runID string) (json.RawMessage, []model.Trade, bool, error) {
	var stats string
	err := r.db.QueryRow(`SELECT stats FROM backtest_runs WHERE run_id = ?`, runID).Scan(&stats)
	if err == sql.ErrNoRows {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("sqlite query run: %w", err)
	}

	rows, err := r.db.Query(`
		SELECT entry_epoch, exit_epoch, side, entry_price, exit_price,
		       size, exit_reason, pnl_abs, pnl_r, bars_held, balance
		FROM backtest_trades WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, nil, false, fmt.Errorf("sqlite query trades: %w", err)
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var side, reason string
		if err := rows.Scan(&t.EntryEpoch, &t.ExitEpoch, &side, &t.EntryPrice,
			&t.ExitPrice, &t.Size, &reason, &t.PnLAbs, &t.PnLR, &t.BarsHeld,
			&t.BalanceAfter); err != nil {
			return nil, nil, false, fmt.Errorf("sqlite scan trade: %w", err)
		}
		t.Side = model.Side(side)
		t.ExitReason = model.ExitReason(reason)
		trades = append(trades, t)
	}
	return json.RawMessage(stats), trades, true, rows.Err()
}

// Close closes the database.
func (r *Reader) Close() error {
	return r.db.Close()
}
