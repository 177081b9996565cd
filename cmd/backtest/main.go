// cmd/backtest runs the simulator offline over a 5m CSV export or the
// SQLite journal, and prints the run statistics as JSON.
//
// Usage:
//
//	go run ./cmd/backtest --csv=data/sol_5m.csv --capital=10000 --risk=0.02
//	go run ./cmd/backtest --db=data/solswing.db --from=1700000000
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"solswing/config"
	"solswing/internal/backtest"
	"solswing/internal/marketdata/csvload"
	"solswing/internal/model"
	sqlitestore "solswing/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	csvPath := flag.String("csv", "", "Path to a 5m OHLCV CSV export")
	dbPath := flag.String("db", "", "Path to the SQLite journal (alternative to --csv)")
	fromTS := flag.Int64("from", 0, "Unix timestamp to start from when reading SQLite (0=all)")
	capital := flag.Float64("capital", 0, "Initial capital override")
	risk := flag.Float64("risk", 0, "Risk-per-trade fraction override")
	trades := flag.Bool("trades", false, "Print the trade list as well")
	flag.Parse()

	if *csvPath == "" && *dbPath == "" {
		log.Fatal("[backtest] one of --csv or --db is required")
	}

	// PARAMS_FILE and the detector/backtest env knobs apply here too.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[backtest] config: %v", err)
	}
	bcfg := cfg.Params.Backtest
	if *capital > 0 {
		bcfg.InitialCapital = *capital
	}
	if *risk > 0 {
		bcfg.RiskPerTrade = *risk
	}

	bars, err := loadBars(*csvPath, *dbPath, *fromTS, cfg.MaxCSVRows)
	if err != nil {
		log.Fatalf("[backtest] load: %v", err)
	}
	log.Printf("[backtest] loaded %d bars", len(bars))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	sim, err := backtest.New(bcfg, cfg.Params.Detector)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	res, err := sim.Run(ctx, model.TF5m, bars)
	if err != nil && res == nil {
		log.Fatalf("[backtest] run failed: %v", err)
	}
	if err != nil {
		log.Printf("[backtest] partial run: %v", err)
	}

	out, _ := json.MarshalIndent(res.Stats, "", "  ")
	fmt.Println(string(out))
	if *trades {
		tl, _ := json.MarshalIndent(res.Trades, "", "  ")
		fmt.Println(string(tl))
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Run ID:   %-25s ║\n", res.RunID[:8])
	fmt.Printf("║  Trades:   %-25d ║\n", res.Stats.TotalTrades)
	fmt.Printf("║  Win rate: %-24.1f%% ║\n", res.Stats.WinRate)
	fmt.Printf("║  Final:    %-25.2f ║\n", res.Stats.FinalBalance)
	fmt.Println("╚══════════════════════════════════════╝")
}

func loadBars(csvPath, dbPath string, fromTS int64, maxRows int) ([]model.Bar, error) {
	if csvPath != "" {
		f, err := os.Open(csvPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		bars, _, err := csvload.Parse(f, maxRows)
		return bars, err
	}

	reader, err := sqlitestore.NewReader(dbPath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return reader.ReadBars(model.TF5m, fromTS, 0)
}
