package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"solswing/config"
	"solswing/internal/engine"
	"solswing/internal/gateway"
	"solswing/internal/logger"
	"solswing/internal/metrics"
	redisstore "solswing/internal/store/redis"
	sqlitestore "solswing/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[signald] starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[signald] config: %v", err)
	}
	log.Printf("[signald] %s", cfg)

	logg := logger.Init("signald", logger.ParseLevel(cfg.LogLevel))

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite journal (off hot path) ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	journal, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[signald] sqlite init failed: %v", err)
	}
	defer journal.Close()
	log.Println("[signald] sqlite journal ready")

	// ---- Redis publisher (optional) ----
	sinks := engine.Sinks{Journal: journal}
	var pub *redisstore.Publisher
	if cfg.RedisEnabled {
		pub, err = redisstore.NewPublisher(redisstore.PublisherConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[signald] WARNING: redis init failed: %v (continuing without redis)", err)
		} else {
			pub.OnBuffer = prom.RedisBufferedPubs.Inc
			pub.Breaker().OnStateChange = func(from, to redisstore.State) {
				log.Printf("[signald] redis breaker %s -> %s", from, to)
				prom.RedisBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisBreakerTrips.Inc()
				}
			}
			sinks.Publisher = pub
			sinks.CardPublisher = pub
			sinks.StatePublisher = pub
			defer pub.Close()
			log.Println("[signald] redis publisher ready")
		}
	}

	// ---- Liveness checks ----
	if pub != nil {
		health.StartLivenessChecker(ctx, pub.Client(), journal.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, journal.DB(), 10*time.Second)
	}

	// ---- Engine ----
	eng, err := engine.New(cfg, logg, prom, health, sinks)
	if err != nil {
		log.Fatalf("[signald] engine init failed: %v", err)
	}
	defer eng.Shutdown()

	// ---- HTTP/WS gateway ----
	srv := gateway.NewServer(cfg, eng)
	srv.Start()

	log.Println("[signald] ╔════════════════════════════════════════════════════════════╗")
	log.Println("[signald] ║  Swing Signal Engine                                      ║")
	log.Println("[signald] ║                                                           ║")
	log.Println("[signald] ║  [Feed WS] → [Agg] → [Detector] → [MTF] → [Card/Fan-out]  ║")
	log.Printf("[signald] ║  Symbol: %-10s  Feed: %-4s  MicroGate: %-5v         ║",
		cfg.Symbol, cfg.FeedMode, cfg.EnableMicroGate)
	log.Printf("[signald] ║  HTTP: %-8s  Metrics: %-8s                        ║",
		cfg.HTTPAddr, cfg.MetricsAddr)
	log.Println("[signald] ╚════════════════════════════════════════════════════════════╝")

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[signald] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Stop(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	log.Println("[signald] shutdown complete.")
}
