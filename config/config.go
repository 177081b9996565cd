// Package config loads runtime configuration: environment variables for
// infrastructure wiring, plus an optional YAML params file for the tunable
// strategy parameters (detector gates, veto thresholds, confluence weights,
// backtest ladder).
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"solswing/internal/backtest"
	"solswing/internal/detector"
	"solswing/internal/model"
	"solswing/internal/mtf"
	"solswing/internal/veto"
)

// Config holds all application configuration.
type Config struct {
	// Instrument
	Symbol    string
	OrderPath string

	// Feed: "ws" connects to FeedURL, "sim" runs the synthetic generator.
	FeedMode string
	FeedURL  string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisEnabled  bool
	SQLitePath    string
	MetricsAddr   string
	HTTPAddr      string

	// Timeframes the aggregator builds (comma-separated seconds).
	EnabledTFs string

	// Micro gate: when false, scalp_card skips the veto pre-flight.
	EnableMicroGate bool

	// LogLevel: debug, info, warn or error.
	LogLevel string

	// CSV import row cap.
	MaxCSVRows int

	// Strategy parameters, from ParamsFile when set.
	Params Params
}

// Params are the tunable strategy knobs, overridable via YAML.
type Params struct {
	Detector detector.Params `yaml:"detector"`
	Veto     veto.Thresholds `yaml:"veto"`
	Weights  mtf.Weights     `yaml:"confluence"`
	MTF      mtf.Config      `yaml:"mtf"`
	Backtest backtest.Config `yaml:"backtest"`
}

// DefaultParams returns the stock parameter set.
func DefaultParams() Params {
	return Params{
		Detector: detector.DefaultParams(),
		Veto:     veto.DefaultThresholds(),
		Weights:  mtf.DefaultWeights(),
		MTF:      mtf.DefaultConfig(),
		Backtest: backtest.DefaultConfig(),
	}
}

// Load reads configuration from environment variables with sensible
// defaults, then merges the YAML params file named by PARAMS_FILE if set.
func Load() (*Config, error) {
	cfg := &Config{
		Symbol:    getEnv("SYMBOL", "SOLUSD"),
		OrderPath: getEnv("ORDER_PATH", "limit@mid->market after 2s"),

		FeedMode: getEnv("FEED_MODE", "ws"),
		FeedURL:  getEnv("FEED_URL", "ws://localhost:9001/ws"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisEnabled:  getEnvBool("REDIS_ENABLED", false),
		SQLitePath:    getEnv("SQLITE_PATH", "data/solswing.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),

		// 1m, 5m, 15m, 1h, 4h, 1d
		EnabledTFs: getEnv("ENABLED_TFS", "60,300,900,3600,14400,86400"),

		EnableMicroGate: getEnvBool("ENABLE_MICRO_GATE", false),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		MaxCSVRows:      getEnvInt("MAX_CSV_ROWS", 200000),

		Params: DefaultParams(),
	}

	if path := os.Getenv("PARAMS_FILE"); path != "" {
		if err := cfg.loadParamsFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Params.Detector.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Params.Weights.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Params.Backtest.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadParamsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Wrap(model.EConfig, err, "params file %s", path)
	}
	if err := yaml.Unmarshal(data, &c.Params); err != nil {
		return model.Wrap(model.EConfig, err, "params file %s", path)
	}
	log.Printf("[config] loaded params from %s", path)
	return nil
}

// ParseTFs parses EnabledTFs into validated timeframes. The detector's 5m
// trigger timeframe is always included.
func (c *Config) ParseTFs() ([]model.Timeframe, error) {
	parts := strings.Split(c.EnabledTFs, ",")
	seen := map[model.Timeframe]bool{}
	var tfs []model.Timeframe
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n <= 0 {
			return nil, model.Errf(model.EConfig, "invalid timeframe value %q", p)
		}
		tf := model.Timeframe(n)
		if !tf.Valid() {
			return nil, model.Errf(model.EConfig, "unsupported timeframe %ds", n)
		}
		if !seen[tf] {
			seen[tf] = true
			tfs = append(tfs, tf)
		}
	}
	if !seen[model.TF5m] {
		tfs = append(tfs, model.TF5m)
	}
	if len(tfs) == 0 {
		return nil, model.Errf(model.EConfig, "no timeframes enabled")
	}
	return tfs, nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

// String renders the non-secret configuration for startup logging.
func (c *Config) String() string {
	return fmt.Sprintf("symbol=%s feed=%s tfs=%s redis=%v sqlite=%s http=%s metrics=%s micro_gate=%v",
		c.Symbol, c.FeedMode, c.EnabledTFs, c.RedisEnabled, c.SQLitePath,
		c.HTTPAddr, c.MetricsAddr, c.EnableMicroGate)
}
