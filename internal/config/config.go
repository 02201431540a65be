// Package config is the runtime knob set for the trading engine: venue
// connection, trading/risk parameters, sync cadence, and ops (metrics
// port, log level). Adapted from the teacher's config.go (same
// getEnv/getEnvFloat/getEnvInt/getEnvBool-reads-with-defaults shape, same
// Config-struct-plus-loader split), generalized from the teacher's
// single-strategy spot-bot knobs to the leveraged-futures trading-loop
// domain this module implements.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// KnownEnvKeys lists every key Load reads, for envfile.Load/LoadDefault to
// scan a shared .env for without picking up unrelated keys.
func KnownEnvKeys() []string {
	return []string{
		"VENUE_BASE_URL", "VENUE_API_KEY", "VENUE_API_SECRET", "PAPER_TRADING",
		"MAX_RUNNING_TRADES", "TSL_STEP_FLOOR_PCT", "FEE_PCT", "RECOVER_ON_STARTUP",
		"SYNC_MODE_FULL", "LIVE_LOOKBACK_MINUTES", "LIVE_TICK_INTERVAL_SEC",
		"RESYNC_INTERVAL_SEC", "RESTART_INTERVAL_SEC", "SHUTDOWN_TIMEOUT_SEC",
		"LIVE_PRICE_TICK_MAX_INTERVAL_SEC", "HISTORY_PAGE_LIMIT",
		"METRICS_PORT", "LOG_LEVEL",
	}
}

// Config holds every runtime knob the engine binary reads at startup.
type Config struct {
	// Venue connection.
	VenueBaseURL  string
	VenueAPIKey   string
	VenueAPISecret string
	PaperTrading  bool // true: run against venue.Paper instead of a real venue

	// Trading/risk.
	MaxRunningTrades int
	TSLStepFloorPct  float64
	FeePct           float64
	RecoverOnStartup bool

	// SyncEngine cadence (internal/sync.Config, seconds on the wire).
	SyncModeFull                bool
	LiveLookbackMinutes         int
	LiveTickIntervalSec         int
	ReSyncIntervalSec           int
	RestartIntervalSec          int
	ShutdownTimeoutSec          int
	LivePriceTickMaxIntervalSec int
	HistoryPageLimit            int

	// Ops.
	MetricsPort int
	LogLevel    string
}

// Load reads the process environment (already hydrated by
// envfile.LoadDefault, if the caller chose to use it) and returns a Config
// with production-sane defaults for anything unset.
func Load() Config {
	return Config{
		VenueBaseURL:   getEnv("VENUE_BASE_URL", ""),
		VenueAPIKey:    getEnv("VENUE_API_KEY", ""),
		VenueAPISecret: getEnv("VENUE_API_SECRET", ""),
		PaperTrading:   getEnvBool("PAPER_TRADING", true),

		MaxRunningTrades: getEnvInt("MAX_RUNNING_TRADES", 10),
		TSLStepFloorPct:  getEnvFloat("TSL_STEP_FLOOR_PCT", 0.1),
		FeePct:           getEnvFloat("FEE_PCT", 0.05),
		RecoverOnStartup: getEnvBool("RECOVER_ON_STARTUP", true),

		SyncModeFull:                getEnvBool("SYNC_MODE_FULL", false),
		LiveLookbackMinutes:         getEnvInt("LIVE_LOOKBACK_MINUTES", 60*24),
		LiveTickIntervalSec:         getEnvInt("LIVE_TICK_INTERVAL_SEC", 1),
		ReSyncIntervalSec:           getEnvInt("RESYNC_INTERVAL_SEC", 3000),
		RestartIntervalSec:          getEnvInt("RESTART_INTERVAL_SEC", 10),
		ShutdownTimeoutSec:          getEnvInt("SHUTDOWN_TIMEOUT_SEC", 6),
		LivePriceTickMaxIntervalSec: getEnvInt("LIVE_PRICE_TICK_MAX_INTERVAL_SEC", 30),
		HistoryPageLimit:            getEnvInt("HISTORY_PAGE_LIMIT", 300),

		MetricsPort: getEnvInt("METRICS_PORT", 8080),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
}

// Validate rejects configurations the engine could not safely start with.
func (c Config) Validate() error {
	if !c.PaperTrading && c.VenueBaseURL == "" {
		return fmt.Errorf("config: VENUE_BASE_URL is required unless PAPER_TRADING is set")
	}
	if !c.PaperTrading && (c.VenueAPIKey == "" || c.VenueAPISecret == "") {
		return fmt.Errorf("config: VENUE_API_KEY and VENUE_API_SECRET are required unless PAPER_TRADING is set")
	}
	if c.MaxRunningTrades <= 0 {
		return fmt.Errorf("config: MAX_RUNNING_TRADES must be positive")
	}
	return nil
}

// LiveLookback is the live-lookback duration derived from
// LiveLookbackMinutes, for wiring into sync.LiveWithLookback.
func (c Config) LiveLookback() time.Duration {
	return time.Duration(c.LiveLookbackMinutes) * time.Minute
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	default:
		return def
	}
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
