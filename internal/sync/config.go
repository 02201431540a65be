package sync

import "time"

// Config tunes the engine's pacing. Field defaults are grounded on the
// original SyncConfig::default() (api_cooldown, re_sync_history_interval,
// restart_interval, shutdown_timeout), renamed to this package's vocabulary.
type Config struct {
	// LiveTickInterval is how often the engine polls PriceSource.Ticker while
	// a live feed is active, standing in for the venue's WebSocket push.
	LiveTickInterval time.Duration
	// ReSyncInterval is how often a completed sync re-runs REST backfill
	// (Backfill mode) or re-polls settlements (live modes).
	ReSyncInterval time.Duration
	// RestartInterval is the pause before restarting the sync process after
	// a recoverable failure.
	RestartInterval time.Duration
	// ShutdownTimeout bounds how long Shutdown waits for the process loop to
	// exit gracefully before the controller reports ErrShutdownTimeout.
	ShutdownTimeout time.Duration
	// LivePriceTickMaxInterval is the maximum gap between ticks before the
	// live feed is considered stale (recoverable failure).
	LivePriceTickMaxInterval time.Duration
	// HistoryPageLimit bounds each PriceHistory REST page, mirroring the
	// teacher's paged-backfill idiom (live.go's fetchHistoryPaged).
	HistoryPageLimit int
}

// DefaultConfig returns production-sane pacing.
func DefaultConfig() Config {
	return Config{
		LiveTickInterval:         1 * time.Second,
		ReSyncInterval:           50 * time.Minute,
		RestartInterval:          10 * time.Second,
		ShutdownTimeout:          6 * time.Second,
		LivePriceTickMaxInterval: 30 * time.Second,
		HistoryPageLimit:         300,
	}
}
