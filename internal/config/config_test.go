package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, KnownEnvKeys()...)
	cfg := Load()
	assert.True(t, cfg.PaperTrading)
	assert.Equal(t, 10, cfg.MaxRunningTrades)
	assert.Equal(t, 0.1, cfg.TSLStepFloorPct)
	assert.Equal(t, 8080, cfg.MetricsPort)
	assert.Equal(t, 24*time.Hour, cfg.LiveLookback())
}

func TestLoadReadsOverrides(t *testing.T) {
	clearEnv(t, KnownEnvKeys()...)
	os.Setenv("MAX_RUNNING_TRADES", "3")
	os.Setenv("PAPER_TRADING", "false")
	os.Setenv("LIVE_LOOKBACK_MINUTES", "120")

	cfg := Load()
	assert.Equal(t, 3, cfg.MaxRunningTrades)
	assert.False(t, cfg.PaperTrading)
	assert.Equal(t, 2*time.Hour, cfg.LiveLookback())
}

func TestValidateRequiresVenueCredsUnlessPaper(t *testing.T) {
	cfg := Config{PaperTrading: false, MaxRunningTrades: 1}
	assert.Error(t, cfg.Validate())

	cfg.VenueBaseURL = "https://venue.example"
	cfg.VenueAPIKey = "k"
	cfg.VenueAPISecret = "s"
	assert.NoError(t, cfg.Validate())
}

func TestValidatePaperTradingSkipsVenueRequirement(t *testing.T) {
	cfg := Config{PaperTrading: true, MaxRunningTrades: 1}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveMaxRunningTrades(t *testing.T) {
	cfg := Config{PaperTrading: true, MaxRunningTrades: 0}
	assert.Error(t, cfg.Validate())
}
