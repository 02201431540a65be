// Program entrypoint. Boot sequence adapted from the teacher's main.go:
//
//  1. envfile.LoadDefault    – read .env (no shell exports required)
//  2. config.Load            – build runtime Config
//  3. logging.Init           – wire zerolog, then cfg.Validate
//  4. wire venue/store/sync/executor/engine
//  5. start /healthz + /metrics server on cfg.MetricsPort
//  6. runBacktest or runLive based on flags
//  7. graceful shutdown of the HTTP server and the running engine
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/flemosr/tradeloop/internal/config"
	"github.com/flemosr/tradeloop/internal/engine"
	"github.com/flemosr/tradeloop/internal/envfile"
	"github.com/flemosr/tradeloop/internal/executor"
	"github.com/flemosr/tradeloop/internal/logging"
	"github.com/flemosr/tradeloop/internal/numeric"
	"github.com/flemosr/tradeloop/internal/store"
	syncengine "github.com/flemosr/tradeloop/internal/sync"
	"github.com/flemosr/tradeloop/internal/trade"
	"github.com/flemosr/tradeloop/internal/venue"
)

func main() {
	var (
		live         bool
		backtestDays int
	)
	flag.BoolVar(&live, "live", false, "run the live trading loop (default: backtest)")
	flag.IntVar(&backtestDays, "backtest-days", 7, "span of synthetic history to backtest over, in days")
	flag.Parse()

	envfile.LoadDefault(config.KnownEnvKeys())
	cfg := config.Load()
	logging.Init(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if !cfg.PaperTrading {
		// A real venue REST/WebSocket binding is an external collaborator
		// out of scope for this module; only venue.Paper ships here.
		log.Fatal().Msg("PAPER_TRADING=false requires a venue client binding this module does not provide")
	}

	ms := store.NewMemory()
	vc := venue.NewPaper(1_000_000_000)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: mux}
	go func() {
		log.Info().Int("port", cfg.MetricsPort).Msg("serving /healthz and /metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("metrics server")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if live {
		runLive(ctx, cfg, ms, vc)
	} else {
		runBacktest(ctx, cfg, backtestDays)
	}

	shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
}

func runLive(ctx context.Context, cfg config.Config, ms *store.Memory, vc venue.VenueClient) {
	elog := logging.Component("engine")

	op := newMACrossoverOperator(logging.Component("strategy"))

	mode := syncengine.LiveWithLookback(op.Lookback())
	if cfg.SyncModeFull {
		mode = syncengine.Full()
	}

	syncCfg := syncengine.Config{
		LiveTickInterval:         time.Duration(cfg.LiveTickIntervalSec) * time.Second,
		ReSyncInterval:           time.Duration(cfg.ReSyncIntervalSec) * time.Second,
		RestartInterval:          time.Duration(cfg.RestartIntervalSec) * time.Second,
		ShutdownTimeout:          time.Duration(cfg.ShutdownTimeoutSec) * time.Second,
		LivePriceTickMaxInterval: time.Duration(cfg.LivePriceTickMaxIntervalSec) * time.Second,
		HistoryPageLimit:         cfg.HistoryPageLimit,
	}
	se := syncengine.NewEngine(syncCfg, mode, ms, vc)

	tslStepFloor, err := numeric.NewPercentageCapped(cfg.TSLStepFloorPct)
	if err != nil {
		elog.Fatal().Err(err).Msg("invalid TSL_STEP_FLOOR_PCT")
	}
	ex := executor.NewLive(ms, vc, tslStepFloor, cfg.RecoverOnStartup, cfg.MaxRunningTrades)

	le := engine.NewLiveEngine(ms, vc, se, ex, op, engine.LiveConfig{
		RefreshInterval:        time.Duration(cfg.LiveTickIntervalSec) * time.Second,
		CleanUpTradesOnStartup: true,
	})

	go func() {
		for s := range le.Status() {
			elog.Info().Str("status", s.Kind.String()).Str("reason", s.Reason).Msg("live status")
		}
	}()

	ctrl := le.Start(ctx)
	<-ctx.Done()
	elog.Info().Msg("shutdown signal received, stopping live engine")
	if err := ctrl.Shutdown(); err != nil {
		elog.Error().Err(err).Msg("live engine shutdown")
	}
}

func runBacktest(ctx context.Context, cfg config.Config, days int) {
	elog := logging.Component("engine")
	ms := store.NewMemory()

	op := newMACrossoverOperator(logging.Component("strategy"))

	end := time.Now().UTC().Truncate(time.Minute)
	start := end.Add(-time.Duration(days) * 24 * time.Hour)
	seedSyntheticHistory(ms, start.Add(-op.Lookback()), end)

	feePct, err := numeric.NewPercentageCapped(cfg.FeePct)
	if err != nil {
		elog.Fatal().Err(err).Msg("invalid FEE_PCT")
	}
	tslStepFloor, err := numeric.NewPercentageCapped(cfg.TSLStepFloorPct)
	if err != nil {
		elog.Fatal().Err(err).Msg("invalid TSL_STEP_FLOOR_PCT")
	}

	be := engine.NewBacktestEngine(ms, engine.BacktestConfig{
		StartTime:     start,
		EndTime:       end,
		StartBalance:  1_000_000_000,
		MaxRunningQty: cfg.MaxRunningTrades,
		FeePct:        feePct,
		TSLStepFloor:  tslStepFloor,
	}, op)

	go func() {
		for s := range be.Status() {
			elog.Info().Str("kind", s.Kind.String()).Msg("backtest status")
		}
	}()

	if err := be.Run(ctx); err != nil {
		elog.Error().Err(err).Msg("backtest run")
	}
}

// seedSyntheticHistory fills MarketStore with a flat one-minute candle
// series, so -backtest-days works out of the box without a real venue
// history feed (an external collaborator out of scope here).
func seedSyntheticHistory(ms *store.Memory, from, to time.Time) {
	const price = 60_000.0
	var candles []trade.Candle
	for t := from; !t.After(to); t = t.Add(time.Minute) {
		candles = append(candles, trade.Candle{
			Time: t, Open: price, High: price, Low: price, Close: price, Volume: 1,
		})
	}
	ms.IngestCandles(candles)
}
