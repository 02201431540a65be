// Package store declares the MarketStore capability set the core trading
// loop consumes for candle/tick data, and ships Memory, an in-memory
// implementation used for local development, backtests and tests. The real
// datastore binding (a persistent time-series store) is an external
// collaborator out of scope here (spec.md §1, §6).
package store

import (
	"context"
	"time"

	"github.com/flemosr/tradeloop/internal/numeric"
	"github.com/flemosr/tradeloop/internal/trade"
)

// RunningTradeConfig is the persisted slice of state that survives process
// restarts: a trade id paired with its optional trailing-stoploss config.
type RunningTradeConfig struct {
	ID  string
	TSL *trade.TrailingStoploss
}

// MarketStore is the capability set the core trading loop consumes.
type MarketStore interface {
	// LatestEntry returns the most recent observed price tick.
	LatestEntry(ctx context.Context) (t time.Time, price numeric.Price, err error)
	// PriceRangeFrom returns the min/max price observed since t, plus the
	// latest observation.
	PriceRangeFrom(ctx context.Context, since time.Time) (min, max numeric.Price, lastTime time.Time, lastPrice numeric.Price, err error)

	GetCandles(ctx context.Context, from, to time.Time) ([]trade.Candle, error)
	GetCandlesConsolidated(ctx context.Context, from, to time.Time, resolution time.Duration) ([]trade.Candle, error)

	GetSettlements(ctx context.Context, from, to time.Time) ([]trade.FundingSettlement, error)

	// GetRunningTradesMap returns the persisted running-trade configs.
	GetRunningTradesMap(ctx context.Context) ([]RunningTradeConfig, error)
	RegisterTrade(ctx context.Context, id string, tsl *trade.TrailingStoploss) error
	RemoveRunningTrades(ctx context.Context, ids []string) error
}
