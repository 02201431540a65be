// Package engine wires MarketStore, VenueClient, TradeExecutor and the
// SyncEngine into the three orchestrators spec.md §4.5 names: a Backtest
// engine, a ParallelBacktest engine running several operators over one
// candle stream, and a Live engine. Strategy logic itself lives behind the
// Operator interface; the engine only ever decides *when* to call it.
package engine

import (
	"context"
	"time"

	"github.com/flemosr/tradeloop/internal/executor"
	"github.com/flemosr/tradeloop/internal/trade"
)

// Operator is the strategy boundary. An operator declares how far back it
// needs candles (Lookback) and how often it wants to be driven
// (MinIterationInterval), receives its TradeExecutor once at setup, and is
// then handed either raw candle buffers (Iterate) or, for signal-driven
// strategies wired through a LiveSignalEngine, discrete signals
// (ProcessSignal). Grounded on the teacher's decide()/Trader.step() split
// (strategy.go, trader.go): a pure decision function fed a candle window by
// an outer polling loop, generalized here into an interface so the engine
// doesn't know which strategy it's driving.
type Operator interface {
	// MinIterationInterval is the minimum wall-clock gap between Iterate
	// calls in live mode; the backtest engine calls Iterate on every minute
	// cursor advance regardless; it is the operator's job to no-op until its
	// own interval has elapsed if it cares.
	MinIterationInterval() time.Duration
	// Lookback is how much candle history (ending at the current cursor)
	// the operator needs on each Iterate call.
	Lookback() time.Duration
	// SetTradeExecutor is called once before the first Iterate/ProcessSignal.
	SetTradeExecutor(ex executor.TradeExecutor)
	// Iterate is handed the operator's declared lookback window of candles,
	// ending at (and including) the current cursor.
	Iterate(ctx context.Context, now time.Time, candles []trade.Candle) error
}

// SignalOperator is implemented by operators driven by a LiveSignalEngine
// instead of a raw candle poll (spec.md §4.5 "Signal variant").
type SignalOperator interface {
	Operator
	// SignalKind declares the signal type this operator consumes; checked at
	// construction time against every evaluator's SignalKind in the
	// LiveSignalEngine it's wired to (spec.md §6).
	SignalKind() string
	ProcessSignal(ctx context.Context, signal Signal) error
}

// ConsolidatedOperator is implemented by operators that need candle history
// at more than one resolution, in addition to the flat 1-minute window
// Iterate already receives (spec.md §4.5 step 4 "MultiResolutionConsolidator
// built from the operator's declared (resolution -> max period) map"; §2
// Glossary "Consolidator"). The backtest and live engines detect this
// interface, build one Consolidator from Resolutions(), install it once via
// SetConsolidator (mirroring SetTradeExecutor's one-shot-installer shape),
// and push every candle into it alongside candle_update — so the operator
// can read back higher-resolution bars (e.g. 1h alongside the 1m window)
// during Iterate without re-deriving them itself.
type ConsolidatedOperator interface {
	Operator
	// Resolutions declares the (resolution -> max period bars) map this
	// operator needs consolidated history for.
	Resolutions() map[time.Duration]int
	// SetConsolidator is called once before the first Iterate, the same way
	// SetTradeExecutor is; the signal-driven live path does not call it.
	SetConsolidator(c *Consolidator)
}

// Signal is the discrete event a signal-driven operator reacts to. The
// engine package doesn't interpret it; it's opaque payload handed through
// from whatever produces signals (an indicator engine, an external feed).
type Signal struct {
	Time    time.Time
	Name    string
	Payload any
}
