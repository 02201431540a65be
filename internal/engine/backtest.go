package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/flemosr/tradeloop/internal/executor"
	"github.com/flemosr/tradeloop/internal/numeric"
	"github.com/flemosr/tradeloop/internal/store"
	"github.com/flemosr/tradeloop/internal/trade"
	"github.com/flemosr/tradeloop/internal/tradeerr"
)

// BacktestConfig parameterizes a single backtest run (spec.md §4.5
// "Backtest engine").
type BacktestConfig struct {
	StartTime    time.Time
	EndTime      time.Time
	StartBalance uint64

	BufferSize    int // minute candles per store page, refetched when exhausted
	MaxRunningQty int
	FeePct        numeric.PercentageCapped
	TSLStepFloor  numeric.PercentageCapped

	DailyUpdateInterval time.Duration // defaults to 24h when zero
}

// BacktestEngine drives a single Operator minute-by-minute over a
// MarketStore's candle history, feeding a Simulated executor. Grounded on
// spec.md §4.5 steps 1-7; the teacher's polling select loop (live.go
// runLive) is generalized here from "poll a venue every N seconds" to
// "advance a cursor through recorded history".
type BacktestEngine struct {
	ms  store.MarketStore
	cfg BacktestConfig
	op  Operator

	statusCh chan BacktestStatus
}

// NewBacktestEngine constructs an engine for a single operator run.
func NewBacktestEngine(ms store.MarketStore, cfg BacktestConfig, op Operator) *BacktestEngine {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1440
	}
	if cfg.DailyUpdateInterval <= 0 {
		cfg.DailyUpdateInterval = 24 * time.Hour
	}
	return &BacktestEngine{ms: ms, cfg: cfg, op: op, statusCh: make(chan BacktestStatus, 16)}
}

// Status returns a receive channel of daily snapshots plus the final
// Finished/Failed status. The channel is closed when Run returns.
func (e *BacktestEngine) Status() <-chan BacktestStatus { return e.statusCh }

// Run executes the full backtest, blocking until end_time is reached, the
// operator errors, or ctx is canceled.
func (e *BacktestEngine) Run(ctx context.Context) (err error) {
	defer func() {
		status := BacktestStatus{Kind: BacktestFinished}
		if err != nil {
			status = BacktestStatus{Kind: BacktestFailed, Err: err}
		}
		e.statusCh <- status
		close(e.statusCh)
	}()

	if !e.cfg.EndTime.After(e.cfg.StartTime) {
		return fmt.Errorf("backtest: end_time must be after start_time")
	}
	if e.cfg.EndTime.Sub(e.cfg.StartTime) < 24*time.Hour {
		return fmt.Errorf("backtest: span must be at least 24h")
	}

	lookback := e.op.Lookback()
	historyFrom := e.cfg.StartTime.Add(-lookback)

	// Step 1: precondition check — a candle must exist in the first minute
	// of [start-lookback, end]; an empty store at the run's starting edge is
	// a fatal misconfiguration, not something to retry past. Gaps later in
	// that range and funding-settlement coverage are not checked here.
	firstCandles, err := e.ms.GetCandles(ctx, historyFrom, historyFrom.Add(time.Minute))
	if err != nil {
		return fmt.Errorf("backtest: precondition check: %w", err)
	}
	if len(firstCandles) == 0 {
		return fmt.Errorf("backtest: %w", tradeerr.ErrDbIsEmpty)
	}

	buf := newCandleBuffer(e.ms, historyFrom, e.cfg.EndTime, e.cfg.BufferSize)

	startCandle, ok, err := buf.next(ctx)
	if err != nil {
		return fmt.Errorf("backtest: loading start candle: %w", err)
	}
	if !ok {
		return fmt.Errorf("backtest: %w", tradeerr.ErrPriceHistoryUnavailable)
	}

	// Steps 2-3: seed the Simulated executor at the first candle in the
	// operator's lookback window; everything before start_time itself is
	// lookback-only and never drives the operator.
	ex := executor.NewSimulated(e.cfg.MaxRunningQty, e.cfg.FeePct, e.cfg.TSLStepFloor, startCandle.Time, firstClose(startCandle), e.cfg.StartBalance)
	e.op.SetTradeExecutor(ex)

	// Step 4: build the operator's declared multi-resolution consolidator,
	// if any, and seed it with the start candle.
	var consolidator *Consolidator
	if co, ok := e.op.(ConsolidatedOperator); ok {
		consolidator = NewConsolidator(co.Resolutions())
		co.SetConsolidator(consolidator)
		consolidator.Push(startCandle)
	}

	cursor := startCandle.Time
	nextDailyUpdate := e.cfg.StartTime.Add(e.cfg.DailyUpdateInterval)
	lastSettlementTime := historyFrom

	// fast-forward any candles strictly before start_time: they seed the
	// executor/operator's lookback window without counting as iterations.
	for cursor.Before(e.cfg.StartTime) {
		c, ok, err := buf.next(ctx)
		if err != nil {
			return fmt.Errorf("backtest: %w", err)
		}
		if !ok {
			return fmt.Errorf("backtest: %w", tradeerr.ErrPriceHistoryUnavailable)
		}
		if err := e.applySettlementsUpTo(ctx, ex, lastSettlementTime, c.Time); err != nil {
			return err
		}
		lastSettlementTime = c.Time
		if err := ex.CandleUpdate(ctx, c); err != nil {
			return fmt.Errorf("backtest: seeding candle_update: %w", err)
		}
		if consolidator != nil {
			consolidator.Push(c)
		}
		cursor = c.Time
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		windowFrom := cursor.Add(-lookback)
		candles, err := e.ms.GetCandles(ctx, windowFrom, cursor)
		if err != nil {
			return fmt.Errorf("backtest: operator window fetch: %w", err)
		}
		if err := e.op.Iterate(ctx, cursor, candles); err != nil {
			return fmt.Errorf("backtest: operator iterate: %w", err)
		}

		if !cursor.Before(nextDailyUpdate) {
			e.statusCh <- BacktestStatus{Kind: BacktestRunning, State: StatusSnapshot{State: ex.Core()}}
			nextDailyUpdate = nextDailyUpdate.Add(e.cfg.DailyUpdateInterval)
		}

		if !cursor.Before(e.cfg.EndTime.Add(-time.Second)) {
			return nil
		}

		next, ok, err := buf.next(ctx)
		if err != nil {
			return fmt.Errorf("backtest: %w", err)
		}
		if !ok {
			return nil
		}

		if err := e.applySettlementsUpTo(ctx, ex, lastSettlementTime, next.Time); err != nil {
			return err
		}
		lastSettlementTime = next.Time

		if err := ex.CandleUpdate(ctx, next); err != nil {
			return fmt.Errorf("backtest: candle_update: %w", err)
		}
		// Step 6: push the same candle into the consolidator, if declared.
		if consolidator != nil {
			consolidator.Push(next)
		}
		cursor = next.Time.Add(59 * time.Second)
	}
}

// applySettlementsUpTo applies every funding settlement in (from, to] in
// ascending time order, before the candle update at `to` — spec.md §5
// ordering guarantee 4.
func (e *BacktestEngine) applySettlementsUpTo(ctx context.Context, ex *executor.Simulated, from, to time.Time) error {
	settlements, err := e.ms.GetSettlements(ctx, from, to)
	if err != nil {
		return fmt.Errorf("backtest: settlements fetch: %w", err)
	}
	for _, s := range settlements {
		if !s.Time.After(from) {
			continue
		}
		if err := ex.ApplyFundingSettlement(ctx, s); err != nil {
			return fmt.Errorf("backtest: apply_funding_settlement: %w", err)
		}
	}
	return nil
}

func firstClose(c trade.Candle) numeric.Price {
	p, err := numeric.NewPrice(c.Close)
	if err != nil {
		return numeric.Price{}
	}
	return p
}

// candleBuffer pages minute candles out of a MarketStore in chunks of
// pageSize, refetching when exhausted (spec.md §4.5 step 2 "Refetch when
// exhausted"). Grounded on the teacher's fetchHistoryPaged (live.go), which
// pages backward by timestamp cursor; this buffer instead walks forward
// since a backtest replays history in order rather than backfilling it.
type candleBuffer struct {
	ms       store.MarketStore
	cursor   time.Time
	end      time.Time
	pageSize int

	page []trade.Candle
	pos  int
}

func newCandleBuffer(ms store.MarketStore, from, end time.Time, pageSize int) *candleBuffer {
	return &candleBuffer{ms: ms, cursor: from, end: end, pageSize: pageSize}
}

func (b *candleBuffer) next(ctx context.Context) (trade.Candle, bool, error) {
	if b.pos >= len(b.page) {
		if !b.cursor.Before(b.end) {
			return trade.Candle{}, false, nil
		}
		pageEnd := b.cursor.Add(time.Duration(b.pageSize) * time.Minute)
		if pageEnd.After(b.end) {
			pageEnd = b.end
		}
		page, err := b.ms.GetCandles(ctx, b.cursor, pageEnd)
		if err != nil {
			return trade.Candle{}, false, err
		}
		if len(page) == 0 {
			return trade.Candle{}, false, nil
		}
		b.page = page
		b.pos = 0
		b.cursor = page[len(page)-1].Time.Add(time.Minute)
	}
	c := b.page[b.pos]
	b.pos++
	return c, true, nil
}
