package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemosr/tradeloop/internal/executor"
	"github.com/flemosr/tradeloop/internal/numeric"
	"github.com/flemosr/tradeloop/internal/store"
	"github.com/flemosr/tradeloop/internal/trade"
)

// countingOperator records every candle window it's handed and never opens
// a trade; enough to exercise the engine's cursor/iteration bookkeeping
// without depending on a real strategy.
type countingOperator struct {
	lookback time.Duration
	interval time.Duration
	calls    int
	lastLen  int
	ex       executor.TradeExecutor
}

func (o *countingOperator) MinIterationInterval() time.Duration { return o.interval }
func (o *countingOperator) Lookback() time.Duration             { return o.lookback }
func (o *countingOperator) SetTradeExecutor(ex executor.TradeExecutor) { o.ex = ex }
func (o *countingOperator) Iterate(ctx context.Context, now time.Time, candles []trade.Candle) error {
	o.calls++
	o.lastLen = len(candles)
	return nil
}

func seedDayOfCandles(ms *store.Memory, start time.Time, price float64) {
	candles := make([]trade.Candle, 0, 1500)
	t := start
	for i := 0; i < 1500; i++ {
		candles = append(candles, trade.Candle{Time: t, Open: price, High: price, Low: price, Close: price, Volume: 1})
		t = t.Add(time.Minute)
	}
	ms.IngestCandles(candles)
}

func mustPct(v float64) numeric.PercentageCapped {
	p, err := numeric.NewPercentageCapped(v)
	if err != nil {
		panic(err)
	}
	return p
}

func TestBacktestEngineRunsToCompletion(t *testing.T) {
	ms := store.NewMemory()
	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	seedDayOfCandles(ms, start.Add(-time.Hour), 50_000)

	op := &countingOperator{lookback: 10 * time.Minute, interval: time.Minute}
	cfg := BacktestConfig{
		StartTime:    start,
		EndTime:      start.Add(24 * time.Hour),
		StartBalance: 1_000_000,
		FeePct:       mustPct(0.05),
		TSLStepFloor: mustPct(0.1),
		BufferSize:   200,
	}
	e := NewBacktestEngine(ms, cfg, op)

	statuses := make([]BacktestStatus, 0, 4)
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	for s := range e.Status() {
		statuses = append(statuses, s)
	}
	require.NoError(t, <-done)
	require.NotEmpty(t, statuses)
	assert.Equal(t, BacktestFinished, statuses[len(statuses)-1].Kind)
	assert.Greater(t, op.calls, 0)
	assert.Greater(t, op.lastLen, 0)
}

func TestBacktestEngineRejectsShortSpan(t *testing.T) {
	ms := store.NewMemory()
	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	op := &countingOperator{lookback: time.Minute, interval: time.Minute}
	cfg := BacktestConfig{StartTime: start, EndTime: start.Add(time.Hour), StartBalance: 1000}
	e := NewBacktestEngine(ms, cfg, op)

	go func() { _ = e.Run(context.Background()) }()
	var last BacktestStatus
	for s := range e.Status() {
		last = s
	}
	assert.Equal(t, BacktestFailed, last.Kind)
	assert.Error(t, last.Err)
}

func TestBacktestEngineFailsOnEmptyStore(t *testing.T) {
	ms := store.NewMemory()
	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	op := &countingOperator{lookback: time.Minute, interval: time.Minute}
	cfg := BacktestConfig{StartTime: start, EndTime: start.Add(48 * time.Hour), StartBalance: 1000}
	e := NewBacktestEngine(ms, cfg, op)

	go func() { _ = e.Run(context.Background()) }()
	var last BacktestStatus
	for s := range e.Status() {
		last = s
	}
	assert.Equal(t, BacktestFailed, last.Kind)
	assert.ErrorContains(t, last.Err, "market store has no price history")
}

func TestParallelBacktestEngineRejectsDuplicateNames(t *testing.T) {
	ms := store.NewMemory()
	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	cfg := BacktestConfig{StartTime: start, EndTime: start.Add(48 * time.Hour), StartBalance: 1000}
	ops := []NamedOperator{
		{Name: "a", Operator: &countingOperator{lookback: time.Minute, interval: time.Minute}},
		{Name: "a", Operator: &countingOperator{lookback: time.Minute, interval: time.Minute}},
	}
	_, err := NewParallelBacktestEngine(ms, cfg, ops)
	assert.Error(t, err)
}

func TestParallelBacktestEngineRunsEachOperator(t *testing.T) {
	ms := store.NewMemory()
	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	seedDayOfCandles(ms, start.Add(-time.Hour), 50_000)

	opA := &countingOperator{lookback: 10 * time.Minute, interval: time.Minute}
	opB := &countingOperator{lookback: 10 * time.Minute, interval: time.Minute}
	cfg := BacktestConfig{
		StartTime: start, EndTime: start.Add(24 * time.Hour), StartBalance: 1_000_000,
		FeePct: mustPct(0.05), TSLStepFloor: mustPct(0.1), BufferSize: 200,
	}
	pe, err := NewParallelBacktestEngine(ms, cfg, []NamedOperator{{Name: "a", Operator: opA}, {Name: "b", Operator: opB}})
	require.NoError(t, err)

	seen := map[string]bool{}
	done := make(chan error, 1)
	go func() { done <- pe.Run(context.Background()) }()
	for s := range pe.Status() {
		if s.State.Operator != "" {
			seen[s.State.Operator] = true
		}
	}
	require.NoError(t, <-done)
	assert.Greater(t, opA.calls, 0)
	assert.Greater(t, opB.calls, 0)
}

// consolidatingOperator declares an hourly resolution on top of the flat
// 1-minute window Iterate receives, and records the consolidated bar count
// it can see on each call — enough to exercise BacktestEngine's
// ConsolidatedOperator wiring end to end.
type consolidatingOperator struct {
	lookback time.Duration
	interval time.Duration
	ex       executor.TradeExecutor
	c        *Consolidator
	calls    int
	lastHour int
}

func (o *consolidatingOperator) MinIterationInterval() time.Duration       { return o.interval }
func (o *consolidatingOperator) Lookback() time.Duration                   { return o.lookback }
func (o *consolidatingOperator) SetTradeExecutor(ex executor.TradeExecutor) { o.ex = ex }
func (o *consolidatingOperator) Resolutions() map[time.Duration]int {
	return map[time.Duration]int{time.Hour: 6}
}
func (o *consolidatingOperator) SetConsolidator(c *Consolidator) { o.c = c }
func (o *consolidatingOperator) Iterate(ctx context.Context, now time.Time, candles []trade.Candle) error {
	o.calls++
	o.lastHour = len(o.c.Candles(time.Hour))
	return nil
}

func TestBacktestEngineFeedsConsolidatedOperator(t *testing.T) {
	ms := store.NewMemory()
	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	seedDayOfCandles(ms, start.Add(-time.Hour), 50_000)

	op := &consolidatingOperator{lookback: 10 * time.Minute, interval: time.Minute}
	cfg := BacktestConfig{
		StartTime:    start,
		EndTime:      start.Add(24 * time.Hour),
		StartBalance: 1_000_000,
		FeePct:       mustPct(0.05),
		TSLStepFloor: mustPct(0.1),
		BufferSize:   200,
	}
	e := NewBacktestEngine(ms, cfg, op)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	for range e.Status() {
	}
	require.NoError(t, <-done)

	require.NotNil(t, op.c)
	assert.Greater(t, op.calls, 0)
	assert.Greater(t, op.lastHour, 0)
}
