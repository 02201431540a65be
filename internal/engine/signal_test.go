package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemosr/tradeloop/internal/executor"
	syncengine "github.com/flemosr/tradeloop/internal/sync"
	"github.com/flemosr/tradeloop/internal/store"
	"github.com/flemosr/tradeloop/internal/trade"
	"github.com/flemosr/tradeloop/internal/venue"
)

// fakeEvaluator fires once per tick, always producing the same signal kind.
type fakeEvaluator struct {
	kind     string
	interval time.Duration
}

func (e *fakeEvaluator) MinIterationInterval() time.Duration { return e.interval }
func (e *fakeEvaluator) Lookback() Lookback                  { return Lookback{} }
func (e *fakeEvaluator) SignalKind() string                  { return e.kind }
func (e *fakeEvaluator) Evaluate(ctx context.Context, now time.Time, candles []trade.Candle) (Signal, error) {
	return Signal{Time: now, Name: e.kind}, nil
}

// fakeSignalOperator records every signal it's handed.
type fakeSignalOperator struct {
	kind string
	ex   executor.TradeExecutor

	mu      sync.Mutex
	signals []Signal
}

func (o *fakeSignalOperator) MinIterationInterval() time.Duration       { return time.Millisecond }
func (o *fakeSignalOperator) Lookback() time.Duration                   { return time.Minute }
func (o *fakeSignalOperator) SetTradeExecutor(ex executor.TradeExecutor) { o.ex = ex }
func (o *fakeSignalOperator) SignalKind() string                        { return o.kind }
func (o *fakeSignalOperator) Iterate(context.Context, time.Time, []trade.Candle) error {
	return nil
}
func (o *fakeSignalOperator) ProcessSignal(ctx context.Context, signal Signal) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.signals = append(o.signals, signal)
	return nil
}

func (o *fakeSignalOperator) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.signals)
}

func TestNewLiveSignalEngineRejectsSignalKindMismatch(t *testing.T) {
	ms := store.NewMemory()
	vc := venue.NewPaper(1_000_000)
	se := syncengine.NewEngine(liveFastConfig(), syncengine.LiveNoLookback(), ms, stubSource{})
	sigEngine := NewSignalEngine(ms, []SignalEvaluator{&fakeEvaluator{kind: "macd_cross", interval: time.Millisecond}})
	op := &fakeSignalOperator{kind: "rsi_threshold"}

	_, err := NewLiveSignalEngine(ms, vc, se, &fakeLiveExecutor{}, op, sigEngine, LiveConfig{})
	assert.Error(t, err)
}

func TestLiveEngineSignalDrivenDispatchesSignals(t *testing.T) {
	ms := store.NewMemory()
	vc := venue.NewPaper(1_000_000)
	se := syncengine.NewEngine(liveFastConfig(), syncengine.LiveNoLookback(), ms, stubSource{})
	ex := &fakeLiveExecutor{}
	sigEngine := NewSignalEngine(ms, []SignalEvaluator{&fakeEvaluator{kind: "macd_cross", interval: 2 * time.Millisecond}})
	op := &fakeSignalOperator{kind: "macd_cross"}

	le, err := NewLiveSignalEngine(ms, vc, se, ex, op, sigEngine, LiveConfig{RefreshInterval: 2 * time.Millisecond})
	require.NoError(t, err)

	ctrl := le.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for op.count() == 0 {
		select {
		case <-deadline:
			t.Fatalf("never dispatched a signal, last status %v", le.StatusSnapshot())
		default:
			time.Sleep(time.Millisecond)
		}
	}

	require.NoError(t, ctrl.Shutdown())
	assert.Equal(t, LiveShutdown, le.StatusSnapshot().Kind)
}
