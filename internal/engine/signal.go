package engine

import (
	"context"
	"sync"
	"time"

	"github.com/flemosr/tradeloop/internal/store"
	"github.com/flemosr/tradeloop/internal/trade"
)

// Lookback declares a candle history window: period bars at resolution,
// ending at the current evaluation time (spec.md §6 Operator.lookback()).
type Lookback struct {
	Resolution time.Duration
	Period     int
}

func (l Lookback) empty() bool { return l.Resolution <= 0 || l.Period <= 0 }

// SignalEvaluator is a signal-producing strategy leg: it declares how often
// it wants to run and what history it needs, and turns a candle window into
// a Signal (spec.md §1 "a signal-producing evaluator plus a signal-consuming
// operator"; §6). Grounded on original_source/src/signal/process/mod.rs's
// per-evaluator SignalEvaluator trait, simplified from that file's
// resolution-grouped shared buffering into one ticker per evaluator, since
// the retrieval pack has no need here for the original's cross-evaluator
// buffer sharing at scale.
type SignalEvaluator interface {
	// MinIterationInterval paces how often Evaluate is called.
	MinIterationInterval() time.Duration
	// Lookback declares the consolidated candle window Evaluate needs. A
	// zero Lookback means the evaluator wants the raw 1-minute stream
	// instead, fetched via MarketStore.GetCandles.
	Lookback() Lookback
	// SignalKind names the Signal type this evaluator produces; matched at
	// construction time against every signal operator wired to the same
	// LiveSignalEngine.
	SignalKind() string
	Evaluate(ctx context.Context, now time.Time, candles []trade.Candle) (Signal, error)
}

type signalSubscriber struct {
	ch chan Signal
}

// LiveSignalEngine runs a set of SignalEvaluators, each on its own
// MinIterationInterval, and broadcasts every produced Signal to its
// subscribers (the Live engine's signal-driven operator-driver task).
// Grounded on internal/sync/broadcast.go's broadcaster/subscriber/Envelope
// shape, simplified to a single Signal channel per subscriber with a silent
// drop on overflow rather than Lagged(n) reporting: a signal feed that
// outruns its one live-engine consumer is already misconfigured (one signal
// operator per signal engine), so there's no "caught up" accounting to do
// for it.
type LiveSignalEngine struct {
	ms         store.MarketStore
	evaluators []SignalEvaluator

	mu     sync.Mutex
	subs   map[int]*signalSubscriber
	nextID int
}

// NewSignalEngine builds a LiveSignalEngine driving every given evaluator.
func NewSignalEngine(ms store.MarketStore, evaluators []SignalEvaluator) *LiveSignalEngine {
	return &LiveSignalEngine{ms: ms, evaluators: evaluators, subs: make(map[int]*signalSubscriber)}
}

func (e *LiveSignalEngine) evaluatorKinds() []string {
	kinds := make([]string, len(e.evaluators))
	for i, ev := range e.evaluators {
		kinds[i] = ev.SignalKind()
	}
	return kinds
}

func (e *LiveSignalEngine) subscribe() (<-chan Signal, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	sub := &signalSubscriber{ch: make(chan Signal, 32)}
	e.subs[id] = sub
	return sub.ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if s, ok := e.subs[id]; ok {
			close(s.ch)
			delete(e.subs, id)
		}
	}
}

func (e *LiveSignalEngine) publish(sig Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.subs {
		select {
		case s.ch <- sig:
		default:
		}
	}
}

// LiveSignalController is the handle Start returns.
type LiveSignalController struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Stop cancels every evaluator's goroutine and waits for them to exit.
func (c *LiveSignalController) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Start spawns one goroutine per evaluator, each on its own ticker, fetching
// its declared window from MarketStore, evaluating, and publishing the
// result (original_source/src/signal/process/mod.rs's LiveSignalProcess::run
// loop, one evaluator at a time rather than grouped by shared resolution).
func (e *LiveSignalEngine) Start(ctx context.Context) *LiveSignalController {
	runCtx, cancel := context.WithCancel(ctx)
	ctrl := &LiveSignalController{cancel: cancel}
	for _, ev := range e.evaluators {
		ev := ev
		interval := ev.MinIterationInterval()
		if interval <= 0 {
			interval = time.Second
		}
		ctrl.wg.Add(1)
		go func() {
			defer ctrl.wg.Done()
			e.runEvaluator(runCtx, ev, interval)
		}()
	}
	return ctrl
}

func (e *LiveSignalEngine) runEvaluator(ctx context.Context, ev SignalEvaluator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			lb := ev.Lookback()
			var (
				candles []trade.Candle
				err     error
			)
			if lb.empty() {
				candles, err = e.ms.GetCandles(ctx, now.Add(-time.Minute), now)
			} else {
				window := time.Duration(lb.Period) * lb.Resolution
				candles, err = e.ms.GetCandlesConsolidated(ctx, now.Add(-window), now, lb.Resolution)
			}
			if err != nil {
				continue
			}
			sig, err := ev.Evaluate(ctx, now, candles)
			if err != nil {
				continue
			}
			e.publish(sig)
		}
	}
}
