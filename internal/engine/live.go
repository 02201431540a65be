package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	syncengine "github.com/flemosr/tradeloop/internal/sync"
	"github.com/flemosr/tradeloop/internal/store"
	"github.com/flemosr/tradeloop/internal/trade"
	"github.com/flemosr/tradeloop/internal/venue"
)

// LiveConfig tunes the Live engine's cadence and startup behavior.
type LiveConfig struct {
	// RefreshInterval paces the live executor's refresh task (session
	// expiry check + reevaluate), spec.md §4.4.2 default 1s.
	RefreshInterval time.Duration
	// CleanUpTradesOnStartup cancels every open trade and closes every
	// running trade once the venue state is first synced, per spec.md §4.5
	// "startup_clean_up_trades".
	CleanUpTradesOnStartup bool
}

func (c LiveConfig) withDefaults() LiveConfig {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = time.Second
	}
	return c
}

// LiveEngine wires a SyncEngine, a venue-backed TradeExecutor and an
// Operator into the running system spec.md §4.5 describes: on start it
// cleans up stale trades, launches the sync engine and the executor's
// refresh task, and spawns the operator-driver task of the one variant it
// was built for: a signal-driven task for SignalOperator (subscribing to a
// LiveSignalEngine, via NewLiveSignalEngine) or the raw-operator task below
// (schedule off the operator's own interval, wait for Synced, fetch its
// lookback window, call Iterate; via NewLiveEngine). If
// the operator also declares ConsolidatedOperator, the raw-operator task
// feeds a Consolidator alongside every fetch.
type LiveEngine struct {
	ms  store.MarketStore
	vc  venue.VenueClient
	se  *syncengine.Engine
	ex  liveExecutor
	cfg LiveConfig

	op Operator // Raw variant driver; nil for a signal-driven engine.

	signalOp  SignalOperator    // Signal variant driver; nil for a raw engine.
	sigEngine *LiveSignalEngine // non-nil exactly when signalOp is.

	mu     sync.Mutex
	status LiveTradeStatus

	statusCh chan LiveTradeStatus
}

// liveExecutor is the narrow slice of *executor.Live the engine drives:
// Start to (re)build the session, Reevaluate to run the refresh tick, plus
// the status-machine transitions the engine forces on shutdown/failure.
type liveExecutor interface {
	Start(ctx context.Context) error
	Reevaluate(ctx context.Context, now time.Time) ([]*trade.Trade, error)
	ShutdownInitiated()
	Shutdown()
	Terminate(reason string)
}

// NewLiveEngine wires the sub-collaborators together for the "Raw variant"
// (spec.md §4.5): the operator-driver task polls MarketStore directly on
// op's own schedule. ex must be a *executor.Live (declared as the narrow
// liveExecutor interface here so tests can substitute a fake).
func NewLiveEngine(ms store.MarketStore, vc venue.VenueClient, se *syncengine.Engine, ex liveExecutor, op Operator, cfg LiveConfig) *LiveEngine {
	return &LiveEngine{
		ms: ms, vc: vc, se: se, ex: ex, op: op, cfg: cfg.withDefaults(),
		status:   LiveTradeStatus{Kind: LiveStarting},
		statusCh: make(chan LiveTradeStatus, 32),
	}
}

// NewLiveSignalEngine wires the sub-collaborators together for the "Signal
// variant" (spec.md §4.5): the operator-driver task subscribes to
// sigEngine's broadcast instead of polling MarketStore itself, and hands
// every produced Signal to signalOp.ProcessSignal. Construction fails if
// signalOp's declared SignalKind doesn't match what every one of sigEngine's
// evaluators produces (spec.md §6: "a signal operator additionally declares
// the signal type it consumes; a signal evaluator declares the signal type
// it produces — the two must match, enforced by the engine at construction
// time").
func NewLiveSignalEngine(ms store.MarketStore, vc venue.VenueClient, se *syncengine.Engine, ex liveExecutor, signalOp SignalOperator, sigEngine *LiveSignalEngine, cfg LiveConfig) (*LiveEngine, error) {
	want := signalOp.SignalKind()
	for _, got := range sigEngine.evaluatorKinds() {
		if got != want {
			return nil, fmt.Errorf("live engine: signal operator consumes %q, evaluator produces %q", want, got)
		}
	}
	return &LiveEngine{
		ms: ms, vc: vc, se: se, ex: ex, signalOp: signalOp, sigEngine: sigEngine, cfg: cfg.withDefaults(),
		status:   LiveTradeStatus{Kind: LiveStarting},
		statusCh: make(chan LiveTradeStatus, 32),
	}, nil
}

// Status returns the broadcast channel of LiveTradeStatus transitions.
func (e *LiveEngine) Status() <-chan LiveTradeStatus { return e.statusCh }

// StatusSnapshot returns the current status.
func (e *LiveEngine) StatusSnapshot() LiveTradeStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *LiveEngine) setStatus(s LiveTradeStatus) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
	select {
	case e.statusCh <- s:
	default:
	}
}

// LiveController is the handle Start returns: Shutdown/Abort both tear
// down the sync engine and the operator-driver task.
type LiveController struct {
	engine    *LiveEngine
	syncCtrl  *syncengine.Controller
	cancel    context.CancelFunc
	doneCh    chan struct{}
	once      sync.Once
}

// Start launches the sync engine, runs startup_clean_up_trades once
// synced, starts the executor, and spawns the operator-driver task.
func (e *LiveEngine) Start(ctx context.Context) *LiveController {
	runCtx, cancel := context.WithCancel(ctx)
	syncCtrl := e.se.Start(runCtx)
	ctrl := &LiveController{engine: e, syncCtrl: syncCtrl, cancel: cancel, doneCh: make(chan struct{})}

	go e.run(runCtx, syncCtrl, ctrl.doneCh)
	return ctrl
}

func (e *LiveEngine) run(ctx context.Context, syncCtrl *syncengine.Controller, doneCh chan struct{}) {
	defer close(doneCh)

	e.setStatus(LiveTradeStatus{Kind: LiveWaitingForSync})
	if !e.awaitSynced(ctx, syncCtrl) {
		return
	}

	if e.cfg.CleanUpTradesOnStartup {
		if _, err := e.vc.CancelAllTrades(ctx); err != nil {
			e.setStatus(LiveTradeStatus{Kind: LiveFailed, Reason: fmt.Sprintf("startup_clean_up_trades: %v", err)})
		} else if _, err := e.vc.CloseAllTrades(ctx); err != nil {
			e.setStatus(LiveTradeStatus{Kind: LiveFailed, Reason: fmt.Sprintf("startup_clean_up_trades: %v", err)})
		}
	}

	if err := e.ex.Start(ctx); err != nil {
		e.setStatus(LiveTradeStatus{Kind: LiveFailed, Reason: fmt.Sprintf("executor start: %v", err)})
		return
	}
	e.setStatus(LiveTradeStatus{Kind: LiveWaitingTradeExecutor})

	refreshTicker := time.NewTicker(e.cfg.RefreshInterval)
	defer refreshTicker.Stop()

	if e.sigEngine != nil {
		e.setStatus(LiveTradeStatus{Kind: LiveWaitingForSignal})
		e.runSignalDriven(ctx, refreshTicker)
		return
	}
	e.setStatus(LiveTradeStatus{Kind: LiveRunning})
	e.runRaw(ctx, refreshTicker)
}

// runRaw is the "Raw variant" operator-driver task (spec.md §4.5): on a
// schedule derived from the operator's own MinIterationInterval, fetch its
// declared lookback window from MarketStore and call Iterate. If the
// operator also declares ConsolidatedOperator, every fetched candle is
// pushed into its Consolidator alongside the window fetch.
func (e *LiveEngine) runRaw(ctx context.Context, refreshTicker *time.Ticker) {
	lookback := e.op.Lookback()
	opInterval := e.op.MinIterationInterval()
	if opInterval <= 0 {
		opInterval = time.Second
	}

	// Build the operator's declared multi-resolution consolidator, if any,
	// and seed it with whatever history MarketStore already has.
	var consolidator *Consolidator
	consolidatedFrom := time.Now()
	if co, ok := e.op.(ConsolidatedOperator); ok {
		consolidator = NewConsolidator(co.Resolutions())
		co.SetConsolidator(consolidator)
		if seed, err := e.ms.GetCandles(ctx, consolidatedFrom.Add(-lookback), consolidatedFrom); err == nil {
			for _, c := range seed {
				consolidator.Push(c)
			}
			if len(seed) > 0 {
				consolidatedFrom = seed[len(seed)-1].Time
			}
		}
	}
	opTicker := time.NewTicker(opInterval)
	defer opTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.ex.ShutdownInitiated()
			e.setStatus(LiveTradeStatus{Kind: LiveShutdownInitiated})
			e.ex.Shutdown()
			e.setStatus(LiveTradeStatus{Kind: LiveShutdown})
			return
		case <-refreshTicker.C:
			if _, err := e.ex.Reevaluate(ctx, time.Now()); err != nil {
				e.setStatus(LiveTradeStatus{Kind: LiveFailed, Reason: fmt.Sprintf("reevaluate: %v", err)})
			}
		case <-opTicker.C:
			now := time.Now()
			candles, err := e.ms.GetCandles(ctx, now.Add(-lookback), now)
			if err != nil {
				e.setStatus(LiveTradeStatus{Kind: LiveFailed, Reason: fmt.Sprintf("candle fetch: %v", err)})
				continue
			}
			if consolidator != nil {
				if fresh, err := e.ms.GetCandles(ctx, consolidatedFrom, now); err == nil {
					for _, c := range fresh {
						if c.Time.After(consolidatedFrom) {
							consolidator.Push(c)
						}
					}
					if len(fresh) > 0 {
						consolidatedFrom = fresh[len(fresh)-1].Time
					}
				}
			}
			if err := e.op.Iterate(ctx, now, candles); err != nil {
				e.setStatus(LiveTradeStatus{Kind: LiveFailed, Reason: fmt.Sprintf("operator iterate: %v", err)})
			}
		}
	}
}

// runSignalDriven is the "Signal variant" operator-driver task (spec.md
// §4.5): subscribe to the signal engine's broadcast and, for each produced
// Signal, hand it to the signal operator. The sync engine having already
// reported Synced (awaitSynced, above) is what gates entry here; the signal
// engine's own evaluators are responsible for waiting on their declared
// lookback data the same way the raw path does.
func (e *LiveEngine) runSignalDriven(ctx context.Context, refreshTicker *time.Ticker) {
	sigCh, unsubscribe := e.sigEngine.subscribe()
	defer unsubscribe()
	sigCtrl := e.sigEngine.Start(ctx)
	defer sigCtrl.Stop()

	for {
		select {
		case <-ctx.Done():
			e.ex.ShutdownInitiated()
			e.setStatus(LiveTradeStatus{Kind: LiveShutdownInitiated})
			e.ex.Shutdown()
			e.setStatus(LiveTradeStatus{Kind: LiveShutdown})
			return
		case <-refreshTicker.C:
			if _, err := e.ex.Reevaluate(ctx, time.Now()); err != nil {
				e.setStatus(LiveTradeStatus{Kind: LiveFailed, Reason: fmt.Sprintf("reevaluate: %v", err)})
			}
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			if e.StatusSnapshot().Kind == LiveWaitingForSignal {
				e.setStatus(LiveTradeStatus{Kind: LiveRunning})
			}
			if err := e.signalOp.ProcessSignal(ctx, sig); err != nil {
				e.setStatus(LiveTradeStatus{Kind: LiveFailed, Reason: fmt.Sprintf("process_signal: %v", err)})
			}
		}
	}
}

// awaitSynced blocks until the sync engine reports Synced, reporting
// staleness/intermediate states as WaitingForSync, returning false if ctx
// is canceled or the sync engine terminates fatally first.
func (e *LiveEngine) awaitSynced(ctx context.Context, syncCtrl *syncengine.Controller) bool {
	envs, unsubscribe := syncCtrl.Subscribe()
	defer unsubscribe()

	if syncCtrl.StatusSnapshot().Kind == syncengine.StatusSynced {
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return false
		case env := <-envs:
			if env.Update.Kind != syncengine.UpdateStatus {
				continue
			}
			switch env.Update.Status.Kind {
			case syncengine.StatusSynced:
				return true
			case syncengine.StatusTerminated:
				e.ex.Terminate(env.Update.Status.Reason)
				e.setStatus(LiveTradeStatus{Kind: LiveTerminated, Reason: env.Update.Status.Reason})
				return false
			}
		}
	}
}

// Shutdown gracefully cancels the operator-driver task, the executor and
// the sync engine, waiting for the driver task to exit.
func (c *LiveController) Shutdown() error {
	var syncErr error
	c.once.Do(func() {
		c.cancel()
		<-c.doneCh
		syncErr = c.syncCtrl.Shutdown()
	})
	return syncErr
}

// Abort cancels everything immediately without waiting, for the
// abort-on-drop handle pattern (spec.md §5).
func (c *LiveController) Abort() {
	c.cancel()
	c.syncCtrl.Abort()
}
