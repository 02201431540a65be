package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flemosr/tradeloop/internal/tradeerr"
)

// Engine is the SyncEngine: it owns a status snapshot, a broadcast of
// Update events, and the mode-specific process that keeps a StoreWriter
// current against a PriceSource. Grounded on
// original_source/quantoxide/src/sync/mod.rs's SyncEngine/SyncProcess split
// (the simpler, pre-refactor version of the two sync modules in
// original_source, chosen because its SyncState enum — NotInitiated,
// Starting, InProgress(substate), Synced, Failed, Restarting,
// ShutdownInitiated, Shutdown — maps directly onto spec.md §4.6's status
// snapshot).
type Engine struct {
	mu     sync.Mutex
	status Status

	cfg  Config
	mode Mode

	store StoreWriter
	source PriceSource

	broadcaster *broadcaster
	doneCh      chan struct{}
}

// NewEngine returns an Engine in the not-yet-started NotSynced(Starting)
// status. Call Start to spawn its process.
func NewEngine(cfg Config, mode Mode, store StoreWriter, source PriceSource) *Engine {
	return &Engine{
		cfg:         cfg,
		mode:        mode,
		store:       store,
		source:      source,
		broadcaster: newBroadcaster(),
		status:      notSynced(SubstateStarting),
	}
}

// Mode returns the engine's configured sync mode.
func (e *Engine) Mode() Mode { return e.mode }

// StatusSnapshot returns the current status, matching every Subscribe
// channel's per-subscriber "resync from a snapshot method" contract
// (spec.md §9 "Coroutine control flow").
func (e *Engine) StatusSnapshot() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Subscribe returns a receive channel of broadcast events and an unsubscribe
// function. The channel is closed once unsubscribe is called; callers must
// call it to avoid leaking the subscription.
func (e *Engine) Subscribe() (<-chan Envelope, func()) {
	return e.broadcaster.subscribe()
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
	e.broadcaster.publish(Update{Kind: UpdateStatus, Status: s})
}

// Controller manages a running Engine's process task: status/update access
// plus graceful shutdown, grounded on the original SyncController
// (shutdown() sends a signal then awaits the task with a timeout; on
// timeout the handle is effectively abandoned and status is Terminated).
type Controller struct {
	engine *Engine
	cancel context.CancelFunc
	once   sync.Once
}

// Start spawns the engine's recovery loop: runOnce runs until it returns an
// error, which is classified fatal (Terminated, no retry) or recoverable
// (Failed, then Restarting after RestartInterval) via tradeerr.ClassOf.
func (e *Engine) Start(ctx context.Context) *Controller {
	runCtx, cancel := context.WithCancel(ctx)
	e.doneCh = make(chan struct{})
	go e.recoveryLoop(runCtx)
	return &Controller{engine: e, cancel: cancel}
}

func (e *Engine) recoveryLoop(ctx context.Context) {
	defer close(e.doneCh)
	for {
		if ctx.Err() != nil {
			e.setStatus(Status{Kind: StatusShutdown})
			return
		}

		e.setStatus(notSynced(SubstateStarting))
		err := e.runOnce(ctx)

		if ctx.Err() != nil {
			e.setStatus(Status{Kind: StatusShutdown})
			return
		}
		if err == nil {
			// runOnce only returns nil via ctx cancellation, already handled
			// above; treat an unexpected clean exit as a recoverable gap.
			err = fmt.Errorf("sync: process exited without error or cancellation")
		}

		if tradeerr.ClassOf(err) == tradeerr.KindFatal {
			e.setStatus(Status{Kind: StatusTerminated, Reason: err.Error()})
			return
		}

		e.setStatus(failed(err.Error()))
		e.setStatus(notSynced(SubstateRestarting))
		select {
		case <-ctx.Done():
			e.setStatus(Status{Kind: StatusShutdown})
			return
		case <-time.After(e.cfg.RestartInterval):
		}
	}
}

func (e *Engine) runOnce(ctx context.Context) error {
	switch e.mode.Kind {
	case ModeBackfill:
		return e.runBackfill(ctx)
	case ModeLiveNoLookback:
		e.setStatus(notSynced(SubstateWaitingForFirstTick))
		return e.liveLoop(ctx, true)
	case ModeLiveWithLookback:
		e.setStatus(notSynced(SubstateBackfilling))
		from := time.Now().Add(-e.mode.Lookback)
		if err := e.backfillPrices(ctx, &from); err != nil {
			return err
		}
		if err := e.backfillSettlements(ctx); err != nil {
			return err
		}
		e.setStatus(Status{Kind: StatusSynced})
		return e.liveLoop(ctx, false)
	case ModeFull:
		e.setStatus(notSynced(SubstateBackfilling))
		if err := e.backfillPrices(ctx, nil); err != nil {
			return err
		}
		if err := e.backfillSettlements(ctx); err != nil {
			return err
		}
		e.setStatus(Status{Kind: StatusSynced})
		return e.liveLoop(ctx, false)
	default:
		return fmt.Errorf("sync: unknown mode %v", e.mode.Kind)
	}
}

// runBackfill is the one-shot-then-resync mode: no live feed, just periodic
// full re-pagination (original SyncProcess::run's "additional price history
// sync" + re_sync_history_interval timer).
func (e *Engine) runBackfill(ctx context.Context) error {
	e.setStatus(notSynced(SubstateBackfilling))
	if err := e.backfillPrices(ctx, nil); err != nil {
		return err
	}
	if err := e.backfillSettlements(ctx); err != nil {
		return err
	}
	e.setStatus(Status{Kind: StatusSynced})

	ticker := time.NewTicker(e.cfg.ReSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.setStatus(notSynced(SubstateResyncing))
			if err := e.backfillPrices(ctx, nil); err != nil {
				return err
			}
			if err := e.backfillSettlements(ctx); err != nil {
				return err
			}
			e.setStatus(Status{Kind: StatusSynced})
		}
	}
}

// backfillPrices pages PriceSource.PriceHistory from `from` (nil means as
// far back as the venue retains) forward to now, ingesting every point and
// broadcasting progress. Mirrors the teacher's fetchHistoryPaged loop
// (live.go) adapted from candle pages to price-point pages.
func (e *Engine) backfillPrices(ctx context.Context, from *time.Time) error {
	limit := e.cfg.HistoryPageLimit
	fetched := 0
	cursor := from
	for {
		if ctx.Err() != nil {
			return nil
		}
		points, err := e.source.PriceHistory(ctx, cursor, nil, &limit)
		if err != nil {
			return err
		}
		for _, p := range points {
			e.store.IngestTick(p.Time, p.Value)
		}
		fetched += len(points)
		done := len(points) < limit
		e.broadcaster.publish(Update{Kind: UpdatePriceHistoryState, HistoryState: PriceHistoryState{Fetched: fetched, Done: done}})
		if done || len(points) == 0 {
			return nil
		}
		last := points[len(points)-1].Time
		cursor = &last
	}
}

func (e *Engine) backfillSettlements(ctx context.Context) error {
	settlements, err := e.source.Settlements(ctx, nil, nil)
	if err != nil {
		return err
	}
	if len(settlements) > 0 {
		e.store.IngestSettlements(settlements)
	}
	e.broadcaster.publish(Update{Kind: UpdateFundingSettlementsState, SettlementsState: FundingSettlementsState{Fetched: len(settlements)}})
	return nil
}

// liveLoop polls PriceSource.Ticker on LiveTickInterval, standing in for a
// WebSocket push feed, and separately re-polls settlements every
// ReSyncInterval. A gap since the last observed tick exceeding
// LivePriceTickMaxInterval is a recoverable staleness failure (spec.md
// §4.6). When syncOnFirstTick is set (LiveNoLookback mode), Synced is
// emitted on the very first tick rather than requiring a prior backfill.
func (e *Engine) liveLoop(ctx context.Context, syncOnFirstTick bool) error {
	tickTicker := time.NewTicker(e.cfg.LiveTickInterval)
	defer tickTicker.Stop()
	resyncTicker := time.NewTicker(e.cfg.ReSyncInterval)
	defer resyncTicker.Stop()
	staleTicker := time.NewTicker(e.cfg.LivePriceTickMaxInterval)
	defer staleTicker.Stop()

	var lastTick time.Time
	firstTick := true

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tickTicker.C:
			ticker, err := e.source.Ticker(ctx)
			if err != nil {
				return err
			}
			now := time.Now()
			e.store.IngestTick(now, ticker.LastPrice)
			lastTick = now
			e.broadcaster.publish(Update{Kind: UpdatePriceTick, Tick: PriceTick{Time: now, Price: ticker.LastPrice}})
			if firstTick {
				firstTick = false
				if syncOnFirstTick {
					e.setStatus(Status{Kind: StatusSynced})
				}
			}
		case <-resyncTicker.C:
			if err := e.backfillSettlements(ctx); err != nil {
				return err
			}
		case <-staleTicker.C:
			if !lastTick.IsZero() && time.Since(lastTick) > e.cfg.LivePriceTickMaxInterval {
				return tradeerr.ErrMaxPriceTickIntervalExceeded
			}
		}
	}
}

// Shutdown requests a graceful stop and waits for the process loop to exit,
// up to ShutdownTimeout. On timeout the context is left canceled (the loop
// will exit on its next select) and ErrShutdownTimeout is returned with
// status forced to Terminated, matching spec.md §5's
// "on timeout ... status becomes Terminated(ShutdownTimeout)".
func (c *Controller) Shutdown() error {
	c.once.Do(func() {
		c.engine.setStatus(Status{Kind: StatusShutdownInitiated})
		c.cancel()
	})
	select {
	case <-c.engine.doneCh:
		return nil
	case <-time.After(c.engine.cfg.ShutdownTimeout):
		c.engine.setStatus(Status{Kind: StatusTerminated, Reason: tradeerr.ErrShutdownTimeout.Error()})
		return tradeerr.ErrShutdownTimeout
	}
}

// Abort cancels the process immediately without waiting, for the
// abort-on-drop handle pattern (spec.md §5): callers that discard a
// Controller without calling Shutdown should call Abort to avoid leaking
// the background goroutine.
func (c *Controller) Abort() {
	c.cancel()
}

// StatusSnapshot and Subscribe forward to the underlying Engine so callers
// only need to hold the Controller.
func (c *Controller) StatusSnapshot() Status           { return c.engine.StatusSnapshot() }
func (c *Controller) Subscribe() (<-chan Envelope, func()) { return c.engine.Subscribe() }
