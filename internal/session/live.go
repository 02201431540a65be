package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/flemosr/tradeloop/internal/numeric"
	"github.com/flemosr/tradeloop/internal/store"
	"github.com/flemosr/tradeloop/internal/trade"
	"github.com/flemosr/tradeloop/internal/tradeerr"
	"github.com/flemosr/tradeloop/internal/venue"
)

// reevaluateStoplossConcurrency bounds the fan-out of stoploss-update venue
// calls during Reevaluate to "chunks of 3" (spec.md §4.3 step 5).
const reevaluateStoplossConcurrency = 3

// LiveSession is the venue-backed TradingSession: it reconciles local belief
// with venue truth at construction/renewal and incrementally via Reevaluate.
type LiveSession struct {
	*Core

	lastEvaluationTime time.Time
	lastPrice          numeric.Price
	expiresAt          time.Time
}

// IsExpired reports whether now is at or past the session's expiry.
func (s *LiveSession) IsExpired(now time.Time) bool {
	return !now.Before(s.expiresAt)
}

// ExpiresAt returns the session's expiry timestamp.
func (s *LiveSession) ExpiresAt() time.Time { return s.expiresAt }

// computeExpiresAt implements: if now.minute < 5, floor_hour(now) + 5min,
// else floor_hour(now) + 1h + 5min. The venue settles funding at the rounded
// hour; waiting five minutes past guarantees settled fees are reflected the
// next time the session is rebuilt.
func computeExpiresAt(now time.Time) time.Time {
	floorHour := now.Truncate(time.Hour)
	if now.Minute() < 5 {
		return floorHour.Add(5 * time.Minute)
	}
	return floorHour.Add(time.Hour + 5*time.Minute)
}

// NewLiveSession constructs (or renews, when previous is non-nil) a
// LiveSession per spec.md §4.3 "Construction".
func NewLiveSession(
	ctx context.Context,
	recoverOnStartup bool,
	tslStepSize numeric.PercentageCapped,
	ms store.MarketStore,
	vc venue.VenueClient,
	previous *LiveSession,
) (*LiveSession, error) {
	lastEvalTime, lastPrice, err := ms.LatestEntry(ctx)
	if err != nil {
		return nil, fmt.Errorf("session construction: %w", err)
	}

	user, err := vc.GetUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("session construction: get_user: %w", err)
	}

	now := time.Now().UTC()
	expiresAt := computeExpiresAt(now)

	core := NewCore(user.BalanceSats, tslStepSize)
	var prevRunningIDs map[string]bool
	var prevFundingBaselines map[string]int64
	if previous != nil {
		core.seedFrom(previous.Core)
		prevRunningIDs, prevFundingBaselines = previous.Core.previousRunningSnapshot()
	}

	sess := &LiveSession{Core: core, lastEvaluationTime: lastEvalTime, lastPrice: lastPrice, expiresAt: expiresAt}

	if !recoverOnStartup {
		return sess, nil
	}

	freshRunning, err := vc.GetTradesRunning(ctx)
	if err != nil {
		return nil, fmt.Errorf("session construction: get_trades_running: %w", err)
	}
	freshIDs := make(map[string]bool, len(freshRunning))
	for _, tr := range freshRunning {
		freshIDs[tr.ID] = true
	}

	missing := make(map[string]bool)
	for id := range prevRunningIDs {
		if !freshIDs[id] {
			missing[id] = true
		}
	}

	if len(missing) > 0 {
		n := len(prevRunningIDs)
		closedTrades, err := vc.GetTradesClosed(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("session construction: get_trades_closed: %w", err)
		}
		byID := make(map[string]int)
		for i, ct := range closedTrades {
			byID[ct.ID] = i
		}
		for id := range missing {
			idx, ok := byID[id]
			if !ok {
				return nil, tradeerr.ErrClosedTradeNotConfirmed
			}
			ct := closedTrades[idx]
			baseline := prevFundingBaselines[id]
			if err := core.reconcileMissingClosedTrade(ct, baseline); err != nil {
				return nil, err
			}
		}
	}

	runningConfigs, err := ms.GetRunningTradesMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("session construction: get_running_trades_map: %w", err)
	}
	configByID := make(map[string]*trade.TrailingStoploss, len(runningConfigs))
	for _, rc := range runningConfigs {
		configByID[rc.ID] = rc.TSL
	}

	for _, tr := range freshRunning {
		tsl := configByID[tr.ID]
		delete(configByID, tr.ID)
		if baseline, ok := prevFundingBaselines[tr.ID]; ok {
			core.seedFundingBaseline(tr.ID, baseline)
		}
		if err := core.RegisterRunningTrade(tr, tsl, false); err != nil {
			return nil, err
		}
	}

	// Any persisted config left unconsumed refers to a dead trade.
	if len(configByID) > 0 {
		dead := make([]string, 0, len(configByID))
		for id := range configByID {
			dead = append(dead, id)
		}
		if err := ms.RemoveRunningTrades(ctx, dead); err != nil {
			return nil, fmt.Errorf("session construction: remove_running_trades: %w", err)
		}
	}

	return sess, nil
}

// Reevaluate performs incremental drift reconciliation against fresh market
// data (spec.md §4.3 "reevaluate").
func (s *LiveSession) Reevaluate(ctx context.Context, ms store.MarketStore, vc venue.VenueClient) ([]*trade.Trade, error) {
	rangeMin, rangeMax, lastTime, lastPrice, err := ms.PriceRangeFrom(ctx, s.lastEvaluationTime)
	if err != nil {
		return nil, fmt.Errorf("reevaluate: price_range_from: %w", err)
	}
	s.lastEvaluationTime = lastTime
	s.lastPrice = lastPrice

	trigger := s.Trigger()
	if !trigger.WasReached(rangeMin) && !trigger.WasReached(rangeMax) {
		return nil, nil
	}

	var toConfirmClosed []*trade.Trade
	var toUpdate []*trade.Trade
	for _, tr := range s.Running().TradesDesc() {
		terminal, tsl := trade.ClassifyTrade(tr, rangeMin, rangeMax)
		if terminal {
			toConfirmClosed = append(toConfirmClosed, tr)
		} else if tsl {
			toUpdate = append(toUpdate, tr)
		}
	}

	var confirmedClosed []*trade.Trade
	if len(toConfirmClosed) > 0 {
		closedFromVenue, err := vc.GetTradesClosed(ctx, len(toConfirmClosed))
		if err != nil {
			return nil, fmt.Errorf("reevaluate: get_trades_closed: %w", err)
		}
		wanted := make(map[string]bool, len(toConfirmClosed))
		for _, tr := range toConfirmClosed {
			wanted[tr.ID] = true
		}
		byID := make(map[string]*trade.Trade, len(closedFromVenue))
		for _, ct := range closedFromVenue {
			byID[ct.ID] = ct
			if !wanted[ct.ID] {
				return nil, tradeerr.ErrUnexpectedClosedTrade
			}
		}
		for _, tr := range toConfirmClosed {
			ct, ok := byID[tr.ID]
			if !ok {
				return nil, tradeerr.ErrClosedTradeNotConfirmed
			}
			confirmedClosed = append(confirmedClosed, ct)
		}
	}

	updatedMap := make(map[string]*trade.Trade)
	if len(toUpdate) > 0 {
		sem := semaphore.NewWeighted(reevaluateStoplossConcurrency)
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, tr := range toUpdate {
			tr := tr
			newSL := nextStoplossFor(tr)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := sem.Acquire(ctx, 1); err != nil {
					return
				}
				defer sem.Release(1)
				updated, err := vc.UpdateTradeStoploss(ctx, tr.ID, newSL)
				if err != nil {
					// Cannot trust an un-ratcheted SL: fall back to closing.
					closedTr, closeErr := vc.CloseTrade(ctx, tr.ID)
					if closeErr == nil {
						mu.Lock()
						confirmedClosed = append(confirmedClosed, closedTr)
						mu.Unlock()
					}
					return
				}
				mu.Lock()
				updatedMap[tr.ID] = updated
				mu.Unlock()
			}()
		}
		wg.Wait()
	}

	if len(updatedMap) > 0 {
		if err := s.Core.UpdateRunningTrades(updatedMap); err != nil {
			return nil, err
		}
	}
	if len(confirmedClosed) > 0 {
		if err := s.Core.CloseTrades(confirmedClosed); err != nil {
			return nil, err
		}
	}

	return confirmedClosed, nil
}

// nextStoplossFor computes the ratcheted stoploss price for a TSL-enabled
// trade whose next-update trigger was crossed: the current stoploss moved
// one step in the favorable direction, stoploss·(1 + step%) for a long and
// stoploss·(1 − step%) for a short. The market price is not used.
func nextStoplossFor(tr *trade.Trade) numeric.Price {
	stepFrac := tr.TSL.StepPct.Value() / 100
	if tr.Side == trade.Long {
		return numeric.RoundPrice(tr.Stoploss.Float64() * (1 + stepFrac))
	}
	return numeric.RoundPrice(tr.Stoploss.Float64() * (1 - stepFrac))
}
