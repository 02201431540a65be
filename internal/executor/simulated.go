package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flemosr/tradeloop/internal/numeric"
	"github.com/flemosr/tradeloop/internal/session"
	"github.com/flemosr/tradeloop/internal/trade"
	"github.com/flemosr/tradeloop/internal/tradeerr"
)

// Simulated is the backtest TradeExecutor: it never talks to a venue. It
// owns a session.Core directly (spec.md calls this a "plain
// SimulatedTradingSession that mirrors the live session's arithmetic") plus
// its own clock/price state and local trade-id generation.
type Simulated struct {
	mu sync.Mutex

	core *session.Core

	maxRunningQty int
	feePct        numeric.PercentageCapped
	tslStepFloor  numeric.PercentageCapped

	currentTime  time.Time
	lastTickTime time.Time
	lastPrice    numeric.Price
}

// NewSimulated returns a Simulated executor seeded at startTime/startPrice
// with startBalance sats.
func NewSimulated(maxRunningQty int, feePct, tslStepFloor numeric.PercentageCapped, startTime time.Time, startPrice numeric.Price, startBalance uint64) *Simulated {
	return &Simulated{
		core:          session.NewCore(startBalance, tslStepFloor),
		maxRunningQty: maxRunningQty,
		feePct:        feePct,
		tslStepFloor:  tslStepFloor,
		currentTime:   startTime,
		lastTickTime:  startTime,
		lastPrice:     startPrice,
	}
}

// Core exposes the underlying bookkeeping for read access (metrics,
// snapshots) without requiring callers to route through TradingState.
func (s *Simulated) Core() *session.Core { return s.core }

// TimeUpdate advances the executor's clock without touching price.
func (s *Simulated) TimeUpdate(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Before(s.currentTime) {
		return fmt.Errorf("time_update: %w", tradeerr.ErrTimeSequenceViolation)
	}
	s.currentTime = t
	return nil
}

// TickUpdate advances the clock and last price, then checks every running
// trade against the single observed price (liquidation, then SL, then TP,
// then TSL ratchet) — spec.md §4.4 "tick_update".
func (s *Simulated) TickUpdate(ctx context.Context, t time.Time, price numeric.Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !t.After(s.lastTickTime) || t.Before(s.currentTime) {
		return fmt.Errorf("tick_update: %w", tradeerr.ErrTimeSequenceViolation)
	}
	s.currentTime = t
	s.lastTickTime = t
	s.lastPrice = price

	trigger := s.core.Trigger()
	if !trigger.WasReached(price) {
		return nil
	}
	return s.evaluateRunningTrades(t, price, price)
}

// CandleUpdate feeds an OHLC minute candle through the trigger and, if
// reached, evaluates every running trade in priority order: liquidation,
// then the side's adverse threshold at the adverse extreme, then the
// favorable threshold at the opposing extreme — spec.md §4.4.1.
func (s *Simulated) CandleUpdate(ctx context.Context, c trade.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Time.Before(s.currentTime) {
		return fmt.Errorf("candle_update: %w", tradeerr.ErrTimeSequenceViolation)
	}
	s.currentTime = c.Time
	s.lastTickTime = c.Time
	s.lastPrice = numeric.RoundPrice(c.Close)

	low := numeric.RoundPrice(c.Low)
	high := numeric.RoundPrice(c.High)

	trigger := s.core.Trigger()
	if !trigger.WasReached(low) && !trigger.WasReached(high) {
		return nil
	}
	return s.evaluateRunningTrades(c.Time, low, high)
}

// evaluateRunningTrades must be called with mu held. It walks every running
// trade in descending-creation order and, per trade, checks thresholds in
// priority order: liquidation, adverse threshold (at the adverse extreme),
// favorable threshold (at the opposing extreme), then TSL ratchet.
func (s *Simulated) evaluateRunningTrades(now time.Time, low, high numeric.Price) error {
	var toClose []*trade.Trade
	updated := make(map[string]*trade.Trade)

	for _, tr := range s.core.Running().TradesDesc() {
		adverseExtreme, favorableExtreme := low, high
		if tr.Side == trade.Short {
			adverseExtreme, favorableExtreme = high, low
		}

		closePrice, shouldClose := s.firstCrossed(tr, low, high, adverseExtreme, favorableExtreme)
		if shouldClose {
			closed := s.closeAt(tr, now, closePrice)
			toClose = append(toClose, closed)
			continue
		}

		if tr.TSL != nil && tr.Stoploss != nil {
			if repriced, ok := s.maybeRatchetTSL(tr, favorableExtreme); ok {
				updated[tr.ID] = repriced
			}
		}
	}

	if len(updated) > 0 {
		if err := s.core.UpdateRunningTrades(updated); err != nil {
			return err
		}
	}
	if len(toClose) > 0 {
		if err := s.core.CloseTrades(toClose); err != nil {
			return err
		}
	}
	return nil
}

// firstCrossed checks, in priority order, whether tr's liquidation,
// stoploss or takeprofit was crossed by [low, high]; returns the price the
// trade would close at (the threshold itself, not the candle extreme).
func (s *Simulated) firstCrossed(tr *trade.Trade, low, high, adverseExtreme, favorableExtreme numeric.Price) (numeric.Price, bool) {
	if tr.Side == trade.Long {
		if low.LessEqual(tr.Liquidation) {
			return tr.Liquidation, true
		}
	} else {
		if high.GreaterEqual(tr.Liquidation) {
			return tr.Liquidation, true
		}
	}

	if tr.Stoploss != nil {
		if tr.Side == trade.Long && adverseExtreme.LessEqual(*tr.Stoploss) {
			return *tr.Stoploss, true
		}
		if tr.Side == trade.Short && adverseExtreme.GreaterEqual(*tr.Stoploss) {
			return *tr.Stoploss, true
		}
	}

	if tr.Takeprofit != nil {
		if tr.Side == trade.Long && favorableExtreme.GreaterEqual(*tr.Takeprofit) {
			return *tr.Takeprofit, true
		}
		if tr.Side == trade.Short && favorableExtreme.LessEqual(*tr.Takeprofit) {
			return *tr.Takeprofit, true
		}
	}

	return numeric.Price{}, false
}

// maybeRatchetTSL reprices a trade's stoploss to market_price ± step% once
// its next-update trigger has been crossed by the favorable extreme, which
// serves as the market price.
func (s *Simulated) maybeRatchetTSL(tr *trade.Trade, favorableExtreme numeric.Price) (*trade.Trade, bool) {
	nextTrigger := trade.NextTSLTrigger(tr.Side, *tr.Stoploss, tr.TSL.StepPct)
	crossed := false
	if tr.Side == trade.Long && favorableExtreme.GreaterEqual(nextTrigger) {
		crossed = true
	}
	if tr.Side == trade.Short && favorableExtreme.LessEqual(nextTrigger) {
		crossed = true
	}
	if !crossed {
		return nil, false
	}

	newSL := ratchetedStoploss(tr, favorableExtreme)
	repriced := *tr
	repriced.Stoploss = &newSL
	return &repriced, true
}

// ratchetedStoploss returns the new stoploss for a TSL-enabled trade:
// marketPrice moved against the trade by its configured step, i.e.
// marketPrice·(1 − step%) for a long and marketPrice·(1 + step%) for a short.
func ratchetedStoploss(tr *trade.Trade, marketPrice numeric.Price) numeric.Price {
	stepFrac := tr.TSL.StepPct.Value() / 100
	if tr.Side == trade.Long {
		return numeric.RoundPrice(marketPrice.Float64() * (1 - stepFrac))
	}
	return numeric.RoundPrice(marketPrice.Float64() * (1 + stepFrac))
}

func (s *Simulated) closeAt(tr *trade.Trade, closedAt time.Time, closePrice numeric.Price) *trade.Trade {
	closed := *tr
	closed.Status = trade.StatusClosed
	closed.ClosedAt = &closedAt
	closed.ExitPrice = &closePrice
	closed.ClosingFee = computeFee(tr.Quantity, s.feePct, closePrice)
	closed.PL = tr.EstPLAt(closePrice)
	return &closed
}

// ApplyFundingSettlement debits each running trade's margin by its
// side-specific funding fee, crediting session.fundingFees; a trade whose
// margin would fall below the liquidation floor is closed at the
// pre-settlement market price instead (liquidation-by-funding) —
// spec.md §4.4.1.
func (s *Simulated) ApplyFundingSettlement(ctx context.Context, settlement trade.FundingSettlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	preSettlementPrice := s.lastPrice
	updated := make(map[string]*trade.Trade)
	var toClose []*trade.Trade

	for _, tr := range s.core.Running().TradesDesc() {
		rate := settlement.RateForSide(tr.Side)
		fee := uint64(0)
		rawFee := tr.Quantity.Float64() * numeric.SatsPerBTC / tr.EntryPrice.Float64() * rate
		if rawFee > 0 {
			fee = uint64(rawFee + 0.5)
		}
		if fee == 0 {
			continue
		}

		if fee >= tr.Margin.Uint64() {
			toClose = append(toClose, s.closeAt(tr, s.currentTime, preSettlementPrice))
			continue
		}

		newMargin, err := numeric.NewMargin(tr.Margin.Uint64() - fee)
		if err != nil {
			toClose = append(toClose, s.closeAt(tr, s.currentTime, preSettlementPrice))
			continue
		}
		repriced := *tr
		repriced.Margin = newMargin
		repriced.SumFundingFees = tr.SumFundingFees + int64(fee)
		updated[tr.ID] = &repriced
	}

	if len(updated) > 0 {
		if err := s.core.UpdateRunningTrades(updated); err != nil {
			return err
		}
	}
	if len(toClose) > 0 {
		if err := s.core.CloseTrades(toClose); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulated) openRunning(side trade.Side, risk RiskParams, balancePct numeric.PercentageCapped, leverage numeric.Leverage) (*trade.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price := s.lastPrice
	quantity, err := resolveQuantity(s.core.Balance(), price, balancePct)
	if err != nil {
		return nil, mapQuantityError(err)
	}

	if s.core.Running().Len() >= s.maxRunningQty {
		return nil, fmt.Errorf("open: %w", tradeerr.ErrMaxRunningTradesReached)
	}

	stoploss, takeprofit, tsl, err := resolveRiskParams(side, price, risk, s.tslStepFloor)
	if err != nil {
		return nil, err
	}

	margin := numeric.TruncatedMargin(quantity.Float64() * numeric.SatsPerBTC / price.Float64() / leverage.Float64())
	liq := trade.EstimateLiquidationPrice(side, price, leverage, trade.DefaultMaintenanceRatio)
	openingFee := computeFee(quantity, s.feePct, price)
	maintenanceReserve := computeFee(quantity, s.feePct, liq)

	tr := &trade.Trade{
		ID: uuid.New().String(), Side: side, CreatedAt: s.currentTime, Status: trade.StatusRunning,
		Quantity: quantity, Margin: margin, Leverage: leverage, EntryPrice: price, PLBasisPrice: price,
		Liquidation: liq, Stoploss: &stoploss, Takeprofit: &takeprofit, TSL: tsl,
		// MaintenanceMargin holds only the closing-fee reserve here: OpeningFee
		// is tracked separately and register_running_trade debits both.
		OpeningFee: openingFee, MaintenanceMargin: maintenanceReserve,
	}

	if err := s.core.RegisterRunningTrade(tr, tsl, true); err != nil {
		return nil, err
	}
	return tr, nil
}

func mapQuantityError(err error) error {
	switch {
	case errors.Is(err, numeric.ErrQuantityTooLow):
		return fmt.Errorf("open: %w", tradeerr.ErrBalanceTooLow)
	case errors.Is(err, numeric.ErrQuantityTooHigh):
		return fmt.Errorf("open: %w", tradeerr.ErrBalanceTooHigh)
	default:
		return err
	}
}

func (s *Simulated) OpenLong(ctx context.Context, risk RiskParams, balancePct numeric.PercentageCapped, leverage numeric.Leverage) (*trade.Trade, error) {
	return s.openRunning(trade.Long, risk, balancePct, leverage)
}

func (s *Simulated) OpenShort(ctx context.Context, risk RiskParams, balancePct numeric.PercentageCapped, leverage numeric.Leverage) (*trade.Trade, error) {
	return s.openRunning(trade.Short, risk, balancePct, leverage)
}

func (s *Simulated) CloseTrade(ctx context.Context, id string) (*trade.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, _, ok := s.core.Running().Get(id)
	if !ok {
		return nil, fmt.Errorf("close_trade: %w", tradeerr.ErrTradeNotRunning)
	}
	closed := s.closeAt(tr, s.currentTime, s.lastPrice)
	if err := s.core.CloseTrades([]*trade.Trade{closed}); err != nil {
		return nil, err
	}
	return closed, nil
}

func (s *Simulated) closeMatching(pred func(*trade.Trade) bool) ([]*trade.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var toClose []*trade.Trade
	for _, tr := range s.core.Running().TradesDesc() {
		if pred(tr) {
			toClose = append(toClose, s.closeAt(tr, s.currentTime, s.lastPrice))
		}
	}
	if len(toClose) == 0 {
		return nil, nil
	}
	if err := s.core.CloseTrades(toClose); err != nil {
		return nil, err
	}
	return toClose, nil
}

func (s *Simulated) CloseLongs(ctx context.Context) ([]*trade.Trade, error) {
	return s.closeMatching(func(tr *trade.Trade) bool { return tr.Side == trade.Long })
}

func (s *Simulated) CloseShorts(ctx context.Context) ([]*trade.Trade, error) {
	return s.closeMatching(func(tr *trade.Trade) bool { return tr.Side == trade.Short })
}

func (s *Simulated) CloseAll(ctx context.Context) ([]*trade.Trade, error) {
	return s.closeMatching(func(*trade.Trade) bool { return true })
}

func (s *Simulated) AddMargin(ctx context.Context, id string, amountSats uint64) (*trade.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, _, ok := s.core.Running().Get(id)
	if !ok {
		return nil, fmt.Errorf("add_margin: %w", tradeerr.ErrTradeNotRunning)
	}
	if amountSats > s.core.Balance() {
		return nil, fmt.Errorf("add_margin: %w", tradeerr.ErrInsufficientBalance)
	}
	newMargin, err := numeric.NewMargin(tr.Margin.Uint64() + amountSats)
	if err != nil {
		return nil, err
	}
	newLeverage, err := numeric.NewLeverage(tr.Quantity.Float64() * numeric.SatsPerBTC / (newMargin.Float64() * tr.EntryPrice.Float64()))
	if err != nil {
		return nil, fmt.Errorf("add_margin: %w", tradeerr.ErrResultingLeverageOutOfRange)
	}
	updated := *tr
	updated.Margin = newMargin
	updated.Leverage = newLeverage
	if err := s.core.UpdateRunningTrades(map[string]*trade.Trade{id: &updated}); err != nil {
		return nil, err
	}
	return &updated, nil
}

// CashIn extracts amountSats from a running trade, first from unrealized PL
// by shifting PLBasisPrice towards the market price, and only then from
// margin. Grounded on the original simulator's with_cash_in: a profitable
// trade has its PnL-basis price shifted so the realized amount leaves the
// account, before any margin is touched.
func (s *Simulated) CashIn(ctx context.Context, id string, amountSats uint64) (*trade.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, _, ok := s.core.Running().Get(id)
	if !ok {
		return nil, fmt.Errorf("cash_in: %w", tradeerr.ErrTradeNotRunning)
	}

	newBasis, remaining, err := cashInBasis(tr, s.lastPrice, amountSats)
	if err != nil {
		return nil, fmt.Errorf("cash_in: %w", err)
	}

	newMargin := tr.Margin
	if remaining > 0 {
		if tr.Margin.Uint64() <= remaining {
			return nil, fmt.Errorf("cash_in: %w", tradeerr.ErrResultingMarginTooLow)
		}
		newMargin, err = numeric.NewMargin(tr.Margin.Uint64() - remaining)
		if err != nil {
			return nil, fmt.Errorf("cash_in: %w", tradeerr.ErrResultingMarginTooLow)
		}
	}

	newLeverage, err := numeric.NewLeverage(tr.Quantity.Float64() * numeric.SatsPerBTC / (newMargin.Float64() * newBasis.Float64()))
	if err != nil {
		return nil, fmt.Errorf("cash_in: %w", tradeerr.ErrResultingLeverageOutOfRange)
	}

	updated := *tr
	updated.PLBasisPrice = newBasis
	updated.Margin = newMargin
	updated.Leverage = newLeverage
	updated.Liquidation = trade.EstimateLiquidationPrice(tr.Side, newBasis, newLeverage, trade.DefaultMaintenanceRatio)
	if err := s.core.UpdateRunningTrades(map[string]*trade.Trade{id: &updated}); err != nil {
		return nil, err
	}
	return &updated, nil
}

// cashInBasis computes the new PLBasisPrice and any amount that must still
// come out of margin for a cash-in of amountSats against marketPrice.
func cashInBasis(tr *trade.Trade, marketPrice numeric.Price, amountSats uint64) (numeric.Price, uint64, error) {
	currentPL := tr.EstPLAt(marketPrice)
	if currentPL <= 0 {
		return tr.PLBasisPrice, amountSats, nil
	}
	if amountSats >= uint64(currentPL) {
		return marketPrice, amountSats - uint64(currentPL), nil
	}
	newBasis, err := trade.PriceFromPL(tr.Side, tr.Quantity, tr.PLBasisPrice, int64(amountSats))
	if err != nil {
		return numeric.Price{}, 0, err
	}
	return newBasis, 0, nil
}

func (s *Simulated) TradingState(ctx context.Context) (trade.TradingState, error) {
	s.mu.Lock()
	expiresAt := s.currentTime.Format(time.RFC3339)
	s.mu.Unlock()
	return s.core.TradingState(expiresAt), nil
}
