// Package session implements the TradingSession abstraction: the reconciled
// belief about one account's state (balance, running map, closed history,
// realized PnL, funding-fee accounting) shared by the live and simulated
// trade executors.
package session

import (
	"sync"
	"time"

	"github.com/flemosr/tradeloop/internal/numeric"
	"github.com/flemosr/tradeloop/internal/trade"
	"github.com/flemosr/tradeloop/internal/tradeerr"
)

// Core is the bookkeeping shared by LiveSession and executor.Simulated: the
// running map, closed history, balance, fee accounting and price trigger,
// plus the register/update/close operations that maintain TradingSession
// invariants 1-4 (see the component design notes). It never talks to a
// venue or a market store itself — that's the job of the embedding type.
type Core struct {
	mu sync.Mutex

	tslStepSize numeric.PercentageCapped

	balance   uint64 // sats
	running   *trade.RunningTradesMap
	closed    *trade.ClosedTradeHistory
	trigger   trade.PriceTrigger

	realizedPL     int64
	closedFees     uint64
	fundingFees    int64
	lastTradeTime  time.Time

	// fundingSnapshot maps trade id -> last observed SumFundingFees, the
	// baseline against which the next delta is computed.
	fundingSnapshot map[string]int64
}

// NewCore returns an empty Core with the given starting balance.
func NewCore(startingBalance uint64, tslStepSize numeric.PercentageCapped) *Core {
	return &Core{
		tslStepSize:     tslStepSize,
		balance:         startingBalance,
		running:         trade.NewRunningTradesMap(),
		closed:          trade.NewClosedTradeHistory(),
		fundingSnapshot: make(map[string]int64),
	}
}

// Balance returns the current balance in satoshis.
func (c *Core) Balance() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance
}

// Running exposes the running-trades map for read access (trigger
// evaluation, iteration). Callers must not mutate trades returned from it
// except through Core's own methods.
func (c *Core) Running() *trade.RunningTradesMap { return c.running }

// Trigger returns the current price-trigger window.
func (c *Core) Trigger() trade.PriceTrigger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trigger
}

// RealizedPL returns cumulative realized PnL in satoshis.
func (c *Core) RealizedPL() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.realizedPL
}

// FundingFees returns cumulative funding-fee charges in satoshis.
func (c *Core) FundingFees() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fundingFees
}

// LastTradeTime returns the latest created_at/closed_at observed across all
// registrations and closes.
func (c *Core) LastTradeTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTradeTime
}

func saturatingSub(balance uint64, amount uint64) uint64 {
	if amount > balance {
		return 0
	}
	return balance - amount
}

// RegisterRunningTrade adds tr to the running map. Fails if tr is not in the
// Running state or its id is already registered. If updateBalance is true,
// debits margin + max(maintenance_margin, 0) + opening_fee from balance,
// saturating at zero. Realizes the trade's current SumFundingFees into
// fundingFees and records it as the new baseline.
func (c *Core) RegisterRunningTrade(tr *trade.Trade, tsl *trade.TrailingStoploss, updateBalance bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !tr.IsRunning() {
		return tradeerr.ErrUpdatedTradesNotRunning
	}
	if err := c.running.Add(tr, tsl); err != nil {
		return err
	}
	if tr.CreatedAt.After(c.lastTradeTime) {
		c.lastTradeTime = tr.CreatedAt
	}
	if updateBalance {
		debit := tr.Margin.Uint64() + tr.MaintenanceMargin + tr.OpeningFee
		c.balance = saturatingSub(c.balance, debit)
	}

	baseline := c.fundingSnapshot[tr.ID]
	c.fundingFees += tr.SumFundingFees - baseline
	c.fundingSnapshot[tr.ID] = tr.SumFundingFees

	return c.rebuildTriggerLocked()
}

// UpdateRunningTrades replaces each running trade whose id matches an entry
// in updated. For each replacement, credits balance with
// (old.margin + old.maintenance_margin + round(old.est_pl_at(new.price))) -
// new.margin - new.maintenance_margin. Any id in updated not found in the
// running map is a programmer error.
func (c *Core) UpdateRunningTrades(updated map[string]*trade.Trade) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, newTrade := range updated {
		oldTrade, oldTSL, ok := c.running.Get(id)
		if !ok {
			return tradeerr.ErrUpdatedTradesNotRunning
		}
		estPL := oldTrade.EstPLAt(newTrade.EntryPrice)
		credit := int64(oldTrade.Margin.Uint64()) + int64(oldTrade.MaintenanceMargin) + estPL
		debit := int64(newTrade.Margin.Uint64()) + int64(newTrade.MaintenanceMargin)
		delta := credit - debit
		if delta >= 0 {
			c.balance += uint64(delta)
		} else {
			c.balance = saturatingSub(c.balance, uint64(-delta))
		}
		c.running.Remove(id)
		if err := c.running.Add(newTrade, oldTSL); err != nil {
			return err
		}
		baseline := c.fundingSnapshot[id]
		c.fundingFees += newTrade.SumFundingFees - baseline
		c.fundingSnapshot[id] = newTrade.SumFundingFees
	}
	return c.rebuildTriggerLocked()
}

// CloseTrades moves each closed trade from running to the closed history.
// Each must currently be registered and have ClosedAt set.
func (c *Core) CloseTrades(closedTrades []*trade.Trade) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cl := range closedTrades {
		old, _, ok := c.running.Get(cl.ID)
		if !ok {
			return tradeerr.ErrUnexpectedClosedTrade
		}
		if cl.ClosedAt == nil {
			return tradeerr.ErrUpdatedTradesNotRunning
		}
		c.balance += old.Margin.Uint64() + old.MaintenanceMargin
		if cl.PL >= 0 {
			c.balance += uint64(cl.PL)
		} else {
			c.balance = saturatingSub(c.balance, uint64(-cl.PL))
		}
		c.balance = saturatingSub(c.balance, cl.ClosingFee)

		c.realizedPL += cl.PL
		c.closedFees += old.OpeningFee + cl.ClosingFee

		baseline := c.fundingSnapshot[cl.ID]
		c.fundingFees += cl.SumFundingFees - baseline
		delete(c.fundingSnapshot, cl.ID)

		if err := c.closed.Insert(cl); err != nil {
			return err
		}
		c.running.Remove(cl.ID)
		if cl.ClosedAt.After(c.lastTradeTime) {
			c.lastTradeTime = *cl.ClosedAt
		}
	}
	return c.rebuildTriggerLocked()
}

// rebuildTriggerLocked recomputes the trigger from the current running map.
// Must be called with mu held.
func (c *Core) rebuildTriggerLocked() error {
	t, err := c.running.BuildTrigger()
	if err != nil {
		return err
	}
	c.trigger = t
	return nil
}

// seedFrom carries forward realized PnL, fee accounting and closed history
// from a previous session's Core, as session renewal does. The running map,
// balance and trigger are NOT carried over — those are rebuilt fresh from
// venue truth by the caller.
func (c *Core) seedFrom(prev *Core) {
	prev.mu.Lock()
	defer prev.mu.Unlock()
	c.realizedPL = prev.realizedPL
	c.closedFees = prev.closedFees
	c.fundingFees = prev.fundingFees
	c.closed = prev.closed
	c.lastTradeTime = prev.lastTradeTime
	for id, baseline := range prev.fundingSnapshot {
		c.fundingSnapshot[id] = baseline
	}
}

// previousRunningSnapshot returns the ids currently running in prev (used by
// session renewal to compute the gap-reconciliation missing-set) and, for
// each, its funding-fee baseline.
func (c *Core) previousRunningSnapshot() (ids map[string]bool, baselines map[string]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids = make(map[string]bool)
	baselines = make(map[string]int64)
	for _, tr := range c.running.TradesDesc() {
		ids[tr.ID] = true
		baselines[tr.ID] = c.fundingSnapshot[tr.ID]
	}
	return
}

// seedFundingBaseline records baseline as id's funding-fee baseline before a
// RegisterRunningTrade call, so the delta RegisterRunningTrade computes is
// relative to the previous session's observation rather than zero.
func (c *Core) seedFundingBaseline(id string, baseline int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fundingSnapshot[id] = baseline
}

// reconcileMissingClosedTrade folds a trade that closed on the venue between
// sessions (discovered missing from get_trades_running at construction time)
// into the accounting: its realized PnL, closing fee and funding-fee delta
// against baseline are applied as if CloseTrades had processed it, without
// requiring it to currently be in the running map.
func (c *Core) reconcileMissingClosedTrade(cl *trade.Trade, fundingBaseline int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.realizedPL += cl.PL
	c.closedFees += cl.OpeningFee + cl.ClosingFee
	c.fundingFees += cl.SumFundingFees - fundingBaseline
	delete(c.fundingSnapshot, cl.ID)

	if err := c.closed.Insert(cl); err != nil {
		return err
	}
	if cl.ClosedAt != nil && cl.ClosedAt.After(c.lastTradeTime) {
		c.lastTradeTime = *cl.ClosedAt
	}
	return nil
}

// TradingState returns a pure snapshot of the session. Two calls with no
// intervening mutation produce equal snapshots.
func (c *Core) TradingState(expiresAt string) trade.TradingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return trade.TradingState{
		BalanceSats:   c.balance,
		Running:       c.running.TradesDesc(),
		Closed:        c.closed.Snapshot(),
		RealizedPL:    c.realizedPL,
		ClosedFeesSat: c.closedFees,
		FundingFees:   c.fundingFees,
		ExpiresAt:     expiresAt,
	}
}
