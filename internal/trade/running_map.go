package trade

import (
	"sort"

	"github.com/flemosr/tradeloop/internal/tradeerr"
)

// runningEntry pairs a running trade with its optional trailing-stop-loss
// configuration.
type runningEntry struct {
	trade *Trade
	tsl   *TrailingStoploss
}

// RunningTradesMap is the single source of truth for which trades are
// currently running. Uniqueness of id is a hard invariant; derived counters
// (per-side length/margin/quantity) are recomputed on demand from iteration,
// never cached, since the map can change between any two reads.
type RunningTradesMap struct {
	entries map[string]*runningEntry
}

// NewRunningTradesMap returns an empty map.
func NewRunningTradesMap() *RunningTradesMap {
	return &RunningTradesMap{entries: make(map[string]*runningEntry)}
}

// Add registers tr (with optional tsl) under tr.ID. Fails if the id is
// already present.
func (m *RunningTradesMap) Add(tr *Trade, tsl *TrailingStoploss) error {
	if _, exists := m.entries[tr.ID]; exists {
		return tradeerr.ErrTradeAlreadyRegistered
	}
	m.entries[tr.ID] = &runningEntry{trade: tr, tsl: tsl}
	return nil
}

// Remove deletes id from the map. A no-op if absent.
func (m *RunningTradesMap) Remove(id string) {
	delete(m.entries, id)
}

// Contains reports whether id is currently running.
func (m *RunningTradesMap) Contains(id string) bool {
	_, ok := m.entries[id]
	return ok
}

// Len returns the number of running trades.
func (m *RunningTradesMap) Len() int { return len(m.entries) }

// Get returns the trade and its TSL config for id.
func (m *RunningTradesMap) Get(id string) (tr *Trade, tsl *TrailingStoploss, ok bool) {
	e, ok := m.entries[id]
	if !ok {
		return nil, nil, false
	}
	return e.trade, e.tsl, true
}

// GetMut returns the trade pointer for id for in-place mutation (e.g. TSL
// ratcheting), plus its TSL config.
func (m *RunningTradesMap) GetMut(id string) (tr *Trade, tsl *TrailingStoploss, ok bool) {
	return m.Get(id)
}

// SetTSL replaces the TSL config associated with id. A no-op if id is absent.
func (m *RunningTradesMap) SetTSL(id string, tsl *TrailingStoploss) {
	if e, ok := m.entries[id]; ok {
		e.tsl = tsl
	}
}

// TradesDesc returns all running trades ordered by descending creation time.
// The ordering is computed fresh on every call (no caching).
func (m *RunningTradesMap) TradesDesc() []*Trade {
	out := make([]*Trade, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.trade)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// sideTotals computes the derived per-side counters: count, sum margin
// (sats), sum quantity (USD).
func (m *RunningTradesMap) sideTotals(side Side) (count int, margin uint64, quantity uint64) {
	for _, e := range m.entries {
		if e.trade.Side != side {
			continue
		}
		count++
		margin += e.trade.Margin.Uint64()
		quantity += e.trade.Quantity.Uint64()
	}
	return
}

func (m *RunningTradesMap) LongLen() int            { c, _, _ := m.sideTotals(Long); return c }
func (m *RunningTradesMap) LongMargin() uint64       { _, mg, _ := m.sideTotals(Long); return mg }
func (m *RunningTradesMap) LongQuantity() uint64     { _, _, q := m.sideTotals(Long); return q }
func (m *RunningTradesMap) ShortLen() int            { c, _, _ := m.sideTotals(Short); return c }
func (m *RunningTradesMap) ShortMargin() uint64      { _, mg, _ := m.sideTotals(Short); return mg }
func (m *RunningTradesMap) ShortQuantity() uint64    { _, _, q := m.sideTotals(Short); return q }

// BuildTrigger rebuilds the PriceTrigger by folding every running trade's
// window into a fresh trigger. Used after bulk mutations (session renewal)
// where incremental Update calls would be equivalent but less clear.
func (m *RunningTradesMap) BuildTrigger() (PriceTrigger, error) {
	t := NewPriceTrigger()
	for _, tr := range m.TradesDesc() {
		if err := t.Update(tr); err != nil {
			return PriceTrigger{}, err
		}
	}
	return t, nil
}
