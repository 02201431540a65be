package trade

import "github.com/flemosr/tradeloop/internal/tradeerr"

// ClosedTradeHistory is an append-only ordered list of closed trades.
// Inserting a trade whose id is already present is an error.
type ClosedTradeHistory struct {
	trades []*Trade
	ids    map[string]bool
}

// NewClosedTradeHistory returns an empty history.
func NewClosedTradeHistory() *ClosedTradeHistory {
	return &ClosedTradeHistory{ids: make(map[string]bool)}
}

// Insert appends t, failing if t.ID already appears in the history.
func (h *ClosedTradeHistory) Insert(t *Trade) error {
	if h.ids[t.ID] {
		return tradeerr.ErrTradeAlreadyRegistered
	}
	h.ids[t.ID] = true
	h.trades = append(h.trades, t)
	return nil
}

// Contains reports whether id is already present in the history.
func (h *ClosedTradeHistory) Contains(id string) bool { return h.ids[id] }

// Len returns the number of closed trades recorded.
func (h *ClosedTradeHistory) Len() int { return len(h.trades) }

// Snapshot returns an immutable copy-on-write view of the history: callers
// hold the returned slice without further mutation risk, since Insert never
// mutates previously-returned slices (it only appends to the receiver's own
// backing array via Go's copy-on-grow semantics combined with defensive
// copying here).
func (h *ClosedTradeHistory) Snapshot() []*Trade {
	out := make([]*Trade, len(h.trades))
	copy(out, h.trades)
	return out
}
