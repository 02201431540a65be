package trade

import (
	"github.com/flemosr/tradeloop/internal/numeric"
	"github.com/flemosr/tradeloop/internal/tradeerr"
)

// PriceTrigger maintains the narrowest (min, max) price window across all
// running trades' decision thresholds: an O(1) admission filter that must be
// consulted before any per-trade evaluation. WasReached(p) is true once the
// window has collapsed enough that p is at or beyond either bound.
//
// The window is an intersection, not a union: combining a new trade narrows
// it further. If ANY trade's own decision price is crossed, every trade must
// be re-examined, so the narrowest window across all trades is the soonest
// correct wake-up point.
type PriceTrigger struct {
	isSet bool
	min   numeric.Price
	max   numeric.Price
}

// NewPriceTrigger returns the empty (NotSet) trigger.
func NewPriceTrigger() PriceTrigger { return PriceTrigger{} }

// WasReached reports whether price is at or beyond either bound of the
// window. Always false while NotSet.
func (t PriceTrigger) WasReached(price numeric.Price) bool {
	if !t.isSet {
		return false
	}
	return price.LessEqual(t.min) || price.GreaterEqual(t.max)
}

// IsSet reports whether the trigger currently holds a window.
func (t PriceTrigger) IsSet() bool { return t.isSet }

// Bounds returns the current window; the second return is false if NotSet.
func (t PriceTrigger) Bounds() (min, max numeric.Price, ok bool) {
	return t.min, t.max, t.isSet
}

// Update intersects the trigger's window with tr's own decision-price
// window, narrowing it; a trade with trailing-stop-loss configuration adds
// its next ratchet trigger to that window (see TradeWindow). Fails with ErrInvalidTrigger
// if the intersection would be empty — an impossible state surfaced as a
// programmer error, never silently clamped.
func (t *PriceTrigger) Update(tr *Trade) error {
	tradeMin, tradeMax, err := TradeWindow(tr)
	if err != nil {
		return err
	}
	newMin := tradeMin
	newMax := tradeMax
	if t.isSet {
		if t.min.Greater(newMin) {
			newMin = t.min
		}
		if t.max.Less(newMax) {
			newMax = t.max
		}
	}
	if newMin.Greater(newMax) {
		return tradeerr.ErrInvalidTrigger
	}
	t.min = newMin
	t.max = newMax
	t.isSet = true
	return nil
}

// TradeWindow computes a single running trade's own (min, max) decision
// window: the tightest pair of bounds such that crossing either requires
// re-examining the trade. Lower-type thresholds (those that fire as price
// falls to/below them) combine via max (the nearest danger from below);
// upper-type thresholds combine via min (the nearest danger from above).
func TradeWindow(tr *Trade) (min, max numeric.Price, err error) {
	var lower, upper []numeric.Price

	// Liquidation is unconditional: below entry for longs, above for shorts.
	if tr.Side == Long {
		lower = append(lower, tr.Liquidation)
	} else {
		upper = append(upper, tr.Liquidation)
	}

	if tr.Stoploss != nil {
		// Long: closes below SL. Short: closes above SL.
		if tr.Side == Long {
			lower = append(lower, *tr.Stoploss)
		} else {
			upper = append(upper, *tr.Stoploss)
		}
	}

	if tr.Takeprofit != nil {
		// Long: closes above TP. Short: closes below TP.
		if tr.Side == Long {
			upper = append(upper, *tr.Takeprofit)
		} else {
			lower = append(lower, *tr.Takeprofit)
		}
	}

	if tr.TSL != nil && tr.Stoploss != nil {
		nextTrigger := nextTSLTrigger(tr.Side, *tr.Stoploss, tr.TSL.StepPct)
		if tr.Side == Long {
			upper = append(upper, nextTrigger)
		} else {
			lower = append(lower, nextTrigger)
		}
	}

	// Liquidation guarantees the "mandatory" side of the window is always
	// populated; the other side defaults to the extreme bound when the
	// trade carries no stoploss/takeprofit/TSL on that side (meaning "no
	// threshold there", not "impossible state").
	if len(lower) == 0 {
		lower = append(lower, numeric.BoundedPrice(numeric.PriceMin))
	}
	if len(upper) == 0 {
		upper = append(upper, numeric.BoundedPrice(numeric.PriceMax))
	}

	min = lower[0]
	for _, p := range lower[1:] {
		if p.Greater(min) {
			min = p
		}
	}
	max = upper[0]
	for _, p := range upper[1:] {
		if p.Less(max) {
			max = p
		}
	}
	if min.Greater(max) {
		return numeric.Price{}, numeric.Price{}, tradeerr.ErrInvalidTrigger
	}
	return min, max, nil
}

// nextTSLTrigger computes the price at which a trailing-stop-loss would next
// ratchet, given the current stoploss and step percentage:
//
//	long:  currentSL * (1 + step/100) / (1 - step/100)
//	short: currentSL * (1 - step/100) / (1 + step/100)
//
// both rounded to the nearest tick.
func nextTSLTrigger(side Side, currentSL numeric.Price, step numeric.PercentageCapped) numeric.Price {
	stepFrac := step.Value() / 100
	if side == Long {
		return numeric.RoundPrice(currentSL.Float64() * (1 + stepFrac) / (1 - stepFrac))
	}
	return numeric.RoundPrice(currentSL.Float64() * (1 - stepFrac) / (1 + stepFrac))
}

// NextTSLTrigger is the exported form of nextTSLTrigger: the price at which
// a trailing-stop-loss would next ratchet. Executors that reprice a trade's
// stop directly (rather than through PriceTrigger) use this.
func NextTSLTrigger(side Side, currentSL numeric.Price, step numeric.PercentageCapped) numeric.Price {
	return nextTSLTrigger(side, currentSL, step)
}

// ClassifyTrade reports, given an observed price range [rangeMin, rangeMax]
// since the last evaluation, whether tr's terminal thresholds (liquidation,
// stoploss, takeprofit) were crossed (terminalReached — the trade may
// already be closed on the venue and must be confirmed), or only its TSL
// ratchet trigger was crossed (tslReached — the stoploss should be moved but
// the trade keeps running). Terminal takes priority: if both would fire,
// only terminalReached is reported true.
func ClassifyTrade(tr *Trade, rangeMin, rangeMax numeric.Price) (terminalReached, tslReached bool) {
	reachedLower := func(threshold numeric.Price) bool { return rangeMin.LessEqual(threshold) }
	reachedUpper := func(threshold numeric.Price) bool { return rangeMax.GreaterEqual(threshold) }

	if tr.Side == Long {
		if reachedLower(tr.Liquidation) {
			return true, false
		}
	} else {
		if reachedUpper(tr.Liquidation) {
			return true, false
		}
	}

	if tr.Stoploss != nil {
		if tr.Side == Long && reachedLower(*tr.Stoploss) {
			return true, false
		}
		if tr.Side == Short && reachedUpper(*tr.Stoploss) {
			return true, false
		}
	}

	if tr.Takeprofit != nil {
		if tr.Side == Long && reachedUpper(*tr.Takeprofit) {
			return true, false
		}
		if tr.Side == Short && reachedLower(*tr.Takeprofit) {
			return true, false
		}
	}

	if tr.TSL != nil && tr.Stoploss != nil {
		nextTrigger := nextTSLTrigger(tr.Side, *tr.Stoploss, tr.TSL.StepPct)
		if tr.Side == Long && reachedUpper(nextTrigger) {
			return false, true
		}
		if tr.Side == Short && reachedLower(nextTrigger) {
			return false, true
		}
	}

	return false, false
}
