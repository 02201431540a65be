// Package trade implements the trading-loop's core domain types: the Trade
// entity and its lifecycle, the append-only closed-trade history, the
// price-trigger admission filter and the running-trades map.
package trade

import (
	"fmt"
	"time"

	"github.com/flemosr/tradeloop/internal/numeric"
)

// Side is a trade's direction.
type Side int

const (
	Long Side = iota
	Short
)

func (s Side) String() string {
	if s == Short {
		return "short"
	}
	return "long"
}

// Status is a trade's lifecycle state:
//
//	Open --canceled--> Canceled (terminal)
//	 |
//	filled
//	 v
//	Running --closed_at/exit_price--> Closed (terminal)
type Status int

const (
	StatusOpen Status = iota
	StatusRunning
	StatusClosed
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusRunning:
		return "running"
	case StatusClosed:
		return "closed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// TrailingStoploss configures a trade's trailing-stop-loss: the stop ratchets
// in the favorable direction by StepPct as the market moves favorably, never
// backwards.
type TrailingStoploss struct {
	StepPct numeric.PercentageCapped
}

// Trade is the fundamental entity. Rather than a capability hierarchy
// (Trade/TradeRunning/TradeClosed), it is a tagged-variant struct: shared
// identity fields plus state-specific fields that are only meaningful when
// Status says so. Per-state operations are match-on-Status arms in the
// packages that consume Trade (session, executor).
type Trade struct {
	ID        string
	Side      Side
	CreatedAt time.Time
	Status    Status

	// Running fields (valid once Status >= StatusRunning).
	Quantity   numeric.Quantity
	Margin     numeric.Margin
	Leverage   numeric.Leverage
	EntryPrice numeric.Price
	// PLBasisPrice is the reference price unrealized PnL is estimated
	// against. It starts equal to EntryPrice and only ever moves when
	// CashIn shifts it to realize part of the floating PnL (see
	// PriceFromPL); EntryPrice itself never changes after fill.
	PLBasisPrice      numeric.Price
	Liquidation       numeric.Price
	Stoploss          *numeric.Price
	Takeprofit        *numeric.Price
	TSL               *TrailingStoploss
	OpeningFee        uint64 // sats
	MaintenanceMargin uint64 // sats; closing-fee reserve, tracked separately from OpeningFee
	SumFundingFees    int64  // sats, cumulative settlement charges

	// Closed fields (valid once Status == StatusClosed).
	ClosedAt   *time.Time
	ExitPrice  *numeric.Price
	ClosingFee uint64 // sats
	PL         int64  // sats, signed
}

// IsRunning reports whether the trade is in the Running state.
func (t *Trade) IsRunning() bool { return t.Status == StatusRunning }

// IsClosed reports whether the trade is in the terminal Closed state.
func (t *Trade) IsClosed() bool { return t.Status == StatusClosed }

// EstPLAt estimates unrealized PnL (sats) at a hypothetical market price,
// without mutating the trade. Used by UpdateRunningTrades' balance credit.
// Estimated against PLBasisPrice rather than EntryPrice, so a prior CashIn
// that shifted the basis to realize part of the PnL is reflected here: only
// the PnL accrued since the last shift remains "unrealized".
func (t *Trade) EstPLAt(price numeric.Price) int64 {
	return plBetween(t.Side, t.Quantity, t.PLBasisPrice, price)
}

// plBetween computes the signed sats PnL of moving from basis to price for
// the given side/quantity: long gains as price rises, short the reverse.
func plBetween(side Side, quantity numeric.Quantity, basis, price numeric.Price) int64 {
	qty := quantity.Float64()
	b := basis.Float64()
	if b == 0 || price.Float64() == 0 {
		return 0
	}
	// Inverse (linear-inverse futures) PnL in BTC.
	btcPL := qty/b - qty/price.Float64()
	if side == Short {
		btcPL = -btcPL
	}
	return int64(btcPL * numeric.SatsPerBTC)
}

// PriceFromPL solves for the basis price that, if substituted for the
// trade's current PLBasisPrice, would make EstPLAt(market) equal to
// plSats — i.e. the new reference price after extracting plSats sats of
// the currently unrealized PnL between basis and market. Grounded on the
// original simulator's with_cash_in/price_from_pl (shifting the PnL-basis
// price rather than mutating margin when cashing in from positive PL);
// the exact trade_util arithmetic lives in the lnm-sdk crate, which the
// retrieval pack does not include, so this derives the inverse directly
// from the PnL formula above rather than transcribing it.
func PriceFromPL(side Side, quantity numeric.Quantity, basis numeric.Price, plSats int64) (numeric.Price, error) {
	qty := quantity.Float64()
	b := basis.Float64()
	if qty <= 0 || b <= 0 {
		return numeric.Price{}, fmt.Errorf("price from pl: invalid quantity/basis")
	}
	sign := 1.0
	if side == Short {
		sign = -1.0
	}
	qtyOverBasis := qty / b
	qtyOverNew := qtyOverBasis - sign*float64(plSats)/numeric.SatsPerBTC
	if qtyOverNew <= 0 {
		return numeric.Price{}, fmt.Errorf("price from pl: amount exceeds realizable pl")
	}
	return numeric.NewPrice(qty / qtyOverNew)
}

// Candle is an OHLC price summary over a fixed resolution.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// FundingSettlement is a periodic fee (positive or negative) the venue
// charges on each running position. RateA/RateB are decimal fractions,
// applied to the Long/Short sides respectively.
type FundingSettlement struct {
	Time  time.Time
	RateA float64
	RateB float64
}

// RateForSide returns the settlement rate applicable to side.
func (f FundingSettlement) RateForSide(side Side) float64 {
	if side == Short {
		return f.RateB
	}
	return f.RateA
}
