package numeric

import (
	"fmt"
	"math"
)

// Price is a validated USD-per-BTC price. Values must be finite, within
// [PriceMin, PriceMax] and aligned to PriceTick.
type Price struct {
	v float64
}

const (
	// PriceMin is the lowest admissible price, in USD/BTC.
	PriceMin = 1.0
	// PriceMax is the highest admissible price, in USD/BTC.
	PriceMax = 100_000_000.0
	// PriceTick is the minimum price increment.
	PriceTick = 0.5

	// priceTickTolerance absorbs float64 accumulation error when checking
	// tick alignment.
	priceTickTolerance = 1e-10
)

// NewPrice validates v as a Price: finite, in range, tick-aligned.
func NewPrice(v float64) (Price, error) {
	if !isFiniteFloat(v) {
		return Price{}, fmt.Errorf("price %v: not finite", v)
	}
	if v < PriceMin {
		return Price{}, fmt.Errorf("price %v: below minimum %v", v, PriceMin)
	}
	if v > PriceMax {
		return Price{}, fmt.Errorf("price %v: above maximum %v", v, PriceMax)
	}
	ticks := v / PriceTick
	if math.Abs(ticks-math.Round(ticks)) > priceTickTolerance {
		return Price{}, fmt.Errorf("price %v: not a multiple of tick %v", v, PriceTick)
	}
	return Price{v: v}, nil
}

// RoundPrice rounds v to the nearest tick, then bounds it to [PriceMin, PriceMax].
func RoundPrice(v float64) Price {
	return BoundedPrice(math.Round(v/PriceTick) * PriceTick)
}

// RoundUpPrice rounds v up to the nearest tick, then bounds it.
func RoundUpPrice(v float64) Price {
	return BoundedPrice(math.Ceil(v/PriceTick) * PriceTick)
}

// RoundDownPrice rounds v down to the nearest tick, then bounds it.
func RoundDownPrice(v float64) Price {
	return BoundedPrice(math.Floor(v/PriceTick) * PriceTick)
}

// BoundedPrice clamps v to [PriceMin, PriceMax] then rounds to the nearest
// tick. It is infallible: NaN/Inf are treated as the nearest bound.
func BoundedPrice(v float64) Price {
	if math.IsNaN(v) {
		v = PriceMin
	}
	if math.IsInf(v, -1) {
		v = PriceMin
	}
	if math.IsInf(v, 1) {
		v = PriceMax
	}
	clamped := math.Min(math.Max(v, PriceMin), PriceMax)
	ticked := math.Round(clamped/PriceTick) * PriceTick
	if ticked < PriceMin {
		ticked = PriceMin
	}
	if ticked > PriceMax {
		ticked = PriceMax
	}
	return Price{v: ticked}
}

// Float64 returns the underlying value.
func (p Price) Float64() float64 { return p.v }

// Compare returns -1, 0 or 1 as p is less than, equal to, or greater than o.
func (p Price) Compare(o Price) int {
	switch {
	case p.v < o.v:
		return -1
	case p.v > o.v:
		return 1
	default:
		return 0
	}
}

func (p Price) Less(o Price) bool         { return p.v < o.v }
func (p Price) LessEqual(o Price) bool    { return p.v <= o.v }
func (p Price) Greater(o Price) bool      { return p.v > o.v }
func (p Price) GreaterEqual(o Price) bool { return p.v >= o.v }
func (p Price) Equal(o Price) bool        { return p.v == o.v }

func (p Price) String() string { return fmt.Sprintf("%.2f", p.v) }

// ApplyDiscount returns Price * (1 - pct/100), rounded to tick.
func (p Price) ApplyDiscount(pct Percentage) Price {
	return RoundPrice(p.v * (1 - pct.Float64()/100))
}

// ApplyGain returns Price * (1 + pct/100), rounded to tick.
func (p Price) ApplyGain(pct Percentage) Price {
	return RoundPrice(p.v * (1 + pct.Float64()/100))
}
