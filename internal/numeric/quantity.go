package numeric

import (
	"errors"
	"fmt"
	"math"
)

// Quantity is a validated integer USD notional in [QuantityMin, QuantityMax].
type Quantity struct {
	v uint64
}

const (
	QuantityMin = 1
	QuantityMax = 500_000
)

// ErrQuantityTooLow and ErrQuantityTooHigh let callers (the executor's
// balance-to-quantity derivation) distinguish which bound was violated
// without parsing error strings.
var (
	ErrQuantityTooLow  = errors.New("quantity below minimum")
	ErrQuantityTooHigh = errors.New("quantity above maximum")
)

// NewQuantity validates v as a Quantity.
func NewQuantity(v uint64) (Quantity, error) {
	if v < QuantityMin {
		return Quantity{}, fmt.Errorf("quantity %d: %w", v, ErrQuantityTooLow)
	}
	if v > QuantityMax {
		return Quantity{}, fmt.Errorf("quantity %d: %w", v, ErrQuantityTooHigh)
	}
	return Quantity{v: v}, nil
}

// BoundedQuantity rounds v to the nearest integer, then bounds it to
// [QuantityMin, QuantityMax].
func BoundedQuantity(v float64) Quantity {
	if !isFiniteFloat(v) || v < 0 {
		v = 0
	}
	rounded := uint64(math.Round(v))
	if rounded < QuantityMin {
		rounded = QuantityMin
	}
	if rounded > QuantityMax {
		rounded = QuantityMax
	}
	return Quantity{v: rounded}
}

// CalculateQuantity derives quantity (USD) from margin (sats), price
// (USD/BTC) and leverage: quantity = floor(margin * leverage * price / SatsPerBTC).
func CalculateQuantity(margin Margin, price Price, leverage Leverage) (Quantity, error) {
	qty := margin.Float64() * leverage.Float64() * price.Float64() / SatsPerBTC
	return NewQuantity(uint64(math.Floor(qty)))
}

// QuantityFromBalancePerc derives the quantity (USD) corresponding to
// balancePct of balance (sats) converted to USD at marketPrice.
func QuantityFromBalancePerc(balanceSats uint64, marketPrice Price, balancePct PercentageCapped) (Quantity, error) {
	balanceUSD := float64(balanceSats) * marketPrice.Float64() / SatsPerBTC
	target := balanceUSD * balancePct.Value() / 100
	if target < 0 {
		target = 0
	}
	return NewQuantity(uint64(math.Floor(target)))
}

func (q Quantity) Uint64() uint64   { return q.v }
func (q Quantity) Float64() float64 { return float64(q.v) }
func (q Quantity) String() string   { return fmt.Sprintf("%d USD", q.v) }

func (q Quantity) Compare(o Quantity) int {
	switch {
	case q.v < o.v:
		return -1
	case q.v > o.v:
		return 1
	default:
		return 0
	}
}
