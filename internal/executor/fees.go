package executor

import (
	"math"

	"github.com/flemosr/tradeloop/internal/numeric"
)

// computeFee implements the simulated executor's fee formula (grounded on
// the percentage-of-notional-at-price fee model the original backtest
// executor computes for opening/closing/maintenance-reserve fees):
//
//	fee_calc = SATS_PER_BTC * feePct / 100
//	fee      = floor(fee_calc * quantity / price)
func computeFee(quantity numeric.Quantity, feePct numeric.PercentageCapped, price numeric.Price) uint64 {
	feeCalc := numeric.SatsPerBTC * feePct.Value() / 100
	fee := feeCalc * quantity.Float64() / price.Float64()
	if fee < 0 {
		return 0
	}
	return uint64(math.Floor(fee))
}
