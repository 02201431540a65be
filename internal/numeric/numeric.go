// Package numeric implements the validated numeric wrapper types shared by
// the trade, session and executor packages: Price, Quantity, Margin,
// Leverage, Percentage and PercentageCapped. Every type rejects NaN/Inf and
// implements a total order via its underlying primitive.
package numeric

import "math"

// SatsPerBTC is the number of satoshis in one BTC.
const SatsPerBTC = 100_000_000

func isFiniteFloat(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
