package trade

import "github.com/flemosr/tradeloop/internal/numeric"

// DefaultMaintenanceRatio is the maintenance-margin fraction used by the
// simulated liquidation-price formula below.
const DefaultMaintenanceRatio = 0.005

// EstimateLiquidationPrice computes the price at which a position would be
// liquidated under a maintenance-margin model: long positions liquidate
// below entry, short positions above, the band widening as leverage grows
// and narrowing by maintenanceRatio.
func EstimateLiquidationPrice(side Side, entry numeric.Price, leverage numeric.Leverage, maintenanceRatio float64) numeric.Price {
	if side == Long {
		return numeric.BoundedPrice(entry.Float64() * (1 - 1/leverage.Float64() + maintenanceRatio))
	}
	return numeric.BoundedPrice(entry.Float64() * (1 + 1/leverage.Float64() - maintenanceRatio))
}
