// Package executor implements TradeExecutor: the single capability
// boundary every operator calls through, regardless of whether trades
// land on a real venue (Live) or a simulated in-process session
// (Simulated). Both variants share one operation vocabulary.
package executor

import (
	"context"
	"fmt"

	"github.com/flemosr/tradeloop/internal/numeric"
	"github.com/flemosr/tradeloop/internal/trade"
	"github.com/flemosr/tradeloop/internal/tradeerr"
)

// StoplossMode selects how a new trade's stoploss behaves once set.
type StoplossMode int

const (
	// StoplossFixed never moves after the trade opens.
	StoplossFixed StoplossMode = iota
	// StoplossTrailingStep ratchets in the favorable direction by StepPct.
	StoplossTrailingStep
)

// RiskParams describes a new trade's exit thresholds as percentages of the
// fill price, resolved to absolute prices at open time.
type RiskParams struct {
	StoplossPct   numeric.Percentage
	StoplossMode  StoplossMode
	StepPct       numeric.PercentageCapped // only meaningful when StoplossMode == StoplossTrailingStep
	TakeprofitPct numeric.Percentage
}

// TradeExecutor is the capability set both the Live and Simulated variants
// implement (spec.md §4.4).
type TradeExecutor interface {
	OpenLong(ctx context.Context, risk RiskParams, balancePct numeric.PercentageCapped, leverage numeric.Leverage) (*trade.Trade, error)
	OpenShort(ctx context.Context, risk RiskParams, balancePct numeric.PercentageCapped, leverage numeric.Leverage) (*trade.Trade, error)
	CloseTrade(ctx context.Context, id string) (*trade.Trade, error)
	CloseLongs(ctx context.Context) ([]*trade.Trade, error)
	CloseShorts(ctx context.Context) ([]*trade.Trade, error)
	CloseAll(ctx context.Context) ([]*trade.Trade, error)
	AddMargin(ctx context.Context, id string, amountSats uint64) (*trade.Trade, error)
	CashIn(ctx context.Context, id string, amountSats uint64) (*trade.Trade, error)
	TradingState(ctx context.Context) (trade.TradingState, error)
}

// resolveQuantity implements the shared balance-to-quantity derivation
// (spec.md §4.4 "Balance-to-quantity derivation"):
//
//	balance_usd = balance_sats * market_price / SATS_PER_BTC
//	target_usd  = balance_usd * balance_pct / 100
//	quantity    = floor(target_usd)
func resolveQuantity(balanceSats uint64, marketPrice numeric.Price, balancePct numeric.PercentageCapped) (numeric.Quantity, error) {
	return numeric.QuantityFromBalancePerc(balanceSats, marketPrice, balancePct)
}

// resolveRiskParams turns a RiskParams + side + fill price into absolute
// stoploss/takeprofit prices and an optional TSL config (spec.md §4.4
// "Risk-parameter resolution").
func resolveRiskParams(side trade.Side, price numeric.Price, risk RiskParams, tslStepFloor numeric.PercentageCapped) (stoploss, takeprofit numeric.Price, tsl *trade.TrailingStoploss, err error) {
	if side == trade.Long {
		stoploss = price.ApplyDiscount(risk.StoplossPct)
		takeprofit = price.ApplyGain(risk.TakeprofitPct)
	} else {
		stoploss = price.ApplyGain(risk.StoplossPct)
		takeprofit = price.ApplyDiscount(risk.TakeprofitPct)
	}

	if risk.StoplossMode == StoplossTrailingStep {
		if risk.StepPct.Value() < tslStepFloor.Value() {
			return numeric.Price{}, numeric.Price{}, nil, fmt.Errorf("resolve risk params: %w", tradeerr.ErrStoplossModeTrailingBelowStepSize)
		}
		tsl = &trade.TrailingStoploss{StepPct: risk.StepPct}
	}

	return stoploss, takeprofit, tsl, nil
}
