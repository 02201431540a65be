// Reference Operator implementation. Strategy authoring is explicitly out
// of this module's scope; this file exists only so cmd/engine has something
// concrete to wire up and demonstrate the engine against. Adapted from the
// teacher's strategy.go decide() (MA10/MA30 regime filter), generalized from
// a spot buy/sell/flat signal to the leveraged long/short/flat Operator
// interface.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/flemosr/tradeloop/internal/executor"
	"github.com/flemosr/tradeloop/internal/numeric"
	"github.com/flemosr/tradeloop/internal/trade"
	"github.com/rs/zerolog"
)

// maCrossoverOperator opens a long when the short moving average crosses
// above the long one, a short on the reverse cross, and otherwise stays
// flat. It holds at most one running trade at a time.
type maCrossoverOperator struct {
	shortPeriod int
	longPeriod  int

	balancePct numeric.PercentageCapped
	leverage   numeric.Leverage
	stoploss   numeric.Percentage
	takeprofit numeric.Percentage

	log zerolog.Logger

	ex        executor.TradeExecutor
	runningID string
}

func newMACrossoverOperator(log zerolog.Logger) *maCrossoverOperator {
	balancePct, err := numeric.NewPercentageCapped(10)
	if err != nil {
		panic(err)
	}
	leverage, err := numeric.NewLeverage(2)
	if err != nil {
		panic(err)
	}
	stoploss, err := numeric.NewPercentage(2)
	if err != nil {
		panic(err)
	}
	takeprofit, err := numeric.NewPercentage(4)
	if err != nil {
		panic(err)
	}

	return &maCrossoverOperator{
		shortPeriod: 10,
		longPeriod:  30,
		balancePct:  balancePct,
		leverage:    leverage,
		stoploss:    stoploss,
		takeprofit:  takeprofit,
		log:         log,
	}
}

func (o *maCrossoverOperator) MinIterationInterval() time.Duration { return time.Minute }
func (o *maCrossoverOperator) Lookback() time.Duration             { return time.Duration(o.longPeriod+1) * time.Minute }

func (o *maCrossoverOperator) SetTradeExecutor(ex executor.TradeExecutor) {
	o.ex = ex
}

func (o *maCrossoverOperator) Iterate(ctx context.Context, now time.Time, candles []trade.Candle) error {
	if o.ex == nil {
		return fmt.Errorf("strategy: iterate called before SetTradeExecutor")
	}
	if len(candles) < o.longPeriod+1 {
		return nil
	}

	prevShort := movingAverage(candles[:len(candles)-1], o.shortPeriod)
	prevLong := movingAverage(candles[:len(candles)-1], o.longPeriod)
	curShort := movingAverage(candles, o.shortPeriod)
	curLong := movingAverage(candles, o.longPeriod)

	crossedUp := prevShort <= prevLong && curShort > curLong
	crossedDown := prevShort >= prevLong && curShort < curLong

	state, err := o.ex.TradingState(ctx)
	if err != nil {
		return fmt.Errorf("strategy: trading state: %w", err)
	}

	switch {
	case crossedUp && len(state.Running) == 0:
		o.log.Info().Time("at", now).Msg("ma crossover: opening long")
		_, err = o.ex.OpenLong(ctx, o.riskParams(), o.balancePct, o.leverage)
	case crossedDown && len(state.Running) == 0:
		o.log.Info().Time("at", now).Msg("ma crossover: opening short")
		_, err = o.ex.OpenShort(ctx, o.riskParams(), o.balancePct, o.leverage)
	case (crossedDown || crossedUp) && len(state.Running) > 0:
		o.log.Info().Time("at", now).Msg("ma crossover: reversing, closing all")
		_, err = o.ex.CloseAll(ctx)
	}
	if err != nil {
		return fmt.Errorf("strategy: iterate: %w", err)
	}
	return nil
}

func (o *maCrossoverOperator) riskParams() executor.RiskParams {
	return executor.RiskParams{
		StoplossPct:   o.stoploss,
		StoplossMode:  executor.StoplossFixed,
		TakeprofitPct: o.takeprofit,
	}
}

func movingAverage(candles []trade.Candle, period int) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}
	window := candles[len(candles)-period:]
	var sum float64
	for _, c := range window {
		sum += c.Close
	}
	return sum / float64(period)
}
