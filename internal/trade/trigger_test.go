package trade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemosr/tradeloop/internal/numeric"
)

func mustPrice(t *testing.T, v float64) numeric.Price {
	t.Helper()
	p, err := numeric.NewPrice(v)
	require.NoError(t, err)
	return p
}

func TestPriceTriggerIntersectsNarrows(t *testing.T) {
	entry := mustPrice(t, 100_000)
	liq := mustPrice(t, 50_000)
	sl := mustPrice(t, 98_000)
	tp := mustPrice(t, 110_000)

	long := &Trade{
		ID: "1", Side: Long, CreatedAt: time.Now(), Status: StatusRunning,
		EntryPrice: entry, Liquidation: liq, Stoploss: &sl, Takeprofit: &tp,
		Quantity: mustQuantity(t, 100), Margin: mustMargin(t, 100_000), Leverage: mustLeverage(t, 1),
	}

	trig := NewPriceTrigger()
	require.NoError(t, trig.Update(long))
	min, max, ok := trig.Bounds()
	require.True(t, ok)
	assert.Equal(t, sl.Float64(), min.Float64())
	assert.Equal(t, tp.Float64(), max.Float64())

	// A second, tighter trade narrows the window further.
	sl2 := mustPrice(t, 99_000)
	tp2 := mustPrice(t, 105_000)
	long2 := &Trade{
		ID: "2", Side: Long, CreatedAt: time.Now(), Status: StatusRunning,
		EntryPrice: entry, Liquidation: liq, Stoploss: &sl2, Takeprofit: &tp2,
		Quantity: mustQuantity(t, 100), Margin: mustMargin(t, 100_000), Leverage: mustLeverage(t, 1),
	}
	require.NoError(t, trig.Update(long2))
	min, max, _ = trig.Bounds()
	assert.Equal(t, sl2.Float64(), min.Float64(), "narrower SL should win")
	assert.Equal(t, tp2.Float64(), max.Float64(), "narrower TP should win")
}

func TestPriceTriggerWasReachedNoSpuriousWakeup(t *testing.T) {
	entry := mustPrice(t, 100_000)
	liq := mustPrice(t, 50_000)
	sl := mustPrice(t, 98_000)
	tp := mustPrice(t, 110_000)
	long := &Trade{
		ID: "1", Side: Long, CreatedAt: time.Now(), Status: StatusRunning,
		EntryPrice: entry, Liquidation: liq, Stoploss: &sl, Takeprofit: &tp,
		Quantity: mustQuantity(t, 100), Margin: mustMargin(t, 100_000), Leverage: mustLeverage(t, 1),
	}
	trig := NewPriceTrigger()
	require.NoError(t, trig.Update(long))

	assert.False(t, trig.WasReached(mustPrice(t, 100_000)))
	assert.True(t, trig.WasReached(sl))
	assert.True(t, trig.WasReached(tp))
}

func mustQuantity(t *testing.T, v uint64) numeric.Quantity {
	t.Helper()
	q, err := numeric.NewQuantity(v)
	require.NoError(t, err)
	return q
}

func mustMargin(t *testing.T, v uint64) numeric.Margin {
	t.Helper()
	m, err := numeric.NewMargin(v)
	require.NoError(t, err)
	return m
}

func mustLeverage(t *testing.T, v float64) numeric.Leverage {
	t.Helper()
	l, err := numeric.NewLeverage(v)
	require.NoError(t, err)
	return l
}
