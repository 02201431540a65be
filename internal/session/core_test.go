package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemosr/tradeloop/internal/numeric"
	"github.com/flemosr/tradeloop/internal/trade"
	"github.com/flemosr/tradeloop/internal/tradeerr"
)

func mustPrice(t *testing.T, v float64) numeric.Price {
	t.Helper()
	p, err := numeric.NewPrice(v)
	require.NoError(t, err)
	return p
}

func mustPercentageCapped(t *testing.T, v float64) numeric.PercentageCapped {
	t.Helper()
	p, err := numeric.NewPercentageCapped(v)
	require.NoError(t, err)
	return p
}

func runningLong(id string, entry, liq, sl, tp numeric.Price, margin, openingFee uint64, createdAt time.Time) *trade.Trade {
	q, _ := numeric.NewQuantity(1000)
	m, _ := numeric.NewMargin(margin)
	l, _ := numeric.NewLeverage(2)
	return &trade.Trade{
		ID: id, Side: trade.Long, CreatedAt: createdAt, Status: trade.StatusRunning,
		Quantity: q, Margin: m, Leverage: l,
		EntryPrice: entry, PLBasisPrice: entry, Liquidation: liq, Stoploss: &sl, Takeprofit: &tp,
		OpeningFee: openingFee,
	}
}

func TestCoreRegisterRunningTradeDebitsBalance(t *testing.T) {
	c := NewCore(1_000_000, mustPercentageCapped(t, 1))
	tr := runningLong("t1", mustPrice(t, 100_000), mustPrice(t, 50_000), mustPrice(t, 95_000), mustPrice(t, 120_000), 100_000, 500, time.Now())
	tr.MaintenanceMargin = 200

	require.NoError(t, c.RegisterRunningTrade(tr, nil, true))

	assert.Equal(t, uint64(1_000_000-100_000-200-500), c.Balance())
	assert.Equal(t, 1, c.Running().Len())
	assert.True(t, c.Trigger().IsSet())
}

func TestCoreRegisterRunningTradeRejectsNonRunning(t *testing.T) {
	c := NewCore(1_000_000, mustPercentageCapped(t, 1))
	tr := runningLong("t1", mustPrice(t, 100_000), mustPrice(t, 50_000), mustPrice(t, 95_000), mustPrice(t, 120_000), 100_000, 0, time.Now())
	tr.Status = trade.StatusOpen

	err := c.RegisterRunningTrade(tr, nil, true)
	assert.ErrorIs(t, err, tradeerr.ErrUpdatedTradesNotRunning)
}

func TestCoreRegisterRunningTradeRejectsDuplicateID(t *testing.T) {
	c := NewCore(1_000_000, mustPercentageCapped(t, 1))
	tr := runningLong("t1", mustPrice(t, 100_000), mustPrice(t, 50_000), mustPrice(t, 95_000), mustPrice(t, 120_000), 100_000, 0, time.Now())
	require.NoError(t, c.RegisterRunningTrade(tr, nil, true))

	dup := runningLong("t1", mustPrice(t, 100_000), mustPrice(t, 50_000), mustPrice(t, 95_000), mustPrice(t, 120_000), 50_000, 0, time.Now())
	err := c.RegisterRunningTrade(dup, nil, true)
	assert.ErrorIs(t, err, tradeerr.ErrTradeAlreadyRegistered)
}

func TestCoreCloseTradesAppliesPLAndFees(t *testing.T) {
	c := NewCore(1_000_000, mustPercentageCapped(t, 1))
	entry := mustPrice(t, 100_000)
	tr := runningLong("t1", entry, mustPrice(t, 50_000), mustPrice(t, 95_000), mustPrice(t, 120_000), 100_000, 500, time.Now())
	tr.MaintenanceMargin = 200
	require.NoError(t, c.RegisterRunningTrade(tr, nil, true))

	balanceAfterOpen := c.Balance()

	closedAt := time.Now().Add(time.Minute)
	exit := mustPrice(t, 110_000)
	closed := *tr
	closed.Status = trade.StatusClosed
	closed.ClosedAt = &closedAt
	closed.ExitPrice = &exit
	closed.ClosingFee = 300
	closed.PL = 9090

	require.NoError(t, c.CloseTrades([]*trade.Trade{&closed}))

	expectedBalance := balanceAfterOpen + tr.Margin.Uint64() + tr.MaintenanceMargin + uint64(closed.PL) - closed.ClosingFee
	assert.Equal(t, expectedBalance, c.Balance())
	assert.Equal(t, int64(9090), c.RealizedPL())
	assert.Equal(t, 0, c.Running().Len())
	assert.False(t, c.Trigger().IsSet(), "trigger must clear once no trades remain")
}

func TestCoreCloseTradesRejectsUnregisteredID(t *testing.T) {
	c := NewCore(1_000_000, mustPercentageCapped(t, 1))
	closedAt := time.Now()
	ghost := &trade.Trade{ID: "ghost", Status: trade.StatusClosed, ClosedAt: &closedAt}
	err := c.CloseTrades([]*trade.Trade{ghost})
	assert.ErrorIs(t, err, tradeerr.ErrUnexpectedClosedTrade)
}

func TestCoreUpdateRunningTradesPreservesTSLAndRebuildsTrigger(t *testing.T) {
	c := NewCore(1_000_000, mustPercentageCapped(t, 1))
	entry := mustPrice(t, 100_000)
	sl := mustPrice(t, 95_000)
	tr := runningLong("t1", entry, mustPrice(t, 50_000), sl, mustPrice(t, 120_000), 100_000, 0, time.Now())
	tsl := &trade.TrailingStoploss{StepPct: mustPercentageCapped(t, 2)}
	require.NoError(t, c.RegisterRunningTrade(tr, tsl, true))

	newSL := mustPrice(t, 97_000)
	updated := *tr
	updated.Stoploss = &newSL

	require.NoError(t, c.UpdateRunningTrades(map[string]*trade.Trade{"t1": &updated}))

	_, gotTSL, ok := c.Running().Get("t1")
	require.True(t, ok)
	require.NotNil(t, gotTSL)
	assert.Equal(t, tsl.StepPct.Value(), gotTSL.StepPct.Value())

	min, _, ok := c.Trigger().Bounds()
	require.True(t, ok)
	assert.Equal(t, newSL.Float64(), min.Float64())
}

func TestCoreSeedFromCarriesAccountingNotRunningState(t *testing.T) {
	prev := NewCore(1_000_000, mustPercentageCapped(t, 1))
	tr := runningLong("t1", mustPrice(t, 100_000), mustPrice(t, 50_000), mustPrice(t, 95_000), mustPrice(t, 120_000), 100_000, 0, time.Now())
	require.NoError(t, prev.RegisterRunningTrade(tr, nil, true))

	closedAt := time.Now()
	exit := mustPrice(t, 110_000)
	closed := *tr
	closed.Status = trade.StatusClosed
	closed.ClosedAt = &closedAt
	closed.ExitPrice = &exit
	closed.PL = 500
	require.NoError(t, prev.CloseTrades([]*trade.Trade{&closed}))

	next := NewCore(2_000_000, mustPercentageCapped(t, 1))
	next.seedFrom(prev)

	assert.Equal(t, prev.RealizedPL(), next.RealizedPL())
	assert.Equal(t, uint64(2_000_000), next.Balance(), "balance is not carried over by seedFrom")
	assert.Equal(t, 0, next.Running().Len(), "running map is not carried over by seedFrom")
}
