package trade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunningTradesMapUniquenessAndCounters(t *testing.T) {
	m := NewRunningTradesMap()
	entry := mustPrice(t, 100_000)
	liq := mustPrice(t, 50_000)

	longTrade := &Trade{
		ID: "a", Side: Long, CreatedAt: time.Now().Add(-time.Minute), Status: StatusRunning,
		EntryPrice: entry, Liquidation: liq,
		Quantity: mustQuantity(t, 100), Margin: mustMargin(t, 1_000), Leverage: mustLeverage(t, 1),
	}
	shortTrade := &Trade{
		ID: "b", Side: Short, CreatedAt: time.Now(), Status: StatusRunning,
		EntryPrice: entry, Liquidation: mustPrice(t, 150_000),
		Quantity: mustQuantity(t, 200), Margin: mustMargin(t, 2_000), Leverage: mustLeverage(t, 1),
	}

	require.NoError(t, m.Add(longTrade, nil))
	require.NoError(t, m.Add(shortTrade, nil))
	assert.Error(t, m.Add(longTrade, nil), "duplicate id must fail")

	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 1, m.LongLen())
	assert.Equal(t, uint64(1_000), m.LongMargin())
	assert.Equal(t, uint64(100), m.LongQuantity())
	assert.Equal(t, 1, m.ShortLen())
	assert.Equal(t, uint64(2_000), m.ShortMargin())

	desc := m.TradesDesc()
	require.Len(t, desc, 2)
	assert.Equal(t, "b", desc[0].ID, "most recently created trade comes first")

	m.Remove("a")
	assert.Equal(t, 1, m.Len())
	assert.False(t, m.Contains("a"))
}

func TestClosedTradeHistoryRejectsDuplicateInsert(t *testing.T) {
	h := NewClosedTradeHistory()
	tr := &Trade{ID: "x", Status: StatusClosed}
	require.NoError(t, h.Insert(tr))
	assert.Error(t, h.Insert(tr))
	assert.Equal(t, 1, h.Len())
}
