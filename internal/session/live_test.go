package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemosr/tradeloop/internal/numeric"
	"github.com/flemosr/tradeloop/internal/store"
	"github.com/flemosr/tradeloop/internal/trade"
	"github.com/flemosr/tradeloop/internal/venue"
)

func TestComputeExpiresAt(t *testing.T) {
	early := time.Date(2026, 1, 1, 10, 3, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC), computeExpiresAt(early))

	late := time.Date(2026, 1, 1, 10, 40, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 1, 11, 5, 0, 0, time.UTC), computeExpiresAt(late))
}

func newFixture(t *testing.T) (*store.Memory, *venue.Paper) {
	t.Helper()
	ms := store.NewMemory()
	ms.IngestTick(time.Now().Add(-time.Minute), mustPrice(t, 100_000))
	vc := venue.NewPaper(1_000_000)
	vc.SetPrice(100_000)
	return ms, vc
}

func TestNewLiveSessionFreshConstruction(t *testing.T) {
	ms, vc := newFixture(t)

	sess, err := NewLiveSession(context.Background(), true, mustPercentageCapped(t, 1), ms, vc, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), sess.Balance())
	assert.Equal(t, 0, sess.Running().Len())
}

func TestNewLiveSessionRecoversRunningTradesFromVenue(t *testing.T) {
	ms, vc := newFixture(t)

	tr, err := vc.CreateNewTrade(context.Background(), trade.Long, mustQuantity(t, 1000), mustLeverage(t, 2), venue.ExecutionParams{}, "")
	require.NoError(t, err)
	require.NoError(t, ms.RegisterTrade(context.Background(), tr.ID, nil))

	sess, err := NewLiveSession(context.Background(), true, mustPercentageCapped(t, 1), ms, vc, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, sess.Running().Len())
	got, _, ok := sess.Running().Get(tr.ID)
	require.True(t, ok)
	assert.Equal(t, tr.ID, got.ID)
	// Recovery at startup never re-debits balance already accounted venue-side.
	assert.Equal(t, uint64(1_000_000), sess.Balance())
}

func TestLiveSessionReevaluateNoOpWhenTriggerNotReached(t *testing.T) {
	ms, vc := newFixture(t)
	sess, err := NewLiveSession(context.Background(), true, mustPercentageCapped(t, 1), ms, vc, nil)
	require.NoError(t, err)

	ms.IngestTick(time.Now(), mustPrice(t, 100_500))

	closed, err := sess.Reevaluate(context.Background(), ms, vc)
	require.NoError(t, err)
	assert.Empty(t, closed)
}

func TestLiveSessionReevaluateConfirmsTerminalClose(t *testing.T) {
	ms, vc := newFixture(t)

	tr, err := vc.CreateNewTrade(context.Background(), trade.Long, mustQuantity(t, 1000), mustLeverage(t, 2), venue.ExecutionParams{}, "")
	require.NoError(t, err)
	sl := numeric.RoundPrice(95_000)
	_, err = vc.UpdateTradeStoploss(context.Background(), tr.ID, sl)
	require.NoError(t, err)
	require.NoError(t, ms.RegisterTrade(context.Background(), tr.ID, nil))

	sess, err := NewLiveSession(context.Background(), true, mustPercentageCapped(t, 1), ms, vc, nil)
	require.NoError(t, err)
	require.Equal(t, 1, sess.Running().Len())

	// Price crashes through the stoploss. A real venue would execute the SL
	// itself; simulate that here, then feed the crashed price through the
	// store so Reevaluate's fast-path trigger fires and confirms the close.
	vc.SetPrice(90_000)
	_, err = vc.CloseTrade(context.Background(), tr.ID)
	require.NoError(t, err)
	ms.IngestTick(time.Now(), numeric.RoundPrice(90_000))

	closed, err := sess.Reevaluate(context.Background(), ms, vc)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, tr.ID, closed[0].ID)
	assert.Equal(t, 0, sess.Running().Len())
}

func mustQuantity(t *testing.T, v uint64) numeric.Quantity {
	t.Helper()
	q, err := numeric.NewQuantity(v)
	require.NoError(t, err)
	return q
}

func mustLeverage(t *testing.T, v float64) numeric.Leverage {
	t.Helper()
	l, err := numeric.NewLeverage(v)
	require.NoError(t, err)
	return l
}
