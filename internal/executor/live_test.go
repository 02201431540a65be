package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemosr/tradeloop/internal/store"
	"github.com/flemosr/tradeloop/internal/tradeerr"
	"github.com/flemosr/tradeloop/internal/venue"
)

func newLiveFixture(t *testing.T) (*store.Memory, *venue.Paper) {
	t.Helper()
	ms := store.NewMemory()
	ms.IngestTick(time.Now().Add(-time.Minute), mustPrice(t, 100_000))
	vc := venue.NewPaper(1_000_000)
	vc.SetPrice(100_000)
	return ms, vc
}

func TestLiveStartTransitionsToReady(t *testing.T) {
	ms, vc := newLiveFixture(t)
	live := NewLive(ms, vc, mustPercentageCapped(t, 1), true, 10)

	status, _ := live.Status()
	assert.Equal(t, StatusStarting, status)

	require.NoError(t, live.Start(context.Background()))
	status, reason := live.Status()
	assert.Equal(t, StatusReady, status)
	assert.Empty(t, reason)
}

func TestLiveWriteOpsRefuseWhenNotReady(t *testing.T) {
	ms, vc := newLiveFixture(t)
	live := NewLive(ms, vc, mustPercentageCapped(t, 1), true, 10)

	_, err := live.OpenLong(context.Background(), fixedRisk(t, 2, 5), mustPercentageCapped(t, 5), mustLeverage(t, 1))
	assert.ErrorIs(t, err, tradeerr.ErrManagerNotReady)
}

func TestLiveOpenLongRegistersAgainstVenue(t *testing.T) {
	ms, vc := newLiveFixture(t)
	live := NewLive(ms, vc, mustPercentageCapped(t, 1), true, 10)
	require.NoError(t, live.Start(context.Background()))

	tr, err := live.OpenLong(context.Background(), fixedRisk(t, 2, 5), mustPercentageCapped(t, 5), mustLeverage(t, 1))
	require.NoError(t, err)

	venueTrades, err := vc.GetTradesRunning(context.Background())
	require.NoError(t, err)
	require.Len(t, venueTrades, 1)
	assert.Equal(t, tr.ID, venueTrades[0].ID)

	state, err := live.TradingState(context.Background())
	require.NoError(t, err)
	assert.Len(t, state.Running, 1)
}

func TestLiveCloseTradeRejectsUnknownID(t *testing.T) {
	ms, vc := newLiveFixture(t)
	live := NewLive(ms, vc, mustPercentageCapped(t, 1), true, 10)
	require.NoError(t, live.Start(context.Background()))

	_, err := live.CloseTrade(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, tradeerr.ErrTradeNotRunning)
}

func TestLiveCloseTradeClosesOnVenueAndLocally(t *testing.T) {
	ms, vc := newLiveFixture(t)
	live := NewLive(ms, vc, mustPercentageCapped(t, 1), true, 10)
	require.NoError(t, live.Start(context.Background()))

	tr, err := live.OpenLong(context.Background(), fixedRisk(t, 2, 5), mustPercentageCapped(t, 5), mustLeverage(t, 1))
	require.NoError(t, err)

	closed, err := live.CloseTrade(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.ID, closed.ID)

	venueTrades, err := vc.GetTradesRunning(context.Background())
	require.NoError(t, err)
	assert.Empty(t, venueTrades)

	state, err := live.TradingState(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state.Running)
}

func TestLiveShutdownSequence(t *testing.T) {
	ms, vc := newLiveFixture(t)
	live := NewLive(ms, vc, mustPercentageCapped(t, 1), true, 10)
	require.NoError(t, live.Start(context.Background()))

	live.ShutdownInitiated()
	status, _ := live.Status()
	assert.Equal(t, StatusShutdownInitiated, status)

	_, err := live.OpenLong(context.Background(), fixedRisk(t, 2, 5), mustPercentageCapped(t, 5), mustLeverage(t, 1))
	assert.ErrorIs(t, err, tradeerr.ErrManagerNotReady)

	live.Shutdown()
	status, _ = live.Status()
	assert.Equal(t, StatusShutdown, status)
}

func TestLiveReevaluateNoOpWhenTriggerNotReached(t *testing.T) {
	ms, vc := newLiveFixture(t)
	live := NewLive(ms, vc, mustPercentageCapped(t, 1), true, 10)
	require.NoError(t, live.Start(context.Background()))

	ms.IngestTick(time.Now(), mustPrice(t, 100_500))

	closed, err := live.Reevaluate(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, closed)
}
