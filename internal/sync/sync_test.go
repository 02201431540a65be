package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemosr/tradeloop/internal/numeric"
	"github.com/flemosr/tradeloop/internal/store"
	"github.com/flemosr/tradeloop/internal/trade"
	"github.com/flemosr/tradeloop/internal/venue"
)

// fakeSource is a minimal PriceSource the tests drive directly: venue.Paper
// doesn't support PriceHistory, so backfill-mode coverage needs its own
// fake rather than the shared paper fixture.
type fakeSource struct {
	mu sync.Mutex

	points      []venue.PricePoint
	settlements []trade.FundingSettlement

	tickCalls  int
	failOnTick int // if > 0, the call with this 1-based index returns an error
	blockCh    chan struct{}
}

func (f *fakeSource) Ticker(ctx context.Context) (venue.Ticker, error) {
	f.mu.Lock()
	f.tickCalls++
	n := f.tickCalls
	f.mu.Unlock()
	if f.failOnTick > 0 && n == f.failOnTick {
		return venue.Ticker{}, errors.New("fake: ticker unavailable")
	}
	return venue.Ticker{LastPrice: mustPrice(100_000)}, nil
}

func (f *fakeSource) PriceHistory(ctx context.Context, from, to *time.Time, limit *int) ([]venue.PricePoint, error) {
	if f.blockCh != nil {
		<-f.blockCh
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.points, nil
}

func (f *fakeSource) Settlements(ctx context.Context, from, to *time.Time) ([]trade.FundingSettlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settlements, nil
}

func mustPrice(v float64) numeric.Price {
	p, err := numeric.NewPrice(v)
	if err != nil {
		panic(err)
	}
	return p
}

func fastConfig() Config {
	return Config{
		LiveTickInterval:         2 * time.Millisecond,
		ReSyncInterval:           time.Hour,
		RestartInterval:          5 * time.Millisecond,
		ShutdownTimeout:          50 * time.Millisecond,
		LivePriceTickMaxInterval: time.Hour,
		HistoryPageLimit:         300,
	}
}

func awaitStatus(t *testing.T, snapshot func() Status, want StatusKind, timeout time.Duration) Status {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s := snapshot()
		if s.Kind == want {
			return s
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("status never reached %v, last was %v", want, snapshot())
	return Status{}
}

func TestEngineBackfillReachesSyncedAndIngests(t *testing.T) {
	ms := store.NewMemory()
	src := &fakeSource{points: []venue.PricePoint{
		{Time: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Value: mustPrice(99_500)},
		{Time: time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC), Value: mustPrice(100_000)},
	}}
	e := NewEngine(fastConfig(), Backfill(), ms, src)
	ctrl := e.Start(context.Background())
	t.Cleanup(ctrl.Abort)

	awaitStatus(t, e.StatusSnapshot, StatusSynced, time.Second)

	tm, price, err := ms.LatestEntry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100_000.0, price.Float64())
	assert.Equal(t, time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC), tm)

	require.NoError(t, ctrl.Shutdown())
	assert.Equal(t, StatusShutdown, e.StatusSnapshot().Kind)
}

func TestEngineLiveNoLookbackSyncsOnFirstTick(t *testing.T) {
	ms := store.NewMemory()
	src := &fakeSource{}
	e := NewEngine(fastConfig(), LiveNoLookback(), ms, src)
	ctrl := e.Start(context.Background())
	t.Cleanup(ctrl.Abort)

	awaitStatus(t, e.StatusSnapshot, StatusSynced, time.Second)

	_, _, err := ms.LatestEntry(context.Background())
	assert.NoError(t, err)
}

func TestEngineRecoversFromTransientTickerFailure(t *testing.T) {
	ms := store.NewMemory()
	src := &fakeSource{failOnTick: 2}
	e := NewEngine(fastConfig(), LiveNoLookback(), ms, src)
	ctrl := e.Start(context.Background())
	t.Cleanup(ctrl.Abort)

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.tickCalls > 2
	}, time.Second, time.Millisecond, "the loop must poll again after the failed second call")
	awaitStatus(t, e.StatusSnapshot, StatusSynced, time.Second)
	// it recovered: eventually synced again after the single failed call restarts the loop.
}

func TestEngineSubscribeReceivesUpdates(t *testing.T) {
	ms := store.NewMemory()
	src := &fakeSource{points: []venue.PricePoint{
		{Time: time.Now(), Value: mustPrice(100_000)},
	}}
	e := NewEngine(fastConfig(), Backfill(), ms, src)
	envs, unsubscribe := e.Subscribe()
	defer unsubscribe()

	ctrl := e.Start(context.Background())
	t.Cleanup(ctrl.Abort)

	sawSynced := false
	deadline := time.After(time.Second)
	for !sawSynced {
		select {
		case env := <-envs:
			if env.Update.Kind == UpdateStatus && env.Update.Status.Kind == StatusSynced {
				sawSynced = true
			}
		case <-deadline:
			t.Fatal("never observed a Synced status update")
		}
	}
}

func TestControllerShutdownTimesOutWhenProcessBlocks(t *testing.T) {
	ms := store.NewMemory()
	src := &fakeSource{blockCh: make(chan struct{})}
	cfg := fastConfig()
	cfg.ShutdownTimeout = 10 * time.Millisecond
	e := NewEngine(cfg, Backfill(), ms, src)
	ctrl := e.Start(context.Background())
	t.Cleanup(func() { close(src.blockCh) })

	err := ctrl.Shutdown()
	assert.Error(t, err)
	assert.Equal(t, StatusTerminated, e.StatusSnapshot().Kind)
}

func TestModeLiveFeedActive(t *testing.T) {
	assert.False(t, Backfill().LiveFeedActive())
	assert.True(t, LiveNoLookback().LiveFeedActive())
	assert.True(t, LiveWithLookback(time.Hour).LiveFeedActive())
	assert.True(t, Full().LiveFeedActive())
}
