package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flemosr/tradeloop/internal/numeric"
	"github.com/flemosr/tradeloop/internal/trade"
	"github.com/flemosr/tradeloop/internal/tradeerr"
)

// Memory is an in-memory MarketStore: candles and settlements are held in
// sorted slices and price ticks in arrival order, behind a single mutex. Writes (candle/tick
// ingestion) are appended transactionally so readers never observe partial
// history, mirroring the teacher's loadCSV-then-sort loading idiom.
type Memory struct {
	mu sync.RWMutex

	candles     []trade.Candle
	ticks       []tickEntry
	settlements []trade.FundingSettlement

	runningConfigs map[string]*trade.TrailingStoploss
}

type tickEntry struct {
	time  time.Time
	price numeric.Price
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{runningConfigs: make(map[string]*trade.TrailingStoploss)}
}

// IngestCandles appends candles and keeps the buffer sorted by time. Safe to
// call repeatedly as new data arrives (the sync subsystem's job).
func (m *Memory) IngestCandles(candles []trade.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles = append(m.candles, candles...)
	sort.Slice(m.candles, func(i, j int) bool { return m.candles[i].Time.Before(m.candles[j].Time) })
}

// IngestTick appends a single price observation.
func (m *Memory) IngestTick(t time.Time, price numeric.Price) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks = append(m.ticks, tickEntry{time: t, price: price})
}

// IngestSettlements appends funding settlements, kept sorted by time.
func (m *Memory) IngestSettlements(settlements []trade.FundingSettlement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settlements = append(m.settlements, settlements...)
	sort.Slice(m.settlements, func(i, j int) bool { return m.settlements[i].Time.Before(m.settlements[j].Time) })
}

func (m *Memory) LatestEntry(ctx context.Context) (time.Time, numeric.Price, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.ticks) == 0 {
		return time.Time{}, numeric.Price{}, tradeerr.ErrDbIsEmpty
	}
	last := m.ticks[len(m.ticks)-1]
	return last.time, last.price, nil
}

func (m *Memory) PriceRangeFrom(ctx context.Context, since time.Time) (min, max numeric.Price, lastTime time.Time, lastPrice numeric.Price, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.ticks) == 0 {
		return numeric.Price{}, numeric.Price{}, time.Time{}, numeric.Price{}, tradeerr.ErrDbIsEmpty
	}
	first := true
	for _, tick := range m.ticks {
		if tick.time.Before(since) {
			continue
		}
		if first {
			min, max = tick.price, tick.price
			first = false
		} else {
			if tick.price.Less(min) {
				min = tick.price
			}
			if tick.price.Greater(max) {
				max = tick.price
			}
		}
		lastTime, lastPrice = tick.time, tick.price
	}
	if first {
		// No ticks since `since`: fall back to the latest known observation.
		last := m.ticks[len(m.ticks)-1]
		return last.price, last.price, last.time, last.price, nil
	}
	return min, max, lastTime, lastPrice, nil
}

func (m *Memory) GetCandles(ctx context.Context, from, to time.Time) ([]trade.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []trade.Candle
	for _, c := range m.candles {
		if c.Time.Before(from) || c.Time.After(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// GetCandlesConsolidated derives resolution-bucketed OHLC rows from the
// 1-minute candle stream between from and to. Fails with
// ErrPriceHistoryUnavailable if the 1-minute source doesn't fully cover the
// requested window.
func (m *Memory) GetCandlesConsolidated(ctx context.Context, from, to time.Time, resolution time.Duration) ([]trade.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.candles) == 0 || m.candles[0].Time.After(from) || m.candles[len(m.candles)-1].Time.Before(to) {
		return nil, tradeerr.ErrPriceHistoryUnavailable
	}

	buckets := make(map[int64]*trade.Candle)
	var order []int64
	for _, c := range m.candles {
		if c.Time.Before(from) || c.Time.After(to) {
			continue
		}
		bucketStart := c.Time.Truncate(resolution).Unix()
		b, ok := buckets[bucketStart]
		if !ok {
			cp := c
			cp.Time = time.Unix(bucketStart, 0).UTC()
			buckets[bucketStart] = &cp
			order = append(order, bucketStart)
			continue
		}
		if c.High > b.High {
			b.High = c.High
		}
		if c.Low < b.Low {
			b.Low = c.Low
		}
		b.Close = c.Close
		b.Volume += c.Volume
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]trade.Candle, 0, len(order))
	for _, key := range order {
		out = append(out, *buckets[key])
	}
	return out, nil
}

func (m *Memory) GetSettlements(ctx context.Context, from, to time.Time) ([]trade.FundingSettlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []trade.FundingSettlement
	for _, s := range m.settlements {
		if s.Time.Before(from) || s.Time.After(to) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *Memory) GetRunningTradesMap(ctx context.Context) ([]RunningTradeConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RunningTradeConfig, 0, len(m.runningConfigs))
	for id, tsl := range m.runningConfigs {
		out = append(out, RunningTradeConfig{ID: id, TSL: tsl})
	}
	return out, nil
}

func (m *Memory) RegisterTrade(ctx context.Context, id string, tsl *trade.TrailingStoploss) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runningConfigs[id] = tsl
	return nil
}

func (m *Memory) RemoveRunningTrades(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.runningConfigs, id)
	}
	return nil
}
