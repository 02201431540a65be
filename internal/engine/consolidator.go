package engine

import (
	"sync"
	"time"

	"github.com/flemosr/tradeloop/internal/trade"
)

// Consolidator is a running buffer that derives higher-resolution candles
// from the underlying 1-minute candle stream, one resolution bucket at a
// time, without ever re-querying the store (spec.md §2 Glossary
// "Consolidator"; §4.5 step 4's "MultiResolutionConsolidator built from the
// operator's declared (resolution -> max period) map"). The backtest and
// live engines build one from a ConsolidatedOperator's Resolutions() and
// push every minute candle into it alongside candle_update.
type Consolidator struct {
	mu        sync.Mutex
	maxPeriod map[time.Duration]int
	bars      map[time.Duration][]trade.Candle // oldest first, capped at maxPeriod
}

// NewConsolidator builds a Consolidator for the given (resolution -> max
// period bars) map. A nil/empty map, or entries with a non-positive
// resolution/period, are simply ignored, yielding a Consolidator that
// never buffers anything for that resolution.
func NewConsolidator(resolutionToMaxPeriod map[time.Duration]int) *Consolidator {
	maxPeriod := make(map[time.Duration]int, len(resolutionToMaxPeriod))
	for res, period := range resolutionToMaxPeriod {
		if res > 0 && period > 0 {
			maxPeriod[res] = period
		}
	}
	return &Consolidator{maxPeriod: maxPeriod, bars: make(map[time.Duration][]trade.Candle, len(maxPeriod))}
}

// Push folds a single 1-minute candle into every declared resolution's
// bucket: it merges into the open bucket if the candle still falls inside
// it, or closes the open bucket and starts a new one otherwise, dropping
// the oldest bar once the declared period is exceeded.
func (c *Consolidator) Push(candle trade.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for res, period := range c.maxPeriod {
		bucketStart := candle.Time.Truncate(res)
		bars := c.bars[res]
		if n := len(bars); n > 0 && bars[n-1].Time.Equal(bucketStart) {
			b := &bars[n-1]
			if candle.High > b.High {
				b.High = candle.High
			}
			if candle.Low < b.Low {
				b.Low = candle.Low
			}
			b.Close = candle.Close
			b.Volume += candle.Volume
			continue
		}
		bars = append(bars, trade.Candle{
			Time: bucketStart, Open: candle.Open, High: candle.High,
			Low: candle.Low, Close: candle.Close, Volume: candle.Volume,
		})
		if len(bars) > period {
			bars = bars[len(bars)-period:]
		}
		c.bars[res] = bars
	}
}

// Candles returns a copy of the buffered bars at resolution, oldest first.
// It returns nil for a resolution the Consolidator wasn't built with.
func (c *Consolidator) Candles(resolution time.Duration) []trade.Candle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.maxPeriod[resolution]; !ok {
		return nil
	}
	bars := c.bars[resolution]
	out := make([]trade.Candle, len(bars))
	copy(out, bars)
	return out
}
