package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flemosr/tradeloop/internal/trade"
)

func TestConsolidatorMergesIntoResolutionBuckets(t *testing.T) {
	c := NewConsolidator(map[time.Duration]int{5 * time.Minute: 3})
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		c.Push(trade.Candle{
			Time: start.Add(time.Duration(i) * time.Minute),
			Open: 100 + float64(i), High: 110 + float64(i), Low: 90 - float64(i),
			Close: 105 + float64(i), Volume: 1,
		})
	}

	bars := c.Candles(5 * time.Minute)
	if assert.Len(t, bars, 1) {
		b := bars[0]
		assert.Equal(t, start, b.Time)
		assert.Equal(t, 100.0, b.Open)
		assert.Equal(t, 114.0, b.High)
		assert.Equal(t, 86.0, b.Low)
		assert.Equal(t, 109.0, b.Close)
		assert.Equal(t, 5.0, b.Volume)
	}
}

func TestConsolidatorDropsOldestBarPastMaxPeriod(t *testing.T) {
	c := NewConsolidator(map[time.Duration]int{time.Hour: 2})
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		c.Push(trade.Candle{Time: start.Add(time.Duration(i) * time.Hour), Open: 1, High: 1, Low: 1, Close: 1, Volume: 1})
	}

	bars := c.Candles(time.Hour)
	assert.Len(t, bars, 2)
	assert.Equal(t, start.Add(time.Hour), bars[0].Time)
	assert.Equal(t, start.Add(2*time.Hour), bars[1].Time)
}

func TestConsolidatorUnknownResolutionReturnsNil(t *testing.T) {
	c := NewConsolidator(map[time.Duration]int{time.Hour: 2})
	assert.Nil(t, c.Candles(time.Minute))
}
