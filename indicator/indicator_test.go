package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/types"
)

func barsFromCloses(closes []float64) []types.Bar {
	bars := make([]types.Bar, len(closes))
	t := time.Unix(0, 0)
	prev := closes[0]
	for i, c := range closes {
		high := c
		low := c
		if c > prev {
			high = c + 0.1
		} else {
			low = c - 0.1
		}
		bars[i] = types.Bar{
			Timestamp: t.Add(time.Duration(i) * time.Minute),
			Open:      prev,
			High:      high,
			Low:       low,
			Close:     c,
			Volume:    100,
		}
		prev = c
	}
	return bars
}

func TestSMA_InsufficientBars(t *testing.T) {
	bars := barsFromCloses([]float64{1, 2, 3})
	assert.Equal(t, 0.0, SMA(bars, 5))
}

func TestSMA_Basic(t *testing.T) {
	bars := barsFromCloses([]float64{1, 2, 3, 4, 5})
	assert.Equal(t, 3.0, SMA(bars, 5))
	assert.InDelta(t, 4.5, SMA(bars, 2), 1e-9)
}

func TestATR_InsufficientBars(t *testing.T) {
	bars := barsFromCloses([]float64{1, 2})
	assert.Equal(t, 0.0, ATR(bars, 5))
}

func TestATR_Positive(t *testing.T) {
	bars := barsFromCloses([]float64{100, 101, 99, 102, 98, 103, 97, 104, 96, 105, 95})
	atr := ATR(bars, 10)
	assert.Greater(t, atr, 0.0)
}

func TestADX_InsufficientBars_ReturnsZero(t *testing.T) {
	bars := barsFromCloses(make([]float64, 10))
	result := ADX(bars, 14)
	assert.Equal(t, ADXResult{}, result)
}

func TestADX_StrongUptrendProducesHighADX(t *testing.T) {
	closes := make([]float64, 60)
	price := 100.0
	for i := range closes {
		price += 1.0
		closes[i] = price
	}
	bars := barsFromCloses(closes)
	result := ADX(bars, 14)
	require.Greater(t, result.ADX, 25.0, "a clean sustained uptrend should register as strongly trending")
	assert.Greater(t, result.PlusDI, result.MinusDI)
}

func TestADX_ChoppyMarketProducesLowADX(t *testing.T) {
	closes := make([]float64, 60)
	price := 100.0
	for i := range closes {
		if i%2 == 0 {
			price += 0.5
		} else {
			price -= 0.5
		}
		closes[i] = price
	}
	bars := barsFromCloses(closes)
	result := ADX(bars, 14)
	assert.Less(t, result.ADX, 25.0)
}

func TestDetectFVG_Bullish(t *testing.T) {
	bars := []types.Bar{
		{High: 10, Low: 9},
		{High: 11, Low: 10},
		{High: 14, Low: 13}, // low[2]=13 > high[0]=10 -> bullish gap
	}
	gaps := DetectFVG(bars)
	require.Len(t, gaps, 1)
	assert.True(t, gaps[0].Bullish)
	assert.Equal(t, 2, gaps[0].Index)
	assert.InDelta(t, 3.0, gaps[0].GapSize, 1e-9)
}

func TestDetectFVG_Bearish(t *testing.T) {
	bars := []types.Bar{
		{High: 20, Low: 18},
		{High: 17, Low: 16},
		{High: 13, Low: 12}, // high[2]=13 < low[0]=18 -> bearish gap
	}
	gaps := DetectFVG(bars)
	require.Len(t, gaps, 1)
	assert.False(t, gaps[0].Bullish)
}

func TestDetectFVG_NoGap(t *testing.T) {
	bars := []types.Bar{
		{High: 10, Low: 9},
		{High: 11, Low: 10},
		{High: 12, Low: 9.5},
	}
	assert.Empty(t, DetectFVG(bars))
}

func TestVolatilityDisconnect_InsufficientBars(t *testing.T) {
	bars := barsFromCloses(make([]float64, 10))
	result := VolatilityDisconnect(bars, 20, 100)
	assert.Equal(t, VolatilityDisconnectResult{}, result)
}

func TestVolatilityDisconnect_BurstDetected(t *testing.T) {
	closes := make([]float64, 130)
	price := 100.0
	for i := 0; i < 100; i++ {
		// calm baseline: tiny oscillation
		if i%2 == 0 {
			price += 0.05
		} else {
			price -= 0.05
		}
		closes[i] = price
	}
	for i := 100; i < 130; i++ {
		// volatile burst: large oscillation
		if i%2 == 0 {
			price += 3
		} else {
			price -= 3
		}
		closes[i] = price
	}
	bars := barsFromCloses(closes)
	result := VolatilityDisconnect(bars, 20, 100)
	assert.True(t, result.IsBurst)
	assert.Greater(t, result.Ratio, 2.0)
}

func TestVolatilityDisconnect_BaselineZero_NoBurst(t *testing.T) {
	closes := make([]float64, 121)
	for i := range closes {
		closes[i] = 100 // flat: zero stdev everywhere
	}
	bars := barsFromCloses(closes)
	result := VolatilityDisconnect(bars, 20, 100)
	assert.False(t, result.IsBurst)
	assert.Equal(t, 0.0, result.Ratio)
}
