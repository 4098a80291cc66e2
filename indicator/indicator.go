// Package indicator implements the Technical Analyzer (spec §4.1): pure,
// stateless indicator math over a bar sequence. Every function is
// deterministic, side-effect-free, and safe when called with fewer bars
// than its period (it returns a zero value rather than panicking).
//
// The composition shape (a single exported entry aggregating indicator
// primitives into one result) follows the teacher pack's
// indicators.Manager.Analyze, though the primitives themselves implement
// only what spec §4.1 names — no RSI/MACD/Bollinger/Stochastic, which
// belong to a different indicator set not part of this spec.
package indicator

import (
	"math"

	"tradeengine/types"
)

// SMA returns the simple moving average of the last period closes. Returns
// 0 if there are fewer than period bars.
func SMA(bars []types.Bar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return 0
	}
	window := bars[len(bars)-period:]
	sum := 0.0
	for _, b := range window {
		sum += b.Close
	}
	return sum / float64(period)
}

// trueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func trueRange(b, prev types.Bar) float64 {
	hl := b.High - b.Low
	hc := math.Abs(b.High - prev.Close)
	lc := math.Abs(b.Low - prev.Close)
	return math.Max(hl, math.Max(hc, lc))
}

// ATR returns the simple moving average of True Range over period bars.
// Returns 0 if there are fewer than period+1 bars (True Range needs a
// previous close).
func ATR(bars []types.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}
	trs := make([]float64, 0, period)
	start := len(bars) - period
	for i := start; i < len(bars); i++ {
		trs = append(trs, trueRange(bars[i], bars[i-1]))
	}
	sum := 0.0
	for _, tr := range trs {
		sum += tr
	}
	return sum / float64(period)
}

// ADXResult holds the Wilder ADX computation's intermediate and final
// values.
type ADXResult struct {
	ADX     float64
	PlusDI  float64
	MinusDI float64
}

// wilderSmooth applies Wilder's smoothing recursion to a raw series:
// initial = sum of first period observations / period;
// subsequent = (prev*(period-1) + current) / period.
func wilderSmooth(raw []float64, period int) []float64 {
	if len(raw) < period {
		return nil
	}
	out := make([]float64, len(raw)-period+1)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += raw[i]
	}
	out[0] = sum / float64(period)
	for i := period; i < len(raw); i++ {
		out[i-period+1] = (out[i-period]*float64(period-1) + raw[i]) / float64(period)
	}
	return out
}

// ADX implements Wilder's Average Directional Index exactly as spec §4.1
// describes: +DM/-DM with the standard zero-filter, Wilder-smoothed
// +DI/-DI, DX, and a Wilder-smoothed DX for the final ADX value. Returns
// the zero ADXResult if there are fewer than 2*period bars.
func ADX(bars []types.Bar, period int) ADXResult {
	if period <= 0 || len(bars) < period*2 {
		return ADXResult{}
	}

	n := len(bars)
	plusDM := make([]float64, 0, n-1)
	minusDM := make([]float64, 0, n-1)
	trs := make([]float64, 0, n-1)

	for i := 1; i < n; i++ {
		upMove := bars[i].High - bars[i-1].High
		downMove := bars[i-1].Low - bars[i].Low

		pDM := 0.0
		mDM := 0.0
		if upMove > downMove && upMove > 0 {
			pDM = upMove
		}
		if downMove > upMove && downMove > 0 {
			mDM = downMove
		}
		plusDM = append(plusDM, pDM)
		minusDM = append(minusDM, mDM)
		trs = append(trs, trueRange(bars[i], bars[i-1]))
	}

	smoothTR := wilderSmooth(trs, period)
	smoothPlusDM := wilderSmooth(plusDM, period)
	smoothMinusDM := wilderSmooth(minusDM, period)
	if len(smoothTR) == 0 || len(smoothPlusDM) == 0 || len(smoothMinusDM) == 0 {
		return ADXResult{}
	}

	m := len(smoothTR)
	if len(smoothPlusDM) < m {
		m = len(smoothPlusDM)
	}
	if len(smoothMinusDM) < m {
		m = len(smoothMinusDM)
	}

	dx := make([]float64, 0, m)
	var lastPlusDI, lastMinusDI float64
	for i := 0; i < m; i++ {
		tr := smoothTR[i]
		if tr == 0 {
			dx = append(dx, 0)
			continue
		}
		plusDI := 100 * smoothPlusDM[i] / tr
		minusDI := 100 * smoothMinusDM[i] / tr
		lastPlusDI, lastMinusDI = plusDI, minusDI
		denom := plusDI + minusDI
		if denom == 0 {
			dx = append(dx, 0)
			continue
		}
		dx = append(dx, 100*math.Abs(plusDI-minusDI)/denom)
	}

	adxSeries := wilderSmooth(dx, period)
	if len(adxSeries) == 0 {
		return ADXResult{PlusDI: lastPlusDI, MinusDI: lastMinusDI}
	}

	return ADXResult{
		ADX:     adxSeries[len(adxSeries)-1],
		PlusDI:  lastPlusDI,
		MinusDI: lastMinusDI,
	}
}

// FVG is one detected Fair Value Gap.
type FVG struct {
	Index    int
	Bullish  bool
	GapSize  float64
}

// DetectFVG finds bullish/bearish three-bar imbalance gaps: bullish when
// high[i-2] < low[i]; bearish when low[i-2] > high[i].
func DetectFVG(bars []types.Bar) []FVG {
	var gaps []FVG
	for i := 2; i < len(bars); i++ {
		if bars[i-2].High < bars[i].Low {
			gaps = append(gaps, FVG{Index: i, Bullish: true, GapSize: bars[i].Low - bars[i-2].High})
		} else if bars[i-2].Low > bars[i].High {
			gaps = append(gaps, FVG{Index: i, Bullish: false, GapSize: bars[i-2].Low - bars[i].High})
		}
	}
	return gaps
}

// VolatilityDisconnect computes realized volatility of the last `short`
// bars' returns against the historical volatility of the prior `long`
// bars' returns. IsBurst is true iff short/long ratio > 2.0.
type VolatilityDisconnectResult struct {
	ShortStdev float64
	LongStdev  float64
	Ratio      float64
	IsBurst    bool
}

func VolatilityDisconnect(bars []types.Bar, short, long int) VolatilityDisconnectResult {
	if short <= 0 || long <= 0 || len(bars) < short+long+1 {
		return VolatilityDisconnectResult{}
	}

	returns := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		if bars[i-1].Close == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (bars[i].Close-bars[i-1].Close)/bars[i-1].Close)
	}

	shortWindow := returns[len(returns)-short:]
	longWindow := returns[len(returns)-short-long : len(returns)-short]

	shortStdev := stdev(shortWindow)
	longStdev := stdev(longWindow)

	ratio := 0.0
	if longStdev > 0 {
		ratio = shortStdev / longStdev
	}

	return VolatilityDisconnectResult{
		ShortStdev: shortStdev,
		LongStdev:  longStdev,
		Ratio:      ratio,
		IsBurst:    ratio > 2.0,
	}
}

func stdev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	variance := 0.0
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return math.Sqrt(variance)
}

// Snapshot is a display/debug-oriented bundle of raw indicator values,
// grounded in the teacher pack's indicators.Manager.GetSnapshot.
type Snapshot struct {
	Symbol     string
	Timeframe  string
	ADX        float64
	PlusDI     float64
	MinusDI    float64
	ATR        float64
	ATRPercent float64
	SMA        float64
}

// BuildSnapshot computes the raw indicator inputs the Regime Classifier's
// metrics are derived from, for operator diagnostics.
func BuildSnapshot(symbol, timeframe string, bars []types.Bar, adxPeriod, atrPeriod, smaPeriod int) Snapshot {
	adx := ADX(bars, adxPeriod)
	atr := ATR(bars, atrPeriod)
	sma := SMA(bars, smaPeriod)

	atrPct := 0.0
	if len(bars) > 0 && bars[len(bars)-1].Close != 0 {
		atrPct = atr / bars[len(bars)-1].Close * 100
	}

	return Snapshot{
		Symbol:     symbol,
		Timeframe:  timeframe,
		ADX:        adx.ADX,
		PlusDI:     adx.PlusDI,
		MinusDI:    adx.MinusDI,
		ATR:        atr,
		ATRPercent: atrPct,
		SMA:        sma,
	}
}
