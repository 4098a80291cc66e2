package signal

import (
	"tradeengine/types"
)

// TrendFollowStrategy is a concrete composite-factor strategy: it enters
// in the direction of the regime's bias when ADX confirms trend strength
// and volatility isn't in shock, sizing the stop/target off ATR%. This
// mirrors the teacher's localFuncGenetic composite-score-against-
// threshold shape (weighted factors, no-signal fallback) without the
// teacher's genetic-chromosome weight evolution, which belongs to the
// EDGE Tuner's parameter adjustment, not signal generation.
type TrendFollowStrategy struct {
	id                string
	minADX            float64
	atrStopMultiplier float64
	atrTargetMultiple float64
	minConfidence     float64
}

// NewTrendFollowStrategy constructs the strategy with the fixed
// parameters passed in. The strategy does not reread dynamic params from
// Storage; EDGE Tuner adjustments (storage.Store.GetDynamicParams) reach
// it only through a newly constructed instance.
func NewTrendFollowStrategy(id string, minADX, atrStopMultiplier, atrTargetMultiple, minConfidence float64) *TrendFollowStrategy {
	return &TrendFollowStrategy{
		id:                id,
		minADX:            minADX,
		atrStopMultiplier: atrStopMultiplier,
		atrTargetMultiple: atrTargetMultiple,
		minConfidence:     minConfidence,
	}
}

func (t *TrendFollowStrategy) ID() string { return t.id }

// Generate emits at most one signal per snapshot: a BUY when regime is
// TREND and bias is bullish with ADX above threshold, a SELL for the
// bearish mirror. Outside TREND, or when confidence doesn't clear the
// floor, no signal is produced.
func (t *TrendFollowStrategy) Generate(snap types.ScanSnapshot) []types.Signal {
	if snap.Regime != types.RegimeTrend {
		return nil
	}
	if snap.Metrics.ADX < t.minADX {
		return nil
	}
	if len(snap.Bars) == 0 {
		return nil
	}

	confidence := confidenceFromADX(snap.Metrics.ADX, t.minADX)
	if confidence < t.minConfidence {
		return nil
	}

	last := snap.Bars[len(snap.Bars)-1]
	atrAbs := last.Close * snap.Metrics.ATRPercent / 100

	var sigType types.SignalType
	var stop, target float64
	switch snap.Metrics.Bias {
	case types.BiasBullish:
		sigType = types.SignalBuy
		stop = last.Close - atrAbs*t.atrStopMultiplier
		target = last.Close + atrAbs*t.atrTargetMultiple
	case types.BiasBearish:
		sigType = types.SignalSell
		stop = last.Close + atrAbs*t.atrStopMultiplier
		target = last.Close - atrAbs*t.atrTargetMultiple
	default:
		return nil
	}

	return []types.Signal{{
		Symbol:     snap.Symbol,
		Type:       sigType,
		EntryPrice: last.Close,
		StopLoss:   stop,
		TakeProfit: target,
		Confidence: confidence,
	}}
}

// confidenceFromADX maps ADX's distance above the trend threshold to a
// bounded [minThreshold-anchored, 1.0] confidence score.
func confidenceFromADX(adx, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	c := 0.5 + (adx-threshold)/threshold*0.5
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
}
