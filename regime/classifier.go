// Package regime implements the Regime Classifier (spec §4.2, §4.2a): a
// per-stream stateful machine producing a confirmed regime from OHLC
// history, stable against flicker via hysteresis and persistence
// debouncing, with a shock detector that can override to CRASH
// immediately.
//
// The detector shape (mutex-guarded struct, applyPersistence separating
// raw classification from confirmed state, a bounded History ring)
// is grounded in the example pack's tradebotlabs-eth-bot regime detector;
// the threshold rules themselves are this spec's own TREND/RANGE/NORMAL/
// CRASH vocabulary, not that file's TRENDING/MEAN_REVERTING/BREAKOUT set.
package regime

import (
	"math"
	"sync"

	"tradeengine/indicator"
	"tradeengine/internal/config"
	"tradeengine/types"
)

// Classifier holds per-(symbol,timeframe) state. One instance must be
// owned exclusively by the Scanner worker that dispatches classify calls
// for its key — no cross-thread mutation is expected, but the internal
// mutex makes read access (GetMetrics, current confirmed regime) safe
// from the API/heatmap path too.
type Classifier struct {
	mu sync.RWMutex

	cfg config.ClassifierConfig

	bars       []types.Bar
	maxBars    int

	confirmed  types.Regime
	pending    types.Regime
	pendingCount int

	lastClassifiedLen int
	lastMetrics       types.Metrics
}

// New creates a Classifier with the given thresholds and a rolling bar
// buffer capped at maxBars (default 300 per spec §3 if maxBars <= 0).
func New(cfg config.ClassifierConfig, maxBars int) *Classifier {
	if maxBars <= 0 {
		maxBars = 300
	}
	return &Classifier{
		cfg:       cfg,
		maxBars:   maxBars,
		confirmed: types.RegimeNone,
		pending:   types.RegimeNone,
	}
}

// LoadOHLC replaces the buffer and resets all classification state,
// per spec §4.2 load_ohlc.
func (c *Classifier) LoadOHLC(bars []types.Bar) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(bars) > c.maxBars {
		bars = bars[len(bars)-c.maxBars:]
	}
	c.bars = append([]types.Bar(nil), bars...)
	c.confirmed = types.RegimeNone
	c.pending = types.RegimeNone
	c.pendingCount = 0
	c.lastClassifiedLen = -1
	c.lastMetrics = types.Metrics{}
}

// minWarmupBars is max(adx_period*2, 20).
func (c *Classifier) minWarmupBars() int {
	n := c.cfg.ADXPeriod * 2
	if n < 20 {
		return 20
	}
	return n
}

// Classify runs the full §4.2 classify() algorithm. If currentPrice is
// non-nil, a synthetic last bar with that close is appended first (the
// rest of the OHLC fields are copied from the last real bar so ATR/ADX
// stay well-defined).
func (c *Classifier) Classify(currentPrice *float64) types.Regime {
	c.mu.Lock()
	defer c.mu.Unlock()

	bars := c.bars
	if currentPrice != nil && len(bars) > 0 {
		synthetic := bars[len(bars)-1]
		synthetic.Close = *currentPrice
		bars = append(append([]types.Bar(nil), bars...), synthetic)
	}

	// A buffer of exactly the warm-up length still reports NORMAL.
	if len(bars) <= c.minWarmupBars() {
		c.confirmed = types.RegimeNormal
		c.lastClassifiedLen = len(bars)
		c.lastMetrics = types.Metrics{}
		return types.RegimeNormal
	}

	if len(bars) == c.lastClassifiedLen {
		return c.confirmed
	}

	shock := c.detectShock(bars)

	var raw types.Regime
	adx := indicator.ADX(bars, c.cfg.ADXPeriod)

	switch {
	case shock:
		raw = types.RegimeCrash
	case c.confirmed == types.RegimeTrend && adx.ADX < c.cfg.ADXRangeExitThreshold:
		raw = types.RegimeRange
	case adx.ADX > c.cfg.ADXTrendThreshold:
		raw = types.RegimeTrend
	case adx.ADX < c.cfg.ADXRangeThreshold:
		raw = types.RegimeRange
	default:
		raw = types.RegimeNormal
	}

	confirmed := c.applyPersistence(raw, shock)

	c.lastClassifiedLen = len(bars)
	c.confirmed = confirmed
	c.lastMetrics = c.computeMetrics(bars, adx, shock)

	return confirmed
}

// applyPersistence implements spec §4.2 step 4's debounce exactly. A
// shock-driven CRASH raw value bypasses persistence entirely (invariant
// d: "CRASH overrides all other transitions and does not require
// persistence when shock conditions hold").
func (c *Classifier) applyPersistence(raw types.Regime, shock bool) types.Regime {
	if shock {
		c.pending = types.RegimeNone
		c.pendingCount = 0
		return raw
	}

	if c.confirmed == types.RegimeNone || raw == c.confirmed {
		c.pending = types.RegimeNone
		c.pendingCount = 0
		return raw
	}

	if raw == c.pending {
		c.pendingCount++
	} else {
		c.pending = raw
		c.pendingCount = 1
	}

	if c.pendingCount >= c.cfg.PersistenceCandles {
		c.pending = types.RegimeNone
		c.pendingCount = 0
		return raw
	}

	return c.confirmed
}

// detectShock implements spec §4.2a.
func (c *Classifier) detectShock(bars []types.Bar) bool {
	minATRPeriod := c.cfg.MinVolatilityATRPeriod
	if minATRPeriod < 20 {
		minATRPeriod = 20
	}
	required := 2*c.cfg.ShockLookback + minATRPeriod
	if len(bars) < required {
		return false
	}

	lookback := c.cfg.ShockLookback
	returns := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		if bars[i-1].Close == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (bars[i].Close-bars[i-1].Close)/bars[i-1].Close)
	}
	if len(returns) < 2*lookback {
		return false
	}

	shortWindow := returns[len(returns)-lookback:]
	baselineWindow := returns[len(returns)-2*lookback : len(returns)-lookback]

	shortStdev := stdev(shortWindow)
	baselineStdev := stdev(baselineWindow)

	if baselineStdev <= 0 {
		return false
	}

	atr := indicator.ATR(bars, c.cfg.ADXPeriod)
	atrPct := 0.0
	if bars[len(bars)-1].Close != 0 {
		atrPct = atr / bars[len(bars)-1].Close
	}

	if shortStdev < atrPct {
		return false
	}

	return shortStdev/baselineStdev >= c.cfg.VolatilityShockMultiplier
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

func (c *Classifier) computeMetrics(bars []types.Bar, adx indicator.ADXResult, shock bool) types.Metrics {
	atr := indicator.ATR(bars, c.cfg.ADXPeriod)
	smaLong := indicator.SMA(bars, c.cfg.SMAPeriod)

	lastClose := 0.0
	if len(bars) > 0 {
		lastClose = bars[len(bars)-1].Close
	}

	atrPct := 0.0
	if lastClose != 0 {
		atrPct = atr / lastClose * 100
	}

	smaDistance := 0.0
	if smaLong != 0 {
		smaDistance = (lastClose - smaLong) / smaLong * 100
	}

	bias := types.BiasBearish
	if smaDistance > 0 {
		bias = types.BiasBullish
	}

	return types.Metrics{
		ADX:             adx.ADX,
		ATRPercent:      atrPct,
		VolatilityShock: shock,
		SMADistance:     smaDistance,
		Bias:            bias,
	}
}

// GetMetrics returns the last computed metrics (spec §4.2 get_metrics).
func (c *Classifier) GetMetrics() types.Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMetrics
}

// Confirmed returns the current confirmed regime without reclassifying.
func (c *Classifier) Confirmed() types.Regime {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.confirmed
}
