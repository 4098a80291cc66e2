// Package tuner implements the EDGE Tuner (spec §4.7): the feedback
// component that adjusts strategy parameters based on realized trade
// statistics.
//
// Per SPEC_FULL.md's Open Question resolution, this is the single
// canonical tuner surface: one trigger table (consecutive losses OR low
// win rate -> conservative; high win rate -> permissive; else bounded
// drift). The bounded-parameter-adjustment shape is grounded in the
// teacher's decision/localfunc.go genetic-chromosome adjustment idiom
// and decision/engine.go's config-reload-from-store convention
// (StrategyEngine.GetConfig).
package tuner

import (
	"time"

	"github.com/google/uuid"

	"tradeengine/internal/config"
	"tradeengine/internal/obs/audit"
	"tradeengine/internal/obs/log"
	"tradeengine/types"
)

// Store is the Storage collaborator spec §4.7/§4.8 name.
type Store interface {
	GetTradeResults(limit int) ([]types.TradeResult, error)
	GetDynamicParams() (map[string]float64, error)
	UpdateDynamicParams(params map[string]float64) error
	SaveTuningAdjustment(adj types.TuningAdjustment) error
}

const (
	paramADXThreshold      = "adx_threshold"
	paramATRMultiplier     = "atr_multiplier"
	paramSMA20ProximityPct = "sma20_proximity_pct"
)

// defaultParams seeds dynamic_params the first time the Tuner runs
// against an empty parameter set.
func defaultParams() map[string]float64 {
	return map[string]float64{
		paramADXThreshold:      25,
		paramATRMultiplier:     1.5,
		paramSMA20ProximityPct: 0.5,
	}
}

// Bounds caps each parameter's legal range so adjustment can never cross
// an invariant that would disable the classifier (spec §4.7 "Never cross
// invariants that would disable the classifier").
var bounds = map[string][2]float64{
	paramADXThreshold:      {15, 40},
	paramATRMultiplier:     {0.5, 4.0},
	paramSMA20ProximityPct: {0.1, 2.0},
}

// Tuner reads recent trade results and adjusts dynamic_params in place.
type Tuner struct {
	cfg   config.TunerConfig
	store Store
}

func New(cfg config.TunerConfig, store Store) *Tuner {
	return &Tuner{cfg: cfg, store: store}
}

// Tune implements spec §4.7's full decision surface. It is the method
// the Trade Closure Listener invokes (§4.6 step 5).
func (t *Tuner) Tune() error {
	adj, err := t.compute()
	if err != nil {
		return err
	}
	if err := t.store.SaveTuningAdjustment(adj); err != nil {
		return err
	}
	audit.TuningAdjustment(adj.ID, adj.Trigger, adj.Skipped, adj.WinRate)
	if !adj.Skipped {
		log.Infof("tuner: adjustment %s trigger=%s win_rate=%.2f", adj.ID, adj.Trigger, adj.WinRate)
	}
	return nil
}

func (t *Tuner) compute() (types.TuningAdjustment, error) {
	limit := t.cfg.LimitTrades
	if limit <= 0 {
		limit = 100
	}
	trades, err := t.store.GetTradeResults(limit)
	if err != nil {
		return types.TuningAdjustment{}, err
	}

	minTrades := t.cfg.MinTradesForTuning
	if minTrades <= 0 {
		minTrades = 10
	}
	if len(trades) < minTrades {
		return types.TuningAdjustment{
			ID:         uuid.NewString(),
			Timestamp:  time.Now(),
			Trigger:    "none",
			Skipped:    true,
			SkipReason: "insufficient_data",
		}, nil
	}

	winRate, consecutiveLosses := tradeStats(trades)

	oldParams, err := t.store.GetDynamicParams()
	if err != nil {
		return types.TuningAdjustment{}, err
	}
	if len(oldParams) == 0 {
		oldParams = defaultParams()
	}

	lossThreshold := t.cfg.ConsecutiveLossThreshold
	if lossThreshold <= 0 {
		lossThreshold = 3
	}

	newParams := copyParams(oldParams)
	trigger := "none"

	switch {
	case consecutiveLosses >= lossThreshold || winRate < t.cfg.ConservativeThreshold:
		t.makeConservative(newParams)
		if consecutiveLosses >= lossThreshold {
			trigger = "consecutive_losses"
		} else {
			trigger = "low_win_rate"
		}
	case winRate > t.cfg.AggressiveThreshold:
		t.makePermissive(newParams)
		trigger = "high_win_rate"
	default:
		// within target: no change, or a small bounded drift toward
		// the midpoint of each parameter's range.
		t.driftTowardMidpoint(newParams)
	}

	if err := t.store.UpdateDynamicParams(newParams); err != nil {
		return types.TuningAdjustment{}, err
	}

	return types.TuningAdjustment{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		OldParams: oldParams,
		NewParams: newParams,
		WinRate:   winRate,
		Trigger:   trigger,
	}, nil
}

func tradeStats(trades []types.TradeResult) (winRate float64, consecutiveLosses int) {
	wins := 0
	streak := 0
	maxStreak := 0
	for _, t := range trades {
		if t.Result == types.OutcomeWin {
			wins++
			streak = 0
			continue
		}
		streak++
		if streak > maxStreak {
			maxStreak = streak
		}
	}
	return float64(wins) / float64(len(trades)), maxStreak
}

// makeConservative raises ADX/ATR thresholds and lowers SMA proximity,
// each capped by the configured max adjustment factor and the absolute
// bounds table (spec §4.7 conservative branch).
func (t *Tuner) makeConservative(params map[string]float64) {
	t.adjust(params, paramADXThreshold, 1)
	t.adjust(params, paramATRMultiplier, 1)
	t.adjust(params, paramSMA20ProximityPct, -1)
}

// makePermissive is the inverse (spec §4.7 "make more permissive
// (inverse)").
func (t *Tuner) makePermissive(params map[string]float64) {
	t.adjust(params, paramADXThreshold, -1)
	t.adjust(params, paramATRMultiplier, -1)
	t.adjust(params, paramSMA20ProximityPct, 1)
}

// driftTowardMidpoint nudges a parameter a small, bounded amount toward
// the midpoint of its legal range (spec §4.7 "small drift (<20% per
// parameter)").
func (t *Tuner) driftTowardMidpoint(params map[string]float64) {
	for name := range bounds {
		b := bounds[name]
		mid := (b[0] + b[1]) / 2
		cur := params[name]
		drift := (mid - cur) * 0.1
		params[name] = clamp(cur+drift, b[0], b[1])
	}
}

// adjust moves one parameter by the configured max adjustment factor
// (as a fraction of its current value) in the given sign direction,
// clamped to its absolute bounds.
func (t *Tuner) adjust(params map[string]float64, name string, sign float64) {
	factor := t.cfg.MaxAdjustmentFactor
	if factor <= 0 {
		factor = 0.2
	}
	cur := params[name]
	if cur == 0 {
		cur = defaultParams()[name]
	}
	delta := cur * factor * sign
	b := bounds[name]
	params[name] = clamp(cur+delta, b[0], b[1])
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func copyParams(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
