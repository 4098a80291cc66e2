// Package signal implements the Signal Factory (spec §4.5 step 7): runs
// registered strategies over scan outputs, enriching signals with
// confluence and trifecta context.
//
// The deterministic composite-factor scoring idiom is grounded in the
// teacher's decision/localfunc.go (per-candidate weighted score against
// a threshold, fallback-to-no-signal when nothing passes), adapted into
// a pluggable Strategy interface instead of the teacher's single
// hardcoded dispatch function.
package signal

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"tradeengine/internal/obs/log"
	"tradeengine/types"
)

// Strategy produces zero or more candidate signals from one scan
// snapshot. Implementations must be pure with respect to their inputs;
// any state they need (e.g. reloaded dynamic params) is their own
// responsibility to refresh.
type Strategy interface {
	ID() string
	Generate(snap types.ScanSnapshot) []types.Signal
}

// Factory holds the registered strategy set and enriches raw strategy
// output with cross-timeframe confluence before returning it to the
// Orchestrator.
type Factory struct {
	strategies []Strategy
}

// New creates a Factory with the given strategies registered in dispatch
// order (spec §5 Ordering: "Signals within one Orchestrator cycle are
// executed in the order Signal Factory returns them").
func New(strategies ...Strategy) *Factory {
	return &Factory{strategies: append([]Strategy(nil), strategies...)}
}

// Register adds a strategy to the dispatch list.
func (f *Factory) Register(s Strategy) {
	f.strategies = append(f.strategies, s)
}

// Generate runs every registered strategy over every snapshot, stamps
// each resulting signal with its trace id, timestamp, and PENDING
// status, then enriches with confluence (agreement of bias across
// timeframes for the same symbol).
func (f *Factory) Generate(snapshots []types.ScanSnapshot, traceID string) []types.Signal {
	biasBySymbol := computeBiasBySymbol(snapshots)

	var out []types.Signal
	for _, snap := range snapshots {
		for _, strat := range f.strategies {
			for _, sig := range strat.Generate(snap) {
				sig.StrategyID = strat.ID()
				sig.Regime = snap.Regime
				sig.Timeframe = snap.Timeframe
				sig.TraceID = traceID
				sig.Timestamp = time.Now()
				sig.Status = types.SignalPending
				if sig.ID == "" {
					sig.ID = uuid.NewString()
				}
				if sig.Metadata == nil {
					sig.Metadata = map[string]string{}
				}
				enrichConfluence(&sig, biasBySymbol)
				out = append(out, sig)
			}
		}
	}

	if len(out) > 0 {
		log.Infof("signal: generated %d signal(s) for trace %s", len(out), traceID)
	}
	return out
}

// computeBiasBySymbol groups each symbol's per-timeframe bias, the raw
// material for confluence/trifecta scoring (spec GLOSSARY "Confluence").
func computeBiasBySymbol(snapshots []types.ScanSnapshot) map[string]map[string]types.Bias {
	out := make(map[string]map[string]types.Bias)
	for _, snap := range snapshots {
		if out[snap.Symbol] == nil {
			out[snap.Symbol] = make(map[string]types.Bias)
		}
		out[snap.Symbol][snap.Timeframe] = snap.Metrics.Bias
	}
	return out
}

// enrichConfluence sets metadata describing how many timeframes for this
// symbol agree with the signal's implied bias, and whether all three
// "trifecta" timeframes (if present) agree.
func enrichConfluence(sig *types.Signal, biasBySymbol map[string]map[string]types.Bias) {
	byTF := biasBySymbol[sig.Symbol]
	if len(byTF) == 0 {
		return
	}

	wantBias := types.BiasBullish
	if sig.Type == types.SignalSell {
		wantBias = types.BiasBearish
	}

	agree, total := 0, 0
	for _, bias := range byTF {
		total++
		if bias == wantBias {
			agree++
		}
	}

	sig.Metadata["confluence_agree"] = strconv.Itoa(agree)
	sig.Metadata["confluence_total"] = strconv.Itoa(total)
	if agree == total && total >= 3 {
		sig.Metadata["trifecta"] = "true"
	}
}
