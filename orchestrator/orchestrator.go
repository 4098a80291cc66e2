// Package orchestrator implements the Main Orchestrator (spec §4.5): the
// single outer loop that ties the Scanner, Signal Factory, Risk Manager,
// Executor, and Trade Closure Listener together into one trading cycle.
//
// The cycle shape (sleep-paced loop, quantized sleep for graceful
// shutdown, per-cycle record building, signals executed in the order the
// Signal Factory returns them) is
// grounded almost directly in the teacher's
// trader.AutoTrader.Run/runCycle/Stop — the single most directly adapted
// file in the module.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradeengine/executor"
	"tradeengine/internal/config"
	"tradeengine/internal/obs/log"
	"tradeengine/internal/obs/metrics"
	"tradeengine/risk"
	"tradeengine/signal"
	"tradeengine/storage"
	"tradeengine/types"
)

// Scanner is the Proactive Scanner collaborator.
type Scanner interface {
	Snapshots() []types.ScanSnapshot
}

// Store is the Storage collaborator the Orchestrator drives directly
// (beyond what it hands to Risk/Executor/Listener).
type Store interface {
	ResolveModuleEnabled(account, module string) (bool, error)
	ExpireOldPendingSignals(maxAge time.Duration) (int, error)
	GetExecutionMode(strategyID string) (mode string, found bool, err error)
	CountExecutedSignals(date string) (int, error)
	GetSystemState() (map[string]any, error)
	UpdateSystemState(partial map[string]any) error
	GetRiskSettings() (storage.RiskSettings, error)
}

// Listener is the Trade Closure Listener collaborator.
type Listener interface {
	HandleTradeClosedEvent(event types.BrokerTradeClosedEvent) bool
}

// Orchestrator owns the outer trading cycle and its session-stat state.
type Orchestrator struct {
	cfg     config.OrchestratorConfig
	account string

	scanner  Scanner
	store    Store
	risk     *risk.Manager
	factory  *signal.Factory
	exec     *executor.Executor
	listener Listener

	mu      sync.Mutex
	session types.SessionStats
	lastRegime types.Regime

	stopCh chan struct{}
}

func New(cfg config.OrchestratorConfig, account string, scanner Scanner, store Store, riskMgr *risk.Manager, factory *signal.Factory, exec *executor.Executor, listener Listener) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		account:  account,
		scanner:  scanner,
		store:    store,
		risk:     riskMgr,
		factory:  factory,
		exec:     exec,
		listener: listener,
		session:  types.SessionStats{Date: today()},
		stopCh:   make(chan struct{}),
	}
}

// Run blocks running cycles until ctx is canceled or Stop is called,
// then persists a shutdown snapshot before returning (spec §4.5
// Shutdown).
func (o *Orchestrator) Run(ctx context.Context) {
	log.Infof("orchestrator: starting main loop for account %q", o.account)
	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return
		case <-o.stopCh:
			o.shutdown()
			return
		default:
		}

		start := time.Now()
		hasUnresolved := o.runCycle(ctx)
		metrics.CycleDuration.Observe(time.Since(start).Seconds())
		metrics.CyclesTotal.Inc()

		if o.sleepQuantized(ctx, o.heartbeat(hasUnresolved)) {
			o.shutdown()
			return
		}
	}
}

// Stop requests the loop exit within one sleep quantum.
func (o *Orchestrator) Stop() {
	select {
	case <-o.stopCh:
	default:
		close(o.stopCh)
	}
}

// runCycle implements spec §4.5's 13-step outer loop and returns whether
// any signal of this cycle was left unexecuted (still PENDING under
// lockdown, or not EXECUTED by the Executor), which tightens the next
// heartbeat per §4.5a.
func (o *Orchestrator) runCycle(ctx context.Context) bool {
	// Step 2: session-stat rollover.
	o.rolloverSessionStats()
	_ = o.store.UpdateSystemState(map[string]any{"orchestrator_heartbeat": time.Now().UTC().Format(time.RFC3339)})

	// Step 3: expire stale PENDING signals.
	maxAge := time.Duration(o.cfg.PositionStaleAfterSeconds) * time.Second
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	if n, err := o.store.ExpireOldPendingSignals(maxAge); err != nil {
		log.Warnf("orchestrator: expire_old_pending_signals failed: %v", err)
		metrics.ErrorsTotal.Inc()
	} else if n > 0 {
		log.Infof("orchestrator: expired %d stale pending signals", n)
	}

	// Step 4: position manager pass, only if enabled and a connector
	// supports it.
	if enabled, err := o.store.ResolveModuleEnabled(o.account, string(types.ModulePositionManager)); err == nil && enabled {
		o.runPositionManagerPass()
	}

	// Step 5: scanner disabled short-circuit.
	scannerEnabled, err := o.store.ResolveModuleEnabled(o.account, string(types.ModuleScanner))
	if err != nil {
		log.Warnf("orchestrator: resolve scanner toggle failed: %v", err)
		scannerEnabled = true
	}
	if !scannerEnabled {
		o.mu.Lock()
		o.session.CyclesCompleted++
		o.mu.Unlock()
		return false
	}

	// Step 6: pull snapshots, compute dominant regime.
	snapshots := o.scanner.Snapshots()
	dominant := dominantRegime(snapshots)
	o.mu.Lock()
	o.lastRegime = dominant
	o.mu.Unlock()
	metrics.SetDominantRegime(dominant.String(), []string{"RANGE", "NORMAL", "TREND", "CRASH"})

	// Step 7: mint trace id, generate signals.
	traceID := uuid.NewString()
	signals := o.factory.Generate(snapshots, traceID)

	o.mu.Lock()
	o.session.SignalsProcessed += len(signals)
	o.mu.Unlock()

	// Step 8: risk filter.
	var accepted []types.Signal
	for _, sig := range signals {
		validated, ok := o.risk.ValidateSignal(sig)
		if !ok {
			log.Infof("orchestrator: signal %s rejected by risk manager: %s", sig.ID, validated.LastRejectionReason)
			continue
		}
		accepted = append(accepted, validated)
	}

	// Step 9: lockdown check.
	if o.risk.LockdownActive() {
		log.Warnf("orchestrator: lockdown active, skipping execution for %d accepted signals", len(accepted))
		o.mu.Lock()
		o.session.CyclesCompleted++
		o.mu.Unlock()
		o.persistSessionStats()
		return hasPending(accepted)
	}

	// Step 10: execute, gated by the executor toggle and the
	// per-strategy shadow-ranking mode.
	executorEnabled, err := o.store.ResolveModuleEnabled(o.account, string(types.ModuleExecutor))
	if err != nil {
		log.Warnf("orchestrator: resolve executor toggle failed: %v", err)
		executorEnabled = true
	}
	unresolved := false
	if executorEnabled {
		for _, sig := range accepted {
			switch o.executionGate(sig.StrategyID) {
			case types.ExecutionQuarantine:
				continue
			case types.ExecutionShadow:
				log.Infof("orchestrator: signal %s recorded in shadow mode, not executed", sig.ID)
				continue
			default: // LIVE or unknown/legacy
				result, err := o.exec.ExecuteSignal(sig)
				if err != nil {
					log.Error(err, "orchestrator: execute_signal failed")
					metrics.ErrorsTotal.Inc()
					continue
				}
				if result.Status == types.SignalExecuted {
					o.mu.Lock()
					o.session.SignalsExecuted++
					o.mu.Unlock()
				} else {
					unresolved = true
				}
			}
		}
	}

	// Step 11: drain closed-position events into the Listener.
	o.drainClosedEvents()

	// Step 12: persist session stats.
	o.mu.Lock()
	o.session.CyclesCompleted++
	o.mu.Unlock()
	o.persistSessionStats()

	return unresolved
}

// executionGate implements the Strategy execution gate (spec §4.5
// "Strategy execution gate (Shadow Ranking)"): LIVE -> proceed, SHADOW
// -> record only, QUARANTINE -> block, missing -> allow (legacy).
func (o *Orchestrator) executionGate(strategyID string) types.ExecutionMode {
	mode, found, err := o.store.GetExecutionMode(strategyID)
	if err != nil {
		log.Warnf("orchestrator: get_execution_mode(%s) failed, defaulting to LIVE: %v", strategyID, err)
		return types.ExecutionLive
	}
	if !found {
		return types.ExecutionLive
	}
	return types.ExecutionMode(mode)
}

// runPositionManagerPass is the narrow, config-driven position pass per
// SPEC_FULL.md's Open Question resolution: adjust SL/TP for positions
// older than position_stale_after using position_sl_tp_adjust_pct, no
// hidden fallback behavior beyond those two knobs.
func (o *Orchestrator) runPositionManagerPass() {
	staleAfter := time.Duration(o.cfg.PositionStaleAfterSeconds) * time.Second
	if staleAfter <= 0 {
		return
	}
	for _, conn := range o.exec.Connectors() {
		if conn.OpenPositions == nil {
			continue
		}
		positions, err := conn.OpenPositions()
		if err != nil {
			log.Warnf("orchestrator: open_positions(%s) failed: %v", conn.Type, err)
			continue
		}
		for _, pos := range positions {
			if time.Since(pos.OpenedAt) < staleAfter {
				continue
			}
			if conn.AdjustPosition == nil {
				continue
			}
			pct := o.cfg.PositionSLTPAdjustPercent / 100
			newSL := pos.StopLoss + (pos.CurrentPrice-pos.StopLoss)*pct
			newTP := pos.TakeProfit - (pos.TakeProfit-pos.CurrentPrice)*pct
			if err := conn.AdjustPosition(pos.Ticket, newSL, newTP); err != nil {
				log.Warnf("orchestrator: adjust_position %s failed: %v", pos.Ticket, err)
			}
		}
	}
}

// drainClosedEvents polls every connector that supports it and hands
// each event to the Listener (spec §4.5 step 11).
func (o *Orchestrator) drainClosedEvents() {
	for _, conn := range o.exec.Connectors() {
		if conn.PollClosedEvents == nil {
			continue
		}
		events, err := conn.PollClosedEvents()
		if err != nil {
			log.Warnf("orchestrator: poll_closed_events(%s) failed: %v", conn.Type, err)
			continue
		}
		for _, ev := range events {
			o.listener.HandleTradeClosedEvent(ev)
		}
	}
}

// rolloverSessionStats resets the day's counters when the wall-clock
// date has changed, rebuilding the executed count from Storage rather
// than trusting the in-memory counter across a restart (spec §3 Session
// Stats "executed_count always read from persisted EXECUTED signals").
func (o *Orchestrator) rolloverSessionStats() {
	today := today()

	o.mu.Lock()
	changed := o.session.Date != today
	o.mu.Unlock()
	if !changed {
		return
	}

	executedCount, err := o.store.CountExecutedSignals(today)
	if err != nil {
		log.Warnf("orchestrator: count_executed_signals failed during rollover: %v", err)
	}
	o.risk.ResetDailyPnL()

	o.mu.Lock()
	o.session = types.SessionStats{Date: today, SignalsExecuted: executedCount}
	o.mu.Unlock()
}

func (o *Orchestrator) persistSessionStats() {
	o.mu.Lock()
	s := o.session
	o.mu.Unlock()
	err := o.store.UpdateSystemState(map[string]any{
		"session_stats": map[string]any{
			"date":              s.Date,
			"signals_processed": s.SignalsProcessed,
			"signals_executed":  s.SignalsExecuted,
			"cycles_completed":  s.CyclesCompleted,
			"errors_count":      s.ErrorsCount,
		},
	})
	if err != nil {
		log.Warnf("orchestrator: persist session stats failed: %v", err)
	}
}

// Restore reconstructs session stats and risk state from a prior
// shutdown snapshot, called once at composition-root startup before Run.
func (o *Orchestrator) Restore() {
	state, err := o.store.GetSystemState()
	if err != nil {
		log.Warnf("orchestrator: restore get_system_state failed: %v", err)
		return
	}

	consecutiveLosses := 0
	lockdown := false
	if v, ok := state["consecutive_losses"].(float64); ok {
		consecutiveLosses = int(v)
	}
	if v, ok := state["lockdown_active"].(bool); ok {
		lockdown = v
	}
	o.risk.Restore(consecutiveLosses, lockdown)

	if settings, err := o.store.GetRiskSettings(); err == nil {
		o.risk.UpdateSettings(settings)
	}

	executedCount, _ := o.store.CountExecutedSignals(today())
	restored := types.SessionStats{Date: today(), SignalsExecuted: executedCount}
	if prev, ok := state["session_stats"].(map[string]any); ok && prev["date"] == today() {
		num := func(key string) int {
			v, _ := prev[key].(float64)
			return int(v)
		}
		restored.SignalsProcessed = num("signals_processed")
		restored.CyclesCompleted = num("cycles_completed")
		restored.ErrorsCount = num("errors_count")
	}
	o.mu.Lock()
	o.session = restored
	o.mu.Unlock()
}

// shutdown persists the graceful-shutdown snapshot (spec §4.5 Shutdown).
func (o *Orchestrator) shutdown() {
	o.mu.Lock()
	regime := o.lastRegime
	session := o.session
	o.mu.Unlock()

	snap := o.risk.Snapshot()
	err := o.store.UpdateSystemState(map[string]any{
		"last_shutdown":      time.Now().UTC().Format(time.RFC3339),
		"lockdown_active":    snap.LockdownActive,
		"consecutive_losses": snap.ConsecutiveLosses,
		"last_regime":        regime.String(),
		"session_stats": map[string]any{
			"date":              session.Date,
			"signals_processed": session.SignalsProcessed,
			"signals_executed":  session.SignalsExecuted,
			"cycles_completed":  session.CyclesCompleted,
			"errors_count":      session.ErrorsCount,
		},
	})
	if err != nil {
		log.Warnf("orchestrator: shutdown persistence failed: %v", err)
	}
	log.Infof("orchestrator: shutdown complete, %d cycles this session", session.CyclesCompleted)
}

// heartbeat implements spec §4.5a: base sleep by regime, capped at
// MinSleepIntervalSeconds when unresolved signals remain.
func (o *Orchestrator) heartbeat(hasUnresolved bool) time.Duration {
	o.mu.Lock()
	regime := o.lastRegime
	o.mu.Unlock()

	seconds := o.cfg.HeartbeatFor(regime.String())
	if hasUnresolved && o.cfg.MinSleepIntervalSeconds > 0 && o.cfg.MinSleepIntervalSeconds < seconds {
		seconds = o.cfg.MinSleepIntervalSeconds
	}
	return time.Duration(seconds * float64(time.Second))
}

// sleepQuantized sleeps total in 1s quanta so SIGINT-triggered shutdown
// is observed promptly (spec §4.5a).
func (o *Orchestrator) sleepQuantized(ctx context.Context, total time.Duration) bool {
	const quantum = time.Second
	elapsed := time.Duration(0)
	for elapsed < total {
		select {
		case <-ctx.Done():
			return true
		case <-o.stopCh:
			return true
		case <-time.After(quantum):
			elapsed += quantum
		}
	}
	return false
}

func dominantRegime(snapshots []types.ScanSnapshot) types.Regime {
	dominant := types.RegimeNone
	for _, snap := range snapshots {
		if snap.Regime.MoreAggressive(dominant) {
			dominant = snap.Regime
		}
	}
	if dominant == types.RegimeNone {
		return types.RegimeNormal
	}
	return dominant
}

func hasPending(signals []types.Signal) bool {
	for _, s := range signals {
		if s.Status == types.SignalPending {
			return true
		}
	}
	return false
}

func today() string {
	return time.Now().Format("2006-01-02")
}
