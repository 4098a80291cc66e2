// Package risk implements the Risk Manager (spec §4.5 step 8, §4.6
// step 4): validates each signal, tracks consecutive losses, lockdown
// state, and position sizing.
//
// The enforcement idiom (a chain of small enforceX checks, each able to
// reject or clamp) is grounded in the teacher's auto_trader.go
// enforcePositionValueRatio/enforceMinPositionSize/enforceMaxPositions
// helpers; the configuration fields mirror store.RiskControlConfig's
// MaxPositions/MinRiskRewardRatio/MinConfidence/daily-loss-limit set.
package risk

import (
	"fmt"
	"sync"

	"tradeengine/internal/obs/metrics"
	"tradeengine/storage"
	"tradeengine/types"
)

// Manager owns risk settings and the consecutive-loss/lockdown state
// machine. It is never user-disableable (spec §3 Module Toggle
// Resolution: "Risk Manager module is never user-disableable").
type Manager struct {
	mu sync.Mutex

	settings storage.RiskSettings

	consecutiveLosses int
	lockdownActive    bool
	openPositions     int
	dailyPnLPct       float64
}

// New constructs a Manager with the given settings. Callers typically
// seed it from storage.Store.GetRiskSettings and restore
// consecutiveLosses/lockdownActive from system_state on boot (spec §4.5
// Shutdown: "persist ... lockdown state, consecutive losses").
func New(settings storage.RiskSettings) *Manager {
	return &Manager{settings: settings}
}

// Restore seeds the consecutive-loss and lockdown state from a prior
// shutdown snapshot (spec §3 System State's consecutive_losses,
// lockdown_active keys).
func (m *Manager) Restore(consecutiveLosses int, lockdownActive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveLosses = consecutiveLosses
	m.lockdownActive = lockdownActive
	metrics.ConsecutiveLosses.Set(float64(consecutiveLosses))
	setLockdownGauge(lockdownActive)
}

// UpdateSettings replaces the active risk settings, e.g. after an
// operator edit via the (out-of-scope) API surface.
func (m *Manager) UpdateSettings(settings storage.RiskSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
}

// SetOpenPositionCount informs the Manager how many positions are
// currently open, consumed by the max-positions check.
func (m *Manager) SetOpenPositionCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositions = n
}

// ValidateSignal implements spec §4.5 step 8's validate_signal: a chain
// of checks, any of which can reject the signal with a reason recorded
// on it (spec §7 "rejected signals carry a last_rejection_reason").
func (m *Manager) ValidateSignal(sig types.Signal) (types.Signal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lockdownActive {
		sig.LastRejectionReason = "lockdown_active"
		return sig, false
	}
	if sig.Confidence < m.settings.MinConfidence {
		sig.LastRejectionReason = fmt.Sprintf("confidence %.2f below minimum %.2f", sig.Confidence, m.settings.MinConfidence)
		return sig, false
	}
	if m.openPositions >= m.settings.MaxPositions {
		sig.LastRejectionReason = fmt.Sprintf("max_positions reached (%d)", m.settings.MaxPositions)
		return sig, false
	}
	if rr, ok := riskReward(sig); ok && rr < m.settings.MinRiskRewardRatio {
		sig.LastRejectionReason = fmt.Sprintf("risk_reward %.2f below minimum %.2f", rr, m.settings.MinRiskRewardRatio)
		return sig, false
	}
	if m.dailyPnLPct <= -m.settings.DailyLossLimitPct {
		sig.LastRejectionReason = "daily_loss_limit_reached"
		return sig, false
	}

	return sig, true
}

// riskReward returns the reward:risk ratio for a signal with both a
// stop loss and take profit set.
func riskReward(sig types.Signal) (float64, bool) {
	risk := sig.EntryPrice - sig.StopLoss
	reward := sig.TakeProfit - sig.EntryPrice
	if sig.Type == types.SignalSell {
		risk = sig.StopLoss - sig.EntryPrice
		reward = sig.EntryPrice - sig.TakeProfit
	}
	if risk <= 0 {
		return 0, false
	}
	return reward / risk, true
}

// PositionSize returns the position size (in quote-currency units) for a
// signal given account equity, using the configured base position-size
// percentage (spec §3 Risk Manager "position sizing").
func (m *Manager) PositionSize(equity float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return equity * m.settings.BasePositionSizePct / 100
}

// RecordTradeResult updates consecutive-loss tracking and lockdown state
// from one closed trade (spec §4.6 step 4). isWin is false for both LOSS
// and BREAKEVEN per spec's result taxonomy ambiguity resolution: only a
// WIN resets the streak.
func (m *Manager) RecordTradeResult(isWin bool, pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if isWin {
		m.consecutiveLosses = 0
	} else {
		m.consecutiveLosses++
	}
	m.dailyPnLPct += pnl

	if m.consecutiveLosses >= m.settings.MaxConsecutiveLosses {
		m.lockdownActive = true
	}

	metrics.ConsecutiveLosses.Set(float64(m.consecutiveLosses))
	setLockdownGauge(m.lockdownActive)
}

// ClearLockdown lifts the lockdown, e.g. after an operator review or a
// new trading day.
func (m *Manager) ClearLockdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockdownActive = false
	setLockdownGauge(false)
}

// ResetDailyPnL rolls the daily loss-limit tracker over, called from the
// Orchestrator's session-stat rollover (spec §4.5 step 2).
func (m *Manager) ResetDailyPnL() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnLPct = 0
}

// Snapshot returns the current risk state for persistence/diagnostics.
type Snapshot struct {
	ConsecutiveLosses int
	LockdownActive    bool
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{ConsecutiveLosses: m.consecutiveLosses, LockdownActive: m.lockdownActive}
}

// ConsecutiveLosses returns the current consecutive-loss streak.
func (m *Manager) ConsecutiveLosses() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveLosses
}

// LockdownActive reports whether the Risk Manager is currently blocking
// new orders.
func (m *Manager) LockdownActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockdownActive
}

func setLockdownGauge(active bool) {
	if active {
		metrics.LockdownActive.Set(1)
	} else {
		metrics.LockdownActive.Set(0)
	}
}
