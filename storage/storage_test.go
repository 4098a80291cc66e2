package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.db")
	s, err := Open(path, "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testSignal(id string) types.Signal {
	return types.Signal{
		ID:         id,
		Symbol:     "BTCUSDT",
		Type:       types.SignalBuy,
		Timeframe:  "1h",
		Status:     types.SignalPending,
		StrategyID: "strat-1",
		Regime:     types.RegimeTrend,
		Confidence: 0.8,
		EntryPrice: 100,
		StopLoss:   95,
		TakeProfit: 110,
		TraceID:    "trace-1",
		Metadata:   map[string]string{"k": "v"},
	}
}

func TestSaveAndGetSignal_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	sig := testSignal("sig-1")

	require.NoError(t, s.SaveSignal(sig))

	got, err := s.GetSignalByID("sig-1")
	require.NoError(t, err)
	assert.Equal(t, sig.Symbol, got.Symbol)
	assert.Equal(t, sig.Status, got.Status)
	assert.Equal(t, sig.Regime, got.Regime)
	assert.Equal(t, "v", got.Metadata["k"])
}

func TestUpdateSignalStatus_RecordsRejectionReason(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveSignal(testSignal("sig-2")))

	require.NoError(t, s.UpdateSignalStatus("sig-2", types.SignalExpired, "risk_reward_below_minimum"))

	got, err := s.GetSignalByID("sig-2")
	require.NoError(t, err)
	assert.Equal(t, types.SignalExpired, got.Status)
	assert.Equal(t, "risk_reward_below_minimum", got.LastRejectionReason)
}

func TestExpireOldPendingSignals_OnlyTouchesStalePending(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveSignal(testSignal("fresh")))
	require.NoError(t, s.SaveSignal(testSignal("stale")))

	_, err := s.db.Exec(`UPDATE signals SET created_at = ? WHERE id = ?`,
		time.Now().Add(-2*time.Hour).UTC().Format(sqliteTimeLayout), "stale")
	require.NoError(t, err)

	n, err := s.ExpireOldPendingSignals(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stale, err := s.GetSignalByID("stale")
	require.NoError(t, err)
	assert.Equal(t, types.SignalExpired, stale.Status)

	fresh, err := s.GetSignalByID("fresh")
	require.NoError(t, err)
	assert.Equal(t, types.SignalPending, fresh.Status)
}

func TestCountExecutedSignals_FiltersByDateAndStatus(t *testing.T) {
	s := openTestStore(t)
	executed := testSignal("exec-1")
	executed.Status = types.SignalExecuted
	require.NoError(t, s.SaveSignal(executed))
	require.NoError(t, s.SaveSignal(testSignal("pending-1")))

	n, err := s.CountExecutedSignals(time.Now().UTC().Format("2006-01-02"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetExecutionMode_MissingEntryReportsNotFound(t *testing.T) {
	s := openTestStore(t)
	mode, found, err := s.GetExecutionMode("unknown-strategy")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, mode)
}

func TestSetAndGetExecutionMode_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SetExecutionMode("strat-1", string(types.ExecutionShadow)))

	mode, found, err := s.GetExecutionMode("strat-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, string(types.ExecutionShadow), mode)
}

func TestSetExecutionMode_UpsertReplacesPreviousValue(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SetExecutionMode("strat-1", string(types.ExecutionShadow)))
	require.NoError(t, s.SetExecutionMode("strat-1", string(types.ExecutionLive)))

	mode, _, err := s.GetExecutionMode("strat-1")
	require.NoError(t, err)
	assert.Equal(t, string(types.ExecutionLive), mode)
}

func TestResolveModuleEnabled_RiskManagerAlwaysEnabled(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SetGlobalModuleEnabled("risk_manager", false))

	enabled, err := s.ResolveModuleEnabled("default", "risk_manager")
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestResolveModuleEnabled_GlobalFalseOverridesMissingAccountOverride(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SetGlobalModuleEnabled("scanner", false))

	enabled, err := s.ResolveModuleEnabled("default", "scanner")
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestResolveModuleEnabled_AccountOverrideWinsOverGlobalTrue(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SetGlobalModuleEnabled("scanner", true))
	require.NoError(t, s.SetAccountModuleOverride("default", "scanner", false))

	enabled, err := s.ResolveModuleEnabled("default", "scanner")
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestResolveModuleEnabled_NoRecordDefaultsOpen(t *testing.T) {
	s := openTestStore(t)
	enabled, err := s.ResolveModuleEnabled("default", "scanner")
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestUpdateSystemState_RoundTripsArbitraryValues(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpdateSystemState(map[string]any{
		"consecutive_losses": 2,
		"lockdown_active":    true,
	}))

	state, err := s.GetSystemState()
	require.NoError(t, err)
	assert.Equal(t, float64(2), state["consecutive_losses"])
	assert.Equal(t, true, state["lockdown_active"])
}

func TestGetDynamicParams_EmptyByDefault(t *testing.T) {
	s := openTestStore(t)
	params, err := s.GetDynamicParams()
	require.NoError(t, err)
	assert.Empty(t, params)
}

func TestUpdateDynamicParams_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpdateDynamicParams(map[string]float64{"adx_threshold": 30}))

	params, err := s.GetDynamicParams()
	require.NoError(t, err)
	assert.Equal(t, 30.0, params["adx_threshold"])
}

func TestGetRiskSettings_FallsBackToDefaults(t *testing.T) {
	s := openTestStore(t)
	settings, err := s.GetRiskSettings()
	require.NoError(t, err)
	assert.Equal(t, DefaultRiskSettings(), settings)
}
