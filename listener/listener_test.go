package listener

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/config"
	"tradeengine/types"
)

type fakeStore struct {
	existing  map[string]bool
	saved     []types.TradeResult
	saveErr   error
	saveErrsN int // fail this many times before succeeding
}

func (f *fakeStore) TradeExists(ticket string) (bool, error) {
	return f.existing[ticket], nil
}

func (f *fakeStore) SaveTradeResult(t types.TradeResult) error {
	if f.saveErrsN > 0 {
		f.saveErrsN--
		return errors.New("database is locked")
	}
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, t)
	return nil
}

type fakeRisk struct {
	wins, losses int
	losingStreak int
	lockdown     bool
}

func (f *fakeRisk) RecordTradeResult(isWin bool, pnl float64) {
	if isWin {
		f.wins++
		f.losingStreak = 0
		return
	}
	f.losses++
	f.losingStreak++
}

func (f *fakeRisk) ConsecutiveLosses() int { return f.losingStreak }
func (f *fakeRisk) LockdownActive() bool   { return f.lockdown }

type fakeTuner struct{ calls int }

func (f *fakeTuner) Tune() error {
	f.calls++
	return nil
}

func closedEvent(ticket string, result types.TradeOutcome) types.BrokerTradeClosedEvent {
	return types.BrokerTradeClosedEvent{
		Kind:   types.EventKindTradeClosed,
		Ticket: ticket,
		Result: result,
	}
}

func testConfig() config.ListenerConfig {
	return config.ListenerConfig{
		MaxRetries:                    3,
		RetryBackoffSeconds:           0,
		TunerEveryNTrades:             5,
		TunerConsecutiveLossThreshold: 3,
	}
}

func TestHandleTradeClosedEvent_DropsWrongKind(t *testing.T) {
	store := &fakeStore{existing: map[string]bool{}}
	l := New(testConfig(), store, &fakeRisk{}, &fakeTuner{})

	ok := l.HandleTradeClosedEvent(types.BrokerTradeClosedEvent{Kind: "OTHER"})
	assert.False(t, ok)
	assert.Empty(t, store.saved)
}

func TestHandleTradeClosedEvent_IdempotentOnDuplicateTicket(t *testing.T) {
	store := &fakeStore{existing: map[string]bool{"T1": true}}
	risk := &fakeRisk{}
	l := New(testConfig(), store, risk, &fakeTuner{})

	ok := l.HandleTradeClosedEvent(closedEvent("T1", types.OutcomeWin))
	assert.True(t, ok)
	assert.Empty(t, store.saved, "idempotent replay must not persist again")
	assert.Equal(t, 0, risk.wins, "idempotent replay must not double-count risk state")
}

func TestHandleTradeClosedEvent_PersistsAndUpdatesRisk(t *testing.T) {
	store := &fakeStore{existing: map[string]bool{}}
	risk := &fakeRisk{}
	l := New(testConfig(), store, risk, &fakeTuner{})

	ok := l.HandleTradeClosedEvent(closedEvent("T2", types.OutcomeLoss))
	require.True(t, ok)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "T2", store.saved[0].Ticket)
	assert.Equal(t, 1, risk.losses)
}

func TestHandleTradeClosedEvent_RetriesOnLockThenSucceeds(t *testing.T) {
	store := &fakeStore{existing: map[string]bool{}, saveErrsN: 2}
	l := New(testConfig(), store, &fakeRisk{}, &fakeTuner{})

	ok := l.HandleTradeClosedEvent(closedEvent("T3", types.OutcomeWin))
	assert.True(t, ok)
	assert.Len(t, store.saved, 1)
}

func TestHandleTradeClosedEvent_NonLockErrorFailsImmediately(t *testing.T) {
	store := &fakeStore{existing: map[string]bool{}, saveErr: errors.New("disk full")}
	l := New(testConfig(), store, &fakeRisk{}, &fakeTuner{})

	ok := l.HandleTradeClosedEvent(closedEvent("T4", types.OutcomeWin))
	assert.False(t, ok)
	counters := l.Counters()
	assert.Equal(t, 1, counters.Failed)
}

func TestHandleTradeClosedEvent_FailedPersistDoesNotUpdateRisk(t *testing.T) {
	store := &fakeStore{existing: map[string]bool{}, saveErr: errors.New("disk full")}
	risk := &fakeRisk{}
	l := New(testConfig(), store, risk, &fakeTuner{})

	l.HandleTradeClosedEvent(closedEvent("T5", types.OutcomeLoss))
	assert.Equal(t, 0, risk.losses, "a failed persist must not double-count risk state")
}

func TestHandleTradeClosedEvent_TriggersTunerOnConsecutiveLossThreshold(t *testing.T) {
	store := &fakeStore{existing: map[string]bool{}}
	risk := &fakeRisk{losingStreak: 3}
	tuner := &fakeTuner{}
	l := New(testConfig(), store, risk, tuner)

	l.HandleTradeClosedEvent(closedEvent("T6", types.OutcomeLoss))
	assert.Equal(t, 1, tuner.calls)
}

func TestHandleTradeClosedEvent_TriggersTunerEveryNSavedTrades(t *testing.T) {
	store := &fakeStore{existing: map[string]bool{}}
	risk := &fakeRisk{}
	tuner := &fakeTuner{}
	l := New(testConfig(), store, risk, tuner)

	for i := 0; i < 5; i++ {
		l.HandleTradeClosedEvent(closedEvent(string(rune('A'+i)), types.OutcomeWin))
	}
	assert.Equal(t, 1, tuner.calls)
}

func TestCounters_SuccessRate(t *testing.T) {
	c := Counters{Processed: 4, Saved: 3}
	assert.InDelta(t, 0.75, c.SuccessRate(), 0.0001)
}

func TestCounters_SuccessRate_NoProcessedIsZero(t *testing.T) {
	c := Counters{}
	assert.Equal(t, 0.0, c.SuccessRate())
}
