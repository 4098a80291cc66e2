package executor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/types"
)

type fakeStore struct {
	saved    []types.Signal
	statuses map[string]types.SignalStatus
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: make(map[string]types.SignalStatus)}
}

func (f *fakeStore) SaveSignal(sig types.Signal) error {
	f.saved = append(f.saved, sig)
	f.statuses[sig.ID] = sig.Status
	return nil
}

func (f *fakeStore) UpdateSignalStatus(id string, status types.SignalStatus, reason string) error {
	f.statuses[id] = status
	return nil
}

func testSignal() types.Signal {
	return types.Signal{ID: "sig-1", Symbol: "BTCUSDT", ConnectorType: "paper"}
}

func TestExecuteSignal_PersistsPendingBeforeDispatch(t *testing.T) {
	store := newFakeStore()
	conn := BrokerConnector{
		Type: "paper",
		Execute: func(sig types.Signal) (types.ExecutionResult, error) {
			require.Equal(t, types.SignalPending, store.statuses[sig.ID], "pending status must be persisted before the broker call")
			return types.ExecutionResult{Success: true, Ticket: "t1"}, nil
		},
	}
	e := New(store, conn)

	out, err := e.ExecuteSignal(testSignal())
	require.NoError(t, err)
	assert.Equal(t, types.SignalExecuted, out.Status)
	assert.Equal(t, types.SignalExecuted, store.statuses["sig-1"])
}

func TestExecuteSignal_MissingConnectorRejects(t *testing.T) {
	store := newFakeStore()
	e := New(store)

	out, err := e.ExecuteSignal(testSignal())
	require.NoError(t, err)
	assert.Equal(t, types.SignalExpired, out.Status)
	assert.Contains(t, out.LastRejectionReason, "no broker connector")
}

func TestExecuteSignal_BrokerErrorRejectsWithReason(t *testing.T) {
	store := newFakeStore()
	conn := BrokerConnector{
		Type: "paper",
		Execute: func(sig types.Signal) (types.ExecutionResult, error) {
			return types.ExecutionResult{}, errors.New("connection refused")
		},
	}
	e := New(store, conn)

	out, err := e.ExecuteSignal(testSignal())
	require.NoError(t, err)
	assert.Equal(t, types.SignalExpired, out.Status)
	assert.Equal(t, "connection refused", out.LastRejectionReason)
}

func TestExecuteSignal_UnsuccessfulResultRejectsWithBrokerReason(t *testing.T) {
	store := newFakeStore()
	conn := BrokerConnector{
		Type: "paper",
		Execute: func(sig types.Signal) (types.ExecutionResult, error) {
			return types.ExecutionResult{Success: false, Reason: "insufficient margin"}, nil
		},
	}
	e := New(store, conn)

	out, err := e.ExecuteSignal(testSignal())
	require.NoError(t, err)
	assert.Equal(t, types.SignalExpired, out.Status)
	assert.Equal(t, "insufficient margin", out.LastRejectionReason)
}

func TestRegisterConnector_ReplacesExisting(t *testing.T) {
	store := newFakeStore()
	calls := 0
	e := New(store, BrokerConnector{Type: "paper", Execute: func(types.Signal) (types.ExecutionResult, error) {
		calls++
		return types.ExecutionResult{Success: true}, nil
	}})
	e.RegisterConnector(BrokerConnector{Type: "paper", Execute: func(types.Signal) (types.ExecutionResult, error) {
		return types.ExecutionResult{Success: true, Ticket: "replaced"}, nil
	}})

	_, err := e.ExecuteSignal(testSignal())
	require.NoError(t, err)
	assert.Equal(t, 0, calls, "original connector must no longer be invoked after replacement")
}
