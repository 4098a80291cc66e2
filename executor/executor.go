// Package executor implements the Order Executor (spec §4.5 step 10):
// translates accepted signals into broker orders and records rejection
// reasons.
//
// The audit-before-execute idiom (always record the attempt, even a
// rejected one) is grounded in the teacher's
// executeDecisionWithRecord/ExecuteDecision pair in auto_trader.go,
// generalized from per-exchange branches to spec §6's normalized Broker
// Connector interface.
package executor

import (
	"fmt"

	"tradeengine/internal/obs/log"
	"tradeengine/types"
)

// BrokerConnector is the normalized interface consumed per spec §6.
// Execute is required; the remaining fields are optional hooks a
// concrete connector may wire up, and are skipped when nil — the
// Position Manager pass and the closed-event drain (spec §4.5 steps 4
// and 11) both tolerate a connector that only executes orders.
type BrokerConnector struct {
	Type    string
	Execute func(sig types.Signal) (types.ExecutionResult, error)

	// OpenPositions lists currently open positions for the Position
	// Manager's stale-position pass.
	OpenPositions func() ([]types.Position, error)
	// AdjustPosition moves a position's stop-loss/take-profit.
	AdjustPosition func(ticket string, stopLoss, takeProfit float64) error
	// ClosePosition force-closes a stale position.
	ClosePosition func(ticket string) error
	// PollClosedEvents drains broker-reported trade-closed events since
	// the last poll, for the Orchestrator to dispatch to the Listener.
	PollClosedEvents func() ([]types.BrokerTradeClosedEvent, error)
}

// SignalPersister is the Storage collaborator used when the Executor
// self-persists (spec §4.5 step 10 "persist signal if executor does not
// self-persist" — this Executor always self-persists, so the
// Orchestrator never needs to duplicate the write).
type SignalPersister interface {
	SaveSignal(sig types.Signal) error
	UpdateSignalStatus(id string, status types.SignalStatus, rejectionReason string) error
}

// Executor routes validated signals to the broker registered under the
// signal's ConnectorType.
type Executor struct {
	connectors map[string]BrokerConnector
	store      SignalPersister
}

func New(store SignalPersister, connectors ...BrokerConnector) *Executor {
	m := make(map[string]BrokerConnector, len(connectors))
	for _, c := range connectors {
		m[c.Type] = c
	}
	return &Executor{connectors: m, store: store}
}

// RegisterConnector adds or replaces a broker connector.
func (e *Executor) RegisterConnector(c BrokerConnector) {
	e.connectors[c.Type] = c
}

// Connectors returns every registered broker connector, consumed by the
// Orchestrator's Position Manager pass and closed-event drain (spec §4.5
// steps 4 and 11), which must visit every connector, not just the one a
// given signal targets.
func (e *Executor) Connectors() []BrokerConnector {
	out := make([]BrokerConnector, 0, len(e.connectors))
	for _, c := range e.connectors {
		out = append(out, c)
	}
	return out
}

// ExecuteSignal implements spec §4.5 step 10's execute_signal: persist
// PENDING first (audit-before-execute), dispatch to the broker, then
// persist the resulting status. A failure to find or invoke the
// connector is recorded as a rejection, not silently dropped.
func (e *Executor) ExecuteSignal(sig types.Signal) (types.Signal, error) {
	if err := e.store.SaveSignal(sig); err != nil {
		return sig, fmt.Errorf("executor: persist pending signal %s: %w", sig.ID, err)
	}

	conn, ok := e.connectors[sig.ConnectorType]
	if !ok {
		sig.LastRejectionReason = fmt.Sprintf("no broker connector registered for %q", sig.ConnectorType)
		sig.Status = types.SignalExpired
		_ = e.store.UpdateSignalStatus(sig.ID, sig.Status, sig.LastRejectionReason)
		return sig, nil
	}

	result, err := conn.Execute(sig)
	if err != nil {
		sig.LastRejectionReason = err.Error()
		sig.Status = types.SignalExpired
		_ = e.store.UpdateSignalStatus(sig.ID, sig.Status, sig.LastRejectionReason)
		log.Warnf("executor: execute signal %s via %s failed: %v", sig.ID, sig.ConnectorType, err)
		return sig, nil
	}

	if !result.Success {
		sig.LastRejectionReason = result.Reason
		sig.Status = types.SignalExpired
		_ = e.store.UpdateSignalStatus(sig.ID, sig.Status, sig.LastRejectionReason)
		return sig, nil
	}

	sig.Status = types.SignalExecuted
	if err := e.store.UpdateSignalStatus(sig.ID, sig.Status, ""); err != nil {
		log.Warnf("executor: persist executed status for %s failed: %v", sig.ID, err)
	}
	return sig, nil
}
