// Package listener implements the Trade Closure Listener (spec §4.6): an
// idempotent, retrying event sink that ingests broker close events,
// persists them, updates risk state, and triggers the parameter tuner.
//
// The bounded-retry-with-backoff shape is grounded in the teacher's
// provider/data_provider.go retry loop, generalized into §4.6's strictly
// ordered six-step workflow.
package listener

import (
	"fmt"
	"sync"
	"time"

	"tradeengine/internal/config"
	"tradeengine/internal/obs/audit"
	"tradeengine/internal/obs/log"
	"tradeengine/internal/obs/metrics"
	"tradeengine/internal/werr"
	"tradeengine/types"
)

// Store is the Storage collaborator (spec §4.8 trade_exists,
// save_trade_result).
type Store interface {
	TradeExists(ticket string) (bool, error)
	SaveTradeResult(t types.TradeResult) error
}

// RiskUpdater is the Risk Manager collaborator (spec §4.6 step 4).
type RiskUpdater interface {
	RecordTradeResult(isWin bool, pnl float64)
	ConsecutiveLosses() int
	LockdownActive() bool
}

// Tuner is the EDGE Tuner collaborator invoked every N saved trades or
// on a consecutive-loss streak (spec §4.6 step 5).
type Tuner interface {
	Tune() error
}

// Counters mirrors the metrics surface spec §4.6 requires: processed /
// saved / failed / tuner_adjustments with a computed success_rate.
type Counters struct {
	Processed        int
	Saved            int
	Failed           int
	TunerAdjustments int
}

func (c Counters) SuccessRate() float64 {
	if c.Processed == 0 {
		return 0
	}
	return float64(c.Saved) / float64(c.Processed)
}

// Listener consumes BrokerTradeClosedEvent values and runs the ordered
// §4.6 workflow for each.
type Listener struct {
	cfg   config.ListenerConfig
	store Store
	risk  RiskUpdater
	tuner Tuner

	mu            sync.Mutex
	counters      Counters
	savedSinceTune int
}

func New(cfg config.ListenerConfig, store Store, risk RiskUpdater, tuner Tuner) *Listener {
	return &Listener{cfg: cfg, store: store, risk: risk, tuner: tuner}
}

// HandleTradeClosedEvent implements spec §4.6's ordered workflow exactly.
func (l *Listener) HandleTradeClosedEvent(event types.BrokerTradeClosedEvent) bool {
	l.mu.Lock()
	l.counters.Processed++
	l.mu.Unlock()
	metrics.ListenerProcessed.Inc()

	if event.Kind != types.EventKindTradeClosed {
		log.Warnf("listener: dropping event with unknown kind %q", event.Kind)
		return false
	}

	exists, err := l.store.TradeExists(event.Ticket)
	if err != nil {
		log.Error(err, "listener: trade_exists check failed")
		l.markFailed()
		return false
	}
	if exists {
		log.Infof("listener: ticket %s already recorded, idempotent accept", event.Ticket)
		return true
	}

	trade := types.TradeResult{
		Ticket:     event.Ticket,
		SignalID:   event.SignalID,
		Symbol:     event.Symbol,
		EntryPrice: event.EntryPrice,
		ExitPrice:  event.ExitPrice,
		EntryTime:  event.EntryTime,
		ExitTime:   event.ExitTime,
		ProfitLoss: event.ProfitLoss,
		Pips:       event.Pips,
		ExitReason: event.ExitReason,
		Result:     event.Result,
		BrokerID:   event.BrokerID,
		Metadata:   event.Metadata,
	}

	attempts, err := l.persistWithRetry(trade)
	if err != nil {
		log.Error(err, "listener: persist failed after retries")
		l.markFailed()
		return false
	}

	isWin := trade.Result == types.OutcomeWin
	l.risk.RecordTradeResult(isWin, trade.ProfitLoss)
	losses, lockdown := l.risk.ConsecutiveLosses(), l.risk.LockdownActive()

	everyN := l.cfg.TunerEveryNTrades
	if everyN <= 0 {
		everyN = 5
	}
	lossThreshold := l.cfg.TunerConsecutiveLossThreshold
	if lossThreshold <= 0 {
		lossThreshold = 3
	}

	l.mu.Lock()
	l.counters.Saved++
	l.savedSinceTune++
	shouldTune := l.savedSinceTune >= everyN || losses >= lossThreshold
	if shouldTune {
		l.savedSinceTune = 0
	}
	l.mu.Unlock()

	metrics.ListenerSaved.Inc()

	if shouldTune {
		l.triggerTuner()
	}

	audit.TradeClosed(trade.Ticket, trade.Symbol, trade.ProfitLoss, string(trade.Result), attempts)

	log.Infof("listener: recorded trade %s (%s, pnl=%.2f), lockdown=%v", trade.Ticket, trade.Result, trade.ProfitLoss, lockdown)
	return true
}

// persistWithRetry implements spec §4.6 step 3: up to max_retries
// attempts, retrying only on lock/busy-classified errors with
// retry_backoff*(attempt+1) sleep between tries.
func (l *Listener) persistWithRetry(trade types.TradeResult) (attempts int, err error) {
	maxRetries := l.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoff := time.Duration(l.cfg.RetryBackoffSeconds * float64(time.Second))

	for attempt := 0; attempt < maxRetries; attempt++ {
		attempts = attempt + 1
		err = l.store.SaveTradeResult(trade)
		if err == nil {
			return attempts, nil
		}
		if werr.Classify(err, "locked", "busy") != werr.Retryable {
			return attempts, err
		}
		log.Warnf("listener: persist ticket %s locked, retrying (attempt %d/%d)", trade.Ticket, attempts, maxRetries)
		time.Sleep(backoff * time.Duration(attempt+1))
	}
	return attempts, fmt.Errorf("listener: persist ticket %s: exhausted %d retries: %w", trade.Ticket, maxRetries, err)
}

func (l *Listener) triggerTuner() {
	if l.tuner == nil {
		return
	}
	if err := l.tuner.Tune(); err != nil {
		log.Warnf("listener: tuner invocation failed: %v", err)
		return
	}
	l.mu.Lock()
	l.counters.TunerAdjustments++
	l.mu.Unlock()
	metrics.TunerAdjustments.Inc()
}

func (l *Listener) markFailed() {
	l.mu.Lock()
	l.counters.Failed++
	l.mu.Unlock()
	metrics.ListenerFailed.Inc()
}

// Counters returns a snapshot of the listener's processed/saved/failed/
// tuner_adjustments metrics.
func (l *Listener) Counters() Counters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counters
}
