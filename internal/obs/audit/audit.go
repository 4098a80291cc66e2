// Package audit emits durable, structured audit records for the Trade
// Closure Listener (spec §4.6 step 6) and the EDGE Tuner's adjustment
// record. It is deliberately separate from internal/obs/log: the teacher
// carries both rs/zerolog and sirupsen/logrus in its dependency graph, one
// per purpose — zerolog for operational logging, logrus-shaped structured
// fields for durable, audit-grade events.
package audit

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu     sync.RWMutex
	logger = newDefault()
)

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetOutput(os.Stdout)
	return l
}

// SetOutput redirects the audit sink, e.g. to a rotating file in
// production deployments.
func SetOutput(w *os.File) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

// TradeClosed emits the structured audit record for one closure event
// handled by the Trade Closure Listener.
func TradeClosed(ticket, symbol string, pnl float64, outcome string, retryAttempts int) {
	mu.RLock()
	defer mu.RUnlock()
	logger.WithFields(logrus.Fields{
		"event":          "trade_closed",
		"ticket":         ticket,
		"symbol":         symbol,
		"profit_loss":    pnl,
		"result":         outcome,
		"retry_attempts": retryAttempts,
	}).Info("trade closure processed")
}

// TuningAdjustment emits the structured audit record for one EDGE Tuner
// decision.
func TuningAdjustment(id, trigger string, skipped bool, winRate float64) {
	mu.RLock()
	defer mu.RUnlock()
	logger.WithFields(logrus.Fields{
		"event":    "tuning_adjustment",
		"id":       id,
		"trigger":  trigger,
		"skipped":  skipped,
		"win_rate": winRate,
	}).Info("tuning adjustment recorded")
}
