// Package types holds the data model shared across every Engine component.
package types

import "time"

// Regime is the discrete market state produced by the classifier.
// Ordered by aggressiveness for cross-stream aggregation:
// CRASH > TREND > NORMAL > RANGE.
type Regime int

const (
	RegimeNone Regime = iota
	RegimeRange
	RegimeNormal
	RegimeTrend
	RegimeCrash
)

func (r Regime) String() string {
	switch r {
	case RegimeRange:
		return "RANGE"
	case RegimeNormal:
		return "NORMAL"
	case RegimeTrend:
		return "TREND"
	case RegimeCrash:
		return "CRASH"
	default:
		return "NONE"
	}
}

// aggressiveness gives the total order CRASH > TREND > NORMAL > RANGE used
// by the orchestrator to pick the dominant regime across scan snapshots.
func (r Regime) aggressiveness() int {
	switch r {
	case RegimeCrash:
		return 3
	case RegimeTrend:
		return 2
	case RegimeNormal:
		return 1
	case RegimeRange:
		return 0
	default:
		return -1
	}
}

// MoreAggressive reports whether r is strictly more aggressive than other.
func (r Regime) MoreAggressive(other Regime) bool {
	return r.aggressiveness() > other.aggressiveness()
}

// Bar is one immutable OHLC candle produced by a Data Provider.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Bias is the directional tilt derived from price vs. the long SMA.
type Bias string

const (
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
)

// Metrics is the classifier's per-classify-call output payload, also used
// as the metrics dict of a persisted market-state snapshot.
type Metrics struct {
	ADX              float64
	ATRPercent       float64
	VolatilityShock  bool
	SMADistance      float64
	Bias             Bias
}

// ScanSnapshot is the Scanner's in-memory and persisted record for one
// (symbol, timeframe) key.
type ScanSnapshot struct {
	Symbol    string
	Timeframe string
	Regime    Regime
	Metrics   Metrics
	Bars      []Bar
	LastScan  time.Time // wall-clock, for persistence/display only
}

// Key returns the canonical "symbol|timeframe" scan-snapshot key.
func (s ScanSnapshot) Key() string {
	return s.Symbol + "|" + s.Timeframe
}

// SignalType is the direction of a generated trading signal.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
)

// SignalStatus tracks a signal's lifecycle.
type SignalStatus string

const (
	SignalPending  SignalStatus = "PENDING"
	SignalExecuted SignalStatus = "EXECUTED"
	SignalExpired  SignalStatus = "EXPIRED"
	SignalClosed   SignalStatus = "CLOSED"
)

// Signal is produced by the Signal Factory and validated by the Risk
// Manager before execution.
type Signal struct {
	ID            string
	Symbol        string
	Type          SignalType
	Timeframe     string
	EntryPrice    float64
	StopLoss      float64
	TakeProfit    float64
	Confidence    float64
	StrategyID    string
	ConnectorType string
	Regime        Regime
	Metadata      map[string]string
	Timestamp     time.Time
	TraceID       string
	Status        SignalStatus

	// LastRejectionReason is set by the Risk Manager or Executor when a
	// signal is blocked or fails, surfaced to operators per §7.
	LastRejectionReason string
}

// ExitReason classifies why a broker closed a position.
type ExitReason string

const (
	ExitStopLoss    ExitReason = "stop_loss_hit"
	ExitTakeProfit  ExitReason = "take_profit_hit"
	ExitManualClose ExitReason = "manual_close"
	ExitOther       ExitReason = "other"
)

// TradeOutcome is the win/loss/breakeven classification of a closed trade.
type TradeOutcome string

const (
	OutcomeWin       TradeOutcome = "WIN"
	OutcomeLoss      TradeOutcome = "LOSS"
	OutcomeBreakeven TradeOutcome = "BREAKEVEN"
)

// TradeResult is a normalized, idempotently-keyed closed-trade record.
type TradeResult struct {
	Ticket     string // idempotence key
	SignalID   string
	Symbol     string
	EntryPrice float64
	ExitPrice  float64
	EntryTime  time.Time
	ExitTime   time.Time
	ProfitLoss float64
	Pips       float64
	ExitReason ExitReason
	Result     TradeOutcome
	BrokerID   string
	Metadata   map[string]string
}

// BrokerTradeClosedEvent is the normalized event a Broker Connector
// delivers to the Trade Closure Listener.
type BrokerTradeClosedEvent struct {
	Kind       string // must equal "TRADE_CLOSED"
	Ticket     string
	SignalID   string
	Symbol     string
	EntryPrice float64
	ExitPrice  float64
	EntryTime  time.Time
	ExitTime   time.Time
	ProfitLoss float64
	Pips       float64
	Result     TradeOutcome
	ExitReason ExitReason
	BrokerID   string
	Metadata   map[string]string
}

const EventKindTradeClosed = "TRADE_CLOSED"

// SessionStats are the daily pipeline counters reconstructed from Storage
// on boot.
type SessionStats struct {
	Date             string // YYYY-MM-DD
	SignalsProcessed int
	SignalsExecuted  int
	CyclesCompleted  int
	ErrorsCount      int
}

// ModuleName enumerates hot-reloadable Engine modules for the toggle table.
type ModuleName string

const (
	ModuleScanner         ModuleName = "scanner"
	ModuleExecutor        ModuleName = "executor"
	ModulePositionManager ModuleName = "position_manager"
	ModuleRiskManager     ModuleName = "risk_manager"
)

// ExecutionMode is the shadow-ranking gate per strategy (§4.5 Strategy
// execution gate).
type ExecutionMode string

const (
	ExecutionLive       ExecutionMode = "LIVE"
	ExecutionShadow     ExecutionMode = "SHADOW"
	ExecutionQuarantine ExecutionMode = "QUARANTINE"
)

// Position is an open broker position (Broker Connector interface, §6).
type Position struct {
	Ticket       string
	Symbol       string
	SignalID     string
	EntryPrice   float64
	CurrentPrice float64
	StopLoss     float64
	TakeProfit   float64
	OpenedAt     time.Time
	Volume       float64
}

// ExecutionResult is returned by a Broker Connector's execute_order call.
type ExecutionResult struct {
	Success bool
	Ticket  string
	Reason  string
}

// TuningAdjustment records one EDGE Tuner decision (§4.7).
type TuningAdjustment struct {
	ID        string
	Timestamp time.Time
	OldParams map[string]float64
	NewParams map[string]float64
	WinRate   float64
	Trigger   string // "consecutive_losses" | "low_win_rate" | "high_win_rate" | "none"
	Skipped   bool
	SkipReason string
}
