// Package config loads the Engine's configuration defaults (spec §6) and
// layers environment overrides on top, following the teacher's
// literal-default-struct convention (store.GetDefaultStrategyConfig,
// market.Config) plus godotenv .env loading at process start.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// ScannerConfig mirrors spec §6 Scanner configuration.
type ScannerConfig struct {
	CPULimitPercent    float64
	SleepTrendSeconds  float64
	SleepRangeSeconds  float64
	SleepNeutralSeconds float64
	SleepCrashSeconds  float64
	BaseSleepSeconds   float64
	MaxSleepMultiplier float64
	BarsCount          int
	Timeframes         []TimeframeConfig
}

type TimeframeConfig struct {
	Timeframe string
	Enabled   bool
}

// ClassifierConfig mirrors spec §6 Classifier configuration.
type ClassifierConfig struct {
	ADXPeriod                 int
	SMAPeriod                 int
	ADXTrendThreshold         float64
	ADXRangeThreshold         float64
	ADXRangeExitThreshold     float64
	VolatilityShockMultiplier float64
	ShockLookback             int
	MinVolatilityATRPeriod    int
	PersistenceCandles        int
}

// OrchestratorConfig mirrors spec §6 Orchestrator configuration.
type OrchestratorConfig struct {
	LoopIntervalTrendSeconds    float64
	LoopIntervalRangeSeconds    float64
	LoopIntervalVolatileSeconds float64
	LoopIntervalShockSeconds    float64
	MinSleepIntervalSeconds     float64
	PositionStaleAfterSeconds   float64
	PositionSLTPAdjustPercent   float64
}

// ListenerConfig mirrors spec §6 Listener configuration.
type ListenerConfig struct {
	MaxRetries            int
	RetryBackoffSeconds   float64
	TunerEveryNTrades     int
	TunerConsecutiveLossThreshold int
}

// BackupConfig mirrors spec §6 Backup configuration.
type BackupConfig struct {
	Enabled       bool
	BackupDir     string
	IntervalDays  int
	RetentionDays int
}

// TunerConfig bounds the EDGE Tuner's parameter drift (spec §4.7).
type TunerConfig struct {
	LimitTrades            int
	MinTradesForTuning     int
	ConservativeThreshold  float64 // win rate below this -> conservative
	AggressiveThreshold    float64 // win rate above this -> permissive
	ConsecutiveLossThreshold int
	MaxAdjustmentFactor    float64 // cap on cumulative relative drift, e.g. 0.2 = 20%
}

// Config is the full Engine configuration, assembled from defaults and
// environment overrides.
type Config struct {
	DatabasePath string
	Scanner      ScannerConfig
	Classifier   ClassifierConfig
	Orchestrator OrchestratorConfig
	Listener     ListenerConfig
	Backup       BackupConfig
	Tuner        TunerConfig

	BinanceAPIKey    string
	BinanceAPISecret string
	BybitAPIKey      string
	BybitAPISecret   string

	CredentialEncryptionKeyHex string // 32-byte key, hex-encoded, for storage.Encrypt
}

// Default returns the spec's §6 default configuration.
func Default() Config {
	return Config{
		DatabasePath: "engine.db",
		Scanner: ScannerConfig{
			CPULimitPercent:     80,
			SleepTrendSeconds:   1,
			SleepRangeSeconds:   10,
			SleepNeutralSeconds: 5,
			SleepCrashSeconds:   1,
			BaseSleepSeconds:    1,
			MaxSleepMultiplier:  5,
			BarsCount:           500,
			Timeframes: []TimeframeConfig{
				{Timeframe: "M5", Enabled: true},
				{Timeframe: "M15", Enabled: true},
				{Timeframe: "H1", Enabled: true},
			},
		},
		Classifier: ClassifierConfig{
			ADXPeriod:                 14,
			SMAPeriod:                 200,
			ADXTrendThreshold:         25,
			ADXRangeThreshold:         20,
			ADXRangeExitThreshold:     18,
			VolatilityShockMultiplier: 5.0,
			ShockLookback:             5,
			MinVolatilityATRPeriod:    50,
			PersistenceCandles:        2,
		},
		Orchestrator: OrchestratorConfig{
			LoopIntervalTrendSeconds:    5,
			LoopIntervalRangeSeconds:    30,
			LoopIntervalVolatileSeconds: 15,
			LoopIntervalShockSeconds:    60,
			MinSleepIntervalSeconds:     3,
			PositionStaleAfterSeconds:   3600,
			PositionSLTPAdjustPercent:   0.5,
		},
		Listener: ListenerConfig{
			MaxRetries:                    3,
			RetryBackoffSeconds:           0.5,
			TunerEveryNTrades:             5,
			TunerConsecutiveLossThreshold: 3,
		},
		Backup: BackupConfig{
			Enabled:       true,
			BackupDir:     "backups",
			IntervalDays:  1,
			RetentionDays: 15,
		},
		Tuner: TunerConfig{
			LimitTrades:              100,
			MinTradesForTuning:       10,
			ConservativeThreshold:    0.40,
			AggressiveThreshold:      0.65,
			ConsecutiveLossThreshold: 3,
			MaxAdjustmentFactor:      0.20,
		},
	}
}

// Load reads a .env file (if present, ignored if missing) and layers
// recognized environment variables over the default configuration.
func Load(envFile string) Config {
	if envFile != "" {
		_ = godotenv.Load(envFile) // missing .env is not an error, matches teacher's startup idiom
	}
	cfg := Default()

	if v := os.Getenv("ENGINE_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("ENGINE_SCANNER_CPU_LIMIT_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Scanner.CPULimitPercent = f
		}
	}
	cfg.BinanceAPIKey = os.Getenv("ENGINE_BINANCE_API_KEY")
	cfg.BinanceAPISecret = os.Getenv("ENGINE_BINANCE_API_SECRET")
	cfg.BybitAPIKey = os.Getenv("ENGINE_BYBIT_API_KEY")
	cfg.BybitAPISecret = os.Getenv("ENGINE_BYBIT_API_SECRET")
	cfg.CredentialEncryptionKeyHex = os.Getenv("ENGINE_CREDENTIAL_KEY_HEX")

	return cfg
}

// IntervalFor returns the scanner's per-regime rescan interval in seconds.
func (s ScannerConfig) IntervalFor(regimeLabel string) float64 {
	switch regimeLabel {
	case "TREND":
		return s.SleepTrendSeconds
	case "CRASH":
		return s.SleepCrashSeconds
	case "RANGE":
		return s.SleepRangeSeconds
	default:
		return s.SleepNeutralSeconds
	}
}

// HeartbeatFor returns the orchestrator's base adaptive-heartbeat sleep
// (spec §4.5a) in seconds for the given regime label.
func (o OrchestratorConfig) HeartbeatFor(regimeLabel string) float64 {
	switch regimeLabel {
	case "TREND":
		return o.LoopIntervalTrendSeconds
	case "RANGE":
		return o.LoopIntervalRangeSeconds
	case "CRASH":
		return o.LoopIntervalShockSeconds
	default:
		return o.LoopIntervalVolatileSeconds
	}
}
