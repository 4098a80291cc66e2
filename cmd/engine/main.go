// Command engine is the Trading Engine's composition root: it wires
// Storage, the Data Provider Manager, the Scanner, Signal Factory, Risk
// Manager, Order Executor, Trade Closure Listener, EDGE Tuner, and Main
// Orchestrator together, then runs until SIGINT/SIGTERM.
//
// The explicit composition-root pattern (construct every collaborator
// here, pass them in by constructor rather than reaching for package-
// level globals or lazy singletons) follows spec §9's re-architecture
// note away from the teacher's mix of package-level state and ad hoc
// lazy init.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"tradeengine/executor"
	"tradeengine/internal/config"
	"tradeengine/internal/obs/log"
	"tradeengine/internal/sysmon"
	"tradeengine/listener"
	"tradeengine/orchestrator"
	"tradeengine/provider"
	"tradeengine/risk"
	"tradeengine/scanner"
	tradesignal "tradeengine/signal"
	"tradeengine/storage"
	"tradeengine/tuner"
)

const account = "default"

func main() {
	cfg := config.Load(".env")
	log.Configure(os.Getenv("ENGINE_LOG_JSON") == "1", os.Stdout)

	store, err := storage.Open(cfg.DatabasePath, cfg.CredentialEncryptionKeyHex)
	if err != nil {
		log.Error(err, "engine: open storage failed")
		os.Exit(1)
	}
	defer store.Close()

	mgr, err := buildProviderManager(store, cfg)
	if err != nil {
		log.Error(err, "engine: build provider manager failed")
		os.Exit(1)
	}

	assets := assetUniverse(store)
	cpuSampler := sysmon.NewSampler()

	scan := scanner.New(cfg.Scanner, cfg.Classifier, scanner.ModeStandard, mgr, store, store, cpuSampler.Percent, account, assets)

	dynamicParams, err := store.GetDynamicParams()
	if err != nil {
		log.Warnf("engine: get_dynamic_params failed, using defaults: %v", err)
	}
	factory := tradesignal.New(trendFollowFromParams(dynamicParams))

	riskSettings, err := store.GetRiskSettings()
	if err != nil {
		log.Warnf("engine: get_risk_settings failed, using defaults: %v", err)
		riskSettings = storage.DefaultRiskSettings()
	}
	riskMgr := risk.New(riskSettings)

	exec := executor.New(store)
	// Broker connectors are a per-deployment wiring concern (broker wire
	// adapters are out of this module's scope); operators register them
	// via exec.RegisterConnector before Run.

	tun := tuner.New(cfg.Tuner, store)
	listen := listener.New(cfg.Listener, store, riskMgr, tun)

	orch := orchestrator.New(cfg.Orchestrator, account, scan, store, riskMgr, factory, exec, listen)
	orch.Restore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go scan.Run(ctx)
	log.Infof("engine: started (account=%s, assets=%d)", account, len(assets))
	orch.Run(ctx)

	scan.Stop()
	log.Infof("engine: shutdown complete")
}

// trendFollowFromParams seeds the default TrendFollowStrategy from the
// persisted dynamic_params (spec §4.7 "concurrent strategies reload
// parameters from Storage before next signal generation" — here at
// startup; live reload is the strategy's own responsibility per the
// Strategy interface contract).
func trendFollowFromParams(params map[string]float64) *tradesignal.TrendFollowStrategy {
	adx := params["adx_threshold"]
	if adx == 0 {
		adx = 25
	}
	atrMult := params["atr_multiplier"]
	if atrMult == 0 {
		atrMult = 1.5
	}
	return tradesignal.NewTrendFollowStrategy("trend_follow_v1", adx, atrMult, atrMult*2, 0.5)
}

// assetUniverse returns the configured symbol universe from the symbol
// map, falling back to a small default set when Storage has none yet.
func assetUniverse(store *storage.Store) []string {
	entries, err := store.GetSymbolMap("")
	if err != nil || len(entries) == 0 {
		return []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	}
	seen := make(map[string]bool)
	var out []string
	for _, e := range entries {
		if !seen[e.InternalSymbol] {
			seen[e.InternalSymbol] = true
			out = append(out, e.InternalSymbol)
		}
	}
	return out
}

// buildProviderManager constructs concrete Data Provider sources from
// Storage's registered provider rows and the credential-holding Config,
// implementing spec §4.3's "providers enumerated ... credentials"
// contract for the composition root.
func buildProviderManager(store *storage.Store, cfg config.Config) (*provider.Manager, error) {
	load := func() ([]provider.Meta, map[string]provider.Source, error) {
		records, err := store.GetDataProviders()
		if err != nil {
			return nil, nil, err
		}
		metas := make([]provider.Meta, 0, len(records))
		sources := make(map[string]provider.Source, len(records))
		for _, rec := range records {
			src := buildSource(rec, cfg)
			if src == nil {
				continue
			}
			metas = append(metas, provider.Meta{
				ID:             rec.ID,
				Enabled:        rec.Enabled,
				Priority:       rec.Priority,
				RequiresAuth:   rec.RequiresAuth,
				HasCredentials: len(rec.Credentials) > 0 || !rec.RequiresAuth,
				IsSystem:       rec.IsSystem,
			})
			sources[rec.ID] = src
		}
		return metas, sources, nil
	}

	mgr, err := provider.NewManager(load)
	if err != nil {
		return nil, err
	}
	mgr.SetDefaultFreeProvider(
		provider.Meta{ID: "binance_public", Enabled: true, Priority: 0, IsSystem: true},
		provider.NewBinanceSource("", ""),
	)
	return mgr, nil
}

func buildSource(rec storage.DataProviderRecord, cfg config.Config) provider.Source {
	switch rec.Kind {
	case "binance":
		key, secret := cfg.BinanceAPIKey, cfg.BinanceAPISecret
		if v := rec.Credentials["api_key"]; v != "" {
			key = v
		}
		if v := rec.Credentials["api_secret"]; v != "" {
			secret = v
		}
		return provider.NewBinanceSource(key, secret)
	case "bybit":
		key, secret := cfg.BybitAPIKey, cfg.BybitAPISecret
		if v := rec.Credentials["api_key"]; v != "" {
			key = v
		}
		if v := rec.Credentials["api_secret"]; v != "" {
			secret = v
		}
		return provider.NewBybitSource(key, secret)
	case "hyperliquid":
		return provider.NewHyperliquidSource(rec.Credentials["testnet"] == "true")
	case "streaming":
		return provider.NewStreamingSource(rec.Credentials["ws_url"], 500)
	default:
		return nil
	}
}
